// Package merge converts change-feed notifications into board mutations.
// Every handler is idempotent: replaying a notification, or applying a
// redundant insert after the entity already landed, leaves the state
// unchanged. Updates arriving before their insert are applied as inserts
// so out-of-order delivery cannot drop data.
package merge

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"boardsync/board"
	"boardsync/conflict"
	"boardsync/domain"
)

// Engine merges remote notifications into the board, consulting the
// conflict resolver whenever an unconfirmed local edit and a remote change
// touch the same entity.
type Engine struct {
	logger   *log.Logger
	tasks    *conflict.Resolver[domain.Task]
	statuses *conflict.Resolver[domain.Status]

	mu            sync.Mutex
	localTasks    map[string]conflict.Versioned[domain.Task]
	localStatuses map[string]conflict.Versioned[domain.Status]
}

// New creates a merge engine with last-write-wins conflict resolution.
func New(logger *log.Logger) *Engine {
	return NewWithStrategies(logger, nil, nil)
}

// NewWithStrategies creates a merge engine with custom resolution strategies.
// Nil strategies default to last-write-wins.
func NewWithStrategies(logger *log.Logger, tasks conflict.Strategy[domain.Task], statuses conflict.Strategy[domain.Status]) *Engine {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Engine{
		logger:        logger,
		tasks:         conflict.New(tasks),
		statuses:      conflict.New(statuses),
		localTasks:    make(map[string]conflict.Versioned[domain.Task]),
		localStatuses: make(map[string]conflict.Versioned[domain.Status]),
	}
}

// TrackTask records a local optimistic task version awaiting confirmation.
// A subsequent remote change to the same task goes through the resolver.
func (e *Engine) TrackTask(id string, v conflict.Versioned[domain.Task]) {
	e.mu.Lock()
	e.localTasks[id] = v
	e.mu.Unlock()
}

// TrackStatus records a local optimistic status version awaiting confirmation.
func (e *Engine) TrackStatus(id string, v conflict.Versioned[domain.Status]) {
	e.mu.Lock()
	e.localStatuses[id] = v
	e.mu.Unlock()
}

// Confirm drops local tracking for an id once the persistence gateway has
// acknowledged the write.
func (e *Engine) Confirm(id string) {
	e.mu.Lock()
	delete(e.localTasks, id)
	delete(e.localStatuses, id)
	e.mu.Unlock()
}

// Reset discards all tracked optimistic versions. Called when the board is
// resynced from authoritative storage, which supersedes any local state.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.localTasks = make(map[string]conflict.Versioned[domain.Task])
	e.localStatuses = make(map[string]conflict.Versioned[domain.Status])
	e.mu.Unlock()
}

// PendingConflicts reports how many ambiguous conflicts await manual
// resolution.
func (e *Engine) PendingConflicts() int {
	return e.tasks.Pending() + e.statuses.Pending()
}

// TaskConflicts returns the queued task conflicts.
func (e *Engine) TaskConflicts() []conflict.Conflict[domain.Task] {
	return e.tasks.Conflicts()
}

// ResolveTaskConflict applies caller-supplied data to a queued conflict and
// returns the resulting authoritative task.
func (e *Engine) ResolveTaskConflict(conflictID string, data domain.Task) (conflict.Versioned[domain.Task], bool) {
	return e.tasks.ResolveManually(conflictID, data)
}

// Apply merges one feed event into the snapshot and returns the new state.
// Events the engine cannot make sense of degrade to no-ops.
func (e *Engine) Apply(state *domain.Board, ev domain.FeedEvent) *domain.Board {
	switch ev.Table {
	case domain.FeedTableTasks:
		return e.applyTask(state, ev)
	case domain.FeedTableStatuses:
		return e.applyStatus(state, ev)
	default:
		e.logger.WithField("table", ev.Table).Debug("dropping feed event for unknown table")
		return state
	}
}

func (e *Engine) applyTask(state *domain.Board, ev domain.FeedEvent) *domain.Board {
	ix := board.BuildIndex(state)
	switch ev.Event {
	case domain.FeedInsert:
		if ev.Task == nil || ix.HasTask(ev.ID) {
			// Local optimistic insert already landed, or malformed event.
			return state
		}
		return board.Apply(state, domain.Mutation{Kind: domain.MutationAddTask, Task: ev.Task})

	case domain.FeedUpdate:
		if ev.Task == nil {
			return state
		}
		if !ix.HasTask(ev.ID) {
			// Update raced ahead of its insert: apply it as an insert so
			// the entity still appears with the updated fields.
			return board.Apply(state, domain.Mutation{Kind: domain.MutationAddTask, Task: ev.Task})
		}
		remote := conflict.Versioned[domain.Task]{
			Data:      *ev.Task,
			Version:   ev.Task.Version,
			UpdatedAt: ev.Task.UpdatedAt,
			UpdatedBy: ev.Task.UpdatedBy,
		}
		if local, tracked := e.trackedTask(ev.ID); tracked {
			_, outcome := e.tasks.Resolve(ev.ID, local, remote)
			if outcome == conflict.OutcomeLocal {
				e.logger.WithField("task", ev.ID).Debug("local optimistic edit won over remote update")
				return state
			}
			if outcome == conflict.OutcomeAmbiguous {
				e.logger.WithField("task", ev.ID).Warn("concurrent edit queued for manual resolution")
			}
			e.Confirm(ev.ID)
		}
		return board.Apply(state, domain.Mutation{
			Kind:      domain.MutationUpdateTask,
			ID:        ev.ID,
			TaskPatch: taskPatch(ev.Task),
		})

	case domain.FeedDelete:
		e.Confirm(ev.ID)
		return board.Apply(state, domain.Mutation{Kind: domain.MutationDeleteTask, ID: ev.ID})

	default:
		e.logger.WithField("event", ev.Event).Debug("dropping unknown task feed event")
		return state
	}
}

func (e *Engine) applyStatus(state *domain.Board, ev domain.FeedEvent) *domain.Board {
	ix := board.BuildIndex(state)
	switch ev.Event {
	case domain.FeedInsert:
		if ev.Status == nil || ix.HasStatus(ev.ID) {
			return state
		}
		return board.Apply(state, domain.Mutation{Kind: domain.MutationAddStatus, Status: ev.Status})

	case domain.FeedUpdate:
		if ev.Status == nil {
			return state
		}
		if !ix.HasStatus(ev.ID) {
			return board.Apply(state, domain.Mutation{Kind: domain.MutationAddStatus, Status: ev.Status})
		}
		if local, tracked := e.trackedStatus(ev.ID); tracked {
			remote := conflict.Versioned[domain.Status]{Data: *ev.Status}
			if _, outcome := e.statuses.Resolve(ev.ID, local, remote); outcome == conflict.OutcomeLocal {
				return state
			}
			e.Confirm(ev.ID)
		}
		return board.Apply(state, domain.Mutation{
			Kind:        domain.MutationUpdateStatus,
			ID:          ev.ID,
			StatusPatch: &domain.StatusPatch{Title: &ev.Status.Title, Order: &ev.Status.Order},
		})

	case domain.FeedDelete:
		e.Confirm(ev.ID)
		return board.Apply(state, domain.Mutation{Kind: domain.MutationDeleteStatus, ID: ev.ID})

	default:
		e.logger.WithField("event", ev.Event).Debug("dropping unknown status feed event")
		return state
	}
}

func (e *Engine) trackedTask(id string) (conflict.Versioned[domain.Task], bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.localTasks[id]
	return v, ok
}

func (e *Engine) trackedStatus(id string) (conflict.Versioned[domain.Status], bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.localStatuses[id]
	return v, ok
}

func taskPatch(t *domain.Task) *domain.TaskPatch {
	return &domain.TaskPatch{
		StatusID:    &t.StatusID,
		Title:       &t.Title,
		Description: &t.Description,
		Priority:    &t.Priority,
		Tags:        &t.Tags,
		Assignee:    &t.Assignee,
		DueDate:     &t.DueDate,
		Order:       &t.Order,
		Version:     &t.Version,
		UpdatedAt:   &t.UpdatedAt,
		UpdatedBy:   &t.UpdatedBy,
	}
}
