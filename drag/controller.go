package drag

import (
	log "github.com/sirupsen/logrus"

	"boardsync/board"
	"boardsync/domain"
)

// TargetKind identifies what the cursor is over when a drag ends.
type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetTask
	TargetStatus
)

// DropTarget is the entity under the cursor at drop time.
type DropTarget struct {
	Kind TargetKind
	ID   string
}

// ApplyFunc applies an optimistic mutation and returns the new snapshot.
type ApplyFunc func(domain.Mutation) *domain.Board

// SubmitFunc hands a persistence intent to the gateway path. Fire and
// forget: failures are recovered by resync, not reported back here.
type SubmitFunc func(domain.Intent)

type dragKind int

const (
	dragNone dragKind = iota
	dragTask
	dragStatus
)

// Controller runs the idle -> dragging -> idle state machine. It is driven
// from a single event loop and is not safe for concurrent use.
type Controller struct {
	logger *log.Logger
	apply  ApplyFunc
	submit SubmitFunc

	snapshot *domain.Board
	index    *board.Index

	dragging dragKind
	dragID   string
}

// NewController creates a controller over the given snapshot source.
func NewController(apply ApplyFunc, submit SubmitFunc, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Controller{logger: logger, apply: apply, submit: submit}
}

// SetSnapshot adopts a new board snapshot and rebuilds the flattened id
// index. Must be called on every snapshot change.
func (c *Controller) SetSnapshot(b *domain.Board) {
	c.snapshot = b
	c.index = board.BuildIndex(b)
	if c.dragging == dragTask && !c.index.HasTask(c.dragID) {
		// The dragged task was deleted remotely mid-gesture.
		c.reset()
	}
	if c.dragging == dragStatus && !c.index.HasStatus(c.dragID) {
		c.reset()
	}
}

// Dragging reports whether a drag session is active.
func (c *Controller) Dragging() bool {
	return c.dragging != dragNone
}

// DragStart enters the dragging state for the task or status with the given
// id. It reports false when the id is not resident on the board.
func (c *Controller) DragStart(id string) bool {
	if c.index == nil {
		return false
	}
	switch {
	case c.index.HasTask(id):
		c.dragging = dragTask
	case c.index.HasStatus(id):
		c.dragging = dragStatus
	default:
		c.logger.WithField("id", id).Debug("drag start for unknown entity ignored")
		return false
	}
	c.dragID = id
	return true
}

// Cancel abandons the current drag without mutating anything.
func (c *Controller) Cancel() {
	c.reset()
}

// DragEnd resolves the drop, applies the optimistic mutation and emits the
// matching persistence intent. A drop with no target, or onto the dragged
// entity itself, is a no-op.
func (c *Controller) DragEnd(target DropTarget) {
	defer c.reset()
	if c.dragging == dragNone || target.Kind == TargetNone || target.ID == c.dragID {
		return
	}

	if c.dragging == dragStatus {
		if target.Kind == TargetStatus {
			c.dropStatus(target.ID)
		}
		return
	}
	c.dropTask(target)
}

func (c *Controller) dropStatus(overID string) {
	src, ok := c.index.Status(c.dragID)
	dst, ok2 := c.index.Status(overID)
	if !ok || !ok2 {
		return
	}
	if src.Order == dst.Order {
		return
	}

	ordered := make([]string, 0, len(c.snapshot.Statuses))
	for _, st := range c.snapshot.Statuses {
		if st.ID == c.dragID {
			continue
		}
		ordered = append(ordered, st.ID)
	}
	idx := dst.Order
	if idx > len(ordered) {
		idx = len(ordered)
	}
	ordered = append(ordered, "")
	copy(ordered[idx+1:], ordered[idx:])
	ordered[idx] = c.dragID

	m := domain.Mutation{Kind: domain.MutationReorderStatuses, OrderedIDs: ordered}
	c.adopt(c.apply(m))
	c.submit(domain.Intent{Kind: domain.IntentMutate, Mutation: &m})
}

func (c *Controller) dropTask(target DropTarget) {
	task, ok := c.index.Task(c.dragID)
	if !ok {
		return
	}
	sourceStatusID := task.StatusID

	var targetStatusID string
	var targetIndex int
	switch target.Kind {
	case TargetTask:
		over, ok := c.index.Task(target.ID)
		if !ok {
			return
		}
		targetStatusID = over.StatusID
		targetIndex = over.Order
	case TargetStatus:
		st, ok := c.index.Status(target.ID)
		if !ok {
			return
		}
		targetStatusID = st.ID
		if st.ID == sourceStatusID {
			// Dropping onto the body of the current column means "send to
			// the end".
			targetIndex = len(st.Tasks) - 1
		} else {
			targetIndex = len(st.Tasks)
		}
	default:
		return
	}

	if targetStatusID == sourceStatusID {
		if targetIndex == task.Order {
			return
		}
		c.reorderWithin(sourceStatusID, targetIndex)
		return
	}
	c.moveAcross(targetStatusID, targetIndex)
}

func (c *Controller) reorderWithin(statusID string, targetIndex int) {
	st, ok := c.index.Status(statusID)
	if !ok {
		return
	}
	ordered := make([]string, 0, len(st.Tasks))
	for _, t := range st.Tasks {
		if t.ID == c.dragID {
			continue
		}
		ordered = append(ordered, t.ID)
	}
	if targetIndex < 0 {
		targetIndex = 0
	}
	if targetIndex > len(ordered) {
		targetIndex = len(ordered)
	}
	ordered = append(ordered, "")
	copy(ordered[targetIndex+1:], ordered[targetIndex:])
	ordered[targetIndex] = c.dragID

	next := c.apply(domain.Mutation{Kind: domain.MutationReorderTasks, StatusID: statusID, OrderedIDs: ordered})
	c.adopt(next)

	orders := make([]domain.TaskOrder, len(ordered))
	for i, id := range ordered {
		orders[i] = domain.TaskOrder{ID: id, Order: i}
	}
	c.submit(domain.Intent{Kind: domain.IntentReorder, StatusID: statusID, Tasks: orders})
}

func (c *Controller) moveAcross(targetStatusID string, targetIndex int) {
	if targetIndex < 0 {
		targetIndex = 0
	}
	next := c.apply(domain.Mutation{
		Kind:           domain.MutationMoveTask,
		ID:             c.dragID,
		TargetStatusID: targetStatusID,
		TargetIndex:    targetIndex,
	})
	c.adopt(next)

	order := targetIndex
	if ix := board.BuildIndex(next); ix.HasTask(c.dragID) {
		if moved, _ := ix.Task(c.dragID); moved.StatusID == targetStatusID {
			order = moved.Order
		}
	}
	c.submit(domain.Intent{Kind: domain.IntentMove, TaskID: c.dragID, StatusID: targetStatusID, Order: order})
}

func (c *Controller) adopt(b *domain.Board) {
	c.snapshot = b
	c.index = board.BuildIndex(b)
}

func (c *Controller) reset() {
	c.dragging = dragNone
	c.dragID = ""
}
