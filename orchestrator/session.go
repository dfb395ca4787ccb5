// Package orchestrator owns the lifecycle of a synchronized board: load the
// authoritative state, subscribe the change feed, funnel every state
// transition through one event loop, dispatch persistence intents, and
// recover from any persistence failure with a full resync.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"boardsync/board"
	"boardsync/conflict"
	"boardsync/domain"
	"boardsync/drag"
	"boardsync/gateway"
	"boardsync/merge"
)

// Gateway abstracts persistence for the session.
type Gateway interface {
	FetchBoard(ctx context.Context, boardID string) (*domain.Board, error)
	EnqueueIntents(ctx context.Context, boardID string, intents []domain.Intent) error
}

// Deduper prevents re-enqueuing of duplicate intents.
type Deduper interface {
	AddMany(ctx context.Context, boardID string, keys []string) ([]bool, error)
	Remove(ctx context.Context, boardID, key string) error
}

// FeedHandle is a live change-feed subscription for one board.
type FeedHandle interface {
	Events() <-chan domain.FeedEvent
	Unsubscribe()
}

// SubscribeFunc opens the change feed for a board.
type SubscribeFunc func(ctx context.Context, boardID string) (FeedHandle, error)

// Config tunes the session's intent sender and conflict resolution. Zero
// values fall back to defaults.
type Config struct {
	SenderWorkers  int
	SenderBuffer   int
	EnqueueTimeout time.Duration
	HandoffTimeout time.Duration
	RetryInitial   time.Duration
	RetryMax       time.Duration
	RetryAttempts  int

	// TaskStrategy and StatusStrategy override last-write-wins resolution.
	TaskStrategy   conflict.Strategy[domain.Task]
	StatusStrategy conflict.Strategy[domain.Status]
}

func (c *Config) applyDefaults() {
	if c.SenderWorkers <= 0 {
		c.SenderWorkers = 4
	}
	if c.SenderBuffer <= 0 {
		c.SenderBuffer = 256
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 30 * time.Second
	}
	if c.HandoffTimeout <= 0 {
		c.HandoffTimeout = 15 * time.Millisecond
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 250 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 10 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 5
	}
}

// ErrClosed is returned for operations on a closed session.
var ErrClosed = errors.New("board session is closed")

// Session is one synchronized board. All state transitions flow through a
// single event-loop goroutine; snapshots are immutable, so Snapshot may be
// read from any goroutine at any time.
type Session struct {
	boardID string
	gw      Gateway
	deduper Deduper
	logger  *log.Logger
	engine  *merge.Engine
	cfg     Config

	ctx    context.Context
	cancel context.CancelFunc

	feed     FeedHandle
	requests chan func()
	sendCh   chan domain.Intent
	closed   chan struct{}
	loopDone chan struct{}

	state atomic.Pointer[domain.Board]
	gen   uint64 // resync generation, touched only on the event loop

	broker *broker
	errs   chan error

	closeOnce sync.Once
	senderWG  sync.WaitGroup
	loopWG    sync.WaitGroup
}

// Open loads the board, subscribes its change feed and starts the event
// loop. The subscription is established before the initial fetch so no
// notification can fall between them; the merge engine's idempotence makes
// any overlap safe.
func Open(ctx context.Context, boardID string, gw Gateway, subscribe SubscribeFunc, deduper Deduper, logger *log.Logger, cfg Config) (*Session, error) {
	if boardID == "" {
		return nil, errors.New("board id is required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	cfg.applyDefaults()

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		boardID:  boardID,
		gw:       gw,
		deduper:  deduper,
		logger:   logger,
		engine:   merge.NewWithStrategies(logger, cfg.TaskStrategy, cfg.StatusStrategy),
		cfg:      cfg,
		ctx:      sctx,
		cancel:   cancel,
		requests: make(chan func(), 64),
		sendCh:   make(chan domain.Intent, cfg.SenderBuffer),
		closed:   make(chan struct{}),
		loopDone: make(chan struct{}),
		broker:   newBroker(),
		errs:     make(chan error, 16),
	}

	feed, err := subscribe(sctx, boardID)
	if err != nil {
		cancel()
		return nil, err
	}
	s.feed = feed

	metrics := newLoadMetrics(logger, boardID)
	fetchStart := time.Now()
	b, err := gw.FetchBoard(ctx, boardID)
	metrics.ObserveFetch(time.Since(fetchStart))
	if err != nil {
		metrics.Log(err)
		feed.Unsubscribe()
		cancel()
		return nil, err
	}
	metrics.SetCounts(b)
	metrics.Log(nil)
	s.state.Store(b)

	s.loopWG.Add(1)
	go s.loop()
	for i := 0; i < cfg.SenderWorkers; i++ {
		s.senderWG.Add(1)
		go s.sender()
	}
	return s, nil
}

// BoardID returns the board this session synchronizes.
func (s *Session) BoardID() string { return s.boardID }

// Snapshot returns the current immutable board state.
func (s *Session) Snapshot() *domain.Board {
	return s.state.Load()
}

// PendingConflicts reports the number of conflicts awaiting manual
// resolution.
func (s *Session) PendingConflicts() int {
	return s.engine.PendingConflicts()
}

// TaskConflicts returns the queued task conflicts.
func (s *Session) TaskConflicts() []conflict.Conflict[domain.Task] {
	return s.engine.TaskConflicts()
}

// ResolveTaskConflict resolves a queued conflict with caller-supplied data
// and applies the result to the board.
func (s *Session) ResolveTaskConflict(conflictID string, data domain.Task) error {
	resolved, ok := s.engine.ResolveTaskConflict(conflictID, data)
	if !ok {
		return errors.New("unknown conflict id")
	}
	resolved.Data.Version = resolved.Version
	resolved.Data.UpdatedAt = resolved.UpdatedAt
	_, err := s.Mutate([]domain.Mutation{{
		Kind:      domain.MutationUpdateTask,
		ID:        resolved.Data.ID,
		TaskPatch: fullTaskPatch(resolved.Data),
	}})
	return err
}

// Errors surfaces persistence failures for the UI layer. The channel is
// never closed; failed reads are already reflected by a resync.
func (s *Session) Errors() <-chan error {
	return s.errs
}

// Watch returns a channel that receives a signal after every applied state
// transition, plus a cancel func to stop watching.
func (s *Session) Watch() (<-chan struct{}, func()) {
	ch := s.broker.subscribe()
	return ch, func() { s.broker.unsubscribe(ch) }
}

// DragController builds a drag controller bound to this session: optimistic
// applies flow through the event loop and drop intents through the sender.
// The caller owns feeding it snapshots via Watch + SetSnapshot.
func (s *Session) DragController() *drag.Controller {
	return drag.NewController(
		func(m domain.Mutation) *domain.Board {
			next, err := s.applyLocal(m)
			if err != nil {
				return s.Snapshot()
			}
			return next
		},
		func(in domain.Intent) { s.dispatch(in) },
		s.logger,
	)
}

// Mutate applies a batch of local mutations optimistically and emits the
// matching persistence intents. It returns the intent idempotency keys.
func (s *Session) Mutate(muts []domain.Mutation) ([]string, error) {
	if len(muts) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(muts))
	err := s.do(func() {
		for _, m := range muts {
			m := m
			s.stampAndTrack(&m)
			next := s.applyOnLoop(m)
			in := intentFor(m)
			if in.Kind == domain.IntentMove {
				// The reducer clamps the target index; persist the position
				// the task actually landed on.
				if t, ok := board.BuildIndex(next).Task(in.TaskID); ok {
					in.StatusID = t.StatusID
					in.Order = t.Order
				}
			}
			keys = append(keys, s.dispatch(in))
		}
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Resync reloads the authoritative board, discarding all optimistic state.
// It is the uniform recovery path for any persistence failure. The fetch
// runs off the event loop; a result that arrives after the session closed
// or after a newer resync started is discarded.
func (s *Session) Resync() {
	var gen uint64
	if err := s.do(func() {
		s.gen++
		gen = s.gen
	}); err != nil {
		return
	}

	go func() {
		metrics := newResyncMetrics(s.logger, s.boardID)
		fetchStart := time.Now()
		b, err := s.gw.FetchBoard(s.ctx, s.boardID)
		metrics.ObserveFetch(time.Since(fetchStart))
		if err != nil {
			metrics.Log(err)
			s.reportError(err)
			return
		}
		metrics.SetCounts(b)
		metrics.Log(nil)

		_ = s.do(func() {
			if s.gen != gen {
				// A newer resync superseded this fetch.
				return
			}
			s.engine.Reset()
			s.state.Store(b)
			s.broker.notify()
		})
	}()
}

// Close tears the session down: unsubscribes the feed, stops the event loop
// and drains the intent senders. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
		s.loopWG.Wait()
		close(s.sendCh)
		s.senderWG.Wait()
	})
}

func (s *Session) loop() {
	defer s.loopWG.Done()
	defer close(s.loopDone)
	defer s.feed.Unsubscribe()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-s.feed.Events():
			if !ok {
				s.logger.WithField("board", s.boardID).Warn("change feed closed")
				return
			}
			prev := s.state.Load()
			next := s.engine.Apply(prev, ev)
			if next != prev {
				s.state.Store(next)
				s.broker.notify()
			}
		case fn := <-s.requests:
			fn()
		}
	}
}

// do runs fn on the event loop and waits for it to finish.
func (s *Session) do(fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case s.requests <- wrapped:
	case <-s.closed:
		return ErrClosed
	case <-s.loopDone:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-s.closed:
		return ErrClosed
	case <-s.loopDone:
		return ErrClosed
	}
}

// applyLocal applies one optimistic mutation through the event loop and
// returns the resulting snapshot.
func (s *Session) applyLocal(m domain.Mutation) (*domain.Board, error) {
	var next *domain.Board
	err := s.do(func() {
		s.stampAndTrack(&m)
		next = s.applyOnLoop(m)
	})
	return next, err
}

// applyOnLoop must only be called from the event loop.
func (s *Session) applyOnLoop(m domain.Mutation) *domain.Board {
	prev := s.state.Load()
	next := board.Apply(prev, m)
	if next != prev {
		s.state.Store(next)
		s.broker.notify()
	}
	return next
}

// stampAndTrack assigns version stamps to an optimistic mutation and records
// the local version so a racing remote change goes through the conflict
// resolver. Must only be called from the event loop.
func (s *Session) stampAndTrack(m *domain.Mutation) {
	now := nextTimestamp()
	ix := board.BuildIndex(s.state.Load())

	switch m.Kind {
	case domain.MutationAddTask:
		if m.Task == nil {
			return
		}
		if m.Task.ID == "" {
			m.Task.ID = uuid.NewString()
		}
		if m.Task.Version == 0 {
			m.Task.Version = 1
		}
		m.Task.UpdatedAt = now
		s.engine.TrackTask(m.Task.ID, conflict.Versioned[domain.Task]{
			Data: *m.Task, Version: m.Task.Version, UpdatedAt: now, UpdatedBy: m.Task.UpdatedBy,
		})
	case domain.MutationUpdateTask:
		cur, ok := ix.Task(m.ID)
		if !ok || m.TaskPatch == nil {
			return
		}
		if m.TaskPatch.Version == nil {
			v := cur.Version + 1
			m.TaskPatch.Version = &v
		}
		if m.TaskPatch.UpdatedAt == nil {
			m.TaskPatch.UpdatedAt = &now
		}
		s.engine.TrackTask(m.ID, conflict.Versioned[domain.Task]{
			Data: *cur, Version: *m.TaskPatch.Version, UpdatedAt: *m.TaskPatch.UpdatedAt,
		})
	case domain.MutationMoveTask:
		if cur, ok := ix.Task(m.ID); ok {
			s.engine.TrackTask(m.ID, conflict.Versioned[domain.Task]{
				Data: *cur, Version: cur.Version + 1, UpdatedAt: now,
			})
		}
	case domain.MutationAddStatus:
		if m.Status != nil && m.Status.ID == "" {
			m.Status.ID = uuid.NewString()
		}
	case domain.MutationUpdateStatus:
		if cur, ok := ix.Status(m.ID); ok {
			s.engine.TrackStatus(m.ID, conflict.Versioned[domain.Status]{
				Data: *cur, Version: int64(cur.Order) + 1, UpdatedAt: now,
			})
		}
	}
}

// dispatch assigns the intent an idempotency key and hands it to the sender
// pool, returning the key. A saturated pool falls back to delivering on a
// fresh goroutine rather than dropping the intent.
func (s *Session) dispatch(in domain.Intent) string {
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = uuid.NewString()
	}
	in.Timestamp = nextTimestamp()

	if !s.trySend(in) {
		s.logger.WithField("board", s.boardID).Warn("intent sender saturated; delivering inline")
		go s.deliver(in)
	}
	return in.IdempotencyKey
}

func (s *Session) trySend(in domain.Intent) (sent bool) {
	// The send channel is closed on shutdown; a racing dispatch must not
	// bring the process down with it.
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	timer := time.NewTimer(s.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case s.sendCh <- in:
		return true
	case <-timer.C:
		return false
	case <-s.closed:
		return false
	}
}

func (s *Session) sender() {
	defer s.senderWG.Done()
	for in := range s.sendCh {
		s.deliver(in)
	}
}

// deliver pushes one intent to the gateway. Rate-limit rejections back off
// and retry the same intent; any other failure rolls back the dedupe key,
// surfaces the error and triggers a full resync.
func (s *Session) deliver(in domain.Intent) {
	if s.deduper != nil {
		added, err := s.deduper.AddMany(s.ctx, s.boardID, []string{in.IdempotencyKey})
		if err == nil && len(added) == 1 && !added[0] {
			return
		}
	}

	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.EnqueueTimeout)
		err := s.gw.EnqueueIntents(ctx, s.boardID, []domain.Intent{in})
		cancel()

		if err == nil {
			for _, id := range intentEntityIDs(in) {
				s.engine.Confirm(id)
			}
			return
		}

		if gateway.IsRateLimited(err) && attempt < s.cfg.RetryAttempts {
			delay := exponentialBackoff(attempt+1, s.cfg.RetryInitial, s.cfg.RetryMax)
			s.logger.WithError(err).Warnf("intent rate limited, backing off %v, board=%s, key=%s, attempt=%d",
				delay, s.boardID, in.IdempotencyKey, attempt+1)
			select {
			case <-time.After(delay):
				continue
			case <-s.closed:
				return
			}
		}

		s.logger.WithError(err).Errorf("intent delivery failed, board=%s, key=%s", s.boardID, in.IdempotencyKey)
		if s.deduper != nil {
			if rerr := s.deduper.Remove(context.Background(), s.boardID, in.IdempotencyKey); rerr != nil {
				s.logger.WithError(rerr).Errorf("dedupe rollback failed, key=%s", in.IdempotencyKey)
			}
		}
		s.reportError(err)
		select {
		case <-s.closed:
			// Late failures after teardown are dropped; the next session
			// starts from an authoritative fetch anyway.
		default:
			s.Resync()
		}
		return
	}
}

func (s *Session) reportError(err error) {
	select {
	case s.errs <- err:
	default:
		s.logger.WithError(err).Warn("error channel full; dropping")
	}
}

// intentFor derives the persistence intent matching an optimistic mutation.
func intentFor(m domain.Mutation) domain.Intent {
	switch m.Kind {
	case domain.MutationMoveTask:
		return domain.Intent{
			Kind:     domain.IntentMove,
			TaskID:   m.ID,
			StatusID: m.TargetStatusID,
			Order:    m.TargetIndex,
		}
	case domain.MutationReorderTasks:
		orders := make([]domain.TaskOrder, len(m.OrderedIDs))
		for i, id := range m.OrderedIDs {
			orders[i] = domain.TaskOrder{ID: id, Order: i}
		}
		return domain.Intent{Kind: domain.IntentReorder, StatusID: m.StatusID, Tasks: orders}
	default:
		mc := m
		return domain.Intent{Kind: domain.IntentMutate, Mutation: &mc}
	}
}

func intentEntityIDs(in domain.Intent) []string {
	switch in.Kind {
	case domain.IntentMove:
		return []string{in.TaskID}
	case domain.IntentReorder:
		ids := make([]string, len(in.Tasks))
		for i, t := range in.Tasks {
			ids[i] = t.ID
		}
		return ids
	default:
		if in.Mutation == nil {
			return nil
		}
		m := in.Mutation
		switch {
		case m.ID != "":
			return []string{m.ID}
		case m.Task != nil:
			return []string{m.Task.ID}
		case m.Status != nil:
			return []string{m.Status.ID}
		}
		return nil
	}
}

func fullTaskPatch(t domain.Task) *domain.TaskPatch {
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
