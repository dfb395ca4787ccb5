// Package conflict decides which of two concurrent versions of an entity
// survives. It owns no I/O: callers feed it a locally-known version and an
// incoming remote version and get back the winner, or a queued conflict when
// no strategy can produce a definitive answer.
package conflict

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Versioned wraps an entity with the bookkeeping needed for resolution.
type Versioned[T any] struct {
	Data      T      `json:"data"`
	Version   int64  `json:"version"`
	UpdatedAt int64  `json:"updatedAt"`
	UpdatedBy string `json:"updatedBy,omitempty"`
}

// Outcome reports how a resolution attempt ended.
type Outcome int

const (
	// OutcomeRemote means the remote version survives.
	OutcomeRemote Outcome = iota
	// OutcomeLocal means the local version survives.
	OutcomeLocal
	// OutcomeAmbiguous means the strategy could not decide; the conflict
	// must be queued for manual resolution.
	OutcomeAmbiguous
)

// Strategy picks a survivor from two concurrent versions.
type Strategy[T any] interface {
	Resolve(local, remote Versioned[T]) Outcome
}

// LastWriteWins resolves by version counter, falling back to the update
// timestamp, with remote winning ties. It never returns OutcomeAmbiguous.
type LastWriteWins[T any] struct{}

func (LastWriteWins[T]) Resolve(local, remote Versioned[T]) Outcome {
	if local.Version != remote.Version {
		if local.Version > remote.Version {
			return OutcomeLocal
		}
		return OutcomeRemote
	}
	if local.UpdatedAt > remote.UpdatedAt {
		return OutcomeLocal
	}
	return OutcomeRemote
}

// Conflict is an ambiguous concurrent edit awaiting manual resolution.
type Conflict[T any] struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	EntityID   string       `json:"entityId"`
	Local      Versioned[T] `json:"localVersion"`
	Remote     Versioned[T] `json:"remoteVersion"`
	DetectedAt time.Time    `json:"detectedAt"`
}

const conflictTypeConcurrentEdit = "concurrent_edit"

// Resolver applies a strategy and queues what the strategy cannot decide.
// The zero value is not usable; construct with New.
type Resolver[T any] struct {
	strategy Strategy[T]

	mu      sync.Mutex
	pending []Conflict[T]
}

// New creates a resolver. A nil strategy defaults to last-write-wins.
func New[T any](strategy Strategy[T]) *Resolver[T] {
	if strategy == nil {
		strategy = LastWriteWins[T]{}
	}
	return &Resolver[T]{strategy: strategy}
}

// Resolve returns the surviving version and how it was chosen. When the
// strategy is ambiguous the conflict is queued and the remote version is
// returned as the provisional value so the caller can keep converging on
// the authoritative feed.
func (r *Resolver[T]) Resolve(entityID string, local, remote Versioned[T]) (Versioned[T], Outcome) {
	switch r.strategy.Resolve(local, remote) {
	case OutcomeLocal:
		return local, OutcomeLocal
	case OutcomeRemote:
		return remote, OutcomeRemote
	default:
		r.mu.Lock()
		r.pending = append(r.pending, Conflict[T]{
			ID:         uuid.NewString(),
			Type:       conflictTypeConcurrentEdit,
			EntityID:   entityID,
			Local:      local,
			Remote:     remote,
			DetectedAt: time.Now().UTC(),
		})
		r.mu.Unlock()
		return remote, OutcomeAmbiguous
	}
}

// Pending returns the number of conflicts awaiting manual resolution.
func (r *Resolver[T]) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Conflicts returns a copy of the pending queue.
func (r *Resolver[T]) Conflicts() []Conflict[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conflict[T], len(r.pending))
	copy(out, r.pending)
	return out
}

// ResolveManually removes the identified conflict from the queue and returns
// the caller-supplied data stamped as the new authoritative version. It
// reports false when the conflict id is unknown.
func (r *Resolver[T]) ResolveManually(conflictID string, data T) (Versioned[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.pending {
		if c.ID != conflictID {
			continue
		}
		r.pending = append(r.pending[:i], r.pending[i+1:]...)
		version := c.Local.Version
		if c.Remote.Version > version {
			version = c.Remote.Version
		}
		return Versioned[T]{
			Data:      data,
			Version:   version + 1,
			UpdatedAt: time.Now().UnixNano(),
		}, true
	}
	var zero Versioned[T]
	return zero, false
}
