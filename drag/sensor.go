// Package drag converts drag gestures into reorder and move intents applied
// optimistically to the board.
package drag

import (
	"math"
	"time"
)

// Activation thresholds. These are behavioral contracts shared with the UI
// layer: a pointer drag begins only after 8px of travel, and a touch drag
// begins after a 200ms hold that stays within 5px, so scroll gestures do not
// turn into accidental drags.
const (
	PointerActivationDistance = 8.0
	TouchActivationDelay      = 200 * time.Millisecond
	TouchMovementTolerance    = 5.0
)

// PointerSensor decides when pointer movement becomes a drag.
type PointerSensor struct {
	originX  float64
	originY  float64
	tracking bool
	active   bool
}

// Begin records the press position and starts tracking.
func (s *PointerSensor) Begin(x, y float64) {
	s.originX, s.originY = x, y
	s.tracking = true
	s.active = false
}

// Move reports whether the accumulated travel has crossed the activation
// distance. Once active it keeps reporting true until End.
func (s *PointerSensor) Move(x, y float64) bool {
	if !s.tracking {
		return false
	}
	if s.active {
		return true
	}
	if math.Hypot(x-s.originX, y-s.originY) >= PointerActivationDistance {
		s.active = true
	}
	return s.active
}

// End stops tracking.
func (s *PointerSensor) End() {
	s.tracking = false
	s.active = false
}

// TouchSensor decides when a touch becomes a drag: a hold of
// TouchActivationDelay with at most TouchMovementTolerance of jitter.
type TouchSensor struct {
	originX   float64
	originY   float64
	pressedAt time.Time
	tracking  bool
	cancelled bool
	active    bool
}

// Begin records the touch position and time and starts tracking.
func (s *TouchSensor) Begin(x, y float64, at time.Time) {
	s.originX, s.originY = x, y
	s.pressedAt = at
	s.tracking = true
	s.cancelled = false
	s.active = false
}

// Move updates the sensor with a new touch sample. It returns whether the
// drag is (now) active and whether the gesture has been cancelled; movement
// beyond the jitter tolerance before the hold delay elapses cancels it.
func (s *TouchSensor) Move(x, y float64, at time.Time) (active, cancelled bool) {
	if !s.tracking || s.cancelled {
		return s.active, s.cancelled
	}
	drift := math.Hypot(x-s.originX, y-s.originY)
	held := at.Sub(s.pressedAt) >= TouchActivationDelay
	if !s.active && !held && drift > TouchMovementTolerance {
		s.cancelled = true
		return false, true
	}
	if held && drift <= TouchMovementTolerance {
		s.active = true
	}
	return s.active, false
}

// Hold reports whether the hold delay alone has activated the drag, for
// timer-driven checks with no movement samples.
func (s *TouchSensor) Hold(at time.Time) bool {
	if !s.tracking || s.cancelled || s.active {
		return s.active
	}
	if at.Sub(s.pressedAt) >= TouchActivationDelay {
		s.active = true
	}
	return s.active
}

// End stops tracking.
func (s *TouchSensor) End() {
	s.tracking = false
	s.cancelled = false
	s.active = false
}
