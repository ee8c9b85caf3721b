package param

import "sync/atomic"

// BufferSwitch selects which of the two value slots is active for every
// parameter that shares it. The zero value is ready to use with slot 0
// active.
type BufferSwitch struct {
	state atomic.Uint32
}

// NewBufferSwitch returns a switch with slot 0 active.
func NewBufferSwitch() *BufferSwitch { return &BufferSwitch{} }

// State returns the active slot index (0 or 1).
func (s *BufferSwitch) State() int { return int(s.state.Load()) }

// Background returns the slot index pending writes go to.
func (s *BufferSwitch) Background() int { return int(s.state.Load() ^ 1) }

// Flip exchanges the active and background slots.
func (s *BufferSwitch) Flip() {
	for {
		old := s.state.Load()
		if s.state.CompareAndSwap(old, old^1) {
			return
		}
	}
}
