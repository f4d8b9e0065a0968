package typing

import (
	"sync"
	"time"

	"github.com/zhouzirui/pmdesk/realtime/internal/clock"
	"github.com/zhouzirui/pmdesk/realtime/internal/protocol"
)

// SendFunc transmits an outbound frame.
type SendFunc func(protocol.Outbound) error

// Signaler coalesces local keystrokes into at most one typing frame per
// burst, and sends stop_typing once after the idle window elapses.
type Signaler struct {
	clock clock.Clock
	idle  time.Duration
	send  SendFunc

	mu     sync.Mutex
	typing bool
	timer  *clock.Timer
	// generation invalidates timers that fire after being superseded.
	generation uint64
	closed     bool
}

// NewSignaler returns a Signaler; idle <= 0 uses DefaultTTL.
func NewSignaler(c clock.Clock, idle time.Duration, send SendFunc) *Signaler {
	if idle <= 0 {
		idle = DefaultTTL
	}
	return &Signaler{clock: c, idle: idle, send: send}
}

// Keystroke records local typing activity. The first keystroke of a
// burst sends a typing frame; later ones only push back the auto-stop.
func (s *Signaler) Keystroke() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	first := !s.typing
	s.typing = true
	s.armLocked()
	s.mu.Unlock()

	if first {
		return s.send(protocol.NewTyping())
	}
	return nil
}

// Stop ends the burst immediately, e.g. when the message is sent.
// It is a no-op when not typing.
func (s *Signaler) Stop() error {
	s.mu.Lock()
	if !s.typing {
		s.mu.Unlock()
		return nil
	}
	s.typing = false
	s.disarmLocked()
	s.mu.Unlock()

	return s.send(protocol.NewStopTyping())
}

// Typing reports whether a burst is in progress.
func (s *Signaler) Typing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

// Close cancels the pending auto-stop. Keystrokes after Close are ignored.
func (s *Signaler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.typing = false
	s.disarmLocked()
}

func (s *Signaler) armLocked() {
	s.disarmLocked()
	generation := s.generation
	s.timer = s.clock.AfterFunc(s.idle, func() { s.expire(generation) })
}

func (s *Signaler) disarmLocked() {
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Signaler) expire(generation uint64) {
	s.mu.Lock()
	if generation != s.generation || !s.typing {
		s.mu.Unlock()
		return
	}
	s.typing = false
	s.timer = nil
	s.mu.Unlock()

	_ = s.send(protocol.NewStopTyping())
}
