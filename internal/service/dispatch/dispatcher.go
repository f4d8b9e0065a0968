// Package dispatch routes raw inbound frames to the component that owns
// the affected state.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/zhouzirui/pmdesk/realtime/internal/protocol"
)

// Outcome classifies what happened to one frame.
type Outcome int

const (
	Delivered Outcome = iota
	DroppedMalformed
	DroppedUnknown
	DroppedInvalid
	DroppedPanic
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case DroppedMalformed:
		return "malformed"
	case DroppedUnknown:
		return "unknown"
	case DroppedInvalid:
		return "invalid"
	case DroppedPanic:
		return "panic"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Dispatcher decodes frames and hands each event to exactly one handler
// method. It holds no domain state and never fails: bad frames are
// logged and dropped.
type Dispatcher struct {
	handler  protocol.Handler
	validate *validator.Validate
	log      *slog.Logger
}

// New returns a Dispatcher delivering to handler.
func New(handler protocol.Handler, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handler:  handler,
		validate: validator.New(),
		log:      log,
	}
}

// Dispatch processes one raw frame.
func (d *Dispatcher) Dispatch(raw []byte) (outcome Outcome) {
	event, err := protocol.Decode(raw)
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		d.log.Debug("ignoring frame of unknown type", "error", err)
		return DroppedUnknown
	case err != nil:
		d.log.Warn("dropping malformed frame", "error", err, "size", len(raw))
		return DroppedMalformed
	}

	if err := d.validate.Struct(event); err != nil {
		d.log.Warn("dropping invalid frame", "type", event.Type(), "error", err)
		return DroppedInvalid
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("frame handler panicked", "type", event.Type(), "panic", r)
			outcome = DroppedPanic
		}
	}()
	event.Apply(d.handler)
	return Delivered
}
