package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zhouzirui/pmdesk/realtime/internal/clock"
	"github.com/zhouzirui/pmdesk/realtime/internal/protocol"
)

// State is the lifecycle position of a reconnecting channel.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is a snapshot of a Reconnector. Code and WillRetry are only
// meaningful in StateClosed.
type Status struct {
	State     State  `json:"-"`
	StateName string `json:"state"`
	Code      int    `json:"code,omitempty"`
	WillRetry bool   `json:"will_retry"`
	Attempt   int    `json:"attempt"`
	LastError string `json:"last_error,omitempty"`
}

// Conn is an open connection as seen by the Reconnector. *Channel
// implements it.
type Conn interface {
	Send(protocol.Outbound) error
	Close(code int) error
	Done() <-chan struct{}
	CloseCode() int
}

// DialFunc opens one connection, delivering inbound frames to onFrame.
type DialFunc func(ctx context.Context, onFrame FrameFunc) (Conn, error)

// ChannelDialer adapts Dial to a DialFunc. The credential is read on
// every attempt so a refreshed token is picked up by the next retry.
func ChannelDialer(rawURL string, credential func() string, opts Options) DialFunc {
	return func(ctx context.Context, onFrame FrameFunc) (Conn, error) {
		return Dial(ctx, rawURL, credential(), onFrame, opts)
	}
}

// ReconnectorOptions wires a Reconnector to its collaborators.
type ReconnectorOptions struct {
	Dial    DialFunc
	Backoff Backoff
	Clock   clock.Clock
	Logger  *slog.Logger

	// OnFrame receives every inbound frame of every connection.
	OnFrame FrameFunc
	// OnOpen runs after each successful open, including reopens.
	OnOpen func()
	// OnStateChange observes every transition.
	OnStateChange func(Status)
	// OnAuthError is called when the handshake is rejected. The
	// Reconnector is then closed for good.
	OnAuthError func(error)
}

// Reconnector keeps one logical channel open across connection drops.
// It owns the retry timer: at most one retry is pending at any time and
// Close cancels it.
type Reconnector struct {
	name string
	opts ReconnectorOptions
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	code      int
	willRetry bool
	attempt   int
	lastErr   error
	conn      Conn
	retry     *clock.Timer
	final     bool
	// typing holds the latest typing/stop_typing frame while not open.
	typing *protocol.Outbound
}

// NewReconnector returns an idle Reconnector; call Start to connect.
func NewReconnector(name string, opts ReconnectorOptions) *Reconnector {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconnector{
		name:   name,
		opts:   opts,
		log:    opts.Logger.With("channel", name),
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
	}
}

// Name returns the channel topic.
func (r *Reconnector) Name() string { return r.name }

// Start begins the first connection attempt in the background. Calling
// Start more than once has no effect.
func (r *Reconnector) Start() {
	r.mu.Lock()
	if r.state != StateIdle || r.final {
		r.mu.Unlock()
		return
	}
	status := r.setStateLocked(StateConnecting)
	r.mu.Unlock()

	r.notify(status)
	go r.connect()
}

func (r *Reconnector) connect() {
	conn, err := r.opts.Dial(r.ctx, r.opts.OnFrame)

	r.mu.Lock()
	if r.final {
		r.mu.Unlock()
		if conn != nil {
			_ = conn.Close(CloseNormal)
		}
		return
	}

	if err != nil {
		r.lastErr = err
		if errors.Is(err, ErrUnauthorized) {
			r.final = true
			r.code = 0
			r.willRetry = false
			status := r.setStateLocked(StateClosed)
			r.mu.Unlock()

			r.log.Warn("handshake rejected, not retrying", "error", err)
			r.notify(status)
			if r.opts.OnAuthError != nil {
				r.opts.OnAuthError(err)
			}
			return
		}
		status := r.scheduleRetryLocked(CloseAbnormal)
		r.mu.Unlock()

		r.log.Info("connect failed", "attempt", status.Attempt, "error", err)
		r.notify(status)
		return
	}

	r.conn = conn
	r.attempt = 0
	r.lastErr = nil
	r.code = 0
	r.willRetry = false
	status := r.setStateLocked(StateOpen)
	pending := r.typing
	r.typing = nil
	r.mu.Unlock()

	r.log.Info("channel open")
	r.notify(status)

	if pending != nil {
		if err := conn.Send(*pending); err != nil {
			r.log.Debug("flush buffered typing frame failed", "error", err)
		}
	}
	if r.opts.OnOpen != nil {
		r.opts.OnOpen()
	}

	go r.watch(conn)
}

func (r *Reconnector) watch(conn Conn) {
	<-conn.Done()
	code := conn.CloseCode()

	r.mu.Lock()
	if r.final || r.conn != conn {
		r.mu.Unlock()
		return
	}
	r.conn = nil
	status := r.scheduleRetryLocked(code)
	r.mu.Unlock()

	r.log.Info("channel closed", "code", code, "attempt", status.Attempt)
	r.notify(status)
}

// scheduleRetryLocked arms the single retry timer. Every closure other
// than an explicit Close lands here, whatever the code.
func (r *Reconnector) scheduleRetryLocked(code int) Status {
	r.code = code
	r.willRetry = true
	status := r.setStateLocked(StateClosed)
	if r.retry != nil {
		return status
	}

	delay := r.opts.Backoff.Delay(r.attempt)
	r.attempt++
	status.Attempt = r.attempt
	r.retry = r.opts.Clock.AfterFunc(delay, r.fireRetry)
	return status
}

func (r *Reconnector) fireRetry() {
	r.mu.Lock()
	r.retry = nil
	if r.final {
		r.mu.Unlock()
		return
	}
	status := r.setStateLocked(StateConnecting)
	r.mu.Unlock()

	r.notify(status)
	go r.connect()
}

// Send transmits frame on the open connection. While not open, typing
// frames replace any previously buffered one and are flushed on the next
// open; every other frame fails with ErrNotConnected.
func (r *Reconnector) Send(frame protocol.Outbound) error {
	r.mu.Lock()
	conn := r.conn
	if r.state != StateOpen || conn == nil {
		defer r.mu.Unlock()
		if frame.Coalescable() && !r.final {
			r.typing = &frame
			return nil
		}
		return ErrNotConnected
	}
	r.mu.Unlock()

	if err := conn.Send(frame); err != nil {
		if frame.Coalescable() {
			r.mu.Lock()
			if !r.final {
				r.typing = &frame
			}
			r.mu.Unlock()
			return nil
		}
		if errors.Is(err, ErrNotConnected) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// Close ends the channel for good with code 1000 and cancels any pending
// retry or in-flight dial.
func (r *Reconnector) Close() {
	r.mu.Lock()
	if r.final && r.state == StateClosed {
		r.mu.Unlock()
		r.cancel()
		return
	}
	r.final = true
	if r.retry != nil {
		r.retry.Stop()
		r.retry = nil
	}
	conn := r.conn
	r.conn = nil
	r.typing = nil
	r.code = CloseNormal
	r.willRetry = false
	status := r.setStateLocked(StateClosed)
	r.mu.Unlock()

	r.cancel()
	if conn != nil {
		if err := conn.Close(CloseNormal); err != nil {
			r.log.Debug("close failed", "error", err)
		}
	}
	r.log.Info("channel closed by client")
	r.notify(status)
}

// Status returns the current state snapshot.
func (r *Reconnector) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

// RetryPending reports whether a retry timer is armed.
func (r *Reconnector) RetryPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retry != nil
}

func (r *Reconnector) setStateLocked(state State) Status {
	r.state = state
	return r.statusLocked()
}

func (r *Reconnector) statusLocked() Status {
	status := Status{
		State:     r.state,
		StateName: r.state.String(),
		Attempt:   r.attempt,
	}
	if r.state == StateClosed {
		status.Code = r.code
		status.WillRetry = r.willRetry
	}
	if r.lastErr != nil {
		status.LastError = r.lastErr.Error()
	}
	return status
}

func (r *Reconnector) notify(status Status) {
	if r.opts.OnStateChange != nil {
		r.opts.OnStateChange(status)
	}
}
