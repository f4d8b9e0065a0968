// Package transport owns the WebSocket channel to the realtime server
// and the policy that keeps it open.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/pmdesk/realtime/internal/clock"
	"github.com/zhouzirui/pmdesk/realtime/internal/protocol"
)

const (
	// CloseNormal is the only closure code that ends a channel for good.
	CloseNormal = websocket.CloseNormalClosure
	// CloseAbnormal is reported when the connection dropped without a
	// close frame.
	CloseAbnormal = websocket.CloseAbnormalClosure

	maxFrameBytes = 1 << 20
)

var (
	// ErrNotConnected is returned for sends that cannot be buffered while
	// the channel is not open.
	ErrNotConnected = errors.New("channel not connected")
	// ErrUnauthorized is returned when the server rejects the handshake
	// with 401 or 403.
	ErrUnauthorized = errors.New("channel handshake unauthorized")
)

// Options tunes a Channel. Zero values use DefaultOptions.
type Options struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	Clock            clock.Clock
	Logger           *slog.Logger
}

// DefaultOptions returns the timeouts used when none are configured.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     25 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = def.HandshakeTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = def.ReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = def.PingInterval
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// FrameFunc receives one raw inbound frame. It is called from the read
// goroutine and must not block for long.
type FrameFunc func(raw []byte)

// Channel is one open WebSocket connection. A Channel is never reused:
// after Done is closed the caller dials a new one.
type Channel struct {
	conn    *websocket.Conn
	opts    Options
	onFrame FrameFunc
	log     *slog.Logger

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
	code      int
	reason    error
}

// Dial opens a channel to rawURL, authenticating with credential both as
// a bearer header and as the token query parameter. It blocks until the
// handshake completes or fails.
func Dial(ctx context.Context, rawURL, credential string, onFrame FrameFunc, opts Options) (*Channel, error) {
	opts = opts.withDefaults()

	target, err := withToken(rawURL, credential)
	if err != nil {
		return nil, err
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}

	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}

	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	c := &Channel{
		conn:    conn,
		opts:    opts,
		onFrame: onFrame,
		log:     opts.Logger,
		done:    make(chan struct{}),
		code:    CloseAbnormal,
	}

	conn.SetReadLimit(maxFrameBytes)
	c.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

func withToken(rawURL, credential string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid channel url %q: %w", rawURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid channel url %q: scheme must be ws or wss", rawURL)
	}
	if credential != "" {
		query := u.Query()
		query.Set("token", credential)
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func (c *Channel) extendReadDeadline() {
	_ = c.conn.SetReadDeadline(c.opts.Clock.Now().Add(c.opts.ReadTimeout))
}

func (c *Channel) readLoop() {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(closeCode(err), err)
			return
		}
		c.extendReadDeadline()

		if messageType != websocket.TextMessage {
			c.log.Debug("dropping non-text frame", "message_type", messageType)
			continue
		}
		// A server may batch several frames into one message, one per line.
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			if c.onFrame != nil {
				c.onFrame(line)
			}
		}
	}
}

// pingLoop 定期发送ping消息
func (c *Channel) pingLoop() {
	ticker := c.opts.Clock.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(c.opts.Clock.Now().Add(c.opts.WriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.finish(CloseAbnormal, fmt.Errorf("ping failed: %w", err))
				return
			}
		}
	}
}

func closeCode(err error) int {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code
	}
	return CloseAbnormal
}

func (c *Channel) finish(code int, reason error) {
	c.closeOnce.Do(func() {
		c.code = code
		c.reason = reason
		close(c.done)
		_ = c.conn.Close()
	})
}

// Send writes one frame. Writes are serialized and carry the write
// deadline. A closed channel returns ErrNotConnected.
func (c *Channel) Send(frame protocol.Outbound) error {
	payload, err := frame.Encode()
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", frame.Type, err)
	}

	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(c.opts.Clock.Now().Add(c.opts.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.finish(CloseAbnormal, fmt.Errorf("write failed: %w", err))
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// Close sends a close frame with code and tears the connection down.
func (c *Channel) Close(code int) error {
	select {
	case <-c.done:
		return nil
	default:
	}

	c.writeMu.Lock()
	deadline := c.opts.Clock.Now().Add(c.opts.WriteTimeout)
	err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
	c.writeMu.Unlock()

	c.finish(code, nil)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("send close frame: %w", err)
	}
	return nil
}

// Done is closed once the connection has ended for any reason.
func (c *Channel) Done() <-chan struct{} { return c.done }

// CloseCode returns the closure code once Done is closed.
func (c *Channel) CloseCode() int {
	<-c.done
	return c.code
}

// Err returns what ended the connection. It is usually nil after a local Close.
func (c *Channel) Err() error {
	<-c.done
	return c.reason
}
