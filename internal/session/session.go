// Package session runs the realtime core of one signed-in user: the
// notifications channel, one channel per joined chat room, and the
// stores they feed. Every mutation happens on a single event-loop
// goroutine, so the stores themselves need no locks.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zhouzirui/pmdesk/realtime/internal/clock"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/chat"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/notification"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/presence"
	"github.com/zhouzirui/pmdesk/realtime/internal/service/dispatch"
	"github.com/zhouzirui/pmdesk/realtime/internal/service/inbox"
	"github.com/zhouzirui/pmdesk/realtime/internal/transport"
)

var (
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("session closed")
	// ErrUnknownRoom is returned for rooms the session has not joined.
	ErrUnknownRoom = errors.New("room not joined")
	// ErrInvalidRoom is returned when joining a malformed room name.
	ErrInvalidRoom = errors.New("invalid room name")
	// ErrEmptyMessage is returned when sending a blank chat message.
	ErrEmptyMessage = errors.New("empty message")
)

// Backend is the REST source of truth the session reconciles against.
// *rest.Client implements it.
type Backend interface {
	UnreadCount(ctx context.Context) (int, error)
	Notifications(ctx context.Context, filter notification.Filter) ([]notification.Notification, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Archive(ctx context.Context, id string) error
	OnlineUsers(ctx context.Context, room string) ([]presence.Entry, error)
	RecentMessages(ctx context.Context, room string, limit int) ([]chat.Message, error)
}

// UnreadCache persists the last known unread count between runs.
type UnreadCache interface {
	LoadUnread(user string) (int, bool, error)
	StoreUnread(user string, count int) error
}

// Dialer builds the dial function of one topic's channel.
type Dialer func(topic string) transport.DialFunc

// Options configures a Session.
type Options struct {
	Credential Credential
	// User overrides the identity read from the credential.
	User chat.Sender
	// Rooms joined at Start.
	Rooms []string

	Dialer  Dialer
	Backend Backend
	Cache   UnreadCache
	Clock   clock.Clock
	Logger  *slog.Logger

	Backoff         transport.Backoff
	TypingTTL       time.Duration
	SweepInterval   time.Duration
	HistoryLimit    int
	MessageCapacity int
	HydrateTimeout  time.Duration

	// AuthHandler is told about every authentication failure: a missing
	// or expired credential, a rejected handshake, or a REST 401.
	AuthHandler func(error)
	// OnHydrated runs on the event loop after each reconciliation of a
	// topic with the REST backend. err is the first failure, if any.
	OnHydrated func(topic string, err error)
}

const (
	defaultHistoryLimit   = 50
	defaultSweepInterval  = time.Second
	defaultHydrateTimeout = 15 * time.Second
	actionQueueSize       = 256
)

// Session is the realtime state of one signed-in user.
type Session struct {
	opts  Options
	clock clock.Clock
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	actions   chan func()
	quit      chan struct{}
	stopped   chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	// Owned by the event loop.
	user          chat.Sender
	inbox         *inbox.Inbox
	notifications *transport.Reconnector
	rooms         map[string]*Room
	provisional   *int
	reconciled    bool
}

// New validates opts and returns an idle session.
func New(opts Options) (*Session, error) {
	if opts.Dialer == nil {
		return nil, errors.New("session: dialer is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("session: backend is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.HydrateTimeout <= 0 {
		opts.HydrateTimeout = defaultHydrateTimeout
	}
	if opts.Backoff == (transport.Backoff{}) {
		opts.Backoff = transport.DefaultBackoff()
	}
	for _, room := range opts.Rooms {
		if !chat.ValidRoomName(room) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRoom, room)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		opts:    opts,
		clock:   opts.Clock,
		log:     opts.Logger.With("component", "session"),
		ctx:     ctx,
		cancel:  cancel,
		actions: make(chan func(), actionQueueSize),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		user:    opts.User,
		inbox:   inbox.New(),
		rooms:   make(map[string]*Room),
	}, nil
}

// Start checks the credential, starts the event loop and opens the
// notifications channel and every configured room. A missing or expired
// credential is reported to the AuthHandler and returned; nothing is
// dialed in that case.
func (s *Session) Start() error {
	select {
	case <-s.quit:
		return ErrClosed
	default:
	}

	identity, err := s.opts.Credential.Inspect(s.clock.Now())
	if err != nil {
		s.authFailed(err)
		return err
	}

	started := false
	s.startOnce.Do(func() {
		started = true
		if s.user.ID == "" {
			s.user = identity.User
		}
		s.loadCachedUnread()
		go s.run()
	})
	if !started {
		return nil
	}

	return s.Do(func() {
		s.notifications = s.openChannel(chat.NotificationsTopic, nil)
		for _, room := range s.opts.Rooms {
			s.joinLocked(room)
		}
	})
}

func (s *Session) loadCachedUnread() {
	if s.opts.Cache == nil || s.user.ID == "" {
		return
	}
	count, ok, err := s.opts.Cache.LoadUnread(s.user.ID)
	if err != nil {
		s.log.Warn("load cached unread count failed", "error", err)
		return
	}
	if ok {
		s.provisional = &count
	}
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.actions:
			fn()
		case <-s.quit:
			return
		}
	}
}

// post queues fn on the event loop. It returns false once the session
// is closed.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.actions <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// Do runs fn on the event loop and waits for it. fn may read and mutate
// session state freely but must not block or call Do.
func (s *Session) Do(fn func()) error {
	done := make(chan struct{})
	if !s.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-s.quit:
		return ErrClosed
	}
}

func (s *Session) openChannel(topic string, room *Room) *transport.Reconnector {
	var reconnector *transport.Reconnector
	handler := &topicHandler{session: s, room: room}
	dispatcher := dispatch.New(handler, s.opts.Logger.With("channel", topic))

	reconnector = transport.NewReconnector(topic, transport.ReconnectorOptions{
		Dial:    s.opts.Dialer(topic),
		Backoff: s.opts.Backoff,
		Clock:   s.clock,
		Logger:  s.opts.Logger.With("component", "transport"),
		OnFrame: func(raw []byte) {
			s.post(func() { dispatcher.Dispatch(raw) })
		},
		OnOpen: func() {
			if room != nil {
				s.hydrateRoom(room)
				return
			}
			s.hydrateNotifications()
		},
		OnStateChange: func(status transport.Status) {
			if status.State == transport.StateClosed && status.WillRetry && room != nil {
				s.post(func() { room.typing.Reset() })
			}
		},
		OnAuthError: s.authFailed,
	})
	reconnector.Start()
	return reconnector
}

func (s *Session) authFailed(err error) {
	s.log.Warn("authentication failed", "error", err)
	if s.opts.AuthHandler != nil {
		s.opts.AuthHandler(err)
	}
}

// Close shuts every channel with code 1000, cancels all timers and
// outstanding REST calls, and stops the event loop.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		running := true
		s.startOnce.Do(func() { running = false })
		if !running {
			s.cancel()
			close(s.quit)
			close(s.stopped)
			return
		}

		_ = s.Do(func() {
			for _, room := range s.rooms {
				room.close()
			}
			if s.notifications != nil {
				s.notifications.Close()
			}
		})
		s.cancel()
		close(s.quit)
		select {
		case <-s.stopped:
		case <-time.After(5 * time.Second):
			s.log.Warn("event loop did not stop in time")
		}
	})
}

// User returns the local user's identity.
func (s *Session) User() chat.Sender {
	var user chat.Sender
	_ = s.Do(func() { user = s.user })
	return user
}
