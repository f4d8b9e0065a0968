// Package fakebackend is an in-memory realtime backend: the notification
// and chat WebSocket channels plus the REST endpoints the client
// reconciles against. It backs the end-to-end tests and local
// development through cmd/tools/fakebackend.
package fakebackend

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/pmdesk/realtime/internal/model/chat"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/notification"
)

var errNotAttached = errors.New("connection not upgraded")

const (
	defaultHistoryLimit = 50
	readTimeout         = 60 * time.Second
	writeTimeout        = 10 * time.Second
	pingInterval        = 54 * time.Second
)

// Options configures a Server.
type Options struct {
	// Secret signs and verifies tokens (HS256).
	Secret []byte
	Logger *slog.Logger
	// Now stamps messages, notifications and tokens. Defaults to time.Now.
	Now func() time.Time
	// HistoryLimit bounds recent_messages and the default REST page.
	HistoryLimit int
}

// Server holds every room and notification in memory.
type Server struct {
	secret   []byte
	log      *slog.Logger
	now      func() time.Time
	history  int
	upgrader websocket.Upgrader

	mu            sync.Mutex
	notifications []*record
	rooms         map[string]*room
	subscribers   map[*peer]struct{}
}

type record struct {
	// recipient is empty for general notifications.
	recipient    string
	notification notification.Notification
}

type room struct {
	messages []chat.Message
	peers    []*peer
}

type peer struct {
	user    chat.Sender
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// New returns an empty backend.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	return &Server{
		secret:  opts.Secret,
		log:     opts.Logger.With("component", "fakebackend"),
		now:     opts.Now,
		history: opts.HistoryLimit,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		rooms:       make(map[string]*room),
		subscribers: make(map[*peer]struct{}),
	}
}

// Handler returns the backend's routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws/notifications/", s.handleNotificationsChannel)
	r.Get("/ws/chat/{room}/", s.handleChatChannel)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/notifications", s.listNotifications)
		r.Get("/notifications/unread-count", s.unreadCount)
		r.Post("/notifications/read-all", s.markAllRead)
		r.Post("/notifications/{id}/read", s.markRead)
		r.Post("/notifications/{id}/archive", s.archive)
		r.Get("/chat/{room}/online", s.onlineUsers)
		r.Get("/chat/{room}/messages", s.recentMessages)
	})
	return r
}

// Disconnect drops every open channel. A zero code closes the sockets
// without a close frame, which clients observe as 1006.
func (s *Server) Disconnect(code int) {
	s.mu.Lock()
	var peers []*peer
	for p := range s.subscribers {
		peers = append(peers, p)
	}
	for _, rm := range s.rooms {
		peers = append(peers, rm.peers...)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.writeMu.Lock()
		if p.conn != nil {
			if code != 0 {
				_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(writeTimeout))
			}
			_ = p.conn.Close()
		}
		p.writeMu.Unlock()
	}
}

// newPeer returns a peer whose writes block until attach.
func newPeer(user chat.Sender) *peer {
	p := &peer{user: user}
	p.writeMu.Lock()
	return p
}

// attach sets the upgraded connection, nil when the upgrade failed.
func (p *peer) attach(conn *websocket.Conn) {
	p.conn = conn
	p.writeMu.Unlock()
}

// send writes one JSON frame to p.
func (p *peer) send(frame any) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.conn == nil {
		return errNotAttached
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteJSON(frame)
}

func (s *Server) sendAll(peers []*peer, frame any) {
	for _, p := range peers {
		if err := p.send(frame); err != nil {
			s.log.Debug("write frame failed", "user", p.user.ID, "error", err)
		}
	}
}

// pingLoop 定期发送ping消息
func (p *peer) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.writeMu.Lock()
			err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			p.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (p *peer) keepAlive() {
	_ = p.conn.SetReadDeadline(time.Now().Add(readTimeout))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
}

func isExpectedClose(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway
	}
	return false
}
