package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/pmdesk/realtime/internal/handler/chat"
	"github.com/zhouzirui/pmdesk/realtime/internal/handler/notification"
	"github.com/zhouzirui/pmdesk/realtime/internal/handler/status"
	middlewarePkg "github.com/zhouzirui/pmdesk/realtime/internal/middleware"
)

// Core is everything the local API exposes. *session.Session implements it.
type Core interface {
	chat.Rooms
	notification.Inbox
	status.Reporter
}

// NewRouter wires the local status and action routes to the session.
func NewRouter(core Core, eventInterval time.Duration, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		status.New(core, eventInterval, log).RegisterRoutes(api)
		chat.New(core).RegisterRoutes(api)
		notification.New(core).RegisterRoutes(api)
	})

	return r
}
