package notification

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/pmdesk/realtime/internal/handler/apierr"
	model "github.com/zhouzirui/pmdesk/realtime/internal/model/notification"
	"github.com/zhouzirui/pmdesk/realtime/pkg/utils"
)

// Inbox 是处理器依赖的通知能力，由 session.Session 实现
type Inbox interface {
	Notifications(filter model.Filter) ([]model.Notification, error)
	RefreshNotifications(ctx context.Context, filter model.Filter) ([]model.Notification, error)
	UnreadCount() (int, bool, error)
	MarkRead(ctx context.Context, id string) error
	Archive(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) (int, error)
}

// Handler 通知的HTTP处理器
type Handler struct {
	inbox Inbox
}

// New 创建通知处理器
func New(inbox Inbox) *Handler {
	return &Handler{inbox: inbox}
}

// RegisterRoutes 注册通知相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(n chi.Router) {
		n.Get("/", h.handleList)
		n.Get("/unread-count", h.handleUnreadCount)
		n.Post("/read-all", h.handleMarkAllRead)
		n.Post("/{id}/read", h.handleMarkRead)
		n.Post("/{id}/archive", h.handleArchive)
	})
}

// handleList 按 status/kind/priority 过滤通知，refresh=true 时先向服务端拉取
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := model.Filter{
		Kind:     query.Get("kind"),
		Status:   model.Status(query.Get("status")),
		Priority: model.Priority(query.Get("priority")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		utils.RespondError(w, http.StatusBadRequest, "unknown status")
		return
	}

	var (
		list []model.Notification
		err  error
	)
	if query.Get("refresh") == "true" {
		list, err = h.inbox.RefreshNotifications(r.Context(), filter)
	} else {
		list, err = h.inbox.Notifications(filter)
	}
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	if list == nil {
		list = []model.Notification{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, _ *http.Request) {
	count, provisional, err := h.inbox.UnreadCount()
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"count": count, "provisional": provisional})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.inbox.MarkRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		apierr.Respond(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	if err := h.inbox.Archive(r.Context(), chi.URLParam(r, "id")); err != nil {
		apierr.Respond(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	moved, err := h.inbox.MarkAllRead(r.Context())
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]int{"updated": moved})
}
