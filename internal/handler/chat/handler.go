package chat

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/pmdesk/realtime/internal/handler/apierr"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/chat"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/presence"
	"github.com/zhouzirui/pmdesk/realtime/internal/service/typing"
	"github.com/zhouzirui/pmdesk/realtime/pkg/utils"
)

const defaultPresenceLimit = 5

// Rooms 是处理器依赖的聊天室能力，由 session.Session 实现
type Rooms interface {
	Messages(room string, includeSystem bool) ([]chat.Message, error)
	Presence(room string, limit int) ([]presence.Entry, presence.Summary, error)
	Typing(room string) ([]typing.Entry, error)
	SendMessage(room, body string) (chat.Message, error)
	Keystroke(room string) error
	StopTyping(room string) error
	DeleteMessage(room, messageID string) error
}

// Handler 聊天室的HTTP处理器
type Handler struct {
	rooms Rooms
}

// New 创建聊天处理器
func New(rooms Rooms) *Handler {
	return &Handler{rooms: rooms}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/rooms/{room}", func(room chi.Router) {
		room.Get("/messages", h.handleListMessages)
		room.Post("/messages", h.handleSendMessage)
		room.Delete("/messages/{messageID}", h.handleDeleteMessage)
		room.Get("/presence", h.handlePresence)
		room.Get("/typing", h.handleListTyping)
		room.Post("/typing", h.handleTyping)
	})
}

// handleListMessages 按显示顺序返回消息，system=false 时隐藏系统消息
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	includeSystem := r.URL.Query().Get("system") != "false"
	messages, err := h.rooms.Messages(chi.URLParam(r, "room"), includeSystem)
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// handleSendMessage 发送消息并返回乐观副本
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Body string `json:"body"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	message, err := h.rooms.SendMessage(chi.URLParam(r, "room"), payload.Body)
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, message)
}

func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.rooms.DeleteMessage(chi.URLParam(r, "room"), chi.URLParam(r, "messageID")); err != nil {
		apierr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

// handlePresence 返回在线用户，limit 控制摘要显示的数量
func (h *Handler) handlePresence(w http.ResponseWriter, r *http.Request) {
	limit := defaultPresenceLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	online, summary, err := h.rooms.Presence(chi.URLParam(r, "room"), limit)
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	if online == nil {
		online = []presence.Entry{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"online": online, "summary": summary})
}

func (h *Handler) handleListTyping(w http.ResponseWriter, r *http.Request) {
	entries, err := h.rooms.Typing(chi.URLParam(r, "room"))
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	if entries == nil {
		entries = []typing.Entry{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"typing": entries})
}

// handleTyping 记录本地输入状态，active=false 立即停止
func (h *Handler) handleTyping(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Active *bool `json:"active"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	room := chi.URLParam(r, "room")
	var err error
	if payload.Active != nil && !*payload.Active {
		err = h.rooms.StopTyping(room)
	} else {
		err = h.rooms.Keystroke(room)
	}
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
