package status

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/pmdesk/realtime/internal/handler/apierr"
	"github.com/zhouzirui/pmdesk/realtime/internal/session"
	"github.com/zhouzirui/pmdesk/realtime/pkg/utils"
)

const heartbeatEvery = 15

// Reporter 提供会话状态快照
type Reporter interface {
	Status() (session.Status, error)
}

// Handler 连接状态的HTTP处理器
type Handler struct {
	reporter Reporter
	interval time.Duration
	log      *slog.Logger
}

// New 创建状态处理器，interval 为事件流的轮询间隔
func New(reporter Reporter, interval time.Duration, log *slog.Logger) *Handler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Handler{reporter: reporter, interval: interval, log: log}
}

// RegisterRoutes 注册状态相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.handleStatus)
	r.Get("/events", h.handleEvents)
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status, err := h.reporter.Status()
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, status)
}

// handleEvents 以SSE推送状态变化，无变化时定期发送心跳
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	h.log.Debug("status stream opened", "remote", r.RemoteAddr)
	defer h.log.Debug("status stream closed", "remote", r.RemoteAddr)

	var last []byte
	idle := 0
	push := func() bool {
		status, err := h.reporter.Status()
		if err != nil {
			_ = utils.SendSSEEvent(w, flusher, "error", utils.ErrorBody{Error: err.Error()})
			return false
		}
		encoded, err := json.Marshal(status)
		if err != nil {
			return false
		}
		if bytes.Equal(encoded, last) {
			idle++
			if idle < heartbeatEvery {
				return true
			}
			idle = 0
			return utils.SendSSEEvent(w, flusher, "heartbeat", map[string]string{
				"time": time.Now().UTC().Format(time.RFC3339),
			}) == nil
		}
		last, idle = encoded, 0
		return utils.SendSSEEvent(w, flusher, "status", json.RawMessage(encoded)) == nil
	}

	if !push() {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !push() {
				return
			}
		}
	}
}
