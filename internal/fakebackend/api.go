package fakebackend

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/zhouzirui/pmdesk/realtime/internal/model/chat"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/notification"
	"github.com/zhouzirui/pmdesk/realtime/pkg/utils"
)

var errNotificationNotFound = errors.New("notification not found")

type userKey struct{}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.authenticate(r)
		if err != nil {
			utils.RespondError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

func userFrom(r *http.Request) chat.Sender {
	user, _ := r.Context().Value(userKey{}).(chat.Sender)
	return user
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := notification.Filter{
		Kind:     query.Get("type"),
		Status:   notification.Status(query.Get("status")),
		Priority: notification.Priority(query.Get("priority")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		utils.RespondError(w, http.StatusBadRequest, "invalid status")
		return
	}

	s.mu.Lock()
	list := s.visibleLocked(userFrom(r).ID, filter)
	s.mu.Unlock()

	utils.RespondJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (s *Server) unreadCount(w http.ResponseWriter, r *http.Request) {
	count := s.UnreadCount(userFrom(r).ID)
	utils.RespondJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (s *Server) markAllRead(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r).ID
	updated := 0

	s.mu.Lock()
	now := s.now()
	for _, rec := range s.notifications {
		if !rec.visibleTo(user) || rec.notification.Status != notification.StatusUnread {
			continue
		}
		rec.notification, _ = rec.notification.Transition(notification.StatusRead, now)
		updated++
	}
	s.mu.Unlock()

	utils.RespondJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	s.respondTransition(w, r, notification.StatusRead)
}

func (s *Server) archive(w http.ResponseWriter, r *http.Request) {
	s.respondTransition(w, r, notification.StatusArchived)
}

func (s *Server) respondTransition(w http.ResponseWriter, r *http.Request, to notification.Status) {
	updated, err := s.Transition(userFrom(r).ID, chi.URLParam(r, "id"), to)
	switch {
	case errors.Is(err, errNotificationNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, notification.ErrInvalidTransition):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case err != nil:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	default:
		utils.RespondJSON(w, http.StatusOK, updated)
	}
}

func (s *Server) onlineUsers(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"users": s.Online(chi.URLParam(r, "room"))})
}

func (s *Server) recentMessages(w http.ResponseWriter, r *http.Request) {
	limit := s.history
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			utils.RespondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	s.mu.Lock()
	messages := recentLocked(s.roomLocked(chi.URLParam(r, "room")), limit)
	s.mu.Unlock()

	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// Transition moves one of the user's notifications to another status,
// the same way the REST endpoints do. Tests use it to change server
// state behind the client's back.
func (s *Server) Transition(userID, id string, to notification.Status) (notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := lo.Find(s.notifications, func(rec *record) bool {
		return rec.notification.ID == id && rec.visibleTo(userID)
	})
	if !ok {
		return notification.Notification{}, errNotificationNotFound
	}
	updated, err := rec.notification.Transition(to, s.now())
	if err != nil {
		return rec.notification, err
	}
	rec.notification = updated
	return updated, nil
}

// UnreadCount returns the server-side unread count of a user.
func (s *Server) UnreadCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visibleLocked(userID, notification.Filter{Status: notification.StatusUnread}))
}

// visibleLocked lists the user's matching notifications, newest first.
func (s *Server) visibleLocked(userID string, filter notification.Filter) []notification.Notification {
	list := lo.FilterMap(s.notifications, func(rec *record, _ int) (notification.Notification, bool) {
		return rec.notification, rec.visibleTo(userID) && filter.Match(rec.notification)
	})
	slices.Reverse(list)
	return list
}

func (rec *record) visibleTo(userID string) bool {
	return rec.recipient == "" || rec.recipient == userID
}
