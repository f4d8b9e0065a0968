package session

import (
	"context"
	"errors"

	"github.com/samber/lo"

	"github.com/zhouzirui/pmdesk/realtime/internal/model/chat"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/notification"
)

// hydrateRoom reloads a room's history and online users after its
// channel (re)opens. The REST calls run off the loop; live frames keep
// applying meanwhile and the results are merged, not substituted.
func (s *Session) hydrateRoom(room *Room) {
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.HydrateTimeout)
		defer cancel()

		history, historyErr := s.opts.Backend.RecentMessages(ctx, room.name, s.opts.HistoryLimit)
		users, usersErr := s.opts.Backend.OnlineUsers(ctx, room.name)

		s.post(func() {
			if s.rooms[room.name] != room {
				return
			}
			if historyErr != nil {
				s.log.Warn("history hydration failed", "room", room.name, "error", historyErr)
			} else {
				added := room.messages.Hydrate(history)
				s.log.Debug("history hydrated", "room", room.name, "added", added)
			}
			if usersErr != nil {
				s.log.Warn("presence hydration failed", "room", room.name, "error", usersErr)
			} else {
				room.presence.ApplySnapshot(users)
			}
			s.hydrated(chat.Topic(room.name), errors.Join(historyErr, usersErr))
		})
	}()
}

// hydrateNotifications reconciles the inbox with the server's unread
// set after the notifications channel (re)opens. Only records that were
// unread when the fetch began can be marked read from elsewhere; frames
// applied while the REST calls are outstanding are merged untouched.
func (s *Session) hydrateNotifications() {
	s.post(func() {
		known := s.inbox.UnreadIDs()
		go s.fetchNotifications(known)
	})
}

func (s *Session) fetchNotifications(known []string) {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.HydrateTimeout)
	defer cancel()

	unread, listErr := s.opts.Backend.Notifications(ctx, notification.Filter{Status: notification.StatusUnread})
	serverCount, countErr := s.opts.Backend.UnreadCount(ctx)

	s.post(func() {
		if listErr != nil {
			s.log.Warn("notification hydration failed", "error", listErr)
			s.hydrated(chat.NotificationsTopic, listErr)
			return
		}
		now := s.clock.Now()
		s.inbox.Merge(unread, now)

		// Unread before the fetch but not on the server: read from elsewhere.
		serverUnread := lo.SliceToMap(unread, func(n notification.Notification) (string, struct{}) {
			return n.ID, struct{}{}
		})
		for _, id := range known {
			if _, ok := serverUnread[id]; !ok {
				_ = s.inbox.MarkRead(id, now)
			}
		}

		s.reconciled = true
		s.provisional = nil
		derived := s.inbox.UnreadCount()
		if countErr != nil {
			s.log.Warn("unread count request failed", "error", countErr)
		} else if serverCount != derived {
			s.log.Info("unread count differs from server list", "server", serverCount, "local", derived)
		}
		s.unreadChanged()
		s.hydrated(chat.NotificationsTopic, countErr)
	})
}

func (s *Session) hydrated(topic string, err error) {
	if s.opts.OnHydrated != nil {
		s.opts.OnHydrated(topic, err)
	}
}

// unreadChanged persists the derived unread count once the inbox has
// been reconciled with the server at least once.
func (s *Session) unreadChanged() {
	if !s.reconciled || s.opts.Cache == nil || s.user.ID == "" {
		return
	}
	if err := s.opts.Cache.StoreUnread(s.user.ID, s.inbox.UnreadCount()); err != nil {
		s.log.Warn("store unread count failed", "error", err)
	}
}
