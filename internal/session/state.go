package session

import (
	"github.com/zhouzirui/pmdesk/realtime/internal/model/chat"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/notification"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/presence"
	"github.com/zhouzirui/pmdesk/realtime/internal/service/typing"
	"github.com/zhouzirui/pmdesk/realtime/internal/transport"
)

// Status summarizes every channel of the session.
type Status struct {
	User          chat.Sender                 `json:"user"`
	Notifications transport.Status            `json:"notifications"`
	Rooms         map[string]transport.Status `json:"rooms"`
	Unread        int                         `json:"unread"`
	// UnreadProvisional is true while Unread comes from the cache and the
	// inbox has not been reconciled with the server yet.
	UnreadProvisional bool `json:"unread_provisional"`
}

// Status returns the connection state of every channel and the unread
// count.
func (s *Session) Status() (Status, error) {
	var status Status
	err := s.Do(func() {
		status.User = s.user
		if s.notifications != nil {
			status.Notifications = s.notifications.Status()
		}
		status.Rooms = make(map[string]transport.Status, len(s.rooms))
		for name, room := range s.rooms {
			status.Rooms[name] = room.channel.Status()
		}
		status.Unread, status.UnreadProvisional = s.unreadLocked()
	})
	return status, err
}

// UnreadCount returns the unread count and whether it is provisional.
func (s *Session) UnreadCount() (int, bool, error) {
	var (
		count       int
		provisional bool
	)
	err := s.Do(func() { count, provisional = s.unreadLocked() })
	return count, provisional, err
}

func (s *Session) unreadLocked() (int, bool) {
	if !s.reconciled && s.provisional != nil {
		return *s.provisional, true
	}
	return s.inbox.UnreadCount(), false
}

// Messages returns a room's messages in display order. System messages
// are left out unless includeSystem is set.
func (s *Session) Messages(roomName string, includeSystem bool) ([]chat.Message, error) {
	var list []chat.Message
	err := s.query(roomName, func(room *Room) {
		if includeSystem {
			list = room.messages.List()
			return
		}
		list = room.messages.ListUser()
	})
	return list, err
}

// Presence returns a room's online users, most recent first, and the
// summary truncated to limit.
func (s *Session) Presence(roomName string, limit int) ([]presence.Entry, presence.Summary, error) {
	var (
		online  []presence.Entry
		summary presence.Summary
	)
	err := s.query(roomName, func(room *Room) {
		online = room.presence.Online()
		summary = room.presence.Summary(limit)
	})
	return online, summary, err
}

// Typing returns who is typing in a room, excluding expired entries.
func (s *Session) Typing(roomName string) ([]typing.Entry, error) {
	var entries []typing.Entry
	err := s.query(roomName, func(room *Room) {
		entries = room.typing.Active(s.clock.Now())
	})
	return entries, err
}

// Notifications returns the local inbox view, newest first.
func (s *Session) Notifications(filter notification.Filter) ([]notification.Notification, error) {
	var list []notification.Notification
	err := s.Do(func() { list = s.inbox.List(filter) })
	return list, err
}

func (s *Session) query(roomName string, fn func(room *Room)) error {
	return s.withRoom(roomName, func(room *Room) error {
		fn(room)
		return nil
	})
}
