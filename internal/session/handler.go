package session

import (
	"github.com/zhouzirui/pmdesk/realtime/internal/protocol"
)

// topicHandler applies the events of one channel. It runs on the event
// loop. room is nil for the notifications channel, which ignores chat
// events.
type topicHandler struct {
	session *Session
	room    *Room
}

var _ protocol.Handler = (*topicHandler)(nil)

func (h *topicHandler) chatRoom(kind protocol.Type) *Room {
	if h.room == nil {
		h.session.log.Debug("chat event on notifications channel ignored", "type", kind)
	}
	return h.room
}

func (h *topicHandler) ChatMessage(e protocol.ChatMessage) {
	if room := h.chatRoom(e.Type()); room != nil {
		room.messages.Append(e.Message)
		// A message from a typing user ends their indicator.
		room.typing.Stop(e.Message.Sender.ID)
	}
}

func (h *topicHandler) RecentMessages(e protocol.RecentMessages) {
	if room := h.chatRoom(e.Type()); room != nil {
		room.messages.Hydrate(e.Messages)
	}
}

func (h *topicHandler) UserTyping(e protocol.UserTyping) {
	room := h.chatRoom(e.Type())
	if room == nil || e.User.UserID == h.session.user.ID {
		return
	}
	room.typing.Start(e.User.UserID, e.User.DisplayName, h.session.clock.Now())
}

func (h *topicHandler) UserStoppedTyping(e protocol.UserStoppedTyping) {
	if room := h.chatRoom(e.Type()); room != nil {
		room.typing.Stop(e.User.UserID)
	}
}

func (h *topicHandler) OnlineUsers(e protocol.OnlineUsers) {
	if room := h.chatRoom(e.Type()); room != nil {
		room.presence.ApplySnapshot(e.Users)
	}
}

func (h *topicHandler) UserJoined(e protocol.UserJoined) {
	if room := h.chatRoom(e.Type()); room != nil {
		room.presence.Join(e.User)
	}
}

func (h *topicHandler) UserLeft(e protocol.UserLeft) {
	if room := h.chatRoom(e.Type()); room != nil {
		room.presence.Leave(e.User.UserID)
		room.typing.Stop(e.User.UserID)
	}
}

func (h *topicHandler) MessageDeleted(e protocol.MessageDeleted) {
	if room := h.chatRoom(e.Type()); room != nil {
		room.messages.Remove(e.MessageID)
	}
}

func (h *topicHandler) NotificationCreated(e protocol.NotificationCreated) {
	s := h.session
	if s.inbox.Insert(e.Notification) {
		s.unreadChanged()
	}
}

func (h *topicHandler) NotificationBatch(e protocol.NotificationBatch) {
	s := h.session
	if s.inbox.Merge(e.Notifications, s.clock.Now()) > 0 {
		s.unreadChanged()
	}
}
