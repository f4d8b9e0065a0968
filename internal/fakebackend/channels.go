package fakebackend

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/zhouzirui/pmdesk/realtime/internal/model/chat"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/notification"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/presence"
	"github.com/zhouzirui/pmdesk/realtime/internal/protocol"
)

type frame map[string]any

func entryOf(user chat.Sender) presence.Entry {
	return presence.Entry{UserID: user.ID, DisplayName: user.DisplayName, Service: user.Service}
}

// handleChatChannel 处理聊天室 WebSocket 连接
func (s *Server) handleChatChannel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "room")
	if !chat.ValidRoomName(name) {
		http.Error(w, "invalid room", http.StatusBadRequest)
		return
	}
	user, err := s.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	// 先登记在线再升级，握手完成时 REST 快照已包含该用户
	p := newPeer(user)
	online, recent := s.joinRoom(name, p)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	p.attach(conn)
	if err != nil {
		s.leaveRoom(name, p)
		s.log.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.log.Info("chat channel opened", "room", name, "user", user.ID)
	if err := p.send(frame{"type": protocol.TypeOnlineUsers, "users": online}); err != nil {
		return
	}
	if err := p.send(frame{"type": protocol.TypeRecentMessages, "messages": recent}); err != nil {
		return
	}
	s.announce(name, user, "joined")

	defer func() {
		s.leaveRoom(name, p)
		s.announce(name, user, "left")
		s.log.Info("chat channel closed", "room", name, "user", user.ID)
	}()

	p.keepAlive()
	go p.pingLoop(ctx)

	for {
		var msg protocol.Outbound
		if err := conn.ReadJSON(&msg); err != nil {
			if !isExpectedClose(err) {
				s.log.Debug("chat read ended", "room", name, "user", user.ID, "error", err)
			}
			return
		}
		s.handleChatFrame(name, p, msg)
	}
}

func (s *Server) handleChatFrame(name string, p *peer, msg protocol.Outbound) {
	switch msg.Type {
	case protocol.TypeChatMessage:
		body := strings.TrimSpace(msg.Message)
		if body == "" {
			return
		}
		s.Post(name, p.user, body, msg.ClientID)
	case protocol.TypeTyping:
		s.sendAll(s.roomPeers(name, p), frame{"type": protocol.TypeUserTyping, "user": entryOf(p.user)})
	case protocol.TypeStopTyping:
		s.sendAll(s.roomPeers(name, p), frame{"type": protocol.TypeUserStoppedTyping, "user": entryOf(p.user)})
	case protocol.TypeDeleteMessage:
		if s.deleteMessage(name, msg.MessageID, p.user.ID) {
			s.sendAll(s.roomPeers(name, nil), frame{"type": protocol.TypeMessageDeleted, "message_id": msg.MessageID})
		}
	default:
		s.log.Debug("unsupported frame", "type", msg.Type)
	}
}

// Post stores a message from user in a room and broadcasts it to every
// connected member, the author included.
func (s *Server) Post(name string, user chat.Sender, body, clientID string) chat.Message {
	msg := chat.Message{
		ID:        uuid.NewString(),
		Room:      name,
		Sender:    user,
		Body:      body,
		CreatedAt: s.now(),
		IsSystem:  user.ID == chat.SystemSenderID,
		ClientID:  clientID,
	}

	s.mu.Lock()
	rm := s.roomLocked(name)
	rm.messages = append(rm.messages, msg)
	peers := slices.Clone(rm.peers)
	s.mu.Unlock()

	s.sendAll(peers, frame{"type": protocol.TypeChatMessage, "message": msg})
	return msg
}

// announce posts a system message and the refreshed presence snapshot.
func (s *Server) announce(name string, user chat.Sender, verb string) {
	system := chat.Sender{ID: chat.SystemSenderID, DisplayName: "System"}
	s.Post(name, system, fmt.Sprintf("%s %s the room", user.DisplayName, verb), "")

	online := s.Online(name)
	peers := s.roomPeers(name, nil)
	if verb == "joined" {
		s.sendAll(peers, frame{"type": protocol.TypeUserJoined, "user": entryOf(user)})
	} else {
		s.sendAll(peers, frame{"type": protocol.TypeUserLeft, "user": entryOf(user)})
	}
	s.sendAll(peers, frame{"type": protocol.TypeOnlineUsersUpdate, "users": online})
}

func (s *Server) roomLocked(name string) *room {
	rm, ok := s.rooms[name]
	if !ok {
		rm = &room{}
		s.rooms[name] = rm
	}
	return rm
}

func (s *Server) joinRoom(name string, p *peer) ([]presence.Entry, []chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm := s.roomLocked(name)
	rm.peers = append(rm.peers, p)
	return onlineLocked(rm), recentLocked(rm, s.history)
}

func (s *Server) leaveRoom(name string, p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm := s.roomLocked(name)
	rm.peers = slices.DeleteFunc(rm.peers, func(other *peer) bool { return other == p })
}

// roomPeers returns the connected members of a room except skip.
func (s *Server) roomPeers(name string, skip *peer) []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Filter(s.roomLocked(name).peers, func(p *peer, _ int) bool { return p != skip })
}

func (s *Server) deleteMessage(name, id, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm := s.roomLocked(name)
	index := slices.IndexFunc(rm.messages, func(m chat.Message) bool {
		return m.ID == id && m.Sender.ID == userID
	})
	if index < 0 {
		return false
	}
	rm.messages = slices.Delete(rm.messages, index, index+1)
	return true
}

// Online returns the distinct users connected to a room, most recent
// first.
func (s *Server) Online(name string) []presence.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return onlineLocked(s.roomLocked(name))
}

func onlineLocked(rm *room) []presence.Entry {
	entries := make([]presence.Entry, 0, len(rm.peers))
	for i := len(rm.peers) - 1; i >= 0; i-- {
		entries = append(entries, entryOf(rm.peers[i].user))
	}
	return lo.UniqBy(entries, func(e presence.Entry) string { return e.UserID })
}

func recentLocked(rm *room, limit int) []chat.Message {
	start := max(len(rm.messages)-limit, 0)
	return slices.Clone(rm.messages[start:])
}

// handleNotificationsChannel 处理通知 WebSocket 连接
func (s *Server) handleNotificationsChannel(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	p := newPeer(user)
	s.mu.Lock()
	s.subscribers[p] = struct{}{}
	unread := s.visibleLocked(user.ID, notification.Filter{Status: notification.StatusUnread})
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subscribers, p)
		s.mu.Unlock()
	}()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	p.attach(conn)
	if err != nil {
		s.log.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.log.Info("notifications channel opened", "user", user.ID)
	if err := p.send(frame{"type": protocol.TypeNotificationsUnread, "notifications": unread}); err != nil {
		return
	}

	p.keepAlive()
	go p.pingLoop(ctx)

	// 客户端不会在通知通道上发送业务帧，读循环只处理控制帧
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Notify stores a notification and pushes it to the recipient's open
// notification channels. An empty recipient makes it general.
func (s *Server) Notify(recipient string, n notification.Notification) notification.Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if n.Priority == "" {
		n.Priority = notification.PriorityNormal
	}
	n.Status = notification.StatusUnread
	n.ReadAt = nil
	n.IsPersonal = recipient != ""
	n.IsGeneral = recipient == ""

	s.mu.Lock()
	s.notifications = append(s.notifications, &record{recipient: recipient, notification: n})
	var targets []*peer
	for p := range s.subscribers {
		if recipient == "" || p.user.ID == recipient {
			targets = append(targets, p)
		}
	}
	s.mu.Unlock()

	typ := protocol.TypeNotificationGeneral
	if n.IsPersonal {
		typ = protocol.TypeNotificationPersonal
	}
	s.sendAll(targets, frame{"type": typ, "notification": n})
	return n
}
