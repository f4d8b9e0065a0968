package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/zhouzirui/pmdesk/realtime/internal/model/chat"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/notification"
	"github.com/zhouzirui/pmdesk/realtime/internal/protocol"
)

// SendMessage sends a chat message to a room and records an optimistic
// pending copy, replaced by the server echo when it arrives. It fails
// with transport.ErrNotConnected while the room's channel is not open;
// nothing is queued in that case.
func (s *Session) SendMessage(roomName, body string) (chat.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	var (
		sent chat.Message
		err  error
	)
	if doErr := s.Do(func() {
		var room *Room
		if room, err = s.room(roomName); err != nil {
			return
		}

		clientID := uuid.NewString()
		room.messages.AddPending(chat.Message{
			Room:      roomName,
			Sender:    s.user,
			Body:      body,
			CreatedAt: s.clock.Now(),
			ClientID:  clientID,
		})
		if err = room.channel.Send(protocol.NewChatMessage(body, clientID)); err != nil {
			room.messages.DropPending(clientID)
			return
		}
		sent, _ = lo.Find(room.messages.List(), func(m chat.Message) bool {
			return m.Pending && m.ClientID == clientID
		})

		if stopErr := room.signaler.Stop(); stopErr != nil {
			s.log.Debug("stop typing after send failed", "room", roomName, "error", stopErr)
		}
	}); doErr != nil {
		return chat.Message{}, doErr
	}
	return sent, err
}

// Keystroke signals local typing activity in a room.
func (s *Session) Keystroke(roomName string) error {
	return s.withRoom(roomName, func(room *Room) error {
		return room.signaler.Keystroke()
	})
}

// StopTyping ends the local typing burst in a room.
func (s *Session) StopTyping(roomName string) error {
	return s.withRoom(roomName, func(room *Room) error {
		return room.signaler.Stop()
	})
}

// DeleteMessage asks the server to delete a message. The local copy is
// removed when the server broadcasts message_deleted.
func (s *Session) DeleteMessage(roomName, messageID string) error {
	return s.withRoom(roomName, func(room *Room) error {
		return room.channel.Send(protocol.NewDeleteMessage(messageID))
	})
}

func (s *Session) withRoom(roomName string, fn func(room *Room) error) error {
	var err error
	if doErr := s.Do(func() {
		var room *Room
		if room, err = s.room(roomName); err != nil {
			return
		}
		err = fn(room)
	}); doErr != nil {
		return doErr
	}
	return err
}

// MarkRead marks one notification read on the server, then locally.
// On failure the inbox is left unchanged.
func (s *Session) MarkRead(ctx context.Context, id string) error {
	return s.transition(ctx, id, notification.StatusRead, s.opts.Backend.MarkRead)
}

// Archive archives one notification on the server, then locally.
func (s *Session) Archive(ctx context.Context, id string) error {
	return s.transition(ctx, id, notification.StatusArchived, s.opts.Backend.Archive)
}

func (s *Session) transition(ctx context.Context, id string, to notification.Status, call func(context.Context, string) error) error {
	var err error
	if doErr := s.Do(func() { err = s.inbox.Check(id, to) }); doErr != nil {
		return doErr
	}
	if err != nil {
		return err
	}

	if err := call(ctx, id); err != nil {
		return fmt.Errorf("%s notification %s: %w", to, id, err)
	}

	if doErr := s.Do(func() {
		if err = s.inbox.Check(id, to); err != nil {
			return
		}
		switch to {
		case notification.StatusArchived:
			err = s.inbox.Archive(id, s.clock.Now())
		default:
			err = s.inbox.MarkRead(id, s.clock.Now())
		}
		s.unreadChanged()
	}); doErr != nil {
		return doErr
	}
	return err
}

// MarkAllRead marks every notification read on the server, then applies
// the change locally in one step. Returns how many moved locally.
func (s *Session) MarkAllRead(ctx context.Context) (int, error) {
	if err := s.opts.Backend.MarkAllRead(ctx); err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}

	var (
		moved int
		err   error
	)
	if doErr := s.Do(func() {
		moved, err = s.inbox.MarkAllRead(s.clock.Now())
		s.unreadChanged()
	}); doErr != nil {
		return 0, doErr
	}
	return moved, err
}

// RefreshNotifications lists notifications from the server, merges them
// into the inbox and returns the local view for the same filter.
func (s *Session) RefreshNotifications(ctx context.Context, filter notification.Filter) ([]notification.Notification, error) {
	list, err := s.opts.Backend.Notifications(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	var result []notification.Notification
	if doErr := s.Do(func() {
		if s.inbox.Merge(list, s.clock.Now()) > 0 {
			s.unreadChanged()
		}
		result = s.inbox.List(filter)
	}); doErr != nil {
		return nil, doErr
	}
	return result, nil
}
