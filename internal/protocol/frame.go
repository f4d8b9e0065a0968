// Package protocol defines the JSON frames exchanged over a realtime
// channel. Inbound frames decode into the closed Event sum type; each
// Event applies itself to exactly one Handler method, so adding a frame
// kind without handling it fails to compile.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zhouzirui/pmdesk/realtime/internal/model/chat"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/notification"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/presence"
)

// Type is the frame discriminator carried in the "type" field.
type Type string

const (
	TypeChatMessage          Type = "chat_message"
	TypeRecentMessages       Type = "recent_messages"
	TypeUserTyping           Type = "user_typing"
	TypeUserStoppedTyping    Type = "user_stopped_typing"
	TypeOnlineUsers          Type = "online_users"
	TypeOnlineUsersUpdate    Type = "online_users_update"
	TypeUserJoined           Type = "user_joined"
	TypeUserLeft             Type = "user_left"
	TypeMessageDeleted       Type = "message_deleted"
	TypeNotificationPersonal Type = "notification_personal"
	TypeNotificationGeneral  Type = "notification_general"
	TypeNotificationsUnread  Type = "notifications_non_lues"

	// Outbound only.
	TypeTyping        Type = "typing"
	TypeStopTyping    Type = "stop_typing"
	TypeDeleteMessage Type = "delete_message"
)

var (
	// ErrMalformedFrame wraps JSON and shape errors of a single frame.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownType marks a well-formed frame with an unrecognized type.
	ErrUnknownType = errors.New("unknown frame type")
)

// Handler receives decoded events. One method per event kind.
type Handler interface {
	ChatMessage(ChatMessage)
	RecentMessages(RecentMessages)
	UserTyping(UserTyping)
	UserStoppedTyping(UserStoppedTyping)
	OnlineUsers(OnlineUsers)
	UserJoined(UserJoined)
	UserLeft(UserLeft)
	MessageDeleted(MessageDeleted)
	NotificationCreated(NotificationCreated)
	NotificationBatch(NotificationBatch)
}

// Event is an inbound frame decoded into its typed payload.
type Event interface {
	Type() Type
	Apply(Handler)
}

type ChatMessage struct {
	Message chat.Message `json:"message"`
}

type RecentMessages struct {
	Messages []chat.Message `json:"messages" validate:"dive"`
}

type UserTyping struct {
	User presence.Entry `json:"user"`
}

type UserStoppedTyping struct {
	User presence.Entry `json:"user"`
}

// OnlineUsers is an authoritative presence snapshot. Update is true for
// online_users_update frames; both replace the set.
type OnlineUsers struct {
	Users  []presence.Entry `json:"users" validate:"dive"`
	Update bool             `json:"-"`
}

type UserJoined struct {
	User presence.Entry `json:"user"`
}

type UserLeft struct {
	User presence.Entry `json:"user"`
}

type MessageDeleted struct {
	MessageID string `json:"message_id" validate:"required"`
}

type NotificationCreated struct {
	Notification notification.Notification `json:"notification"`
	Personal     bool                      `json:"-"`
}

type NotificationBatch struct {
	Notifications []notification.Notification `json:"notifications" validate:"dive"`
}

func (ChatMessage) Type() Type       { return TypeChatMessage }
func (RecentMessages) Type() Type    { return TypeRecentMessages }
func (UserTyping) Type() Type        { return TypeUserTyping }
func (UserStoppedTyping) Type() Type { return TypeUserStoppedTyping }
func (UserJoined) Type() Type        { return TypeUserJoined }
func (UserLeft) Type() Type          { return TypeUserLeft }
func (MessageDeleted) Type() Type    { return TypeMessageDeleted }
func (NotificationBatch) Type() Type { return TypeNotificationsUnread }

func (e OnlineUsers) Type() Type {
	if e.Update {
		return TypeOnlineUsersUpdate
	}
	return TypeOnlineUsers
}

func (e NotificationCreated) Type() Type {
	if e.Personal {
		return TypeNotificationPersonal
	}
	return TypeNotificationGeneral
}

func (e ChatMessage) Apply(h Handler)         { h.ChatMessage(e) }
func (e RecentMessages) Apply(h Handler)      { h.RecentMessages(e) }
func (e UserTyping) Apply(h Handler)          { h.UserTyping(e) }
func (e UserStoppedTyping) Apply(h Handler)   { h.UserStoppedTyping(e) }
func (e OnlineUsers) Apply(h Handler)         { h.OnlineUsers(e) }
func (e UserJoined) Apply(h Handler)          { h.UserJoined(e) }
func (e UserLeft) Apply(h Handler)            { h.UserLeft(e) }
func (e MessageDeleted) Apply(h Handler)      { h.MessageDeleted(e) }
func (e NotificationCreated) Apply(h Handler) { h.NotificationCreated(e) }
func (e NotificationBatch) Apply(h Handler)   { h.NotificationBatch(e) }

type envelope struct {
	Type Type `json:"type"`
}

// PeekType returns the discriminator of a raw frame.
func PeekType(raw []byte) (Type, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return env.Type, nil
}

// Decode parses one inbound frame. Unknown types return ErrUnknownType
// together with the type read from the frame.
func Decode(raw []byte) (Event, error) {
	typ, err := PeekType(raw)
	if err != nil {
		return nil, err
	}

	var event Event
	switch typ {
	case TypeChatMessage:
		event, err = decodeInto[ChatMessage](raw)
	case TypeRecentMessages:
		event, err = decodeInto[RecentMessages](raw)
	case TypeUserTyping:
		event, err = decodeInto[UserTyping](raw)
	case TypeUserStoppedTyping:
		event, err = decodeInto[UserStoppedTyping](raw)
	case TypeOnlineUsers, TypeOnlineUsersUpdate:
		var users OnlineUsers
		users, err = decodeInto[OnlineUsers](raw)
		users.Update = typ == TypeOnlineUsersUpdate
		event = users
	case TypeUserJoined:
		event, err = decodeInto[UserJoined](raw)
	case TypeUserLeft:
		event, err = decodeInto[UserLeft](raw)
	case TypeMessageDeleted:
		event, err = decodeInto[MessageDeleted](raw)
	case TypeNotificationPersonal, TypeNotificationGeneral:
		var created NotificationCreated
		created, err = decodeInto[NotificationCreated](raw)
		created.Personal = typ == TypeNotificationPersonal
		if created.Personal {
			created.Notification.IsPersonal = true
		} else {
			created.Notification.IsGeneral = true
		}
		event = created
	case TypeNotificationsUnread:
		event, err = decodeInto[NotificationBatch](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func decodeInto[T any](raw []byte) (T, error) {
	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return payload, nil
}
