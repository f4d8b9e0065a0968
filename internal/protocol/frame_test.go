package protocol

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/pmdesk/realtime/internal/model/notification"
)

type recordingHandler struct {
	calls []Type
	last  Event
}

func (r *recordingHandler) record(e Event) {
	r.calls = append(r.calls, e.Type())
	r.last = e
}

func (r *recordingHandler) ChatMessage(e ChatMessage)                 { r.record(e) }
func (r *recordingHandler) RecentMessages(e RecentMessages)           { r.record(e) }
func (r *recordingHandler) UserTyping(e UserTyping)                   { r.record(e) }
func (r *recordingHandler) UserStoppedTyping(e UserStoppedTyping)     { r.record(e) }
func (r *recordingHandler) OnlineUsers(e OnlineUsers)                 { r.record(e) }
func (r *recordingHandler) UserJoined(e UserJoined)                   { r.record(e) }
func (r *recordingHandler) UserLeft(e UserLeft)                       { r.record(e) }
func (r *recordingHandler) MessageDeleted(e MessageDeleted)           { r.record(e) }
func (r *recordingHandler) NotificationCreated(e NotificationCreated) { r.record(e) }
func (r *recordingHandler) NotificationBatch(e NotificationBatch)     { r.record(e) }

func TestDecodeEveryKnownType(t *testing.T) {
	frames := map[Type]string{
		TypeChatMessage:          `{"type":"chat_message","message":{"id":"1","sender":{"id":"u1"},"body":"hi","created_at":"2026-01-01T10:00:00Z"}}`,
		TypeRecentMessages:       `{"type":"recent_messages","messages":[]}`,
		TypeUserTyping:           `{"type":"user_typing","user":{"user_id":"u1","display_name":"Ana"}}`,
		TypeUserStoppedTyping:    `{"type":"user_stopped_typing","user":{"user_id":"u1"}}`,
		TypeOnlineUsers:          `{"type":"online_users","users":[{"user_id":"u1"}]}`,
		TypeOnlineUsersUpdate:    `{"type":"online_users_update","users":[]}`,
		TypeUserJoined:           `{"type":"user_joined","user":{"user_id":"u2"}}`,
		TypeUserLeft:             `{"type":"user_left","user":{"user_id":"u2"}}`,
		TypeMessageDeleted:       `{"type":"message_deleted","message_id":"1"}`,
		TypeNotificationPersonal: `{"type":"notification_personal","notification":{"id":"n1","title":"t"}}`,
		TypeNotificationGeneral:  `{"type":"notification_general","notification":{"id":"n2"}}`,
		TypeNotificationsUnread:  `{"type":"notifications_non_lues","notifications":[{"id":"n3"}]}`,
	}

	for typ, raw := range frames {
		t.Run(string(typ), func(t *testing.T) {
			event, err := Decode([]byte(raw))
			require.NoError(t, err)
			require.Equal(t, typ, event.Type())

			h := &recordingHandler{}
			event.Apply(h)
			require.Equal(t, []Type{typ}, h.calls)
		})
	}
}

func TestDecodeChatMessagePayload(t *testing.T) {
	raw := `{"type":"chat_message","message":{"id":"42","room":"general","sender":{"id":"u1","display_name":"Ana","service":"design"},"body":"hello","created_at":"2026-01-01T10:00:00Z","is_system":false}}`

	event, err := Decode([]byte(raw))
	require.NoError(t, err)

	msg := event.(ChatMessage).Message
	require.Equal(t, "42", msg.ID)
	require.Equal(t, "design", msg.Sender.Service)
	require.Equal(t, time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), msg.CreatedAt)
}

func TestDecodeNotificationFlags(t *testing.T) {
	event, err := Decode([]byte(`{"type":"notification_personal","notification":{"id":"n1"}}`))
	require.NoError(t, err)
	created := event.(NotificationCreated)
	require.True(t, created.Personal)
	require.True(t, created.Notification.IsPersonal)
	require.Equal(t, notification.Status(""), created.Notification.Status)
}

func TestDecodeUnknownTypeIsNotMalformed(t *testing.T) {
	_, err := Decode([]byte(`{"type":"reaction_added","emoji":"+1"}`))
	require.ErrorIs(t, err, ErrUnknownType)
	require.False(t, errors.Is(err, ErrMalformedFrame))
}

func TestDecodeMalformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"message":{}}`,
		`{"type":"chat_message","message":"oops"}`,
	} {
		_, err := Decode([]byte(raw))
		require.ErrorIs(t, err, ErrMalformedFrame, raw)
	}
}

func TestOutboundEncodeIsSingleLine(t *testing.T) {
	frame := NewChatMessage("line one\nline two", "c-1")
	data, err := frame.Encode()
	require.NoError(t, err)
	require.False(t, bytes.ContainsRune(data, '\n'))
	require.JSONEq(t, `{"type":"chat_message","message":"line one\nline two","client_id":"c-1"}`, string(data))
}

func TestOutboundCoalescable(t *testing.T) {
	require.True(t, NewTyping().Coalescable())
	require.True(t, NewStopTyping().Coalescable())
	require.False(t, NewChatMessage("x", "").Coalescable())
	require.False(t, NewDeleteMessage("1").Coalescable())
}
