package fakebackend_test

import (
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/pmdesk/realtime/internal/fakebackend"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/chat"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/notification"
	"github.com/zhouzirui/pmdesk/realtime/internal/rest"
	"github.com/zhouzirui/pmdesk/realtime/internal/session"
	"github.com/zhouzirui/pmdesk/realtime/internal/transport"
)

const waitFor = 5 * time.Second

var (
	alice = chat.Sender{ID: "u-alice", DisplayName: "Alice"}
	bob   = chat.Sender{ID: "u-bob", DisplayName: "Bob"}
)

type stack struct {
	backend  *fakebackend.Server
	server   *httptest.Server
	session  *session.Session
	hydrated chan string

	mu         sync.Mutex
	authErrors []error
}

func newStack(t *testing.T, mint func(*fakebackend.Server) string) *stack {
	t.Helper()
	backend := fakebackend.New(fakebackend.Options{Secret: []byte("test-secret")})
	server := httptest.NewServer(backend.Handler())
	t.Cleanup(server.Close)

	st := &stack{backend: backend, server: server, hydrated: make(chan string, 32)}
	token := mint(backend)
	tokenFn := func() string { return token }
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	sess, err := session.New(session.Options{
		Credential: session.Credential(token),
		Rooms:      []string{"general"},
		Dialer: func(topic string) transport.DialFunc {
			return transport.ChannelDialer(wsURL+chat.TopicPath(topic), tokenFn, transport.Options{})
		},
		Backend: rest.New(server.URL, tokenFn, rest.Options{}),
		Backoff: transport.Backoff{Initial: 20 * time.Millisecond, Max: 100 * time.Millisecond, Factor: 2},
		AuthHandler: func(err error) {
			st.mu.Lock()
			defer st.mu.Unlock()
			st.authErrors = append(st.authErrors, err)
		},
		OnHydrated: func(topic string, err error) {
			if err != nil {
				return
			}
			select {
			case st.hydrated <- topic:
			default:
			}
		},
	})
	require.NoError(t, err)
	st.session = sess
	t.Cleanup(sess.Close)
	return st
}

func mintFor(user chat.Sender) func(*fakebackend.Server) string {
	return func(backend *fakebackend.Server) string {
		token, err := backend.Mint(user, time.Hour)
		if err != nil {
			panic(err)
		}
		return token
	}
}

func (st *stack) waitHydrated(t *testing.T, topics ...string) {
	t.Helper()
	pending := make(map[string]bool, len(topics))
	for _, topic := range topics {
		pending[topic] = true
	}
	for len(pending) > 0 {
		select {
		case topic := <-st.hydrated:
			delete(pending, topic)
		case <-time.After(waitFor):
			t.Fatalf("topics not hydrated: %v", pending)
		}
	}
}

func (st *stack) start(t *testing.T) {
	t.Helper()
	require.NoError(t, st.session.Start())
	st.waitHydrated(t, chat.NotificationsTopic, chat.Topic("general"))
}

func TestChatRoundTrip(t *testing.T) {
	st := newStack(t, mintFor(alice))
	st.start(t)
	require.Equal(t, alice, st.session.User())

	sent, err := st.session.SendMessage("general", "hello team")
	require.NoError(t, err)
	require.True(t, sent.Pending)

	require.Eventually(t, func() bool {
		messages, err := st.session.Messages("general", false)
		if err != nil || len(messages) != 1 {
			return false
		}
		return !messages[0].Pending && messages[0].Body == "hello team" && messages[0].Sender.ID == alice.ID
	}, waitFor, 5*time.Millisecond)

	st.backend.Post("general", bob, "hi alice", "")
	require.Eventually(t, func() bool {
		messages, _ := st.session.Messages("general", false)
		return len(messages) == 2 && messages[1].Sender.ID == bob.ID
	}, waitFor, 5*time.Millisecond)

	// Join announcements arrive as system messages and stay hidden.
	all, err := st.session.Messages("general", true)
	require.NoError(t, err)
	require.Greater(t, len(all), 2)
}

func TestDeleteOwnMessage(t *testing.T) {
	st := newStack(t, mintFor(alice))
	st.start(t)

	_, err := st.session.SendMessage("general", "typo")
	require.NoError(t, err)

	var id string
	require.Eventually(t, func() bool {
		messages, _ := st.session.Messages("general", false)
		if len(messages) != 1 || messages[0].Pending {
			return false
		}
		id = messages[0].ID
		return true
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, st.session.DeleteMessage("general", id))
	require.Eventually(t, func() bool {
		messages, _ := st.session.Messages("general", false)
		return len(messages) == 0
	}, waitFor, 5*time.Millisecond)
}

func TestPresenceIncludesSelf(t *testing.T) {
	st := newStack(t, mintFor(alice))
	st.start(t)

	require.Eventually(t, func() bool {
		online, summary, err := st.session.Presence("general", 5)
		return err == nil && len(online) == 1 && online[0].UserID == alice.ID && summary.Total == 1
	}, waitFor, 5*time.Millisecond)
}

func TestNotificationsPushAndMarkRead(t *testing.T) {
	st := newStack(t, mintFor(alice))
	st.backend.Notify(alice.ID, notification.Notification{Title: "Assigned", Kind: "task"})
	st.start(t)

	count, provisional, err := st.session.UnreadCount()
	require.NoError(t, err)
	require.False(t, provisional)
	require.Equal(t, 1, count)

	pushed := st.backend.Notify("", notification.Notification{Title: "Maintenance", Kind: "system"})
	require.Eventually(t, func() bool {
		count, _, _ := st.session.UnreadCount()
		return count == 2
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, st.session.MarkRead(t.Context(), pushed.ID))
	require.Equal(t, 1, st.backend.UnreadCount(alice.ID))

	updated, err := st.session.MarkAllRead(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, updated)
	require.Equal(t, 0, st.backend.UnreadCount(alice.ID))

	count, _, err = st.session.UnreadCount()
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestReconnectReconcilesMissedChanges(t *testing.T) {
	st := newStack(t, mintFor(alice))
	first := st.backend.Notify(alice.ID, notification.Notification{Title: "one"})
	st.start(t)

	// Read on another device: the server does not push status changes.
	_, err := st.backend.Transition(alice.ID, first.ID, notification.StatusRead)
	require.NoError(t, err)
	count, _, err := st.session.UnreadCount()
	require.NoError(t, err)
	require.Equal(t, 1, count)

	st.backend.Disconnect(0)
	st.backend.Notify(alice.ID, notification.Notification{Title: "two"})
	st.backend.Notify(alice.ID, notification.Notification{Title: "three"})

	st.waitHydrated(t, chat.NotificationsTopic)
	require.Eventually(t, func() bool {
		count, _, _ := st.session.UnreadCount()
		return count == st.backend.UnreadCount(alice.ID)
	}, waitFor, 5*time.Millisecond)

	list, err := st.session.Notifications(notification.Filter{Status: notification.StatusRead})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, first.ID, list[0].ID)

	require.Eventually(t, func() bool {
		status, err := st.session.Status()
		return err == nil && status.Rooms["general"].State == transport.StateOpen
	}, waitFor, 5*time.Millisecond)
}

func TestServerGoingAwayStillRetries(t *testing.T) {
	st := newStack(t, mintFor(alice))
	st.start(t)

	st.backend.Disconnect(1001)
	st.waitHydrated(t, chat.NotificationsTopic, chat.Topic("general"))

	status, err := st.session.Status()
	require.NoError(t, err)
	require.Equal(t, transport.StateOpen, status.Notifications.State)
}

func TestForgedTokenIsRejected(t *testing.T) {
	st := newStack(t, func(*fakebackend.Server) string {
		forger := fakebackend.New(fakebackend.Options{Secret: []byte("other-secret")})
		token, err := forger.Mint(alice, time.Hour)
		if err != nil {
			panic(err)
		}
		return token
	})
	require.NoError(t, st.session.Start())

	require.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		for _, err := range st.authErrors {
			if !errors.Is(err, transport.ErrUnauthorized) {
				return false
			}
		}
		return len(st.authErrors) >= 2
	}, waitFor, 5*time.Millisecond)

	status, err := st.session.Status()
	require.NoError(t, err)
	require.Equal(t, transport.StateClosed, status.Notifications.State)
	require.False(t, status.Notifications.WillRetry)
}
