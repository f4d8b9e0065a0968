package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/pmdesk/realtime/internal/protocol"
)

type wsServer struct {
	*httptest.Server

	mu       sync.Mutex
	auth     string
	token    string
	received chan []byte
	conn     chan *websocket.Conn
}

func newWSServer(t *testing.T, greeting string) *wsServer {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s := &wsServer{received: make(chan []byte, 8), conn: make(chan *websocket.Conn, 1)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		s.mu.Lock()
		s.auth = r.Header.Get("Authorization")
		s.token = r.URL.Query().Get("token")
		s.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if greeting != "" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(greeting))
		}
		s.conn <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.received <- data
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/chat/lobby/"
}

func TestChannelDialSendsCredentialAndDeliversFrames(t *testing.T) {
	greeting := `{"type":"user_joined","user":{"user_id":"u1"}}` + "\n" +
		`{"type":"user_left","user":{"user_id":"u2"}}`
	srv := newWSServer(t, greeting)

	frames := make(chan string, 4)
	ch, err := Dial(context.Background(), srv.wsURL(), "tok", func(raw []byte) { frames <- string(raw) }, Options{})
	require.NoError(t, err)
	defer ch.Close(CloseNormal)

	require.Equal(t, `{"type":"user_joined","user":{"user_id":"u1"}}`, <-frames)
	require.Equal(t, `{"type":"user_left","user":{"user_id":"u2"}}`, <-frames)

	srv.mu.Lock()
	require.Equal(t, "Bearer tok", srv.auth)
	require.Equal(t, "tok", srv.token)
	srv.mu.Unlock()

	require.NoError(t, ch.Send(protocol.NewChatMessage("hello", "c1")))
	select {
	case data := <-srv.received:
		require.JSONEq(t, `{"type":"chat_message","message":"hello","client_id":"c1"}`, string(data))
	case <-time.After(waitFor):
		t.Fatal("server did not receive frame")
	}
}

func TestChannelReportsServerCloseCode(t *testing.T) {
	srv := newWSServer(t, "")
	ch, err := Dial(context.Background(), srv.wsURL(), "tok", nil, Options{})
	require.NoError(t, err)

	serverConn := <-srv.conn
	_ = serverConn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"), time.Now().Add(time.Second))

	select {
	case <-ch.Done():
	case <-time.After(waitFor):
		t.Fatal("channel did not observe close")
	}
	require.Equal(t, websocket.CloseGoingAway, ch.CloseCode())
	require.ErrorIs(t, ch.Send(protocol.NewTyping()), ErrNotConnected)
}

func TestChannelAbruptDropIsAbnormal(t *testing.T) {
	srv := newWSServer(t, "")
	ch, err := Dial(context.Background(), srv.wsURL(), "tok", nil, Options{})
	require.NoError(t, err)

	serverConn := <-srv.conn
	_ = serverConn.NetConn().Close()

	select {
	case <-ch.Done():
	case <-time.After(waitFor):
		t.Fatal("channel did not observe drop")
	}
	require.Equal(t, CloseAbnormal, ch.CloseCode())
	require.Error(t, ch.Err())
}

func TestChannelLocalClose(t *testing.T) {
	srv := newWSServer(t, "")
	ch, err := Dial(context.Background(), srv.wsURL(), "tok", nil, Options{})
	require.NoError(t, err)

	require.NoError(t, ch.Close(CloseNormal))
	require.Equal(t, CloseNormal, ch.CloseCode())
	require.NoError(t, ch.Close(CloseNormal))
}

func TestChannelHandshakeUnauthorized(t *testing.T) {
	srv := newWSServer(t, "")
	_, err := Dial(context.Background(), srv.wsURL(), "", nil, Options{})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestChannelRejectsNonWebSocketURL(t *testing.T) {
	_, err := Dial(context.Background(), "http://example.com/ws", "tok", nil, Options{})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnauthorized)
}
