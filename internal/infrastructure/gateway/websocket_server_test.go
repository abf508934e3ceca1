package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"
	"groupchat/internal/core/services"
	"groupchat/internal/infrastructure/monitoring"
	"groupchat/internal/infrastructure/repositories/memory"
	"groupchat/pkg/config"
)

type harness struct {
	cfg      *config.Config
	store    *memory.Store
	auth     services.AuthService
	registry *services.RoomRegistry
	manager  ports.ConnectionManager
	metrics  *monitoring.PrometheusCollector
	ws       *WebSocketServer
	server   *httptest.Server

	general domain.GroupID
}

func newHarness(t *testing.T, mutate func(cfg *config.Config)) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "gateway-test-secret"
	if mutate != nil {
		mutate(cfg)
	}

	ctx := context.Background()
	log := zap.NewNop().Sugar()
	store := memory.NewStore()
	for _, u := range []domain.Identity{
		{ID: "u1", Name: "Ann", Email: "ann@example.com", Role: domain.RoleGroupAdmin},
		{ID: "u2", Name: "Ben", Email: "ben@example.com", Role: domain.RoleUser},
		{ID: "u3", Name: "Cal", Email: "cal@example.com", Role: domain.RoleUser},
		{ID: "u4", Name: "Dee", Email: "dee@example.com", Role: domain.RoleUser},
	} {
		u := u
		require.NoError(t, store.CreateUser(ctx, &u))
	}
	general, err := store.CreateGroup(ctx, "general", "u1")
	require.NoError(t, err)
	_, err = store.AddMember(ctx, general.ID, "u2")
	require.NoError(t, err)

	auth := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	verifier := services.NewIdentityVerifier(auth, services.NewUserDirectory(store, time.Minute), log)
	authorizer := services.NewMembershipAuthorizer(store, log)
	registry := services.NewRoomRegistry()
	metrics := monitoring.NewPrometheusCollector(prometheus.NewRegistry())
	manager := services.NewConnectionManager(verifier, authorizer, registry, metrics, log)
	relay := services.NewMessageRelay(manager, registry, store, metrics, log, cfg.Gateway.MaxContentLength)

	ws := NewWebSocketServer(manager, relay, metrics, cfg, log)
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Gateway.Path, ws.HandleWebSocket)
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		ws.Shutdown()
		server.Close()
	})

	return &harness{
		cfg:      cfg,
		store:    store,
		auth:     auth,
		registry: registry,
		manager:  manager,
		metrics:  metrics,
		ws:       ws,
		server:   server,
		general:  general.ID,
	}
}

func (h *harness) wsURL(query string) string {
	u := "ws" + strings.TrimPrefix(h.server.URL, "http") + h.cfg.Gateway.Path
	if query != "" {
		u += "?" + query
	}
	return u
}

func (h *harness) token(t *testing.T, id domain.UserID) string {
	t.Helper()
	token, err := h.auth.GenerateToken(domain.Identity{ID: id})
	require.NoError(t, err)
	return token
}

func (h *harness) dial(t *testing.T, id domain.UserID) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(h.wsURL("token="+url.QueryEscape(h.token(t, id))), nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

type inbound struct {
	Type    domain.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

func send(t *testing.T, conn *websocket.Conn, eventType domain.EventType, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ClientEvent{Type: eventType, Payload: raw}))
}

func next(t *testing.T, conn *websocket.Conn) inbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev inbound
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

// expectSilence must be the last read on conn: a timed out read breaks it.
func expectSilence(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected event %s", data)
}

func join(t *testing.T, conn *websocket.Conn, group domain.GroupID) {
	t.Helper()
	send(t, conn, domain.EventJoinGroup, GroupRequest{GroupID: group})
	ev := next(t, conn)
	require.Equal(t, domain.EventJoinedGroup, ev.Type)
	var p domain.GroupPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	require.Equal(t, group, p.GroupID)
}

func errorPayload(t *testing.T, ev inbound) domain.ErrorPayload {
	t.Helper()
	require.Equal(t, domain.EventError, ev.Type)
	var p domain.ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	return p
}

func TestGateway_RefusesBeforeUpgrade(t *testing.T) {
	h := newHarness(t, nil)

	cases := []struct {
		name  string
		query string
	}{
		{"missing credential", ""},
		{"garbage token", "token=not-a-jwt"},
		{"unknown user", "token=" + url.QueryEscape(h.token(t, "ghost"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(h.wsURL(tc.query), nil)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}

	assert.Equal(t, 0, h.manager.Stats().Connections)
	assert.Equal(t, float64(3), testutil.ToFloat64(h.metrics.ConnectionsTotal("unauthenticated")))
}

func TestGateway_AcceptsCookieAndBearer(t *testing.T) {
	h := newHarness(t, nil)

	header := http.Header{}
	header.Set("Cookie", h.cfg.Auth.SessionCookie+"="+h.token(t, "u1"))
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL(""), header)
	require.NoError(t, err)
	defer conn.Close()
	join(t, conn, h.general)

	header = http.Header{}
	header.Set("Authorization", "Bearer "+h.token(t, "u2"))
	conn2, _, err := websocket.DefaultDialer.Dial(h.wsURL(""), header)
	require.NoError(t, err)
	defer conn2.Close()
	join(t, conn2, h.general)

	assert.Len(t, h.registry.MembersOf(h.general), 2)
}

func TestGateway_MessageReachesJoinedMembersOnly(t *testing.T) {
	h := newHarness(t, nil)
	u1 := h.dial(t, "u1")
	u2 := h.dial(t, "u2")
	u3 := h.dial(t, "u3")

	join(t, u1, h.general)
	join(t, u2, h.general)
	send(t, u3, domain.EventJoinGroup, GroupRequest{GroupID: h.general})

	send(t, u1, domain.EventSendMessage, SendMessageRequest{GroupID: h.general, Content: "hello"})

	for _, conn := range []*websocket.Conn{u1, u2} {
		ev := next(t, conn)
		require.Equal(t, domain.EventNewMessage, ev.Type)
		var msg domain.MessageWithAuthor
		require.NoError(t, json.Unmarshal(ev.Payload, &msg))
		assert.Equal(t, "hello", msg.Content)
		assert.Equal(t, domain.UserID("u1"), msg.AuthorID)
		assert.Equal(t, domain.UserID("u1"), msg.Author.ID)
		assert.Equal(t, "Ann", msg.Author.Name)
		assert.Equal(t, h.general, msg.GroupID)
	}
	expectSilence(t, u3, 200*time.Millisecond)
}

func TestGateway_MessagesArriveInPersistenceOrder(t *testing.T) {
	h := newHarness(t, nil)
	u1 := h.dial(t, "u1")
	u2 := h.dial(t, "u2")
	join(t, u1, h.general)
	join(t, u2, h.general)

	// two read pumps submit to the same room concurrently
	const n = 20
	for i := 0; i < n; i++ {
		send(t, u1, domain.EventSendMessage, SendMessageRequest{GroupID: h.general, Content: "from u1"})
		send(t, u2, domain.EventSendMessage, SendMessageRequest{GroupID: h.general, Content: "from u2"})
	}

	order := func(conn *websocket.Conn) []domain.MessageID {
		ids := make([]domain.MessageID, 0, 2*n)
		for len(ids) < 2*n {
			ev := next(t, conn)
			require.Equal(t, domain.EventNewMessage, ev.Type)
			var msg domain.MessageWithAuthor
			require.NoError(t, json.Unmarshal(ev.Payload, &msg))
			ids = append(ids, msg.ID)
		}
		return ids
	}
	seenByU1 := order(u1)
	seenByU2 := order(u2)
	assert.Equal(t, seenByU1, seenByU2)

	stored, err := h.store.ListRecentMessages(context.Background(), h.general, 2*n)
	require.NoError(t, err)
	require.Len(t, stored, 2*n)
	for i, msg := range stored {
		assert.Equal(t, msg.ID, seenByU1[i])
	}
}

func TestGateway_NonMemberJoinIsSilentAndSendIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	u4 := h.dial(t, "u4")

	send(t, u4, domain.EventJoinGroup, GroupRequest{GroupID: h.general})
	send(t, u4, domain.EventSendMessage, SendMessageRequest{GroupID: h.general, Content: "let me in"})

	p := errorPayload(t, next(t, u4))
	assert.Equal(t, CodeNotJoined, p.Code)
	assert.Equal(t, h.general, p.GroupID)
	assert.Empty(t, h.registry.MembersOf(h.general))

	stored, err := h.store.ListRecentMessages(context.Background(), h.general, 10)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestGateway_DisconnectLeavesEveryRoom(t *testing.T) {
	h := newHarness(t, nil)
	second, err := h.store.CreateGroup(context.Background(), "random", "u1")
	require.NoError(t, err)

	u1 := h.dial(t, "u1")
	join(t, u1, h.general)
	join(t, u1, second.ID)
	require.Len(t, h.registry.MembersOf(h.general), 1)

	require.NoError(t, u1.Close())

	assert.Eventually(t, func() bool {
		return len(h.registry.MembersOf(h.general)) == 0 &&
			len(h.registry.MembersOf(second.ID)) == 0 &&
			h.manager.Stats().Connections == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_EmptyContentIsNeverPersisted(t *testing.T) {
	h := newHarness(t, nil)
	u1 := h.dial(t, "u1")
	u2 := h.dial(t, "u2")
	join(t, u1, h.general)
	join(t, u2, h.general)

	send(t, u1, domain.EventSendMessage, SendMessageRequest{GroupID: h.general, Content: "   \n\t"})

	p := errorPayload(t, next(t, u1))
	assert.Equal(t, CodeInvalidContent, p.Code)
	expectSilence(t, u2, 200*time.Millisecond)

	stored, err := h.store.ListRecentMessages(context.Background(), h.general, 10)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestGateway_MalformedEvents(t *testing.T) {
	h := newHarness(t, nil)
	u1 := h.dial(t, "u1")

	require.NoError(t, u1.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, CodeInvalidEvent, errorPayload(t, next(t, u1)).Code)

	send(t, u1, "dance", map[string]string{})
	assert.Equal(t, CodeUnknownEvent, errorPayload(t, next(t, u1)).Code)

	send(t, u1, domain.EventJoinGroup, map[string]string{})
	assert.Equal(t, CodeInvalidEvent, errorPayload(t, next(t, u1)).Code)

	// the connection survives bad input
	join(t, u1, h.general)
}

func TestGateway_LeaveThenSendIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	u1 := h.dial(t, "u1")
	join(t, u1, h.general)

	send(t, u1, domain.EventLeaveGroup, GroupRequest{GroupID: h.general})
	ev := next(t, u1)
	require.Equal(t, domain.EventLeftGroup, ev.Type)
	var p domain.GroupPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	assert.Equal(t, domain.LeaveRequested, p.Reason)

	send(t, u1, domain.EventSendMessage, SendMessageRequest{GroupID: h.general, Content: "anyone?"})
	assert.Equal(t, CodeNotJoined, errorPayload(t, next(t, u1)).Code)
}

func TestGateway_RevokedMemberIsEvictedAndCannotRejoin(t *testing.T) {
	h := newHarness(t, nil)
	u2 := h.dial(t, "u2")
	join(t, u2, h.general)

	require.NoError(t, h.store.RemoveMember(context.Background(), h.general, "u2"))
	assert.Equal(t, 1, h.manager.EvictMember("u2", h.general, domain.LeaveRevoked))

	ev := next(t, u2)
	require.Equal(t, domain.EventLeftGroup, ev.Type)
	var p domain.GroupPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	assert.Equal(t, domain.LeaveRevoked, p.Reason)

	send(t, u2, domain.EventJoinGroup, GroupRequest{GroupID: h.general})
	send(t, u2, domain.EventSendMessage, SendMessageRequest{GroupID: h.general, Content: "still here"})
	assert.Equal(t, CodeNotJoined, errorPayload(t, next(t, u2)).Code)
	assert.Empty(t, h.registry.MembersOf(h.general))
}

func TestGateway_RejectsForeignOrigin(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Auth.AllowedOrigins = []string{"https://chat.example.com"}
	})

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(h.wsURL("token="+url.QueryEscape(h.token(t, "u1"))), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://chat.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL("token="+url.QueryEscape(h.token(t, "u1"))), header)
	require.NoError(t, err)
	conn.Close()
}

func TestGateway_ConnectRateLimit(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.RateLimiting.Enabled = true
		cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 1
	})

	h.dial(t, "u1")
	_, resp, err := websocket.DefaultDialer.Dial(h.wsURL("token="+url.QueryEscape(h.token(t, "u2"))), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.ConnectionsTotal("rate_limited")))
}

func TestGateway_OversizedFrameClosesConnection(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 128
	})
	u1 := h.dial(t, "u1")
	join(t, u1, h.general)

	send(t, u1, domain.EventSendMessage, SendMessageRequest{GroupID: h.general, Content: strings.Repeat("x", 512)})

	require.NoError(t, u1.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := u1.ReadMessage()
	require.Error(t, err)
	assert.Eventually(t, func() bool {
		return h.manager.Stats().Connections == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_ShutdownClosesConnections(t *testing.T) {
	h := newHarness(t, nil)
	u1 := h.dial(t, "u1")
	join(t, u1, h.general)

	h.ws.Shutdown()

	require.NoError(t, u1.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := u1.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, h.manager.Stats().Connections)
	assert.Empty(t, h.registry.MembersOf(h.general))
}

func TestWSConnection_SlowConsumerIsClosed(t *testing.T) {
	metrics := monitoring.NewPrometheusCollector(prometheus.NewRegistry())
	c := newWSConnection(nil, 1, time.Minute, time.Second, metrics, zap.NewNop().Sugar())

	assert.True(t, c.Deliver(domain.JoinedGroupEvent("g1")))
	assert.False(t, c.Deliver(domain.JoinedGroupEvent("g2")))
	assert.Equal(t, domain.CloseSlowConsumer, c.closeReason())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SlowConsumers()))

	// closed connections refuse without counting again
	assert.False(t, c.Deliver(domain.JoinedGroupEvent("g3")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SlowConsumers()))

	c.Close(domain.CloseShutdown)
	assert.Equal(t, domain.CloseSlowConsumer, c.closeReason())
}
