package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lirancohen/workhub/internal/config"
)

type staticValidator map[string]string

func (v staticValidator) ValidateToken(_ context.Context, token string) (*UserInfo, error) {
	if id, ok := v[token]; ok {
		return &UserInfo{ID: id}, nil
	}
	return nil, errors.New("unknown token")
}

type memberTable struct {
	workspaces map[string][]string
	projects   map[string][]string
	err        error
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func (m memberTable) IsWorkspaceMember(_ context.Context, userID, workspaceID string) (bool, error) {
	return contains(m.workspaces[workspaceID], userID), m.err
}

func (m memberTable) IsProjectMember(_ context.Context, userID, projectID string) (bool, error) {
	return contains(m.projects[projectID], userID), m.err
}

func testRealtimeConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		IdleTimeout:    5 * time.Second,
		WriteTimeout:   time.Second,
		PingInterval:   time.Second,
		AuthTimeout:    500 * time.Millisecond,
		SendBuffer:     16,
		MaxMessageSize: 4096,
	}
}

type gatewayFixture struct {
	registry *Registry
	hub      *Hub
	gateway  *Gateway
	server   *httptest.Server
}

func newGatewayFixture(t *testing.T, members Membership, cfg config.RealtimeConfig) *gatewayFixture {
	t.Helper()
	validator := staticValidator{"tok-alice": "alice", "tok-bob": "bob", "tok-carol": "carol"}
	registry := NewRegistry()
	gw := NewGateway(registry, validator, members, cfg, testLogger(), nil)
	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
		srv.Close()
	})
	return &gatewayFixture{registry: registry, hub: NewHub(registry, testLogger(), nil), gateway: gw, server: srv}
}

func (f *gatewayFixture) wsURL(query string) string {
	u := "ws" + strings.TrimPrefix(f.server.URL, "http")
	if query != "" {
		u += "?" + query
	}
	return u
}

// dial connects with a query token and waits until the connection is
// registered.
func (f *gatewayFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	before := f.registry.Count()
	c, _, err := websocket.DefaultDialer.Dial(f.wsURL("token="+token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.Eventually(t, func() bool { return f.registry.Count() > before }, 2*time.Second, 5*time.Millisecond)
	return c
}

func send(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func readEnvelope(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	var env map[string]any
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

// roundTrip sends a ping; every earlier frame from this client has been
// handled once the pong arrives.
func roundTrip(t *testing.T, c *websocket.Conn) {
	t.Helper()
	send(t, c, `{"type":"ping"}`)
	env := readEnvelope(t, c)
	require.Equal(t, EventPong, env["event"])
}

func readCloseCode(t *testing.T, c *websocket.Conn) int {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "expected close error, got %v", err)
		return ce.Code
	}
}

func TestGateway_RejectsBadCredentials(t *testing.T) {
	f := newGatewayFixture(t, memberTable{}, testRealtimeConfig())

	t.Run("invalid query token", func(t *testing.T) {
		c, _, err := websocket.DefaultDialer.Dial(f.wsURL("token=nope"), nil)
		require.NoError(t, err)
		defer c.Close()
		assert.Equal(t, websocket.ClosePolicyViolation, readCloseCode(t, c))
	})

	t.Run("no credential and no auth frame", func(t *testing.T) {
		c, _, err := websocket.DefaultDialer.Dial(f.wsURL(""), nil)
		require.NoError(t, err)
		defer c.Close()
		assert.Equal(t, websocket.ClosePolicyViolation, readCloseCode(t, c))
	})

	t.Run("first frame is not auth", func(t *testing.T) {
		c, _, err := websocket.DefaultDialer.Dial(f.wsURL(""), nil)
		require.NoError(t, err)
		defer c.Close()
		send(t, c, `{"type":"subscribe_workspace","id":"w1"}`)
		assert.Equal(t, websocket.ClosePolicyViolation, readCloseCode(t, c))
	})

	assert.Equal(t, 0, f.registry.Count())
}

func TestGateway_AuthMethods(t *testing.T) {
	f := newGatewayFixture(t, memberTable{}, testRealtimeConfig())

	t.Run("bearer header", func(t *testing.T) {
		h := http.Header{"Authorization": []string{"Bearer tok-alice"}}
		c, _, err := websocket.DefaultDialer.Dial(f.wsURL(""), h)
		require.NoError(t, err)
		defer c.Close()
		roundTrip(t, c)
		assert.NotEmpty(t, f.registry.ConnectionsFor(User("alice")))
	})

	t.Run("first frame", func(t *testing.T) {
		c, _, err := websocket.DefaultDialer.Dial(f.wsURL(""), nil)
		require.NoError(t, err)
		defer c.Close()
		send(t, c, `{"type":"auth","token":"tok-bob"}`)
		roundTrip(t, c)
		assert.NotEmpty(t, f.registry.ConnectionsFor(User("bob")))
	})
}

func TestGateway_SubscribeAuthorization(t *testing.T) {
	members := memberTable{
		workspaces: map[string][]string{"w1": {"alice"}},
		projects:   map[string][]string{"p1": {"alice"}},
	}
	f := newGatewayFixture(t, members, testRealtimeConfig())
	c := f.dial(t, "tok-alice")

	send(t, c, `{"type":"subscribe_workspace","id":"w1"}`)
	send(t, c, `{"type":"subscribe_workspace","id":"w2"}`)
	send(t, c, `{"type":"subscribe_project","id":"p1"}`)
	send(t, c, `{"type":"subscribe_project","id":"p2"}`)
	roundTrip(t, c)

	assert.Len(t, f.registry.ConnectionsFor(Workspace("w1")), 1)
	assert.Empty(t, f.registry.ConnectionsFor(Workspace("w2")))
	assert.Len(t, f.registry.ConnectionsFor(Project("p1")), 1)
	assert.Empty(t, f.registry.ConnectionsFor(Project("p2")))

	send(t, c, `{"type":"unsubscribe_project","id":"p1"}`)
	send(t, c, `{"type":"unsubscribe_workspace","id":"w1"}`)
	roundTrip(t, c)
	assert.Empty(t, f.registry.ConnectionsFor(Workspace("w1")))
	assert.Empty(t, f.registry.ConnectionsFor(Project("p1")))
}

func TestGateway_MembershipErrorIsSilent(t *testing.T) {
	members := memberTable{workspaces: map[string][]string{"w1": {"alice"}}, err: errors.New("db down")}
	f := newGatewayFixture(t, members, testRealtimeConfig())
	c := f.dial(t, "tok-alice")

	send(t, c, `{"type":"subscribe_workspace","id":"w1"}`)
	roundTrip(t, c)
	assert.Empty(t, f.registry.ConnectionsFor(Workspace("w1")))
}

func TestGateway_MalformedFramesKeepConnection(t *testing.T) {
	f := newGatewayFixture(t, memberTable{}, testRealtimeConfig())
	c := f.dial(t, "tok-alice")

	for _, frame := range []string{`not json`, `{"id":"x"}`, `{"type":"explode"}`, `{"type":"subscribe_workspace"}`, `{"type":42}`} {
		send(t, c, frame)
	}
	roundTrip(t, c)
	assert.Equal(t, 1, f.registry.Count())
}

func TestGateway_WorkspaceBroadcastScenario(t *testing.T) {
	members := memberTable{workspaces: map[string][]string{"w1": {"alice", "bob"}}}
	f := newGatewayFixture(t, members, testRealtimeConfig())

	alice := f.dial(t, "tok-alice")
	bob := f.dial(t, "tok-bob")
	carol := f.dial(t, "tok-carol")
	for _, c := range []*websocket.Conn{alice, bob, carol} {
		send(t, c, `{"type":"subscribe_workspace","id":"w1"}`)
		roundTrip(t, c)
	}
	require.Len(t, f.registry.ConnectionsFor(Workspace("w1")), 2)

	f.hub.Broadcast(context.Background(), Workspace("w1"), EventProjectCreated, map[string]string{"id": "p9", "name": "Launch"})

	for _, c := range []*websocket.Conn{alice, bob} {
		env := readEnvelope(t, c)
		assert.Equal(t, EventProjectCreated, env["event"])
		assert.Equal(t, map[string]any{"id": "p9", "name": "Launch"}, env["data"])
	}
	// carol's next frame is the pong, so nothing was queued before it.
	roundTrip(t, carol)
}

func TestGateway_ClosedConnectionIsDeregistered(t *testing.T) {
	f := newGatewayFixture(t, memberTable{workspaces: map[string][]string{"w1": {"alice"}}}, testRealtimeConfig())
	c := f.dial(t, "tok-alice")
	send(t, c, `{"type":"subscribe_workspace","id":"w1"}`)
	roundTrip(t, c)

	require.NoError(t, c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second)))
	require.Eventually(t, func() bool { return f.registry.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, f.registry.ConnectionsFor(Workspace("w1")))
	assert.Empty(t, f.registry.ConnectionsFor(User("alice")))
}

func TestGateway_IdleTimeout(t *testing.T) {
	cfg := testRealtimeConfig()
	cfg.IdleTimeout = 300 * time.Millisecond
	cfg.PingInterval = 100 * time.Millisecond
	f := newGatewayFixture(t, memberTable{}, cfg)

	// The client never reads, so server pings go unanswered.
	f.dial(t, "tok-alice")
	require.Eventually(t, func() bool { return f.registry.Count() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestGateway_ZeroPingIntervalServesWithoutPings(t *testing.T) {
	cfg := testRealtimeConfig()
	cfg.PingInterval = 0
	f := newGatewayFixture(t, memberTable{}, cfg)

	c := f.dial(t, "tok-alice")
	roundTrip(t, c)
	f.hub.Broadcast(context.Background(), User("alice"), EventNotificationNew, map[string]string{"kind": "task_assigned"})
	assert.Equal(t, EventNotificationNew, readEnvelope(t, c)["event"])
}

func TestGateway_ShutdownClosesWithGoingAway(t *testing.T) {
	f := newGatewayFixture(t, memberTable{}, testRealtimeConfig())
	c := f.dial(t, "tok-alice")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.gateway.Shutdown(ctx))

	assert.Equal(t, websocket.CloseGoingAway, readCloseCode(t, c))
	assert.Equal(t, 0, f.registry.Count())

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL("token=tok-alice"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		in      string
		want    frame
		wantErr bool
	}{
		{`{"type":"subscribe_project","id":"p1"}`, frame{Type: "subscribe_project", ID: "p1"}, false},
		{`{"type":"auth","token":"abc"}`, frame{Type: "auth", Token: "abc"}, false},
		{`{"type":"ping","extra":[1,2]}`, frame{Type: "ping"}, false},
		{`{"type":""}`, frame{}, true},
		{`{"type":7}`, frame{}, true},
		{`[1,2]`, frame{}, true},
		{`{broken`, frame{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseFrame([]byte(tt.in))
			if tt.wantErr {
				assert.ErrorIs(t, err, errMalformedFrame)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/ws?token=query", nil)
	assert.Equal(t, "query", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer header")
	assert.Equal(t, "header", TokenFromRequest(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "query", TokenFromRequest(r))
}
