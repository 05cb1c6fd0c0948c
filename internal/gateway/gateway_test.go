// ABOUTME: Test harness for the gateway package plus handshake and relay tests.
// ABOUTME: Drives handleFrame directly with fake transports; no network involved.

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hive-gateway/internal/agent"
	"github.com/2389/hive-gateway/internal/config"
	"github.com/2389/hive-gateway/internal/protocol"
	"github.com/2389/hive-gateway/internal/store"
)

// fakeTransport captures outbound frames for assertions.
type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeTransport) send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeTransport) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// envelopes decodes every captured frame.
func (f *fakeTransport) envelopes(t *testing.T) []*protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*protocol.Envelope, 0, len(f.frames))
	for _, data := range f.frames {
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		out = append(out, &env)
	}
	return out
}

// find returns the first captured envelope matching pred, or nil.
func (f *fakeTransport) find(t *testing.T, pred func(*protocol.Envelope) bool) *protocol.Envelope {
	t.Helper()
	for _, env := range f.envelopes(t) {
		if pred(env) {
			return env
		}
	}
	return nil
}

// waitFor polls until an envelope matching pred arrives.
func (f *fakeTransport) waitFor(t *testing.T, pred func(*protocol.Envelope) bool) *protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if env := f.find(t, pred); env != nil {
			return env
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for envelope")
	return nil
}

func byType(typ protocol.MessageType) func(*protocol.Envelope) bool {
	return func(env *protocol.Envelope) bool { return env.Type == typ }
}

func ackWith(t *testing.T, action, status string) func(*protocol.Envelope) bool {
	t.Helper()
	return func(env *protocol.Envelope) bool {
		if env.Type != protocol.TypeAck {
			return false
		}
		var ack protocol.AckPayload
		if json.Unmarshal(env.Payload, &ack) != nil {
			return false
		}
		return ack.Action == action && (status == "" || ack.Status == status)
	}
}

func decodeAck(t *testing.T, env *protocol.Envelope) protocol.AckPayload {
	t.Helper()
	var ack protocol.AckPayload
	require.NoError(t, json.Unmarshal(env.Payload, &ack))
	return ack
}

func errorCode(t *testing.T, env *protocol.Envelope) string {
	t.Helper()
	require.Equal(t, protocol.TypeError, env.Type)
	var p protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p.Code
}

// invocation is one pending call into the blocking invoker.
type invocation struct {
	req    agent.InvokeRequest
	ctx    context.Context
	events chan agent.Event
	done   chan struct{}
	once   sync.Once
}

func (inv *invocation) emit(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	inv.events <- agent.Event(data)
}

func (inv *invocation) finish() {
	inv.once.Do(func() { close(inv.done) })
}

// blockingInvoker hands each invocation to the test and keeps the stream open
// until the test finishes it or the context is cancelled.
type blockingInvoker struct {
	started chan *invocation
}

func newBlockingInvoker() *blockingInvoker {
	return &blockingInvoker{started: make(chan *invocation, 16)}
}

func (b *blockingInvoker) Invoke(ctx context.Context, req agent.InvokeRequest) (<-chan agent.Event, error) {
	ch := make(chan agent.Event, 16)
	inv := &invocation{req: req, ctx: ctx, events: ch, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
		case <-inv.done:
		}
		close(ch)
	}()
	b.started <- inv
	return ch, nil
}

func (b *blockingInvoker) next(t *testing.T) *invocation {
	t.Helper()
	select {
	case inv := <-b.started:
		return inv
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for invocation")
		return nil
	}
}

func (b *blockingInvoker) expectNone(t *testing.T) {
	t.Helper()
	select {
	case <-b.started:
		t.Fatal("unexpected invocation started")
	case <-time.After(50 * time.Millisecond):
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "localhost:0"},
		Auth:     config.AuthConfig{Mode: "none"},
		Nodes:    config.NodesConfig{MaxNodes: 10, PingInterval: time.Minute, PingTimeout: 2 * time.Minute},
		Database: config.DatabaseConfig{Path: ":memory:"},
	}
}

func testRoster() []agent.Definition {
	return []agent.Definition{
		{ID: "coder", Name: "Coder", Default: true},
		{ID: "support", Name: "Support", Channels: []string{"slack:C42"}},
	}
}

func newTestGateway(t *testing.T, cfg *config.Config, invoker agent.Invoker) *Gateway {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	if invoker == nil {
		invoker = agent.EchoInvoker{}
	}
	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelWarn}))
	gw, err := New(cfg, Deps{
		Invoker: invoker,
		Store:   store.NewMemoryStore(),
		Roster:  testRoster(),
		Logger:  logger,
		Version: "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { gw.dedupe.Close() })
	return gw
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func mkframe(t *testing.T, env *protocol.Envelope) []byte {
	t.Helper()
	if env.Timestamp == 0 {
		env.Timestamp = protocol.NowMillis()
	}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return data
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// connectClient runs the handshake for a fresh fake-transport client.
func connectClient(t *testing.T, gw *Gateway, clientType string) (*Client, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	c := newClient(ft, "", false)
	gw.handleFrame(c, mkframe(t, &protocol.Envelope{
		Type:   protocol.TypeConnect,
		ID:     "connect-1",
		Client: &protocol.ClientInfo{InstanceID: "inst-" + c.ConnID, ClientType: clientType},
	}))
	res := ft.find(t, byType(protocol.TypeRes))
	require.NotNil(t, res, "handshake response missing")
	require.NotNil(t, res.OK)
	require.True(t, *res.OK)
	return c, ft
}

// registerNode registers a connected client as a node and returns the node id.
func registerNode(t *testing.T, gw *Gateway, c *Client, ft *fakeTransport, name string) string {
	t.Helper()
	gw.handleFrame(c, mkframe(t, &protocol.Envelope{
		Type:    protocol.TypeRegister,
		ID:      "reg-" + name,
		Payload: payload(t, protocol.RegisterPayload{Name: name}),
	}))
	reg := ft.find(t, byType(protocol.TypeRegistered))
	require.NotNil(t, reg, "registered envelope missing")
	require.NotEmpty(t, reg.NodeID)
	return reg.NodeID
}

func TestHandshake_Succeeds(t *testing.T) {
	gw := newTestGateway(t, nil, nil)
	c, ft := connectClient(t, gw, "cli")

	assert.True(t, c.Authenticated())
	assert.Equal(t, "cli", c.ClientType())
	assert.Equal(t, 1, gw.clients.count())

	res := ft.find(t, byType(protocol.TypeRes))
	var body string
	require.NoError(t, json.Unmarshal(res.Payload, &body))
	assert.Equal(t, "gateway-ready", body)
	assert.Equal(t, c.ClientID(), res.ClientID)
}

func TestHandshake_TokenRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Tokens = []string{"tok-good"}
	gw := newTestGateway(t, cfg, nil)

	ft := &fakeTransport{}
	c := newClient(ft, "", false)
	gw.handleFrame(c, mkframe(t, &protocol.Envelope{
		Type:   protocol.TypeConnect,
		ID:     "c1",
		Client: &protocol.ClientInfo{InstanceID: "i1", ClientType: "cli"},
		Auth:   &protocol.AuthCredentials{Token: "tok-bad"},
	}))

	res := ft.find(t, byType(protocol.TypeRes))
	require.NotNil(t, res)
	require.NotNil(t, res.OK)
	assert.False(t, *res.OK)
	assert.True(t, ft.isClosed(), "failed handshake should close the connection")
	assert.False(t, c.Authenticated())
}

func TestHandshake_TokenAccepted(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Tokens = []string{"tok-good"}
	gw := newTestGateway(t, cfg, nil)

	ft := &fakeTransport{}
	c := newClient(ft, "", false)
	gw.handleFrame(c, mkframe(t, &protocol.Envelope{
		Type:   protocol.TypeConnect,
		ID:     "c1",
		Client: &protocol.ClientInfo{InstanceID: "i1", ClientType: "cli"},
		Auth:   &protocol.AuthCredentials{Token: "tok-good"},
	}))

	assert.True(t, c.Authenticated())
}

func TestUnauthenticated_FramesRejected(t *testing.T) {
	gw := newTestGateway(t, nil, nil)
	ft := &fakeTransport{}
	c := newClient(ft, "", false)

	gw.handleFrame(c, mkframe(t, &protocol.Envelope{Type: protocol.TypePing, ID: "p1"}))

	env := ft.find(t, byType(protocol.TypeError))
	require.NotNil(t, env)
	assert.Equal(t, protocol.CodeAuthRequired, errorCode(t, env))
}

func TestMalformedFrame_AnswersError(t *testing.T) {
	gw := newTestGateway(t, nil, nil)
	c, ft := connectClient(t, gw, "cli")

	gw.handleFrame(c, []byte(`{"type":`))

	env := ft.find(t, byType(protocol.TypeError))
	require.NotNil(t, env)
	assert.Equal(t, protocol.CodeInvalidMessage, errorCode(t, env))
}

func TestRegister_AndUnregister(t *testing.T) {
	gw := newTestGateway(t, nil, nil)
	c, ft := connectClient(t, gw, "node")

	nodeID := registerNode(t, gw, c, ft, "worker")
	assert.Equal(t, nodeID, c.NodeID())
	assert.Equal(t, 1, gw.nodes.Count())

	gw.handleFrame(c, mkframe(t, &protocol.Envelope{Type: protocol.TypeUnregister, ID: "u1"}))

	env := ft.find(t, ackWith(t, "unregister", ""))
	require.NotNil(t, env)
	assert.Equal(t, nodeID, decodeAck(t, env).NodeID)
	assert.Empty(t, c.NodeID())
	assert.Equal(t, 0, gw.nodes.Count())
}

func TestUnregister_WithoutRegistration(t *testing.T) {
	gw := newTestGateway(t, nil, nil)
	c, ft := connectClient(t, gw, "node")

	gw.handleFrame(c, mkframe(t, &protocol.Envelope{Type: protocol.TypeUnregister, ID: "u1"}))

	env := ft.find(t, byType(protocol.TypeError))
	require.NotNil(t, env)
	assert.Equal(t, protocol.CodeNotRegistered, errorCode(t, env))
}

func TestRegister_CapReported(t *testing.T) {
	cfg := testConfig()
	cfg.Nodes.MaxNodes = 1
	gw := newTestGateway(t, cfg, nil)

	c1, ft1 := connectClient(t, gw, "node")
	registerNode(t, gw, c1, ft1, "first")

	c2, ft2 := connectClient(t, gw, "node")
	gw.handleFrame(c2, mkframe(t, &protocol.Envelope{
		Type:    protocol.TypeRegister,
		ID:      "r2",
		Payload: payload(t, protocol.RegisterPayload{Name: "second"}),
	}))

	env := ft2.find(t, byType(protocol.TypeError))
	require.NotNil(t, env)
	assert.Equal(t, protocol.CodeMaxNodesReached, errorCode(t, env))
}

func TestGroups_JoinBroadcastLeave(t *testing.T) {
	gw := newTestGateway(t, nil, nil)

	c1, ft1 := connectClient(t, gw, "node")
	n1 := registerNode(t, gw, c1, ft1, "alpha")
	c2, ft2 := connectClient(t, gw, "node")
	registerNode(t, gw, c2, ft2, "beta")

	join := func(c *Client) {
		gw.handleFrame(c, mkframe(t, &protocol.Envelope{
			Type:    protocol.TypeJoinGroup,
			ID:      "j-" + c.ConnID,
			Payload: payload(t, protocol.GroupPayload{Name: "builders"}),
		}))
	}
	join(c1)
	join(c2)

	ack := ft1.find(t, ackWith(t, "join_group", ""))
	require.NotNil(t, ack)
	groupID := decodeAck(t, ack).GroupID
	require.NotEmpty(t, groupID)

	// Broadcast from c1 reaches only c2.
	gw.handleFrame(c1, mkframe(t, &protocol.Envelope{
		Type:    protocol.TypeBroadcast,
		ID:      "b1",
		GroupID: groupID,
		Payload: payload(t, map[string]string{"msg": "hello"}),
	}))

	relayed := ft2.waitFor(t, byType(protocol.TypeBroadcast))
	assert.Equal(t, n1, relayed.NodeID, "relay carries the origin node id")
	assert.Nil(t, ft1.find(t, byType(protocol.TypeBroadcast)), "sender does not receive its own broadcast")

	bAck := ft1.find(t, ackWith(t, "broadcast", ""))
	require.NotNil(t, bAck)
	assert.Equal(t, 1, decodeAck(t, bAck).Count)

	// After leaving, c2 no longer receives broadcasts.
	gw.handleFrame(c2, mkframe(t, &protocol.Envelope{
		Type:    protocol.TypeLeaveGroup,
		ID:      "l1",
		Payload: payload(t, protocol.GroupPayload{GroupID: groupID}),
	}))
	require.NotNil(t, ft2.find(t, ackWith(t, "leave_group", "")))

	gw.handleFrame(c1, mkframe(t, &protocol.Envelope{
		Type:    protocol.TypeBroadcast,
		ID:      "b2",
		GroupID: groupID,
		Payload: payload(t, map[string]string{"msg": "again"}),
	}))
	bAck2 := ft1.find(t, func(env *protocol.Envelope) bool {
		return env.ID == "b2" && env.Type == protocol.TypeAck
	})
	require.NotNil(t, bAck2)
	assert.Equal(t, 0, decodeAck(t, bAck2).Count)
}

func TestJoinGroup_NoCreateRequiresExisting(t *testing.T) {
	gw := newTestGateway(t, nil, nil)
	c, ft := connectClient(t, gw, "node")
	registerNode(t, gw, c, ft, "alpha")

	no := false
	gw.handleFrame(c, mkframe(t, &protocol.Envelope{
		Type:    protocol.TypeJoinGroup,
		ID:      "j1",
		Payload: payload(t, protocol.GroupPayload{Name: "ghosts", CreateIfNotExists: &no}),
	}))
	env := ft.find(t, byType(protocol.TypeError))
	require.NotNil(t, env)
	assert.Equal(t, protocol.CodeGroupNotFound, errorCode(t, env))
	_, exists := gw.groups.GetGroupByName("ghosts")
	assert.False(t, exists, "join without create permission must not create the group")

	gw.groups.GetOrCreateGroup("builders", "", "")
	gw.handleFrame(c, mkframe(t, &protocol.Envelope{
		Type:    protocol.TypeJoinGroup,
		ID:      "j2",
		Payload: payload(t, protocol.GroupPayload{Name: "builders", CreateIfNotExists: &no}),
	}))
	require.NotNil(t, ft.find(t, ackWith(t, "join_group", "")))
}

func TestDirect_RoutedToTarget(t *testing.T) {
	gw := newTestGateway(t, nil, nil)

	c1, ft1 := connectClient(t, gw, "node")
	registerNode(t, gw, c1, ft1, "alpha")
	c2, ft2 := connectClient(t, gw, "node")
	n2 := registerNode(t, gw, c2, ft2, "beta")

	gw.handleFrame(c1, mkframe(t, &protocol.Envelope{
		Type:         protocol.TypeDirect,
		ID:           "d1",
		TargetNodeID: n2,
		Payload:      payload(t, map[string]string{"msg": "psst"}),
	}))

	relayed := ft2.waitFor(t, byType(protocol.TypeDirect))
	assert.Equal(t, c1.NodeID(), relayed.NodeID)
	require.NotNil(t, ft1.find(t, ackWith(t, "direct", "")))
}

func TestDirect_UnknownTarget(t *testing.T) {
	gw := newTestGateway(t, nil, nil)
	c, ft := connectClient(t, gw, "node")
	registerNode(t, gw, c, ft, "alpha")

	gw.handleFrame(c, mkframe(t, &protocol.Envelope{
		Type:         protocol.TypeDirect,
		ID:           "d1",
		TargetNodeID: "node-0-missing",
		Payload:      payload(t, map[string]string{"msg": "psst"}),
	}))

	env := ft.find(t, byType(protocol.TypeError))
	require.NotNil(t, env)
	assert.Equal(t, protocol.CodeNodeNotFound, errorCode(t, env))
}

func TestPing_AnswersPong(t *testing.T) {
	gw := newTestGateway(t, nil, nil)
	c, ft := connectClient(t, gw, "cli")

	gw.handleFrame(c, mkframe(t, &protocol.Envelope{Type: protocol.TypePing, ID: "p1"}))

	pong := ft.find(t, byType(protocol.TypePong))
	require.NotNil(t, pong)
	assert.Equal(t, "p1", pong.ID)
}

func TestRateLimit_AppliesToRegisteredNodes(t *testing.T) {
	gw := newTestGateway(t, nil, nil)
	c, ft := connectClient(t, gw, "node")
	registerNode(t, gw, c, ft, "chatty")

	var limited *protocol.Envelope
	for i := 0; i < 150 && limited == nil; i++ {
		gw.handleFrame(c, mkframe(t, &protocol.Envelope{
			Type:    protocol.TypeSessionSubscribe,
			ID:      "s1",
			Payload: payload(t, protocol.SessionPayload{SessionID: "main"}),
		}))
		limited = ft.find(t, func(env *protocol.Envelope) bool {
			return env.Type == protocol.TypeError && errorCode(t, env) == protocol.CodeRateLimited
		})
	}
	assert.NotNil(t, limited, "flood should trip the rate limit")
}

func TestRateLimit_PingExempt(t *testing.T) {
	gw := newTestGateway(t, nil, nil)
	c, ft := connectClient(t, gw, "node")
	registerNode(t, gw, c, ft, "pinger")

	for i := 0; i < 150; i++ {
		gw.handleFrame(c, mkframe(t, &protocol.Envelope{Type: protocol.TypePing, ID: "p"}))
	}
	assert.Nil(t, ft.find(t, byType(protocol.TypeError)))
}

func TestCleanupClient_TearsDownEverything(t *testing.T) {
	gw := newTestGateway(t, nil, nil)
	c, ft := connectClient(t, gw, "node")
	nodeID := registerNode(t, gw, c, ft, "worker")

	gw.handleFrame(c, mkframe(t, &protocol.Envelope{
		Type:    protocol.TypeJoinGroup,
		ID:      "j1",
		Payload: payload(t, protocol.GroupPayload{Name: "builders"}),
	}))
	gw.handleFrame(c, mkframe(t, &protocol.Envelope{
		Type:    protocol.TypeSessionSubscribe,
		ID:      "s1",
		Payload: payload(t, protocol.SessionPayload{SessionID: "main"}),
	}))

	gw.cleanupClient(c)

	assert.Equal(t, 0, gw.clients.count())
	assert.Equal(t, 0, gw.nodes.Count())
	assert.Empty(t, gw.subs.Subscribers("main"))
	g, ok := gw.groups.GetGroupByName("builders")
	require.True(t, ok)
	members, err := gw.groups.GroupMembers(g.ID)
	require.NoError(t, err)
	assert.NotContains(t, members, nodeID)
	assert.True(t, ft.isClosed())

	// Idempotent.
	gw.cleanupClient(c)
}
