// ABOUTME: Gateway assembly and lifecycle: listener, ws endpoint, ping loop.
// ABOUTME: Run blocks until the context ends or the server fails; Shutdown is graceful.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/hive-gateway/internal/agent"
	"github.com/2389/hive-gateway/internal/auth"
	"github.com/2389/hive-gateway/internal/config"
	"github.com/2389/hive-gateway/internal/dedupe"
	"github.com/2389/hive-gateway/internal/group"
	"github.com/2389/hive-gateway/internal/hooks"
	"github.com/2389/hive-gateway/internal/metrics"
	"github.com/2389/hive-gateway/internal/node"
	"github.com/2389/hive-gateway/internal/protocol"
	"github.com/2389/hive-gateway/internal/session"
	"github.com/2389/hive-gateway/internal/store"
)

const (
	// identityHeader carries the transport-level user identity set by an
	// upstream proxy. Consulted only in transport-identity auth mode.
	identityHeader = "X-Forwarded-User"

	// dedupeTTL and dedupeMaxSize bound the bridge replay-suppression cache.
	dedupeTTL     = 5 * time.Minute
	dedupeMaxSize = 10000
)

// Deps are the injectable collaborators of a Gateway.
type Deps struct {
	Invoker agent.Invoker
	Store   store.Store
	Roster  []agent.Definition
	Logger  *slog.Logger
	Version string
}

// Gateway is the assembled server: one HTTP listener fronting the WebSocket
// endpoint, the long-poll bridge, and the read-only API.
type Gateway struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string

	auth    *auth.Authenticator
	nodes   *node.Registry
	groups  *group.Registry
	subs    *session.Index[*Client]
	clients *clientRegistry
	router  *agent.Router
	sched   *scheduler
	store   store.Store
	hooks   *hooks.Hooks
	dedupe  *dedupe.Cache
	metrics *metrics.Metrics
	invoker agent.Invoker
	bridges *bridgeSet

	upgrader websocket.Upgrader
	server   *http.Server
	done     chan struct{}
}

// New assembles a gateway from configuration and dependencies.
func New(cfg *config.Config, deps Deps) (*Gateway, error) {
	if deps.Invoker == nil {
		return nil, errors.New("gateway requires an invoker")
	}
	if deps.Store == nil {
		return nil, errors.New("gateway requires a store")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	authenticator, err := auth.New(auth.Config{
		Mode:        auth.Mode(cfg.Auth.Mode),
		Tokens:      cfg.Auth.Tokens,
		Password:    cfg.Auth.Password,
		TokenSecret: cfg.Auth.TokenSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("building authenticator: %w", err)
	}

	g := &Gateway{
		cfg:     cfg,
		logger:  logger.With("component", "gateway"),
		version: deps.Version,
		auth:    authenticator,
		nodes:   node.NewRegistry(cfg.Nodes.MaxNodes, logger),
		groups:  group.NewRegistry(logger),
		subs:    session.NewIndex[*Client](),
		clients: newClientRegistry(),
		router:  agent.NewRouter(deps.Roster),
		store:   deps.Store,
		hooks:   hooks.New(logger),
		dedupe:  dedupe.New(dedupeTTL, dedupeMaxSize),
		metrics: metrics.New(),
		invoker: deps.Invoker,
		bridges: newBridgeSet(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway fronts non-browser clients; token auth is the
			// cross-origin defense.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
	g.sched = newScheduler(g)
	return g, nil
}

// Hooks exposes the lifecycle hook dispatcher so the embedding process can
// register observers before Run.
func (g *Gateway) Hooks() *hooks.Hooks {
	return g.hooks
}

// Run starts the listener and the ping loop, blocking until ctx ends or the
// server fails. Shutdown is invoked on ctx cancellation.
func (g *Gateway) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWebSocket)
	mux.HandleFunc("/bridge/send", g.handleBridgeSend)
	mux.HandleFunc("/bridge/poll", g.handleBridgePoll)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/stats", g.handleStats)
	if g.cfg.Metrics.Enabled {
		mux.Handle(g.cfg.Metrics.Path, g.metrics.Handler())
	}

	g.server = &http.Server{
		Addr:              g.cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("gateway listening", "addr", g.cfg.Server.HTTPAddr, "version", g.version)
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go g.pingLoop()

	g.hooks.Emit(hooks.EventGatewayStartup, hooks.Payload{})

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return g.Shutdown(shutdownCtx)
	}
}

// Shutdown stops the listener, closes every client, and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("gateway shutting down")
	close(g.done)

	var firstErr error
	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	for _, c := range g.clients.all() {
		_ = c.Close()
	}
	g.dedupe.Close()
	if err := g.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// handleWebSocket upgrades the connection and runs the read loop until the
// peer goes away.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	t := newWSTransport(conn)
	c := newClient(t, r.Header.Get(identityHeader), false)
	go t.writePump()

	g.logger.Debug("websocket connected", "conn_id", c.ConnID, "remote", r.RemoteAddr)

	defer g.cleanupClient(c)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			g.logger.Debug("websocket closed", "conn_id", c.ConnID, "error", err)
			return
		}
		g.handleFrame(c, data)
	}
}

// cleanupClient tears down everything a connection owned: outstanding agent
// work, session subscriptions, node registration, and group membership.
// Idempotent; runs exactly once per client.
func (g *Gateway) cleanupClient(c *Client) {
	c.cleanupOnce.Do(func() {
		g.sched.handleDisconnect(c)
		g.subs.ForgetSocket(c)
		g.clients.remove(c)

		if nodeID := c.NodeID(); nodeID != "" {
			g.nodes.Unregister(nodeID)
			g.groups.RemoveNodeFromAllGroups(nodeID)
		}
		_ = c.Close()

		g.metrics.ConnectedClients.Set(float64(g.clients.count()))
		g.metrics.RegisteredNodes.Set(float64(g.nodes.Count()))
		g.logger.Info("client disconnected", "conn_id", c.ConnID, "client_id", c.ClientID())
	})
}

// pingLoop pings registered nodes on the configured interval and evicts the
// ones that have gone quiet. Idle bridge connections are swept on the same
// cadence.
func (g *Gateway) pingLoop() {
	ticker := time.NewTicker(g.cfg.Nodes.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ping := protocol.NewEnvelope(protocol.TypePing, "", nil)
			ids := make([]string, 0)
			for _, info := range g.nodes.AllNodes() {
				ids = append(ids, info.ID)
			}
			g.nodes.BroadcastToNodes(ids, ping)

			if evicted := g.nodes.RemoveStaleNodes(g.cfg.Nodes.PingTimeout); evicted > 0 {
				g.metrics.RegisteredNodes.Set(float64(g.nodes.Count()))
			}
			g.sweepIdleBridges()
		case <-g.done:
			return
		}
	}
}
