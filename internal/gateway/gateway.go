// ABOUTME: Gateway orchestrator wiring the bus, SSE manager, router, and expert hub
// ABOUTME: Owns the HTTP server and the startup and graceful shutdown lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/hearthchat/relay/internal/auth"
	"github.com/hearthchat/relay/internal/config"
	"github.com/hearthchat/relay/internal/dedupe"
	"github.com/hearthchat/relay/internal/events"
	"github.com/hearthchat/relay/internal/experts"
	"github.com/hearthchat/relay/internal/router"
	"github.com/hearthchat/relay/internal/sse"
	"github.com/hearthchat/relay/internal/store"
)

// Gateway wires the event bus, SSE connection manager, message router, and
// expert hub behind a single HTTP server and manages their lifecycle.
type Gateway struct {
	config *config.Config
	store  store.Store
	bus    *events.Bus
	sse    *sse.Manager
	router *router.Router
	hub    *experts.Hub
	dedupe *dedupe.Cache
	access *auth.ResourceAccess
	logger *slog.Logger

	// verifier is nil when no jwt_secret is configured; the middleware then
	// rejects any presented token and serves anonymous traffic only.
	verifier auth.TokenVerifier

	httpServer *http.Server

	// serverID identifies this gateway instance in published events
	serverID string

	// bridgeSubs holds bus subscription ids for the SSE bridge so Shutdown
	// can detach them before the bus closes
	bridgeSubs []string
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Store.Path
	if envPath := os.Getenv("RELAY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// buildVerifier returns a token verifier when a JWT secret is configured,
// nil otherwise.
func buildVerifier(cfg *config.Config, logger *slog.Logger) auth.TokenVerifier {
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth disabled - no jwt_secret configured")
		return nil
	}
	logger.Info("JWT auth enabled", "require_auth", cfg.Auth.RequireAuth)
	return auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
}

// loadExperts registers the configured expert catalog on the hub. An empty
// catalog path means no experts.
func loadExperts(cfg *config.Config, hub *experts.Hub) error {
	if cfg.Experts.Catalog == "" {
		return nil
	}
	catalog, err := experts.LoadCatalog(cfg.Experts.Catalog)
	if err != nil {
		return fmt.Errorf("loading expert catalog: %w", err)
	}
	if err := hub.RegisterCatalog(catalog); err != nil {
		return fmt.Errorf("registering expert catalog: %w", err)
	}
	return nil
}

// New creates a new Gateway instance with the given configuration. All
// components are constructed and wired; nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(logger)

	manager := sse.NewManager(sse.Config{
		QueueSize:         cfg.SSE.QueueSize,
		ReplaySize:        cfg.SSE.ReplayBuffer,
		HeartbeatInterval: cfg.SSE.HeartbeatInterval,
		CancelGrace:       cfg.SSE.CancelGrace,
		EmitErrorEvents:   cfg.SSE.EmitErrorEvents,
	}, logger)

	rt := router.New(bus, s, nil, nil, router.Config{
		QueueSize:         cfg.Router.QueueSize,
		DelayUnit:         cfg.Router.DelayUnit,
		MinWait:           cfg.Router.MinWait,
		ProcessingMessage: cfg.Router.ProcessingMessage,
	}, logger)

	hub := experts.NewHub(experts.Config{
		HealthInterval:   cfg.Experts.HealthInterval,
		BreakerThreshold: cfg.Experts.BreakerThreshold,
		BreakerRecovery:  cfg.Experts.BreakerRecovery,
		RequestTimeout:   cfg.Experts.RequestTimeout,
	}, logger)
	if err := loadExperts(cfg, hub); err != nil {
		hub.Close()
		_ = s.Close()
		return nil, err
	}

	gw := &Gateway{
		config:   cfg,
		store:    s,
		bus:      bus,
		sse:      manager,
		router:   rt,
		hub:      hub,
		dedupe:   dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize, logger),
		access:   auth.NewResourceAccess(s, logger),
		verifier: buildVerifier(cfg, logger),
		logger:   logger.With("component", "gateway"),
		serverID: generateServerID(),
	}

	gw.bridgeSubs = gw.startBridges()

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes builds the HTTP mux. Health endpoints are open; everything under
// /api goes through the auth middleware.
func (g *Gateway) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /ready", g.handleReady)

	authed := auth.Middleware(g.verifier, g.config.Auth.RequireAuth)
	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authed(h))
	}

	api("GET /api/stats", g.handleStats)

	api("GET /api/events/global", g.handleSubscribe(events.ChannelGlobal))
	api("GET /api/events/users/{id}", g.handleSubscribe(events.ChannelUser))
	api("GET /api/events/workspaces/{id}", g.handleSubscribe(events.ChannelWorkspace))
	api("GET /api/events/conversations/{id}", g.handleSubscribe(events.ChannelConversation))
	api("GET /api/events/notifications/{id}", g.handleSubscribe(events.ChannelNotification))

	api("POST /api/conversations", g.handleCreateConversation)
	api("GET /api/conversations", g.handleListConversations)
	api("GET /api/conversations/{id}", g.handleGetConversation)
	api("GET /api/conversations/{id}/messages", g.handleListMessages)
	api("POST /api/conversations/{id}/messages", g.handlePostMessage)

	api("GET /api/experts", g.handleListExperts)
	api("POST /api/experts/{name}/tools/{tool}", g.handleCallTool)

	return mux
}

// startServer starts the HTTP server in a goroutine, returning error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the router, connects experts, and serves HTTP until the context
// is canceled. Returns nil on graceful shutdown, or an error if the server
// fails or shutdown does not complete cleanly.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.Addr(), err)
	}

	g.router.Start(ctx)

	// Expert connections can be slow or fail outright; neither should hold
	// up serving. The hub's health loop keeps retrying after Run proceeds.
	go g.hub.ConnectAll(ctx)

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownGrace)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops all gateway components and releases resources. The SSE
// manager closes before the HTTP server shuts down so open event streams end
// instead of holding the drain until the deadline.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.sse.Close()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	for _, id := range g.bridgeSubs {
		g.bus.Unsubscribe(id)
	}
	g.router.Stop()
	g.hub.Close()
	g.bus.Close()
	g.dedupe.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth reports liveness.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports readiness: the router worker must be accepting intake.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if !g.router.Running() {
		sendJSONError(w, http.StatusServiceUnavailable, "router not running")
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"queue_depth": g.router.QueueDepth(),
	})
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("relay-gateway-%d", time.Now().UnixNano()%1000000)
}
