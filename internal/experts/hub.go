// ABOUTME: Hub owning the lifecycle of all registered domain-expert clients.
// ABOUTME: Runs health probes, reconnect backoff, and per-endpoint circuit breaking.

package experts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hearthchat/relay/internal/breaker"
)

// CodeExpertUnavailable is the stable error code surfaced to API callers
// when an expert cannot be reached.
const CodeExpertUnavailable = "expert_unavailable"

// ErrExpertUnavailable is returned when the circuit breaker for an expert
// is open and the call was rejected without a network attempt.
var ErrExpertUnavailable = errors.New("expert unavailable")

// ErrExpertNotFound indicates the named expert is not registered.
var ErrExpertNotFound = errors.New("expert not found")

// ErrExpertAlreadyRegistered indicates a duplicate registration.
var ErrExpertAlreadyRegistered = errors.New("expert already registered")

const (
	defaultHealthInterval   = 30 * time.Second
	defaultBreakerThreshold = 3
	defaultBreakerRecovery  = 60 * time.Second
	defaultRequestTimeout   = 30 * time.Second

	baseBackoff          = 100 * time.Millisecond
	maxBackoff           = 30 * time.Second
	maxReconnectAttempts = 10
)

// Config tunes the hub. Zero values take the defaults above.
type Config struct {
	HealthInterval   time.Duration
	BreakerThreshold int
	BreakerRecovery  time.Duration
	RequestTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.HealthInterval <= 0 {
		c.HealthInterval = defaultHealthInterval
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = defaultBreakerThreshold
	}
	if c.BreakerRecovery <= 0 {
		c.BreakerRecovery = defaultBreakerRecovery
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return c
}

// ExpertStatus is a point-in-time snapshot of one registered expert.
type ExpertStatus struct {
	Name     string         `json:"name"`
	Endpoint string         `json:"endpoint"`
	Type     string         `json:"type,omitempty"`
	Status   Status         `json:"status"`
	Breaker  breaker.Status `json:"breaker"`
}

// Hub manages one Client per registered expert.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	mu           sync.RWMutex
	clients      map[string]*Client
	breakers     map[string]*breaker.Breaker
	meta         map[string]Expert
	order        []string
	attempts     map[string]int
	reconnecting map[string]bool
	closed       bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewHub creates a hub and starts its background health loop. Call Close
// to stop the loop and disconnect all clients.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		cfg:          cfg.withDefaults(),
		logger:       logger.With("component", "expert_hub"),
		clients:      make(map[string]*Client),
		breakers:     make(map[string]*breaker.Breaker),
		meta:         make(map[string]Expert),
		attempts:     make(map[string]int),
		reconnecting: make(map[string]bool),
		done:         make(chan struct{}),
	}
	h.wg.Go(h.healthLoop)
	return h
}

// Register adds a client for the given catalog entry without connecting it.
func (h *Hub) Register(e Expert) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, errors.New("hub is closed")
	}
	if _, exists := h.clients[e.Name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrExpertAlreadyRegistered, e.Name)
	}

	client := NewClient(e.Name, e.Endpoint, h.cfg.RequestTimeout, h.logger)
	h.clients[e.Name] = client
	h.breakers[e.Name] = breaker.New(e.Name, h.cfg.BreakerThreshold, h.cfg.BreakerRecovery, h.logger)
	h.meta[e.Name] = e
	h.order = append(h.order, e.Name)

	h.logger.Info("expert registered",
		"expert", e.Name,
		"endpoint", e.Endpoint,
		"type", e.Type,
	)
	return client, nil
}

// RegisterCatalog registers every enabled entry in the catalog.
func (h *Hub) RegisterCatalog(cat *Catalog) error {
	for _, e := range cat.Experts {
		if !e.IsEnabled() {
			h.logger.Debug("skipping disabled expert", "expert", e.Name)
			continue
		}
		if _, err := h.Register(e); err != nil {
			return err
		}
	}
	return nil
}

// Client returns the client registered under name.
func (h *Hub) Client(name string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[name]
	return c, ok
}

// Connect connects one expert. Unlike ConnectAll, the error is returned to
// the caller.
func (h *Hub) Connect(ctx context.Context, name string) error {
	client, ok := h.Client(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrExpertNotFound, name)
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	h.attempts[name] = 0
	h.mu.Unlock()
	return nil
}

// ConnectAll connects every registered expert. Individual failures are
// logged and reflected in the client's status; the remaining experts are
// still attempted.
func (h *Hub) ConnectAll(ctx context.Context) {
	h.mu.RLock()
	names := make([]string, len(h.order))
	copy(names, h.order)
	h.mu.RUnlock()

	for _, name := range names {
		if err := h.Connect(ctx, name); err != nil {
			h.logger.Warn("expert connect failed", "expert", name, "error", err)
		}
	}
}

// Disconnect terminates one expert's session.
func (h *Hub) Disconnect(ctx context.Context, name string) error {
	client, ok := h.Client(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrExpertNotFound, name)
	}
	client.Disconnect(ctx)
	return nil
}

// Statuses returns a snapshot of every registered expert in registration
// order.
func (h *Hub) Statuses() []ExpertStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ExpertStatus, 0, len(h.order))
	for _, name := range h.order {
		client := h.clients[name]
		out = append(out, ExpertStatus{
			Name:     name,
			Endpoint: client.Endpoint(),
			Type:     h.meta[name].Type,
			Status:   client.Status(),
			Breaker:  h.breakers[name].Snapshot(),
		})
	}
	return out
}

// ListTools lists an expert's tools through its circuit breaker.
func (h *Hub) ListTools(ctx context.Context, name string) ([]ToolInfo, error) {
	var tools []ToolInfo
	err := h.guarded(name, func(c *Client) error {
		var err error
		tools, err = c.ListTools(ctx)
		return err
	})
	return tools, err
}

// CallTool invokes a tool on an expert through its circuit breaker.
func (h *Hub) CallTool(ctx context.Context, name, tool string, args map[string]any) (map[string]any, error) {
	var result map[string]any
	err := h.guarded(name, func(c *Client) error {
		var err error
		result, err = c.CallTool(ctx, tool, args)
		return err
	})
	return result, err
}

// ReadResource reads a resource from an expert through its circuit breaker.
func (h *Hub) ReadResource(ctx context.Context, name, uri string) (map[string]any, error) {
	var result map[string]any
	err := h.guarded(name, func(c *Client) error {
		var err error
		result, err = c.ReadResource(ctx, uri)
		return err
	})
	return result, err
}

// guarded runs fn against the named client under its breaker. A rejected
// call surfaces as ErrExpertUnavailable so callers see one stable error
// regardless of breaker internals.
func (h *Hub) guarded(name string, fn func(*Client) error) error {
	h.mu.RLock()
	client, ok := h.clients[name]
	br := h.breakers[name]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrExpertNotFound, name)
	}

	err := br.Do(func() error { return fn(client) })
	if errors.Is(err, breaker.ErrOpen) {
		return fmt.Errorf("expert %s: %w", name, ErrExpertUnavailable)
	}
	return err
}

// healthLoop probes connected experts until the hub is closed.
func (h *Hub) healthLoop() {
	ticker := time.NewTicker(h.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.checkHealth()
		}
	}
}

// checkHealth runs a tools/list probe against every connected client and
// pushes failures into the reconnect cycle.
func (h *Hub) checkHealth() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.order))
	for _, name := range h.order {
		clients = append(clients, h.clients[name])
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.Status() != StatusConnected {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.RequestTimeout)
		_, err := client.ListTools(ctx)
		cancel()

		if err != nil {
			h.logger.Warn("expert health check failed",
				"expert", client.Name(),
				"error", err,
			)
			h.startReconnect(client)
		}
	}
}

// startReconnect moves the client into StatusReconnecting and spawns the
// backoff loop, unless one is already running for it.
func (h *Hub) startReconnect(client *Client) {
	name := client.Name()

	h.mu.Lock()
	if h.closed || h.reconnecting[name] {
		h.mu.Unlock()
		return
	}
	h.reconnecting[name] = true
	h.mu.Unlock()

	client.setStatus(StatusReconnecting)
	h.wg.Go(func() { h.reconnect(client) })
}

// reconnect retries connect() with exponential backoff until it succeeds,
// the attempt limit is reached, or the hub closes.
func (h *Hub) reconnect(client *Client) {
	name := client.Name()
	defer func() {
		h.mu.Lock()
		delete(h.reconnecting, name)
		h.mu.Unlock()
	}()

	for {
		h.mu.Lock()
		h.attempts[name]++
		attempt := h.attempts[name]
		h.mu.Unlock()

		if attempt > maxReconnectAttempts {
			client.setStatus(StatusError)
			h.logger.Error("expert reconnect gave up",
				"expert", name,
				"attempts", maxReconnectAttempts,
			)
			return
		}

		delay := backoffDelay(attempt)
		h.logger.Info("expert reconnecting",
			"expert", name,
			"attempt", attempt,
			"delay", delay,
		)

		select {
		case <-h.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.RequestTimeout)
		err := client.Connect(ctx)
		cancel()

		if err == nil {
			h.mu.Lock()
			h.attempts[name] = 0
			h.mu.Unlock()
			return
		}

		client.setStatus(StatusReconnecting)
		h.logger.Warn("expert reconnect failed",
			"expert", name,
			"attempt", attempt,
			"error", err,
		)
	}
}

// backoffDelay returns min(2^(attempt-1) * 100ms, 30s).
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 16 {
		shift = 16
	}
	d := baseBackoff << shift
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// Close stops the health loop, waits for reconnect goroutines, and
// disconnects every client. Safe to call more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	close(h.done)
	h.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.order))
	for _, name := range h.order {
		clients = append(clients, h.clients[name])
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.Status() == StatusConnected {
			client.Disconnect(ctx)
		}
	}
}
