// ABOUTME: Connection registry keyed by (channel type, resource id) with bounded queues
// ABOUTME: Fans events out to exact-match subscribers and replays recent ones to newcomers

package sse

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthchat/relay/internal/events"
)

const (
	// defaultQueueSize is the delivery buffer for each connection.
	defaultQueueSize = 64
	// defaultReplaySize is how many republishable envelopes are retained per
	// resource for late subscribers.
	defaultReplaySize = 16

	defaultHeartbeatInterval = 30 * time.Second
	defaultCancelGrace       = 2 * time.Second
)

// Envelope is one queued delivery: the SSE event name plus its data payload.
// Republished marks copies replayed to a late subscriber.
type Envelope struct {
	ID          string `json:"id,omitempty"`
	Event       string `json:"event"`
	Data        any    `json:"data"`
	Republished bool   `json:"republished,omitempty"`
}

// Connection is one live SSE subscriber and its delivery queue. The queue is
// owned exclusively by this connection; it is closed when the connection is
// removed from the manager.
type Connection struct {
	ID          string
	ChannelType events.ChannelType
	ResourceID  string
	UserID      string
	ConnectedAt time.Time

	mu         sync.Mutex
	queue      chan Envelope
	closed     bool
	dropped    int
	lastActive time.Time
}

// Queue exposes the delivery queue for consumers. The channel is closed when
// the connection is removed.
func (c *Connection) Queue() <-chan Envelope {
	return c.queue
}

// push enqueues without blocking. Returns false when the connection is closed
// or its queue is full; full-queue envelopes are dropped and counted.
func (c *Connection) push(env Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.queue <- env:
		c.lastActive = time.Now()
		return true
	default:
		c.dropped++
		return false
	}
}

// close marks the connection closed and closes its queue. Consumers drain
// whatever was already enqueued and then observe the close.
func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.queue)
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) droppedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Config tunes the manager. Zero values take the defaults above.
type Config struct {
	QueueSize         int
	ReplaySize        int
	HeartbeatInterval time.Duration
	CancelGrace       time.Duration
	EmitErrorEvents   bool
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.ReplaySize < 0 {
		c.ReplaySize = 0
	}
	if c.ReplaySize == 0 {
		c.ReplaySize = defaultReplaySize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = defaultCancelGrace
	}
	return c
}

// Manager tracks live SSE connections. All bucket mutation happens under one
// mutex; replay rings share it so registration and send stay strictly
// ordered with respect to each other.
type Manager struct {
	mu     sync.RWMutex
	global []*Connection
	scoped map[events.ChannelType]map[string][]*Connection
	replay map[string][]Envelope
	closed bool

	cfg    Config
	logger *slog.Logger
}

// NewManager creates a connection manager. Pass nil logger for default.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		scoped: make(map[events.ChannelType]map[string][]*Connection),
		replay: make(map[string][]Envelope),
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "sse_manager"),
	}
}

// replayKey buckets replay rings. Uses | as delimiter since it cannot appear
// in UUIDs.
func replayKey(ct events.ChannelType, resourceID string) string {
	return string(ct) + "|" + resourceID
}

// Register creates a connection for the given scope and returns it with a
// fresh delivery queue. Recent republishable envelopes for the scope are
// replayed onto the queue, marked republished, before any new events arrive.
func (m *Manager) Register(ct events.ChannelType, resourceID, userID string) (*Connection, error) {
	if !ct.Valid() {
		return nil, fmt.Errorf("register connection: unknown channel type %q", ct)
	}
	if ct == events.ChannelGlobal && resourceID != "" {
		return nil, fmt.Errorf("register connection: global channel takes no resource id")
	}
	if ct != events.ChannelGlobal && resourceID == "" {
		return nil, fmt.Errorf("register connection: resource id is required for %s channel", ct)
	}

	conn := &Connection{
		ID:          uuid.New().String(),
		ChannelType: ct,
		ResourceID:  resourceID,
		UserID:      userID,
		ConnectedAt: time.Now().UTC(),
		queue:       make(chan Envelope, m.cfg.QueueSize),
		lastActive:  time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("register connection: manager is closed")
	}

	if ct == events.ChannelGlobal {
		m.global = append(m.global, conn)
	} else {
		bucket, ok := m.scoped[ct]
		if !ok {
			bucket = make(map[string][]*Connection)
			m.scoped[ct] = bucket
		}
		bucket[resourceID] = append(bucket[resourceID], conn)
	}

	for _, env := range m.replay[replayKey(ct, resourceID)] {
		env.Republished = true
		conn.push(env)
	}

	m.logger.Debug("connection registered",
		"connection_id", conn.ID,
		"channel_type", ct,
		"resource_id", resourceID,
		"user_id", userID)

	return conn, nil
}

// Remove deletes a connection and closes its queue. The resource bucket is
// deleted once its last connection is gone. Returns false, logging at warn,
// when the connection is not found.
func (m *Manager) Remove(ct events.ChannelType, resourceID, connectionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed *Connection

	if ct == events.ChannelGlobal {
		for i, conn := range m.global {
			if conn.ID == connectionID {
				removed = conn
				m.global = append(m.global[:i], m.global[i+1:]...)
				break
			}
		}
	} else if bucket, ok := m.scoped[ct]; ok {
		conns := bucket[resourceID]
		for i, conn := range conns {
			if conn.ID == connectionID {
				removed = conn
				bucket[resourceID] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(bucket[resourceID]) == 0 {
			delete(bucket, resourceID)
			delete(m.replay, replayKey(ct, resourceID))
			if len(bucket) == 0 {
				delete(m.scoped, ct)
			}
		}
	}

	if removed == nil {
		m.logger.Warn("connection not found for removal",
			"connection_id", connectionID,
			"channel_type", ct,
			"resource_id", resourceID)
		return false
	}

	removed.close()

	m.logger.Debug("connection removed",
		"connection_id", connectionID,
		"channel_type", ct,
		"resource_id", resourceID,
		"dropped_events", removed.droppedCount())

	return true
}

// SendEvent pushes an {event, data} envelope to every connection registered
// for exactly (ct, resourceID) and returns how many received it. A scope with
// zero connections is a logged no-op, never a broadcast. With republish set
// the envelope is also retained in the scope's replay ring for future
// subscribers.
func (m *Manager) SendEvent(ct events.ChannelType, resourceID, eventType string, data any, republish bool) int {
	if !ct.Valid() {
		m.logger.Warn("send to unknown channel type",
			"channel_type", ct,
			"event_type", eventType)
		return 0
	}

	env := Envelope{
		ID:    uuid.New().String(),
		Event: eventType,
		Data:  data,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0
	}

	var targets []*Connection
	if ct == events.ChannelGlobal {
		targets = append(targets, m.global...)
	} else if bucket, ok := m.scoped[ct]; ok {
		targets = append(targets, bucket[resourceID]...)
	}

	if republish && m.cfg.ReplaySize > 0 {
		key := replayKey(ct, resourceID)
		ring := append(m.replay[key], env)
		if len(ring) > m.cfg.ReplaySize {
			ring = ring[len(ring)-m.cfg.ReplaySize:]
		}
		m.replay[key] = ring
	}
	m.mu.Unlock()

	if len(targets) == 0 {
		m.logger.Debug("no connections for event",
			"channel_type", ct,
			"resource_id", resourceID,
			"event_type", eventType)
		return 0
	}

	delivered := 0
	for _, conn := range targets {
		if conn.push(env) {
			delivered++
		} else {
			m.logger.Warn("dropped event for slow connection",
				"connection_id", conn.ID,
				"channel_type", ct,
				"resource_id", resourceID,
				"event_type", eventType)
		}
	}
	return delivered
}

// Stats summarizes live connections.
type Stats struct {
	Total         int            `json:"total"`
	ByChannel     map[string]int `json:"by_channel"`
	ByUser        map[string]int `json:"by_user"`
	DroppedEvents int            `json:"dropped_events"`
}

// Stats walks every connection and returns per-channel and per-user counts.
// O(total connections), which stays small in practice.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		ByChannel: make(map[string]int),
		ByUser:    make(map[string]int),
	}

	count := func(conn *Connection) {
		stats.Total++
		stats.ByChannel[string(conn.ChannelType)]++
		if conn.UserID != "" {
			stats.ByUser[conn.UserID]++
		}
		stats.DroppedEvents += conn.droppedCount()
	}

	for _, conn := range m.global {
		count(conn)
	}
	for _, bucket := range m.scoped {
		for _, conns := range bucket {
			for _, conn := range conns {
				count(conn)
			}
		}
	}
	return stats
}

// Close removes every connection and rejects further registrations.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	for _, conn := range m.global {
		conn.close()
	}
	m.global = nil
	for _, bucket := range m.scoped {
		for _, conns := range bucket {
			for _, conn := range conns {
				conn.close()
			}
		}
	}
	m.scoped = make(map[events.ChannelType]map[string][]*Connection)
	m.replay = make(map[string][]Envelope)

	m.logger.Debug("connection manager closed")
}
