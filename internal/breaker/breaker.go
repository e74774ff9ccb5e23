// ABOUTME: Per-endpoint circuit breaker guarding calls to external services.
// ABOUTME: Opens after consecutive failures and probes again after a recovery timeout.

// Package breaker provides a call-wrapping circuit breaker that stops
// invoking a failing dependency for a cooldown period after repeated
// failures.
package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call without attempting it.
var ErrOpen = errors.New("circuit breaker is open")

// State of the breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker trips open after a run of consecutive failures and fails fast
// until the recovery timeout elapses. The first call after recovery runs as
// a probe: success closes the breaker, failure reopens it.
type Breaker struct {
	name      string
	threshold int
	recovery  time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed breaker. threshold is the consecutive-failure count
// that opens it; recovery is how long it stays open before probing.
func New(name string, threshold int, recovery time.Duration, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		recovery:  recovery,
		state:     StateClosed,
		logger:    logger.With("component", "breaker", "breaker", name),
	}
}

// Allow reports whether a call may proceed. Returns ErrOpen while the
// breaker is open or while a recovery probe is already in flight.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.recovery {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.probing = true
		b.logger.Info("circuit half-open, probing")
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess resets the failure run and closes a half-open breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.logger.Info("circuit closed after successful probe")
	}
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

// RecordFailure counts a failure, opening the breaker at the threshold or
// reopening it after a failed probe.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.open()
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.open()
		}
	}
}

// open transitions to the open state. Must be called with mu held.
func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = time.Now()
	b.probing = false
	b.logger.Warn("circuit opened",
		"failures", b.failures,
		"recovery", b.recovery)
}

// Do runs fn under the breaker: rejected immediately with ErrOpen when the
// circuit is open, otherwise executed with its result recorded.
func (b *Breaker) Do(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status is a point-in-time snapshot for introspection endpoints.
type Status struct {
	Name     string `json:"name"`
	State    State  `json:"state"`
	Failures int    `json:"failures"`
}

// Snapshot returns the breaker's status.
func (b *Breaker) Snapshot() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Name:     b.name,
		State:    b.state,
		Failures: b.failures,
	}
}
