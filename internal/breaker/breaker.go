// Package breaker implements a per-server circuit breaker kept in process memory.
//
// Transitions:
//
//	CLOSED    -> OPEN       after FailureThreshold consecutive failures
//	OPEN      -> HALF_OPEN  once OpenTimeout has elapsed (checked lazily in IsOpen)
//	HALF_OPEN -> CLOSED     after SuccessThreshold consecutive successes
//	HALF_OPEN -> OPEN       on any failure
package breaker

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker state of one server
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultOpenTimeout      = 60 * time.Second
)

// Settings defines thresholds and timeouts
type Settings struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold" toml:"failure_threshold" mapstructure:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold" yaml:"success_threshold" toml:"success_threshold" mapstructure:"success_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout" yaml:"open_timeout" toml:"open_timeout" mapstructure:"open_timeout"`
}

// DefaultSettings returns the stock thresholds
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: DefaultFailureThreshold,
		SuccessThreshold: DefaultSuccessThreshold,
		OpenTimeout:      DefaultOpenTimeout,
	}
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = DefaultFailureThreshold
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = DefaultSuccessThreshold
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = DefaultOpenTimeout
	}
	return s
}

// Snapshot is a point-in-time copy of one breaker entry. Key is the
// tenant-scoped server key the entry was recorded under.
type Snapshot struct {
	Key                  string     `json:"key"`
	State                State      `json:"state"`
	FailureCount         int        `json:"failure_count"`
	SuccessCount         int        `json:"success_count"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	ConsecutiveSuccesses int        `json:"consecutive_successes"`
	LastFailureAt        *time.Time `json:"last_failure_at,omitempty"`
	LastSuccessAt        *time.Time `json:"last_success_at,omitempty"`
	OpenedAt             *time.Time `json:"opened_at,omitempty"`
	HalfOpenedAt         *time.Time `json:"half_opened_at,omitempty"`
}

// TransitionObserver is notified after every state change
type TransitionObserver interface {
	OnTransition(key string, from, to State)
}

type entry struct {
	state                State
	failureCount         int
	successCount         int
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailureAt        time.Time
	lastSuccessAt        time.Time
	openedAt             time.Time
	halfOpenedAt         time.Time
}

// Breaker tracks breaker state per server id. It is safe for concurrent use.
type Breaker struct {
	settings Settings
	logger   *zap.Logger
	observer TransitionObserver
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// Option configures a Breaker
type Option func(*Breaker)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithObserver registers a transition observer
func WithObserver(observer TransitionObserver) Option {
	return func(b *Breaker) {
		b.observer = observer
	}
}

// WithClock overrides the clock
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a breaker. Zero-valued settings fall back to defaults.
func New(settings Settings, opts ...Option) *Breaker {
	b := &Breaker{
		settings: settings.withDefaults(),
		logger:   zap.NewNop(),
		now:      time.Now,
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Settings returns the effective settings
func (b *Breaker) Settings() Settings {
	return b.settings
}

// IsOpen reports whether calls to key must be rejected.
// An OPEN breaker whose timeout has elapsed moves to HALF_OPEN and admits calls.
func (b *Breaker) IsOpen(_ context.Context, key string) bool {
	b.mu.Lock()
	e, ok := b.entries[key]
	if !ok || e.state != StateOpen {
		b.mu.Unlock()
		return false
	}

	now := b.now()
	if now.Sub(e.openedAt) < b.settings.OpenTimeout {
		b.mu.Unlock()
		return true
	}

	e.state = StateHalfOpen
	e.halfOpenedAt = now
	e.consecutiveSuccesses = 0
	b.mu.Unlock()

	b.transitioned(key, StateOpen, StateHalfOpen)
	return false
}

// RecordSuccess records a successful call
func (b *Breaker) RecordSuccess(_ context.Context, key string) {
	b.mu.Lock()
	e := b.entry(key)
	e.successCount++
	e.consecutiveSuccesses++
	e.consecutiveFailures = 0
	e.lastSuccessAt = b.now()

	from := e.state
	if e.state == StateHalfOpen && e.consecutiveSuccesses >= b.settings.SuccessThreshold {
		e.state = StateClosed
		e.openedAt = time.Time{}
		e.halfOpenedAt = time.Time{}
	}
	to := e.state
	b.mu.Unlock()

	if from != to {
		b.transitioned(key, from, to)
	}
}

// RecordFailure records a failed call
func (b *Breaker) RecordFailure(_ context.Context, key string) {
	b.mu.Lock()
	e := b.entry(key)
	now := b.now()
	e.failureCount++
	e.consecutiveFailures++
	e.consecutiveSuccesses = 0
	e.lastFailureAt = now

	from := e.state
	switch e.state {
	case StateClosed:
		if e.consecutiveFailures >= b.settings.FailureThreshold {
			e.state = StateOpen
			e.openedAt = now
		}
	case StateHalfOpen:
		e.state = StateOpen
		e.openedAt = now
	case StateOpen:
		// a call admitted before the breaker tripped finished late
	}
	to := e.state
	b.mu.Unlock()

	if from != to {
		b.transitioned(key, from, to)
	}
}

// Reset forces key back to CLOSED and clears consecutive counters
func (b *Breaker) Reset(key string) {
	b.mu.Lock()
	e, ok := b.entries[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	from := e.state
	e.state = StateClosed
	e.consecutiveFailures = 0
	e.consecutiveSuccesses = 0
	e.openedAt = time.Time{}
	e.halfOpenedAt = time.Time{}
	b.mu.Unlock()

	if from != StateClosed {
		b.transitioned(key, from, StateClosed)
	}
}

// State returns the snapshot for key. Unknown servers report CLOSED.
func (b *Breaker) State(key string) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return Snapshot{Key: key, State: StateClosed}
	}
	return e.snapshot(key)
}

// States returns snapshots of every tracked server, sorted by id
func (b *Breaker) States() []Snapshot {
	b.mu.Lock()
	out := make([]Snapshot, 0, len(b.entries))
	for id, e := range b.entries {
		out = append(out, e.snapshot(id))
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// entry must be called with mu held
func (b *Breaker) entry(key string) *entry {
	e, ok := b.entries[key]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[key] = e
	}
	return e
}

func (b *Breaker) transitioned(key string, from, to State) {
	fields := []zap.Field{
		zap.String("breaker_key", key),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	}
	if to == StateOpen {
		b.logger.Warn("Circuit breaker opened", fields...)
	} else {
		b.logger.Info("Circuit breaker state changed", fields...)
	}
	if b.observer != nil {
		b.observer.OnTransition(key, from, to)
	}
}

func (e *entry) snapshot(key string) Snapshot {
	return Snapshot{
		Key:                  key,
		State:                e.state,
		FailureCount:         e.failureCount,
		SuccessCount:         e.successCount,
		ConsecutiveFailures:  e.consecutiveFailures,
		ConsecutiveSuccesses: e.consecutiveSuccesses,
		LastFailureAt:        timePtr(e.lastFailureAt),
		LastSuccessAt:        timePtr(e.lastSuccessAt),
		OpenedAt:             timePtr(e.openedAt),
		HalfOpenedAt:         timePtr(e.halfOpenedAt),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
