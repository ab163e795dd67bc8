// Package circuit implements a single-destination circuit breaker that
// guards internal/filesystem/webdav's Driver against hammering a server
// that has started failing every call: once enough consecutive failures
// land, further calls are rejected immediately until a cooldown elapses,
// then exactly one probe call is allowed through to test recovery (spec
// §9 supplemented circuit-breaker feature; modeled on the teacher's
// sony/gobreaker-style state machine, trimmed to one breaker per driver
// instead of a named-breaker Manager, since cuba has exactly one
// destination per profile).
package circuit

import (
	"context"
	stderr "errors"
	"sync"
	"time"

	"github.com/cuba/cuba/pkg/errors"
)

// State is one of the breaker's three states.
type State int

const (
	// Closed lets every call through, counting consecutive failures.
	Closed State = iota
	// Open rejects every call without attempting it.
	Open
	// HalfOpen lets exactly one probe call through to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when a call is rejected because the breaker is open.
var ErrOpen = stderr.New("circuit breaker open")

// Config governs one breaker's trip and cooldown behavior, mirroring
// internal/config.CircuitBreakerConfig field-for-field so the engine-wide
// engine.circuit_breaker settings pass straight through.
type Config struct {
	Enabled          bool
	FailureThreshold int
	Timeout          time.Duration
}

// Breaker is a circuit breaker for one destination. A disabled Config
// (Enabled: false) makes every method a passthrough: ExecuteWithContext
// always attempts fn, never tripping. The zero Config is disabled;
// internal/config.NewDefault enables circuit breaking.
type Breaker struct {
	name string
	cfg  Config

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a Breaker named name. A non-positive FailureThreshold
// falls back to 5 consecutive failures; a non-positive Timeout falls back
// to 60 seconds.
func NewBreaker(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Breaker{name: name, cfg: cfg, state: Closed}
}

// Name returns the breaker's name, typically the destination it guards.
func (b *Breaker) Name() string {
	return b.name
}

// State reports the breaker's current state, resolving an expired Open
// cooldown into HalfOpen as a side effect (matching ExecuteWithContext's
// own resolution, so callers inspecting state see what a call would do).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolveExpiry(time.Now())
	return b.state
}

// Reset clears failure history and returns the breaker to Closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probing = false
}

// ExecuteWithContext runs fn if the breaker allows it. A call that fails
// with any error, retryable or not, counts toward the failure threshold;
// a cuba NotFound result never does, since a missing
// path is an expected outcome, not a sign the destination itself is
// unhealthy.
func (b *Breaker) ExecuteWithContext(ctx context.Context, fn func(context.Context) error) error {
	if !b.cfg.Enabled {
		return fn(ctx)
	}

	if err := b.before(); err != nil {
		return err
	}

	err := fn(ctx)
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resolveExpiry(time.Now())

	switch b.state {
	case Open:
		return ErrOpen
	case HalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasProbing := b.probing
	b.probing = false

	if !isFailure(err) {
		if b.state == HalfOpen && wasProbing {
			b.state = Closed
		}
		b.failures = 0
		return
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.trip(time.Now())
	}
}

func (b *Breaker) trip(now time.Time) {
	b.state = Open
	b.openedAt = now
	b.failures = 0
}

// resolveExpiry moves an Open breaker whose cooldown has elapsed into
// HalfOpen. Caller must hold b.mu.
func (b *Breaker) resolveExpiry(now time.Time) {
	if b.state == Open && now.Sub(b.openedAt) >= b.cfg.Timeout {
		b.state = HalfOpen
	}
}

// isFailure reports whether err should count against the breaker. A cuba
// KindNotFound result never counts: it is an expected outcome of a healthy
// server, not evidence it is failing. Every other non-nil error counts.
func isFailure(err error) bool {
	if err == nil {
		return false
	}
	var cerr *errors.Error
	if stderr.As(err, &cerr) {
		return cerr.Kind != errors.KindNotFound
	}
	return true
}
