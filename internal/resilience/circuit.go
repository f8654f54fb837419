package resilience

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var breakerNopLogger = zerolog.Nop()

// ErrOpenCircuit is returned when the circuit breaker refuses a request.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State represents the current breaker state.
type State int

const (
	// Closed accepts all requests and tracks failures.
	Closed State = iota
	// Open rejects requests until the cool-off period expires.
	Open
	// HalfOpen allows a single probe to determine recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a Breaker. Zero values fall back to defaults.
type BreakerConfig struct {
	Target       string
	MinRequests  int
	FailureRatio float64
	OpenFor      time.Duration
	Logger       *zerolog.Logger
	Now          func() time.Time
}

// Breaker implements a failure-ratio circuit breaker guarding one downstream target.
type Breaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	probeInFlight bool
	minRequests   int
	failureRatio  float64
	openedAt      time.Time
	openFor       time.Duration
	target        string
	logger        *zerolog.Logger
	now           func() time.Time
}

// NewBreaker constructs a breaker that opens when the failure ratio reaches the
// configured threshold once MinRequests outcomes were observed.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = 1
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.5
	}
	if cfg.FailureRatio > 1 {
		cfg.FailureRatio = 1
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	b := &Breaker{
		state:        Closed,
		minRequests:  cfg.MinRequests,
		failureRatio: cfg.FailureRatio,
		openFor:      cfg.OpenFor,
		target:       strings.TrimSpace(cfg.Target),
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
	b.recordStateLocked()
	return b
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Target returns the label used for telemetry.
func (b *Breaker) Target() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.targetLabel()
}

// Allow reports whether a request is permitted. After the cool-off an open
// breaker lets one probe through in half-open state.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) >= b.openFor {
			b.changeStateLocked(ctx, HalfOpen)
			b.probeInFlight = true
			return true
		}
		return false
	case HalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return true
	}
}

// Report records the outcome of a request permitted by Allow.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.probeInFlight = false
		if success {
			b.changeStateLocked(ctx, Closed)
			return
		}
		b.changeStateLocked(ctx, Open)
		return
	}

	if success {
		b.successes++
	} else {
		b.failures++
	}

	total := b.failures + b.successes
	if total < b.minRequests {
		return
	}
	ratio := float64(b.failures) / float64(total)
	if ratio >= b.failureRatio {
		b.changeStateLocked(ctx, Open)
	} else if total > b.minRequests*2 {
		// halve counters so old outcomes fade
		b.successes = int(math.Ceil(float64(b.successes) * 0.5))
		b.failures = int(math.Ceil(float64(b.failures) * 0.5))
	}
}

func (b *Breaker) changeStateLocked(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		b.recordStateLocked()
		return
	}
	b.state = next
	switch next {
	case Open:
		b.openedAt = b.now()
	case Closed:
		b.openedAt = time.Time{}
	}
	b.failures = 0
	b.successes = 0
	b.recordStateLocked()
	b.recordTransition(ctx, prev, next)
}

func (b *Breaker) recordStateLocked() {
	BreakerState.WithLabelValues(b.targetLabel()).Set(stateGaugeValue(b.state))
}

func (b *Breaker) recordTransition(ctx context.Context, from, to State) {
	label := b.targetLabel()
	BreakerTransitions.WithLabelValues(label, from.String(), to.String()).Inc()
	if to == Open {
		BreakerOpenedTotal.WithLabelValues(label).Inc()
	}
	evt := b.loggerFor(ctx).Info().Str("target", label).Str("from_state", from.String()).Str("to_state", to.String())
	if traceID := traceIDFromContext(ctx); traceID != "" {
		evt = evt.Str("trace_id", traceID)
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) targetLabel() string {
	if b.target == "" {
		return "default"
	}
	return b.target
}

func (b *Breaker) loggerFor(ctx context.Context) *zerolog.Logger {
	if ctxLogger := zerolog.Ctx(ctx); ctxLogger != nil && ctxLogger.GetLevel() != zerolog.Disabled {
		return ctxLogger
	}
	if b.logger == nil {
		return &breakerNopLogger
	}
	return b.logger
}

func stateGaugeValue(state State) float64 {
	switch state {
	case Closed:
		return 0
	case Open:
		return 1
	case HalfOpen:
		return 2
	default:
		return -1
	}
}

func traceIDFromContext(ctx context.Context) string {
	span := trace.SpanContextFromContext(ctx)
	if span.IsValid() {
		return span.TraceID().String()
	}
	return ""
}
