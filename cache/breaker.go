package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BreakerState is the circuit breaker state.
type BreakerState int32

// Circuit breaker states.
const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns the conventional lowercase state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breaker is an explicit three-state circuit breaker with timestamped
// transitions:
//
//	closed    -> open       after FailureThreshold consecutive failures
//	open      -> half-open  after the cooldown elapses (admits one probe)
//	half-open -> closed     on probe success (cooldown resets)
//	half-open -> open       on probe failure (cooldown doubles, bounded)
//
// The clock is injectable so transitions are testable without real time.
type breaker struct {
	cfg   BreakerConfig
	clock func() time.Time
	log   zerolog.Logger

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	cooldown            time.Duration
	probeInFlight       bool
}

func newBreaker(cfg BreakerConfig, clock func() time.Time, log zerolog.Logger) *breaker {
	if clock == nil {
		clock = time.Now
	}
	return &breaker{
		cfg:      cfg,
		clock:    clock,
		log:      log,
		cooldown: cfg.GetResetTimeout(),
	}
}

// allow reports whether an operation may proceed. While the circuit is open
// it returns ErrCircuitOpen without any I/O; once the cooldown elapses it
// admits exactly one probe and rejects concurrent callers until the probe
// resolves.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.clock().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.transition(BreakerHalfOpen)
		b.probeInFlight = true
		return nil
	case BreakerHalfOpen:
		if b.probeInFlight {
			return ErrCircuitOpen
		}
		b.probeInFlight = true
		return nil
	default:
		return ErrCircuitOpen
	}
}

// success records a successful operation.
func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	if b.state == BreakerHalfOpen {
		b.probeInFlight = false
		b.cooldown = b.cfg.GetResetTimeout()
		b.transition(BreakerClosed)
	}
}

// failure records a failed operation.
func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.GetFailureThreshold() {
			b.openedAt = b.clock()
			b.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.probeInFlight = false
		b.cooldown = min(b.cooldown*2, b.cfg.GetMaxResetTimeout())
		b.openedAt = b.clock()
		b.transition(BreakerOpen)
	case BreakerOpen:
		// already tracking the outage
	}
}

// currentState returns the state the next allow call would act on, folding
// an elapsed open cooldown into half-open for accurate health reporting.
func (b *breaker) currentState() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.clock().Sub(b.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

func (b *breaker) failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// transition must be called with the mutex held.
func (b *breaker) transition(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	event := b.log.Info()
	if to == BreakerOpen {
		event = b.log.Warn()
	}
	event.
		Str("from", from.String()).
		Str("to", to.String()).
		Dur("cooldown", b.cooldown).
		Msg("cache circuit breaker state change")
}
