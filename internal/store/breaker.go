package store

import (
	"errors"
	"sync"
	"time"
)

// ErrStoreUnavailable is returned when the breaker is open or the backing
// store cannot be reached. Callers on the ingestion path degrade to
// "counters not updated" rather than blocking.
var ErrStoreUnavailable = errors.New("store unavailable")

// Breaker is a consecutive-failure circuit breaker. After MaxFailures
// consecutive failures it short-circuits every call for the cooldown
// window, then lets a single probe through. Configuration is injected at
// construction; there is no hidden global state.
type Breaker struct {
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu            sync.Mutex
	failures      int
	openUntil     time.Time
	onStateChange func(open bool)
}

// NewBreaker creates a breaker that opens after maxFailures consecutive
// failures and stays open for cooldown. A maxFailures of zero disables
// the breaker entirely.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Allow reports whether a call may proceed. While open, it returns false
// until the cooldown elapses; the first call after that is the probe.
func (b *Breaker) Allow() bool {
	if b == nil || b.maxFailures <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.maxFailures {
		return true
	}
	if b.now().Before(b.openUntil) {
		return false
	}
	// Probe window: arm a fresh cooldown so concurrent callers don't
	// stampede the store while the probe is in flight.
	b.openUntil = b.now().Add(b.cooldown)
	return true
}

// OnStateChange registers fn to be called with true when the breaker
// opens and false when it closes again. At most one callback is kept.
func (b *Breaker) OnStateChange(fn func(open bool)) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.onStateChange = fn
	b.mu.Unlock()
}

// Success resets the failure count, closing the breaker.
func (b *Breaker) Success() {
	if b == nil || b.maxFailures <= 0 {
		return
	}
	b.mu.Lock()
	closed := b.failures >= b.maxFailures
	b.failures = 0
	b.openUntil = time.Time{}
	fn := b.onStateChange
	b.mu.Unlock()
	if closed && fn != nil {
		fn(false)
	}
}

// Failure records a failed call and re-arms the cooldown once the
// threshold is crossed.
func (b *Breaker) Failure() {
	if b == nil || b.maxFailures <= 0 {
		return
	}
	b.mu.Lock()
	b.failures++
	opened := b.failures == b.maxFailures
	if b.failures >= b.maxFailures {
		b.openUntil = b.now().Add(b.cooldown)
	}
	fn := b.onStateChange
	b.mu.Unlock()
	if opened && fn != nil {
		fn(true)
	}
}

// Open reports whether the breaker is currently short-circuiting calls.
func (b *Breaker) Open() bool {
	if b == nil || b.maxFailures <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures >= b.maxFailures && b.now().Before(b.openUntil)
}

// Do runs fn under the breaker. When open it returns ErrStoreUnavailable
// without invoking fn.
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return ErrStoreUnavailable
	}
	if err := fn(); err != nil {
		b.Failure()
		return err
	}
	b.Success()
	return nil
}
