// Package breaker implements sliding-window circuit breakers gating the
// engine's external dependencies. A breaker counts outcomes over the last
// N calls, opens once the failure rate crosses its threshold, and probes
// recovery through a bounded set of half-open trial calls.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ppiankov/filedrop/internal/metrics"
)

// State is the breaker lifecycle state.
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

// ErrOpen is passed to the fallback when the breaker rejects a call
// without invoking the supplier.
var ErrOpen = errors.New("circuit breaker is open")

// Settings fixes one breaker's evaluation parameters.
type Settings struct {
	Name          string
	FailureRate   float64       // open when failures/window >= this
	Window        int           // sliding window size in calls
	MinCalls      int           // floor before the rate is evaluated
	OpenWait      time.Duration // how long OPEN lasts before probing
	HalfOpenCalls int           // trial calls allowed while HALF_OPEN

	// Slow-call detection; zero threshold disables it.
	SlowCallThreshold time.Duration
	SlowCallRate      float64
}

type outcome struct {
	failed bool
	slow   bool
}

// Breaker is a count-based sliding-window circuit breaker.
type Breaker struct {
	settings Settings
	reg      *metrics.Registry
	now      func() time.Time

	mu       sync.Mutex
	state    State
	window   []outcome // ring buffer
	pos      int
	filled   int
	openedAt time.Time
	trials   int // half-open calls admitted
	trialOK  int // half-open successes observed
	forced   bool
}

// New creates a closed breaker with the given settings.
func New(s Settings, reg *metrics.Registry) *Breaker {
	if s.Window <= 0 {
		s.Window = 10
	}
	return &Breaker{
		settings: s,
		reg:      reg,
		now:      time.Now,
		state:    Closed,
		window:   make([]outcome, s.Window),
	}
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.settings.Name }

// State returns the current state, promoting OPEN to HALF_OPEN when the
// open wait has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeProbe()
	return b.state
}

// Execute runs supplier under the breaker. When the breaker admits the
// call and the supplier succeeds, its result stands. On supplier error
// the failure is recorded and fallback runs with that error. When the
// call is rejected the supplier is never invoked and fallback runs with
// ErrOpen. A nil fallback propagates the error instead.
func (b *Breaker) Execute(supplier func() error, fallback func(error) error) error {
	if !b.admit() {
		b.reg.Inc(metrics.BreakerRejection, metrics.Labels{"name": b.settings.Name})
		if fallback == nil {
			return fmt.Errorf("%s: %w", b.settings.Name, ErrOpen)
		}
		return fallback(ErrOpen)
	}

	start := b.now()
	err := supplier()
	elapsed := b.now().Sub(start)

	b.record(err, elapsed)

	if err != nil {
		if fallback == nil {
			return err
		}
		return fallback(err)
	}
	return nil
}

// ForceOpen pins the breaker open until ForceClose. Administrative.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forced = true
	b.transition(Open)
}

// ForceClose releases a forced-open breaker and resets the window.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forced = false
	b.reset()
	b.transition(Closed)
}

// admit decides whether a call may proceed and reserves a half-open
// trial slot when applicable.
func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeProbe()

	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		if b.trials < b.settings.HalfOpenCalls {
			b.trials++
			return true
		}
		return false
	default:
		return false
	}
}

// maybeProbe moves OPEN → HALF_OPEN once the wait has elapsed.
// Callers must hold b.mu.
func (b *Breaker) maybeProbe() {
	if b.state == Open && !b.forced && b.now().Sub(b.openedAt) >= b.settings.OpenWait {
		b.trials = 0
		b.trialOK = 0
		b.transition(HalfOpen)
	}
}

// record folds one call outcome into the window and evaluates transitions.
func (b *Breaker) record(err error, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.forced {
		return
	}

	slow := b.settings.SlowCallThreshold > 0 && elapsed >= b.settings.SlowCallThreshold
	b.window[b.pos] = outcome{failed: err != nil, slow: slow}
	b.pos = (b.pos + 1) % len(b.window)
	if b.filled < len(b.window) {
		b.filled++
	}

	switch b.state {
	case HalfOpen:
		if err != nil {
			b.openedAt = b.now()
			b.transition(Open)
			return
		}
		b.trialOK++
		if b.trialOK >= b.settings.HalfOpenCalls {
			b.reset()
			b.transition(Closed)
		}
	case Closed:
		if b.shouldOpen() {
			b.openedAt = b.now()
			b.transition(Open)
		}
	}
}

// shouldOpen evaluates failure and slow-call rates over the window.
// Callers must hold b.mu.
func (b *Breaker) shouldOpen() bool {
	if b.filled < b.settings.MinCalls {
		return false
	}
	var failed, slow int
	for i := 0; i < b.filled; i++ {
		if b.window[i].failed {
			failed++
		}
		if b.window[i].slow {
			slow++
		}
	}
	if float64(failed)/float64(b.filled) >= b.settings.FailureRate {
		return true
	}
	if b.settings.SlowCallThreshold > 0 &&
		float64(slow)/float64(b.filled) >= b.settings.SlowCallRate {
		return true
	}
	return false
}

// reset clears the window. Callers must hold b.mu.
func (b *Breaker) reset() {
	for i := range b.window {
		b.window[i] = outcome{}
	}
	b.pos = 0
	b.filled = 0
	b.trials = 0
	b.trialOK = 0
}

// transition changes state and emits the state-change metric.
// Callers must hold b.mu.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.state = to
	b.reg.Inc(metrics.BreakerStateChange, metrics.Labels{
		"name": b.settings.Name,
		"to":   string(to),
	})
}
