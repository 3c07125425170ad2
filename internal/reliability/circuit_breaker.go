package reliability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

// State represents circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// ErrCircuitOpen is returned without calling the protected function while the circuit is open
var ErrCircuitOpen = fmt.Errorf("%w: circuit breaker open", entity.ErrServiceUnavailable)

// StateChangeFunc is notified after every transition, outside the breaker's lock
type StateChangeFunc func(name string, from, to State)

// Settings configures a breaker
type Settings struct {
	Name             string
	FailureThreshold int
	ResetTimeout     time.Duration
	OnStateChange    StateChangeFunc
}

// DefaultSettings returns the defaults for an unnamed downstream service
func DefaultSettings(name string) Settings {
	return Settings{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     300 * time.Second,
	}
}

// Status is a point-in-time snapshot of a breaker
type Status struct {
	Service          string     `json:"service"`
	State            State      `json:"state"`
	FailureCount     int        `json:"failure_count"`
	FailureThreshold int        `json:"failure_threshold"`
	ResetTimeout     string     `json:"reset_timeout"`
	LastFailure      *time.Time `json:"last_failure,omitempty"`
	IsAvailable      bool       `json:"is_available"`
}

// Breaker isolates callers from a failing downstream service.
// State, failure count and last failure change together under one lock.
type Breaker struct {
	settings Settings
	now      func() time.Time

	mu            sync.Mutex
	state         State
	failureCount  int
	lastFailure   time.Time
	trialInFlight bool
}

// NewBreaker creates a closed breaker
func NewBreaker(settings Settings) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = DefaultSettings(settings.Name).FailureThreshold
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = DefaultSettings(settings.Name).ResetTimeout
	}
	return &Breaker{
		settings: settings,
		now:      time.Now,
		state:    StateClosed,
	}
}

// Name returns the protected service name
func (b *Breaker) Name() string {
	return b.settings.Name
}

// Execute runs fn unless the circuit is open. Open circuits fail fast with ErrCircuitOpen.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := b.acquire(); err != nil {
		return err
	}

	return b.run(ctx, fn)
}

// run records a panicking fn as a failure before re-panicking, so a half-open trial always finishes
func (b *Breaker) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	completed := false
	defer func() {
		if !completed {
			b.record(fmt.Errorf("%w: panic in protected call: service=%s", entity.ErrInternal, b.settings.Name))
		}
	}()

	err = fn(ctx)
	completed = true
	b.record(err)
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	var from, to State

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.settings.ResetTimeout {
			b.mu.Unlock()
			return fmt.Errorf("%w: service=%s", ErrCircuitOpen, b.settings.Name)
		}
		from, to = b.state, StateHalfOpen
		b.state = StateHalfOpen
		b.trialInFlight = true
	case StateHalfOpen:
		if b.trialInFlight {
			b.mu.Unlock()
			return fmt.Errorf("%w: service=%s (trial call in flight)", ErrCircuitOpen, b.settings.Name)
		}
		b.trialInFlight = true
	}
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	from := b.state

	switch {
	case err == nil:
		b.failureCount = 0
		b.state = StateClosed
	case errors.Is(err, context.Canceled):
		// the caller gave up; says nothing about the downstream service
	default:
		b.failureCount++
		b.lastFailure = b.now()
		if b.state == StateHalfOpen || b.failureCount >= b.settings.FailureThreshold {
			b.state = StateOpen
		}
	}

	if from == StateHalfOpen {
		b.trialInFlight = false
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.settings.Name, from, to)
	}
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns a consistent snapshot of the breaker
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Status{
		Service:          b.settings.Name,
		State:            b.state,
		FailureCount:     b.failureCount,
		FailureThreshold: b.settings.FailureThreshold,
		ResetTimeout:     b.settings.ResetTimeout.String(),
		IsAvailable:      b.state != StateOpen || b.now().Sub(b.lastFailure) >= b.settings.ResetTimeout,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailure = &t
	}
	return s
}

// Reset forces the breaker closed
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.trialInFlight = false
	b.mu.Unlock()

	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}
