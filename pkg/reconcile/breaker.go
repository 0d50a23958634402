package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mihaimyh/paysync/pkg/billing"
)

// BreakerState is the current state of a circuit breaker.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// CircuitBreaker stops calling the provider after consecutive failures and
// probes it again once resetTimeout has elapsed.
type CircuitBreaker struct {
	mu sync.RWMutex

	state               BreakerState
	failureThreshold    int
	resetTimeout        time.Duration
	consecutiveFailures int
	lastFailureTime     time.Time

	onStateChange func(state BreakerState)
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration, onStateChange func(state BreakerState)) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		onStateChange:    onStateChange,
	}
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState()
}

func (cb *CircuitBreaker) currentState() BreakerState {
	if cb.state == StateOpen && time.Since(cb.lastFailureTime) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Execute runs fn unless the breaker is open. Errors for which countable
// returns false pass through without affecting the breaker.
func (cb *CircuitBreaker) Execute(fn func() error, countable func(error) bool) error {
	if cb.State() == StateOpen {
		return billing.ErrCircuitOpen
	}

	err := fn()
	if err != nil && (countable == nil || countable(err)) {
		cb.failure()
		return err
	}
	cb.success()
	return err
}

func (cb *CircuitBreaker) success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		cb.changeState(StateClosed)
	}
	cb.consecutiveFailures = 0
}

func (cb *CircuitBreaker) failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = time.Now()

	if cb.state == StateClosed && cb.consecutiveFailures >= cb.failureThreshold {
		cb.changeState(StateOpen)
	}
}

func (cb *CircuitBreaker) changeState(newState BreakerState) {
	if cb.state != newState {
		cb.state = newState
		if cb.onStateChange != nil {
			cb.onStateChange(newState)
		}
	}
}

// BreakerProvider guards a ProviderClient with a CircuitBreaker.
type BreakerProvider struct {
	inner   billing.ProviderClient
	breaker *CircuitBreaker
}

// NewBreakerProvider wraps inner.
func NewBreakerProvider(inner billing.ProviderClient, breaker *CircuitBreaker) *BreakerProvider {
	return &BreakerProvider{inner: inner, breaker: breaker}
}

// FetchSubscription implements billing.ProviderClient
func (p *BreakerProvider) FetchSubscription(ctx context.Context, externalID string) (*billing.SubscriptionPayload, error) {
	var sub *billing.SubscriptionPayload
	err := p.breaker.Execute(func() error {
		var err error
		sub, err = p.inner.FetchSubscription(ctx, externalID)
		return err
	}, providerFault)
	return sub, err
}

// ListPlans implements billing.ProviderClient
func (p *BreakerProvider) ListPlans(ctx context.Context) ([]billing.Plan, error) {
	var plans []billing.Plan
	err := p.breaker.Execute(func() error {
		var err error
		plans, err = p.inner.ListPlans(ctx)
		return err
	}, providerFault)
	return plans, err
}

// providerFault reports whether err says the provider is unhealthy. A
// missing subscription is an answer, not a fault.
func providerFault(err error) bool {
	return !errors.Is(err, billing.ErrRemoteSubscriptionNotFound)
}
