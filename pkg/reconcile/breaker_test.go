package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mihaimyh/paysync/pkg/billing"
)

func TestCircuitBreaker(t *testing.T) {
	threshold := 3
	timeout := 100 * time.Millisecond
	var lastState BreakerState
	cb := NewCircuitBreaker(threshold, timeout, func(state BreakerState) {
		lastState = state
	})
	fail := func() error { return errors.New("fail") }

	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < threshold-1; i++ {
		assert.Error(t, cb.Execute(fail, nil))
		assert.Equal(t, StateClosed, cb.State())
	}

	assert.Error(t, cb.Execute(fail, nil))
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, StateOpen, lastState)

	err := cb.Execute(func() error { return nil }, nil)
	assert.ErrorIs(t, err, billing.ErrCircuitOpen)

	time.Sleep(timeout + 10*time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	assert.NoError(t, cb.Execute(func() error { return nil }, nil))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, StateClosed, lastState)
}

func TestBreakerProvider_NotFoundDoesNotTrip(t *testing.T) {
	provider := &fakeProvider{subs: map[string]*billing.SubscriptionPayload{}}
	wrapped := NewBreakerProvider(provider, NewCircuitBreaker(1, time.Minute, nil))

	for i := 0; i < 3; i++ {
		_, err := wrapped.FetchSubscription(context.Background(), "sub_missing")
		assert.ErrorIs(t, err, billing.ErrRemoteSubscriptionNotFound)
	}

	provider.failing = map[string]bool{"sub_1": true}
	_, err := wrapped.FetchSubscription(context.Background(), "sub_1")
	assert.ErrorIs(t, err, billing.ErrProviderAPIError)

	_, err = wrapped.ListPlans(context.Background())
	assert.ErrorIs(t, err, billing.ErrCircuitOpen)
}
