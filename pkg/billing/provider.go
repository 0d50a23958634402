package billing

import "context"

// ProviderClient queries the billing provider for authoritative state.
type ProviderClient interface {
	// FetchSubscription returns ErrRemoteSubscriptionNotFound when the
	// provider does not know the id.
	FetchSubscription(ctx context.Context, externalID string) (*SubscriptionPayload, error)

	// ListPlans returns the provider's active prices.
	ListPlans(ctx context.Context) ([]Plan, error)
}

// SubscriptionProcessor handles events in the subscription domain.
type SubscriptionProcessor interface {
	Process(ctx context.Context, event *Event) (ProcessingResult, error)
}

// ListingProcessor handles one-time listing purchases.
type ListingProcessor interface {
	ProcessPaymentSucceeded(ctx context.Context, event *Event) (ProcessingResult, error)
	ProcessPaymentFailed(ctx context.Context, event *Event) (ProcessingResult, error)
	ProcessChargeSucceeded(ctx context.Context, event *Event) (ProcessingResult, error)
	ProcessChargeFailed(ctx context.Context, event *Event) (ProcessingResult, error)
}

// Dispatcher routes an authenticated event to its processor.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *Event) (ProcessingResult, error)
}
