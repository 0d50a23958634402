package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when the provider client is missing credentials
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("billing provider API error")

	// ErrSubscriptionNotFound is returned when no local record exists for an external subscription id
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrRemoteSubscriptionNotFound is returned when the provider has no subscription with the given id
	ErrRemoteSubscriptionNotFound = errors.New("subscription not found in billing provider")

	// ErrOwnerNotFound is returned when no owner is known for an external customer id
	ErrOwnerNotFound = errors.New("owner not found")

	// ErrAccountNotFound is returned by an AccountDirectory when no account matches
	ErrAccountNotFound = errors.New("account not found")

	// ErrCompanyNotFound is returned by a CompanyDirectory when no company matches
	ErrCompanyNotFound = errors.New("company not found")

	// ErrPaymentNotFound is returned when a listing payment has not been recorded
	ErrPaymentNotFound = errors.New("listing payment not found")

	// ErrInvalidRecord is returned when a record misses its external subscription id
	ErrInvalidRecord = errors.New("subscription record requires an external subscription id")

	// ErrSyncInProgress is returned when a reconciliation run is already active
	ErrSyncInProgress = errors.New("synchronization already in progress")

	// ErrCircuitOpen is returned when provider calls are short-circuited
	ErrCircuitOpen = errors.New("circuit breaker is open")
)
