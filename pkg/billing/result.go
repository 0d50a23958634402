package billing

import "time"

// Domain is the processing domain an event is routed to.
type Domain string

const (
	DomainListing      Domain = "listing"
	DomainSubscription Domain = "subscription"
)

// Outcome describes what processing did with an event.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeRecorded  Outcome = "recorded"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeStale     Outcome = "stale"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// OutcomeFor maps a store write result onto a processing outcome.
func OutcomeFor(u UpsertOutcome) Outcome {
	switch u {
	case UpsertCreated:
		return OutcomeCreated
	case UpsertStale:
		return OutcomeStale
	case UpsertUnchanged:
		return OutcomeUnchanged
	default:
		return OutcomeUpdated
	}
}

// ErrorDetail describes a failed payment.
type ErrorDetail struct {
	PaymentID   string `json:"paymentId"`
	Code        string `json:"code,omitempty"`
	DeclineCode string `json:"declineCode,omitempty"`
	Message     string `json:"message,omitempty"`
}

// ProcessingResult is returned by processors and surfaced in the webhook response.
type ProcessingResult struct {
	EventID        string       `json:"eventId"`
	EventType      EventType    `json:"eventType"`
	Domain         Domain       `json:"domain,omitempty"`
	Outcome        Outcome      `json:"outcome"`
	Reason         string       `json:"reason,omitempty"`
	SubscriptionID string       `json:"subscriptionId,omitempty"`
	Owner          *Owner       `json:"owner,omitempty"`
	ListingIDs     []string     `json:"listingIds,omitempty"`
	Failure        *ErrorDetail `json:"failure,omitempty"`
}

// UpsertOutcome reports what a store write did.
type UpsertOutcome string

const (
	UpsertCreated   UpsertOutcome = "created"
	UpsertUpdated   UpsertOutcome = "updated"
	UpsertStale     UpsertOutcome = "stale"
	UpsertUnchanged UpsertOutcome = "unchanged"
)

// SyncMode selects which local subscriptions are reconciled.
type SyncMode string

const (
	SyncActiveOnly SyncMode = "active_only"
	SyncAll        SyncMode = "all"
)

// ParseSyncMode accepts the documented mode names; empty means active_only.
func ParseSyncMode(s string) (SyncMode, bool) {
	switch SyncMode(s) {
	case "", SyncActiveOnly:
		return SyncActiveOnly, true
	case SyncAll:
		return SyncAll, true
	}
	return "", false
}

// SyncOptions tunes a reconciliation run. Zero values take service defaults.
type SyncOptions struct {
	Concurrency int           `json:"concurrency,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	DryRun      bool          `json:"dryRun,omitempty"`
}

// SyncError records one subscription that could not be reconciled.
type SyncError struct {
	ExternalSubscriptionID string `json:"externalSubscriptionId"`
	Message                string `json:"message"`
}

// SyncReport summarises a reconciliation run. Missing lists local
// subscriptions the provider no longer knows.
type SyncReport struct {
	Mode       SyncMode    `json:"mode"`
	DryRun     bool        `json:"dryRun,omitempty"`
	Processed  int         `json:"processed"`
	Updated    int         `json:"updated"`
	Unchanged  int         `json:"unchanged"`
	Missing    []string    `json:"missing,omitempty"`
	Errors     []SyncError `json:"errors"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`
}

// PlanReport summarises a plan-catalogue check.
type PlanReport struct {
	Checked    int      `json:"checked"`
	Discovered []Plan   `json:"discovered"`
	Inserted   int      `json:"inserted"`
	Errors     []string `json:"errors,omitempty"`
}
