package ingress

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/paysync/pkg/billing"
	stripeadapter "github.com/mihaimyh/paysync/pkg/billing/stripe"
)

// StructureCheck is the result of ValidateEventStructure.
type StructureCheck struct {
	IsValid bool
	Code    string
	Reason  string
}

// Gate verifies webhook signatures and decodes events. It is stateless.
type Gate struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// NewGate creates a gate for the given signing secret.
func NewGate(secret string, tolerance time.Duration) (*Gate, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, billing.ErrProviderNotConfigured
	}
	if tolerance <= 0 {
		tolerance = billing.DefaultSignatureTolerance
	}
	return &Gate{secret: secret, tolerance: tolerance, now: time.Now}, nil
}

// Authenticate verifies rawBody against the signature header and decodes it.
func (g *Gate) Authenticate(rawBody []byte, signatureHeader string) (*billing.Event, *AuthError) {
	return authenticate(rawBody, signatureHeader, g.secret, g.tolerance, g.now())
}

// Authenticate verifies rawBody with secret using the default tolerance.
func Authenticate(rawBody []byte, signatureHeader, secret string) (*billing.Event, *AuthError) {
	return authenticate(rawBody, signatureHeader, secret, billing.DefaultSignatureTolerance, time.Now())
}

func authenticate(rawBody []byte, signatureHeader, secret string, tolerance time.Duration, now time.Time) (*billing.Event, *AuthError) {
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, missingSignature()
	}
	if strings.TrimSpace(secret) == "" {
		return nil, invalidSignature(billing.ErrProviderNotConfigured)
	}
	if err := webhook.ValidatePayloadWithTolerance(rawBody, signatureHeader, secret, tolerance); err != nil {
		return nil, invalidSignature(err)
	}

	var env billing.Envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, invalidEvent("malformed event body", err)
	}
	if check := ValidateEventStructure(&env); !check.IsValid {
		return nil, invalidEvent(check.Reason, nil)
	}

	event, err := stripeadapter.DecodeEvent(&env, now)
	if err != nil {
		return nil, invalidEvent("malformed event object", err)
	}
	return event, nil
}

// ValidateEventStructure rejects envelopes without an id, a type or a data object.
func ValidateEventStructure(env *billing.Envelope) StructureCheck {
	switch {
	case env == nil:
		return StructureCheck{Code: CodeInvalidEvent, Reason: "missing event"}
	case strings.TrimSpace(env.ID) == "":
		return StructureCheck{Code: CodeInvalidEvent, Reason: "missing event id"}
	case strings.TrimSpace(env.Type) == "":
		return StructureCheck{Code: CodeInvalidEvent, Reason: "missing event type"}
	case env.Data == nil || !isJSONObject(env.Data.Object):
		return StructureCheck{Code: CodeInvalidEvent, Reason: "missing data.object"}
	}
	return StructureCheck{IsValid: true}
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 1 && trimmed[0] == '{'
}
