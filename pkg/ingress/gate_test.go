package ingress

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/paysync/pkg/billing"
)

const testSecret = "whsec_test_secret"

func eventBody(t *testing.T, id, eventType string, object map[string]interface{}) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return body
}

func sign(payload []byte, secret string, ts time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: ts,
	}).Header
}

func subscriptionObject() map[string]interface{} {
	return map[string]interface{}{
		"id":       "sub_1",
		"object":   "subscription",
		"customer": "cus_1",
		"status":   "active",
		"metadata": map[string]interface{}{"userId": "u1"},
	}
}

func TestAuthenticate_ValidSignature(t *testing.T) {
	body := eventBody(t, "evt_1", "customer.subscription.created", subscriptionObject())

	event, authErr := Authenticate(body, sign(body, testSecret, time.Now()), testSecret)

	require.Nil(t, authErr)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, billing.EventSubscriptionCreated, event.Type)
	sub, ok := event.Payload.(*billing.SubscriptionPayload)
	require.True(t, ok)
	assert.Equal(t, "sub_1", sub.ID)
}

func TestAuthenticate_TamperedBody(t *testing.T) {
	body := eventBody(t, "evt_1", "customer.subscription.created", subscriptionObject())
	header := sign(body, testSecret, time.Now())

	tampered := append([]byte{}, body...)
	tampered[len(tampered)-2] = ' '

	_, authErr := Authenticate(tampered, header, testSecret)

	require.NotNil(t, authErr)
	assert.Equal(t, CodeInvalidSignature, authErr.Code)
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
}

func TestAuthenticate_WrongSecret(t *testing.T) {
	body := eventBody(t, "evt_1", "charge.succeeded", map[string]interface{}{"id": "ch_1"})

	_, authErr := Authenticate(body, sign(body, "whsec_other", time.Now()), testSecret)

	require.NotNil(t, authErr)
	assert.Equal(t, CodeInvalidSignature, authErr.Code)
}

func TestAuthenticate_StaleTimestamp(t *testing.T) {
	body := eventBody(t, "evt_1", "charge.succeeded", map[string]interface{}{"id": "ch_1"})

	_, authErr := Authenticate(body, sign(body, testSecret, time.Now().Add(-time.Hour)), testSecret)

	require.NotNil(t, authErr)
	assert.Equal(t, CodeInvalidSignature, authErr.Code)
}

func TestAuthenticate_MissingSignature(t *testing.T) {
	body := eventBody(t, "evt_1", "charge.succeeded", map[string]interface{}{"id": "ch_1"})

	_, authErr := Authenticate(body, "  ", testSecret)

	require.NotNil(t, authErr)
	assert.Equal(t, CodeMissingSignature, authErr.Code)
	assert.Equal(t, http.StatusBadRequest, authErr.Status)
}

func TestAuthenticate_InvalidStructure(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"charge.succeeded","data":{}}`)

	_, authErr := Authenticate(body, sign(body, testSecret, time.Now()), testSecret)

	require.NotNil(t, authErr)
	assert.Equal(t, CodeInvalidEvent, authErr.Code)
}

func TestAuthenticate_MalformedJSON(t *testing.T) {
	body := []byte(`{"id":`)

	_, authErr := Authenticate(body, sign(body, testSecret, time.Now()), testSecret)

	require.NotNil(t, authErr)
	assert.Equal(t, CodeInvalidEvent, authErr.Code)
}

func TestValidateEventStructure(t *testing.T) {
	obj := json.RawMessage(`{"id":"x"}`)
	tests := []struct {
		name  string
		env   *billing.Envelope
		valid bool
	}{
		{"valid", &billing.Envelope{ID: "evt", Type: "charge.succeeded", Data: &billing.EnvelopeData{Object: obj}}, true},
		{"nil", nil, false},
		{"missing id", &billing.Envelope{Type: "charge.succeeded", Data: &billing.EnvelopeData{Object: obj}}, false},
		{"missing type", &billing.Envelope{ID: "evt", Data: &billing.EnvelopeData{Object: obj}}, false},
		{"missing data", &billing.Envelope{ID: "evt", Type: "charge.succeeded"}, false},
		{"null object", &billing.Envelope{ID: "evt", Type: "charge.succeeded", Data: &billing.EnvelopeData{Object: json.RawMessage("null")}}, false},
		{"array object", &billing.Envelope{ID: "evt", Type: "charge.succeeded", Data: &billing.EnvelopeData{Object: json.RawMessage("[1]")}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := ValidateEventStructure(tt.env)
			assert.Equal(t, tt.valid, check.IsValid)
			if !tt.valid {
				assert.Equal(t, CodeInvalidEvent, check.Code)
				assert.NotEmpty(t, check.Reason)
			}
		})
	}
}

func TestNewGate_RequiresSecret(t *testing.T) {
	_, err := NewGate(" ", 0)
	assert.ErrorIs(t, err, billing.ErrProviderNotConfigured)

	gate, err := NewGate(testSecret, 0)
	require.NoError(t, err)
	assert.Equal(t, billing.DefaultSignatureTolerance, gate.tolerance)
}
