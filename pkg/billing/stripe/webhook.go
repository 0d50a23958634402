package stripe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mihaimyh/paysync/pkg/billing"
)

// DecodeEvent turns a structurally valid envelope into a typed event.
// Objects of unhandled event types decode to billing.UnknownPayload.
func DecodeEvent(env *billing.Envelope, receivedAt time.Time) (*billing.Event, error) {
	if env == nil || env.Data == nil {
		return nil, billing.ErrInvalidWebhookPayload
	}
	eventType := billing.EventType(env.Type)
	payload, err := DecodeObject(eventType, env.Data.Object)
	if err != nil {
		return nil, err
	}
	return &billing.Event{
		ID:         env.ID,
		Type:       eventType,
		Created:    billing.SafeToDate(env.Created),
		ReceivedAt: receivedAt.UTC(),
		Livemode:   env.Livemode,
		Payload:    payload,
	}, nil
}

// DecodeObject decodes data.object according to the event type.
func DecodeObject(eventType billing.EventType, raw json.RawMessage) (billing.Payload, error) {
	switch eventType.Kind() {
	case billing.KindPayment:
		var w wirePaymentIntent
		if err := unmarshal(raw, &w); err != nil {
			return nil, err
		}
		return w.payload(), nil
	case billing.KindCharge:
		var w wireCharge
		if err := unmarshal(raw, &w); err != nil {
			return nil, err
		}
		return w.payload(), nil
	case billing.KindSubscription:
		return decodeSubscription(raw)
	case billing.KindInvoice:
		var w wireInvoice
		if err := unmarshal(raw, &w); err != nil {
			return nil, err
		}
		return w.payload(), nil
	default:
		var head struct {
			Object string `json:"object"`
		}
		_ = json.Unmarshal(raw, &head) //nolint:errcheck // object name is informational
		return &billing.UnknownPayload{Object: head.Object, Raw: raw}, nil
	}
}

func decodeSubscription(raw json.RawMessage) (*billing.SubscriptionPayload, error) {
	var w wireSubscription
	if err := unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return w.payload(), nil
}

func unmarshal(raw json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}
	return nil
}

// expandable accepts either an id string or an expanded object with an id.
type expandable string

func (e *expandable) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandable(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandable(obj.ID)
	return nil
}

// metadata tolerates non-string values.
type metadata map[string]interface{}

func (m metadata) toBilling() billing.Metadata {
	if m == nil {
		return billing.Metadata{}
	}
	out := make(billing.Metadata, len(m))
	for k, v := range m {
		switch s := v.(type) {
		case string:
			out[k] = s
		case nil:
		default:
			out[k] = fmt.Sprint(s)
		}
	}
	return out
}

type wireIDRef struct {
	ID string `json:"id"`
}

type wirePaymentError struct {
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

type wirePaymentIntent struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	Customer         expandable        `json:"customer"`
	Invoice          expandable        `json:"invoice"`
	Metadata         metadata          `json:"metadata"`
	LastPaymentError *wirePaymentError `json:"last_payment_error"`
}

func (w *wirePaymentIntent) payload() *billing.PaymentPayload {
	p := &billing.PaymentPayload{
		ID:         w.ID,
		Amount:     w.Amount,
		Currency:   w.Currency,
		Status:     w.Status,
		CustomerID: string(w.Customer),
		InvoiceID:  string(w.Invoice),
		Metadata:   w.Metadata.toBilling(),
	}
	if w.LastPaymentError != nil {
		p.FailureCode = w.LastPaymentError.Code
		p.DeclineCode = w.LastPaymentError.DeclineCode
		p.FailureMessage = w.LastPaymentError.Message
	}
	return p
}

type wireCharge struct {
	ID             string     `json:"id"`
	Amount         int64      `json:"amount"`
	Currency       string     `json:"currency"`
	Customer       expandable `json:"customer"`
	Invoice        expandable `json:"invoice"`
	PaymentIntent  expandable `json:"payment_intent"`
	Metadata       metadata   `json:"metadata"`
	FailureCode    string     `json:"failure_code"`
	FailureMessage string     `json:"failure_message"`
}

func (w *wireCharge) payload() *billing.ChargePayload {
	return &billing.ChargePayload{
		ID:              w.ID,
		PaymentIntentID: string(w.PaymentIntent),
		Amount:          w.Amount,
		Currency:        w.Currency,
		CustomerID:      string(w.Customer),
		InvoiceID:       string(w.Invoice),
		Metadata:        w.Metadata.toBilling(),
		FailureCode:     w.FailureCode,
		FailureMessage:  w.FailureMessage,
	}
}

type wireSubscriptionItem struct {
	Price              *wireIDRef  `json:"price"`
	Plan               *wireIDRef  `json:"plan"`
	CurrentPeriodStart interface{} `json:"current_period_start"`
	CurrentPeriodEnd   interface{} `json:"current_period_end"`
}

type wireSubscription struct {
	ID                 string      `json:"id"`
	Customer           expandable  `json:"customer"`
	Status             string      `json:"status"`
	CurrentPeriodStart interface{} `json:"current_period_start"`
	CurrentPeriodEnd   interface{} `json:"current_period_end"`
	CancelAtPeriodEnd  bool        `json:"cancel_at_period_end"`
	CanceledAt         interface{} `json:"canceled_at"`
	Created            interface{} `json:"created"`
	Metadata           metadata    `json:"metadata"`
	Plan               *wireIDRef  `json:"plan"`
	Items              struct {
		Data []wireSubscriptionItem `json:"data"`
	} `json:"items"`
}

// payload prefers subscription-level periods and falls back to the first item,
// where newer API versions report them.
func (w *wireSubscription) payload() *billing.SubscriptionPayload {
	p := &billing.SubscriptionPayload{
		ID:                 w.ID,
		CustomerID:         string(w.Customer),
		Status:             w.Status,
		CurrentPeriodStart: billing.SafeToDate(w.CurrentPeriodStart),
		CurrentPeriodEnd:   billing.SafeToDate(w.CurrentPeriodEnd),
		CancelAtPeriodEnd:  w.CancelAtPeriodEnd,
		CanceledAt:         billing.SafeToDate(w.CanceledAt),
		Created:            billing.SafeToDate(w.Created),
		Metadata:           w.Metadata.toBilling(),
	}
	if len(w.Items.Data) > 0 {
		item := w.Items.Data[0]
		switch {
		case item.Price != nil:
			p.PlanID = item.Price.ID
		case item.Plan != nil:
			p.PlanID = item.Plan.ID
		}
		if p.CurrentPeriodStart == nil {
			p.CurrentPeriodStart = billing.SafeToDate(item.CurrentPeriodStart)
		}
		if p.CurrentPeriodEnd == nil {
			p.CurrentPeriodEnd = billing.SafeToDate(item.CurrentPeriodEnd)
		}
	}
	if p.PlanID == "" && w.Plan != nil {
		p.PlanID = w.Plan.ID
	}
	return p
}

type wireInvoice struct {
	ID           string      `json:"id"`
	Customer     expandable  `json:"customer"`
	Subscription expandable  `json:"subscription"`
	Status       string      `json:"status"`
	AmountPaid   int64       `json:"amount_paid"`
	AmountDue    int64       `json:"amount_due"`
	Currency     string      `json:"currency"`
	PeriodStart  interface{} `json:"period_start"`
	PeriodEnd    interface{} `json:"period_end"`
	Metadata     metadata    `json:"metadata"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandable `json:"subscription"`
			Metadata     metadata   `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (w *wireInvoice) payload() *billing.InvoicePayload {
	p := &billing.InvoicePayload{
		ID:             w.ID,
		CustomerID:     string(w.Customer),
		SubscriptionID: string(w.Subscription),
		Status:         w.Status,
		AmountPaid:     w.AmountPaid,
		AmountDue:      w.AmountDue,
		Currency:       w.Currency,
		PeriodStart:    billing.SafeToDate(w.PeriodStart),
		PeriodEnd:      billing.SafeToDate(w.PeriodEnd),
		Metadata:       w.Metadata.toBilling(),
	}
	if w.Parent != nil && w.Parent.SubscriptionDetails != nil {
		details := w.Parent.SubscriptionDetails
		if p.SubscriptionID == "" {
			p.SubscriptionID = string(details.Subscription)
		}
		for k, v := range details.Metadata.toBilling() {
			if _, ok := p.Metadata[k]; !ok {
				p.Metadata[k] = v
			}
		}
	}
	return p
}
