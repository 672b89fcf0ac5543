package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Stripe talks to the Stripe API. A zero secret key leaves the client
// unset and every API call returns ErrNotConfigured; a zero webhook secret
// makes ParseWebhook accept unsigned bodies.
type Stripe struct {
	sc            *client.API
	webhookSecret string
}

// NewStripe builds the adapter from the account secret key and the
// endpoint's webhook signing secret.
func NewStripe(secretKey, webhookSecret string) *Stripe {
	return newStripe(secretKey, webhookSecret, nil)
}

// newStripe builds the adapter over explicit backends; nil selects the
// live Stripe API.
func newStripe(secretKey, webhookSecret string, backends *stripe.Backends) *Stripe {
	s := &Stripe{webhookSecret: webhookSecret}
	if secretKey != "" {
		s.sc = client.New(secretKey, backends)
	}
	return s
}

// VerifiesWebhooks reports whether webhook bodies are signature checked.
func (s *Stripe) VerifiesWebhooks() bool { return s.webhookSecret != "" }

// RetrieveCheckoutSession fetches a checkout session by id.
func (s *Stripe) RetrieveCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	if s.sc == nil {
		return nil, ErrNotConfigured
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	cs, err := s.sc.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session %s: %w", id, classify(err))
	}
	return fromStripeSession(cs), nil
}

// RetrievePaymentIntent fetches a payment intent by id.
func (s *Stripe) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	if s.sc == nil {
		return nil, ErrNotConfigured
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.sc.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve payment intent %s: %w", id, classify(err))
	}
	return fromStripeIntent(pi), nil
}

// CreateCheckoutSession starts a hosted checkout for one line item. The
// metadata is copied onto both the session and its payment intent so
// either id can be reconciled later.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if s.sc == nil {
		return nil, ErrNotConfigured
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(req.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.ActivityTitle),
				},
			},
			Quantity: stripe.Int64(int64(req.Quantity)),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: req.Metadata,
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	cs, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return fromStripeSession(cs), nil
}

// CreatePaymentIntent starts a bare payment intent for the embedded
// payment form. The metadata envelope is the one CreateCheckoutSession
// attaches, so the intent can be reconciled by id.
func (s *Stripe) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*PaymentIntent, error) {
	if s.sc == nil {
		return nil, ErrNotConfigured
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	pi, err := s.sc.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return fromStripeIntent(pi), nil
}

// ParseWebhook decodes a webhook body. With a signing secret configured
// the Stripe-Signature header must match, otherwise ErrInvalidSignature is
// returned. Without one the body is decoded as-is and the returned event
// has Verified set to false.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (*Event, error) {
	var ev stripe.Event
	if s.webhookSecret != "" {
		var err error
		ev, err = webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	} else if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	out := &Event{ID: ev.ID, Type: string(ev.Type), Verified: s.webhookSecret != ""}
	if ev.Data == nil {
		return out, nil
	}
	switch out.Type {
	case EventCheckoutCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		out.Session = fromStripeSession(&cs)
	case EventIntentSucceeded, EventIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		out.Intent = fromStripeIntent(&pi)
	}
	return out, nil
}

// classify turns Stripe's resource_missing into ErrNotFound so callers can
// tell a bad id from an outage.
func classify(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.Code == stripe.ErrorCodeResourceMissing {
		return fmt.Errorf("%w: %s", ErrNotFound, serr.Msg)
	}
	return err
}

func fromStripeSession(cs *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:            cs.ID,
		Status:        string(cs.Status),
		PaymentStatus: string(cs.PaymentStatus),
		URL:           cs.URL,
		Metadata:      cs.Metadata,
	}
	// payment_intent is an expandable field; unexpanded it decodes to an
	// object carrying only the id.
	if cs.PaymentIntent != nil {
		out.PaymentIntentID = cs.PaymentIntent.ID
	}
	return out
}

func fromStripeIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	return &PaymentIntent{ID: pi.ID, Status: string(pi.Status), ClientSecret: pi.ClientSecret, Metadata: pi.Metadata}
}
