// Package payment adapts the card-payment processor to the booking
// service. Callers work with the small domain types below and never see
// the processor SDK.
package payment

import "errors"

// Metadata keys attached to checkout sessions and payment intents when a
// checkout is started and read back during reconciliation.
const (
	MetaActivityID    = "activity_id"
	MetaNumberOfSpots = "number_of_spots"
	MetaUserID        = "user_id"
	MetaProviderID    = "provider_id"
)

// Event types the booking service reacts to.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventIntentSucceeded   = "payment_intent.succeeded"
	EventIntentFailed      = "payment_intent.payment_failed"
)

var (
	// ErrNotConfigured is returned by gateway calls when no secret key is set.
	ErrNotConfigured = errors.New("payment gateway not configured")
	// ErrInvalidSignature is returned when a webhook signature does not
	// match the payload.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent is returned when a webhook body cannot be decoded.
	ErrMalformedEvent = errors.New("malformed webhook event")
	// ErrNotFound is returned when the processor has no object with the
	// requested id.
	ErrNotFound = errors.New("payment object not found")
)

// CheckoutSession is the part of a hosted checkout the service needs.
type CheckoutSession struct {
	ID              string
	Status          string
	PaymentStatus   string
	PaymentIntentID string
	URL             string
	Metadata        map[string]string
}

// Completed reports whether the customer finished checkout and paid.
func (s *CheckoutSession) Completed() bool {
	return s.PaymentStatus == "paid" && s.Status == "complete"
}

// PaymentIntent is a single payment attempt. ClientSecret is only set on
// freshly created intents and is handed to the customer's browser.
type PaymentIntent struct {
	ID           string
	Status       string
	ClientSecret string
	Metadata     map[string]string
}

// Succeeded reports whether the funds were captured.
func (p *PaymentIntent) Succeeded() bool {
	return p.Status == "succeeded"
}

// Event is a decoded webhook delivery. Exactly one of Session and Intent is
// set for the event types listed above; both are nil for other types.
// Verified is false when the body was accepted without a signature check.
type Event struct {
	ID       string
	Type     string
	Session  *CheckoutSession
	Intent   *PaymentIntent
	Verified bool
}

// CheckoutRequest describes a checkout to start for one activity.
type CheckoutRequest struct {
	ActivityTitle string
	UnitAmount    int64 // cents
	Quantity      int
	Currency      string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

// IntentRequest describes a payment intent to start for one activity.
type IntentRequest struct {
	Amount       int64 // cents, unit price times spots
	Currency     string
	Description  string
	ReceiptEmail string
	Metadata     map[string]string
}
