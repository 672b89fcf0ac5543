package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/lastmin-booking/internal/model"
	"github.com/iliyamo/lastmin-booking/internal/payment"
	"github.com/iliyamo/lastmin-booking/internal/repository"
)

// CheckoutGateway starts payments with the processor: hosted checkouts
// and bare payment intents for the embedded payment form.
type CheckoutGateway interface {
	CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error)
	CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.PaymentIntent, error)
}

// CheckoutInput is a customer's request to pay for spots on an activity.
type CheckoutInput struct {
	ActivityID    string
	NumberOfSpots int
	UserID        string
	Email         string
}

// Checkout starts payments. It attaches the metadata envelope the
// reconciler later reads back; it never creates bookings itself.
type Checkout struct {
	activities ActivityStore
	gateway    CheckoutGateway
	appURL     string
	currency   string
	now        func() time.Time
}

// NewCheckout returns a Checkout service.
func NewCheckout(activities ActivityStore, gateway CheckoutGateway, appURL, currency string) *Checkout {
	return &Checkout{
		activities: activities,
		gateway:    gateway,
		appURL:     strings.TrimRight(appURL, "/"),
		currency:   strings.ToLower(currency),
		now:        time.Now,
	}
}

// Start validates the request against the activity's current state and
// creates a checkout session priced at the discount price.
func (s *Checkout) Start(ctx context.Context, in CheckoutInput) (*payment.CheckoutSession, error) {
	a, err := s.bookable(ctx, in)
	if err != nil {
		return nil, err
	}
	cs, err := s.gateway.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		ActivityTitle: a.Title,
		UnitAmount:    a.DiscountPriceCents,
		Quantity:      in.NumberOfSpots,
		Currency:      s.currency,
		CustomerEmail: in.Email,
		SuccessURL:    s.appURL + "/bookings?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     s.appURL + "/activities/" + a.ID,
		Metadata:      envelope(a, in),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamGateway, err)
	}
	return cs, nil
}

// StartIntent runs the same checks as Start and creates a payment intent
// for the total at the discount price. The client confirms it in the
// browser and then calls the intent sync endpoint.
func (s *Checkout) StartIntent(ctx context.Context, in CheckoutInput) (*payment.PaymentIntent, error) {
	a, err := s.bookable(ctx, in)
	if err != nil {
		return nil, err
	}
	pi, err := s.gateway.CreatePaymentIntent(ctx, payment.IntentRequest{
		Amount:       a.DiscountPriceCents * int64(in.NumberOfSpots),
		Currency:     s.currency,
		Description:  fmt.Sprintf("%s x%d", a.Title, in.NumberOfSpots),
		ReceiptEmail: in.Email,
		Metadata:     envelope(a, in),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamGateway, err)
	}
	return pi, nil
}

func (s *Checkout) bookable(ctx context.Context, in CheckoutInput) (*model.Activity, error) {
	if in.ActivityID == "" || in.NumberOfSpots < 1 {
		return nil, fmt.Errorf("%w: activity_id and a positive number_of_spots are required", ErrInvalidRequest)
	}
	a, err := s.activities.GetByID(ctx, in.ActivityID)
	if errors.Is(err, repository.ErrActivityNotFound) {
		return nil, ErrActivityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load activity: %w", err)
	}
	if !a.Bookable(s.now()) {
		return nil, ErrBookingClosed
	}
	if !a.HasCapacity(in.NumberOfSpots) {
		return nil, ErrInsufficientSpots
	}
	return a, nil
}

// envelope is the metadata the reconciler reads back from the payment.
func envelope(a *model.Activity, in CheckoutInput) map[string]string {
	return map[string]string{
		payment.MetaActivityID:    a.ID,
		payment.MetaNumberOfSpots: strconv.Itoa(in.NumberOfSpots),
		payment.MetaUserID:        in.UserID,
		payment.MetaProviderID:    a.ProviderID,
	}
}
