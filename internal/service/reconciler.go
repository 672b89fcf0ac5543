package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/lastmin-booking/internal/model"
	"github.com/iliyamo/lastmin-booking/internal/payment"
	"github.com/iliyamo/lastmin-booking/internal/repository"
	"github.com/iliyamo/lastmin-booking/internal/utils"
)

// BookingStore is the part of the booking repository the reconciler needs.
type BookingStore interface {
	GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*model.Booking, error)
	CreateWithInventory(ctx context.Context, b *model.Booking) error
	UpdatePaymentStatus(ctx context.Context, paymentIntentID, status string) (int64, error)
}

// ActivityStore loads activities.
type ActivityStore interface {
	GetByID(ctx context.Context, id string) (*model.Activity, error)
}

// Gateway resolves payment references with the payment processor.
type Gateway interface {
	RetrieveCheckoutSession(ctx context.Context, id string) (*payment.CheckoutSession, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*payment.PaymentIntent, error)
}

// Dispatcher schedules the confirmation emails for a new booking. Enqueue
// must not wait for delivery.
type Dispatcher interface {
	Enqueue(ctx context.Context, bookingID string)
}

// FeedPublisher announces booking changes to subscribed clients.
type FeedPublisher interface {
	Publish(ctx context.Context, c Change)
}

// Payment is a resolved, successful payment to turn into a booking.
// CallerID is the authenticated user on client-initiated paths and empty
// for webhooks, where the gateway's signed event is trusted instead.
type Payment struct {
	PaymentIntentID string
	Metadata        map[string]string
	CallerID        string
}

// Result reports the booking a payment maps to. Created is false when the
// booking already existed, which is the normal outcome of duplicate
// triggers.
type Result struct {
	BookingID string `json:"bookingId"`
	Created   bool   `json:"created"`
}

// Reconciler turns completed payments into bookings. Every entry point
// (webhook, session sync, intent sync) funnels into Reconcile.
type Reconciler struct {
	bookings   BookingStore
	activities ActivityStore
	gateway    Gateway
	dispatcher Dispatcher
	feed       FeedPublisher
	log        logrus.FieldLogger

	newID    func() string
	newToken func() (string, error)
}

// NewReconciler wires a Reconciler. dispatcher and feed may be nil.
func NewReconciler(bookings BookingStore, activities ActivityStore, gateway Gateway,
	dispatcher Dispatcher, feed FeedPublisher, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		bookings:   bookings,
		activities: activities,
		gateway:    gateway,
		dispatcher: dispatcher,
		feed:       feed,
		log:        log,
		newID:      uuid.NewString,
		newToken:   utils.NewCheckInToken,
	}
}

// Reconcile creates the booking for a payment at most once.
//
// Checks run in order and stop at the first failure: payment reference,
// existing booking (returned with Created=false), metadata, ownership,
// activity, capacity. The capacity check is advisory; the store's
// conditional decrement is what prevents oversell, and its unique key on
// the payment intent is what prevents duplicates. Losing that race is
// reported exactly like the existing-booking case.
func (r *Reconciler) Reconcile(ctx context.Context, p Payment) (Result, error) {
	pi := strings.TrimSpace(p.PaymentIntentID)
	if pi == "" {
		return Result{}, ErrMissingPaymentReference
	}
	entry := r.log.WithField("payment_intent_id", pi)

	if existing, err := r.bookings.GetByPaymentIntentID(ctx, pi); err == nil {
		return Result{BookingID: existing.ID}, nil
	} else if !errors.Is(err, repository.ErrBookingNotFound) {
		return Result{}, fmt.Errorf("lookup booking: %w", err)
	}

	meta, err := parseMetadata(p.Metadata)
	if err != nil {
		return Result{}, err
	}
	if p.CallerID != "" && meta.userID != p.CallerID {
		entry.WithField("caller_id", p.CallerID).Warn("payment belongs to another user")
		return Result{}, ErrForbidden
	}

	activity, err := r.activities.GetByID(ctx, meta.activityID)
	if errors.Is(err, repository.ErrActivityNotFound) {
		return Result{}, ErrActivityNotFound
	}
	if err != nil {
		return Result{}, fmt.Errorf("load activity: %w", err)
	}
	if !activity.HasCapacity(meta.spots) {
		return Result{}, ErrInsufficientSpots
	}

	token, err := r.newToken()
	if err != nil {
		return Result{}, fmt.Errorf("check-in token: %w", err)
	}
	b := &model.Booking{
		ID:                r.newID(),
		UserID:            meta.userID,
		ActivityID:        activity.ID,
		ProviderID:        activity.ProviderID,
		NumberOfSpots:     meta.spots,
		PricePerSpotCents: activity.DiscountPriceCents,
		TotalPriceCents:   activity.DiscountPriceCents * int64(meta.spots),
		PaymentIntentID:   pi,
		PaymentStatus:     model.PaymentPaid,
		Status:            model.BookingConfirmed,
		QRCode:            token,
	}

	switch err := r.bookings.CreateWithInventory(ctx, b); {
	case err == nil:
	case errors.Is(err, repository.ErrDuplicatePaymentRef):
		winner, gerr := r.bookings.GetByPaymentIntentID(ctx, pi)
		if gerr != nil {
			return Result{}, fmt.Errorf("load concurrent booking: %w", gerr)
		}
		entry.WithField("booking_id", winner.ID).Info("booking created concurrently")
		return Result{BookingID: winner.ID}, nil
	case errors.Is(err, repository.ErrInsufficientSpots):
		return Result{}, ErrInsufficientSpots
	default:
		return Result{}, fmt.Errorf("create booking: %w", err)
	}

	entry.WithFields(logrus.Fields{
		"booking_id":  b.ID,
		"activity_id": b.ActivityID,
		"spots":       b.NumberOfSpots,
	}).Info("booking created")

	if r.dispatcher != nil {
		r.dispatcher.Enqueue(ctx, b.ID)
	}
	if r.feed != nil {
		r.feed.Publish(ctx, Change{Type: ChangeInsert, BookingID: b.ID, UserID: b.UserID})
	}
	return Result{BookingID: b.ID, Created: true}, nil
}

// SyncSession reconciles a checkout session on behalf of callerID.
func (r *Reconciler) SyncSession(ctx context.Context, sessionID, callerID string) (Result, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Result{}, fmt.Errorf("%w: sessionId is required", ErrInvalidRequest)
	}
	cs, err := r.gateway.RetrieveCheckoutSession(ctx, sessionID)
	if err != nil {
		return Result{}, gatewayError(err)
	}
	return r.reconcileSession(ctx, cs, callerID)
}

// SyncIntent reconciles a payment intent on behalf of callerID.
func (r *Reconciler) SyncIntent(ctx context.Context, paymentIntentID, callerID string) (Result, error) {
	if strings.TrimSpace(paymentIntentID) == "" {
		return Result{}, ErrMissingPaymentReference
	}
	pi, err := r.gateway.RetrievePaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return Result{}, gatewayError(err)
	}
	if !pi.Succeeded() {
		return Result{}, ErrPaymentNotCompleted
	}
	return r.Reconcile(ctx, Payment{PaymentIntentID: pi.ID, Metadata: pi.Metadata, CallerID: callerID})
}

func (r *Reconciler) reconcileSession(ctx context.Context, cs *payment.CheckoutSession, callerID string) (Result, error) {
	if !cs.Completed() {
		return Result{}, ErrPaymentNotCompleted
	}
	if cs.PaymentIntentID == "" {
		return Result{}, ErrMissingPaymentReference
	}
	return r.Reconcile(ctx, Payment{PaymentIntentID: cs.PaymentIntentID, Metadata: cs.Metadata, CallerID: callerID})
}

// HandleEvent applies a webhook event. Checkout completion runs full
// reconciliation without a caller; payment intent success or failure only
// updates payment_status on an existing booking. Other types are ignored.
func (r *Reconciler) HandleEvent(ctx context.Context, ev *payment.Event) (Result, error) {
	entry := r.log.WithFields(logrus.Fields{"event_id": ev.ID, "event_type": ev.Type})
	if !ev.Verified {
		entry.Warn("processing unsigned webhook event")
	}

	switch ev.Type {
	case payment.EventCheckoutCompleted:
		if ev.Session == nil {
			return Result{}, ErrInvalidMetadata
		}
		return r.reconcileSession(ctx, ev.Session, "")

	case payment.EventIntentSucceeded, payment.EventIntentFailed:
		if ev.Intent == nil || ev.Intent.ID == "" {
			return Result{}, ErrMissingPaymentReference
		}
		status := model.PaymentPaid
		if ev.Type == payment.EventIntentFailed {
			status = model.PaymentFailed
		}
		n, err := r.bookings.UpdatePaymentStatus(ctx, ev.Intent.ID, status)
		if err != nil {
			return Result{}, fmt.Errorf("update payment status: %w", err)
		}
		entry.WithFields(logrus.Fields{
			"payment_intent_id": ev.Intent.ID,
			"payment_status":    status,
			"rows":              n,
		}).Info("payment status updated")
		if n > 0 && r.feed != nil {
			if uid := ev.Intent.Metadata[payment.MetaUserID]; uid != "" {
				r.feed.Publish(ctx, Change{Type: ChangeUpdate, UserID: uid})
			}
		}
		return Result{}, nil
	}

	entry.Debug("ignoring webhook event")
	return Result{}, nil
}

// gatewayError classifies a failed lookup: an id the processor does not
// know is the caller's mistake, anything else is an upstream failure.
func gatewayError(err error) error {
	if errors.Is(err, payment.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstreamGateway, err)
}

type bookingMeta struct {
	activityID string
	userID     string
	spots      int
}

func parseMetadata(m map[string]string) (bookingMeta, error) {
	meta := bookingMeta{
		activityID: strings.TrimSpace(m[payment.MetaActivityID]),
		userID:     strings.TrimSpace(m[payment.MetaUserID]),
	}
	raw := strings.TrimSpace(m[payment.MetaNumberOfSpots])
	if meta.activityID == "" || meta.userID == "" || raw == "" {
		return meta, fmt.Errorf("%w: activity_id, number_of_spots and user_id are required", ErrInvalidMetadata)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return meta, fmt.Errorf("%w: number_of_spots must be a positive integer", ErrInvalidMetadata)
	}
	meta.spots = n
	return meta, nil
}
