package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/lastmin-booking/internal/model"
	"github.com/iliyamo/lastmin-booking/internal/repository"
)

// ProviderStore resolves the provider an account manages.
type ProviderStore interface {
	GetByUserID(ctx context.Context, userID string) (*model.Provider, error)
}

// ProviderBookingStore is the booking access the provider desk needs.
type ProviderBookingStore interface {
	GetByQRCode(ctx context.Context, qr string) (*model.Booking, error)
	MarkCheckedIn(ctx context.Context, bookingID string, at time.Time) error
	ListByProvider(ctx context.Context, providerID string) ([]model.BookingSummary, error)
}

// ProviderDesk serves provider staff: listing bookings and checking
// customers in by the token on their QR code.
type ProviderDesk struct {
	providers ProviderStore
	bookings  ProviderBookingStore
	feed      FeedPublisher
	now       func() time.Time
}

// NewProviderDesk returns a ProviderDesk. feed may be nil.
func NewProviderDesk(providers ProviderStore, bookings ProviderBookingStore, feed FeedPublisher) *ProviderDesk {
	return &ProviderDesk{providers: providers, bookings: bookings, feed: feed, now: time.Now}
}

func (s *ProviderDesk) provider(ctx context.Context, userID string) (*model.Provider, error) {
	p, err := s.providers.GetByUserID(ctx, userID)
	if errors.Is(err, repository.ErrProviderNotFound) {
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}
	return p, nil
}

// Bookings lists bookings on the caller's activities.
func (s *ProviderDesk) Bookings(ctx context.Context, userID string) ([]model.BookingSummary, error) {
	p, err := s.provider(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.bookings.ListByProvider(ctx, p.ID)
}

// CheckIn marks the booking carrying qr as attended. Only the provider
// owning the booking may do so, and only once.
func (s *ProviderDesk) CheckIn(ctx context.Context, userID, qr string) (*model.Booking, error) {
	qr = strings.TrimSpace(qr)
	if qr == "" {
		return nil, fmt.Errorf("%w: qr_code is required", ErrInvalidRequest)
	}
	p, err := s.provider(ctx, userID)
	if err != nil {
		return nil, err
	}
	b, err := s.bookings.GetByQRCode(ctx, qr)
	if errors.Is(err, repository.ErrBookingNotFound) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if b.ProviderID != p.ID {
		return nil, ErrForbidden
	}
	if b.Status != model.BookingConfirmed || b.PaymentStatus != model.PaymentPaid {
		return nil, ErrBookingClosed
	}
	if b.CheckedIn {
		return nil, ErrAlreadyCheckedIn
	}

	at := s.now().UTC()
	if err := s.bookings.MarkCheckedIn(ctx, b.ID, at); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAlreadyCheckedIn
		}
		return nil, fmt.Errorf("check in: %w", err)
	}
	b.CheckedIn = true
	b.CheckedInAt = &at
	if s.feed != nil {
		s.feed.Publish(ctx, Change{Type: ChangeUpdate, BookingID: b.ID, UserID: b.UserID})
	}
	return b, nil
}
