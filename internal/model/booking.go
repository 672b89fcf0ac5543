package model

import "time"

// Booking payment statuses.
const (
	PaymentPaid    = "paid"
	PaymentFailed  = "failed"
	PaymentPending = "pending"
)

// Booking statuses.
const (
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
)

// Booking records one confirmed purchase of NumberOfSpots on an activity.
// PaymentIntentID is unique across all bookings and acts as the
// idempotency key for creation.  PricePerSpotCents is a snapshot of the
// activity's discount price when the booking was created.
type Booking struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	ActivityID        string     `json:"activity_id"`
	ProviderID        string     `json:"provider_id"`
	NumberOfSpots     int        `json:"number_of_spots"`
	PricePerSpotCents int64      `json:"price_per_spot_cents"`
	TotalPriceCents   int64      `json:"total_price_cents"`
	PaymentIntentID   string     `json:"payment_intent_id"`
	PaymentStatus     string     `json:"payment_status"`
	Status            string     `json:"status"`
	QRCode            string     `json:"qr_code"`
	CheckedIn         bool       `json:"checked_in"`
	CheckedInAt       *time.Time `json:"checked_in_at"`
	BookedAt          time.Time  `json:"booked_at"`
}

// BookingSummary is a booking joined with the activity fields shown in
// booking lists.
type BookingSummary struct {
	Booking
	ActivityTitle     string    `json:"activity_title"`
	ActivityStartTime time.Time `json:"activity_start_time"`
	ActivityLocation  string    `json:"activity_location,omitempty"`
	CustomerName      string    `json:"customer_name,omitempty"`
	CustomerEmail     string    `json:"customer_email,omitempty"`
}

// BookingDetail is the projection a confirmation email is rendered from:
// the booking plus its activity, provider and customer.
type BookingDetail struct {
	Booking            Booking
	Activity           Activity
	Provider           Provider
	Customer           Profile
	ProviderOwnerEmail string // profile email of the user owning the provider
}

// ProviderContact returns the address provider notifications go to.
func (d *BookingDetail) ProviderContact() string {
	if d.Provider.Email != "" {
		return d.Provider.Email
	}
	return d.ProviderOwnerEmail
}
