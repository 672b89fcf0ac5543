package model

import "time"

// Activity statuses.
const (
	ActivityActive    = "active"
	ActivitySoldOut   = "sold_out"
	ActivityCancelled = "cancelled"
	ActivityExpired   = "expired"
)

// Activity represents one bookable, time-boxed offering published by a
// provider at a discount.  Capacity is tracked by AvailableSpots, which
// only decreases through booking creation and reaches SOLD_OUT in the same
// statement that takes it to zero.
//
// Fields:
//  ID                 – primary key identifier.
//  ProviderID         – provider that owns the activity.
//  TotalSpots         – capacity at creation, immutable.
//  AvailableSpots     – remaining capacity, 0 ≤ AvailableSpots ≤ TotalSpots.
//  RegularPriceCents  – list price per spot.
//  DiscountPriceCents – last-minute price per spot, below the list price.
//  BookingDeadline    – last instant a checkout may be started.
//  Status             – active, sold_out, cancelled or expired.
type Activity struct {
	ID                 string     `json:"id"`                    // activities.id
	ProviderID         string     `json:"provider_id"`           // activities.provider_id
	Title              string     `json:"title"`                 // activities.title
	Location           string     `json:"location,omitempty"`    // activities.location
	TotalSpots         int        `json:"total_spots"`           // activities.total_spots
	AvailableSpots     int        `json:"available_spots"`       // activities.available_spots
	RegularPriceCents  int64      `json:"regular_price_cents"`   // activities.regular_price_cents
	DiscountPriceCents int64      `json:"discount_price_cents"`  // activities.discount_price_cents
	BookingDeadline    time.Time  `json:"booking_deadline"`      // activities.booking_deadline
	StartTime          time.Time  `json:"activity_start_time"`   // activities.activity_start_time
	EndTime            *time.Time `json:"activity_end_time"`     // activities.activity_end_time (nullable)
	Status             string     `json:"status"`                // activities.status
	CreatedAt          time.Time  `json:"created_at"`            // activities.created_at
	UpdatedAt          time.Time  `json:"updated_at"`            // activities.updated_at
}

// HasCapacity reports whether n more spots fit into the remaining capacity.
func (a *Activity) HasCapacity(n int) bool {
	return n > 0 && a.AvailableSpots >= n
}

// Bookable reports whether a new checkout may be started at now.
func (a *Activity) Bookable(now time.Time) bool {
	return a.Status == ActivityActive && now.Before(a.BookingDeadline)
}
