package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/lastmin-booking/internal/model"
)

// BookingRepo persists bookings and owns the only write path for activity
// capacity. All timestamp fields are stored in UTC.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `b.id, b.user_id, b.activity_id, b.provider_id, b.number_of_spots,
	b.price_per_spot_cents, b.total_price_cents, b.payment_intent_id, b.payment_status,
	b.status, b.qr_code, b.checked_in, b.checked_in_at, b.booked_at`

// decrementInventory takes n spots from an activity only if at least n
// remain. status is assigned before available_spots because MySQL evaluates
// single-table SET clauses left to right.
const decrementInventory = `UPDATE activities
	SET status = CASE WHEN available_spots = ? THEN 'sold_out' ELSE status END,
	    available_spots = available_spots - ?
	WHERE id = ? AND available_spots >= ?`

const insertBooking = `INSERT INTO bookings (id, user_id, activity_id, provider_id, number_of_spots,
	price_per_spot_cents, total_price_cents, payment_intent_id, payment_status, status, qr_code, booked_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// CreateWithInventory decrements the activity's available spots and inserts
// the booking in one transaction. The decrement is conditional so capacity
// can never go negative; if it matches no row ErrInsufficientSpots is
// returned. A unique key violation on the insert yields
// ErrDuplicatePaymentRef and rolls the decrement back. BookedAt is set to
// the insert time when zero.
func (r *BookingRepo) CreateWithInventory(ctx context.Context, b *model.Booking) (err error) {
	if b.BookedAt.IsZero() {
		b.BookedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	n := b.NumberOfSpots
	res, err := tx.ExecContext(ctx, decrementInventory, n, n, b.ActivityID, n)
	if err != nil {
		return fmt.Errorf("decrement inventory: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInsufficientSpots
	}

	_, err = tx.ExecContext(ctx, insertBooking,
		b.ID, b.UserID, b.ActivityID, b.ProviderID, b.NumberOfSpots,
		b.PricePerSpotCents, b.TotalPriceCents, b.PaymentIntentID, b.PaymentStatus,
		b.Status, b.QRCode, b.BookedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicatePaymentRef
		}
		return fmt.Errorf("insert booking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetByPaymentIntentID returns the booking created for a payment or
// ErrBookingNotFound.
func (r *BookingRepo) GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.payment_intent_id = ?`
	return r.getOne(ctx, q, paymentIntentID)
}

// GetByQRCode returns the booking carrying a check-in token.
func (r *BookingRepo) GetByQRCode(ctx context.Context, qr string) (*model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.qr_code = ?`
	return r.getOne(ctx, q, qr)
}

func (r *BookingRepo) getOne(ctx context.Context, q string, args ...any) (*model.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// UpdatePaymentStatus sets payment_status on the booking for a payment and
// returns the number of rows changed. Zero is not an error: the gateway
// may report on a payment before the booking exists.
func (r *BookingRepo) UpdatePaymentStatus(ctx context.Context, paymentIntentID, status string) (int64, error) {
	const q = `UPDATE bookings SET payment_status = ? WHERE payment_intent_id = ?`
	res, err := r.db.ExecContext(ctx, q, status, paymentIntentID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkCheckedIn flags a booking as checked in at the given instant. It
// returns ErrConflict when the booking is already checked in.
func (r *BookingRepo) MarkCheckedIn(ctx context.Context, bookingID string, at time.Time) error {
	const q = `UPDATE bookings SET checked_in = TRUE, checked_in_at = ? WHERE id = ? AND checked_in = FALSE`
	res, err := r.db.ExecContext(ctx, q, at.UTC(), bookingID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

const summaryQuery = `SELECT ` + bookingColumns + `,
	a.title, a.activity_start_time, a.location, p.full_name, p.email
	FROM bookings b
	JOIN activities a ON a.id = b.activity_id
	LEFT JOIN profiles p ON p.id = b.user_id`

// ListByUser returns the user's bookings newest first.
func (r *BookingRepo) ListByUser(ctx context.Context, userID string) ([]model.BookingSummary, error) {
	return r.listSummaries(ctx, summaryQuery+` WHERE b.user_id = ? ORDER BY b.booked_at DESC`, userID)
}

// ListByProvider returns bookings on any of the provider's activities
// newest first, including the customer's name and email.
func (r *BookingRepo) ListByProvider(ctx context.Context, providerID string) ([]model.BookingSummary, error) {
	return r.listSummaries(ctx, summaryQuery+` WHERE b.provider_id = ? ORDER BY b.booked_at DESC`, providerID)
}

// GetByIDForUser returns one of the user's bookings. A booking that exists
// but belongs to somebody else is reported as ErrBookingNotFound so ids
// cannot be probed.
func (r *BookingRepo) GetByIDForUser(ctx context.Context, id, userID string) (*model.BookingSummary, error) {
	list, err := r.listSummaries(ctx, summaryQuery+` WHERE b.id = ? AND b.user_id = ?`, id, userID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrBookingNotFound
	}
	return &list[0], nil
}

func (r *BookingRepo) listSummaries(ctx context.Context, q string, args ...any) ([]model.BookingSummary, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.BookingSummary, 0)
	for rows.Next() {
		var (
			s                     model.BookingSummary
			location, name, email sql.NullString
		)
		dest := append(bookingDest(&s.Booking),
			&s.ActivityTitle, &s.ActivityStartTime, &location, &name, &email)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		s.ActivityLocation, s.CustomerName, s.CustomerEmail = location.String, name.String, email.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetNotificationDetail loads a booking together with its activity,
// provider, customer profile and the profile email of the user owning the
// provider.
func (r *BookingRepo) GetNotificationDetail(ctx context.Context, bookingID string) (*model.BookingDetail, error) {
	q := `SELECT ` + bookingColumns + `,
		a.id, a.provider_id, a.title, a.location, a.total_spots, a.available_spots,
		a.regular_price_cents, a.discount_price_cents, a.booking_deadline,
		a.activity_start_time, a.activity_end_time, a.status, a.created_at, a.updated_at,
		pr.id, pr.user_id, pr.name, pr.email, pr.address, pr.city, pr.phone,
		cu.email, cu.full_name, ow.email
		FROM bookings b
		JOIN activities a ON a.id = b.activity_id
		JOIN providers pr ON pr.id = b.provider_id
		LEFT JOIN profiles cu ON cu.id = b.user_id
		LEFT JOIN profiles ow ON ow.id = pr.user_id
		WHERE b.id = ?`

	var (
		d                                   model.BookingDetail
		location                            sql.NullString
		endTime                             sql.NullTime
		prEmail, prAddress, prCity, prPhone sql.NullString
		cuEmail, cuName, owEmail            sql.NullString
	)
	a := &d.Activity
	dest := append(bookingDest(&d.Booking),
		&a.ID, &a.ProviderID, &a.Title, &location, &a.TotalSpots, &a.AvailableSpots,
		&a.RegularPriceCents, &a.DiscountPriceCents, &a.BookingDeadline,
		&a.StartTime, &endTime, &a.Status, &a.CreatedAt, &a.UpdatedAt,
		&d.Provider.ID, &d.Provider.UserID, &d.Provider.Name, &prEmail, &prAddress, &prCity, &prPhone,
		&cuEmail, &cuName, &owEmail,
	)
	err := r.db.QueryRowContext(ctx, q, bookingID).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Location = location.String
	if endTime.Valid {
		t := endTime.Time
		a.EndTime = &t
	}
	d.Provider.Email, d.Provider.Address = prEmail.String, prAddress.String
	d.Provider.City, d.Provider.Phone = prCity.String, prPhone.String
	d.Customer = model.Profile{ID: d.Booking.UserID, Email: cuEmail.String, FullName: cuName.String}
	d.ProviderOwnerEmail = owEmail.String
	return &d, nil
}

func scanBooking(row rowScanner) (*model.Booking, error) {
	var b model.Booking
	if err := row.Scan(bookingDest(&b)...); err != nil {
		return nil, err
	}
	return &b, nil
}

// bookingDest returns scan targets matching bookingColumns. checked_in_at
// scans into a **time.Time so NULL maps to nil.
func bookingDest(b *model.Booking) []any {
	return []any{
		&b.ID, &b.UserID, &b.ActivityID, &b.ProviderID, &b.NumberOfSpots,
		&b.PricePerSpotCents, &b.TotalPriceCents, &b.PaymentIntentID, &b.PaymentStatus,
		&b.Status, &b.QRCode, &b.CheckedIn, &b.CheckedInAt, &b.BookedAt,
	}
}
