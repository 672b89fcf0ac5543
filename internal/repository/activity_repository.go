package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/lastmin-booking/internal/model"
)

// ActivityRepo reads activities. Capacity is never written here; the only
// write path for available_spots is BookingRepo.CreateWithInventory.
type ActivityRepo struct {
	db *sql.DB
}

// NewActivityRepo returns a new ActivityRepo bound to the given database.
func NewActivityRepo(db *sql.DB) *ActivityRepo { return &ActivityRepo{db: db} }

const activityColumns = `id, provider_id, title, location, total_spots, available_spots,
	regular_price_cents, discount_price_cents, booking_deadline,
	activity_start_time, activity_end_time, status, created_at, updated_at`

// GetByID fetches a single activity. It returns ErrActivityNotFound when
// no row matches.
func (r *ActivityRepo) GetByID(ctx context.Context, id string) (*model.Activity, error) {
	q := `SELECT ` + activityColumns + ` FROM activities WHERE id = ?`
	a, err := scanActivity(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActivityNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (*model.Activity, error) {
	var (
		a        model.Activity
		location sql.NullString
		endTime  sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.ProviderID, &a.Title, &location, &a.TotalSpots, &a.AvailableSpots,
		&a.RegularPriceCents, &a.DiscountPriceCents, &a.BookingDeadline,
		&a.StartTime, &endTime, &a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Location = location.String
	if endTime.Valid {
		t := endTime.Time
		a.EndTime = &t
	}
	return &a, nil
}
