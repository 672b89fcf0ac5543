package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/lastmin-booking/internal/model"
)

// ProviderRepo resolves providers from the account that manages them.
type ProviderRepo struct {
	db *sql.DB
}

// NewProviderRepo returns a new ProviderRepo bound to the given database.
func NewProviderRepo(db *sql.DB) *ProviderRepo { return &ProviderRepo{db: db} }

// GetByUserID returns the provider owned by userID or ErrProviderNotFound.
func (r *ProviderRepo) GetByUserID(ctx context.Context, userID string) (*model.Provider, error) {
	const q = `SELECT id, user_id, name, email, address, city, phone FROM providers WHERE user_id = ?`
	var (
		p                           model.Provider
		email, address, city, phone sql.NullString
	)
	err := r.db.QueryRowContext(ctx, q, userID).Scan(&p.ID, &p.UserID, &p.Name, &email, &address, &city, &phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Email, p.Address, p.City, p.Phone = email.String, address.String, city.String, phone.String
	return &p, nil
}
