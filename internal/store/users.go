package store

import (
	"context"
	"database/sql"

	"github.com/cityduty/dutybot/internal/models"
)

// GetUser retrieves a registered user, or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	var rating sql.NullFloat64

	err := s.conn.QueryRowContext(ctx,
		`SELECT id, full_name, phone, handle, role, season, tier, helped_count, rating
		 FROM users WHERE id = ?`, id,
	).Scan(
		&u.ID, &u.FullName, &u.Phone, &u.Handle, &u.Role,
		&u.Season, &u.Tier, &u.HelpedCount, &rating,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if rating.Valid {
		u.Rating = &rating.Float64
	}
	return &u, nil
}

// UserExists reports whether a user has completed registration.
func (s *Store) UserExists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// UpsertUser writes the full user record. There is no implicit creation
// anywhere else: registration is the only path that inserts a user.
func (s *Store) UpsertUser(ctx context.Context, u *models.User) error {
	var rating interface{}
	if u.Rating != nil {
		rating = *u.Rating
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO users (id, full_name, phone, handle, role, season, tier, helped_count, rating)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.FullName, u.Phone, u.Handle, u.Role, u.Season, u.Tier, u.HelpedCount, rating,
	)
	return err
}

// RecomputeRating sets the volunteer's rating to the mean over all their
// rated requests, or clears it when none are rated. Idempotent: it is a
// pure function of the request registry.
func (s *Store) RecomputeRating(ctx context.Context, dutyID int64) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE users
		 SET rating = (SELECT AVG(rating) FROM requests WHERE duty_id = ? AND rating IS NOT NULL)
		 WHERE id = ?`,
		dutyID, dutyID,
	)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
