package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cityduty/dutybot/internal/models"
)

const requestColumns = `id, leader_id, duty_id, start_date, end_date, request_text, status, feedback, rating`

func scanRequest(row interface{ Scan(...interface{}) error }) (*models.Request, error) {
	var r models.Request
	var dutyID sql.NullInt64
	var feedback sql.NullString
	var rating sql.NullInt64

	err := row.Scan(
		&r.ID, &r.LeaderID, &dutyID, &r.StartDate, &r.EndDate,
		&r.RequestText, &r.Status, &feedback, &rating,
	)
	if err != nil {
		return nil, err
	}

	if dutyID.Valid {
		r.DutyID = dutyID.Int64
	}
	if feedback.Valid {
		r.Feedback = feedback.String
	}
	if rating.Valid {
		v := int(rating.Int64)
		r.Rating = &v
	}
	return &r, nil
}

// CreateRequest registers a new pending request and assigns it the next
// identity.
func (s *Store) CreateRequest(ctx context.Context, leaderID int64, startDate, endDate, text string) (*models.Request, error) {
	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO requests (leader_id, start_date, end_date, request_text, status) VALUES (?, ?, ?, ?, ?)`,
		leaderID, startDate, endDate, text, models.StatusPending,
	)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &models.Request{
		ID:          id,
		LeaderID:    leaderID,
		StartDate:   startDate,
		EndDate:     endDate,
		RequestText: text,
		Status:      models.StatusPending,
	}, nil
}

// GetRequest retrieves a request by identity, or ErrNotFound.
func (s *Store) GetRequest(ctx context.Context, id int64) (*models.Request, error) {
	req, err := scanRequest(s.conn.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return req, err
}

// ClaimRequest is the resolver's atomic check-and-set. The status moves out
// of pending in a single conditional UPDATE; under concurrent claims exactly
// one caller sees RowsAffected == 1 and every other caller gets
// ErrAlreadyResolved. Accept and partial assign the volunteer and bump their
// helped count in the same transaction; reject assigns nobody.
func (s *Store) ClaimRequest(ctx context.Context, id, dutyID int64, mode models.ClaimMode) (*models.Request, error) {
	status := mode.Status()
	if status == "" {
		return nil, fmt.Errorf("unknown claim mode %q", mode)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var res sql.Result
	if mode == models.ClaimReject {
		res, err = tx.ExecContext(ctx,
			`UPDATE requests SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			status, time.Now(), id, models.StatusPending,
		)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE requests SET status = ?, duty_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
			status, dutyID, time.Now(), id, models.StatusPending,
		)
	}
	if err != nil {
		return nil, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		var one int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM requests WHERE id = ?`, id).Scan(&one)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return nil, ErrAlreadyResolved
	}

	if mode != models.ClaimReject {
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET helped_count = helped_count + 1 WHERE id = ?`, dutyID)
		if err != nil {
			return nil, err
		}
	}

	req, err := scanRequest(tx.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return req, nil
}

// SetPartialDetail merges the follow-up detail of a partial claim. Only the
// volunteer the request was locked to may supply it, so the merge cannot
// race with anything.
func (s *Store) SetPartialDetail(ctx context.Context, id, dutyID int64, detail string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE requests SET feedback = ?, updated_at = ? WHERE id = ? AND duty_id = ? AND status = ?`,
		detail, time.Now(), id, dutyID, models.StatusPartiallyAccepted,
	)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var one int
		err = s.conn.QueryRowContext(ctx, `SELECT 1 FROM requests WHERE id = ?`, id).Scan(&one)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrNotYours
	}
	return nil
}

// SetRating records the leader's star rating, at most once per request and
// only once a volunteer is assigned. Returns the updated request.
func (s *Store) SetRating(ctx context.Context, id, leaderID int64, stars int) (*models.Request, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE requests SET rating = ?, updated_at = ?
		 WHERE id = ? AND leader_id = ? AND rating IS NULL AND status IN (?, ?)`,
		stars, time.Now(), id, leaderID, models.StatusAccepted, models.StatusPartiallyAccepted,
	)
	if err != nil {
		return nil, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, s.diagnoseRating(ctx, id, leaderID)
	}

	return s.GetRequest(ctx, id)
}

// diagnoseRating explains why a rating UPDATE matched nothing.
func (s *Store) diagnoseRating(ctx context.Context, id, leaderID int64) error {
	var owner int64
	var rating sql.NullInt64
	var status models.RequestStatus

	err := s.conn.QueryRowContext(ctx,
		`SELECT leader_id, rating, status FROM requests WHERE id = ?`, id,
	).Scan(&owner, &rating, &status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	switch {
	case owner != leaderID:
		return ErrNotYours
	case rating.Valid:
		return ErrAlreadyRated
	default:
		return ErrNotResolved
	}
}

// SetFeedback records the leader's free-text feedback on a rated request.
func (s *Store) SetFeedback(ctx context.Context, id, leaderID int64, text string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE requests SET feedback = ?, updated_at = ? WHERE id = ? AND leader_id = ?`,
		text, time.Now(), id, leaderID,
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

// PendingRequests returns requests no volunteer has answered yet, oldest
// first.
func (s *Store) PendingRequests(ctx context.Context) ([]models.Request, error) {
	return s.listRequests(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE status = ? ORDER BY id ASC`,
		models.StatusPending)
}

// LeaderRequests returns every request a leader has created.
func (s *Store) LeaderRequests(ctx context.Context, leaderID int64) ([]models.Request, error) {
	return s.listRequests(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE leader_id = ? ORDER BY id ASC`,
		leaderID)
}

// DutyRequests returns every request a volunteer has taken on.
func (s *Store) DutyRequests(ctx context.Context, dutyID int64) ([]models.Request, error) {
	return s.listRequests(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE duty_id = ? ORDER BY id ASC`,
		dutyID)
}

// RateableRequests returns the leader's resolved, not yet rated requests.
func (s *Store) RateableRequests(ctx context.Context, leaderID int64) ([]models.Request, error) {
	return s.listRequests(ctx,
		`SELECT `+requestColumns+` FROM requests
		 WHERE leader_id = ? AND rating IS NULL AND status IN (?, ?) ORDER BY id ASC`,
		leaderID, models.StatusAccepted, models.StatusPartiallyAccepted)
}

func (s *Store) listRequests(ctx context.Context, query string, args ...interface{}) ([]models.Request, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []models.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}
