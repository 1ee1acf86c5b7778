// Package audit persists batch outcomes and device refresh tokens in
// Postgres. The engine itself keeps no durable state; this trail exists so
// operators can answer "did U1's check-in go through yesterday" after the
// process restarts. The repo is optional: callers hold a nil *Repository
// when no database is reachable.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"clockin/internal/checkin"
)

// Repository persists audit data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// OutcomeRow is one persisted per-user outcome.
type OutcomeRow struct {
	ID        string    `json:"id"`
	BatchID   string    `json:"batch_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordBatch writes one batch row plus one row per outcome and returns the
// batch id. Kind distinguishes login-only from check-in batches.
func (r *Repository) RecordBatch(ctx context.Context, kind string, tokenPresent bool, outcomes []checkin.Outcome) (string, error) {
	if r == nil || r.db == nil {
		return "", nil
	}
	batchID := uuid.NewString()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO batches (id, kind, token_present, user_count)
		VALUES ($1, $2, $3, $4)
	`, batchID, kind, tokenPresent, len(outcomes)); err != nil {
		return "", err
	}
	for _, out := range outcomes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO batch_outcomes (id, batch_id, user_id, status, message)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.NewString(), batchID, out.ID, out.Status, out.Message); err != nil {
			return "", err
		}
	}
	return batchID, tx.Commit()
}

// ListUserOutcomes returns the most recent persisted outcomes for one user.
func (r *Repository) ListUserOutcomes(ctx context.Context, userID string, limit int) ([]OutcomeRow, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, batch_id, user_id, status, message, created_at
		FROM batch_outcomes
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []OutcomeRow
	for rows.Next() {
		var row OutcomeRow
		if err := rows.Scan(&row.ID, &row.BatchID, &row.UserID, &row.Status, &row.Message, &row.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, rows.Err()
}

// SaveRefreshToken stores a device refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	if r == nil || r.db == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (device_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, deviceID, token, expiresAt)
	return err
}

// RevokeRefreshToken marks a token revoked.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) error {
	if r == nil || r.db == nil {
		return nil
	}
	res, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New("unknown refresh token")
	}
	return nil
}
