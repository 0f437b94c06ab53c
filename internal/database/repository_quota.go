package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/store"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

const quotaColumns = `user_id, plan_type, minutes_used, minutes_limit, bonus_minutes,
	last_reset, subscription_start, subscription_end`

func scanQuota(row pgx.Row) (*models.Quota, error) {
	var q models.Quota
	err := row.Scan(
		&q.UserID, &q.PlanType, &q.MinutesUsed, &q.MinutesLimit, &q.BonusMinutes,
		&q.LastReset, &q.SubscriptionStart, &q.SubscriptionEnd,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &q, nil
}

// CreateQuota inserts a quota row
func (r *Repository) CreateQuota(ctx context.Context, q *models.Quota) error {
	query := `
		INSERT INTO user_quota (user_id, plan_type, minutes_used, minutes_limit, bonus_minutes,
		                        last_reset, subscription_start, subscription_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.q.Exec(ctx, query,
		q.UserID, q.PlanType, q.MinutesUsed, q.MinutesLimit, q.BonusMinutes,
		q.LastReset, q.SubscriptionStart, q.SubscriptionEnd,
	)
	if err != nil {
		return fmt.Errorf("failed to create quota: %w", mapError(err))
	}
	return nil
}

// GetQuota retrieves a user's quota row
func (r *Repository) GetQuota(ctx context.Context, userID int64) (*models.Quota, error) {
	q, err := scanQuota(r.q.QueryRow(ctx,
		`SELECT `+quotaColumns+` FROM user_quota WHERE user_id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get quota: %w", err)
	}
	return q, nil
}

// LockQuota reads the quota row with FOR UPDATE
func (r *Repository) LockQuota(ctx context.Context, userID int64) (*models.Quota, error) {
	q, err := scanQuota(r.q.QueryRow(ctx,
		`SELECT `+quotaColumns+` FROM user_quota WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock quota: %w", err)
	}
	return q, nil
}

// ResetQuota zeroes minutes_used when last_reset is unchanged since it was read
func (r *Repository) ResetQuota(ctx context.Context, userID int64, observed, now time.Time) (bool, error) {
	query := `
		UPDATE user_quota
		SET minutes_used = 0, last_reset = $3
		WHERE user_id = $1 AND last_reset = $2
	`
	tag, err := r.q.Exec(ctx, query, userID, observed, now)
	if err != nil {
		return false, fmt.Errorf("failed to reset quota: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AddMinutesUsed debits minutes from the quota
func (r *Repository) AddMinutesUsed(ctx context.Context, userID int64, minutes float64) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE user_quota SET minutes_used = minutes_used + $2 WHERE user_id = $1`, userID, minutes)
	if err != nil {
		return fmt.Errorf("failed to add minutes used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to add minutes used: %w", store.ErrNotFound)
	}
	return nil
}

// AddBonusMinutes credits bonus minutes
func (r *Repository) AddBonusMinutes(ctx context.Context, userID int64, minutes float64) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE user_quota SET bonus_minutes = bonus_minutes + $2 WHERE user_id = $1`, userID, minutes)
	if err != nil {
		return fmt.Errorf("failed to add bonus minutes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to add bonus minutes: %w", store.ErrNotFound)
	}
	return nil
}

// SetPlan switches the plan and subscription window
func (r *Repository) SetPlan(ctx context.Context, userID int64, planType string, limit int, start, end *time.Time) error {
	query := `
		UPDATE user_quota
		SET plan_type = $2, minutes_limit = $3, subscription_start = $4, subscription_end = $5
		WHERE user_id = $1
	`
	tag, err := r.q.Exec(ctx, query, userID, planType, limit, start, end)
	if err != nil {
		return fmt.Errorf("failed to set plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to set plan: %w", store.ErrNotFound)
	}
	return nil
}

// Holds

// CreateHold inserts a reservation hold
func (r *Repository) CreateHold(ctx context.Context, h *models.QuotaHold) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	query := `
		INSERT INTO quota_holds (id, user_id, minutes, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.q.Exec(ctx, query, h.ID, h.UserID, h.Minutes, h.CreatedAt, h.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create hold: %w", mapError(err))
	}
	return nil
}

// DeleteHold removes a hold and reports whether it existed
func (r *Repository) DeleteHold(ctx context.Context, holdID string) (bool, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM quota_holds WHERE id = $1`, holdID)
	if err != nil {
		return false, fmt.Errorf("failed to delete hold: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// HeldMinutes sums the unexpired holds of a user
func (r *Repository) HeldMinutes(ctx context.Context, userID int64, now time.Time) (float64, error) {
	var held float64
	err := r.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(minutes), 0) FROM quota_holds WHERE user_id = $1 AND expires_at > $2`,
		userID, now,
	).Scan(&held)
	if err != nil {
		return 0, fmt.Errorf("failed to sum holds: %w", err)
	}
	return held, nil
}

// PurgeExpiredHolds deletes holds that expired before now
func (r *Repository) PurgeExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM quota_holds WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge holds: %w", err)
	}
	return tag.RowsAffected(), nil
}
