package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

// Usage

// AppendUsage inserts a usage record
func (r *Repository) AppendUsage(ctx context.Context, stat *models.UsageStat) error {
	if stat.Timestamp.IsZero() {
		stat.Timestamp = time.Now().UTC()
	}
	query := `
		INSERT INTO usage_stats (user_id, file_type, file_size, duration_seconds, processing_time,
		                         language, task_type, characters_count, words_count, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err := r.q.QueryRow(ctx, query,
		stat.UserID, stat.FileType, stat.FileSize, stat.DurationSeconds, stat.ProcessingTime,
		stat.Language, stat.TaskType, stat.CharactersCount, stat.WordsCount, stat.Timestamp,
	).Scan(&stat.ID)
	if err != nil {
		return fmt.Errorf("failed to append usage: %w", mapError(err))
	}
	return nil
}

// UsageSummary aggregates a user's usage records
func (r *Repository) UsageSummary(ctx context.Context, userID int64) (*models.UsageSummary, error) {
	summary := &models.UsageSummary{UserID: userID}
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(duration_seconds), 0) / 60.0,
		       COALESCE(SUM(characters_count), 0),
		       COALESCE(SUM(words_count), 0),
		       MAX(timestamp)
		FROM usage_stats
		WHERE user_id = $1
	`
	err := r.q.QueryRow(ctx, query, userID).Scan(
		&summary.Files, &summary.TotalMinutes, &summary.Characters, &summary.Words, &summary.LastUsedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	return summary, nil
}

// Payments

// CreatePayment inserts a payment request
func (r *Repository) CreatePayment(ctx context.Context, p *models.Payment) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	query := `
		INSERT INTO payments (id, user_id, plan_type, amount, currency, status, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := r.q.QueryRow(ctx, query,
		p.ID, p.UserID, p.PlanType, p.Amount, p.Currency, p.Status, p.PaymentMethod,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", mapError(err))
	}
	return nil
}

// GetPayment retrieves a payment by ID
func (r *Repository) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	var p models.Payment
	query := `
		SELECT id, user_id, plan_type, amount, currency, status, payment_method, created_at, verified_at
		FROM payments
		WHERE id = $1
	`
	err := r.q.QueryRow(ctx, query, paymentID).Scan(
		&p.ID, &p.UserID, &p.PlanType, &p.Amount, &p.Currency, &p.Status,
		&p.PaymentMethod, &p.CreatedAt, &p.VerifiedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", mapError(err))
	}
	return &p, nil
}

// MarkPaymentVerified transitions a pending payment to verified
func (r *Repository) MarkPaymentVerified(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	query := `
		UPDATE payments
		SET status = $3, verified_at = $2
		WHERE id = $1 AND status = $4
	`
	tag, err := r.q.Exec(ctx, query, paymentID, at, models.PaymentStatusVerified, models.PaymentStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to verify payment: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.GetPayment(ctx, paymentID); err != nil {
		return false, err
	}
	return false, nil
}

