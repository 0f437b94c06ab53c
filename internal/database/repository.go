package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/store"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides database operations
type Repository struct {
	db   *DB
	q    querier
	inTx bool
}

var _ store.Store = (*Repository)(nil)

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db, q: db.Pool}
}

// RunInTx runs fn inside a transaction. Nested calls reuse the open transaction.
func (r *Repository) RunInTx(ctx context.Context, fn func(tx store.Store) error) error {
	if r.inTx {
		return fn(r)
	}
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		return fn(&Repository{db: r.db, q: tx, inTx: true})
	})
}

// Ping checks the connection pool
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Health(ctx)
}

// Close closes the underlying pool
func (r *Repository) Close() {
	r.db.Close()
}

// mapError translates driver errors into store sentinels
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return store.ErrConflict
	}
	return err
}

// Users

// CreateUser inserts a new user record
func (r *Repository) CreateUser(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (user_id, username, first_name, last_name, language_code,
		                   referral_code, referred_by, total_referrals)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, last_active
	`

	err := r.q.QueryRow(ctx, query,
		u.ID, u.Username, u.FirstName, u.LastName, u.LanguageCode,
		u.ReferralCode, u.ReferredBy, u.TotalReferrals,
	).Scan(&u.CreatedAt, &u.LastActive)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", mapError(err))
	}

	return nil
}

const userColumns = `user_id, username, first_name, last_name, language_code,
	referral_code, referred_by, total_referrals, created_at, last_active`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.LanguageCode,
		&u.ReferralCode, &u.ReferredBy, &u.TotalReferrals, &u.CreatedAt, &u.LastActive,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

// GetUser retrieves a user by ID
func (r *Repository) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	u, err := scanUser(r.q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByReferralCode retrieves the owner of a referral code
func (r *Repository) GetUserByReferralCode(ctx context.Context, code string) (*models.User, error) {
	u, err := scanUser(r.q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code))
	if err != nil {
		return nil, fmt.Errorf("failed to get user by referral code: %w", err)
	}
	return u, nil
}

// TouchUser updates last_active
func (r *Repository) TouchUser(ctx context.Context, userID int64, at time.Time) error {
	tag, err := r.q.Exec(ctx, `UPDATE users SET last_active = $2 WHERE user_id = $1`, userID, at)
	if err != nil {
		return fmt.Errorf("failed to touch user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to touch user: %w", store.ErrNotFound)
	}
	return nil
}

// IncrementReferrals bumps the referrer's counter
func (r *Repository) IncrementReferrals(ctx context.Context, userID int64) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE users SET total_referrals = total_referrals + 1 WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to increment referrals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to increment referrals: %w", store.ErrNotFound)
	}
	return nil
}

// Settings

// CreateSettings inserts a settings row
func (r *Repository) CreateSettings(ctx context.Context, s *models.UserSettings) error {
	query := `
		INSERT INTO user_settings (user_id, interface_lang, transcribe_lang, task_type, export_format)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.q.Exec(ctx, query, s.UserID, s.InterfaceLang, s.TranscribeLang, s.TaskType, s.ExportFormat)
	if err != nil {
		return fmt.Errorf("failed to create settings: %w", mapError(err))
	}
	return nil
}

// GetSettings retrieves a user's settings
func (r *Repository) GetSettings(ctx context.Context, userID int64) (*models.UserSettings, error) {
	var s models.UserSettings
	query := `
		SELECT user_id, interface_lang, transcribe_lang, task_type, export_format
		FROM user_settings
		WHERE user_id = $1
	`
	err := r.q.QueryRow(ctx, query, userID).Scan(
		&s.UserID, &s.InterfaceLang, &s.TranscribeLang, &s.TaskType, &s.ExportFormat,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", mapError(err))
	}
	return &s, nil
}

// UpdateSettings overwrites a user's settings
func (r *Repository) UpdateSettings(ctx context.Context, s *models.UserSettings) error {
	query := `
		UPDATE user_settings
		SET interface_lang = $2, transcribe_lang = $3, task_type = $4, export_format = $5
		WHERE user_id = $1
	`
	tag, err := r.q.Exec(ctx, query, s.UserID, s.InterfaceLang, s.TranscribeLang, s.TaskType, s.ExportFormat)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update settings: %w", store.ErrNotFound)
	}
	return nil
}
