// Package store defines the persistence contract shared by the Postgres
// repository and the in-memory store.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

// Sentinel errors returned by every Store implementation.
var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
)

// Store is the unified storage interface. Every method may be called on the
// Store passed to a RunInTx callback, in which case it joins that transaction.
type Store interface {
	// User methods
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*models.User, error)
	TouchUser(ctx context.Context, userID int64, at time.Time) error
	IncrementReferrals(ctx context.Context, userID int64) error

	// Settings methods
	CreateSettings(ctx context.Context, s *models.UserSettings) error
	GetSettings(ctx context.Context, userID int64) (*models.UserSettings, error)
	UpdateSettings(ctx context.Context, s *models.UserSettings) error

	// Quota methods
	CreateQuota(ctx context.Context, q *models.Quota) error
	GetQuota(ctx context.Context, userID int64) (*models.Quota, error)
	// LockQuota reads the quota row and holds a write lock on it until the
	// surrounding transaction ends. Outside a transaction it behaves like GetQuota.
	LockQuota(ctx context.Context, userID int64) (*models.Quota, error)
	// ResetQuota zeroes usage only if last_reset still equals observed.
	ResetQuota(ctx context.Context, userID int64, observed, now time.Time) (bool, error)
	AddMinutesUsed(ctx context.Context, userID int64, minutes float64) error
	AddBonusMinutes(ctx context.Context, userID int64, minutes float64) error
	SetPlan(ctx context.Context, userID int64, planType string, limit int, start, end *time.Time) error

	// Hold methods
	CreateHold(ctx context.Context, h *models.QuotaHold) error
	DeleteHold(ctx context.Context, holdID string) (bool, error)
	HeldMinutes(ctx context.Context, userID int64, now time.Time) (float64, error)

	// Usage methods
	AppendUsage(ctx context.Context, stat *models.UsageStat) error
	UsageSummary(ctx context.Context, userID int64) (*models.UsageSummary, error)

	// Payment methods
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, paymentID string) (*models.Payment, error)
	// MarkPaymentVerified flips a pending payment to verified and reports
	// whether this call made the change.
	MarkPaymentVerified(ctx context.Context, paymentID string, at time.Time) (bool, error)

	// RunInTx runs fn inside a single transaction. fn's error rolls back.
	RunInTx(ctx context.Context, fn func(tx Store) error) error

	Ping(ctx context.Context) error
	Close()
}
