// Package quota tracks per-user minute consumption against plan limits.
package quota

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/plans"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/store"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

var (
	ErrQuotaNotFound  = errors.New("quota not found")
	ErrInvalidMinutes = errors.New("minutes must be a finite, non-negative number")
	// ErrHoldLapsed is returned by Commit when the hold expired and its
	// minutes were taken by later reservations.
	ErrHoldLapsed = errors.New("reservation hold lapsed")
)

// DefaultHoldTTL bounds how long an unsettled reservation counts against the allowance
const DefaultHoldTTL = 30 * time.Minute

// Ledger reads and mutates quota rows
type Ledger struct {
	store   store.Store
	catalog *plans.Catalog
	logger  *logging.Logger
	loc     *time.Location
	holdTTL time.Duration
	now     func() time.Time
}

// Option configures a Ledger
type Option func(*Ledger)

// WithLocation sets the timezone daily resets are computed in
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) { l.loc = loc }
}

// WithHoldTTL sets the reservation lifetime
func WithHoldTTL(ttl time.Duration) Option {
	return func(l *Ledger) { l.holdTTL = ttl }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger over st
func New(st store.Store, catalog *plans.Catalog, logger *logging.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:   st,
		catalog: catalog,
		logger:  logger,
		loc:     time.UTC,
		holdTTL: DefaultHoldTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithStore returns a copy of the ledger bound to st, typically the
// transaction handed to a store.RunInTx callback.
func (l *Ledger) WithStore(st store.Store) *Ledger {
	cp := *l
	cp.store = st
	return &cp
}

// clock truncates to the precision Postgres keeps so that values read back
// compare equal in conditional updates.
func (l *Ledger) clock() time.Time {
	return l.now().UTC().Truncate(time.Microsecond)
}

func (l *Ledger) load(ctx context.Context, userID int64, lock bool) (*models.Quota, error) {
	var (
		q   *models.Quota
		err error
	)
	if lock {
		q, err = l.store.LockQuota(ctx, userID)
	} else {
		q, err = l.store.GetQuota(ctx, userID)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrQuotaNotFound
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// reset applies a due daily reset and persists it. Only the caller whose
// conditional update matches last_reset performs it; others reload.
func (l *Ledger) reset(ctx context.Context, q *models.Quota, now time.Time) (*models.Quota, error) {
	plan, err := l.catalog.Lookup(q.PlanType)
	if err != nil {
		return nil, err
	}
	next, due := ApplyReset(*q, plan, now, l.loc)
	if !due {
		return q, nil
	}

	applied, err := l.store.ResetQuota(ctx, q.UserID, q.LastReset, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		return l.load(ctx, q.UserID, false)
	}

	metrics.RecordQuotaReset()
	l.logger.LogQuotaEvent(q.UserID, "reset", 0, 0, next.Allowance())
	return &next, nil
}

// GetQuota returns the current quota, applying a due daily reset first
func (l *Ledger) GetQuota(ctx context.Context, userID int64) (*models.Quota, error) {
	q, err := l.load(ctx, userID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get quota: %w", err)
	}
	q, err = l.reset(ctx, q, l.clock())
	if err != nil {
		return nil, fmt.Errorf("failed to get quota: %w", err)
	}
	return q, nil
}

// CanAdmit reports whether minutes fit in the user's remaining allowance,
// counting minutes held by in-flight reservations. It does not mutate usage.
func (l *Ledger) CanAdmit(ctx context.Context, userID int64, minutes float64) (Decision, error) {
	if !validMinutes(minutes) {
		return Decision{}, ErrInvalidMinutes
	}
	q, err := l.GetQuota(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	held, err := l.store.HeldMinutes(ctx, userID, l.clock())
	if err != nil {
		return Decision{}, fmt.Errorf("failed to check quota: %w", err)
	}
	return Decide(*q, held, minutes), nil
}

// Debit adds minutes to the user's consumption
func (l *Ledger) Debit(ctx context.Context, userID int64, minutes float64) error {
	if !validMinutes(minutes) {
		return ErrInvalidMinutes
	}
	if err := l.store.AddMinutesUsed(ctx, userID, minutes); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = ErrQuotaNotFound
		}
		return fmt.Errorf("failed to debit quota: %w", err)
	}
	return nil
}

// CreditBonus adds bonus minutes to the user's allowance
func (l *Ledger) CreditBonus(ctx context.Context, userID int64, minutes float64) error {
	if !validMinutes(minutes) {
		return ErrInvalidMinutes
	}
	if err := l.store.AddBonusMinutes(ctx, userID, minutes); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = ErrQuotaNotFound
		}
		return fmt.Errorf("failed to credit bonus: %w", err)
	}
	l.logger.LogQuotaEvent(userID, "bonus", minutes, 0, 0)
	return nil
}

// Reserve atomically checks admission and, when admitted, places a hold for
// minutes. The returned Reservation is nil when the decision is a rejection.
// No lock is held once Reserve returns.
func (l *Ledger) Reserve(ctx context.Context, userID int64, minutes float64) (*Reservation, Decision, error) {
	if !validMinutes(minutes) {
		return nil, Decision{}, ErrInvalidMinutes
	}

	var (
		res      *Reservation
		decision Decision
		planType string
	)
	start := time.Now()
	err := l.store.RunInTx(ctx, func(tx store.Store) error {
		txl := l.WithStore(tx)
		now := l.clock()

		q, err := txl.load(ctx, userID, true)
		if err != nil {
			return err
		}
		if q, err = txl.reset(ctx, q, now); err != nil {
			return err
		}
		planType = q.PlanType

		held, err := tx.HeldMinutes(ctx, userID, now)
		if err != nil {
			return err
		}
		decision = Decide(*q, held, minutes)
		if !decision.Admitted {
			return nil
		}

		hold := models.QuotaHold{
			ID:        uuid.New().String(),
			UserID:    userID,
			Minutes:   minutes,
			CreatedAt: now,
			ExpiresAt: now.Add(l.holdTTL),
		}
		if err := tx.CreateHold(ctx, &hold); err != nil {
			return err
		}
		res = &Reservation{ledger: l, hold: hold, planType: q.PlanType}
		return nil
	})
	metrics.RecordDatabaseOperation("reserve", metrics.Status(err), time.Since(start).Seconds())
	l.logger.LogDatabaseOperation("reserve", time.Since(start), err)
	if err != nil {
		return nil, Decision{}, fmt.Errorf("failed to reserve quota: %w", err)
	}

	if !decision.Admitted {
		metrics.RecordQuotaRejection(planType)
		l.logger.LogQuotaEvent(userID, "rejected", minutes, decision.Used+decision.Held, float64(decision.Limit)+decision.Bonus)
		return nil, decision, nil
	}
	l.logger.LogQuotaEvent(userID, "reserved", minutes, decision.Used, float64(decision.Limit)+decision.Bonus)
	return res, decision, nil
}

// ApplyPlan switches the user to planType for days starting at start and
// clears usage so the new subscription window starts empty.
func (l *Ledger) ApplyPlan(ctx context.Context, userID int64, planType string, start time.Time, days int) error {
	plan, err := l.catalog.Lookup(planType)
	if err != nil {
		return err
	}
	start = start.UTC().Truncate(time.Microsecond)
	end := start.AddDate(0, 0, days)

	err = l.store.RunInTx(ctx, func(tx store.Store) error {
		q, err := l.WithStore(tx).load(ctx, userID, true)
		if err != nil {
			return err
		}
		if err := tx.SetPlan(ctx, userID, plan.Type, plan.MinutesLimit, &start, &end); err != nil {
			return err
		}
		_, err = tx.ResetQuota(ctx, userID, q.LastReset, start)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to apply plan: %w", err)
	}

	l.logger.WithUserID(userID).WithFields(map[string]interface{}{
		"plan":             plan.Type,
		"subscription_end": end,
	}).Info("Plan applied")
	return nil
}

func validMinutes(m float64) bool {
	return m >= 0 && !math.IsInf(m, 1)
}

// Remaining returns the minutes left for display, or -1 when unlimited
func Remaining(q *models.Quota) float64 {
	return q.Remaining()
}
