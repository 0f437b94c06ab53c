// Package referral registers users and credits referrers with bonus minutes.
package referral

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/plans"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/quota"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/store"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

var (
	ErrAlreadyRegistered = errors.New("user already registered")
	ErrUserNotFound      = errors.New("user not found")
)

// DefaultBonusMinutes is credited to a referrer per successful referral
const DefaultBonusMinutes = 30

// codeAttempts bounds retries when a generated referral code collides
const codeAttempts = 5

// NewUser is the identity supplied by the messaging platform
type NewUser struct {
	ID           int64  `json:"user_id" binding:"required"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	LanguageCode string `json:"language_code"`
}

// Stats summarizes a user's referral activity
type Stats struct {
	UserID         int64   `json:"user_id"`
	ReferralCode   string  `json:"referral_code"`
	TotalReferrals int     `json:"total_referrals"`
	BonusEarned    float64 `json:"bonus_earned"`
}

// Ledger registers users and credits referral bonuses
type Ledger struct {
	store   store.Store
	quota   *quota.Ledger
	catalog *plans.Catalog
	bonus   float64
	logger  *logging.Logger
	now     func() time.Time
	newCode func() (string, error)
}

// New creates a referral ledger
func New(st store.Store, quotaLedger *quota.Ledger, catalog *plans.Catalog, bonus float64, logger *logging.Logger) *Ledger {
	return &Ledger{
		store:   st,
		quota:   quotaLedger,
		catalog: catalog,
		bonus:   bonus,
		logger:  logger,
		now:     time.Now,
		newCode: generateCode,
	}
}

// generateCode returns 8 random bytes as URL-safe base64
func generateCode() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate referral code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// RegisterUser creates the user with default settings and a free quota in
// one transaction. When referralCode belongs to an existing user, that user
// is credited in the same transaction. A known user id returns the stored
// user together with ErrAlreadyRegistered and only refreshes last_active.
func (l *Ledger) RegisterUser(ctx context.Context, nu NewUser, referralCode string) (*models.User, error) {
	log := l.logger.WithUserID(nu.ID)

	if existing, err := l.store.GetUser(ctx, nu.ID); err == nil {
		return l.alreadyRegistered(ctx, existing)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	free, err := l.catalog.Lookup(plans.Free)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= codeAttempts; attempt++ {
		code, err := l.newCode()
		if err != nil {
			return nil, err
		}

		now := l.now().UTC().Truncate(time.Microsecond)
		user := &models.User{
			ID:           nu.ID,
			Username:     nu.Username,
			FirstName:    nu.FirstName,
			LastName:     nu.LastName,
			LanguageCode: nu.LanguageCode,
			ReferralCode: code,
			CreatedAt:    now,
			LastActive:   now,
		}

		var referrer *models.User
		err = l.store.RunInTx(ctx, func(tx store.Store) error {
			referrer, err = l.register(ctx, tx, user, free, referralCode, now)
			return err
		})
		if err == nil {
			if referrer != nil {
				metrics.RecordReferralCredit()
				log.WithField("referrer_id", referrer.ID).Info("User registered with referral")
			} else {
				log.Info("User registered")
			}
			return user, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("failed to register user: %w", err)
		}

		// A conflict is either a concurrent registration of the same id or
		// a referral code collision.
		if existing, getErr := l.store.GetUser(ctx, nu.ID); getErr == nil {
			return l.alreadyRegistered(ctx, existing)
		}
		log.WithField("attempt", attempt).Warn("Referral code collision, retrying")
	}

	return nil, fmt.Errorf("failed to register user: no unique referral code after %d attempts", codeAttempts)
}

func (l *Ledger) register(ctx context.Context, tx store.Store, user *models.User, free plans.Plan, referralCode string, now time.Time) (*models.User, error) {
	var referrer *models.User
	if referralCode != "" {
		r, err := tx.GetUserByReferralCode(ctx, referralCode)
		switch {
		case err == nil:
			referrer = r
			user.ReferredBy = &r.ID
		case errors.Is(err, store.ErrNotFound):
			// Unknown codes register without a referrer.
		default:
			return nil, err
		}
	}

	if err := tx.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	settings := models.DefaultSettings(user.ID)
	settings.InterfaceLang = models.InterfaceLangFor(user.LanguageCode)
	if err := tx.CreateSettings(ctx, &settings); err != nil {
		return nil, err
	}

	if err := tx.CreateQuota(ctx, &models.Quota{
		UserID:       user.ID,
		PlanType:     free.Type,
		MinutesLimit: free.MinutesLimit,
		LastReset:    now,
	}); err != nil {
		return nil, err
	}

	if referrer == nil {
		return nil, nil
	}
	if err := tx.IncrementReferrals(ctx, referrer.ID); err != nil {
		return nil, err
	}
	if err := l.quota.WithStore(tx).CreditBonus(ctx, referrer.ID, l.bonus); err != nil {
		return nil, err
	}
	return referrer, nil
}

func (l *Ledger) alreadyRegistered(ctx context.Context, existing *models.User) (*models.User, error) {
	now := l.now().UTC()
	if err := l.store.TouchUser(ctx, existing.ID, now); err != nil {
		l.logger.WithUserID(existing.ID).WithError(err).Warn("Failed to update last activity")
	} else {
		existing.LastActive = now
	}
	return existing, ErrAlreadyRegistered
}

// Stats returns the user's referral code and earnings
func (l *Ledger) Stats(ctx context.Context, userID int64) (*Stats, error) {
	user, err := l.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get referral stats: %w", err)
	}
	return &Stats{
		UserID:         user.ID,
		ReferralCode:   user.ReferralCode,
		TotalReferrals: user.TotalReferrals,
		BonusEarned:    float64(user.TotalReferrals) * l.bonus,
	}, nil
}
