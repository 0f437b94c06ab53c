// Package payments records manual plan purchases and applies them once verified.
package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/config"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/plans"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/quota"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/store"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

var (
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrAlreadyVerified     = errors.New("payment already verified")
	ErrNotPurchasable      = errors.New("plan cannot be purchased")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

// Service handles payment requests and verification
type Service struct {
	store        store.Store
	quota        *quota.Ledger
	catalog      *plans.Catalog
	exchangeRate float64
	method       string
	logger       *logging.Logger
	now          func() time.Time
}

// NewService creates a payment service
func NewService(st store.Store, quotaLedger *quota.Ledger, catalog *plans.Catalog, cfg config.PaymentsConfig, logger *logging.Logger) *Service {
	return &Service{
		store:        st,
		quota:        quotaLedger,
		catalog:      catalog,
		exchangeRate: cfg.ExchangeRate,
		method:       cfg.Method,
		logger:       logger,
		now:          time.Now,
	}
}

// Price returns the plan price in currency, rounded to cents
func (s *Service) Price(plan plans.Plan, currency string) (float64, error) {
	switch currency {
	case models.CurrencyUSD:
		return plan.PriceUSD, nil
	case models.CurrencyEGP:
		return math.Round(plan.PriceUSD*s.exchangeRate*100) / 100, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}
}

// Request records a pending payment for planType
func (s *Service) Request(ctx context.Context, userID int64, planType, currency string) (*models.Payment, error) {
	plan, err := s.catalog.Lookup(planType)
	if err != nil {
		return nil, err
	}
	if !plan.Purchasable() {
		return nil, fmt.Errorf("%w: %s", ErrNotPurchasable, plan.Type)
	}
	amount, err := s.Price(plan, currency)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ID:            uuid.New().String(),
		UserID:        userID,
		PlanType:      plan.Type,
		Amount:        amount,
		Currency:      currency,
		Status:        models.PaymentStatusPending,
		PaymentMethod: s.method,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to request payment: %w", err)
	}

	metrics.RecordPayment(models.PaymentStatusPending)
	s.logger.WithUserID(userID).WithFields(map[string]interface{}{
		"payment_id": payment.ID,
		"plan":       plan.Type,
		"amount":     amount,
		"currency":   currency,
	}).Info("Payment requested")
	return payment, nil
}

// Verify marks a pending payment verified and applies its plan, both in one
// transaction. A payment is applied at most once.
func (s *Service) Verify(ctx context.Context, paymentID string) (*models.Payment, error) {
	var payment *models.Payment
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		p, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		plan, err := s.catalog.Lookup(p.PlanType)
		if err != nil {
			return err
		}

		now := s.now().UTC().Truncate(time.Microsecond)
		changed, err := tx.MarkPaymentVerified(ctx, paymentID, now)
		if err != nil {
			return err
		}
		if !changed {
			return ErrAlreadyVerified
		}
		if err := s.quota.WithStore(tx).ApplyPlan(ctx, p.UserID, plan.Type, now, plan.DurationDays); err != nil {
			return err
		}

		p.Status = models.PaymentStatusVerified
		p.VerifiedAt = &now
		payment = p
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}

	metrics.RecordPayment(models.PaymentStatusVerified)
	s.logger.WithUserID(payment.UserID).WithFields(map[string]interface{}{
		"payment_id": payment.ID,
		"plan":       payment.PlanType,
	}).Info("Payment verified")
	return payment, nil
}
