package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/transcribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/store"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

// Reservation is an admitted hold on quota minutes. Exactly one of Commit or
// Release takes effect; later calls are no-ops.
type Reservation struct {
	ledger   *Ledger
	hold     models.QuotaHold
	planType string
	once     sync.Once
}

// ID returns the hold identifier
func (r *Reservation) ID() string { return r.hold.ID }

// Minutes returns the reserved minutes
func (r *Reservation) Minutes() float64 { return r.hold.Minutes }

// ExpiresAt returns when the hold stops counting against the allowance
func (r *Reservation) ExpiresAt() time.Time { return r.hold.ExpiresAt }

// Commit debits the reserved minutes and drops the hold in one transaction.
// A due daily reset is applied first, so the minutes count toward the window
// the commit lands in. A hold that lapsed before Commit no longer protected
// its minutes; they are debited only if they still fit, otherwise Commit
// returns ErrHoldLapsed and nothing is debited.
func (r *Reservation) Commit(ctx context.Context) error {
	var (
		err    error
		lapsed bool
	)
	settled := true
	r.once.Do(func() {
		settled = false
		start := time.Now()
		err = r.ledger.store.RunInTx(ctx, func(tx store.Store) error {
			txl := r.ledger.WithStore(tx)
			now := r.ledger.clock()

			q, err := txl.load(ctx, r.hold.UserID, true)
			if err != nil {
				return err
			}
			if q, err = txl.reset(ctx, q, now); err != nil {
				return err
			}

			deleted, err := tx.DeleteHold(ctx, r.hold.ID)
			if err != nil {
				return err
			}
			if !deleted || !r.hold.Active(now) {
				lapsed = true
				held, err := tx.HeldMinutes(ctx, r.hold.UserID, now)
				if err != nil {
					return err
				}
				if d := Decide(*q, held, r.hold.Minutes); !d.Admitted {
					return fmt.Errorf("%w: %.2f minutes over %.2f remaining", ErrHoldLapsed, r.hold.Minutes, d.Remaining)
				}
			}
			return txl.Debit(ctx, r.hold.UserID, r.hold.Minutes)
		})
		metrics.RecordDatabaseOperation("commit", metrics.Status(err), time.Since(start).Seconds())
	})
	if settled {
		return nil
	}
	if err != nil {
		if errors.Is(err, ErrHoldLapsed) {
			r.ledger.logger.LogQuotaEvent(r.hold.UserID, "overspend", r.hold.Minutes, 0, 0)
		}
		return fmt.Errorf("failed to commit reservation: %w", err)
	}
	if lapsed {
		r.ledger.logger.WithUserID(r.hold.UserID).WithField("hold_id", r.hold.ID).Warn("Committed a lapsed hold that still fit")
	}

	metrics.RecordMinutesDebited(r.planType, r.hold.Minutes)
	r.ledger.logger.LogQuotaEvent(r.hold.UserID, "debited", r.hold.Minutes, 0, 0)
	return nil
}

// Release drops the hold without debiting
func (r *Reservation) Release(ctx context.Context) error {
	var err error
	r.once.Do(func() {
		_, err = r.ledger.store.DeleteHold(ctx, r.hold.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to release reservation: %w", err)
	}
	return nil
}
