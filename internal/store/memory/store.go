// Package memory is an in-memory store.Store used by tests and local runs.
// RunInTx works on a copy of the data and swaps it in on success, with the
// store mutex held for the whole callback.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/transcribe/internal/store"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

// Store is a mutex-guarded in-memory store
type Store struct {
	mu sync.Mutex
	d  *data
}

// New creates an empty store
func New() *Store {
	return &Store{d: newData()}
}

var _ store.Store = (*Store)(nil)

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.CreateUser(ctx, u)
}

func (s *Store) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.GetUser(ctx, userID)
}

func (s *Store) GetUserByReferralCode(ctx context.Context, code string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.GetUserByReferralCode(ctx, code)
}

func (s *Store) TouchUser(ctx context.Context, userID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.TouchUser(ctx, userID, at)
}

func (s *Store) IncrementReferrals(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.IncrementReferrals(ctx, userID)
}

func (s *Store) CreateSettings(ctx context.Context, st *models.UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.CreateSettings(ctx, st)
}

func (s *Store) GetSettings(ctx context.Context, userID int64) (*models.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.GetSettings(ctx, userID)
}

func (s *Store) UpdateSettings(ctx context.Context, st *models.UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.UpdateSettings(ctx, st)
}

func (s *Store) CreateQuota(ctx context.Context, q *models.Quota) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.CreateQuota(ctx, q)
}

func (s *Store) GetQuota(ctx context.Context, userID int64) (*models.Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.GetQuota(ctx, userID)
}

func (s *Store) LockQuota(ctx context.Context, userID int64) (*models.Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.LockQuota(ctx, userID)
}

func (s *Store) ResetQuota(ctx context.Context, userID int64, observed, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.ResetQuota(ctx, userID, observed, now)
}

func (s *Store) AddMinutesUsed(ctx context.Context, userID int64, minutes float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.AddMinutesUsed(ctx, userID, minutes)
}

func (s *Store) AddBonusMinutes(ctx context.Context, userID int64, minutes float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.AddBonusMinutes(ctx, userID, minutes)
}

func (s *Store) SetPlan(ctx context.Context, userID int64, planType string, limit int, start, end *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.SetPlan(ctx, userID, planType, limit, start, end)
}

func (s *Store) CreateHold(ctx context.Context, h *models.QuotaHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.CreateHold(ctx, h)
}

func (s *Store) DeleteHold(ctx context.Context, holdID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.DeleteHold(ctx, holdID)
}

func (s *Store) HeldMinutes(ctx context.Context, userID int64, now time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.HeldMinutes(ctx, userID, now)
}

func (s *Store) AppendUsage(ctx context.Context, stat *models.UsageStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.AppendUsage(ctx, stat)
}

func (s *Store) UsageSummary(ctx context.Context, userID int64) (*models.UsageSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.UsageSummary(ctx, userID)
}

func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.CreatePayment(ctx, p)
}

func (s *Store) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.GetPayment(ctx, paymentID)
}

func (s *Store) MarkPaymentVerified(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.MarkPaymentVerified(ctx, paymentID, at)
}

// RunInTx applies fn to a copy of the data and keeps the copy only if fn succeeds
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	clone := s.d.clone()
	if err := fn(clone); err != nil {
		return err
	}
	s.d = clone
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() {}

// Stats returns row counts, for assertions in tests
func (s *Store) Stats() (users, quotas, holds, usage int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.d.users), len(s.d.quotas), len(s.d.holds), len(s.d.usage)
}

// data holds the rows. Its methods take no locks and implement store.Store
// for use inside RunInTx.
type data struct {
	users    map[int64]models.User
	codes    map[string]int64
	settings map[int64]models.UserSettings
	quotas   map[int64]models.Quota
	holds    map[string]models.QuotaHold
	usage    []models.UsageStat
	payments map[string]models.Payment
}

func newData() *data {
	return &data{
		users:    make(map[int64]models.User),
		codes:    make(map[string]int64),
		settings: make(map[int64]models.UserSettings),
		quotas:   make(map[int64]models.Quota),
		holds:    make(map[string]models.QuotaHold),
		payments: make(map[string]models.Payment),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.codes {
		c.codes[k] = v
	}
	for k, v := range d.settings {
		c.settings[k] = v
	}
	for k, v := range d.quotas {
		c.quotas[k] = v
	}
	for k, v := range d.holds {
		c.holds[k] = v
	}
	c.usage = append(make([]models.UsageStat, 0, len(d.usage)), d.usage...)
	for k, v := range d.payments {
		c.payments[k] = v
	}
	return c
}

func (d *data) CreateUser(_ context.Context, u *models.User) error {
	if _, exists := d.users[u.ID]; exists {
		return fmt.Errorf("user %d: %w", u.ID, store.ErrConflict)
	}
	if _, exists := d.codes[u.ReferralCode]; exists {
		return fmt.Errorf("referral code: %w", store.ErrConflict)
	}
	d.users[u.ID] = *u
	d.codes[u.ReferralCode] = u.ID
	return nil
}

func (d *data) GetUser(_ context.Context, userID int64) (*models.User, error) {
	u, ok := d.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (d *data) GetUserByReferralCode(_ context.Context, code string) (*models.User, error) {
	id, ok := d.codes[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	u := d.users[id]
	return &u, nil
}

func (d *data) TouchUser(_ context.Context, userID int64, at time.Time) error {
	u, ok := d.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.LastActive = at
	d.users[userID] = u
	return nil
}

func (d *data) IncrementReferrals(_ context.Context, userID int64) error {
	u, ok := d.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.TotalReferrals++
	d.users[userID] = u
	return nil
}

func (d *data) CreateSettings(_ context.Context, s *models.UserSettings) error {
	if _, exists := d.settings[s.UserID]; exists {
		return store.ErrConflict
	}
	d.settings[s.UserID] = *s
	return nil
}

func (d *data) GetSettings(_ context.Context, userID int64) (*models.UserSettings, error) {
	s, ok := d.settings[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (d *data) UpdateSettings(_ context.Context, s *models.UserSettings) error {
	if _, ok := d.settings[s.UserID]; !ok {
		return store.ErrNotFound
	}
	d.settings[s.UserID] = *s
	return nil
}

func (d *data) CreateQuota(_ context.Context, q *models.Quota) error {
	if _, exists := d.quotas[q.UserID]; exists {
		return store.ErrConflict
	}
	d.quotas[q.UserID] = *q
	return nil
}

func (d *data) GetQuota(_ context.Context, userID int64) (*models.Quota, error) {
	q, ok := d.quotas[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &q, nil
}

func (d *data) LockQuota(ctx context.Context, userID int64) (*models.Quota, error) {
	return d.GetQuota(ctx, userID)
}

func (d *data) ResetQuota(_ context.Context, userID int64, observed, now time.Time) (bool, error) {
	q, ok := d.quotas[userID]
	if !ok {
		return false, store.ErrNotFound
	}
	if !q.LastReset.Equal(observed) {
		return false, nil
	}
	q.MinutesUsed = 0
	q.LastReset = now
	d.quotas[userID] = q
	return true, nil
}

func (d *data) AddMinutesUsed(_ context.Context, userID int64, minutes float64) error {
	q, ok := d.quotas[userID]
	if !ok {
		return store.ErrNotFound
	}
	q.MinutesUsed += minutes
	d.quotas[userID] = q
	return nil
}

func (d *data) AddBonusMinutes(_ context.Context, userID int64, minutes float64) error {
	q, ok := d.quotas[userID]
	if !ok {
		return store.ErrNotFound
	}
	q.BonusMinutes += minutes
	d.quotas[userID] = q
	return nil
}

func (d *data) SetPlan(_ context.Context, userID int64, planType string, limit int, start, end *time.Time) error {
	q, ok := d.quotas[userID]
	if !ok {
		return store.ErrNotFound
	}
	q.PlanType = planType
	q.MinutesLimit = limit
	q.SubscriptionStart = start
	q.SubscriptionEnd = end
	d.quotas[userID] = q
	return nil
}

func (d *data) CreateHold(_ context.Context, h *models.QuotaHold) error {
	if _, exists := d.holds[h.ID]; exists {
		return store.ErrConflict
	}
	d.holds[h.ID] = *h
	return nil
}

func (d *data) DeleteHold(_ context.Context, holdID string) (bool, error) {
	if _, ok := d.holds[holdID]; !ok {
		return false, nil
	}
	delete(d.holds, holdID)
	return true, nil
}

func (d *data) HeldMinutes(_ context.Context, userID int64, now time.Time) (float64, error) {
	var held float64
	for _, h := range d.holds {
		if h.UserID == userID && h.Active(now) {
			held += h.Minutes
		}
	}
	return held, nil
}

func (d *data) AppendUsage(_ context.Context, stat *models.UsageStat) error {
	stat.ID = int64(len(d.usage) + 1)
	d.usage = append(d.usage, *stat)
	return nil
}

func (d *data) UsageSummary(_ context.Context, userID int64) (*models.UsageSummary, error) {
	summary := &models.UsageSummary{UserID: userID}
	for _, stat := range d.usage {
		if stat.UserID != userID {
			continue
		}
		summary.Files++
		summary.TotalMinutes += stat.DurationSeconds / 60
		summary.Characters += int64(stat.CharactersCount)
		summary.Words += int64(stat.WordsCount)
		if summary.LastUsedAt == nil || stat.Timestamp.After(*summary.LastUsedAt) {
			ts := stat.Timestamp
			summary.LastUsedAt = &ts
		}
	}
	return summary, nil
}

func (d *data) CreatePayment(_ context.Context, p *models.Payment) error {
	if _, exists := d.payments[p.ID]; exists {
		return store.ErrConflict
	}
	d.payments[p.ID] = *p
	return nil
}

func (d *data) GetPayment(_ context.Context, paymentID string) (*models.Payment, error) {
	p, ok := d.payments[paymentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (d *data) MarkPaymentVerified(_ context.Context, paymentID string, at time.Time) (bool, error) {
	p, ok := d.payments[paymentID]
	if !ok {
		return false, store.ErrNotFound
	}
	if p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = models.PaymentStatusVerified
	p.VerifiedAt = &at
	d.payments[paymentID] = p
	return true, nil
}

func (d *data) RunInTx(_ context.Context, fn func(tx store.Store) error) error {
	return fn(d)
}

func (d *data) Ping(context.Context) error { return nil }

func (d *data) Close() {}
