package models

import "time"

// UnlimitedMinutes marks a plan without a minute cap
const UnlimitedMinutes = -1

// Quota is a user's consumption state against their plan
type Quota struct {
	UserID            int64      `json:"user_id" db:"user_id"`
	PlanType          string     `json:"plan_type" db:"plan_type"`
	MinutesUsed       float64    `json:"minutes_used" db:"minutes_used"`
	MinutesLimit      int        `json:"minutes_limit" db:"minutes_limit"`
	BonusMinutes      float64    `json:"bonus_minutes" db:"bonus_minutes"`
	LastReset         time.Time  `json:"last_reset" db:"last_reset"`
	SubscriptionStart *time.Time `json:"subscription_start,omitempty" db:"subscription_start"`
	SubscriptionEnd   *time.Time `json:"subscription_end,omitempty" db:"subscription_end"`
}

// IsUnlimited reports whether the quota has no minute cap
func (q Quota) IsUnlimited() bool {
	return q.MinutesLimit == UnlimitedMinutes
}

// Allowance returns the plan limit plus earned bonus minutes
func (q Quota) Allowance() float64 {
	return float64(q.MinutesLimit) + q.BonusMinutes
}

// Remaining returns the minutes left, or -1 for unlimited plans
func (q Quota) Remaining() float64 {
	if q.IsUnlimited() {
		return UnlimitedMinutes
	}
	remaining := q.Allowance() - q.MinutesUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// QuotaHold reserves minutes for an in-flight transcription
type QuotaHold struct {
	ID        string    `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Minutes   float64   `json:"minutes" db:"minutes"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// Active reports whether the hold still counts against the allowance
func (h QuotaHold) Active(now time.Time) bool {
	return now.Before(h.ExpiresAt)
}
