package models

import "time"

// Payment tracks a manual plan purchase awaiting verification
type Payment struct {
	ID            string     `json:"id" db:"id"`
	UserID        int64      `json:"user_id" db:"user_id"`
	PlanType      string     `json:"plan_type" db:"plan_type"`
	Amount        float64    `json:"amount" db:"amount"`
	Currency      string     `json:"currency" db:"currency"`
	Status        string     `json:"status" db:"status"`
	PaymentMethod string     `json:"payment_method" db:"payment_method"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty" db:"verified_at"`
}

// PaymentStatus constants
const (
	PaymentStatusPending  = "pending"
	PaymentStatusVerified = "verified"
	PaymentStatusRejected = "rejected"
)

// Currencies accepted for manual payments
const (
	CurrencyUSD = "USD"
	CurrencyEGP = "EGP"
)
