package models

import (
	"time"
)

// PaymentConfirmation is emitted by the payment bridge once the provider has
// settled a checkout for a paid event.
type PaymentConfirmation struct {
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Source    string    `json:"source"`
	PaidAt    time.Time `json:"paid_at"`
}

// PaymentReconciliation flags a settled payment that could not be admitted.
// Refunds are issued outside this service.
type PaymentReconciliation struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
	Reason  string `json:"reason"`
}
