package models

import (
	"encoding/json"
	"time"
)

// Notification is a pass-through update published by the booking or payment
// subsystems for UI refresh. Payload is forwarded to the room untouched.
type Notification struct {
	EventID string          `json:"event_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type PaymentNotification struct {
	PaymentID     string    `json:"payment_id"`
	EventID       string    `json:"event_id"`
	UserID        string    `json:"user_id"`
	Status        string    `json:"status"` // pending, completed, failed, cancelled
	Seats         []string  `json:"seats"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
