package models

import "encoding/json"

// Realtime message kinds. Names are part of the client contract.
const (
	KindSeatsLocked   = "seatsLocked"
	KindSeatsUnlocked = "seatsUnlocked"
	KindSeatLockError = "seatLockError"
	KindSeatUpdate    = "seatUpdate"
	KindBookingUpdate = "bookingUpdate"
	KindPaymentUpdate = "paymentUpdate"
)

// IsPassThroughKind reports whether kind is a collaborator notification
// that is forwarded to event rooms without inspection.
func IsPassThroughKind(kind string) bool {
	switch kind {
	case KindSeatUpdate, KindBookingUpdate, KindPaymentUpdate:
		return true
	}
	return false
}

// Message is a single realtime delivery. Data is already JSON encoded so a
// broadcast marshals its payload once for every connection in the room.
type Message struct {
	Kind    string          `json:"type"`
	EventID string          `json:"event_id,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// SeatsNotice is the payload of seatsLocked and seatsUnlocked.
type SeatsNotice struct {
	EventID string   `json:"eventId"`
	UserID  string   `json:"userId"`
	Seats   []string `json:"seats"`
}

// SeatLockError is unicast to the requester when a lock is rejected.
type SeatLockError struct {
	Message string   `json:"message"`
	EventID string   `json:"eventId,omitempty"`
	Seats   []string `json:"seats,omitempty"`
}
