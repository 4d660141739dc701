package models

import "time"

const (
	BookingStatusConfirmed = "confirmed"
	BookingStatusCancelled = "cancelled"
	BookingStatusExpired   = "expired"
)

// BookingReleaseEvent is published by the booking subsystem once a booking
// no longer needs its seat lock, either because payment was confirmed or
// because the booking was abandoned.
type BookingReleaseEvent struct {
	BookingID  string    `json:"booking_id"`
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	Seats      []string  `json:"seats"`
	Status     string    `json:"status"` // confirmed, cancelled, expired
	ReleasedAt time.Time `json:"released_at"`
}
