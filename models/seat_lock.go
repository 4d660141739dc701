package models

import (
	"slices"
	"time"
)

// SeatLock is one user's transient claim over a set of seats for one event.
// A user holds at most one SeatLock per event; re-locking replaces it.
type SeatLock struct {
	ID         string    `json:"lock_id"`
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	Seats      []string  `json:"seats"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// ExpiresAt returns the deadline after which the sweeper reclaims the lock.
func (l SeatLock) ExpiresAt(ttl time.Duration) time.Time {
	return l.AcquiredAt.Add(ttl)
}

// Expired reports whether AcquiredAt + ttl <= now.
func (l SeatLock) Expired(now time.Time, ttl time.Duration) bool {
	return !l.ExpiresAt(ttl).After(now)
}

func (l SeatLock) Holds(seatID string) bool {
	return slices.Contains(l.Seats, seatID)
}

// Overlap returns the seats of l that also appear in seats, in l's order.
func (l SeatLock) Overlap(seats []string) []string {
	var out []string
	for _, s := range l.Seats {
		if slices.Contains(seats, s) {
			out = append(out, s)
		}
	}
	return out
}

// Clone returns a copy that shares no memory with l.
func (l SeatLock) Clone() SeatLock {
	l.Seats = slices.Clone(l.Seats)
	return l
}

// NormalizeSeats drops blank and duplicate seat ids while keeping the
// caller's order. The second return value is false when a blank id was seen.
func NormalizeSeats(seats []string) ([]string, bool) {
	out := make([]string, 0, len(seats))
	ok := true
	for _, s := range seats {
		if s == "" {
			ok = false
			continue
		}
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out, ok
}
