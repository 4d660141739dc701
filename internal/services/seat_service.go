package services

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"evetia/internal/status"
	"evetia/models"
	"evetia/monitoring"

	"github.com/google/uuid"
)

// Broadcaster delivers a message to every connection joined to an event room.
type Broadcaster interface {
	Broadcast(eventID, kind string, payload any)
}

// LockStats is a point-in-time view of the lock table.
type LockStats struct {
	ActiveLocks int            `json:"active_locks"`
	Events      map[string]int `json:"events"`
	TTL         string         `json:"ttl"`
}

// SeatService is the lock manager. It is the only writer of the lock table
// and the only producer of seatsLocked / seatsUnlocked broadcasts.
type SeatService struct {
	// mu serializes every check-then-mutate sequence together with the
	// broadcast that follows it, so room order matches table order.
	mu sync.Mutex

	table    LockTable
	rooms    Broadcaster
	monitor  *monitoring.Monitor
	ttl      time.Duration
	maxSeats int

	now   func() time.Time
	newID func() string
}

func NewSeatService(table LockTable, rooms Broadcaster, ttl time.Duration, maxSeats int, monitor *monitoring.Monitor) *SeatService {
	if table == nil {
		table = NewLockTable()
	}
	return &SeatService{
		table:    table,
		rooms:    rooms,
		monitor:  monitor,
		ttl:      ttl,
		maxSeats: maxSeats,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (s *SeatService) TTL() time.Duration {
	return s.ttl
}

// LockSeats grants userID exclusive claim over seats, or rejects the whole
// request. A user's own previous lock for the event never conflicts and is
// replaced; seats the new request no longer covers are announced as unlocked.
func (s *SeatService) LockSeats(ctx context.Context, eventID, userID string, seats []string) (models.SeatLock, error) {
	seats, err := s.validate(eventID, userID, seats, true)
	if err != nil {
		s.monitor.TrackLockOperation("lock", "invalid")
		return models.SeatLock{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.SeatLock{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if conflicts := s.table.FindConflicts(eventID, seats, userID); len(conflicts) > 0 {
		contested := contestedSeats(seats, conflicts)
		s.monitor.TrackLockOperation("lock", "conflict")
		slog.Info("Seat lock rejected", "event_id", eventID, "user_id", userID, "contested", contested)
		return models.SeatLock{}, &status.ConflictError{EventID: eventID, Seats: contested}
	}

	lock := models.SeatLock{
		ID:         s.newID(),
		EventID:    eventID,
		UserID:     userID,
		Seats:      seats,
		AcquiredAt: s.now(),
	}

	previous, renewed := s.table.Get(eventID, userID)
	if renewed {
		// hold token survives renewals
		lock.ID = previous.ID
	}
	s.table.Insert(lock)

	if renewed {
		if dropped := withoutSeats(previous.Seats, seats); len(dropped) > 0 {
			s.rooms.Broadcast(eventID, models.KindSeatsUnlocked, models.SeatsNotice{
				EventID: eventID,
				UserID:  userID,
				Seats:   dropped,
			})
		}
	}
	s.rooms.Broadcast(eventID, models.KindSeatsLocked, models.SeatsNotice{
		EventID: eventID,
		UserID:  userID,
		Seats:   lock.Seats,
	})

	if renewed {
		s.monitor.TrackLockOperation("lock", "renewed")
	} else {
		s.monitor.TrackLockOperation("lock", "granted")
	}
	s.monitor.SetActiveLocks(s.table.Len())
	slog.Info("Seats locked", "event_id", eventID, "user_id", userID, "seats", lock.Seats, "lock_id", lock.ID, "renewed", renewed)

	return lock.Clone(), nil
}

// UnlockSeats releases the user's whole lock for the event. It is
// idempotent: seatsUnlocked is broadcast even when nothing was held, echoing
// the requested seats so stale clients can reconcile.
func (s *SeatService) UnlockSeats(ctx context.Context, eventID, userID string, seats []string) (bool, error) {
	seats, err := s.validate(eventID, userID, seats, false)
	if err != nil {
		s.monitor.TrackLockOperation("unlock", "invalid")
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	released := s.release(eventID, userID, seats, "unlock")
	return released, nil
}

// ReleaseBooking handles the booking subsystem's release signal. The user's
// lock is released only when it still covers at least one of the booking's
// seats; a lock taken for different seats after the booking is left alone.
func (s *SeatService) ReleaseBooking(ctx context.Context, ev models.BookingReleaseEvent) error {
	seats, err := s.validate(ev.EventID, ev.UserID, ev.Seats, false)
	if err != nil {
		s.monitor.TrackLockOperation("release", "invalid")
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.table.Get(ev.EventID, ev.UserID); ok && len(seats) > 0 && len(held.Overlap(seats)) == 0 {
		slog.Info("Booking release skipped, lock covers other seats",
			"booking_id", ev.BookingID, "event_id", ev.EventID, "user_id", ev.UserID, "held", held.Seats)
		s.monitor.TrackLockOperation("release", "skipped")
		return nil
	}

	s.release(ev.EventID, ev.UserID, seats, "release")
	slog.Info("Booking released seats", "booking_id", ev.BookingID, "event_id", ev.EventID, "status", ev.Status)
	return nil
}

// release removes the entry and broadcasts seatsUnlocked. Caller holds s.mu.
func (s *SeatService) release(eventID, userID string, requested []string, reason string) bool {
	lock, ok := s.table.Remove(eventID, userID)

	notice := models.SeatsNotice{EventID: eventID, UserID: userID, Seats: requested}
	if ok {
		notice.Seats = lock.Seats
		s.monitor.TrackSeatLock(reason, s.now().Sub(lock.AcquiredAt))
		s.monitor.TrackLockOperation(reason, "released")
		s.monitor.SetActiveLocks(s.table.Len())
		slog.Info("Seats unlocked", "event_id", eventID, "user_id", userID, "seats", lock.Seats, "reason", reason)
	} else {
		s.monitor.TrackLockOperation(reason, "noop")
	}
	if notice.Seats == nil {
		notice.Seats = []string{}
	}

	s.rooms.Broadcast(eventID, models.KindSeatsUnlocked, notice)
	return ok
}

// SweepExpired removes every lock with AcquiredAt + TTL <= now and
// broadcasts seatsUnlocked for each one. It returns the released locks.
func (s *SeatService) SweepExpired(now time.Time) []models.SeatLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := s.table.AllExpired(now, s.ttl)
	released := make([]models.SeatLock, 0, len(expired))
	for _, lock := range expired {
		if _, ok := s.table.Remove(lock.EventID, lock.UserID); !ok {
			continue
		}
		released = append(released, lock)

		s.rooms.Broadcast(lock.EventID, models.KindSeatsUnlocked, models.SeatsNotice{
			EventID: lock.EventID,
			UserID:  lock.UserID,
			Seats:   lock.Seats,
		})
		s.monitor.TrackSeatLock("expired", now.Sub(lock.AcquiredAt))
		s.monitor.TrackLockOperation("sweep", "expired")
		slog.Info("Seat lock expired", "event_id", lock.EventID, "user_id", lock.UserID, "seats", lock.Seats)
	}

	if len(released) > 0 {
		s.monitor.SetActiveLocks(s.table.Len())
	}
	return released
}

// HeldBy returns the user's current lock for the event, if any.
func (s *SeatService) HeldBy(eventID, userID string) (models.SeatLock, bool) {
	return s.table.Get(eventID, userID)
}

func (s *SeatService) Snapshot(eventID string) []models.SeatLock {
	return s.table.Snapshot(eventID)
}

// GetSeatAvailability reports "locked" or "available" for each seat id.
func (s *SeatService) GetSeatAvailability(eventID string, seatIDs []string) map[string]string {
	locks := s.table.Snapshot(eventID)

	availability := make(map[string]string, len(seatIDs))
	for _, seatID := range seatIDs {
		availability[seatID] = models.SeatStatusAvailable
		for _, lock := range locks {
			if lock.Holds(seatID) {
				availability[seatID] = models.SeatStatusLocked
				break
			}
		}
	}
	return availability
}

// ApplyLocks sets Status and LockedBy on catalogue seats from the live
// lock table.
func (s *SeatService) ApplyLocks(eventID string, seats []models.SeatData) []models.SeatData {
	holders := make(map[string]string)
	for _, lock := range s.table.Snapshot(eventID) {
		for _, seat := range lock.Seats {
			holders[seat] = lock.UserID
		}
	}

	for i := range seats {
		if userID, ok := holders[seats[i].ID]; ok {
			seats[i].Status = models.SeatStatusLocked
			seats[i].LockedBy = userID
		} else {
			seats[i].Status = models.SeatStatusAvailable
			seats[i].LockedBy = ""
		}
	}
	return seats
}

func (s *SeatService) Stats() LockStats {
	return LockStats{
		ActiveLocks: s.table.Len(),
		Events:      s.table.EventCounts(),
		TTL:         s.ttl.String(),
	}
}

func (s *SeatService) validate(eventID, userID string, seats []string, requireSeats bool) ([]string, error) {
	if eventID == "" {
		return nil, status.Invalid("event_id is required")
	}
	if userID == "" {
		return nil, status.Invalid("user_id is required")
	}

	normalized, ok := models.NormalizeSeats(seats)
	if !ok {
		return nil, status.Invalid("seat ids must not be blank")
	}
	if !requireSeats {
		// unlock and release drop the whole entry; the list is only echoed
		return normalized, nil
	}
	if len(normalized) == 0 {
		return nil, status.Invalid("at least one seat is required")
	}
	if s.maxSeats > 0 && len(normalized) > s.maxSeats {
		return nil, status.Invalid("too many seats in one lock")
	}
	return normalized, nil
}

// contestedSeats lists the requested seats held by any of the conflicts,
// in request order.
func contestedSeats(requested []string, conflicts []models.SeatLock) []string {
	var contested []string
	for _, seat := range requested {
		for _, lock := range conflicts {
			if lock.Holds(seat) {
				contested = append(contested, seat)
				break
			}
		}
	}
	return contested
}

func withoutSeats(seats, remove []string) []string {
	var out []string
	for _, seat := range seats {
		if !slices.Contains(remove, seat) {
			out = append(out, seat)
		}
	}
	return out
}
