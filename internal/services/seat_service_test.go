package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"evetia/internal/status"
	"evetia/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	EventID string
	Kind    string
	Notice  models.SeatsNotice
}

// recordingRooms captures broadcasts in the order SeatService issued them.
type recordingRooms struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (r *recordingRooms) Broadcast(eventID, kind string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	notice, _ := payload.(models.SeatsNotice)
	r.sent = append(r.sent, sentMessage{EventID: eventID, Kind: kind, Notice: notice})
}

func (r *recordingRooms) messages() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMessage(nil), r.sent...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestSeatService(t *testing.T) (*SeatService, *recordingRooms, *fakeClock) {
	t.Helper()
	rooms := &recordingRooms{}
	clock := &fakeClock{now: t0}
	var seq atomic.Int64

	s := NewSeatService(NewLockTable(), rooms, 5*time.Minute, 10, nil)
	s.now = clock.Now
	s.newID = func() string { return fmt.Sprintf("lock-%d", seq.Add(1)) }
	return s, rooms, clock
}

func TestSeatService_LockSeats(t *testing.T) {
	s, rooms, _ := newTestSeatService(t)
	ctx := context.Background()

	lock, err := s.LockSeats(ctx, "e1", "alice", []string{"A1", "A2", "A1"})
	require.NoError(t, err)

	assert.Equal(t, "lock-1", lock.ID)
	assert.Equal(t, []string{"A1", "A2"}, lock.Seats)
	assert.Equal(t, t0, lock.AcquiredAt)
	assert.Equal(t, t0.Add(5*time.Minute), lock.ExpiresAt(s.TTL()))

	msgs := rooms.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.KindSeatsLocked, msgs[0].Kind)
	assert.Equal(t, models.SeatsNotice{EventID: "e1", UserID: "alice", Seats: []string{"A1", "A2"}}, msgs[0].Notice)
}

func TestSeatService_LockSeatsConflict(t *testing.T) {
	s, rooms, _ := newTestSeatService(t)
	ctx := context.Background()

	_, err := s.LockSeats(ctx, "e1", "alice", []string{"A1", "A2"})
	require.NoError(t, err)

	_, err = s.LockSeats(ctx, "e1", "bob", []string{"A3", "A2", "A1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrSeatConflict)

	var conflict *status.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []string{"A2", "A1"}, conflict.Seats)

	// all-or-nothing: bob got nothing, A3 is still free
	_, held := s.HeldBy("e1", "bob")
	assert.False(t, held)
	assert.Equal(t, models.SeatStatusAvailable, s.GetSeatAvailability("e1", []string{"A3"})["A3"])
	assert.Len(t, rooms.messages(), 1)
}

func TestSeatService_DisjointSeatsAndEvents(t *testing.T) {
	s, _, _ := newTestSeatService(t)
	ctx := context.Background()

	_, err := s.LockSeats(ctx, "e1", "alice", []string{"A1"})
	require.NoError(t, err)
	_, err = s.LockSeats(ctx, "e1", "bob", []string{"B1"})
	require.NoError(t, err)
	_, err = s.LockSeats(ctx, "e2", "bob", []string{"A1"})
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, 3, stats.ActiveLocks)
	assert.Equal(t, map[string]int{"e1": 2, "e2": 1}, stats.Events)
}

func TestSeatService_RelockReplaces(t *testing.T) {
	s, rooms, clock := newTestSeatService(t)
	ctx := context.Background()

	first, err := s.LockSeats(ctx, "e1", "alice", []string{"A1", "A2"})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	second, err := s.LockSeats(ctx, "e1", "alice", []string{"A2", "A3"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, t0.Add(time.Minute), second.AcquiredAt)
	assert.Equal(t, 1, s.Stats().ActiveLocks)

	msgs := rooms.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, models.KindSeatsUnlocked, msgs[1].Kind)
	assert.Equal(t, []string{"A1"}, msgs[1].Notice.Seats)
	assert.Equal(t, models.KindSeatsLocked, msgs[2].Kind)
	assert.Equal(t, []string{"A2", "A3"}, msgs[2].Notice.Seats)

	// A1 is free again for someone else
	_, err = s.LockSeats(ctx, "e1", "bob", []string{"A1"})
	assert.NoError(t, err)
}

func TestSeatService_InvalidRequests(t *testing.T) {
	s, rooms, _ := newTestSeatService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		eventID string
		userID  string
		seats   []string
	}{
		{"missing event", "", "alice", []string{"A1"}},
		{"missing user", "e1", "", []string{"A1"}},
		{"no seats", "e1", "alice", nil},
		{"blank seat", "e1", "alice", []string{"A1", ""}},
		{"too many seats", "e1", "alice", []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.LockSeats(ctx, tt.eventID, tt.userID, tt.seats)
			assert.ErrorIs(t, err, status.ErrInvalidRequest)
		})
	}
	assert.Empty(t, rooms.messages())
	assert.Equal(t, 0, s.Stats().ActiveLocks)
}

func TestSeatService_CancelledContext(t *testing.T) {
	s, _, _ := newTestSeatService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.LockSeats(ctx, "e1", "alice", []string{"A1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Stats().ActiveLocks)
}

func TestSeatService_UnlockIsIdempotent(t *testing.T) {
	s, rooms, _ := newTestSeatService(t)
	ctx := context.Background()

	_, err := s.LockSeats(ctx, "e1", "alice", []string{"A1", "A2"})
	require.NoError(t, err)

	released, err := s.UnlockSeats(ctx, "e1", "alice", []string{"A1"})
	require.NoError(t, err)
	assert.True(t, released)

	released, err = s.UnlockSeats(ctx, "e1", "alice", []string{"A1"})
	require.NoError(t, err)
	assert.False(t, released)

	msgs := rooms.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, models.KindSeatsUnlocked, msgs[1].Kind)
	assert.Equal(t, []string{"A1", "A2"}, msgs[1].Notice.Seats, "whole entry is released")
	assert.Equal(t, models.KindSeatsUnlocked, msgs[2].Kind)
	assert.Equal(t, []string{"A1"}, msgs[2].Notice.Seats, "no-op echoes the request")
}

func TestSeatService_UnlockWithoutSeats(t *testing.T) {
	s, rooms, _ := newTestSeatService(t)
	ctx := context.Background()

	released, err := s.UnlockSeats(ctx, "e1", "alice", nil)
	require.NoError(t, err)
	assert.False(t, released)

	msgs := rooms.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{}, msgs[0].Notice.Seats)

	_, err = s.UnlockSeats(ctx, "e1", "", nil)
	assert.ErrorIs(t, err, status.ErrInvalidRequest)
}

func TestSeatService_SweepExpired(t *testing.T) {
	s, rooms, clock := newTestSeatService(t)
	ctx := context.Background()

	_, err := s.LockSeats(ctx, "e1", "alice", []string{"A1"})
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	_, err = s.LockSeats(ctx, "e1", "bob", []string{"B1"})
	require.NoError(t, err)

	assert.Empty(t, s.SweepExpired(t0.Add(5*time.Minute-time.Millisecond)))

	released := s.SweepExpired(t0.Add(5 * time.Minute))
	require.Len(t, released, 1)
	assert.Equal(t, "alice", released[0].UserID)

	msgs := rooms.messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, models.KindSeatsUnlocked, last.Kind)
	assert.Equal(t, models.SeatsNotice{EventID: "e1", UserID: "alice", Seats: []string{"A1"}}, last.Notice)

	_, held := s.HeldBy("e1", "bob")
	assert.True(t, held)
	assert.Empty(t, s.SweepExpired(t0.Add(5*time.Minute)))
}

func TestSeatService_RenewalExtendsExpiry(t *testing.T) {
	s, _, clock := newTestSeatService(t)
	ctx := context.Background()

	_, err := s.LockSeats(ctx, "e1", "alice", []string{"A1"})
	require.NoError(t, err)
	clock.Advance(4 * time.Minute)
	_, err = s.LockSeats(ctx, "e1", "alice", []string{"A1"})
	require.NoError(t, err)

	assert.Empty(t, s.SweepExpired(t0.Add(5*time.Minute)))
	assert.Len(t, s.SweepExpired(t0.Add(9*time.Minute)), 1)
}

func TestSeatService_ReleaseBooking(t *testing.T) {
	s, _, _ := newTestSeatService(t)
	ctx := context.Background()

	_, err := s.LockSeats(ctx, "e1", "alice", []string{"A1", "A2"})
	require.NoError(t, err)

	// a booking for seats alice no longer holds leaves her current lock alone
	err = s.ReleaseBooking(ctx, models.BookingReleaseEvent{BookingID: "b0", EventID: "e1", UserID: "alice", Seats: []string{"C1"}})
	require.NoError(t, err)
	_, held := s.HeldBy("e1", "alice")
	assert.True(t, held)

	err = s.ReleaseBooking(ctx, models.BookingReleaseEvent{
		BookingID: "b1", EventID: "e1", UserID: "alice", Seats: []string{"A2"}, Status: models.BookingStatusConfirmed,
	})
	require.NoError(t, err)
	_, held = s.HeldBy("e1", "alice")
	assert.False(t, held)

	err = s.ReleaseBooking(ctx, models.BookingReleaseEvent{BookingID: "b2", UserID: "alice"})
	assert.ErrorIs(t, err, status.ErrInvalidRequest)
}

func TestSeatService_ReleaseBookingWithoutSeats(t *testing.T) {
	s, rooms, _ := newTestSeatService(t)
	ctx := context.Background()

	_, err := s.LockSeats(ctx, "e1", "alice", []string{"A1", "A2"})
	require.NoError(t, err)

	// no seat list means the booking releases whatever the user holds
	err = s.ReleaseBooking(ctx, models.BookingReleaseEvent{BookingID: "b1", EventID: "e1", UserID: "alice"})
	require.NoError(t, err)
	_, held := s.HeldBy("e1", "alice")
	assert.False(t, held)

	msgs := rooms.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.KindSeatsUnlocked, msgs[1].Kind)
	assert.Equal(t, []string{"A1", "A2"}, msgs[1].Notice.Seats)
}

func TestSeatService_ReleaseIgnoresSeatLimit(t *testing.T) {
	rooms := &recordingRooms{}
	s := NewSeatService(NewLockTable(), rooms, 5*time.Minute, 2, nil)
	ctx := context.Background()

	_, err := s.LockSeats(ctx, "e1", "alice", []string{"A1", "A2"})
	require.NoError(t, err)

	released, err := s.UnlockSeats(ctx, "e1", "alice", []string{"A1", "A2", "A3"})
	require.NoError(t, err)
	assert.True(t, released)
	_, held := s.HeldBy("e1", "alice")
	assert.False(t, held)

	_, err = s.LockSeats(ctx, "e1", "bob", []string{"B1", "B2"})
	require.NoError(t, err)

	err = s.ReleaseBooking(ctx, models.BookingReleaseEvent{
		BookingID: "b1", EventID: "e1", UserID: "bob", Seats: []string{"B1", "B2", "B3", "B4"},
	})
	require.NoError(t, err)
	_, held = s.HeldBy("e1", "bob")
	assert.False(t, held)
}

func TestSeatService_GetSeatAvailability(t *testing.T) {
	s, _, _ := newTestSeatService(t)
	_, err := s.LockSeats(context.Background(), "e1", "alice", []string{"A1"})
	require.NoError(t, err)

	availability := s.GetSeatAvailability("e1", []string{"A1", "A2"})
	assert.Equal(t, map[string]string{"A1": models.SeatStatusLocked, "A2": models.SeatStatusAvailable}, availability)
}

func TestSeatService_ConcurrentLockIsExclusive(t *testing.T) {
	s, rooms, _ := newTestSeatService(t)
	ctx := context.Background()

	const buyers = 50
	var (
		wg      sync.WaitGroup
		granted atomic.Int32
	)
	for i := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.LockSeats(ctx, "e1", fmt.Sprintf("user-%d", i), []string{"A5", "A6"})
			if err == nil {
				granted.Add(1)
				return
			}
			assert.ErrorIs(t, err, status.ErrSeatConflict)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), granted.Load())
	assert.Equal(t, 1, s.Stats().ActiveLocks)
	assert.Len(t, rooms.messages(), 1)
}

// Two buyers, one seat, then expiry hands the seat to the loser.
func TestSeatService_ContestedSeatScenario(t *testing.T) {
	s, rooms, clock := newTestSeatService(t)
	ctx := context.Background()

	_, err := s.LockSeats(ctx, "E1", "u1", []string{"A5"})
	require.NoError(t, err)

	_, err = s.LockSeats(ctx, "E1", "u2", []string{"A5"})
	require.ErrorIs(t, err, status.ErrSeatConflict)

	clock.Advance(5 * time.Minute)
	released := s.SweepExpired(clock.Now())
	require.Len(t, released, 1)

	_, err = s.LockSeats(ctx, "E1", "u2", []string{"A5"})
	require.NoError(t, err)

	var kinds []string
	for _, m := range rooms.messages() {
		kinds = append(kinds, m.Kind)
	}
	assert.Equal(t, []string{models.KindSeatsLocked, models.KindSeatsUnlocked, models.KindSeatsLocked}, kinds)
}

func TestSeatService_ApplyLocks(t *testing.T) {
	s, _, _ := newTestSeatService(t)
	_, err := s.LockSeats(context.Background(), "e1", "alice", []string{"A1"})
	require.NoError(t, err)

	seats := s.ApplyLocks("e1", []models.SeatData{{ID: "A1"}, {ID: "A2", Status: models.SeatStatusLocked, LockedBy: "stale"}})

	assert.Equal(t, models.SeatStatusLocked, seats[0].Status)
	assert.Equal(t, "alice", seats[0].LockedBy)
	assert.Equal(t, models.SeatStatusAvailable, seats[1].Status)
	assert.Empty(t, seats[1].LockedBy)
}
