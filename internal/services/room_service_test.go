package services

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"evetia/internal/status"
	"evetia/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu       sync.Mutex
	received []models.Message
	err      error
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg models.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.received = append(c.received, msg)
	return nil
}

func (c *fakeConn) messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.received...)
}

type fakeMirror struct {
	mu        sync.Mutex
	published []models.Message
}

func (m *fakeMirror) Publish(msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, msg)
	return nil
}

func TestRoomService_BroadcastIsScopedToEvent(t *testing.T) {
	rooms := NewRoomService(nil, nil)
	a, b, c := &fakeConn{id: "a"}, &fakeConn{id: "b"}, &fakeConn{id: "c"}

	require.NoError(t, rooms.Join("e1", a))
	require.NoError(t, rooms.Join("e1", b))
	require.NoError(t, rooms.Join("e2", c))

	rooms.Broadcast("e1", models.KindSeatsLocked, models.SeatsNotice{EventID: "e1", UserID: "u1", Seats: []string{"A1"}})

	require.Len(t, a.messages(), 1)
	require.Len(t, b.messages(), 1)
	assert.Empty(t, c.messages())

	msg := a.messages()[0]
	assert.Equal(t, models.KindSeatsLocked, msg.Kind)
	assert.Equal(t, "e1", msg.EventID)
	assert.JSONEq(t, `{"eventId":"e1","userId":"u1","seats":["A1"]}`, string(msg.Data))
}

func TestRoomService_LeaveStopsDelivery(t *testing.T) {
	rooms := NewRoomService(nil, nil)
	a := &fakeConn{id: "a"}
	require.NoError(t, rooms.Join("e1", a))

	assert.True(t, rooms.Leave("e1", "a"))
	assert.False(t, rooms.Leave("e1", "a"))

	rooms.Broadcast("e1", models.KindSeatsUnlocked, models.SeatsNotice{EventID: "e1"})
	assert.Empty(t, a.messages())
	assert.Equal(t, 0, rooms.Members("e1"))
	assert.Empty(t, rooms.Rooms())
}

func TestRoomService_JoinIsIdempotent(t *testing.T) {
	rooms := NewRoomService(nil, nil)
	a := &fakeConn{id: "a"}

	require.NoError(t, rooms.Join("e1", a))
	require.NoError(t, rooms.Join("e1", a))
	assert.Equal(t, 1, rooms.Members("e1"))

	rooms.Broadcast("e1", models.KindSeatUpdate, json.RawMessage(`{"seat":"A1"}`))
	require.Len(t, a.messages(), 1)
	assert.JSONEq(t, `{"seat":"A1"}`, string(a.messages()[0].Data))
}

func TestRoomService_JoinValidation(t *testing.T) {
	rooms := NewRoomService(nil, nil)

	assert.ErrorIs(t, rooms.Join("", &fakeConn{id: "a"}), status.ErrInvalidRequest)
	assert.ErrorIs(t, rooms.Join("e1", &fakeConn{}), status.ErrInvalidRequest)
}

func TestRoomService_Disconnect(t *testing.T) {
	rooms := NewRoomService(nil, nil)
	a, b := &fakeConn{id: "a"}, &fakeConn{id: "b"}
	require.NoError(t, rooms.Join("e1", a))
	require.NoError(t, rooms.Join("e2", a))
	require.NoError(t, rooms.Join("e2", b))

	left := rooms.Disconnect("a")
	assert.ElementsMatch(t, []string{"e1", "e2"}, left)
	assert.Equal(t, map[string]int{"e2": 1}, rooms.Rooms())
}

func TestRoomService_FailingConnDoesNotBlockOthers(t *testing.T) {
	rooms := NewRoomService(nil, nil)
	slow := &fakeConn{id: "slow", err: status.ErrSlowConsumer}
	dead := &fakeConn{id: "dead", err: status.ErrConnClosed}
	ok := &fakeConn{id: "ok"}
	for _, c := range []*fakeConn{slow, dead, ok} {
		require.NoError(t, rooms.Join("e1", c))
	}

	rooms.Broadcast("e1", models.KindSeatsLocked, models.SeatsNotice{EventID: "e1"})

	assert.Len(t, ok.messages(), 1)
	// closed connections are evicted, slow ones stay
	assert.Equal(t, 2, rooms.Members("e1"))
}

func TestRoomService_Unicast(t *testing.T) {
	rooms := NewRoomService(nil, nil)
	a := &fakeConn{id: "a"}

	err := rooms.Unicast(a, models.KindSeatLockError, models.SeatLockError{Message: "taken", Seats: []string{"A5"}})
	require.NoError(t, err)
	require.Len(t, a.messages(), 1)
	assert.Equal(t, models.KindSeatLockError, a.messages()[0].Kind)

	a.err = status.ErrSlowConsumer
	err = rooms.Unicast(a, models.KindSeatLockError, models.SeatLockError{Message: "taken"})
	assert.True(t, errors.Is(err, status.ErrSlowConsumer))
}

func TestRoomService_MirrorsBroadcasts(t *testing.T) {
	mirror := &fakeMirror{}
	rooms := NewRoomService(mirror, nil)

	rooms.Broadcast("e1", models.KindSeatsLocked, models.SeatsNotice{EventID: "e1"})

	require.Len(t, mirror.published, 1)
	assert.Equal(t, "e1", mirror.published[0].EventID)
}

func TestRoomService_WithSeatService(t *testing.T) {
	rooms := NewRoomService(nil, nil)
	viewer, other := &fakeConn{id: "viewer"}, &fakeConn{id: "other"}
	require.NoError(t, rooms.Join("E1", viewer))
	require.NoError(t, rooms.Join("E2", other))

	seats, _, _ := newTestSeatService(t)
	seats.rooms = rooms

	_, err := seats.LockSeats(t.Context(), "E1", "u1", []string{"A5"})
	require.NoError(t, err)

	require.Len(t, viewer.messages(), 1)
	assert.Empty(t, other.messages())
}
