package services

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"evetia/internal/status"
	"evetia/models"
	"evetia/monitoring"
)

// Conn is one client's realtime connection as seen by the rooms.
// Send must not block; a full outbox returns status.ErrSlowConsumer and a
// closed connection returns status.ErrConnClosed.
type Conn interface {
	ID() string
	Send(msg models.Message) error
}

// Publisher mirrors room broadcasts to an external fan-out channel.
// Publish must not block the caller.
type Publisher interface {
	Publish(msg models.Message) error
}

// RoomService groups realtime connections by event id and fans messages
// out to them. A message for event E never reaches a connection that has
// not joined E.
type RoomService struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn // event id -> conn id -> conn

	mirror  Publisher
	monitor *monitoring.Monitor
}

func NewRoomService(mirror Publisher, monitor *monitoring.Monitor) *RoomService {
	return &RoomService{
		rooms:   make(map[string]map[string]Conn),
		mirror:  mirror,
		monitor: monitor,
	}
}

// Join adds conn to the event's room. Joining twice is a no-op.
func (r *RoomService) Join(eventID string, conn Conn) error {
	if eventID == "" {
		return status.Invalid("event_id is required")
	}
	if conn == nil || conn.ID() == "" {
		return status.Invalid("client_id is required")
	}

	r.mu.Lock()
	room, ok := r.rooms[eventID]
	if !ok {
		room = make(map[string]Conn)
		r.rooms[eventID] = room
	}
	room[conn.ID()] = conn
	total := r.totalLocked()
	r.mu.Unlock()

	r.monitor.SetRoomMembers(total)
	slog.Debug("Client joined event room", "event_id", eventID, "client_id", conn.ID())
	return nil
}

// Leave removes the connection from the event's room. It reports whether
// the connection was a member.
func (r *RoomService) Leave(eventID, connID string) bool {
	r.mu.Lock()
	left := r.removeLocked(eventID, connID)
	total := r.totalLocked()
	r.mu.Unlock()

	if left {
		r.monitor.SetRoomMembers(total)
		slog.Debug("Client left event room", "event_id", eventID, "client_id", connID)
	}
	return left
}

// Disconnect removes the connection from every room it joined and returns
// the event ids it left. Seat locks held by the user are not touched.
func (r *RoomService) Disconnect(connID string) []string {
	r.mu.Lock()
	var left []string
	for eventID := range r.rooms {
		if r.removeLocked(eventID, connID) {
			left = append(left, eventID)
		}
	}
	total := r.totalLocked()
	r.mu.Unlock()

	if len(left) > 0 {
		r.monitor.SetRoomMembers(total)
		slog.Info("Realtime client disconnected", "client_id", connID, "rooms", left)
	}
	return left
}

// Broadcast encodes payload once and delivers it to every member of the
// event's room. Delivery failures are logged and never returned: a slow
// or dead client must not affect the operation that triggered the message.
func (r *RoomService) Broadcast(eventID, kind string, payload any) {
	msg, err := newMessage(eventID, kind, payload)
	if err != nil {
		slog.Error("Failed to encode room message", "error", err, "event_id", eventID, "kind", kind)
		return
	}

	r.mu.RLock()
	members := make([]Conn, 0, len(r.rooms[eventID]))
	for _, conn := range r.rooms[eventID] {
		members = append(members, conn)
	}
	r.mu.RUnlock()

	for _, conn := range members {
		r.deliver(eventID, conn, msg)
	}

	if r.mirror != nil {
		if err := r.mirror.Publish(msg); err != nil {
			slog.Warn("Failed to mirror room message", "error", err, "event_id", eventID, "kind", kind)
		}
	}
}

// Unicast sends a message to a single connection, whether or not it has
// joined a room.
func (r *RoomService) Unicast(conn Conn, kind string, payload any) error {
	msg, err := newMessage("", kind, payload)
	if err != nil {
		return err
	}
	if err := conn.Send(msg); err != nil {
		r.monitor.TrackDroppedMessage(kind)
		return err
	}
	return nil
}

// Members returns the number of connections joined to the event.
func (r *RoomService) Members(eventID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[eventID])
}

// Rooms returns member counts for every non-empty room.
func (r *RoomService) Rooms() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int, len(r.rooms))
	for eventID, room := range r.rooms {
		counts[eventID] = len(room)
	}
	return counts
}

func (r *RoomService) deliver(eventID string, conn Conn, msg models.Message) {
	err := conn.Send(msg)
	if err == nil {
		return
	}

	r.monitor.TrackDroppedMessage(msg.Kind)
	switch {
	case errors.Is(err, status.ErrConnClosed):
		r.Disconnect(conn.ID())
	case errors.Is(err, status.ErrSlowConsumer):
		slog.Warn("Dropped message for slow client", "event_id", eventID, "client_id", conn.ID(), "kind", msg.Kind)
	default:
		slog.Error("Failed to deliver room message", "error", err, "event_id", eventID, "client_id", conn.ID())
	}
}

func (r *RoomService) removeLocked(eventID, connID string) bool {
	room, ok := r.rooms[eventID]
	if !ok {
		return false
	}
	if _, ok := room[connID]; !ok {
		return false
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, eventID)
	}
	return true
}

func (r *RoomService) totalLocked() int {
	total := 0
	for _, room := range r.rooms {
		total += len(room)
	}
	return total
}

func newMessage(eventID, kind string, payload any) (models.Message, error) {
	var data json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		data = p
	case nil:
		data = json.RawMessage("null")
	default:
		encoded, err := json.Marshal(p)
		if err != nil {
			return models.Message{}, err
		}
		data = encoded
	}
	return models.Message{Kind: kind, EventID: eventID, Data: data}, nil
}
