package handlers

import (
	"net/http"

	"evetia/internal/services"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// RoomHandler serves joinEvent / leaveEvent for clients connected to the
// realtime SSE stream. client_id is the id PocketBase sends in PB_CONNECT.
type RoomHandler struct {
	rooms       *services.RoomService
	conns       ConnResolver
	seatService *services.SeatService
}

func NewRoomHandler(rooms *services.RoomService, conns ConnResolver, seatService *services.SeatService) *RoomHandler {
	return &RoomHandler{
		rooms:       rooms,
		conns:       conns,
		seatService: seatService,
	}
}

type roomRequest struct {
	ClientID string `json:"client_id"`
}

// Join - joinEvent. The response carries the current locks so the client
// can render the seat map before the next broadcast.
func (h *RoomHandler) Join(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")

	var req roomRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	conn, err := h.conns.Conn(req.ClientID)
	if err != nil {
		return toApiError(err)
	}
	if err := h.rooms.Join(eventID, conn); err != nil {
		return toApiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"event_id":  eventID,
		"client_id": conn.ID(),
		"members":   h.rooms.Members(eventID),
		"locks":     h.seatService.Snapshot(eventID),
	})
}

// Leave - leaveEvent. Leaving a room that was never joined is not an error.
func (h *RoomHandler) Leave(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")

	var req roomRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if eventID == "" || req.ClientID == "" {
		return apis.NewBadRequestError("Event ID and client_id are required", nil)
	}

	left := h.rooms.Leave(eventID, req.ClientID)
	return e.JSON(http.StatusOK, map[string]any{
		"event_id":  eventID,
		"client_id": req.ClientID,
		"left":      left,
	})
}
