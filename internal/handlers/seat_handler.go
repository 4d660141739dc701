package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"evetia/internal/services"
	"evetia/internal/status"
	"evetia/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// ConnResolver finds the realtime connection for a PocketBase client id.
type ConnResolver interface {
	Conn(clientID string) (services.Conn, error)
}

// SeatCatalog is the read-only seat inventory.
type SeatCatalog interface {
	SeatsForEvent(ctx context.Context, eventID string) ([]models.SeatData, error)
}

type SeatHandler struct {
	seatService *services.SeatService
	rooms       *services.RoomService
	conns       ConnResolver
	catalog     SeatCatalog
}

func NewSeatHandler(seatService *services.SeatService, rooms *services.RoomService, conns ConnResolver, catalog SeatCatalog) *SeatHandler {
	return &SeatHandler{
		seatService: seatService,
		rooms:       rooms,
		conns:       conns,
		catalog:     catalog,
	}
}

type lockResponse struct {
	LockID     string    `json:"lock_id"`
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	Seats      []string  `json:"seats"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (h *SeatHandler) toLockResponse(lock models.SeatLock) lockResponse {
	return lockResponse{
		LockID:     lock.ID,
		EventID:    lock.EventID,
		UserID:     lock.UserID,
		Seats:      lock.Seats,
		AcquiredAt: lock.AcquiredAt,
		ExpiresAt:  lock.ExpiresAt(h.seatService.TTL()),
	}
}

// LockSeats - lockSeats request. A conflict is answered with 409 and, when
// the caller passed its realtime client id, a seatLockError unicast.
func (h *SeatHandler) LockSeats(e *core.RequestEvent) error {
	var req struct {
		EventID  string   `json:"event_id"`
		UserID   string   `json:"user_id"`
		Seats    []string `json:"seats"`
		ClientID string   `json:"client_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	userID := requestUserID(e, req.UserID)

	lock, err := h.seatService.LockSeats(e.Request.Context(), req.EventID, userID, req.Seats)
	if err != nil {
		var conflict *status.ConflictError
		if errors.As(err, &conflict) {
			notice := models.SeatLockError{
				Message: "Some seats are already locked by another user",
				EventID: req.EventID,
				Seats:   conflict.Seats,
			}
			h.notifyRequester(req.ClientID, notice)
			return e.JSON(http.StatusConflict, notice)
		}
		return toApiError(err)
	}

	return e.JSON(http.StatusOK, h.toLockResponse(lock))
}

// UnlockSeats - unlockSeats request. Always succeeds for a well-formed
// request; "released" tells whether a lock was actually held.
func (h *SeatHandler) UnlockSeats(e *core.RequestEvent) error {
	var req struct {
		EventID string   `json:"event_id"`
		UserID  string   `json:"user_id"`
		Seats   []string `json:"seats"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	userID := requestUserID(e, req.UserID)

	released, err := h.seatService.UnlockSeats(e.Request.Context(), req.EventID, userID, req.Seats)
	if err != nil {
		return toApiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"event_id": req.EventID,
		"user_id":  userID,
		"released": released,
	})
}

// GetLocks - current locks of an event.
func (h *SeatHandler) GetLocks(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")
	if eventID == "" {
		return apis.NewBadRequestError("Event ID is required", nil)
	}

	locks := h.seatService.Snapshot(eventID)
	out := make([]lockResponse, 0, len(locks))
	for _, lock := range locks {
		out = append(out, h.toLockResponse(lock))
	}

	return e.JSON(http.StatusOK, map[string]any{
		"event_id": eventID,
		"locks":    out,
		"members":  h.rooms.Members(eventID),
	})
}

// GetSeats - seat catalogue of an event merged with live lock status.
func (h *SeatHandler) GetSeats(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")
	if eventID == "" {
		return apis.NewBadRequestError("Event ID is required", nil)
	}

	seats, err := h.catalog.SeatsForEvent(e.Request.Context(), eventID)
	if err != nil {
		slog.Error("Failed to fetch seats", "error", err, "event_id", eventID)
		return apis.NewBadRequestError("Failed to fetch seats", err)
	}
	seats = h.seatService.ApplyLocks(eventID, seats)

	sections := make(map[string][]models.SeatData)
	availableCount := 0
	for _, seat := range seats {
		if seat.Status == models.SeatStatusAvailable {
			availableCount++
		}
		sections[seat.Section] = append(sections[seat.Section], seat)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"event_id":        eventID,
		"sections":        sections,
		"total_seats":     len(seats),
		"available_seats": availableCount,
	})
}

func (h *SeatHandler) notifyRequester(clientID string, notice models.SeatLockError) {
	if clientID == "" {
		return
	}
	conn, err := h.conns.Conn(clientID)
	if err != nil {
		slog.Warn("Cannot notify lock requester", "error", err, "client_id", clientID)
		return
	}
	if err := h.rooms.Unicast(conn, models.KindSeatLockError, notice); err != nil {
		slog.Warn("Failed to send seat lock error", "error", err, "client_id", clientID)
	}
}

// requestUserID prefers the authenticated record over the body field.
func requestUserID(e *core.RequestEvent, bodyUserID string) string {
	if e.Auth != nil {
		return e.Auth.Id
	}
	return bodyUserID
}

func toApiError(err error) error {
	switch {
	case errors.Is(err, status.ErrInvalidRequest):
		return apis.NewBadRequestError(err.Error(), nil)
	case errors.Is(err, status.ErrClientNotFound):
		return apis.NewNotFoundError("Realtime client not found", nil)
	case errors.Is(err, status.ErrUnknownKind):
		return apis.NewBadRequestError(err.Error(), nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apis.NewApiError(http.StatusServiceUnavailable, "Request cancelled", nil)
	}
	slog.Error("Unexpected seat lock error", "error", err)
	return apis.NewInternalServerError("Something went wrong", err)
}
