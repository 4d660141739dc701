package handlers

import (
	"log"
	"net/http"

	"evetia/internal/services"
	"evetia/utils"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// ConnCounter reports how many realtime connections are tracked.
type ConnCounter interface {
	Len() int
}

type AdminHandler struct {
	seatService *services.SeatService
	rooms       *services.RoomService
	conns       ConnCounter
	redis       redis.UniversalClient
}

func NewAdminHandler(seatService *services.SeatService, rooms *services.RoomService, conns ConnCounter, redisClient redis.UniversalClient) *AdminHandler {
	return &AdminHandler{
		seatService: seatService,
		rooms:       rooms,
		conns:       conns,
		redis:       redisClient,
	}
}

// GetLockDashboard - per-event lock and room counts. Superuser only.
func (h *AdminHandler) GetLockDashboard(e *core.RequestEvent) error {
	stats := h.seatService.Stats()
	rooms := h.rooms.Rooms()

	events := make(map[string]map[string]int)
	for eventID, n := range stats.Events {
		events[eventID] = map[string]int{"locks": n, "members": rooms[eventID]}
	}
	for eventID, n := range rooms {
		if _, ok := events[eventID]; !ok {
			events[eventID] = map[string]int{"locks": 0, "members": n}
		}
	}

	return e.JSON(http.StatusOK, map[string]any{
		"active_locks":     stats.ActiveLocks,
		"lock_ttl":         stats.TTL,
		"realtime_clients": h.conns.Len(),
		"events":           events,
	})
}

// ForceRelease - release a user's lock on behalf of support staff.
func (h *AdminHandler) ForceRelease(e *core.RequestEvent) error {
	var req struct {
		EventID string `json:"event_id"`
		UserID  string `json:"user_id"`
		Reason  string `json:"reason"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	released, err := h.seatService.UnlockSeats(e.Request.Context(), req.EventID, req.UserID, nil)
	if err != nil {
		return toApiError(err)
	}

	adminID := ""
	if e.Auth != nil {
		adminID = e.Auth.Id
	}
	log.Printf("Admin %s released seat lock of user %s for event %s. Reason: %s",
		adminID, req.UserID, req.EventID, req.Reason)

	return e.JSON(http.StatusOK, map[string]any{
		"message":  "Seat lock released",
		"released": released,
	})
}

// Health - liveness of the service and its Redis dependency.
func (h *AdminHandler) Health(e *core.RequestEvent) error {
	stats := h.seatService.Stats()
	body := map[string]any{
		"status":       "healthy",
		"active_locks": stats.ActiveLocks,
		"rooms":        len(h.rooms.Rooms()),
	}

	if h.redis != nil {
		if err := utils.RedisHealthCheck(e.Request.Context(), h.redis); err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			return e.JSON(http.StatusServiceUnavailable, body)
		}
	}
	return e.JSON(http.StatusOK, body)
}
