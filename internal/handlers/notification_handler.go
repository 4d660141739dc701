package handlers

import (
	"encoding/json"
	"net/http"

	"evetia/internal/services"
	"evetia/models"
	"evetia/utils"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

const ServiceKeyHeader = "X-Service-Key"

type NotificationHandler struct {
	notifications *services.NotificationService
}

func NewNotificationHandler(notifications *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// Notify - pass-through update from the booking/payment subsystems.
func (h *NotificationHandler) Notify(e *core.RequestEvent) error {
	var req struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	err := h.notifications.Forward(models.Notification{
		EventID: e.Request.PathValue("eventId"),
		Type:    req.Type,
		Payload: req.Payload,
	})
	if err != nil {
		return toApiError(err)
	}

	return e.JSON(http.StatusAccepted, map[string]any{"message": "Notification forwarded"})
}

// RequireServiceKey guards collaborator endpoints with a shared key checked
// against a bcrypt hash. An empty hash disables the check.
func RequireServiceKey(hash string) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if hash == "" {
			return e.Next()
		}
		if !utils.VerifyServiceKey(hash, e.Request.Header.Get(ServiceKeyHeader)) {
			return apis.NewUnauthorizedError("Invalid service key", nil)
		}
		return e.Next()
	}
}
