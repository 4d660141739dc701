package services

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"evetia/internal/status"
	"evetia/models"
)

// NotificationService forwards collaborator updates (seatUpdate,
// bookingUpdate, paymentUpdate) to event rooms without inspecting them.
// It is fed by the notify endpoint, the Redis relay and the PubNub
// payment listener.
type NotificationService struct {
	rooms Broadcaster
}

func NewNotificationService(rooms Broadcaster) *NotificationService {
	return &NotificationService{rooms: rooms}
}

func (s *NotificationService) Forward(n models.Notification) error {
	if n.EventID == "" {
		return status.Invalid("event_id is required")
	}
	if !models.IsPassThroughKind(n.Type) {
		return fmt.Errorf("%w: %q", status.ErrUnknownKind, n.Type)
	}
	if len(n.Payload) == 0 {
		n.Payload = json.RawMessage("{}")
	} else if !json.Valid(n.Payload) {
		return status.Invalid("payload must be JSON")
	}

	s.rooms.Broadcast(n.EventID, n.Type, n.Payload)
	slog.Debug("Notification forwarded", "event_id", n.EventID, "type", n.Type)
	return nil
}

// ForwardPayment wraps a payment status change as a paymentUpdate.
func (s *NotificationService) ForwardPayment(p models.PaymentNotification) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.Forward(models.Notification{
		EventID: p.EventID,
		Type:    models.KindPaymentUpdate,
		Payload: payload,
	})
}
