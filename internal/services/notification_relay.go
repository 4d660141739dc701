package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"

	"evetia/models"

	"github.com/redis/go-redis/v9"
)

// NotificationRelay forwards Notification messages published on a Redis
// Pub/Sub channel by the booking and inventory subsystems.
type NotificationRelay struct {
	redis         *redis.Client
	channel       string
	notifications *NotificationService
}

func NewNotificationRelay(redisClient *redis.Client, channel string, notifications *NotificationService) *NotificationRelay {
	return &NotificationRelay{
		redis:         redisClient,
		channel:       channel,
		notifications: notifications,
	}
}

// Run subscribes and relays until ctx is cancelled.
func (r *NotificationRelay) Run(ctx context.Context) error {
	pubsub := r.redis.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	log.Printf("Relaying notifications from Redis channel %s", r.channel)

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.handleMessage(msg.Payload); err != nil {
				slog.Warn("Dropped notification", "error", err, "channel", msg.Channel)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *NotificationRelay) handleMessage(payload string) error {
	var n models.Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}
	return r.notifications.Forward(n)
}
