package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"evetia/internal/status"
	"evetia/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

// BookingReleaser is the lock manager operation the consumer drives.
type BookingReleaser interface {
	ReleaseBooking(ctx context.Context, ev models.BookingReleaseEvent) error
}

// Acknowledger is the part of amqp.Delivery the consumer settles messages with.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// BookingConsumer reads booking release events from RabbitMQ and releases
// the corresponding seat locks. It reconnects with exponential backoff
// until its context is cancelled.
type BookingConsumer struct {
	url      string
	queue    string
	releaser BookingReleaser

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewBookingConsumer(url, queue string, releaser BookingReleaser) *BookingConsumer {
	return &BookingConsumer{
		url:        url,
		queue:      queue,
		releaser:   releaser,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

func (c *BookingConsumer) Run(ctx context.Context) {
	backoff := c.minBackoff
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			slog.Warn("Booking consumer failed to dial broker", "error", err, "retry_in", backoff)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}
		backoff = c.minBackoff

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			log.Println("Booking consumer stopping")
			return
		}
		slog.Warn("Booking consumer loop ended, reconnecting", "error", err)
		if !sleepCtx(ctx, 2*time.Second) {
			return
		}
	}
}

func (c *BookingConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		slog.Warn("Booking consumer failed to set QoS", "error", err)
	}

	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	log.Printf("Consuming booking releases from %s", c.queue)

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.handleDelivery(ctx, d.Body, &d)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleDelivery acks a processed release. Malformed or invalid events are
// rejected without requeue; any other failure is requeued.
func (c *BookingConsumer) handleDelivery(ctx context.Context, body []byte, ack Acknowledger) {
	var ev models.BookingReleaseEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		slog.Error("Booking consumer received malformed message", "error", err)
		_ = ack.Nack(false, false)
		return
	}

	err := c.releaser.ReleaseBooking(ctx, ev)
	switch {
	case err == nil:
		_ = ack.Ack(false)
	case errors.Is(err, status.ErrInvalidRequest):
		slog.Error("Booking consumer rejected release", "error", err, "booking_id", ev.BookingID)
		_ = ack.Nack(false, false)
	default:
		slog.Error("Booking consumer failed to release seats", "error", err, "booking_id", ev.BookingID)
		_ = ack.Nack(false, true)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
