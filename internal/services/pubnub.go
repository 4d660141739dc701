package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"

	"evetia/config"
	"evetia/models"
	"evetia/utils"

	pubnub "github.com/pubnub/go/v7"
)

var ErrMirrorBacklog = errors.New("pubnub mirror: backlog full")

// NewPubNub builds a PubNub client from the service configuration.
func NewPubNub(cfg *config.Config) *pubnub.PubNub {
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PubNubUserID))
	pnCfg.PublishKey = cfg.PubNubPublishKey
	pnCfg.SubscribeKey = cfg.PubNubSubscribeKey
	pnCfg.SecretKey = cfg.PubNubSecretKey
	return pubnub.NewPubNub(pnCfg)
}

// EventChannel is the PubNub channel that mirrors an event room.
func EventChannel(eventID string) string {
	return "event-" + eventID
}

type publishFunc func(channel string, message any) error

// PubNubMirror republishes room broadcasts on PubNub for clients that use
// the PubNub SDK instead of the SSE stream. Publishing happens on a
// background worker behind a circuit breaker so a PubNub outage never
// slows down lock operations.
type PubNubMirror struct {
	publish publishFunc
	breaker *utils.CircuitBreaker
	queue   chan models.Message

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewPubNubMirror(pn *pubnub.PubNub, backlog int) *PubNubMirror {
	return newPubNubMirror(func(channel string, message any) error {
		_, _, err := pn.Publish().
			Channel(channel).
			Message(message).
			Execute()
		return err
	}, backlog)
}

func newPubNubMirror(publish publishFunc, backlog int) *PubNubMirror {
	if backlog <= 0 {
		backlog = 256
	}
	m := &PubNubMirror{
		publish:  publish,
		breaker:  utils.NewCircuitBreaker("pubnub-mirror"),
		queue:    make(chan models.Message, backlog),
		stopChan: make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// Publish queues msg for the event's PubNub channel.
func (m *PubNubMirror) Publish(msg models.Message) error {
	if msg.EventID == "" {
		return nil
	}
	select {
	case m.queue <- msg:
		return nil
	default:
		return ErrMirrorBacklog
	}
}

func (m *PubNubMirror) run() {
	defer m.wg.Done()
	for {
		select {
		case msg := <-m.queue:
			m.send(msg)
		case <-m.stopChan:
			return
		}
	}
}

func (m *PubNubMirror) send(msg models.Message) {
	err := m.breaker.Execute(func() error {
		return m.publish(EventChannel(msg.EventID), msg)
	})
	switch {
	case err == nil:
	case errors.Is(err, utils.ErrCircuitOpen), errors.Is(err, utils.ErrTooManyRequests):
		slog.Debug("PubNub mirror skipped", "event_id", msg.EventID, "kind", msg.Kind, "error", err)
	default:
		slog.Warn("PubNub mirror publish failed", "event_id", msg.EventID, "kind", msg.Kind, "error", err)
	}
}

// Stop ends the worker. Queued messages are dropped.
func (m *PubNubMirror) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	m.wg.Wait()
}

// PaymentListener subscribes to the payment notification channel and
// forwards each status change to the event room as paymentUpdate.
type PaymentListener struct {
	pn            *pubnub.PubNub
	listener      *pubnub.Listener
	channel       string
	notifications *NotificationService
}

func NewPaymentListener(pn *pubnub.PubNub, channel string, notifications *NotificationService) *PaymentListener {
	return &PaymentListener{
		pn:            pn,
		listener:      pubnub.NewListener(),
		channel:       channel,
		notifications: notifications,
	}
}

// Run subscribes and processes messages until ctx is cancelled.
func (l *PaymentListener) Run(ctx context.Context) {
	l.pn.AddListener(l.listener)
	l.pn.Subscribe().
		Channels([]string{l.channel}).
		Execute()

	defer func() {
		l.pn.Unsubscribe().Channels([]string{l.channel}).Execute()
		l.pn.RemoveListener(l.listener)
	}()

	for {
		select {
		case st := <-l.listener.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory:
				log.Printf("Connected to PubNub channel %s", l.channel)
			case pubnub.PNReconnectedCategory:
				log.Printf("Reconnected to PubNub channel %s", l.channel)
			case pubnub.PNDisconnectedCategory:
				slog.Warn("Disconnected from PubNub", "channel", l.channel)
			case pubnub.PNAccessDeniedCategory:
				slog.Error("PubNub access denied", "channel", l.channel)
			}

		case message := <-l.listener.Message:
			if err := l.handleMessage(message.Message); err != nil {
				slog.Error("Failed to forward payment notification", "error", err, "channel", message.Channel)
			}

		case <-ctx.Done():
			log.Println("Payment listener stopping")
			return
		}
	}
}

func (l *PaymentListener) handleMessage(raw any) error {
	p, err := decodePaymentNotification(raw)
	if err != nil {
		return err
	}
	return l.notifications.ForwardPayment(p)
}

// decodePaymentNotification accepts both a JSON string and an already
// decoded JSON object, since publishers differ in what they send.
func decodePaymentNotification(raw any) (models.PaymentNotification, error) {
	var body []byte
	switch v := raw.(type) {
	case string:
		body = []byte(v)
	case []byte:
		body = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return models.PaymentNotification{}, fmt.Errorf("encode pubnub message: %w", err)
		}
		body = encoded
	}

	var p models.PaymentNotification
	if err := json.Unmarshal(body, &p); err != nil {
		return models.PaymentNotification{}, fmt.Errorf("decode payment notification: %w", err)
	}
	return p, nil
}
