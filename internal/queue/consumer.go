package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/refactor-gateway/internal/apperror"
)

// Handler applies one subscription event.
type Handler func(ctx context.Context, ev SubscriptionChangedEvent) error

// StartSubscriptionConsumer connects to RabbitMQ, declares the
// subscription.changed queue (durable), and hands each message to handle.
// It runs a reconnect loop with exponential backoff and only returns when
// ctx is cancelled.
func StartSubscriptionConsumer(ctx context.Context, url string, handle Handler, log zerolog.Logger) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("subscription-consumer: failed to dial broker")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, handle, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Msg("subscription-consumer: consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, handle Handler, log zerolog.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(20, 0, false); err != nil {
		log.Warn().Err(err).Msg("subscription-consumer: set QoS failed")
	}

	if _, err := ch.QueueDeclare(SubscriptionChangedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(SubscriptionChangedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			ack, requeue := handleDelivery(ctx, d.Body, d.Redelivered, handle, log)
			if ack {
				_ = d.Ack(false)
			} else {
				_ = d.Nack(false, requeue)
			}
		}
	}
}

// handleDelivery decodes and applies one message. Malformed and
// unresolvable events are dropped; infrastructure failures are requeued
// once.
func handleDelivery(ctx context.Context, body []byte, redelivered bool, handle Handler, log zerolog.Logger) (ack, requeue bool) {
	var ev SubscriptionChangedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Error().Err(err).Msg("subscription-consumer: unmarshal failed")
		return false, false
	}
	err := handle(ctx, ev)
	if err == nil {
		return true, false
	}
	log.Error().Err(err).Str("event_id", ev.EventID).Msg("subscription-consumer: handle message failed")
	if apperror.IsKind(err, apperror.KindInfrastructure) && !redelivered {
		return false, true
	}
	return false, false
}
