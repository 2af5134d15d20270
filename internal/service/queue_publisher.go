// Package service holds outbound integrations used by the HTTP layer.
package service

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/refactor-gateway/internal/queue"
)

// QueuePublisher publishes subscription events to RabbitMQ. Each publish
// dials its own connection.
type QueuePublisher struct {
	url string
	log zerolog.Logger
}

func NewQueuePublisher(url string, log zerolog.Logger) *QueuePublisher {
	return &QueuePublisher{url: url, log: log}
}

// PublishSubscriptionChanged publishes ev to the subscription.changed
// queue as a persistent message. Errors are logged and returned so the
// caller can fall back to applying the event inline.
func (p *QueuePublisher) PublishSubscriptionChanged(ctx context.Context, ev queue.SubscriptionChangedEvent) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.Warn().Err(err).Msg("rabbitmq: dial failed")
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warn().Err(err).Msg("rabbitmq: channel open failed")
		return err
	}
	defer func() { _ = ch.Close() }()

	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(
		queue.SubscriptionChangedQueue, // name
		true,                           // durable
		false,                          // autoDelete
		false,                          // exclusive
		false,                          // noWait
		nil,                            // args
	); err != nil {
		p.log.Warn().Err(err).Msg("rabbitmq: queue declare failed")
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx,
		"",                             // default exchange
		queue.SubscriptionChangedQueue, // routing key = queue name
		false,                          // mandatory
		false,                          // immediate
		pub,
	); err != nil {
		p.log.Warn().Err(err).Msg("rabbitmq: publish failed")
		return err
	}
	return nil
}
