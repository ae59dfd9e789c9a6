// Package service provides functions to publish domain events to RabbitMQ.
// Errors are logged and returned so callers can ignore failures without
// interrupting the main request flow.
package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/eno-chat/internal/metrics"
	"github.com/iliyamo/eno-chat/internal/model"
	q "github.com/iliyamo/eno-chat/internal/queue"
)

// Publisher sends message.created events.  Each publish opens its own
// connection, so a Publisher is safe for concurrent use and holds no
// state that can go stale when the broker restarts.
type Publisher struct {
	url string
	log *zap.Logger
}

// NewPublisher returns a publisher for the broker at url.
func NewPublisher(url string, log *zap.Logger) *Publisher {
	return &Publisher{url: url, log: log}
}

// EventFromMessage builds the event for a stored message.
func EventFromMessage(m model.Message) q.MessageCreatedEvent {
	ev := q.MessageCreatedEvent{
		EventID:        uuid.NewString(),
		MessageID:      m.ID,
		SenderID:       m.SenderID,
		SenderUsername: m.SenderUsername,
		Type:           string(m.Type()),
		CreatedAt:      m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	var att *model.Attachment
	switch p := m.Payload.(type) {
	case model.Image:
		att = &p.Attachment
	case model.File:
		att = &p.Attachment
	}
	if att != nil {
		ev.FileName, ev.FileSize, ev.Checksum = att.FileName, att.Size, att.Checksum
	}
	return ev
}

// MessageCreated publishes the event for m to the "message.created" queue.
// Messages are marked as persistent.
func (p *Publisher) MessageCreated(ctx context.Context, m model.Message) error {
	err := p.publish(ctx, EventFromMessage(m))
	if err != nil {
		metrics.EventsPublished.WithLabelValues("failure").Inc()
		return err
	}
	metrics.EventsPublished.WithLabelValues("success").Inc()
	return nil
}

func (p *Publisher) publish(ctx context.Context, event q.MessageCreatedEvent) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.Warn("rabbitmq: dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warn("rabbitmq: channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	// Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(
		q.MessageCreatedQueue, // name
		true,                  // durable
		false,                 // autoDelete
		false,                 // exclusive
		false,                 // noWait
		nil,                   // args
	); err != nil {
		p.log.Warn("rabbitmq: queue declare failed", zap.Error(err))
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.log.Warn("rabbitmq: marshal event failed", zap.Error(err))
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		MessageId:    event.EventID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx,
		"",                    // default exchange
		q.MessageCreatedQueue, // routing key = queue name
		false,                 // mandatory
		false,                 // immediate
		pub,
	); err != nil {
		p.log.Warn("rabbitmq: publish failed", zap.Error(err))
		return err
	}
	return nil
}

// Ping dials the broker and closes the connection again.
func (p *Publisher) Ping(_ context.Context) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}
	return conn.Close()
}
