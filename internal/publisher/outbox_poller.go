package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjod/go_food/internal/repository"
	"github.com/fjod/go_food/pkg/metrics"
	"github.com/segmentio/kafka-go"
)

// EventSource is the part of the store the poller drains.
type EventSource interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*repository.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OutboxPoller publishes outbox events to Kafka and marks them processed.
// Delivery is at least once: an event whose mark fails is published again.
type OutboxPoller struct {
	timeout   time.Duration
	eventTick time.Duration
	batch     int
	source    EventSource
	writer    MessageWriter
	log       *slog.Logger
	metrics   *metrics.Metrics
}

func NewOutboxPoller(source EventSource, log *slog.Logger, m *metrics.Metrics, topic string, brokers ...string) *OutboxPoller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &OutboxPoller{
		timeout:   5 * time.Second,
		eventTick: time.Second,
		batch:     100,
		source:    source,
		writer:    w,
		log:       log,
		metrics:   m,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	defer eventTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.source.GetUnprocessedEvents(ctx, p.batch)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to fetch outbox events", "error", err)
		return
	}

	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.metrics.PublishResult("error")
			p.log.WarnContext(ctx, "failed to publish event", "event_id", event.ID, "event_type", event.EventType, "error", err)
			continue
		}
		p.metrics.PublishResult("ok")

		if err := p.source.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.log.WarnContext(ctx, "failed to mark event as processed", "event_id", event.ID, "error", err)
		}
	}
}

func (p *OutboxPoller) publish(ctx context.Context, event *repository.OutboxEvent) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.AggregateID), // order id keeps one order's events ordered
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
		Time: event.CreatedAt,
	}
	return p.writer.WriteMessages(ctx, msg)
}
