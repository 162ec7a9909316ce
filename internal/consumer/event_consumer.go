// Package consumer feeds draft events published on Kafka into the ingestion path.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"auth-security/internal/models"
	"auth-security/internal/service"
)

// MessageSource is satisfied by client.KafkaConsumer
type MessageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Ingester interface {
	Ingest(ctx context.Context, draft models.DraftEvent) (*models.SecurityEvent, error)
}

type Enricher interface {
	Enrich(ctx context.Context, draft *models.DraftEvent)
}

// EventConsumer reads JSON drafts, one per message. Malformed or rejected
// messages are committed and skipped. Storage failures are retried a few
// times before the message is given up.
type EventConsumer struct {
	source   MessageSource
	ingester Ingester
	enricher Enricher
	logger   *zap.Logger

	maxRetries int
	backoff    time.Duration
}

func NewEventConsumer(source MessageSource, ingester Ingester, enricher Enricher, logger *zap.Logger) *EventConsumer {
	return &EventConsumer{
		source:     source,
		ingester:   ingester,
		enricher:   enricher,
		logger:     logger.Named("event_consumer"),
		maxRetries: 3,
		backoff:    200 * time.Millisecond,
	}
}

// Run blocks until ctx is cancelled
func (c *EventConsumer) Run(ctx context.Context) error {
	c.logger.Info("Event consumer started")
	defer c.logger.Info("Event consumer stopped")

	for {
		msg, err := c.source.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to fetch message", zap.Error(err))
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		c.handle(ctx, msg)

		if err := c.source.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("Failed to commit offset",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

func (c *EventConsumer) handle(ctx context.Context, msg kafka.Message) {
	var draft models.DraftEvent
	if err := json.Unmarshal(msg.Value, &draft); err != nil {
		c.logger.Warn("Skipping malformed event message",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return
	}
	if c.enricher != nil {
		c.enricher.Enrich(ctx, &draft)
	}

	for attempt := 1; ; attempt++ {
		event, err := c.ingester.Ingest(ctx, draft)
		if err == nil {
			c.logger.Debug("Event ingested from kafka",
				zap.String("event_id", event.ID),
				zap.Int64("offset", msg.Offset))
			return
		}

		if errors.Is(err, service.ErrInvalidInput) {
			c.logger.Warn("Skipping rejected event message",
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			return
		}
		if attempt > c.maxRetries || !sleep(ctx, time.Duration(attempt)*c.backoff) {
			c.logger.Error("Giving up on event message",
				zap.String("user_id", draft.UserID),
				zap.Int64("offset", msg.Offset),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
