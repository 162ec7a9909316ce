package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"auth-security/internal/detection"
	"auth-security/internal/lockout"
	"auth-security/internal/metrics"
	"auth-security/internal/models"
	"auth-security/internal/normalizer"
	"auth-security/internal/repository"
	"auth-security/internal/util"
)

// AuditExporter is satisfied by audit.Exporter
type AuditExporter interface {
	Export(event *models.SecurityEvent) bool
}

// SecurityEventService is the ingestion path: normalize, classify, append,
// then hand suspicious events to the audit exporter.
type SecurityEventService struct {
	history    repository.EventHistory
	normalizer *normalizer.Normalizer
	classifier *detection.Classifier
	exporter   AuditExporter
	logger     *zap.Logger
}

var _ lockout.Recorder = (*SecurityEventService)(nil)

func NewSecurityEventService(
	history repository.EventHistory,
	norm *normalizer.Normalizer,
	classifier *detection.Classifier,
	exporter AuditExporter,
	logger *zap.Logger,
) *SecurityEventService {
	if norm == nil {
		norm = normalizer.New()
	}
	return &SecurityEventService{
		history:    history,
		normalizer: norm,
		classifier: classifier,
		exporter:   exporter,
		logger:     logger,
	}
}

// Ingest persists one draft and returns the stored event with its id and
// verdict. LOGIN_ATTEMPT drafts must carry their verdict; they normally
// arrive through RecordLoginAttempt.
func (s *SecurityEventService) Ingest(ctx context.Context, draft models.DraftEvent) (*models.SecurityEvent, error) {
	if draft.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	eventType, ok := util.NormalizeEventType(draft.EventType)
	if !ok {
		return nil, fmt.Errorf("%w: invalid event type", ErrInvalidInput)
	}
	draft.EventType = eventType
	if eventType == models.EventTypeLoginAttempt && draft.Suspicious == nil {
		return nil, fmt.Errorf("%w: login attempt without verdict", ErrInvalidInput)
	}

	event := s.normalizer.Normalize(draft)

	start := time.Now()
	verdict, err := s.classifier.Classify(ctx, event)
	metrics.ObserveClassification(time.Since(start))
	if err != nil {
		s.logger.Error("Failed to classify security event",
			zap.String("user_id", event.UserID),
			zap.String("event_type", event.EventType),
			zap.Error(err))
		return nil, fmt.Errorf("failed to classify event: %w", err)
	}
	event.IsSuspicious = verdict.Suspicious
	if verdict.Suspicious && !verdict.Supplied {
		s.logFiredSignals(ctx, event)
	}

	stored, err := s.history.Append(ctx, event)
	if err != nil {
		s.logger.Error("Failed to persist security event",
			zap.String("user_id", event.UserID),
			zap.String("event_type", event.EventType),
			zap.Error(err))
		return nil, err
	}

	metrics.RecordIngested(stored.EventType, stored.IsSuspicious, verdict.Signal)
	s.logger.Info("Security event ingested",
		zap.String("event_id", stored.ID),
		zap.String("user_id", stored.UserID),
		zap.String("event_type", stored.EventType),
		zap.Bool("suspicious", stored.IsSuspicious),
		zap.String("signal", verdict.Signal),
		zap.Bool("verdict_supplied", verdict.Supplied))

	if stored.IsSuspicious && s.exporter != nil {
		s.exporter.Export(stored)
	}
	return stored, nil
}

// RecordLoginAttempt stores the outcome of an authentication decision
func (s *SecurityEventService) RecordLoginAttempt(ctx context.Context, draft models.DraftEvent) (*models.SecurityEvent, error) {
	draft.EventType = models.EventTypeLoginAttempt
	return s.Ingest(ctx, draft)
}

func (s *SecurityEventService) ListByUser(ctx context.Context, userID string) ([]*models.SecurityEvent, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	events, err := s.history.ByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

func (s *SecurityEventService) ListSuspiciousByUser(ctx context.Context, userID string) ([]*models.SecurityEvent, error) {
	events, err := s.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	suspicious := make([]*models.SecurityEvent, 0, len(events))
	for _, e := range events {
		if e.IsSuspicious {
			suspicious = append(suspicious, e)
		}
	}
	return suspicious, nil
}

// logFiredSignals records every signal that fires for a suspicious event.
// It evaluates the full signal list, so it only runs with debug logging on.
func (s *SecurityEventService) logFiredSignals(ctx context.Context, event *models.SecurityEvent) {
	if !s.logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	fired, err := s.classifier.Explain(ctx, event)
	if err != nil {
		s.logger.Debug("Failed to explain suspicious event", zap.String("user_id", event.UserID), zap.Error(err))
		return
	}
	s.logger.Debug("Suspicious event signals",
		zap.String("user_id", event.UserID),
		zap.String("event_type", event.EventType),
		zap.Strings("signals", fired))
}
