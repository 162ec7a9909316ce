package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"auth-security/internal/bucketing"
	"auth-security/internal/models"
	"auth-security/internal/repository"
	"auth-security/internal/util"
)

// EventRepository stores the security event history in ScyllaDB.
// Attribute filters other than user and time are applied after the read.
type EventRepository struct {
	client  *ScyllaClient
	buckets *bucketing.BucketingManager
}

var _ repository.EventHistory = (*EventRepository)(nil)

func NewEventRepository(client *ScyllaClient, buckets *bucketing.BucketingManager) *EventRepository {
	return &EventRepository{
		client:  client,
		buckets: buckets,
	}
}

func (r *EventRepository) Append(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
	if event == nil || event.UserID == "" {
		return nil, fmt.Errorf("%w: event without user id", repository.ErrPersistence)
	}

	stored := event.Clone()
	stored.ID = uuid.New().String()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	// CQL timestamps keep millisecond precision
	stored.CreatedAt = stored.CreatedAt.Truncate(time.Millisecond)

	bucket := r.buckets.GetEventBucket(stored.UserID)
	err := r.client.Query(ctx, r.client.Prepared.InsertEvent,
		bucket, gocql.TimeUUID(),
		stored.ID, stored.UserID, stored.EventType, stored.IPAddress, stored.DeviceInfo,
		stored.CreatedAt, stored.Metadata, stored.BiometryUsed, stored.IsSuspicious,
	).Exec()
	if err != nil {
		util.Error("Failed to append security event",
			zap.String("user_id", stored.UserID),
			zap.String("event_type", stored.EventType),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", repository.ErrPersistence, err)
	}

	return stored.Clone(), nil
}

func (r *EventRepository) ByUser(ctx context.Context, userID string) ([]*models.SecurityEvent, error) {
	query := r.client.Query(ctx, r.client.Prepared.EventsByUser, r.buckets.GetEventBucket(userID), userID)
	return r.collect(query, 0, func(*models.SecurityEvent) bool { return true })
}

func (r *EventRepository) ByUserAndTypeSince(ctx context.Context, userID, eventType string, since time.Time) ([]*models.SecurityEvent, error) {
	query := r.client.Query(ctx, r.client.Prepared.EventsSince, r.buckets.GetEventBucket(userID), userID, since)
	return r.collect(query, 0, func(e *models.SecurityEvent) bool { return e.EventType == eventType })
}

func (r *EventRepository) ByUserAndSuspiciousSince(ctx context.Context, userID string, suspicious bool, since time.Time) ([]*models.SecurityEvent, error) {
	query := r.client.Query(ctx, r.client.Prepared.EventsSince, r.buckets.GetEventBucket(userID), userID, since)
	return r.collect(query, 0, func(e *models.SecurityEvent) bool { return e.IsSuspicious == suspicious })
}

func (r *EventRepository) ByUserAndBiometry(ctx context.Context, userID string, biometryUsed bool) ([]*models.SecurityEvent, error) {
	query := r.client.Query(ctx, r.client.Prepared.EventsByUser, r.buckets.GetEventBucket(userID), userID)
	return r.collect(query, 0, func(e *models.SecurityEvent) bool { return e.BiometryUsed == biometryUsed })
}

func (r *EventRepository) LastN(ctx context.Context, userID, eventType string, n int) ([]*models.SecurityEvent, error) {
	if n <= 0 {
		return []*models.SecurityEvent{}, nil
	}
	query := r.client.Query(ctx, r.client.Prepared.EventsNewestFirst, r.buckets.GetEventBucket(userID), userID)
	return r.collect(query, n, func(e *models.SecurityEvent) bool { return e.EventType == eventType })
}

// collect scans rows in clustering order, keeping those accepted by keep.
// A positive limit stops the scan once that many rows were kept.
func (r *EventRepository) collect(query *gocql.Query, limit int, keep func(*models.SecurityEvent) bool) ([]*models.SecurityEvent, error) {
	iter := query.Iter()
	scanner := iter.Scanner()

	events := []*models.SecurityEvent{}
	for scanner.Next() {
		e := &models.SecurityEvent{}
		if err := scanner.Scan(
			&e.ID, &e.UserID, &e.EventType, &e.IPAddress, &e.DeviceInfo,
			&e.CreatedAt, &e.Metadata, &e.BiometryUsed, &e.IsSuspicious,
		); err != nil {
			_ = iter.Close()
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		if !keep(e) {
			continue
		}
		if e.Metadata == nil {
			e.Metadata = map[string]string{}
		}
		events = append(events, e)
		if limit > 0 && len(events) == limit {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		util.Error("Failed to read security events", zap.Error(err))
		return nil, fmt.Errorf("failed to read security events: %w", err)
	}
	return events, nil
}
