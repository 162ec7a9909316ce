package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"auth-security/internal/models"
	"auth-security/internal/repository"
)

type storedEvent struct {
	seq   uint64
	event *models.SecurityEvent
}

// EventHistory keeps the append-only event log in process memory.
// Reads take a shared lock and never block one another.
type EventHistory struct {
	mu     sync.RWMutex
	seq    uint64
	byUser map[string][]storedEvent
}

var _ repository.EventHistory = (*EventHistory)(nil)

func NewEventHistory() *EventHistory {
	return &EventHistory{byUser: make(map[string][]storedEvent)}
}

func (h *EventHistory) Append(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrPersistence, err)
	}
	if event == nil || event.UserID == "" {
		return nil, fmt.Errorf("%w: event has no user id", repository.ErrPersistence)
	}

	stored := event.Clone()
	stored.ID = uuid.New().String()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	h.mu.Lock()
	h.seq++
	entry := storedEvent{seq: h.seq, event: stored}
	events := h.byUser[stored.UserID]
	// keep each user's slice sorted by (createdAt, seq); appends are almost always at the tail
	i := sort.Search(len(events), func(i int) bool {
		return events[i].event.CreatedAt.After(stored.CreatedAt)
	})
	events = append(events, storedEvent{})
	copy(events[i+1:], events[i:])
	events[i] = entry
	h.byUser[stored.UserID] = events
	h.mu.Unlock()

	return stored.Clone(), nil
}

func (h *EventHistory) ByUser(ctx context.Context, userID string) ([]*models.SecurityEvent, error) {
	return h.filter(userID, func(*models.SecurityEvent) bool { return true }), nil
}

func (h *EventHistory) ByUserAndTypeSince(ctx context.Context, userID, eventType string, since time.Time) ([]*models.SecurityEvent, error) {
	return h.filter(userID, func(e *models.SecurityEvent) bool {
		return e.EventType == eventType && e.CreatedAt.After(since)
	}), nil
}

func (h *EventHistory) ByUserAndSuspiciousSince(ctx context.Context, userID string, suspicious bool, since time.Time) ([]*models.SecurityEvent, error) {
	return h.filter(userID, func(e *models.SecurityEvent) bool {
		return e.IsSuspicious == suspicious && e.CreatedAt.After(since)
	}), nil
}

func (h *EventHistory) ByUserAndBiometry(ctx context.Context, userID string, biometryUsed bool) ([]*models.SecurityEvent, error) {
	return h.filter(userID, func(e *models.SecurityEvent) bool {
		return e.BiometryUsed == biometryUsed
	}), nil
}

func (h *EventHistory) LastN(ctx context.Context, userID, eventType string, n int) ([]*models.SecurityEvent, error) {
	if n <= 0 {
		return nil, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	events := h.byUser[userID]
	out := make([]*models.SecurityEvent, 0, n)
	for i := len(events) - 1; i >= 0 && len(out) < n; i-- {
		if events[i].event.EventType == eventType {
			out = append(out, events[i].event.Clone())
		}
	}
	return out, nil
}

// Len returns the number of stored events across all users
func (h *EventHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, events := range h.byUser {
		total += len(events)
	}
	return total
}

func (h *EventHistory) filter(userID string, keep func(*models.SecurityEvent) bool) []*models.SecurityEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	events := h.byUser[userID]
	out := make([]*models.SecurityEvent, 0, len(events))
	for _, entry := range events {
		if keep(entry.event) {
			out = append(out, entry.event.Clone())
		}
	}
	return out
}
