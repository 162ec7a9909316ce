// Package repository declares the storage ports used by the decision engine.
// Adapters live in the memory and scylla subpackages.
package repository

import (
	"context"
	"errors"
	"time"

	"auth-security/internal/models"
)

var (
	// ErrPersistence wraps any failure to durably append an event. An append
	// either fully succeeds or leaves the history untouched.
	ErrPersistence = errors.New("persistence failure")

	ErrAccountNotFound = errors.New("account not found")
)

// EventHistory is the append-only store of security events.
// Sequences returned by the ByUser* queries are in history order
// (createdAt ascending, ties in insertion order).
type EventHistory interface {
	// Append assigns an id and persists the event
	Append(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error)

	ByUser(ctx context.Context, userID string) ([]*models.SecurityEvent, error)
	ByUserAndTypeSince(ctx context.Context, userID, eventType string, since time.Time) ([]*models.SecurityEvent, error)
	ByUserAndSuspiciousSince(ctx context.Context, userID string, suspicious bool, since time.Time) ([]*models.SecurityEvent, error)
	ByUserAndBiometry(ctx context.Context, userID string, biometryUsed bool) ([]*models.SecurityEvent, error)

	// LastN returns at most n events of the given type, most recent first.
	// Events sharing a createdAt are returned latest-inserted first.
	LastN(ctx context.Context, userID, eventType string, n int) ([]*models.SecurityEvent, error)
}

// AccountStore exposes the lock flag of an account
type AccountStore interface {
	GetLocked(ctx context.Context, userID string) (bool, error)
	SetLocked(ctx context.Context, userID string, locked bool) error

	// LockIfUnlocked sets locked=true only if it is currently false and reports
	// whether this call performed the transition.
	LockIfUnlocked(ctx context.Context, userID string) (bool, error)
}

// AccountFinder resolves login names to accounts
type AccountFinder interface {
	FindByUsername(ctx context.Context, username string) (*models.Account, error)
}

// Accounts is the full account port implemented by the adapters
type Accounts interface {
	AccountStore
	AccountFinder
	CreateAccount(ctx context.Context, account *models.Account) error
	HealthCheck(ctx context.Context) error
}
