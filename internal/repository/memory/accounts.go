package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"auth-security/internal/models"
	"auth-security/internal/repository"
)

// Accounts is an in-memory account store keyed by user id
type Accounts struct {
	mu         sync.Mutex
	byID       map[string]*models.Account
	byUsername map[string]string
}

var _ repository.Accounts = (*Accounts)(nil)

func NewAccounts() *Accounts {
	return &Accounts{
		byID:       make(map[string]*models.Account),
		byUsername: make(map[string]string),
	}
}

func (a *Accounts) CreateAccount(ctx context.Context, account *models.Account) error {
	if account == nil || account.UserID == "" {
		return fmt.Errorf("failed to create account: missing user id")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.byID[account.UserID]; exists {
		return fmt.Errorf("failed to create account: %s already exists", account.UserID)
	}
	cp := *account
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	a.byID[cp.UserID] = &cp
	if cp.Username != "" {
		a.byUsername[cp.Username] = cp.UserID
	}
	return nil
}

func (a *Accounts) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id, ok := a.byUsername[username]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	cp := *a.byID[id]
	return &cp, nil
}

func (a *Accounts) GetLocked(ctx context.Context, userID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, ok := a.byID[userID]
	if !ok {
		return false, repository.ErrAccountNotFound
	}
	return acc.Locked, nil
}

func (a *Accounts) SetLocked(ctx context.Context, userID string, locked bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, ok := a.byID[userID]
	if !ok {
		return repository.ErrAccountNotFound
	}
	acc.Locked = locked
	acc.UpdatedAt = time.Now().UTC()
	return nil
}

func (a *Accounts) LockIfUnlocked(ctx context.Context, userID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, ok := a.byID[userID]
	if !ok {
		return false, repository.ErrAccountNotFound
	}
	if acc.Locked {
		return false, nil
	}
	acc.Locked = true
	acc.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (a *Accounts) HealthCheck(ctx context.Context) error {
	return nil
}
