package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"auth-security/internal/models"
	"auth-security/internal/repository"
	"auth-security/internal/util"
)

type AccountRepository struct {
	client *ScyllaClient
}

var _ repository.Accounts = (*AccountRepository)(nil)

func NewAccountRepository(client *ScyllaClient) *AccountRepository {
	return &AccountRepository{client: client}
}

func (r *AccountRepository) CreateAccount(ctx context.Context, account *models.Account) error {
	if account.UserID == "" {
		account.UserID = uuid.New().String()
	}

	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	// Account row and username index are written together
	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(r.client.Prepared.CreateAccount,
		account.UserID, account.Username, account.PasswordHash, account.Locked,
		account.CreatedAt, account.UpdatedAt)
	if account.Username != "" {
		batch.Query(r.client.Prepared.CreateUsernameIndex, account.Username, account.UserID)
	}

	if err := r.client.Session.ExecuteBatch(batch); err != nil {
		util.Error("Failed to create account",
			zap.String("user_id", account.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create account: %w", err)
	}

	util.Info("Account created", zap.String("user_id", account.UserID))
	return nil
}

func (r *AccountRepository) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	var userID string
	err := r.client.ScanWithRetry(r.client.Query(ctx, r.client.Prepared.GetUserIDByUsername, username), &userID)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, repository.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to look up username: %w", err)
	}

	account := &models.Account{}
	err = r.client.ScanWithRetry(r.client.Query(ctx, r.client.Prepared.GetAccountByID, userID),
		&account.UserID, &account.Username, &account.PasswordHash, &account.Locked,
		&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, repository.ErrAccountNotFound
		}
		util.Error("Failed to get account", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

func (r *AccountRepository) GetLocked(ctx context.Context, userID string) (bool, error) {
	var locked bool
	err := r.client.ScanWithRetry(r.client.Query(ctx, r.client.Prepared.GetAccountLock, userID), &locked)
	if err != nil {
		if err == gocql.ErrNotFound {
			return false, repository.ErrAccountNotFound
		}
		return false, fmt.Errorf("failed to read account lock: %w", err)
	}
	return locked, nil
}

func (r *AccountRepository) SetLocked(ctx context.Context, userID string, locked bool) error {
	if _, err := r.GetLocked(ctx, userID); err != nil {
		return err
	}
	if err := r.client.Query(ctx, r.client.Prepared.SetAccountLock, locked, time.Now().UTC(), userID).Exec(); err != nil {
		return fmt.Errorf("failed to update account lock: %w", err)
	}
	util.Info("Account lock updated", zap.String("user_id", userID), zap.Bool("locked", locked))
	return nil
}

// LockIfUnlocked uses a lightweight transaction so concurrent instances
// agree on which one performed the lock.
func (r *AccountRepository) LockIfUnlocked(ctx context.Context, userID string) (bool, error) {
	previous := map[string]interface{}{}
	applied, err := r.client.Query(ctx, r.client.Prepared.LockIfUnlocked, time.Now().UTC(), userID).
		MapScanCAS(previous)
	if err != nil {
		return false, fmt.Errorf("failed to lock account: %w", err)
	}
	if applied {
		util.Info("Account locked", zap.String("user_id", userID))
	}
	return applied, nil
}

func (r *AccountRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}
