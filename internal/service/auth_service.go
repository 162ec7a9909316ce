package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"auth-security/internal/lockout"
	"auth-security/internal/models"
	"auth-security/internal/repository"
)

// PasswordHasher is satisfied by hashing.Hasher
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

type AccountRepository interface {
	repository.AccountFinder
	CreateAccount(ctx context.Context, account *models.Account) error
}

type LoginRequest struct {
	Username   string
	Password   string
	IPAddress  *string
	DeviceInfo *string
	Metadata   map[string]string
}

// AuthService runs credential checks inside the lockout policy
type AuthService struct {
	accounts AccountRepository
	policy   *lockout.Policy
	hasher   PasswordHasher
	logger   *zap.Logger
}

func NewAuthService(accounts AccountRepository, policy *lockout.Policy, hasher PasswordHasher, logger *zap.Logger) *AuthService {
	return &AuthService{
		accounts: accounts,
		policy:   policy,
		hasher:   hasher,
		logger:   logger,
	}
}

// Login returns the account on success. Unknown usernames fail exactly like
// a wrong password and leave no event behind, since there is no user to
// attach it to.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*models.Account, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}

	account, err := s.accounts.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			s.logger.Info("Login for unknown username", zap.String("username", username))
			return nil, ErrAuthFailed
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	attempt := lockout.Attempt{
		UserID:     account.UserID,
		IPAddress:  req.IPAddress,
		DeviceInfo: req.DeviceInfo,
		Metadata:   req.Metadata,
	}
	err = s.policy.Attempt(ctx, attempt, func(context.Context) (bool, error) {
		return s.hasher.Verify(req.Password, account.PasswordHash)
	})
	if err != nil {
		s.logger.Info("Login rejected",
			zap.String("user_id", account.UserID),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Login succeeded", zap.String("user_id", account.UserID))
	return account, nil
}

// Register creates an unlocked account with a hashed password
func (s *AuthService) Register(ctx context.Context, username, password string) (*models.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(password) < 8 {
		return nil, fmt.Errorf("%w: username and a password of at least 8 characters are required", ErrInvalidInput)
	}

	if _, err := s.accounts.FindByUsername(ctx, username); err == nil {
		return nil, fmt.Errorf("%w: username already taken", ErrInvalidInput)
	} else if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &models.Account{
		UserID:       uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info("Account registered", zap.String("user_id", account.UserID))
	return account, nil
}
