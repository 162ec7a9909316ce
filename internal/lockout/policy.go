// Package lockout wraps credential verification with the repeated-failure
// account lock.
package lockout

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"auth-security/internal/metrics"
	"auth-security/internal/models"
	"auth-security/internal/repository"
)

var (
	ErrLockedAccount = errors.New("account is locked")
	ErrAuthFailed    = errors.New("invalid credentials")
)

// Attempt describes one login request. Network fields are raw and get
// normalized by the Recorder.
type Attempt struct {
	UserID     string
	IPAddress  *string
	DeviceInfo *string
	Metadata   map[string]string
}

// Draft builds the LOGIN_ATTEMPT event for this attempt
func (a Attempt) Draft(failed bool) models.DraftEvent {
	return models.DraftEvent{
		UserID:     a.UserID,
		EventType:  models.EventTypeLoginAttempt,
		IPAddress:  a.IPAddress,
		DeviceInfo: a.DeviceInfo,
		Metadata:   a.Metadata,
		Suspicious: &failed,
	}
}

// Recorder appends LOGIN_ATTEMPT events carrying the supplied verdict
type Recorder interface {
	RecordLoginAttempt(ctx context.Context, draft models.DraftEvent) (*models.SecurityEvent, error)
}

// VerifyFunc checks credentials and reports whether they matched
type VerifyFunc func(ctx context.Context) (bool, error)

type Config struct {
	// ConsecutiveFailures is the length of the all-failed run that locks the account
	ConsecutiveFailures int
}

type Policy struct {
	accounts repository.AccountStore
	history  repository.EventHistory
	recorder Recorder
	locker   Locker
	cfg      Config
	logger   *zap.Logger
}

func NewPolicy(
	accounts repository.AccountStore,
	history repository.EventHistory,
	recorder Recorder,
	locker Locker,
	cfg Config,
	logger *zap.Logger,
) *Policy {
	if cfg.ConsecutiveFailures <= 0 {
		cfg.ConsecutiveFailures = 3
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Policy{
		accounts: accounts,
		history:  history,
		recorder: recorder,
		locker:   locker,
		cfg:      cfg,
		logger:   logger,
	}
}

// Attempt runs one login attempt under the per-user lock. It returns nil on
// success, ErrLockedAccount if the account is or becomes locked, and
// ErrAuthFailed on a credential mismatch. Every attempt that reaches a
// decision is recorded as a LOGIN_ATTEMPT event.
func (p *Policy) Attempt(ctx context.Context, attempt Attempt, verify VerifyFunc) error {
	unlock, err := p.locker.Lock(ctx, attempt.UserID)
	if err != nil {
		return fmt.Errorf("failed to acquire login lock: %w", err)
	}
	defer unlock()

	locked, err := p.accounts.GetLocked(ctx, attempt.UserID)
	if err != nil {
		return fmt.Errorf("failed to read lock flag: %w", err)
	}

	if !locked {
		// a run left behind by a crash between recording and locking
		run, err := p.failureRun(ctx, attempt.UserID)
		if err != nil {
			return err
		}
		if run {
			if err := p.lock(ctx, attempt.UserID); err != nil {
				return err
			}
			locked = true
		}
	}

	if locked {
		if _, err := p.recorder.RecordLoginAttempt(ctx, attempt.Draft(true)); err != nil {
			return err
		}
		metrics.RecordLoginAttempt(metrics.OutcomeLocked)
		return ErrLockedAccount
	}

	ok, err := verify(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify credentials: %w", err)
	}

	if _, err := p.recorder.RecordLoginAttempt(ctx, attempt.Draft(!ok)); err != nil {
		return err
	}
	if ok {
		metrics.RecordLoginAttempt(metrics.OutcomeSuccess)
		return nil
	}

	run, err := p.failureRun(ctx, attempt.UserID)
	if err != nil {
		return err
	}
	if run {
		if err := p.lock(ctx, attempt.UserID); err != nil {
			return err
		}
		metrics.RecordLoginAttempt(metrics.OutcomeLocked)
		return ErrLockedAccount
	}

	metrics.RecordLoginAttempt(metrics.OutcomeFailed)
	return ErrAuthFailed
}

// failureRun reports whether the most recent N login attempts exist and all failed
func (p *Policy) failureRun(ctx context.Context, userID string) (bool, error) {
	n := p.cfg.ConsecutiveFailures
	recent, err := p.history.LastN(ctx, userID, models.EventTypeLoginAttempt, n)
	if err != nil {
		return false, fmt.Errorf("failed to read recent login attempts: %w", err)
	}
	if len(recent) < n {
		return false, nil
	}
	for _, e := range recent {
		if !e.IsSuspicious {
			return false, nil
		}
	}
	return true, nil
}

func (p *Policy) lock(ctx context.Context, userID string) error {
	changed, err := p.accounts.LockIfUnlocked(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to lock account: %w", err)
	}
	if changed {
		metrics.RecordLockout()
		p.logger.Warn("Account locked after consecutive failed login attempts",
			zap.String("user_id", userID),
			zap.Int("consecutive_failures", p.cfg.ConsecutiveFailures))
	}
	return nil
}
