package lockout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"auth-security/internal/models"
	"auth-security/internal/normalizer"
	"auth-security/internal/repository/memory"
)

type historyRecorder struct {
	history *memory.EventHistory
	norm    *normalizer.Normalizer
}

func (r *historyRecorder) RecordLoginAttempt(ctx context.Context, draft models.DraftEvent) (*models.SecurityEvent, error) {
	return r.history.Append(ctx, r.norm.Normalize(draft))
}

type fixture struct {
	accounts *memory.Accounts
	history  *memory.EventHistory
	policy   *Policy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	accounts := memory.NewAccounts()
	require.NoError(t, accounts.CreateAccount(context.Background(), &models.Account{UserID: "U2", Username: "u2"}))
	history := memory.NewEventHistory()
	recorder := &historyRecorder{history: history, norm: normalizer.New()}

	return &fixture{
		accounts: accounts,
		history:  history,
		policy:   NewPolicy(accounts, history, recorder, NewLocalLocker(), Config{ConsecutiveFailures: 3}, zap.NewNop()),
	}
}

func verifyResult(ok bool, calls *int32) VerifyFunc {
	return func(context.Context) (bool, error) {
		atomic.AddInt32(calls, 1)
		return ok, nil
	}
}

func ip(s string) *string { return &s }

func (f *fixture) attempts(t *testing.T) []*models.SecurityEvent {
	t.Helper()
	events, err := f.history.LastN(context.Background(), "U2", models.EventTypeLoginAttempt, 100)
	require.NoError(t, err)
	return events
}

func TestAttempt_SuccessIsRecordedNotSuspicious(t *testing.T) {
	f := newFixture(t)
	var calls int32

	err := f.policy.Attempt(context.Background(), Attempt{UserID: "U2", IPAddress: ip("8.8.4.4")}, verifyResult(true, &calls))
	require.NoError(t, err)

	events := f.attempts(t)
	require.Len(t, events, 1)
	assert.False(t, events[0].IsSuspicious)
	assert.Equal(t, "8.8**.***.4", events[0].IPAddress)
	assert.EqualValues(t, 1, calls)
}

func TestAttempt_ThirdFailureLocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var calls int32

	assert.ErrorIs(t, f.policy.Attempt(ctx, Attempt{UserID: "U2"}, verifyResult(false, &calls)), ErrAuthFailed)
	assert.ErrorIs(t, f.policy.Attempt(ctx, Attempt{UserID: "U2"}, verifyResult(false, &calls)), ErrAuthFailed)

	locked, _ := f.accounts.GetLocked(ctx, "U2")
	require.False(t, locked)

	assert.ErrorIs(t, f.policy.Attempt(ctx, Attempt{UserID: "U2"}, verifyResult(false, &calls)), ErrLockedAccount)

	locked, _ = f.accounts.GetLocked(ctx, "U2")
	assert.True(t, locked)
	assert.EqualValues(t, 3, calls)
}

func TestAttempt_SuccessBreaksTheRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var calls int32

	require.ErrorIs(t, f.policy.Attempt(ctx, Attempt{UserID: "U2"}, verifyResult(false, &calls)), ErrAuthFailed)
	require.ErrorIs(t, f.policy.Attempt(ctx, Attempt{UserID: "U2"}, verifyResult(false, &calls)), ErrAuthFailed)
	require.NoError(t, f.policy.Attempt(ctx, Attempt{UserID: "U2"}, verifyResult(true, &calls)))
	require.ErrorIs(t, f.policy.Attempt(ctx, Attempt{UserID: "U2"}, verifyResult(false, &calls)), ErrAuthFailed)
	require.ErrorIs(t, f.policy.Attempt(ctx, Attempt{UserID: "U2"}, verifyResult(false, &calls)), ErrAuthFailed)

	locked, _ := f.accounts.GetLocked(ctx, "U2")
	assert.False(t, locked)
}

// Scenario B: three prior failures, the fourth request never reaches verification
func TestAttempt_PriorFailureRunLocksBeforeVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		_, err := f.history.Append(ctx, &models.SecurityEvent{
			UserID:       "U2",
			EventType:    models.EventTypeLoginAttempt,
			IPAddress:    models.UnknownIP,
			CreatedAt:    base.Add(time.Duration(i) * time.Second),
			Metadata:     map[string]string{},
			IsSuspicious: true,
		})
		require.NoError(t, err)
	}
	var calls int32

	err := f.policy.Attempt(ctx, Attempt{UserID: "U2"}, verifyResult(true, &calls))
	require.ErrorIs(t, err, ErrLockedAccount)

	assert.Zero(t, calls)
	locked, _ := f.accounts.GetLocked(ctx, "U2")
	assert.True(t, locked)

	events := f.attempts(t)
	require.Len(t, events, 4)
	assert.True(t, events[0].IsSuspicious)
}

func TestAttempt_LockedAccountSkipsVerificationButRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.accounts.SetLocked(ctx, "U2", true))
	var calls int32

	err := f.policy.Attempt(ctx, Attempt{UserID: "U2"}, verifyResult(true, &calls))
	require.ErrorIs(t, err, ErrLockedAccount)
	assert.Zero(t, calls)

	events := f.attempts(t)
	require.Len(t, events, 1)
	assert.True(t, events[0].IsSuspicious)
}

func TestAttempt_VerifyErrorIsNotRecorded(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("hash corrupted")

	err := f.policy.Attempt(context.Background(), Attempt{UserID: "U2"}, func(context.Context) (bool, error) {
		return false, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, f.attempts(t))
}

func TestAttempt_ConcurrentFailuresLockExactlyAtThird(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var authFailed, lockedOut int32
	var calls int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := f.policy.Attempt(ctx, Attempt{UserID: "U2"}, verifyResult(false, &calls)); {
			case errors.Is(err, ErrAuthFailed):
				atomic.AddInt32(&authFailed, 1)
			case errors.Is(err, ErrLockedAccount):
				atomic.AddInt32(&lockedOut, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 2, authFailed)
	assert.EqualValues(t, 8, lockedOut)
	assert.EqualValues(t, 3, calls)
	assert.Len(t, f.attempts(t), 10)
}

func TestLocalLocker_ReleasesEntries(t *testing.T) {
	l := NewLocalLocker()

	unlock, err := l.Lock(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, l.size())

	unlock()
	unlock()
	assert.Zero(t, l.size())
}

func TestLocalLocker_WaitHonoursContext(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "u1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, "u1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.size())

	other, err := l.Lock(context.Background(), "u2")
	require.NoError(t, err)
	other()
}
