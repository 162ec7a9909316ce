package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"auth-security/internal/audit"
	"auth-security/internal/config"
	"auth-security/internal/detection"
	"auth-security/internal/hashing"
	"auth-security/internal/lockout"
	"auth-security/internal/models"
	"auth-security/internal/normalizer"
	"auth-security/internal/repository"
	"auth-security/internal/repository/memory"
)

type capturingExporter struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
}

func (c *capturingExporter) Export(event *models.SecurityEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return true
}

func (c *capturingExporter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func newEventService(history repository.EventHistory, exporter AuditExporter) *SecurityEventService {
	return NewSecurityEventService(
		history,
		normalizer.New(),
		detection.NewClassifier(detection.DefaultConfig(), history),
		exporter,
		zap.NewNop(),
	)
}

func str(s string) *string { return &s }
func boolean(b bool) *bool { return &b }

func loginDraft(userID, ip string) models.DraftEvent {
	return models.DraftEvent{
		UserID:       userID,
		EventType:    models.EventTypeLogin,
		IPAddress:    str(ip),
		DeviceInfo:   str("Mozilla/5.0 (Windows NT 10.0) Chrome/120.0"),
		BiometryUsed: boolean(true),
	}
}

func TestIngest_NewIPOnEmptyHistory(t *testing.T) {
	exporter := &capturingExporter{}
	svc := newEventService(memory.NewEventHistory(), exporter)

	stored, err := svc.Ingest(context.Background(), loginDraft("U1", "1.2.3.4"))
	require.NoError(t, err)

	assert.NotEmpty(t, stored.ID)
	assert.True(t, stored.IsSuspicious)
	assert.Equal(t, "1.2**.***.4", stored.IPAddress)
	assert.Equal(t, models.UnknownCountry, stored.Country())
	assert.Equal(t, models.UnknownCity, stored.City())
	require.Equal(t, 1, exporter.count())
	assert.Equal(t, stored.ID, exporter.events[0].ID)
}

func TestIngest_RepeatedFamiliarEventIsNotExported(t *testing.T) {
	exporter := &capturingExporter{}
	svc := newEventService(memory.NewEventHistory(), exporter)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, loginDraft("U1", "1.2.3.4"))
	require.NoError(t, err)

	second, err := svc.Ingest(ctx, loginDraft("U1", "1.2.3.4"))
	require.NoError(t, err)

	assert.False(t, second.IsSuspicious)
	assert.Equal(t, 1, exporter.count())
}

func TestIngest_LoginWithoutBiometry(t *testing.T) {
	svc := newEventService(memory.NewEventHistory(), nil)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, loginDraft("U1", "1.2.3.4"))
	require.NoError(t, err)

	draft := loginDraft("U1", "1.2.3.4")
	draft.BiometryUsed = nil
	stored, err := svc.Ingest(ctx, draft)
	require.NoError(t, err)
	assert.False(t, stored.BiometryUsed)
	assert.True(t, stored.IsSuspicious)
}

func TestIngest_Validation(t *testing.T) {
	svc := newEventService(memory.NewEventHistory(), nil)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, models.DraftEvent{EventType: models.EventTypeLogin})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Ingest(ctx, models.DraftEvent{UserID: "U1", EventType: "<script>"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Ingest(ctx, models.DraftEvent{UserID: "U1", EventType: models.EventTypeLoginAttempt})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestIngest_FreeFormEventTypeKeptVerbatim(t *testing.T) {
	svc := newEventService(memory.NewEventHistory(), nil)
	ctx := context.Background()

	stored, err := svc.Ingest(ctx, models.DraftEvent{UserID: "U1", EventType: " DESCRIPTION_CHANGE "})
	require.NoError(t, err)
	assert.Equal(t, "DESCRIPTION_CHANGE", stored.EventType)

	lower, err := svc.Ingest(ctx, models.DraftEvent{UserID: "U1", EventType: "login", BiometryUsed: boolean(true)})
	require.NoError(t, err)
	assert.Equal(t, "login", lower.EventType)
}

func TestIngest_DebugLogListsFiredSignals(t *testing.T) {
	history := memory.NewEventHistory()
	core, logs := observer.New(zapcore.DebugLevel)
	svc := NewSecurityEventService(history, normalizer.New(),
		detection.NewClassifier(detection.DefaultConfig(), history), nil, zap.New(core))

	_, err := svc.Ingest(context.Background(), models.DraftEvent{
		UserID:       "U1",
		EventType:    models.EventTypeLogin,
		IPAddress:    str("1.2.3.4"),
		BiometryUsed: boolean(false),
	})
	require.NoError(t, err)

	entries := logs.FilterMessage("Suspicious event signals").All()
	require.Len(t, entries, 1)
	signals, ok := entries[0].ContextMap()["signals"].([]interface{})
	require.True(t, ok)
	assert.Contains(t, signals, detection.SignalBiometryAbsent)
	assert.Contains(t, signals, detection.SignalNewIP)
}

func TestIngest_NoSignalLogAboveDebug(t *testing.T) {
	history := memory.NewEventHistory()
	core, logs := observer.New(zapcore.InfoLevel)
	svc := NewSecurityEventService(history, normalizer.New(),
		detection.NewClassifier(detection.DefaultConfig(), history), nil, zap.New(core))

	_, err := svc.Ingest(context.Background(), models.DraftEvent{UserID: "U1", EventType: models.EventTypeLogin})
	require.NoError(t, err)
	assert.Zero(t, logs.FilterMessage("Suspicious event signals").Len())
}

func TestRecordLoginAttempt_KeepsSuppliedVerdict(t *testing.T) {
	exporter := &capturingExporter{}
	svc := newEventService(memory.NewEventHistory(), exporter)
	ctx := context.Background()

	// a brand new address would make any other event type suspicious
	ok, err := svc.RecordLoginAttempt(ctx, models.DraftEvent{UserID: "U1", IPAddress: str("9.9.9.9"), Suspicious: boolean(false)})
	require.NoError(t, err)
	assert.Equal(t, models.EventTypeLoginAttempt, ok.EventType)
	assert.False(t, ok.IsSuspicious)

	failed, err := svc.RecordLoginAttempt(ctx, models.DraftEvent{UserID: "U1", IPAddress: str("9.9.9.9"), Suspicious: boolean(true)})
	require.NoError(t, err)
	assert.True(t, failed.IsSuspicious)
	assert.Equal(t, 1, exporter.count())
}

type failingHistory struct {
	*memory.EventHistory
}

func (f failingHistory) Append(context.Context, *models.SecurityEvent) (*models.SecurityEvent, error) {
	return nil, fmt.Errorf("%w: disk on fire", repository.ErrPersistence)
}

func TestIngest_PersistenceFailureIsNotExported(t *testing.T) {
	exporter := &capturingExporter{}
	svc := newEventService(failingHistory{memory.NewEventHistory()}, exporter)

	_, err := svc.Ingest(context.Background(), loginDraft("U1", "1.2.3.4"))
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Zero(t, exporter.count())
}

type brokenSink struct{}

func (brokenSink) Name() string { return "broken" }

func (brokenSink) Write(context.Context, audit.Record) error { return errors.New("sink down") }

func (brokenSink) Close() error { return nil }

func TestIngest_ExportFailureDoesNotFailIngest(t *testing.T) {
	exporter := audit.NewExporter(audit.DefaultHeader(), brokenSink{}, audit.DefaultExporterConfig(), zap.NewNop())
	require.NoError(t, exporter.Start())

	history := memory.NewEventHistory()
	svc := newEventService(history, exporter)

	stored, err := svc.Ingest(context.Background(), loginDraft("U1", "1.2.3.4"))
	require.NoError(t, err)
	assert.True(t, stored.IsSuspicious)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, exporter.Stop(ctx))
	assert.Equal(t, 1, history.Len())
}

func TestListing(t *testing.T) {
	svc := newEventService(memory.NewEventHistory(), nil)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, loginDraft("U1", "1.2.3.4"))
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, loginDraft("U1", "1.2.3.4"))
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, loginDraft("U9", "5.6.7.8"))
	require.NoError(t, err)

	all, err := svc.ListByUser(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, all, 2)

	again, err := svc.ListByUser(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, all, again)

	suspicious, err := svc.ListSuspiciousByUser(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, suspicious, 1)
	assert.Equal(t, first.ID, suspicious[0].ID)

	_, err = svc.ListByUser(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAccessPolicy(t *testing.T) {
	p := NewAccessPolicy(config.AuthConfig{})

	assert.NoError(t, p.Authorize(Identity{UserID: "admin", Roles: []string{"ADMIN"}}, "U1"))
	assert.NoError(t, p.Authorize(Identity{UserID: "U1", Roles: []string{"USER"}}, "U1"))
	assert.ErrorIs(t, p.Authorize(Identity{UserID: "U2", Roles: []string{"USER"}}, "U1"), ErrAccessDenied)
	assert.ErrorIs(t, p.Authorize(Identity{UserID: "U1"}, "U1"), ErrAccessDenied)
}

type authFixture struct {
	auth     *AuthService
	accounts *memory.Accounts
	history  *memory.EventHistory
	account  *models.Account
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	history := memory.NewEventHistory()
	accounts := memory.NewAccounts()
	events := newEventService(history, nil)
	policy := lockout.NewPolicy(accounts, history, events, lockout.NewLocalLocker(),
		lockout.Config{ConsecutiveFailures: 3}, zap.NewNop())
	hasher := hashing.New(hashing.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}, "")

	auth := NewAuthService(accounts, policy, hasher, zap.NewNop())
	account, err := auth.Register(context.Background(), "alice", "correct-horse")
	require.NoError(t, err)

	return &authFixture{auth: auth, accounts: accounts, history: history, account: account}
}

func (f *authFixture) login(password string) error {
	_, err := f.auth.Login(context.Background(), LoginRequest{
		Username:  "alice",
		Password:  password,
		IPAddress: str("1.2.3.4"),
	})
	return err
}

func TestLogin_Success(t *testing.T) {
	f := newAuthFixture(t)

	account, err := f.auth.Login(context.Background(), LoginRequest{Username: "alice", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, f.account.UserID, account.UserID)

	attempts, err := f.history.LastN(context.Background(), f.account.UserID, models.EventTypeLoginAttempt, 10)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].IsSuspicious)
}

func TestLogin_ThirdFailureLocksAccount(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.login("wrong-1"), ErrAuthFailed)
	assert.ErrorIs(t, f.login("wrong-2"), ErrAuthFailed)
	assert.ErrorIs(t, f.login("wrong-3"), ErrLockedAccount)

	locked, err := f.accounts.GetLocked(ctx, f.account.UserID)
	require.NoError(t, err)
	assert.True(t, locked)

	// the right password no longer helps
	assert.ErrorIs(t, f.login("correct-horse"), ErrLockedAccount)

	attempts, err := f.history.LastN(ctx, f.account.UserID, models.EventTypeLoginAttempt, 10)
	require.NoError(t, err)
	require.Len(t, attempts, 4)
	for _, a := range attempts {
		assert.True(t, a.IsSuspicious)
	}
}

func TestLogin_UnknownUsername(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.auth.Login(context.Background(), LoginRequest{Username: "mallory", Password: "whatever"})
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Zero(t, f.history.Len())
}

func TestLogin_MissingCredentials(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.auth.Login(context.Background(), LoginRequest{Username: "alice"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRegister_RejectsDuplicatesAndShortPasswords(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.auth.Register(ctx, "alice", "another-password")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.auth.Register(ctx, "bob", "short")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
