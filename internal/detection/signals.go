package detection

import (
	"context"
	"fmt"
	"time"

	"auth-security/internal/models"
	"auth-security/internal/repository"
)

// Signal names, also used as the metrics label
const (
	SignalBiometryAbsent     = "biometry_absent_login"
	SignalNewIP              = "new_ip"
	SignalNewGeolocation     = "new_geolocation"
	SignalNewDevice          = "new_device"
	SignalNewPlatformBrowser = "new_platform_browser"
	SignalFailedAttempts     = "too_many_failed_attempts"
	SignalPasswordChanges    = "too_many_password_changes"
	SignalBiometryRegression = "biometry_regression"
	SignalBlacklistedCountry = "blacklisted_country"
	SignalUserAgentMismatch  = "user_agent_mismatch"
)

// CheckFunc reports whether a signal fires for the event
type CheckFunc func(ctx context.Context, event *models.SecurityEvent, view *HistoryView) (bool, error)

// Signal is one independent predicate of the suspicion verdict
type Signal struct {
	Name  string
	Check CheckFunc
}

// HistoryView gives signals read access to a user's prior events. The full
// per-user history is loaded at most once per classification.
type HistoryView struct {
	store  repository.EventHistory
	userID string
	now    time.Time
	cfg    Config

	loaded bool
	events []*models.SecurityEvent
}

func newHistoryView(store repository.EventHistory, userID string, now time.Time, cfg Config) *HistoryView {
	return &HistoryView{store: store, userID: userID, now: now, cfg: cfg}
}

// All returns every prior event of the user in history order
func (v *HistoryView) All(ctx context.Context) ([]*models.SecurityEvent, error) {
	if v.loaded {
		return v.events, nil
	}
	events, err := v.store.ByUser(ctx, v.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", v.userID, err)
	}
	v.events = events
	v.loaded = true
	return events, nil
}

// Now is the instant the classification started at
func (v *HistoryView) Now() time.Time { return v.now }

func (v *HistoryView) any(ctx context.Context, match func(*models.SecurityEvent) bool) (bool, error) {
	events, err := v.All(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range events {
		if match(e) {
			return true, nil
		}
	}
	return false, nil
}

// DefaultSignals returns the signal list in evaluation order. Cheap checks that
// need no history come first.
func DefaultSignals() []Signal {
	return []Signal{
		{Name: SignalBiometryAbsent, Check: biometryAbsentLogin},
		{Name: SignalBlacklistedCountry, Check: blacklistedCountry},
		{Name: SignalNewIP, Check: newIP},
		{Name: SignalNewGeolocation, Check: newGeolocation},
		{Name: SignalNewDevice, Check: newDevice},
		{Name: SignalNewPlatformBrowser, Check: newPlatformBrowser},
		{Name: SignalUserAgentMismatch, Check: userAgentMismatch},
		{Name: SignalFailedAttempts, Check: tooManyFailedAttempts},
		{Name: SignalPasswordChanges, Check: tooManyPasswordChanges},
		{Name: SignalBiometryRegression, Check: biometryRegression},
	}
}

func biometryAbsentLogin(_ context.Context, event *models.SecurityEvent, _ *HistoryView) (bool, error) {
	return event.EventType == models.EventTypeLogin && !event.BiometryUsed, nil
}

func blacklistedCountry(_ context.Context, event *models.SecurityEvent, view *HistoryView) (bool, error) {
	return view.cfg.isBlacklisted(event.Country()), nil
}

func newIP(ctx context.Context, event *models.SecurityEvent, view *HistoryView) (bool, error) {
	seen, err := view.any(ctx, func(e *models.SecurityEvent) bool {
		return e.IPAddress == event.IPAddress
	})
	return !seen, err
}

func newGeolocation(ctx context.Context, event *models.SecurityEvent, view *HistoryView) (bool, error) {
	country, city := event.Country(), event.City()
	seen, err := view.any(ctx, func(e *models.SecurityEvent) bool {
		return e.Country() == country && e.City() == city
	})
	return !seen, err
}

// An event without device info never counts as a new device.
func newDevice(ctx context.Context, event *models.SecurityEvent, view *HistoryView) (bool, error) {
	if event.DeviceInfo == "" {
		return false, nil
	}
	seen, err := view.any(ctx, func(e *models.SecurityEvent) bool {
		return e.DeviceInfo == event.DeviceInfo
	})
	return !seen, err
}

func newPlatformBrowser(ctx context.Context, event *models.SecurityEvent, view *HistoryView) (bool, error) {
	platform := event.Metadata[models.MetaPlatform]
	browser := event.Metadata[models.MetaBrowser]
	if platform == "" && browser == "" {
		return false, nil
	}
	seen, err := view.any(ctx, func(e *models.SecurityEvent) bool {
		return e.Metadata[models.MetaPlatform] == platform && e.Metadata[models.MetaBrowser] == browser
	})
	return !seen, err
}

// userAgentMismatch compares against the distinct non-empty agents in history;
// an absent current agent is never among them.
func userAgentMismatch(ctx context.Context, event *models.SecurityEvent, view *HistoryView) (bool, error) {
	events, err := view.All(ctx)
	if err != nil {
		return false, err
	}
	distinct := make(map[string]struct{})
	for _, e := range events {
		if e.DeviceInfo != "" {
			distinct[e.DeviceInfo] = struct{}{}
		}
	}
	if len(distinct) <= 1 {
		return false, nil
	}
	_, known := distinct[event.DeviceInfo]
	return !known, nil
}

func tooManyFailedAttempts(ctx context.Context, event *models.SecurityEvent, view *HistoryView) (bool, error) {
	since := view.now.Add(-view.cfg.FailedAttemptWindow)
	flagged, err := view.store.ByUserAndSuspiciousSince(ctx, event.UserID, true, since)
	if err != nil {
		return false, fmt.Errorf("failed to count failed attempts: %w", err)
	}
	count := 0
	for _, e := range flagged {
		if e.IsLoginAttempt() {
			count++
		}
	}
	return count > view.cfg.FailedAttemptThreshold, nil
}

func tooManyPasswordChanges(ctx context.Context, event *models.SecurityEvent, view *HistoryView) (bool, error) {
	since := view.now.Add(-view.cfg.PasswordChangeWindow)
	changes, err := view.store.ByUserAndTypeSince(ctx, event.UserID, models.EventTypePasswordChange, since)
	if err != nil {
		return false, fmt.Errorf("failed to count password changes: %w", err)
	}
	return len(changes) > view.cfg.PasswordChangeThreshold, nil
}

func biometryRegression(ctx context.Context, event *models.SecurityEvent, view *HistoryView) (bool, error) {
	if event.EventType != models.EventTypeLogin || event.BiometryUsed {
		return false, nil
	}
	withBiometry, err := view.store.ByUserAndBiometry(ctx, event.UserID, true)
	if err != nil {
		return false, fmt.Errorf("failed to load biometric history: %w", err)
	}
	return len(withBiometry) > 0, nil
}
