package detection

import (
	"strings"
	"time"

	"auth-security/internal/config"
)

// Config holds the classifier thresholds. It is a value type: a Classifier
// keeps its own copy, so changing the caller's Config afterwards has no effect.
type Config struct {
	BlacklistedCountries []string

	FailedAttemptWindow    time.Duration
	FailedAttemptThreshold int

	PasswordChangeWindow    time.Duration
	PasswordChangeThreshold int
}

// DefaultConfig mirrors the production defaults
func DefaultConfig() Config {
	return Config{
		BlacklistedCountries:    []string{"USA", "UKR", "POL"},
		FailedAttemptWindow:     5 * time.Minute,
		FailedAttemptThreshold:  3,
		PasswordChangeWindow:    24 * time.Hour,
		PasswordChangeThreshold: 2,
	}
}

// FromAppConfig converts the env-driven detection group
func FromAppConfig(cfg config.DetectionConfig) Config {
	return Config{
		BlacklistedCountries:    cfg.BlacklistedCountries,
		FailedAttemptWindow:     cfg.FailedAttemptWindow,
		FailedAttemptThreshold:  cfg.FailedAttemptThreshold,
		PasswordChangeWindow:    cfg.PasswordChangeWindow,
		PasswordChangeThreshold: cfg.PasswordChangeThreshold,
	}
}

func (c Config) clone() Config {
	cp := c
	cp.BlacklistedCountries = make([]string, 0, len(c.BlacklistedCountries))
	for _, country := range c.BlacklistedCountries {
		if country = strings.TrimSpace(country); country != "" {
			cp.BlacklistedCountries = append(cp.BlacklistedCountries, strings.ToUpper(country))
		}
	}
	return cp
}

func (c Config) isBlacklisted(country string) bool {
	for _, blocked := range c.BlacklistedCountries {
		if strings.EqualFold(blocked, country) {
			return true
		}
	}
	return false
}
