// Package detection decides whether a normalized security event is suspicious
// relative to the user's history.
package detection

import (
	"context"
	"fmt"
	"time"

	"auth-security/internal/models"
	"auth-security/internal/repository"
)

// Verdict is the outcome of one classification. Signal names the first
// signal that fired and is empty when nothing did or the verdict was supplied.
type Verdict struct {
	Suspicious bool
	Signal     string
	Supplied   bool
}

// Classifier evaluates signals in order and stops at the first one that fires
type Classifier struct {
	cfg     Config
	history repository.EventHistory
	signals []Signal
	now     func() time.Time
}

type Option func(*Classifier)

// WithSignals replaces the default signal list
func WithSignals(signals ...Signal) Option {
	return func(c *Classifier) {
		c.signals = signals
	}
}

// WithClock overrides the time source for the windowed signals
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		c.now = now
	}
}

func NewClassifier(cfg Config, history repository.EventHistory, opts ...Option) *Classifier {
	c := &Classifier{
		cfg:     cfg.clone(),
		history: history,
		signals: DefaultSignals(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify must be called before the event is appended, so that the novelty
// signals compare against prior events only.
// LOGIN_ATTEMPT events keep the verdict they carry and no signal is evaluated.
func (c *Classifier) Classify(ctx context.Context, event *models.SecurityEvent) (Verdict, error) {
	if event.IsLoginAttempt() {
		return Verdict{Suspicious: event.IsSuspicious, Supplied: true}, nil
	}

	view := newHistoryView(c.history, event.UserID, c.now().UTC(), c.cfg)
	for _, signal := range c.signals {
		fired, err := signal.Check(ctx, event, view)
		if err != nil {
			return Verdict{}, fmt.Errorf("signal %s: %w", signal.Name, err)
		}
		if fired {
			return Verdict{Suspicious: true, Signal: signal.Name}, nil
		}
	}
	return Verdict{}, nil
}

// Explain evaluates every signal without short-circuiting and returns the
// names of those that fired, in evaluation order.
func (c *Classifier) Explain(ctx context.Context, event *models.SecurityEvent) ([]string, error) {
	if event.IsLoginAttempt() {
		return nil, nil
	}

	view := newHistoryView(c.history, event.UserID, c.now().UTC(), c.cfg)
	var fired []string
	for _, signal := range c.signals {
		ok, err := signal.Check(ctx, event, view)
		if err != nil {
			return nil, fmt.Errorf("signal %s: %w", signal.Name, err)
		}
		if ok {
			fired = append(fired, signal.Name)
		}
	}
	return fired, nil
}
