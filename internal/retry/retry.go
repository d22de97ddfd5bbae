// Package retry implements the engine's bounded-retry primitives: persisted
// per-phase retry counters and a cancellation-aware exponential backoff
// helper for network-visible Worktree Manager operations.
package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/renameio/v2"
)

// RetryState tracks retry attempts for one (spec, phase) pair, persisted as
// JSON under the spec's state directory.
type RetryState struct {
	SpecName    string    `json:"spec_name"`
	Phase       string    `json:"phase"`
	Count       int       `json:"count"`
	MaxRetries  int       `json:"max_retries"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
}

// CanRetry reports whether another attempt is permitted.
func (s *RetryState) CanRetry() bool {
	return s.Count < s.MaxRetries
}

// Increment records one more attempt, returning RetryExhaustedError if the
// state was already at its limit.
func (s *RetryState) Increment() error {
	if !s.CanRetry() {
		return &RetryExhaustedError{SpecName: s.SpecName, Phase: s.Phase, Count: s.Count, MaxRetries: s.MaxRetries}
	}
	s.Count++
	s.LastAttempt = time.Now()
	return nil
}

// Reset clears the attempt counter, keeping identity and MaxRetries.
func (s *RetryState) Reset() {
	s.Count = 0
	s.LastAttempt = time.Time{}
}

// RetryExhaustedError reports that a (spec, phase) pair has used all its
// retry attempts; it is always a structured value, never a bare panic.
type RetryExhaustedError struct {
	SpecName   string
	Phase      string
	Count      int
	MaxRetries int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted for spec %s phase %s: %d/%d attempts used", e.SpecName, e.Phase, e.Count, e.MaxRetries)
}

func statePath(stateDir, specName, phase string) string {
	fname := fmt.Sprintf("%s.%s.retry.json", specName, phase)
	return filepath.Join(stateDir, fname)
}

// LoadRetryState reads the persisted retry state for (specName, phase), or
// returns a fresh zero-count state if none exists yet. maxRetries always
// overrides whatever was persisted, so a config change takes effect
// immediately.
func LoadRetryState(stateDir, specName, phase string, maxRetries int) (*RetryState, error) {
	path := statePath(stateDir, specName, phase)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RetryState{SpecName: specName, Phase: phase, MaxRetries: maxRetries}, nil
		}
		return nil, fmt.Errorf("reading retry state: %w", err)
	}

	var state RetryState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing retry state: %w", err)
	}
	if state.SpecName != specName || state.Phase != phase {
		return &RetryState{SpecName: specName, Phase: phase, MaxRetries: maxRetries}, nil
	}
	state.MaxRetries = maxRetries
	return &state, nil
}

// SaveRetryState persists state atomically (write-then-rename).
func SaveRetryState(stateDir string, state *RetryState) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling retry state: %w", err)
	}
	path := statePath(stateDir, state.SpecName, state.Phase)
	return renameio.WriteFile(path, data, 0o644)
}

// IncrementRetryCount loads, increments, and saves the retry state for
// (specName, phase) in one step.
func IncrementRetryCount(stateDir, specName, phase string, maxRetries int) (*RetryState, error) {
	state, err := LoadRetryState(stateDir, specName, phase, maxRetries)
	if err != nil {
		return nil, err
	}
	incErr := state.Increment()
	if saveErr := SaveRetryState(stateDir, state); saveErr != nil {
		return state, saveErr
	}
	return state, incErr
}

// ResetRetryCount clears the persisted retry state for (specName, phase).
func ResetRetryCount(stateDir, specName, phase string, maxRetries int) error {
	state := &RetryState{SpecName: specName, Phase: phase, MaxRetries: maxRetries}
	return SaveRetryState(stateDir, state)
}

// transientPatterns matches diagnostics the Worktree Manager treats as
// transient; anything else fails immediately.
var transientPatterns = regexp.MustCompile(`(?i)(connection|network|timeout|reset|refused)`)
var http5xxPattern = regexp.MustCompile(`\b5\d\d\b`)

// IsTransient classifies an error's diagnostic text as transient or permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return transientPatterns.MatchString(msg) || http5xxPattern.MatchString(msg)
}

// Policy configures the bounded exponential backoff helper.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // delay before attempt 2 is 2^(1-1)*BaseDelay
}

// DefaultPolicy: up to 3 attempts, 2^(attempt-1) seconds between them.
var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: time.Second}

// Do runs fn with bounded exponential backoff on transient errors. A
// non-transient error returns immediately. Backoff sleeps are
// cancellation-aware: ctx cancellation interrupts a sleep and returns
// ctx.Err() rather than blocking to completion.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return err
		}
		if attempt == policy.MaxAttempts {
			break
		}
		delay := time.Duration(math.Pow(2, float64(attempt-1))) * policy.BaseDelay
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("all %d attempts failed, last error: %w", policy.MaxAttempts, lastErr)
}
