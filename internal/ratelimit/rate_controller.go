package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/logging"
	"golang.org/x/time/rate"
)

// DefaultMinDelay is the minimum spacing between two provider calls.
const DefaultMinDelay = 200 * time.Millisecond

// ErrContextCancelled is returned when the context is cancelled while waiting for budget.
var ErrContextCancelled = errors.New("context cancelled while waiting for budget")

// ErrBudgetExhausted is returned when the window resets after the context deadline.
var ErrBudgetExhausted = errors.New("call budget exhausted until after deadline")

// Budget is the rolling call budget consulted before every provider call.
type Budget interface {
	TryConsume(ctx context.Context) (bool, time.Duration, error)
	Provider() string
}

// Throttle paces provider calls: it enforces the minimum delay between calls
// and, when the budget is exhausted, blocks until the window resets instead
// of dropping the call.
type Throttle struct {
	limiter *rate.Limiter
	budget  Budget
	sleep   func(ctx context.Context, d time.Duration) error
}

// ThrottleConfig holds configuration for a throttle.
type ThrottleConfig struct {
	// MinDelay between calls. Default: 200ms.
	MinDelay time.Duration

	// Budget is optional; nil means no rolling budget.
	Budget Budget
}

// NewThrottle creates a throttle.
func NewThrottle(cfg ThrottleConfig) *Throttle {
	minDelay := cfg.MinDelay
	if minDelay <= 0 {
		minDelay = DefaultMinDelay
	}
	return &Throttle{
		limiter: rate.NewLimiter(rate.Every(minDelay), 1),
		budget:  cfg.Budget,
		sleep:   sleepContext,
	}
}

// Wait blocks until a provider call may be made.
// A Redis failure on the budget is logged and the call proceeds.
func (t *Throttle) Wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ErrContextCancelled
		}
		return err
	}
	if t.budget == nil {
		return nil
	}

	for {
		allowed, waitTime, err := t.budget.TryConsume(ctx)
		if err != nil {
			logging.FromContext(ctx).WithError(err).
				WithField("provider", t.budget.Provider()).
				Warn("Call budget unavailable, proceeding without it")
			return nil
		}
		if allowed {
			return nil
		}

		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < waitTime {
			return ErrBudgetExhausted
		}

		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"provider": t.budget.Provider(),
			"waitTime": waitTime.String(),
		}).Warn("Hourly call budget exhausted, waiting for window reset")

		if err := t.sleep(ctx, waitTime); err != nil {
			return ErrContextCancelled
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
