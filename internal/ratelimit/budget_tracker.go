// Package ratelimit paces calls to the external market-data and fund-data
// providers: a minimum delay between calls plus a rolling call budget shared
// through Redis so the server and the resolve CLI draw from the same pool.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultHourlyBudget = 2000
	DefaultWindow       = time.Hour
	KeyPrefixBudget     = "provider:budget:"
)

// consumeScript atomically checks and increments the window counter.
// The window starts at the first call and lasts until the key expires.
// Returns {allowed, used, pttl}.
var consumeScript = redis.NewScript(`
	local key = KEYS[1]
	local budget = tonumber(ARGV[1])
	local windowMs = tonumber(ARGV[2])

	local used = tonumber(redis.call('GET', key) or '0')
	if used >= budget then
		return {0, used, redis.call('PTTL', key)}
	end

	used = redis.call('INCR', key)
	if used == 1 then
		redis.call('PEXPIRE', key, windowMs)
	end
	return {1, used, redis.call('PTTL', key)}
`)

// CallBudget tracks provider calls against an hourly budget stored in Redis.
type CallBudget struct {
	redis    redis.Cmdable
	provider string
	budget   int
	window   time.Duration
}

// CallBudgetConfig holds configuration for a call budget.
type CallBudgetConfig struct {
	// Redis is required; the budget is shared across processes.
	Redis redis.Cmdable

	// Provider names the budget key, e.g. "marketdata".
	Provider string

	// Budget is the number of calls allowed per window. Default: 2000.
	Budget int

	// Window is the budget window. Default: 1h.
	Window time.Duration
}

// Validate checks if the configuration is valid.
func (c *CallBudgetConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.Provider == "" {
		return errors.New("provider name is required")
	}
	if c.Budget < 0 {
		return errors.New("budget cannot be negative")
	}
	if c.Window < 0 {
		return errors.New("window cannot be negative")
	}
	return nil
}

// NewCallBudget creates a call budget with the given configuration.
func NewCallBudget(cfg *CallBudgetConfig) (*CallBudget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	budget := cfg.Budget
	if budget == 0 {
		budget = DefaultHourlyBudget
	}
	window := cfg.Window
	if window == 0 {
		window = DefaultWindow
	}

	return &CallBudget{
		redis:    cfg.Redis,
		provider: cfg.Provider,
		budget:   budget,
		window:   window,
	}, nil
}

func (b *CallBudget) key() string {
	return KeyPrefixBudget + b.provider
}

// TryConsume takes one call from the budget.
//
// Returns:
//   - allowed: true if the call may proceed
//   - waitTime: time until the window resets when not allowed
//   - err: Redis failure; callers decide whether to proceed
func (b *CallBudget) TryConsume(ctx context.Context) (bool, time.Duration, error) {
	result, err := consumeScript.Run(ctx, b.redis, []string{b.key()},
		b.budget, b.window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("failed to consume %s budget: %w", b.provider, err)
	}
	if result[0] == 1 {
		return true, 0, nil
	}

	waitTime := time.Duration(result[2]) * time.Millisecond
	if waitTime <= 0 {
		// key without TTL or already expired; retry shortly
		waitTime = time.Second
	}
	return false, waitTime, nil
}

// Used returns the number of calls made in the current window.
func (b *CallBudget) Used(ctx context.Context) (int, error) {
	used, err := b.redis.Get(ctx, b.key()).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s budget: %w", b.provider, err)
	}
	return used, nil
}

// Remaining returns the calls left in the current window.
func (b *CallBudget) Remaining(ctx context.Context) (int, error) {
	used, err := b.Used(ctx)
	if err != nil {
		return 0, err
	}
	if used >= b.budget {
		return 0, nil
	}
	return b.budget - used, nil
}

// Budget returns the configured calls per window.
func (b *CallBudget) Budget() int {
	return b.budget
}

// Provider returns the provider name this budget tracks.
func (b *CallBudget) Provider() string {
	return b.provider
}
