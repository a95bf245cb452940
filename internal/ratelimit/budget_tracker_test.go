package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestBudget(t *testing.T, budget int, window time.Duration) (*CallBudget, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	b, err := NewCallBudget(&CallBudgetConfig{
		Redis:    client,
		Provider: "marketdata",
		Budget:   budget,
		Window:   window,
	})
	require.NoError(t, err)
	return b, mr
}

func TestNewCallBudget(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	tests := []struct {
		name    string
		cfg     *CallBudgetConfig
		wantErr bool
	}{
		{name: "nil config", cfg: nil, wantErr: true},
		{name: "nil redis", cfg: &CallBudgetConfig{Provider: "marketdata"}, wantErr: true},
		{name: "missing provider", cfg: &CallBudgetConfig{Redis: client}, wantErr: true},
		{name: "negative budget", cfg: &CallBudgetConfig{Redis: client, Provider: "x", Budget: -1}, wantErr: true},
		{name: "defaults", cfg: &CallBudgetConfig{Redis: client, Provider: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewCallBudget(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultHourlyBudget, b.Budget())
		})
	}
}

func TestCallBudget_TryConsume(t *testing.T) {
	b, mr := setupTestBudget(t, 2, time.Hour)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, wait, err := b.TryConsume(ctx)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Zero(t, wait)
	}

	allowed, wait, err := b.TryConsume(ctx)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, wait, 59*time.Minute)
	assert.LessOrEqual(t, wait, time.Hour)

	used, err := b.Used(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, used)

	mr.FastForward(time.Hour)

	allowed, _, err = b.TryConsume(ctx)
	require.NoError(t, err)
	assert.True(t, allowed)

	remaining, err := b.Remaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestCallBudget_RedisDown(t *testing.T) {
	b, mr := setupTestBudget(t, 2, time.Hour)
	mr.Close()

	_, _, err := b.TryConsume(context.Background())
	assert.Error(t, err)
}
