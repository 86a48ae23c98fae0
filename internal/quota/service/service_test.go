package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/cvforge/creditengine/internal/clock"
	"github.com/cvforge/creditengine/internal/config"
	quotadomain "github.com/cvforge/creditengine/internal/quota/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, enabled bool, limit int64) (quotadomain.Service, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	rdb := redis.NewClient(&redis.Options{Addr: server.Addr()})

	svc := NewService(ServiceParam{
		Redis: rdb,
		Log:   zap.NewNop(),
		Clock: clock.SystemClock{},
		Cfg: config.Config{
			QuotaEnabled:             enabled,
			QuotaMonthlyConsumeLimit: limit,
		},
	})
	return svc, server
}

func TestCanConsumeWithinLimit(t *testing.T) {
	svc, _ := newTestService(t, true, 100)
	ctx := context.Background()
	userID := snowflake.ID(42)

	for i := 0; i < 10; i++ {
		assert.NoError(t, svc.CanConsume(ctx, userID, 10))
	}

	// The 101st credit crosses the window limit.
	err := svc.CanConsume(ctx, userID, 1)
	assert.ErrorIs(t, err, quotadomain.ErrMonthlyQuotaExceeded)

	spend, err := svc.MonthlySpend(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(101), spend)
}

func TestCanConsumeDisabled(t *testing.T) {
	svc, _ := newTestService(t, false, 1)
	ctx := context.Background()

	assert.NoError(t, svc.CanConsume(ctx, snowflake.ID(42), 1000))

	_, err := svc.MonthlySpend(ctx, snowflake.ID(42))
	assert.ErrorIs(t, err, quotadomain.ErrQuotaDisabled)
}

func TestCanConsumeFailsOpenOnRedisError(t *testing.T) {
	svc, server := newTestService(t, true, 100)
	ctx := context.Background()

	server.Close()

	// A down redis must never block a consume.
	assert.NoError(t, svc.CanConsume(ctx, snowflake.ID(42), 10))
}

func TestCanConsumeSeparateUsers(t *testing.T) {
	svc, _ := newTestService(t, true, 10)
	ctx := context.Background()

	assert.NoError(t, svc.CanConsume(ctx, snowflake.ID(1), 10))
	// A second user has their own window.
	assert.NoError(t, svc.CanConsume(ctx, snowflake.ID(2), 10))

	assert.ErrorIs(t, svc.CanConsume(ctx, snowflake.ID(1), 1), quotadomain.ErrMonthlyQuotaExceeded)
}

func TestCanConsumeIgnoresNonPositive(t *testing.T) {
	svc, _ := newTestService(t, true, 10)
	ctx := context.Background()

	assert.NoError(t, svc.CanConsume(ctx, snowflake.ID(42), 0))
	assert.NoError(t, svc.CanConsume(ctx, snowflake.ID(42), -5))

	spend, err := svc.MonthlySpend(ctx, snowflake.ID(42))
	require.NoError(t, err)
	assert.Equal(t, int64(0), spend)
}

func TestMonthlyWindowRollsOver(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	manual := clock.NewManualClock(time.Date(2026, time.January, 30, 12, 0, 0, 0, time.UTC))
	svc := NewService(ServiceParam{
		Redis: redis.NewClient(&redis.Options{Addr: server.Addr()}),
		Log:   zap.NewNop(),
		Clock: manual,
		Cfg: config.Config{
			QuotaEnabled:             true,
			QuotaMonthlyConsumeLimit: 10,
		},
	})
	ctx := context.Background()
	userID := snowflake.ID(42)

	require.NoError(t, svc.CanConsume(ctx, userID, 10))
	assert.ErrorIs(t, svc.CanConsume(ctx, userID, 1), quotadomain.ErrMonthlyQuotaExceeded)

	// Crossing into February opens a fresh window.
	manual.Advance(3 * 24 * time.Hour)
	assert.NoError(t, svc.CanConsume(ctx, userID, 10))

	spend, err := svc.MonthlySpend(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), spend)
}
