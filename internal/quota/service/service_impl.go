package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cvforge/creditengine/internal/clock"
	"github.com/cvforge/creditengine/internal/config"
	quotadomain "github.com/cvforge/creditengine/internal/quota/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Redis *redis.Client `optional:"true"`
	Log   *zap.Logger
	Clock clock.Clock
	Cfg   config.Config
}

type service struct {
	redis *redis.Client
	log   *zap.Logger
	clock clock.Clock

	enabled      bool
	monthlyLimit int64
}

func NewService(p ServiceParam) quotadomain.Service {
	return &service{
		redis: p.Redis,
		log:   p.Log.Named("quota.service"),
		clock: p.Clock,

		enabled:      p.Cfg.QuotaEnabled,
		monthlyLimit: p.Cfg.QuotaMonthlyConsumeLimit,
	}
}

// Key: quota:spend:{user_id}:{month} e.g. quota:spend:123:2026-09
func (s *service) key(ctx context.Context, userID snowflake.ID) string {
	month := s.clock.Now(ctx).Format("2006-01")
	return fmt.Sprintf("quota:spend:%s:%s", userID.String(), month)
}

func (s *service) CanConsume(ctx context.Context, userID snowflake.ID, credits int64) error {
	if !s.enabled || s.redis == nil {
		return nil
	}
	if credits <= 0 {
		return nil
	}

	key := s.key(ctx, userID)
	val, err := s.redis.IncrBy(ctx, key, credits).Result()
	if err != nil {
		s.log.Error("failed to increment spend quota", zap.Error(err))
		// Fail open so consumes are never blocked by redis being down
		return nil
	}

	// Set expiration if new key (35 days outlives any month)
	if val == credits {
		s.redis.Expire(ctx, key, 35*24*time.Hour)
	}

	if val > s.monthlyLimit {
		return quotadomain.ErrMonthlyQuotaExceeded
	}
	return nil
}

func (s *service) MonthlySpend(ctx context.Context, userID snowflake.ID) (int64, error) {
	if !s.enabled || s.redis == nil {
		return 0, quotadomain.ErrQuotaDisabled
	}

	val, err := s.redis.Get(ctx, s.key(ctx, userID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}
