package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrQuotaDisabled        = errors.New("quota_disabled")
	ErrMonthlyQuotaExceeded = errors.New("monthly_quota_exceeded")
)

// Service is a spend-velocity guard layered in front of the ledger. It
// tracks per-user consumed credits per calendar month in Redis; the ledger
// remains the source of truth for balances.
type Service interface {
	// CanConsume records credits against the caller's monthly window and
	// reports whether the window limit was crossed. Redis failures are not
	// consume failures; the guard fails open.
	CanConsume(ctx context.Context, userID snowflake.ID, credits int64) error

	// MonthlySpend returns the credits counted in the current window.
	MonthlySpend(ctx context.Context, userID snowflake.ID) (int64, error)
}
