package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreditBalance is the single mutable balance row per user. The invariant
// balance == total_earned - total_spent holds after every committed
// transaction; the append-only log below makes it auditable.
type CreditBalance struct {
	UserID      snowflake.ID `json:"user_id" gorm:"primaryKey"`
	Balance     int64        `json:"balance" gorm:"not null;default:0"`
	TotalEarned int64        `json:"total_earned" gorm:"not null;default:0"`
	TotalSpent  int64        `json:"total_spent" gorm:"not null;default:0"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null"`
}

func (CreditBalance) TableName() string { return "credit_balances" }

type TransactionType string

const (
	TransactionTypeBonus    TransactionType = "bonus"
	TransactionTypePurchase TransactionType = "purchase"
	TransactionTypeUsage    TransactionType = "usage"
	TransactionTypeRefund   TransactionType = "refund"
)

func ParseTransactionType(value string) (TransactionType, error) {
	switch TransactionType(value) {
	case TransactionTypeBonus, TransactionTypePurchase,
		TransactionTypeUsage, TransactionTypeRefund:
		return TransactionType(value), nil
	default:
		return "", ErrInvalidGrantType
	}
}

// CreditTransaction rows are immutable once written. Replaying a user's rows
// in creation order and summing Amount reproduces the current balance, and
// the BalanceAfter snapshots form the same running total.
type CreditTransaction struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	UserID         snowflake.ID    `json:"user_id" gorm:"not null;index"`
	Amount         int64           `json:"amount" gorm:"not null"`
	Type           TransactionType `json:"type" gorm:"type:text;not null"`
	Description    string          `json:"description" gorm:"type:text"`
	BalanceAfter   int64           `json:"balance_after" gorm:"not null"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty" gorm:"type:text;uniqueIndex"`
	Metadata       datatypes.JSON  `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt      time.Time       `json:"created_at" gorm:"not null;index"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

// UsageContext describes what a usage debit paid for.
type UsageContext struct {
	Provider     string
	Model        string
	TotalTokens  int64
	Description  string
}

type ConsumeResult struct {
	Success    bool  `json:"success"`
	NewBalance int64 `json:"new_balance"`
}

type Service interface {
	// WithTx returns a view of the service bound to an open transaction so
	// a caller can make a grant atomic with its own writes. Nested calls
	// become savepoints.
	WithTx(tx *gorm.DB) Service

	// CheckBalance is a non-locking read used for admission control only;
	// it is not a reservation.
	CheckBalance(ctx context.Context, userID snowflake.ID, required int64) (bool, error)

	// Consume debits credits and appends the usage transaction atomically.
	// Concurrent calls for one user serialize with no lost updates.
	Consume(ctx context.Context, userID snowflake.ID, credits int64, usage UsageContext) (ConsumeResult, error)

	// Grant credits the balance. A previously applied idempotency key makes
	// the call a no-op returning the current balance.
	Grant(ctx context.Context, userID snowflake.ID, amount int64, grantType TransactionType, reason string, idempotencyKey string) (int64, error)

	// Refund returns previously spent credits (type refund), idempotent the
	// same way Grant is.
	Refund(ctx context.Context, userID snowflake.ID, amount int64, reason string, idempotencyKey string) (int64, error)

	GetBalance(ctx context.Context, userID snowflake.ID) (CreditBalance, error)
	// GetBalances resolves many users in a single query.
	GetBalances(ctx context.Context, userIDs []snowflake.ID) (map[snowflake.ID]int64, error)
	History(ctx context.Context, userID snowflake.ID, limit, offset int) ([]CreditTransaction, error)
}

type Repository interface {
	EnsureBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) error
	GetBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*CreditBalance, error)
	GetBalances(ctx context.Context, db *gorm.DB, userIDs []snowflake.ID) ([]CreditBalance, error)

	// ApplyDebit decrements balance and increments total_spent in one guarded
	// statement. Returns false when the guard (balance >= amount) rejected it.
	ApplyDebit(ctx context.Context, db *gorm.DB, userID snowflake.ID, amount int64, allowNegative bool, now time.Time) (bool, error)
	// ApplyCredit increments balance and total_earned, creating the row on
	// first touch.
	ApplyCredit(ctx context.Context, db *gorm.DB, userID snowflake.ID, amount int64, now time.Time) error

	InsertTransaction(ctx context.Context, db *gorm.DB, txn *CreditTransaction) error
	FindTransactionByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*CreditTransaction, error)
	ListTransactions(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit, offset int) ([]CreditTransaction, error)
}

var (
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidGrantType     = errors.New("invalid_grant_type")
	ErrInsufficientCredits  = errors.New("insufficient_credits")
)

// InsufficientCreditsError carries the amounts so callers can show the user
// what is missing. errors.Is(err, ErrInsufficientCredits) matches it.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient_credits: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }
