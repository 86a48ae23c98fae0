package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/cvforge/creditengine/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) EnsureBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&ledgerdomain.CreditBalance{
			UserID:    userID,
			CreatedAt: now,
			UpdatedAt: now,
		}).Error
}

func (r *repo) GetBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*ledgerdomain.CreditBalance, error) {
	var balance ledgerdomain.CreditBalance
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, balance, total_earned, total_spent, created_at, updated_at
		 FROM credit_balances WHERE user_id = ?`,
		userID,
	).Scan(&balance).Error
	if err != nil {
		return nil, err
	}
	if balance.UserID == 0 {
		return nil, nil
	}
	return &balance, nil
}

func (r *repo) GetBalances(ctx context.Context, db *gorm.DB, userIDs []snowflake.ID) ([]ledgerdomain.CreditBalance, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var balances []ledgerdomain.CreditBalance
	err := db.WithContext(ctx).
		Model(&ledgerdomain.CreditBalance{}).
		Where("user_id IN ?", userIDs).
		Find(&balances).Error
	if err != nil {
		return nil, err
	}
	return balances, nil
}

// ApplyDebit's WHERE clause is the whole concurrency story: the row write
// lock serializes concurrent debits and the balance guard is re-evaluated
// against the committed value, so overdrafts cannot slip through a race.
func (r *repo) ApplyDebit(ctx context.Context, db *gorm.DB, userID snowflake.ID, amount int64, allowNegative bool, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE credit_balances
		 SET balance = balance - ?, total_spent = total_spent + ?, updated_at = ?
		 WHERE user_id = ? AND (? OR balance >= ?)`,
		amount, amount, now, userID, allowNegative, amount,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ApplyCredit(ctx context.Context, db *gorm.DB, userID snowflake.ID, amount int64, now time.Time) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"balance":      gorm.Expr("balance + ?", amount),
				"total_earned": gorm.Expr("total_earned + ?", amount),
				"updated_at":   now,
			}),
		}).
		Create(&ledgerdomain.CreditBalance{
			UserID:      userID,
			Balance:     amount,
			TotalEarned: amount,
			CreatedAt:   now,
			UpdatedAt:   now,
		}).Error
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *ledgerdomain.CreditTransaction) error {
	return db.WithContext(ctx).Create(txn).Error
}

func (r *repo) FindTransactionByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*ledgerdomain.CreditTransaction, error) {
	var txn ledgerdomain.CreditTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, amount, type, description, balance_after,
		 idempotency_key, metadata, created_at
		 FROM credit_transactions WHERE idempotency_key = ? LIMIT 1`,
		key,
	).Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit, offset int) ([]ledgerdomain.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var txns []ledgerdomain.CreditTransaction
	err := db.WithContext(ctx).
		Model(&ledgerdomain.CreditTransaction{}).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}
