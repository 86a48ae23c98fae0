package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/cvforge/creditengine/internal/clock"
	"github.com/cvforge/creditengine/internal/config"
	ledgerdomain "github.com/cvforge/creditengine/internal/ledger/domain"
	"github.com/cvforge/creditengine/internal/ledger/repository"
	"github.com/cvforge/creditengine/internal/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	repo    ledgerdomain.Repository
	metrics *metrics.Metrics

	allowNegative bool
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Cfg     config.Config
	Metrics *metrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) ledgerdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("ledger.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		repo:    repository.Provide(),
		metrics: p.Metrics,

		allowNegative: p.Cfg.AllowNegativeBalance,
	}
}

func (s *Service) WithTx(tx *gorm.DB) ledgerdomain.Service {
	clone := *s
	clone.db = tx
	return &clone
}

func (s *Service) CheckBalance(ctx context.Context, userID snowflake.ID, required int64) (bool, error) {
	if required <= 0 {
		return true, nil
	}
	balance, err := s.repo.GetBalance(ctx, s.db, userID)
	if err != nil {
		return false, err
	}
	if balance == nil {
		return false, nil
	}
	return balance.Balance >= required, nil
}

func (s *Service) Consume(ctx context.Context, userID snowflake.ID, credits int64, usage ledgerdomain.UsageContext) (ledgerdomain.ConsumeResult, error) {
	if credits <= 0 {
		return ledgerdomain.ConsumeResult{}, ledgerdomain.ErrInvalidAmount
	}

	var newBalance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now(ctx)

		if err := s.repo.EnsureBalance(ctx, tx, userID, now); err != nil {
			return err
		}

		debited, err := s.repo.ApplyDebit(ctx, tx, userID, credits, s.allowNegative, now)
		if err != nil {
			return err
		}
		if !debited {
			balance, err := s.repo.GetBalance(ctx, tx, userID)
			if err != nil {
				return err
			}
			available := int64(0)
			if balance != nil {
				available = balance.Balance
			}
			return &ledgerdomain.InsufficientCreditsError{Required: credits, Available: available}
		}

		balance, err := s.repo.GetBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		newBalance = balance.Balance

		return s.repo.InsertTransaction(ctx, tx, &ledgerdomain.CreditTransaction{
			ID:           s.genID.Generate(),
			UserID:       userID,
			Amount:       -credits,
			Type:         ledgerdomain.TransactionTypeUsage,
			Description:  usage.Description,
			BalanceAfter: newBalance,
			Metadata:     usageMetadata(usage),
			CreatedAt:    now,
		})
	})
	if err != nil {
		if _, ok := asInsufficient(err); ok && s.metrics != nil {
			s.metrics.ConsumeRejected.Inc()
		}
		return ledgerdomain.ConsumeResult{}, err
	}

	if s.metrics != nil {
		s.metrics.CreditsConsumed.Add(float64(credits))
	}
	s.log.Debug("credits consumed",
		zap.Int64("user_id", int64(userID)),
		zap.Int64("credits", credits),
		zap.Int64("new_balance", newBalance))

	return ledgerdomain.ConsumeResult{Success: true, NewBalance: newBalance}, nil
}

func (s *Service) Grant(ctx context.Context, userID snowflake.ID, amount int64, grantType ledgerdomain.TransactionType, reason string, idempotencyKey string) (int64, error) {
	if grantType != ledgerdomain.TransactionTypeBonus && grantType != ledgerdomain.TransactionTypePurchase {
		return 0, ledgerdomain.ErrInvalidGrantType
	}
	return s.credit(ctx, userID, amount, grantType, reason, idempotencyKey)
}

func (s *Service) Refund(ctx context.Context, userID snowflake.ID, amount int64, reason string, idempotencyKey string) (int64, error) {
	return s.credit(ctx, userID, amount, ledgerdomain.TransactionTypeRefund, reason, idempotencyKey)
}

func (s *Service) credit(ctx context.Context, userID snowflake.ID, amount int64, txnType ledgerdomain.TransactionType, reason string, idempotencyKey string) (int64, error) {
	if amount <= 0 {
		return 0, ledgerdomain.ErrInvalidAmount
	}

	var newBalance int64
	var replayed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now(ctx)

		if idempotencyKey != "" {
			existing, err := s.repo.FindTransactionByIdempotencyKey(ctx, tx, idempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				replayed = true
				balance, err := s.repo.GetBalance(ctx, tx, existing.UserID)
				if err != nil {
					return err
				}
				if balance != nil {
					newBalance = balance.Balance
				}
				return nil
			}
		}

		if err := s.repo.ApplyCredit(ctx, tx, userID, amount, now); err != nil {
			return err
		}

		balance, err := s.repo.GetBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		newBalance = balance.Balance

		txn := &ledgerdomain.CreditTransaction{
			ID:           s.genID.Generate(),
			UserID:       userID,
			Amount:       amount,
			Type:         txnType,
			Description:  reason,
			BalanceAfter: newBalance,
			CreatedAt:    now,
		}
		if idempotencyKey != "" {
			txn.IdempotencyKey = &idempotencyKey
		}
		// The unique index on idempotency_key backstops the lookup above:
		// two racing grants with the same key cannot both commit.
		return s.repo.InsertTransaction(ctx, tx, txn)
	})
	if err != nil {
		return 0, err
	}

	if replayed {
		if s.metrics != nil {
			s.metrics.GrantReplays.Inc()
		}
		s.log.Info("grant replay ignored",
			zap.Int64("user_id", int64(userID)),
			zap.String("idempotency_key", idempotencyKey))
		return newBalance, nil
	}

	if s.metrics != nil {
		s.metrics.CreditsGranted.Add(float64(amount))
	}
	s.log.Info("credits granted",
		zap.Int64("user_id", int64(userID)),
		zap.Int64("amount", amount),
		zap.String("type", string(txnType)))
	return newBalance, nil
}

func (s *Service) GetBalance(ctx context.Context, userID snowflake.ID) (ledgerdomain.CreditBalance, error) {
	balance, err := s.repo.GetBalance(ctx, s.db, userID)
	if err != nil {
		return ledgerdomain.CreditBalance{}, err
	}
	if balance == nil {
		return ledgerdomain.CreditBalance{UserID: userID}, nil
	}
	return *balance, nil
}

func (s *Service) GetBalances(ctx context.Context, userIDs []snowflake.ID) (map[snowflake.ID]int64, error) {
	balances, err := s.repo.GetBalances(ctx, s.db, userIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[snowflake.ID]int64, len(userIDs))
	for _, id := range userIDs {
		out[id] = 0
	}
	for _, balance := range balances {
		out[balance.UserID] = balance.Balance
	}
	return out, nil
}

func (s *Service) History(ctx context.Context, userID snowflake.ID, limit, offset int) ([]ledgerdomain.CreditTransaction, error) {
	return s.repo.ListTransactions(ctx, s.db, userID, limit, offset)
}

func usageMetadata(usage ledgerdomain.UsageContext) datatypes.JSON {
	if usage.Provider == "" && usage.Model == "" && usage.TotalTokens == 0 {
		return nil
	}
	raw, err := json.Marshal(map[string]any{
		"provider":     usage.Provider,
		"model":        usage.Model,
		"total_tokens": usage.TotalTokens,
	})
	if err != nil {
		return nil
	}
	return raw
}

func asInsufficient(err error) (*ledgerdomain.InsufficientCreditsError, bool) {
	var target *ledgerdomain.InsufficientCreditsError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
