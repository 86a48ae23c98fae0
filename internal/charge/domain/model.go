package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/cvforge/creditengine/internal/entitlement/domain"
	ledgerdomain "github.com/cvforge/creditengine/internal/ledger/domain"
	pricingdomain "github.com/cvforge/creditengine/internal/pricing/domain"
)

var ErrNoAIAccess = errors.New("no_ai_access")

// Authorization is the admission decision for one AI call: the access the
// caller should use plus, in credits mode, the worst-case hold amount.
type Authorization struct {
	Access *entitlementdomain.AIAccess `json:"access"`
	// EstimatedCredits is the maxTokens-budget price. Zero for custom and
	// subscription modes: those are not metered against the ledger.
	EstimatedCredits int64 `json:"estimated_credits"`
}

// Service is the single entry point AI endpoints call around a model
// invocation: authorize before, consume after.
type Service interface {
	// GetUserAIConfig resolves the caller's AI access without any balance
	// precondition. ErrNoAIAccess when the chain resolves to nothing.
	GetUserAIConfig(ctx context.Context, userID snowflake.ID) (*entitlementdomain.AIAccess, error)

	// Authorize admits or rejects a call before any tokens are spent. In
	// credits mode an InsufficientCreditsError carries the shortfall.
	Authorize(ctx context.Context, userID snowflake.ID, maxTokens int64) (*Authorization, error)

	// ConsumeCredits settles actual usage after the call. It charges only
	// in credits mode and is a no-op (cost 0) otherwise.
	ConsumeCredits(ctx context.Context, userID snowflake.ID, usage *pricingdomain.TokenUsage, description string) (ledgerdomain.ConsumeResult, error)

	// CheckCreditsBalance reports whether the user could cover required
	// credits right now, without reserving anything.
	CheckCreditsBalance(ctx context.Context, userID snowflake.ID, required int64) (bool, error)

	// EstimateCredits prices a hypothetical maxTokens budget.
	EstimateCredits(ctx context.Context, provider, model string, maxTokens int64) (int64, error)

	// CalculateCreditsForUsage prices reported usage without charging.
	CalculateCreditsForUsage(ctx context.Context, provider, model string, usage *pricingdomain.TokenUsage) (int64, error)
}
