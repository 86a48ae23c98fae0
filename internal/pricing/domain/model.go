package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type PricingType string

const (
	PricingTypeRequest PricingType = "request"
	PricingTypeToken   PricingType = "token"
)

func ParsePricingType(value string) (PricingType, error) {
	switch PricingType(value) {
	case PricingTypeRequest, PricingTypeToken:
		return PricingType(value), nil
	default:
		return "", ErrInvalidPricingType
	}
}

// PricingRule maps a (provider, model) pair to a credit cost. At most one
// active rule may exist per pair; enforced by a partial unique index.
type PricingRule struct {
	ID       snowflake.ID `json:"id" gorm:"primaryKey"`
	Provider string       `json:"provider" gorm:"type:text;not null"`
	Model    string       `json:"model" gorm:"type:text;not null"`

	PricingType       PricingType `json:"pricing_type" gorm:"type:text;not null"`
	CreditsPerRequest int64       `json:"credits_per_request"`
	CreditsPerKTokens int64       `json:"credits_per_k_tokens"`

	IsActive  bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (PricingRule) TableName() string { return "pricing_rules" }

// TokenUsage is the provider-reported consumption for one AI call.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type CreateRuleRequest struct {
	Provider          string `json:"provider" binding:"required"`
	Model             string `json:"model" binding:"required"`
	PricingType       string `json:"pricing_type" binding:"required"`
	CreditsPerRequest int64  `json:"credits_per_request"`
	CreditsPerKTokens int64  `json:"credits_per_k_tokens"`
}

type Service interface {
	// ResolveRule returns the active rule for the pair, or the injected
	// system default when none is configured.
	ResolveRule(ctx context.Context, provider, model string) (PricingRule, error)

	// Cost converts actual usage into credits under the resolved rule.
	// A nil usage (or zero total tokens) under token pricing costs nothing.
	Cost(ctx context.Context, provider, model string, usage *TokenUsage) (int64, error)

	// EstimateCost prices the worst case: the call spending its whole
	// maxTokens budget. Used for admission only, never for charging.
	EstimateCost(ctx context.Context, provider, model string, maxTokens int64) (int64, error)

	CreateRule(ctx context.Context, req CreateRuleRequest) (*PricingRule, error)
	ListRules(ctx context.Context) ([]PricingRule, error)
	DeactivateRule(ctx context.Context, id snowflake.ID) error
}

type Repository interface {
	FindActiveRule(ctx context.Context, db *gorm.DB, provider, model string) (*PricingRule, error)
	Insert(ctx context.Context, db *gorm.DB, rule *PricingRule) error
	List(ctx context.Context, db *gorm.DB) ([]PricingRule, error)
	Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}

var (
	ErrInvalidPricingType = errors.New("invalid_pricing_type")
	ErrInvalidRule        = errors.New("invalid_pricing_rule")
	ErrRuleNotFound       = errors.New("pricing_rule_not_found")
	ErrDuplicateRule      = errors.New("duplicate_pricing_rule")
)
