package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	pricingdomain "github.com/cvforge/creditengine/internal/pricing/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() pricingdomain.Repository {
	return &repo{}
}

func (r *repo) FindActiveRule(ctx context.Context, db *gorm.DB, provider, model string) (*pricingdomain.PricingRule, error) {
	var rule pricingdomain.PricingRule
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, model, pricing_type,
		 credits_per_request, credits_per_k_tokens,
		 is_active, created_at, updated_at
		 FROM pricing_rules
		 WHERE provider = ? AND model = ? AND is_active = ?
		 LIMIT 1`,
		provider, model, true,
	).Scan(&rule).Error
	if err != nil {
		return nil, err
	}
	if rule.ID == 0 {
		return nil, nil
	}
	return &rule, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rule *pricingdomain.PricingRule) error {
	return db.WithContext(ctx).Create(rule).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]pricingdomain.PricingRule, error) {
	var rules []pricingdomain.PricingRule
	err := db.WithContext(ctx).
		Model(&pricingdomain.PricingRule{}).
		Order("provider ASC, model ASC, created_at DESC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	result := db.WithContext(ctx).
		Model(&pricingdomain.PricingRule{}).
		Where("id = ?", id).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pricingdomain.ErrRuleNotFound
	}
	return nil
}
