package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/cvforge/creditengine/internal/plan/domain"
	pricingdomain "github.com/cvforge/creditengine/internal/pricing/domain"
	"gorm.io/gorm"
)

// EnsureDefaults seeds the pricing rules and plans a fresh installation
// needs. Existing rows are left untouched, so reruns are safe.
func EnsureDefaults(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensurePricingRules(ctx, tx, node); err != nil {
			return err
		}
		return ensurePlans(ctx, tx, node)
	})
}

func ensurePricingRules(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	defaults := []pricingdomain.PricingRule{
		{
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			PricingType:       pricingdomain.PricingTypeToken,
			CreditsPerKTokens: 1,
		},
		{
			Provider:          "openai",
			Model:             "gpt-4o",
			PricingType:       pricingdomain.PricingTypeToken,
			CreditsPerKTokens: 5,
		},
		{
			Provider:          "anthropic",
			Model:             "claude-sonnet-4-20250514",
			PricingType:       pricingdomain.PricingTypeToken,
			CreditsPerKTokens: 5,
		},
	}

	for _, rule := range defaults {
		var count int64
		err := tx.WithContext(ctx).
			Model(&pricingdomain.PricingRule{}).
			Where("provider = ? AND model = ? AND is_active = ?", rule.Provider, rule.Model, true).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			continue
		}

		rule.ID = node.Generate()
		rule.IsActive = true
		if err := tx.WithContext(ctx).Create(&rule).Error; err != nil {
			return err
		}
	}
	return nil
}

func ensurePlans(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	defaults := []plandomain.SubscriptionPlan{
		{
			Name:       "Starter Pack",
			Type:       plandomain.PlanTypeCredits,
			PriceCents: 500,
			Credits:    500,
		},
		{
			Name:       "Power Pack",
			Type:       plandomain.PlanTypeCredits,
			PriceCents: 2000,
			Credits:    2500,
		},
		{
			Name:            "Pro Monthly",
			Type:            plandomain.PlanTypeSubscription,
			PriceCents:      1500,
			BillingInterval: "month",
		},
	}

	for _, plan := range defaults {
		var count int64
		err := tx.WithContext(ctx).
			Model(&plandomain.SubscriptionPlan{}).
			Where("name = ?", plan.Name).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			continue
		}

		plan.ID = node.Generate()
		plan.Currency = "USD"
		plan.IsActive = true
		if err := tx.WithContext(ctx).Create(&plan).Error; err != nil {
			return err
		}
	}
	return nil
}
