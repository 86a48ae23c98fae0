package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/cvforge/creditengine/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() plandomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *plandomain.SubscriptionPlan) error {
	return db.WithContext(ctx).Create(plan).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*plandomain.SubscriptionPlan, error) {
	var plan plandomain.SubscriptionPlan
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, type, price_cents, currency, billing_interval,
		 external_price_id, credits, is_active, created_at, updated_at
		 FROM subscription_plans WHERE id = ?`,
		id,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) FindByExternalPriceID(ctx context.Context, db *gorm.DB, externalPriceID string) (*plandomain.SubscriptionPlan, error) {
	var plan plandomain.SubscriptionPlan
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, type, price_cents, currency, billing_interval,
		 external_price_id, credits, is_active, created_at, updated_at
		 FROM subscription_plans
		 WHERE external_price_id = ? AND is_active = ?
		 LIMIT 1`,
		externalPriceID, true,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB) ([]plandomain.SubscriptionPlan, error) {
	var plans []plandomain.SubscriptionPlan
	err := db.WithContext(ctx).
		Model(&plandomain.SubscriptionPlan{}).
		Where("is_active = ?", true).
		Order("price_cents ASC").
		Find(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}
