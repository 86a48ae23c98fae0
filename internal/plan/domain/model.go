package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type PlanType string

const (
	PlanTypeFree         PlanType = "free"
	PlanTypeCredits      PlanType = "credits"
	PlanTypeSubscription PlanType = "subscription"
)

func ParsePlanType(value string) (PlanType, error) {
	switch PlanType(value) {
	case PlanTypeFree, PlanTypeCredits, PlanTypeSubscription:
		return PlanType(value), nil
	default:
		return "", ErrInvalidPlanType
	}
}

// SubscriptionPlan covers both recurring subscriptions and one-time credit
// packs; for packs, Credits is the grant size and BillingInterval is empty.
type SubscriptionPlan struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	Name            string       `json:"name" gorm:"type:text;not null"`
	Type            PlanType     `json:"type" gorm:"type:text;not null"`
	PriceCents      int64        `json:"price_cents" gorm:"not null"`
	Currency        string       `json:"currency" gorm:"type:text;not null;default:'USD'"`
	BillingInterval string       `json:"billing_interval,omitempty" gorm:"type:text"`
	ExternalPriceID string       `json:"external_price_id" gorm:"type:text;uniqueIndex"`
	Credits         int64        `json:"credits"`
	IsActive        bool         `json:"is_active" gorm:"not null;default:true"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time    `json:"updated_at" gorm:"not null"`
}

func (SubscriptionPlan) TableName() string { return "subscription_plans" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *SubscriptionPlan) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*SubscriptionPlan, error)
	FindByExternalPriceID(ctx context.Context, db *gorm.DB, externalPriceID string) (*SubscriptionPlan, error)
	ListActive(ctx context.Context, db *gorm.DB) ([]SubscriptionPlan, error)
}

var (
	ErrInvalidPlanType = errors.New("invalid_plan_type")
	ErrPlanNotFound    = errors.New("plan_not_found")
)
