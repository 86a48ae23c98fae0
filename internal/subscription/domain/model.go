package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// SubscriptionStatus is a closed set; provider strings are parsed through
// ParseStatus so an unknown status is a handled error, not a silent cast.
type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
)

func ParseStatus(value string) (SubscriptionStatus, error) {
	switch SubscriptionStatus(value) {
	case SubscriptionStatusActive, SubscriptionStatusTrialing,
		SubscriptionStatusPastDue, SubscriptionStatusIncomplete,
		SubscriptionStatusUnpaid, SubscriptionStatusCanceled:
		return SubscriptionStatus(value), nil
	default:
		return "", ErrInvalidStatus
	}
}

// Grants reports whether the status confers AI access.
func (s SubscriptionStatus) Grants() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusTrialing:
		return true
	case SubscriptionStatusPastDue, SubscriptionStatusIncomplete,
		SubscriptionStatusUnpaid, SubscriptionStatusCanceled:
		return false
	}
	return false
}

// Terminal statuses accept no further transitions; a canceled subscription
// stays canceled regardless of what later-delivered events claim.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCanceled
}

// Subscription mirrors the provider's subscription object. Rows are never
// deleted; a deletion event transitions the row to canceled.
type Subscription struct {
	ID                     snowflake.ID       `json:"id" gorm:"primaryKey"`
	UserID                 snowflake.ID       `json:"user_id" gorm:"not null;index"`
	PlanID                 snowflake.ID       `json:"plan_id" gorm:"not null"`
	ExternalSubscriptionID string             `json:"external_subscription_id" gorm:"type:text;not null;uniqueIndex"`
	Status                 SubscriptionStatus `json:"status" gorm:"type:text;not null"`

	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end" gorm:"not null;default:false"`
	TrialStart         *time.Time `json:"trial_start,omitempty"`
	TrialEnd           *time.Time `json:"trial_end,omitempty"`
	CanceledAt         *time.Time `json:"canceled_at,omitempty"`

	// Provider-side timestamp of the last applied event. The out-of-order
	// guard discards updates older than this.
	ProviderUpdatedAt time.Time `json:"provider_updated_at" gorm:"not null"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Subscription, error)
	// CurrentForUser is the most recently created subscription; exactly one
	// row per user is treated as current.
	CurrentForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Subscription, error)
	Update(ctx context.Context, db *gorm.DB, sub *Subscription) error
}

var (
	ErrInvalidStatus        = errors.New("invalid_subscription_status")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
)
