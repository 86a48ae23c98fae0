package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// AIConfigMode selects which source of AI access applies to a user.
type AIConfigMode string

const (
	AIConfigModeCredits      AIConfigMode = "credits"
	AIConfigModeSubscription AIConfigMode = "subscription"
	AIConfigModeCustom       AIConfigMode = "custom"
)

func ParseAIConfigMode(value string) (AIConfigMode, error) {
	switch AIConfigMode(value) {
	case AIConfigModeCredits, AIConfigModeSubscription, AIConfigModeCustom:
		return AIConfigMode(value), nil
	default:
		return "", ErrInvalidAIConfigMode
	}
}

type User struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	Email        string       `json:"email" gorm:"type:text;not null;uniqueIndex"`
	AIConfigMode AIConfigMode `json:"ai_config_mode" gorm:"type:text;not null;default:'credits'"`

	// Model used under the system-provided modes (subscription, credits).
	AIModel string `json:"ai_model,omitempty" gorm:"type:text"`

	// Custom-mode credentials; all three must be set for custom mode to win.
	CustomAIProvider string `json:"custom_ai_provider,omitempty" gorm:"column:custom_ai_provider;type:text"`
	CustomAIModel    string `json:"custom_ai_model,omitempty" gorm:"type:text"`
	CustomAIAPIKey   string `json:"-" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (User) TableName() string { return "users" }

// HasCustomConfig reports whether the user supplied their own provider,
// model, and API key.
func (u User) HasCustomConfig() bool {
	return u.CustomAIProvider != "" && u.CustomAIModel != "" && u.CustomAIAPIKey != ""
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, user *User) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	UpdateAIConfigMode(ctx context.Context, db *gorm.DB, id snowflake.ID, mode AIConfigMode, model string) error
}

var (
	ErrUserNotFound        = errors.New("user_not_found")
	ErrInvalidAIConfigMode = errors.New("invalid_ai_config_mode")
)
