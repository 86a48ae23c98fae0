package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	userdomain "github.com/cvforge/creditengine/internal/user/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() userdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, user *userdomain.User) error {
	return db.WithContext(ctx).Create(user).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*userdomain.User, error) {
	var u userdomain.User
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, ai_config_mode, ai_model,
		 custom_ai_provider, custom_ai_model, custom_ai_api_key,
		 created_at, updated_at
		 FROM users WHERE id = ?`,
		id,
	).Scan(&u).Error
	if err != nil {
		return nil, err
	}
	if u.ID == 0 {
		return nil, nil
	}
	return &u, nil
}

func (r *repo) UpdateAIConfigMode(ctx context.Context, db *gorm.DB, id snowflake.ID, mode userdomain.AIConfigMode, model string) error {
	updates := map[string]any{"ai_config_mode": mode}
	if model != "" {
		updates["ai_model"] = model
	}
	result := db.WithContext(ctx).
		Model(&userdomain.User{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return userdomain.ErrUserNotFound
	}
	return nil
}
