package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	userdomain "github.com/cvforge/creditengine/internal/user/domain"
)

// AIAccess is the resolved entitlement: which credentials the AI endpoints
// should use and which mode granted them.
type AIAccess struct {
	Mode     userdomain.AIConfigMode `json:"mode"`
	Provider string                  `json:"provider"`
	Model    string                  `json:"model"`
	APIKey   string                  `json:"-"`
}

type Service interface {
	// Resolve evaluates the access priority chain for one user. It returns
	// (nil, nil) when no source of access applies; the caller must prompt
	// the user to configure one. Pure given current state.
	Resolve(ctx context.Context, userID snowflake.ID) (*AIAccess, error)

	// ResolveBatch resolves many users with one balance query.
	ResolveBatch(ctx context.Context, userIDs []snowflake.ID) (map[snowflake.ID]*AIAccess, error)
}
