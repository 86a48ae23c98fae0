package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	pricingdomain "github.com/cvforge/creditengine/internal/pricing/domain"
	"github.com/gin-gonic/gin"
)

func parseUserID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil {
		return 0, newValidationError("user_id", "invalid_user_id", "user_id must be a valid id")
	}
	return id, nil
}

type authorizeChargeRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	MaxTokens int64  `json:"max_tokens" binding:"required,gt=0"`
}

func (s *Server) AuthorizeCharge(c *gin.Context) {
	var req authorizeChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_body", err.Error()))
		return
	}

	userID, err := parseUserID(req.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	auth, err := s.chargesvc.Authorize(c.Request.Context(), userID, req.MaxTokens)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, auth)
}

type consumeChargeRequest struct {
	UserID      string                    `json:"user_id" binding:"required"`
	Usage       *pricingdomain.TokenUsage `json:"usage"`
	Description string                    `json:"description"`
}

func (s *Server) ConsumeCharge(c *gin.Context) {
	var req consumeChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_body", err.Error()))
		return
	}

	userID, err := parseUserID(req.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.chargesvc.ConsumeCredits(c.Request.Context(), userID, req.Usage, req.Description)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type estimateChargeRequest struct {
	Provider  string `json:"provider" binding:"required"`
	Model     string `json:"model" binding:"required"`
	MaxTokens int64  `json:"max_tokens" binding:"required,gt=0"`
}

func (s *Server) EstimateCharge(c *gin.Context) {
	var req estimateChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_body", err.Error()))
		return
	}

	credits, err := s.chargesvc.EstimateCredits(c.Request.Context(), req.Provider, req.Model, req.MaxTokens)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"estimated_credits": credits})
}
