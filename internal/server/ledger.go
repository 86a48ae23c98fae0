package server

import (
	"net/http"
	"strconv"

	ledgerdomain "github.com/cvforge/creditengine/internal/ledger/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) GetBalance(c *gin.Context) {
	userID, err := parseUserID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.ledgersvc.GetBalance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, balance)
}

func (s *Server) ListTransactions(c *gin.Context) {
	userID, err := parseUserID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be between 1 and 500"))
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		AbortWithError(c, newValidationError("offset", "invalid_offset", "offset must not be negative"))
		return
	}

	transactions, err := s.ledgersvc.History(c.Request.Context(), userID, limit, offset)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, transactions)
}

type grantCreditsRequest struct {
	UserID         string `json:"user_id" binding:"required"`
	Amount         int64  `json:"amount" binding:"required,gt=0"`
	Type           string `json:"type" binding:"required"`
	Reason         string `json:"reason" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (s *Server) GrantCredits(c *gin.Context) {
	var req grantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_body", err.Error()))
		return
	}

	userID, err := parseUserID(req.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	grantType, err := ledgerdomain.ParseTransactionType(req.Type)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	newBalance, err := s.ledgersvc.Grant(c.Request.Context(), userID, req.Amount, grantType, req.Reason, req.IdempotencyKey)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"new_balance": newBalance})
}

type refundCreditsRequest struct {
	UserID         string `json:"user_id" binding:"required"`
	Amount         int64  `json:"amount" binding:"required,gt=0"`
	Reason         string `json:"reason" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (s *Server) RefundCredits(c *gin.Context) {
	var req refundCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_body", err.Error()))
		return
	}

	userID, err := parseUserID(req.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	newBalance, err := s.ledgersvc.Refund(c.Request.Context(), userID, req.Amount, req.Reason, req.IdempotencyKey)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"new_balance": newBalance})
}
