package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/cvforge/creditengine/internal/payment/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListPlans(c *gin.Context) {
	plans, err := s.planRepo.ListActive(c.Request.Context(), s.db)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, plans)
}

type createCheckoutSessionRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	PlanID     string `json:"plan_id" binding:"required"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

func (s *Server) CreateCheckoutSession(c *gin.Context) {
	var req createCheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_body", err.Error()))
		return
	}

	userID, err := parseUserID(req.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	planID, err := snowflake.ParseString(strings.TrimSpace(req.PlanID))
	if err != nil {
		AbortWithError(c, newValidationError("plan_id", "invalid_plan_id", "plan_id must be a valid id"))
		return
	}

	session, err := s.checkoutsvc.CreateSession(c.Request.Context(), paymentdomain.CheckoutSessionInput{
		UserID:     userID,
		PlanID:     planID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}
