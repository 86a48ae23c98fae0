package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	pricingdomain "github.com/cvforge/creditengine/internal/pricing/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListPricingRules(c *gin.Context) {
	rules, err := s.pricingsvc.ListRules(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, rules)
}

func (s *Server) CreatePricingRule(c *gin.Context) {
	var req pricingdomain.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_body", err.Error()))
		return
	}

	rule, err := s.pricingsvc.CreateRule(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rule)
}

func (s *Server) DeactivatePricingRule(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "id must be a valid id"))
		return
	}

	if err := s.pricingsvc.DeactivateRule(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deactivated": true})
}
