package server

import (
	"net/http"

	userdomain "github.com/cvforge/creditengine/internal/user/domain"
	"github.com/gin-gonic/gin"
)

// GetAIConfig resolves which AI credentials the user's requests should run
// under. A 402 means no source of access applies right now.
func (s *Server) GetAIConfig(c *gin.Context) {
	userID, err := parseUserID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	access, err := s.chargesvc.GetUserAIConfig(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, access)
}

type updateAIConfigRequest struct {
	Mode  string `json:"mode" binding:"required"`
	Model string `json:"model"`
}

func (s *Server) UpdateAIConfig(c *gin.Context) {
	userID, err := parseUserID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateAIConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_body", err.Error()))
		return
	}

	mode, err := userdomain.ParseAIConfigMode(req.Mode)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.userRepo.UpdateAIConfigMode(c.Request.Context(), s.db, userID, mode, req.Model); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": true})
}
