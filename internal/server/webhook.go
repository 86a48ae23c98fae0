package server

import (
	"errors"
	"net/http"

	paymentdomain "github.com/cvforge/creditengine/internal/payment/domain"
	"github.com/gin-gonic/gin"
)

// StripeWebhook ingests one provider delivery. Any outcome that must stop
// the provider's retries (applied, duplicate, stale, ignored event types)
// answers 200; only errors worth a redelivery answer 4xx/5xx.
func (s *Server) StripeWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		AbortWithError(c, paymentdomain.ErrInvalidPayload)
		return
	}

	outcome, err := s.synchronizer.IngestWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if errors.Is(err, paymentdomain.ErrEventIgnored) {
		c.JSON(http.StatusOK, gin.H{"received": true, "outcome": "ignored"})
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": string(outcome)})
}
