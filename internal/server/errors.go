package server

import (
	"errors"
	"fmt"
	"net/http"

	chargedomain "github.com/cvforge/creditengine/internal/charge/domain"
	ledgerdomain "github.com/cvforge/creditengine/internal/ledger/domain"
	paymentdomain "github.com/cvforge/creditengine/internal/payment/domain"
	plandomain "github.com/cvforge/creditengine/internal/plan/domain"
	pricingdomain "github.com/cvforge/creditengine/internal/pricing/domain"
	quotadomain "github.com/cvforge/creditengine/internal/quota/domain"
	subscriptiondomain "github.com/cvforge/creditengine/internal/subscription/domain"
	userdomain "github.com/cvforge/creditengine/internal/user/domain"
	"github.com/gin-gonic/gin"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func newValidationError(field, code, message string) *ValidationError {
	return &ValidationError{Field: field, Code: code, Message: message}
}

// AbortWithError maps domain sentinels onto HTTP statuses and writes a
// uniform error envelope.
func AbortWithError(c *gin.Context, err error) {
	var validation *ValidationError
	if errors.As(err, &validation) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    validation.Code,
				"field":   validation.Field,
				"message": validation.Message,
			},
		})
		return
	}

	var insufficient *ledgerdomain.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
			"error": gin.H{
				"code":      "insufficient_credits",
				"message":   insufficient.Error(),
				"required":  insufficient.Required,
				"available": insufficient.Available,
			},
		})
		return
	}

	status := statusFor(err)
	message := err.Error()
	code := message
	if status == http.StatusInternalServerError {
		// Do not leak internals to the client.
		code = "internal_error"
		message = "internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ledgerdomain.ErrInsufficientCredits),
		errors.Is(err, chargedomain.ErrNoAIAccess):
		return http.StatusPaymentRequired
	case errors.Is(err, userdomain.ErrUserNotFound),
		errors.Is(err, plandomain.ErrPlanNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, pricingdomain.ErrRuleNotFound),
		errors.Is(err, paymentdomain.ErrUnknownPlan),
		errors.Is(err, paymentdomain.ErrUnknownUser):
		return http.StatusNotFound
	case errors.Is(err, pricingdomain.ErrDuplicateRule),
		errors.Is(err, paymentdomain.ErrEventAlreadyProcessed):
		return http.StatusConflict
	case errors.Is(err, quotadomain.ErrMonthlyQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, paymentdomain.ErrProviderUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidGrantType),
		errors.Is(err, pricingdomain.ErrInvalidRule),
		errors.Is(err, pricingdomain.ErrInvalidPricingType),
		errors.Is(err, userdomain.ErrInvalidAIConfigMode),
		errors.Is(err, subscriptiondomain.ErrInvalidStatus),
		errors.Is(err, plandomain.ErrInvalidPlanType),
		errors.Is(err, paymentdomain.ErrInvalidSignature),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
