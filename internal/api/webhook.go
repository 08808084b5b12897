package api

import (
	"errors"
	"net/http"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/service"

	"github.com/gin-gonic/gin"
)

// gatewayCallback receives the payment gateway's asynchronous confirmation.
// The response body echoes the gateway's own resultCode convention: 0 on
// acceptance, non-zero otherwise. Duplicates are accepted so the gateway
// stops retrying.
func (h *Handler) gatewayCallback(c *gin.Context) {
	var cb service.GatewayCallback
	if err := c.ShouldBindJSON(&cb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"resultCode": 1,
			"message":    "malformed payload",
		})
		return
	}

	err := h.paymentService.HandleGatewayCallback(c.Request.Context(), &cb)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrInvalidSignature):
			c.JSON(http.StatusUnauthorized, gin.H{
				"resultCode": 1,
				"message":    "invalid signature",
			})
		case errors.Is(err, apperr.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"resultCode": 1,
				"message":    "unknown order",
			})
		case errors.Is(err, apperr.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{
				"resultCode": 1,
				"message":    err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"resultCode": 1,
				"message":    "internal error",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"resultCode": 0,
		"message":    "success",
	})
}
