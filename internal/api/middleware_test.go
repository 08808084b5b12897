package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRequireActor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(requireActor())
	router.GET("/whoami", func(c *gin.Context) {
		actor := getActor(c)
		c.JSON(http.StatusOK, gin.H{"user_id": actor.UserID, "role": actor.Role})
	})

	tests := []struct {
		name       string
		userID     string
		role       string
		wantStatus int
	}{
		{"valid buyer", "42", "buyer", http.StatusOK},
		{"valid seller", "7", "seller", http.StatusOK},
		{"unknown role defaults to buyer", "7", "superuser", http.StatusOK},
		{"missing user id", "", "buyer", http.StatusUnauthorized},
		{"non-numeric user id", "abc", "buyer", http.StatusUnauthorized},
		{"zero user id", "0", "buyer", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.userID != "" {
				req.Header.Set("X-User-ID", tt.userID)
			}
			req.Header.Set("X-User-Role", tt.role)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.ErrValidation, http.StatusBadRequest},
		{apperr.ErrNotFound, http.StatusNotFound},
		{apperr.ErrUnauthorized, http.StatusForbidden},
		{apperr.ErrInvalidState, http.StatusConflict},
		{apperr.ErrConflictingTransition, http.StatusConflict},
		{apperr.ErrOrderNotEligible, http.StatusConflict},
		{apperr.ErrPreconditionFailed, http.StatusPreconditionFailed},
		{apperr.ErrInsufficientStock, http.StatusUnprocessableEntity},
		{apperr.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{apperr.ErrVoucherExhausted, http.StatusUnprocessableEntity},
		{apperr.ErrInvalidSignature, http.StatusUnauthorized},
		{apperr.ErrExternalService, http.StatusBadGateway},
		{assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		// wrapped errors map the same way
		wrapped := fmt.Errorf("context: %w", tt.err)
		assert.Equal(t, tt.want, httpStatus(wrapped), "error %v", tt.err)
	}
}

func TestGetActorRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set(actorKey, models.Actor{UserID: 9, Role: models.RoleAdmin})

	actor := getActor(c)
	assert.Equal(t, int64(9), actor.UserID)
	assert.Equal(t, models.RoleAdmin, actor.Role)
}
