package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/tenantly/portal/backend/config"
	"github.com/tenantly/portal/backend/middleware"
	"github.com/tenantly/portal/backend/model"
	"github.com/tenantly/portal/backend/pkg/apperr"
	"github.com/tenantly/portal/backend/pkg/logger"
	"github.com/tenantly/portal/backend/service"
)

type AuthHandler struct {
	store *service.Store
	auth  *config.AuthConfig
}

func NewAuthHandler(store *service.Store, auth *config.AuthConfig) *AuthHandler {
	return &AuthHandler{store: store, auth: auth}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt string      `json:"expires_at"`
	User      *model.User `json:"user"`
}

// Login handles user login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.NewValidationError("Invalid request", err.Error()))
		return
	}

	ctx := c.Request.Context()
	invalid := apperr.NewUnauthorizedError("Invalid email or password")

	user, err := h.store.FindUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if appErr := apperr.GetAppError(err); appErr != nil && appErr.Type == apperr.ErrorTypeNotFound {
			apperr.Respond(c, invalid)
			return
		}
		apperr.Respond(c, err)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			logger.Warn(ctx, "unusable password hash", "user_id", user.ID, "error", err)
		}
		apperr.Respond(c, invalid)
		return
	}

	token, expiresAt, err := middleware.GenerateToken(user.ID, user.Role, h.auth)
	if err != nil {
		apperr.Respond(c, apperr.NewInternalError("Failed to generate token", err))
		return
	}

	logger.Info(ctx, "user logged in", "user_id", user.ID, "role", user.Role)
	c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		User:      user,
	})
}

// GetCurrentUser returns the caller's account and, for tenants, their property
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	ctx := c.Request.Context()

	user, err := h.store.GetUser(ctx, middleware.GetUserID(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	resp := gin.H{"user": user}
	if user.PropertyID != nil {
		property, err := h.store.GetProperty(ctx, *user.PropertyID)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		resp["property"] = property
	}
	c.JSON(http.StatusOK, resp)
}
