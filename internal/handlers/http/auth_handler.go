package http

import (
	"net/http"
	"strings"
	"time"

	"localmedia/internal/core/services"
	"localmedia/pkg/errors"
	"localmedia/pkg/validation"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	tokens   services.TokenService
	ttl      time.Duration
	subjects map[string]bool
}

// NewAuthHandler issues control API tokens. When subjects is non-empty only
// those subjects may obtain one.
func NewAuthHandler(tokens services.TokenService, ttl time.Duration, subjects []string) *AuthHandler {
	h := &AuthHandler{
		tokens: tokens,
		ttl:    ttl,
	}
	if len(subjects) > 0 {
		h.subjects = make(map[string]bool, len(subjects))
		for _, s := range subjects {
			h.subjects[s] = true
		}
	}
	return h
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/auth")
	{
		api.POST("/token", h.IssueToken)
	}
}

type TokenRequest struct {
	Subject string `json:"subject" binding:"required,max=64"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.Subject = strings.TrimSpace(req.Subject)
	if err := validation.ValidateSubject(req.Subject); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if h.subjects != nil && !h.subjects[req.Subject] {
		c.Error(errors.NewForbiddenError("subject may not request tokens"))
		return
	}

	token, err := h.tokens.GenerateToken(req.Subject)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to generate token", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subject":      req.Subject,
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(h.ttl / time.Second),
	})
}
