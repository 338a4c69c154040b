// Package handler holds the gin HTTP handlers. Handlers validate input,
// delegate to services and shape responses; no business logic lives here.
package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/filipjov/askoro/internal/pkg/response"
	"github.com/filipjov/askoro/internal/server/middleware"
	"github.com/filipjov/askoro/internal/service"
)

// OAuthHandler serves the per-provider OAuth start and callback endpoints.
type OAuthHandler struct {
	oauth *service.OAuthService
}

func NewOAuthHandler(oauth *service.OAuthService) *OAuthHandler {
	return &OAuthHandler{oauth: oauth}
}

type oauthStartRequest struct {
	RootFolderURL string `json:"rootFolderUrl" binding:"required"`
}

// Start handles POST /api/{provider}/oauth/start.
func (h *OAuthHandler) Start(provider service.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req oauthStartRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "a valid rootFolderUrl is required")
			return
		}

		result, err := h.oauth.Start(c.Request.Context(), middleware.UserID(c), provider, req.RootFolderURL)
		if response.ErrorFrom(c, err) {
			return
		}
		response.Success(c, result)
	}
}

// Callback handles GET /api/{provider}/oauth/callback. Every outcome is a
// browser redirect back to the data page.
func (h *OAuthHandler) Callback(provider service.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		outcome := h.oauth.HandleCallback(
			c.Request.Context(),
			middleware.UserID(c),
			provider,
			c.Query("code"),
			c.Query("state"),
			c.Query("error"),
		)
		c.Redirect(302, outcome.RedirectPath())
	}
}
