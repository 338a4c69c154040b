package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/filipjov/askoro/internal/pkg/response"
	"github.com/filipjov/askoro/internal/server/middleware"
	"github.com/filipjov/askoro/internal/service"
)

// SyncHandler triggers on-demand synchronization of a connected data source.
type SyncHandler struct {
	sync *service.SyncService
}

func NewSyncHandler(sync *service.SyncService) *SyncHandler {
	return &SyncHandler{sync: sync}
}

type syncRequest struct {
	RootFolderURL string `json:"rootFolderUrl"`
}

// Sync handles POST /api/sync/{provider}. The body scopes the run to a
// single connection by its root locator.
func (h *SyncHandler) Sync(provider service.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req syncRequest
		_ = c.ShouldBindJSON(&req)
		if req.RootFolderURL == "" {
			response.BadRequest(c, "rootFolderUrl is required")
			return
		}

		result, err := h.sync.Sync(c.Request.Context(), provider, middleware.UserID(c), req.RootFolderURL)
		if response.ErrorFrom(c, err) {
			return
		}
		response.Success(c, result)
	}
}
