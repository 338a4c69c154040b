package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/filipjov/askoro/internal/pkg/response"
	"github.com/filipjov/askoro/internal/server/middleware"
	"github.com/filipjov/askoro/internal/service"
)

// DataSourceHandler serves the connection listing and management endpoints,
// including the Google Drive folder picker.
type DataSourceHandler struct {
	connections *service.ConnectionService
}

func NewDataSourceHandler(connections *service.ConnectionService) *DataSourceHandler {
	return &DataSourceHandler{connections: connections}
}

// List handles GET /api/data-sources.
func (h *DataSourceHandler) List(c *gin.Context) {
	summaries, err := h.connections.List(c.Request.Context(), middleware.UserID(c))
	if response.ErrorFrom(c, err) {
		return
	}
	response.Success(c, gin.H{"dataSources": summaries})
}

// Delete handles DELETE /api/data-sources/:id.
func (h *DataSourceHandler) Delete(c *gin.Context) {
	err := h.connections.Delete(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if response.ErrorFrom(c, err) {
		return
	}
	response.Success(c, gin.H{"deleted": true})
}

// ListDriveFolders handles GET /api/google/folders.
func (h *DataSourceHandler) ListDriveFolders(c *gin.Context) {
	folders, err := h.connections.ListDriveFolders(c.Request.Context(), middleware.UserID(c))
	if response.ErrorFrom(c, err) {
		return
	}
	response.Success(c, gin.H{"folders": folders})
}

type selectFolderRequest struct {
	FolderID   string `json:"folderId"`
	FolderName string `json:"folderName"`
	FolderURL  string `json:"folderUrl"`
}

// SelectDriveFolder handles POST /api/google/select-folder.
func (h *DataSourceHandler) SelectDriveFolder(c *gin.Context) {
	var req selectFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid folder selection")
		return
	}

	selection, err := h.connections.SelectDriveFolder(c.Request.Context(), middleware.UserID(c), req.FolderID, req.FolderName, req.FolderURL)
	if response.ErrorFrom(c, err) {
		return
	}
	response.Success(c, selection)
}
