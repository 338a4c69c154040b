package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/filipjov/askoro/internal/pkg/response"
	"github.com/filipjov/askoro/internal/service"
)

// KnowledgeBaseHandler serves retrieval-augmented queries against the
// synced knowledge base.
type KnowledgeBaseHandler struct {
	kb *service.KnowledgeBaseService
}

func NewKnowledgeBaseHandler(kb *service.KnowledgeBaseService) *KnowledgeBaseHandler {
	return &KnowledgeBaseHandler{kb: kb}
}

type knowledgeBaseQueryRequest struct {
	Query     string `json:"query" binding:"required"`
	SessionID string `json:"sessionId"`
}

// Query handles POST /api/knowledge-base-query.
func (h *KnowledgeBaseHandler) Query(c *gin.Context) {
	var req knowledgeBaseQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "query is required")
		return
	}

	answer, err := h.kb.Query(c.Request.Context(), req.Query, req.SessionID)
	if response.ErrorFrom(c, err) {
		return
	}
	response.Success(c, gin.H{
		"output":    gin.H{"text": answer.Text},
		"citations": answer.Citations,
		"sessionId": answer.SessionID,
	})
}
