package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"zerotrace-go/internal/model"
	"zerotrace-go/internal/service"
	"zerotrace-go/pkg/log"
)

// RAGHandler 处理知识库检索问答请求。
type RAGHandler struct {
	chatService service.ChatService
}

// NewRAGHandler 创建一个新的 RAGHandler 实例。
func NewRAGHandler(chatService service.ChatService) *RAGHandler {
	return &RAGHandler{chatService: chatService}
}

// Query 处理 POST /api/rag。检索无命中是合法结果，返回固定的无结果答复。
func (h *RAGHandler) Query(c *gin.Context) {
	var req model.RAGRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "query is required"})
		return
	}

	resp, err := h.chatService.AnswerWithSources(c.Request.Context(), req.Query)
	if err != nil {
		log.Errorf("处理 RAG 查询失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to process rag query"})
		return
	}
	c.JSON(http.StatusOK, resp)
}
