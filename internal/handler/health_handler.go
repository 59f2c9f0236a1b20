package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"zerotrace-go/internal/config"
	"zerotrace-go/pkg/llm"
)

// HealthHandler 提供存活与配置状态探针。
type HealthHandler struct {
	llmClient llm.Client
}

// NewHealthHandler 创建一个新的 HealthHandler 实例。
func NewHealthHandler(llmClient llm.Client) *HealthHandler {
	return &HealthHandler{llmClient: llmClient}
}

// Health 处理 GET /health。
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"model":    h.llmClient.Model(),
		"demoMode": h.llmClient.Demo(),
		"features": gin.H{
			"streaming":  config.Conf.Features.Streaming,
			"rag":        config.Conf.Features.RAG,
			"markdown":   config.Conf.Features.Markdown,
			"fileUpload": config.Conf.Features.FileUpload,
			"debug":      config.Conf.Features.Debug,
		},
	})
}
