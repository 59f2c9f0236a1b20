// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"zerotrace-go/internal/model"
	"zerotrace-go/internal/service"
	"zerotrace-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理聊天请求：批式、SSE 流式与 WebSocket。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat 处理 POST /api/chat 的批式问答请求。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "message is required"})
		return
	}

	resp, err := h.chatService.Chat(c.Request.Context(), req)
	if err != nil {
		log.Errorf("处理聊天请求失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to process chat request"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Stream 处理 GET /api/chat/stream 的 SSE 流式请求。
// 客户端断开时请求上下文被取消，事件生产立即停止。
func (h *ChatHandler) Stream(c *gin.Context) {
	message := c.Query("message")
	if message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "message query parameter is required"})
		return
	}
	conversationID := c.Query("conversationId")

	em, convID, err := h.chatService.StreamChat(c.Request.Context(), message, conversationID, nil)
	if err != nil {
		log.Errorf("启动流式响应失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to start stream"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Conversation-Id", convID)
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	for ev := range em.Events() {
		b, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", b); err != nil {
			// 写失败说明客户端已断开，生产侧由 ctx 取消收尾
			return
		}
		c.Writer.Flush()
	}
}

// wsFrame 是 WebSocket 端点的入站消息。
type wsFrame struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

// ServeWS 处理一个传入的 WebSocket 连接。每条入站消息触发一次流式
// 问答；{"type":"stop"} 指令取消当前进行中的流。
func (h *ChatHandler) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Info("WebSocket 连接已建立")

	var (
		mu         sync.Mutex
		cancelCur  context.CancelFunc
		writeMutex sync.Mutex
	)
	stopCurrent := func() {
		mu.Lock()
		if cancelCur != nil {
			cancelCur()
			cancelCur = nil
		}
		mu.Unlock()
	}
	defer stopCurrent()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			writeWS(conn, &writeMutex, gin.H{"error": "validation_error", "message": "invalid frame"})
			continue
		}

		if frame.Type == "stop" {
			stopCurrent()
			writeWS(conn, &writeMutex, gin.H{"type": "stop", "message": "response stopped"})
			continue
		}

		if frame.Message == "" {
			writeWS(conn, &writeMutex, gin.H{"error": "validation_error", "message": "message is required"})
			continue
		}

		// 取消上一个仍在进行的流，再启动新的
		stopCurrent()
		ctx, cancel := context.WithCancel(c.Request.Context())
		mu.Lock()
		cancelCur = cancel
		mu.Unlock()

		em, convID, err := h.chatService.StreamChat(ctx, frame.Message, frame.ConversationID, nil)
		if err != nil {
			log.Errorf("启动流式响应失败: %v", err)
			writeWS(conn, &writeMutex, gin.H{"error": "internal_error", "message": "failed to start stream"})
			cancel()
			continue
		}

		go func() {
			defer cancel()
			for ev := range em.Events() {
				payload := gin.H{"content": ev.Content, "done": ev.Done, "conversationId": convID}
				if !writeWS(conn, &writeMutex, payload) {
					return
				}
			}
		}()
	}
}

// writeWS 序列化并写出一帧，返回写入是否成功。
func writeWS(conn *websocket.Conn, mu *sync.Mutex, payload gin.H) bool {
	b, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	mu.Lock()
	defer mu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("写 WebSocket 消息失败: %v", err)
		return false
	}
	return true
}
