// Package model 包含了应用的数据模型定义。
package model

import "time"

// 消息角色取值。
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message 代表会话历史中的单条消息。创建后不可变。
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user" 或 "model"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatSession 代表一个会话的全部状态：有序消息历史与活跃时间。
// 历史严格按到达顺序排列，同一会话的并发追加必须串行化。
type ChatSession struct {
	ID             string    `json:"id"`
	Messages       []Message `json:"messages"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// StreamEvent 是流式分发管道中的单个事件。Done 之后不允许再有事件。
type StreamEvent struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// ChatRequest 是 POST /api/chat 的请求体。
type ChatRequest struct {
	Message        string          `json:"message" binding:"required"`
	ChatHistory    []Message       `json:"chatHistory"`
	ConversationID string          `json:"conversationId"`
	Config         *GenerationSpec `json:"config"`
}

// GenerationSpec 是客户端可覆盖的生成参数，零值沿用服务端配置。
type GenerationSpec struct {
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"topP"`
	TopK        int     `json:"topK"`
}

// ChatResponse 是 POST /api/chat 的响应体。
type ChatResponse struct {
	MessageID string       `json:"messageId"`
	Content   string       `json:"content"`
	Done      bool         `json:"done"`
	Metadata  ChatMetadata `json:"metadata"`
}

// ChatMetadata 附带在响应中返回给前端的上下文信息。
type ChatMetadata struct {
	ConversationID string `json:"conversationId"`
	Model          string `json:"model"`
	RAGUsed        bool   `json:"ragUsed"`
}

// RAGRequest 是 POST /api/rag 的请求体。
type RAGRequest struct {
	Query string `json:"query" binding:"required"`
}

// RAGSource 描述一条被引用的知识库条目。
type RAGSource struct {
	Topic     string `json:"topic"`
	Relevance int    `json:"relevance"`
}

// RAGResponse 是 POST /api/rag 的响应体。
type RAGResponse struct {
	Answer  string      `json:"answer"`
	Sources []RAGSource `json:"sources"`
}
