package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"zerotrace-go/internal/model"
	"zerotrace-go/pkg/stream"
)

// stubChatService 是测试用的 ChatService 替身。
type stubChatService struct {
	answer string
}

func (s *stubChatService) Chat(_ context.Context, req model.ChatRequest) (model.ChatResponse, error) {
	return model.ChatResponse{
		MessageID: "msg-1",
		Content:   s.answer,
		Done:      true,
		Metadata:  model.ChatMetadata{ConversationID: "conv-1", Model: "stub"},
	}, nil
}

func (s *stubChatService) StreamChat(ctx context.Context, message, conversationID string, _ *model.GenerationSpec) (*stream.Emitter, string, error) {
	em := stream.NewEmitter(8)
	go em.Simulate(ctx, s.answer, time.Millisecond)
	return em, "conv-1", nil
}

func (s *stubChatService) AnswerWithSources(_ context.Context, query string) (model.RAGResponse, error) {
	if strings.Contains(query, "sourdough") {
		return model.RAGResponse{Answer: "No relevant information found in the knowledge base for this query.", Sources: []model.RAGSource{}}, nil
	}
	return model.RAGResponse{
		Answer:  s.answer,
		Sources: []model.RAGSource{{Topic: "Blockchain Verification", Relevance: 7}},
	}, nil
}

func newTestRouter(answer string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	chatHandler := NewChatHandler(&stubChatService{answer: answer})
	ragHandler := NewRAGHandler(&stubChatService{answer: answer})
	r.POST("/api/chat", chatHandler.Chat)
	r.GET("/api/chat/stream", chatHandler.Stream)
	r.POST("/api/rag", ragHandler.Query)
	return r
}

func TestChatEndpointRejectsMissingMessage(t *testing.T) {
	r := newTestRouter("hi")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"conversationId":"c1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "validation_error", body["error"])
	require.NotEmpty(t, body["message"])
}

func TestChatEndpointReturnsResponse(t *testing.T) {
	r := newTestRouter("the answer")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp model.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "the answer", resp.Content)
	require.True(t, resp.Done)
	require.Equal(t, "conv-1", resp.Metadata.ConversationID)
}

func TestStreamEndpointRejectsMissingMessage(t *testing.T) {
	r := newTestRouter("hi")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/chat/stream", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamEndpointEmitsSSEFrames(t *testing.T) {
	r := newTestRouter("alpha beta")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/chat/stream?message=hello", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	require.Equal(t, "conv-1", w.Header().Get("X-Conversation-Id"))

	var frames []model.StreamEvent
	for _, line := range strings.Split(w.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev model.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		frames = append(frames, ev)
	}
	require.Len(t, frames, 3, "2 words -> 2 prefixes + 1 final")
	require.False(t, frames[0].Done)
	require.Equal(t, "alpha", frames[0].Content)
	require.True(t, frames[2].Done)
	require.Equal(t, "alpha beta", frames[2].Content)
}

func TestRAGEndpointRejectsMissingQuery(t *testing.T) {
	r := newTestRouter("hi")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/rag", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRAGEndpointReturnsSources(t *testing.T) {
	r := newTestRouter("anchored on chain")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/rag", strings.NewReader(`{"query":"blockchain verification"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp model.RAGResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "anchored on chain", resp.Answer)
	require.Len(t, resp.Sources, 1)
	require.Equal(t, "Blockchain Verification", resp.Sources[0].Topic)
}

func TestRAGEndpointMissIsValidResponse(t *testing.T) {
	r := newTestRouter("unused")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/rag", strings.NewReader(`{"query":"sourdough bread"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp model.RAGResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(t, resp.Answer, "No relevant information found")
	require.Empty(t, resp.Sources)
}
