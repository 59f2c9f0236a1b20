package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"zerotrace-go/internal/config"
)

func testConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "deepseek-chat",
	}
}

func TestChatReturnsFullText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header: %s", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Fatalf("expected non-streaming request")
		}
		// 零值参数被替换为默认值
		if req.MaxTokens != DefaultMaxTokens {
			t.Fatalf("max_tokens = %d, want %d", req.MaxTokens, DefaultMaxTokens)
		}
		if req.Temperature != DefaultTemperature {
			t.Fatalf("temperature = %v, want %v", req.Temperature, DefaultTemperature)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"wiped clean"}}]}`)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	text, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hello"}}, GenerationParams{})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if text != "wiped clean" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestChatUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key"}}`)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	_, err = client.Chat(context.Background(), []Message{{Role: "user", Content: "hello"}}, GenerationParams{})
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
}

func TestStreamChatDeliversChunks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Zero\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Trace\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	var chunks []string
	err = client.StreamChat(context.Background(), []Message{{Role: "user", Content: "hello"}}, GenerationParams{}, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}
	if len(chunks) != 2 || chunks[0] != "Zero" || chunks[1] != "Trace" {
		t.Fatalf("unexpected chunks: %v", chunks)
	}
}

func TestStreamChatCallbackErrorStopsStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Zero\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Trace\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client, _ := NewClient(testConfig(server.URL))
	sentinel := errors.New("consumer gone")
	calls := 0
	err := client.StreamChat(context.Background(), []Message{{Role: "user", Content: "hello"}}, GenerationParams{}, func(string) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("callback called %d times, want 1", calls)
	}
}

func TestMissingKeyFatalPolicy(t *testing.T) {
	_, err := NewClient(config.LLMConfig{MissingKeyPolicy: config.MissingKeyFatal})
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestMissingKeyDemoPolicy(t *testing.T) {
	client, err := NewClient(config.LLMConfig{Model: "deepseek-chat", MissingKeyPolicy: config.MissingKeyDemo})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if !client.Demo() {
		t.Fatalf("expected demo mode client")
	}
	// 演示模式永不外呼：没有可用的远端也能回答
	text, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "how does blockchain verification work?"}}, GenerationParams{})
	if err != nil {
		t.Fatalf("demo Chat failed: %v", err)
	}
	if text == "" {
		t.Fatalf("demo answer is empty")
	}
}
