// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"zerotrace-go/internal/config"
)

// ErrMissingCredential 表示启动时未提供模型 API 凭证。
var ErrMissingCredential = errors.New("llm: api key is not configured")

// UpstreamError 包装远端模型调用的失败（鉴权、网络、响应格式错误）。
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("llm upstream error during %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// 生成参数默认值。
const (
	DefaultMaxTokens   = 2048
	DefaultTemperature = 0.7
)

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为，零值字段在请求前替换为默认值。
type GenerationParams struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int
}

// normalize 应用默认值并收敛非法取值。
func (g GenerationParams) normalize() GenerationParams {
	if g.MaxTokens <= 0 {
		g.MaxTokens = DefaultMaxTokens
	}
	if g.Temperature <= 0 || g.Temperature > 1 {
		g.Temperature = DefaultTemperature
	}
	return g
}

// Client defines the interface for an LLM client.
type Client interface {
	// Chat 以 role-based 消息调用聊天接口，返回完整响应文本。
	Chat(ctx context.Context, messages []Message, gen GenerationParams) (string, error)
	// StreamChat 以流式方式调用聊天接口，每个增量分块回调一次 onChunk。
	StreamChat(ctx context.Context, messages []Message, gen GenerationParams, onChunk func(string) error) error
	// Demo 报告客户端是否运行在演示模式（永不调用远端 API）。
	Demo() bool
	// Model 返回配置的模型名。
	Model() string
}

// NewClient 根据配置创建 LLM 客户端。
// 凭证缺失时按 missing_key_policy 处理：fatal 返回 ErrMissingCredential，
// demo 返回一个从不外呼的演示客户端。策略是显式配置，而非静默回退。
func NewClient(cfg config.LLMConfig) (Client, error) {
	if cfg.APIKey == "" {
		if cfg.MissingKeyPolicy == config.MissingKeyDemo {
			return &demoClient{model: cfg.Model}, nil
		}
		return nil, ErrMissingCredential
	}
	return &openAIClient{
		cfg:    cfg,
		client: &http.Client{},
	}, nil
}

// openAIClient 调用 OpenAI 兼容的 chat/completions 接口（DeepSeek 等）。
type openAIClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	TopP        *float64  `json:"top_p,omitempty"`
	TopK        *int      `json:"top_k,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *openAIClient) Demo() bool    { return false }
func (c *openAIClient) Model() string { return c.cfg.Model }

func (c *openAIClient) buildRequest(ctx context.Context, messages []Message, gen GenerationParams, stream bool) (*http.Request, error) {
	gen = gen.normalize()
	reqBody := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Stream:      stream,
		MaxTokens:   gen.MaxTokens,
		Temperature: gen.Temperature,
	}
	if gen.TopP > 0 {
		p := gen.TopP
		reqBody.TopP = &p
	}
	if gen.TopK > 0 {
		k := gen.TopK
		reqBody.TopK = &k
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

// Chat 以非流式方式调用远端并返回完整文本。
func (c *openAIClient) Chat(ctx context.Context, messages []Message, gen GenerationParams) (string, error) {
	req, err := c.buildRequest(ctx, messages, gen, false)
	if err != nil {
		return "", &UpstreamError{Op: "chat", Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &UpstreamError{Op: "chat", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", &UpstreamError{Op: "chat", Err: fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &UpstreamError{Op: "chat", Err: fmt.Errorf("failed to decode chat response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", &UpstreamError{Op: "chat", Err: errors.New("chat api returned no choices")}
	}
	return parsed.Choices[0].Message.Content, nil
}

// StreamChat 调用流式接口并逐行解析 SSE 分块。
func (c *openAIClient) StreamChat(ctx context.Context, messages []Message, gen GenerationParams, onChunk func(string) error) error {
	req, err := c.buildRequest(ctx, messages, gen, true)
	if err != nil {
		return &UpstreamError{Op: "stream", Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &UpstreamError{Op: "stream", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return &UpstreamError{Op: "stream", Err: fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))}
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return &UpstreamError{Op: "stream", Err: fmt.Errorf("failed to read from stream: %w", err)}
		}

		if strings.HasPrefix(line, "data: ") {
			data := strings.TrimPrefix(line, "data: ")
			if strings.TrimSpace(data) == "[DONE]" {
				break
			}

			var chunk chatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}

			if len(chunk.Choices) > 0 {
				content := chunk.Choices[0].Delta.Content
				if content == "" {
					continue
				}
				if err := onChunk(content); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
