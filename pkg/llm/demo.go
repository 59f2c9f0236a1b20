package llm

import (
	"context"
	"strings"
)

// demoClient 是演示模式下的 LLM 客户端：永不外呼，基于关键词返回固定文案。
// 用于未配置凭证但 missing_key_policy=demo 的部署。
type demoClient struct {
	model string
}

const demoDefaultAnswer = "I'm running in demo mode without a live model connection. " +
	"ZeroTrace provides certified data erasure with blockchain-anchored verification — " +
	"ask me about sanitization methods, erasure certificates, or compliance standards."

var demoAnswers = []struct {
	needle string
	answer string
}{
	{"blockchain", "Every ZeroTrace erasure produces a certificate whose fingerprint is anchored on a public blockchain, so the proof of erasure is independently verifiable and tamper-evident."},
	{"certificate", "After each wipe ZeroTrace issues a digitally signed erasure certificate listing the device, the method used and the verification result."},
	{"wipe", "ZeroTrace sanitizes drives following NIST SP 800-88 guidelines, with multi-pass overwrite for magnetic media and firmware-level secure erase for SSDs."},
	{"erase", "ZeroTrace sanitizes drives following NIST SP 800-88 guidelines, with multi-pass overwrite for magnetic media and firmware-level secure erase for SSDs."},
	{"compliance", "ZeroTrace erasure reports satisfy GDPR, HIPAA and ISO 27001 audit requirements out of the box."},
	{"price", "ZeroTrace offers per-device pay-as-you-go pricing and volume enterprise licenses; contact sales for a quote."},
}

func (c *demoClient) Demo() bool { return true }

func (c *demoClient) Model() string {
	if c.model == "" {
		return "demo"
	}
	return c.model + " (demo)"
}

// Chat 返回与最后一条用户消息匹配的固定答案。
func (c *demoClient) Chat(ctx context.Context, messages []Message, gen GenerationParams) (string, error) {
	query := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			query = strings.ToLower(messages[i].Content)
			break
		}
	}
	for _, a := range demoAnswers {
		if strings.Contains(query, a.needle) {
			return a.answer, nil
		}
	}
	return demoDefaultAnswer, nil
}

// StreamChat 在演示模式下以单个分块交付完整答案，由上层的模拟流式负责切分节奏。
func (c *demoClient) StreamChat(ctx context.Context, messages []Message, gen GenerationParams, onChunk func(string) error) error {
	text, err := c.Chat(ctx, messages, gen)
	if err != nil {
		return err
	}
	return onChunk(text)
}
