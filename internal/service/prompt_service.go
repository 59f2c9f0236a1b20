package service

import (
	"fmt"
	"strings"

	"zerotrace-go/internal/model"
	"zerotrace-go/pkg/llm"
)

// Persona 是固定的系统角色指令，所有请求都会前置。
const Persona = "You are the ZeroTrace assistant, the support agent for a certified " +
	"data-erasure platform. ZeroTrace performs NIST SP 800-88 compliant device " +
	"sanitization and anchors every erasure certificate on a public blockchain for " +
	"independent verification. Answer questions about secure data wiping, erasure " +
	"certificates, compliance and the platform itself. Be concise and factual; if " +
	"you are unsure, say so rather than inventing capabilities."

// knowledgeBlockHeader 与结尾指令包裹检索出的参考资料。
const (
	knowledgeBlockHeader = "Relevant reference information:"
	knowledgeBlockFooter = "Answer the user's question using the reference information above together with your general knowledge."
)

// PromptService 把角色指令、检索结果与用户消息组装成一次模型请求。
type PromptService interface {
	// Assemble 构建最终提示词。ragEnabled 时检索知识库并前置参考资料块；
	// 检索为空或 RAG 关闭时，提示词为角色指令加原始用户消息。
	// 返回值附带本次使用的检索结果（供来源标注）。
	Assemble(userMessage string, ragEnabled bool) (string, []model.RetrievalResult)
	// Compose 把会话历史与最终提示词组装为角色消息序列。
	Compose(history []model.Message, finalPrompt string) []llm.Message
}

type promptService struct {
	knowledge KnowledgeService
}

// NewPromptService 创建提示词组装服务。
func NewPromptService(knowledge KnowledgeService) PromptService {
	return &promptService{knowledge: knowledge}
}

func (s *promptService) Assemble(userMessage string, ragEnabled bool) (string, []model.RetrievalResult) {
	var results []model.RetrievalResult
	if ragEnabled {
		results = s.knowledge.Search(userMessage)
	}
	if len(results) == 0 {
		return Persona + "\n\n" + userMessage, results
	}

	var b strings.Builder
	b.WriteString(Persona)
	b.WriteString("\n\n")
	b.WriteString(knowledgeBlockHeader)
	b.WriteString("\n")
	for _, r := range results {
		b.WriteString(fmt.Sprintf("- %s: %s\n", r.Topic, r.Content))
	}
	b.WriteString("\n")
	b.WriteString(knowledgeBlockFooter)
	b.WriteString("\n\n")
	b.WriteString(userMessage)
	return b.String(), results
}

func (s *promptService) Compose(history []model.Message, finalPrompt string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		role := "user"
		if m.Role == model.RoleModel {
			role = "assistant"
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Text})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: finalPrompt})
	return msgs
}
