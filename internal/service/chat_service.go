package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"zerotrace-go/internal/model"
	"zerotrace-go/internal/repository"
	"zerotrace-go/pkg/kafka"
	"zerotrace-go/pkg/llm"
	"zerotrace-go/pkg/log"
	"zerotrace-go/pkg/stream"
)

// DefaultFallbackMessage 是上游模型调用失败时返回给用户的兜底文案。
const DefaultFallbackMessage = "I'm having trouble reaching the language model right now. " +
	"Please try again in a moment — your message has been kept in this conversation."

// noRetrievalAnswer 是 RAG 查询无命中时的固定答复。
const noRetrievalAnswer = "No relevant information found in the knowledge base for this query."

// ChatOptions 汇集聊天管道的运行参数，由 main 从配置装配。
type ChatOptions struct {
	StreamingEnabled bool
	RAGEnabled       bool
	StreamInterval   time.Duration
	FallbackMessage  string
	Generation       llm.GenerationParams
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// Chat 处理一次批式问答并在完成后追加会话历史。
	Chat(ctx context.Context, req model.ChatRequest) (model.ChatResponse, error)
	// StreamChat 启动一次流式问答。事件生产在内部 goroutine 中进行，
	// 调用方消费返回的 Emitter；ctx 取消会立即停止事件生产。
	StreamChat(ctx context.Context, message, conversationID string, spec *model.GenerationSpec) (*stream.Emitter, string, error)
	// AnswerWithSources 处理 RAG 查询，返回答案与来源列表。
	// 检索无命中不是错误：返回固定的无结果答复。
	AnswerWithSources(ctx context.Context, query string) (model.RAGResponse, error)
}

type chatService struct {
	store     repository.SessionStore
	prompts   PromptService
	knowledge KnowledgeService
	llmClient llm.Client
	opts      ChatOptions
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(store repository.SessionStore, prompts PromptService, knowledge KnowledgeService, llmClient llm.Client, opts ChatOptions) ChatService {
	if opts.FallbackMessage == "" {
		opts.FallbackMessage = DefaultFallbackMessage
	}
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = stream.DefaultInterval
	}
	return &chatService{
		store:     store,
		prompts:   prompts,
		knowledge: knowledge,
		llmClient: llmClient,
		opts:      opts,
	}
}

// Chat 协调一次完整的批式问答：解析会话 → 组装提示词 → 调用模型 → 追加历史。
func (s *chatService) Chat(ctx context.Context, req model.ChatRequest) (model.ChatResponse, error) {
	convID, history, err := s.beginExchange(ctx, req.ConversationID, req.ChatHistory, req.Message)
	if err != nil {
		return model.ChatResponse{}, err
	}

	prompt, results := s.prompts.Assemble(req.Message, s.opts.RAGEnabled)
	messages := s.prompts.Compose(history, prompt)

	text, genErr := s.llmClient.Chat(ctx, messages, s.generationParams(req.Config))
	if genErr != nil {
		// 上游失败在本地恢复为兜底文案，不让请求失败
		log.Errorf("模型调用失败，返回兜底文案: %v", genErr)
		text = s.opts.FallbackMessage
	} else {
		s.commitModelTurn(convID, req.Message, text)
	}

	return model.ChatResponse{
		MessageID: uuid.NewString(),
		Content:   text,
		Done:      true,
		Metadata: model.ChatMetadata{
			ConversationID: convID,
			Model:          s.llmClient.Model(),
			RAGUsed:        len(results) > 0,
		},
	}, nil
}

// StreamChat 启动流式问答。分发模式在流启动时选定：配置开启流式且非演示
// 模式时走透传，否则对批式结果做模拟回放。透传中途的传输错误触发回退，
// 以模拟模式播放已收到的部分文本或兜底文案，而不是向客户端抛错。
func (s *chatService) StreamChat(ctx context.Context, message, conversationID string, spec *model.GenerationSpec) (*stream.Emitter, string, error) {
	convID, history, err := s.beginExchange(ctx, conversationID, nil, message)
	if err != nil {
		return nil, "", err
	}

	prompt, _ := s.prompts.Assemble(message, s.opts.RAGEnabled)
	messages := s.prompts.Compose(history, prompt)
	gen := s.generationParams(spec)

	em := stream.NewEmitter(16)
	go s.produce(ctx, em, convID, message, messages, gen)
	return em, convID, nil
}

// produce 是流式事件的生产侧，运行在独立 goroutine 中。
func (s *chatService) produce(ctx context.Context, em *stream.Emitter, convID, question string, messages []llm.Message, gen llm.GenerationParams) {
	if s.opts.StreamingEnabled && !s.llmClient.Demo() {
		var b strings.Builder
		err := s.llmClient.StreamChat(ctx, messages, gen, func(chunk string) error {
			b.WriteString(chunk)
			return em.Send(ctx, chunk)
		})
		if err == nil {
			if em.Finish(ctx, b.String()) == nil {
				s.commitModelTurn(convID, question, b.String())
			}
			return
		}
		if ctx.Err() != nil || errors.Is(err, stream.ErrDone) {
			// 客户端已断开：Emitter 已终止，直接收尾
			return
		}
		// 回退转换：透传传输失败降级为模拟回放
		log.Warnf("流式透传失败，回退为模拟播放: %v", err)
		text := b.String()
		if text == "" {
			text = s.opts.FallbackMessage
		}
		if em.Simulate(ctx, text, s.opts.StreamInterval) == nil && text != s.opts.FallbackMessage {
			s.commitModelTurn(convID, question, text)
		}
		return
	}

	// 模拟模式：先取完整文本，再按词回放
	text, err := s.llmClient.Chat(ctx, messages, gen)
	committed := err == nil
	if err != nil {
		log.Errorf("模型调用失败，模拟播放兜底文案: %v", err)
		text = s.opts.FallbackMessage
	}
	if em.Simulate(ctx, text, s.opts.StreamInterval) == nil && committed {
		s.commitModelTurn(convID, question, text)
	}
}

// AnswerWithSources 处理 POST /api/rag 的检索问答。
// 生成调用使用已组装好的参考资料块并且不再触发检索，避免递归 RAG。
func (s *chatService) AnswerWithSources(ctx context.Context, query string) (model.RAGResponse, error) {
	results := s.knowledge.Search(query)
	if len(results) == 0 {
		return model.RAGResponse{Answer: noRetrievalAnswer, Sources: []model.RAGSource{}}, nil
	}

	sources := make([]model.RAGSource, 0, len(results))
	for _, r := range results {
		sources = append(sources, model.RAGSource{Topic: r.Topic, Relevance: r.Relevance})
	}

	prompt, _ := s.prompts.Assemble(query, true)
	answer, err := s.llmClient.Chat(ctx, s.prompts.Compose(nil, prompt), s.generationParams(nil))
	if err != nil {
		// 上游失败时降级为直接给出最相关的条目内容
		log.Errorf("RAG 生成失败，降级为条目原文: %v", err)
		answer = results[0].Content
	}
	return model.RAGResponse{Answer: answer, Sources: sources}, nil
}

// beginExchange 解析或创建会话、读取历史，并先行追加用户消息。
// 即使后续生成被取消，用户消息也保留在历史中。
func (s *chatService) beginExchange(ctx context.Context, conversationID string, clientHistory []model.Message, message string) (string, []model.Message, error) {
	convID, err := s.store.GetOrCreate(ctx, conversationID)
	if err != nil {
		return "", nil, err
	}
	history, err := s.store.History(ctx, convID)
	if err != nil {
		log.Errorf("读取会话历史失败: %v", err)
		history = []model.Message{}
	}
	// 新会话允许以客户端携带的历史作为上下文
	if len(history) == 0 && len(clientHistory) > 0 {
		history = clientHistory
	}

	userMsg := model.Message{
		ID:        uuid.NewString(),
		Role:      model.RoleUser,
		Text:      message,
		Timestamp: time.Now(),
	}
	if err := s.store.AppendTurns(ctx, convID, userMsg); err != nil {
		log.Errorf("追加用户消息失败: %v", err)
	}
	return convID, history, nil
}

// commitModelTurn 在生成成功完成后追加模型消息并上报对话事件。
// 使用后台上下文：即使原始请求已取消，完成的答案也应当入库。
func (s *chatService) commitModelTurn(convID, question, answer string) {
	if answer == "" {
		return
	}
	modelMsg := model.Message{
		ID:        uuid.NewString(),
		Role:      model.RoleModel,
		Text:      answer,
		Timestamp: time.Now(),
	}
	if err := s.store.AppendTurns(context.Background(), convID, modelMsg); err != nil {
		log.Errorf("追加模型消息失败: %v", err)
	}
	kafka.ProduceTranscript(kafka.TranscriptEvent{
		ConversationID: convID,
		Question:       question,
		Answer:         answer,
		Model:          s.llmClient.Model(),
		Timestamp:      time.Now(),
	})
}

// generationParams 合并服务端默认与客户端覆盖的生成参数。
func (s *chatService) generationParams(spec *model.GenerationSpec) llm.GenerationParams {
	gen := s.opts.Generation
	if spec == nil {
		return gen
	}
	if spec.MaxTokens > 0 {
		gen.MaxTokens = spec.MaxTokens
	}
	if spec.Temperature > 0 && spec.Temperature <= 1 {
		gen.Temperature = spec.Temperature
	}
	if spec.TopP > 0 {
		gen.TopP = spec.TopP
	}
	if spec.TopK > 0 {
		gen.TopK = spec.TopK
	}
	return gen
}
