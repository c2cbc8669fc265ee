package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"zhiwen-go/internal/config"
	"zhiwen-go/internal/model"
	"zhiwen-go/internal/repository"
	"zhiwen-go/pkg/llm"
	"zhiwen-go/pkg/log"
)

// ErrThreadNotFound 表示线程不存在或不属于当前用户。
var ErrThreadNotFound = errors.New("thread not found")

const chatSystemPrompt = `You are a helpful assistant that answers questions using the user's uploaded documents. When document context is available, ground your answer in it and say so when the documents do not contain the answer. Be concise and accurate.`

const titleSystemPrompt = "Generate a concise 3-5 word title for a conversation. Return ONLY the title, no quotes or punctuation."

// ChatService 接口定义了会话编排操作。
type ChatService interface {
	// Stream 处理一轮对话并返回事件流。
	// 校验失败（如线程不存在）同步返回错误；之后的所有失败都转换为
	// 流内的 error 事件。channel 由生产者在结束或取消时关闭。
	Stream(ctx context.Context, userID, threadID, userMessage string) (<-chan model.StreamEvent, error)
}

type chatService struct {
	llmClient     llm.Client
	searchService SearchService
	docRepo       repository.DocumentRepository
	threadRepo    repository.ThreadRepository
	ragCfg        config.RAGConfig
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	llmClient llm.Client,
	searchService SearchService,
	docRepo repository.DocumentRepository,
	threadRepo repository.ThreadRepository,
	ragCfg config.RAGConfig,
) ChatService {
	return &chatService{
		llmClient:     llmClient,
		searchService: searchService,
		docRepo:       docRepo,
		threadRepo:    threadRepo,
		ragCfg:        ragCfg,
	}
}

// roundOutcome 是工具循环中单轮的类型化结果。
type roundOutcome int

const (
	roundContinue roundOutcome = iota // 模型请求了工具, 带结果继续下一轮
	roundFinal                        // 模型未请求工具, 进入最终流式回答
	roundError                        // 后端调用失败, 终止本轮对话
)

func (s *chatService) Stream(ctx context.Context, userID, threadID, userMessage string) (<-chan model.StreamEvent, error) {
	thread, err := s.threadRepo.FindThreadByIDAndUser(threadID, userID)
	if err != nil {
		return nil, fmt.Errorf("查询线程失败: %w", err)
	}
	if thread == nil {
		return nil, ErrThreadNotFound
	}

	events := make(chan model.StreamEvent, 16)
	go s.produce(ctx, events, userID, threadID, userMessage)
	return events, nil
}

// produce 是会话编排的生产者协程。向 events 写入事件并在结束时关闭它；
// 消费方断开（ctx 取消）时停止生产, 除已落库的消息外无其他副作用。
func (s *chatService) produce(ctx context.Context, events chan<- model.StreamEvent, userID, threadID, userMessage string) {
	defer close(events)

	log.Infof("[ChatService] 开始处理对话轮次, thread: %s, user: %s", threadID, userID)

	history, err := s.threadRepo.FindMessagesByThreadID(threadID)
	if err != nil {
		log.Errorf("[ChatService] 加载历史消息失败: %v", err)
		s.send(ctx, events, model.StreamEvent{Event: model.EventError, Data: model.ErrorData{Error: "failed to load conversation history"}})
		return
	}
	isFirstExchange := len(history) == 0

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: chatSystemPrompt})
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: userMessage})

	readyCount, err := s.docRepo.CountReadyByUser(ctx, userID)
	if err != nil {
		log.Warnf("[ChatService] 查询就绪文档数失败, 按无文档处理: %v", err)
		readyCount = 0
	}
	hasReadyDocs := readyCount > 0

	// 工具解析阶段：收集检索到的候选, 最终回答前据此发送 sources 事件
	var retrieved []model.RetrievedChunk
	if s.llmClient.SupportsTools() && hasReadyDocs {
		messages, retrieved = s.runToolLoop(ctx, events, userID, messages)
		if messages == nil {
			return
		}
	} else if hasReadyDocs {
		// 非工具模式：用原始用户消息做一次无过滤检索, 把上下文注入系统指令
		chunks, err := s.searchService.Retrieve(ctx, userID, userMessage, model.MetadataFilter{})
		if err != nil {
			log.Errorf("[ChatService] 非工具模式检索失败: %v", err)
			s.send(ctx, events, model.StreamEvent{Event: model.EventError, Data: model.ErrorData{Error: "document retrieval failed"}})
			return
		}
		retrieved = chunks
		messages[0].Content = chatSystemPrompt + "\n\nRelevant document context:\n" + FormatContext(chunks)
	}

	sources := BuildSources(retrieved, s.ragCfg.SourceThreshold, s.ragCfg.SourceLimit, s.ragCfg.ExcerptLength)
	if len(sources) > 0 {
		if !s.send(ctx, events, model.StreamEvent{Event: model.EventSources, Data: model.SourcesData{Sources: sources}}) {
			return
		}
	}

	// 最终回答始终通过流式补全产生
	var answer strings.Builder
	streamErr := s.llmClient.StreamChatCompletion(ctx, messages, func(text string) error {
		answer.WriteString(text)
		if !s.send(ctx, events, model.StreamEvent{Event: model.EventDelta, Data: model.DeltaData{Text: text}}) {
			return context.Canceled
		}
		return nil
	})
	if streamErr != nil {
		if errors.Is(streamErr, context.Canceled) || ctx.Err() != nil {
			log.Infof("[ChatService] 消费方已断开, 停止生产, thread: %s", threadID)
			return
		}
		log.Errorf("[ChatService] 流式补全失败: %v", streamErr)
		s.send(ctx, events, model.StreamEvent{Event: model.EventError, Data: model.ErrorData{Error: backendErrorMessage(streamErr)}})
		return
	}

	if !s.send(ctx, events, model.StreamEvent{Event: model.EventDone, Data: model.DoneData{}}) {
		return
	}

	// 流式完成后才持久化本轮消息, 失败轮次不落库
	fullAnswer := answer.String()
	if err := s.threadRepo.CreateMessage(&model.Message{ThreadID: threadID, Role: "user", Content: userMessage}); err != nil {
		log.Errorf("[ChatService] 持久化用户消息失败: %v", err)
	}
	if err := s.threadRepo.CreateMessage(&model.Message{ThreadID: threadID, Role: "assistant", Content: fullAnswer}); err != nil {
		log.Errorf("[ChatService] 持久化助手消息失败: %v", err)
	}
	if err := s.threadRepo.TouchThread(threadID); err != nil {
		log.Warnf("[ChatService] 刷新线程活跃时间失败: %v", err)
	}

	// 首轮交换后生成标题, 失败不影响已送达的回答
	if isFirstExchange && fullAnswer != "" {
		if title := s.generateTitle(userMessage, fullAnswer); title != "" {
			if err := s.threadRepo.UpdateThreadTitle(threadID, title); err != nil {
				log.Warnf("[ChatService] 更新线程标题失败: %v", err)
			} else {
				s.send(ctx, events, model.StreamEvent{Event: model.EventTitleUpdate, Data: model.TitleData{Title: title}})
			}
		}
	}

	log.Infof("[ChatService] 对话轮次处理完成, thread: %s, answer_len: %d", threadID, len(fullAnswer))
}

// runToolLoop 运行有界的工具调用循环, 至多 MaxToolRounds 轮。
// 首次执行工具后不再提供工具列表, 迫使模型在轮次预算内给出文本回答。
// 返回累积后的消息序列与检索候选；发生后端错误时返回 nil 消息, 事件已发出。
func (s *chatService) runToolLoop(ctx context.Context, events chan<- model.StreamEvent, userID string, messages []llm.Message) ([]llm.Message, []model.RetrievedChunk) {
	searchTool := []llm.Tool{{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        "search_documents",
			Description: "Search the user's uploaded documents for passages relevant to a query. Use this when the question may be answered by the documents.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "The search query",
					},
					"document_type": map[string]interface{}{
						"type":        "string",
						"description": "Optional filter on document type, e.g. \"research paper\"",
					},
					"topic": map[string]interface{}{
						"type":        "string",
						"description": "Optional filter on document topic",
					},
				},
				"required": []string{"query"},
			},
		},
	}}

	var retrieved []model.RetrievedChunk
	toolsExecuted := false

	for round := 1; round <= s.ragCfg.MaxToolRounds; round++ {
		offered := searchTool
		if toolsExecuted {
			offered = nil
		}
		log.Infof("[ChatService] 工具循环第 %d/%d 轮, 提供工具: %t", round, s.ragCfg.MaxToolRounds, offered != nil)

		outcome, resp := s.completeRound(ctx, messages, offered)
		switch outcome {
		case roundError:
			s.send(ctx, events, model.StreamEvent{Event: model.EventError, Data: model.ErrorData{Error: backendErrorMessage(resp.err)}})
			return nil, nil
		case roundFinal:
			return messages, retrieved
		}

		// 模型请求了工具：逐个执行并把结果作为 tool 消息追加
		messages = append(messages, *resp.message)
		for _, call := range resp.message.ToolCalls {
			result, chunks := s.executeSearchTool(ctx, userID, call)
			retrieved = append(retrieved, chunks...)
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
		}
		toolsExecuted = true
	}

	log.Infof("[ChatService] 工具循环达到轮次上限 %d, 进入最终回答", s.ragCfg.MaxToolRounds)
	return messages, retrieved
}

// roundResult 打包一轮补全的结果, err 仅在 roundError 时有效。
type roundResult struct {
	message *llm.Message
	err     error
}

func (s *chatService) completeRound(ctx context.Context, messages []llm.Message, tools []llm.Tool) (roundOutcome, roundResult) {
	resp, err := s.llmClient.ChatCompletion(ctx, messages, tools)
	if err != nil {
		log.Errorf("[ChatService] 工具循环补全失败: %v", err)
		return roundError, roundResult{err: err}
	}
	if len(resp.ToolCalls) == 0 {
		return roundFinal, roundResult{message: resp}
	}
	return roundContinue, roundResult{message: resp}
}

// executeSearchTool 解析并执行一次 search_documents 调用。
// 参数畸形或检索失败时把错误文本作为工具结果返回给模型, 不终止整轮对话。
func (s *chatService) executeSearchTool(ctx context.Context, userID string, call llm.ToolCall) (string, []model.RetrievedChunk) {
	if call.Function.Name != "search_documents" {
		log.Warnf("[ChatService] 模型请求了未知工具: %s", call.Function.Name)
		return fmt.Sprintf("unknown tool: %s", call.Function.Name), nil
	}

	var args struct {
		Query        string `json:"query"`
		DocumentType string `json:"document_type"`
		Topic        string `json:"topic"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || args.Query == "" {
		log.Warnf("[ChatService] 工具参数解析失败: %v, arguments: %s", err, call.Function.Arguments)
		return "invalid tool arguments", nil
	}

	log.Infof("[ChatService] 执行文档检索工具, query: '%s', document_type: '%s', topic: '%s'", args.Query, args.DocumentType, args.Topic)
	chunks, err := s.searchService.Retrieve(ctx, userID, args.Query, model.MetadataFilter{
		DocumentType: args.DocumentType,
		Topic:        args.Topic,
	})
	if err != nil {
		log.Errorf("[ChatService] 工具检索失败: %v", err)
		return "document search failed", nil
	}
	return FormatContext(chunks), chunks
}

// generateTitle 基于首轮交换生成 3-5 词的线程标题, 失败返回空串。
func (s *chatService) generateTitle(userMessage, assistantResponse string) string {
	messages := []llm.Message{
		{Role: "system", Content: titleSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("User: %s\nAssistant: %s", userMessage, assistantResponse)},
	}

	resp, err := s.llmClient.ChatCompletion(context.Background(), messages, nil)
	if err != nil {
		log.Warnf("[ChatService] 生成线程标题失败: %v", err)
		return ""
	}
	return strings.TrimSpace(resp.Content)
}

// send 向事件 channel 写入一个事件, 消费方已取消时返回 false。
func (s *chatService) send(ctx context.Context, events chan<- model.StreamEvent, ev model.StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// backendErrorMessage 把后端调用错误转换为面向用户的错误描述。
func backendErrorMessage(err error) string {
	if llm.IsAuthError(err) {
		return "Invalid API key. Please check your configuration."
	}
	return fmt.Sprintf("An error occurred: %v", err)
}
