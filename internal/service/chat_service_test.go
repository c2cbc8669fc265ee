package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"zhiwen-go/internal/config"
	"zhiwen-go/internal/model"
	"zhiwen-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLLM 记录每次补全调用及其工具列表, 并按配置返回工具调用或文本。
type fakeLLM struct {
	supportsTools  bool
	alwaysCallTool bool
	titleResponse  string
	streamDeltas   []string
	streamErr      error

	completionToolArgs [][]llm.Tool
	streamedMessages   []llm.Message
}

func (f *fakeLLM) SupportsTools() bool { return f.supportsTools }

func (f *fakeLLM) ChatCompletion(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Message, error) {
	f.completionToolArgs = append(f.completionToolArgs, tools)
	if f.alwaysCallTool {
		return &llm.Message{
			Role: "assistant",
			ToolCalls: []llm.ToolCall{{
				ID:   "call-1",
				Type: "function",
				Function: llm.FunctionCall{
					Name:      "search_documents",
					Arguments: `{"query": "cells"}`,
				},
			}},
		}, nil
	}
	return &llm.Message{Role: "assistant", Content: f.titleResponse}, nil
}

func (f *fakeLLM) StreamChatCompletion(ctx context.Context, messages []llm.Message, onDelta func(string) error) error {
	f.streamedMessages = messages
	if f.streamErr != nil {
		return f.streamErr
	}
	for _, d := range f.streamDeltas {
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return nil
}

type fakeSearch struct {
	chunks  []model.RetrievedChunk
	filters []model.MetadataFilter
	queries []string
}

func (f *fakeSearch) Retrieve(ctx context.Context, userID, query string, filter model.MetadataFilter) ([]model.RetrievedChunk, error) {
	f.queries = append(f.queries, query)
	f.filters = append(f.filters, filter)
	return f.chunks, nil
}

type fakeThreadRepo struct {
	thread  *model.Thread
	history []model.Message
	created []model.Message
	title   string
}

func (r *fakeThreadRepo) CreateThread(thread *model.Thread) error { return nil }
func (r *fakeThreadRepo) FindThreadByIDAndUser(id, userID string) (*model.Thread, error) {
	return r.thread, nil
}
func (r *fakeThreadRepo) FindThreadsByUserID(userID string) ([]model.Thread, error) { return nil, nil }
func (r *fakeThreadRepo) UpdateThreadTitle(id, title string) error {
	r.title = title
	return nil
}
func (r *fakeThreadRepo) TouchThread(id string) error  { return nil }
func (r *fakeThreadRepo) DeleteThread(id string) error { return nil }
func (r *fakeThreadRepo) CreateMessage(msg *model.Message) error {
	r.created = append(r.created, *msg)
	return nil
}
func (r *fakeThreadRepo) FindMessagesByThreadID(threadID string) ([]model.Message, error) {
	return r.history, nil
}
func (r *fakeThreadRepo) CountMessagesByThreadID(threadID string) (int64, error) {
	return int64(len(r.history)), nil
}
func (r *fakeThreadRepo) DeleteMessagesByThreadID(threadID string) error { return nil }

// stubDocRepo 只提供就绪文档数, 其余操作不被会话路径使用。
type stubDocRepo struct {
	readyCount int64
}

func (r *stubDocRepo) Create(doc *model.Document) error                         { return nil }
func (r *stubDocRepo) FindByID(id string) (*model.Document, error)              { return nil, nil }
func (r *stubDocRepo) FindByIDAndUser(id, u string) (*model.Document, error)    { return nil, nil }
func (r *stubDocRepo) FindByUserID(u string) ([]model.Document, error)          { return nil, nil }
func (r *stubDocRepo) FindReadyByContentHash(h string) (*model.Document, error) { return nil, nil }
func (r *stubDocRepo) MarkProcessing(id string) error                           { return nil }
func (r *stubDocRepo) MarkReady(id string, chunkCount int) error                { return nil }
func (r *stubDocRepo) MarkError(id string, message string) error                { return nil }
func (r *stubDocRepo) Delete(id string) error                                   { return nil }
func (r *stubDocRepo) BatchCreateChunks(chunks []model.Chunk, batchSize int) error {
	return nil
}
func (r *stubDocRepo) DeleteChunksByDocumentID(documentID string) error { return nil }
func (r *stubDocRepo) CountReadyByUser(ctx context.Context, userID string) (int64, error) {
	return r.readyCount, nil
}
func (r *stubDocRepo) InvalidateReadyCount(ctx context.Context, userID string) {}

func collectEvents(t *testing.T, events <-chan model.StreamEvent) []model.StreamEvent {
	t.Helper()
	var collected []model.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return collected
			}
			collected = append(collected, ev)
		case <-timeout:
			t.Fatal("事件流未在预期时间内关闭")
		}
	}
}

func eventNames(events []model.StreamEvent) []string {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Event)
	}
	return names
}

func newChatFixture(llmClient *fakeLLM, search *fakeSearch, docRepo *stubDocRepo, threadRepo *fakeThreadRepo) ChatService {
	return NewChatService(llmClient, search, docRepo, threadRepo, config.RAGConfig{
		SourceThreshold: 0.3,
		SourceLimit:     3,
		ExcerptLength:   200,
		MaxToolRounds:   3,
	})
}

func TestChatStream_ToolLoopTerminatesAfterThreeRounds(t *testing.T) {
	llmClient := &fakeLLM{
		supportsTools:  true,
		alwaysCallTool: true,
		streamDeltas:   []string{"final ", "answer"},
	}
	search := &fakeSearch{chunks: []model.RetrievedChunk{
		{Content: "cells divide", ChunkIndex: 0, DocumentID: "d1", Similarity: 0.9},
	}}
	threadRepo := &fakeThreadRepo{
		thread:  &model.Thread{ID: "t1", UserID: "u1"},
		history: []model.Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
	}
	svc := newChatFixture(llmClient, search, &stubDocRepo{readyCount: 1}, threadRepo)

	events, err := svc.Stream(context.Background(), "u1", "t1", "how do cells divide?")
	require.NoError(t, err)
	collected := collectEvents(t, events)

	// 即使模型每轮都请求工具, 循环也在 3 轮后进入最终回答
	require.Len(t, llmClient.completionToolArgs, 3)
	assert.NotNil(t, llmClient.completionToolArgs[0])
	assert.Nil(t, llmClient.completionToolArgs[1])
	assert.Nil(t, llmClient.completionToolArgs[2])
	assert.Len(t, search.queries, 3)

	names := eventNames(collected)
	assert.Equal(t, []string{"sources", "delta", "delta", "done"}, names)
}

func TestChatStream_NoReadyDocsNeverOffersTool(t *testing.T) {
	llmClient := &fakeLLM{
		supportsTools: true,
		streamDeltas:  []string{"plain answer"},
	}
	search := &fakeSearch{}
	threadRepo := &fakeThreadRepo{
		thread:  &model.Thread{ID: "t1", UserID: "u1"},
		history: []model.Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
	}
	svc := newChatFixture(llmClient, search, &stubDocRepo{readyCount: 0}, threadRepo)

	events, err := svc.Stream(context.Background(), "u1", "t1", "hello?")
	require.NoError(t, err)
	collected := collectEvents(t, events)

	assert.Empty(t, llmClient.completionToolArgs)
	assert.Empty(t, search.queries)
	assert.Equal(t, []string{"delta", "done"}, eventNames(collected))
}

func TestChatStream_NonToolModeInjectsContext(t *testing.T) {
	llmClient := &fakeLLM{
		supportsTools: false,
		streamDeltas:  []string{"grounded answer"},
	}
	search := &fakeSearch{chunks: []model.RetrievedChunk{
		{Content: "mitosis has phases", ChunkIndex: 0, DocumentID: "d1", Similarity: 0.8},
	}}
	threadRepo := &fakeThreadRepo{
		thread:  &model.Thread{ID: "t1", UserID: "u1"},
		history: []model.Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
	}
	svc := newChatFixture(llmClient, search, &stubDocRepo{readyCount: 2}, threadRepo)

	events, err := svc.Stream(context.Background(), "u1", "t1", "explain mitosis")
	require.NoError(t, err)
	collected := collectEvents(t, events)

	// 恰好一次无过滤检索, 使用原始用户消息
	require.Len(t, search.queries, 1)
	assert.Equal(t, "explain mitosis", search.queries[0])
	assert.True(t, search.filters[0].Empty())

	// 上下文注入系统指令
	require.NotEmpty(t, llmClient.streamedMessages)
	assert.Equal(t, "system", llmClient.streamedMessages[0].Role)
	assert.Contains(t, llmClient.streamedMessages[0].Content, "mitosis has phases")

	assert.Equal(t, []string{"sources", "delta", "done"}, eventNames(collected))
}

func TestChatStream_BackendErrorEmitsErrorAndSkipsPersistence(t *testing.T) {
	llmClient := &fakeLLM{
		supportsTools: false,
		streamErr:     &llm.APIError{StatusCode: http.StatusUnauthorized, Message: "bad key"},
	}
	threadRepo := &fakeThreadRepo{
		thread:  &model.Thread{ID: "t1", UserID: "u1"},
		history: []model.Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
	}
	svc := newChatFixture(llmClient, &fakeSearch{}, &stubDocRepo{}, threadRepo)

	events, err := svc.Stream(context.Background(), "u1", "t1", "hello?")
	require.NoError(t, err)
	collected := collectEvents(t, events)

	require.Len(t, collected, 1)
	assert.Equal(t, model.EventError, collected[0].Event)
	errorData, ok := collected[0].Data.(model.ErrorData)
	require.True(t, ok)
	assert.Contains(t, errorData.Error, "API key")

	// 失败轮次不持久化任何消息
	assert.Empty(t, threadRepo.created)
}

func TestChatStream_ThreadNotFound(t *testing.T) {
	svc := newChatFixture(&fakeLLM{}, &fakeSearch{}, &stubDocRepo{}, &fakeThreadRepo{thread: nil})

	_, err := svc.Stream(context.Background(), "u1", "missing", "hello?")
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestChatStream_FirstExchangeGeneratesTitle(t *testing.T) {
	llmClient := &fakeLLM{
		supportsTools: false,
		streamDeltas:  []string{"the ", "answer"},
		titleResponse: "Cell Division Basics",
	}
	threadRepo := &fakeThreadRepo{thread: &model.Thread{ID: "t1", UserID: "u1"}}
	svc := newChatFixture(llmClient, &fakeSearch{}, &stubDocRepo{}, threadRepo)

	events, err := svc.Stream(context.Background(), "u1", "t1", "how do cells divide?")
	require.NoError(t, err)
	collected := collectEvents(t, events)

	assert.Equal(t, []string{"delta", "delta", "done", "title_update"}, eventNames(collected))
	assert.Equal(t, "Cell Division Basics", threadRepo.title)

	// 成功后持久化用户与助手消息
	require.Len(t, threadRepo.created, 2)
	assert.Equal(t, "user", threadRepo.created[0].Role)
	assert.Equal(t, "how do cells divide?", threadRepo.created[0].Content)
	assert.Equal(t, "assistant", threadRepo.created[1].Role)
	assert.Equal(t, "the answer", threadRepo.created[1].Content)
}
