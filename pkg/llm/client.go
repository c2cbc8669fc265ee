// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"zhiwen-go/internal/config"
	"zhiwen-go/pkg/log"
)

// Client defines the interface for an LLM client.
type Client interface {
	// ChatCompletion 发起一次非流式对话补全，tools 可以为 nil。
	// 返回的消息可能包含工具调用请求而非文本内容。
	ChatCompletion(ctx context.Context, messages []Message, tools []Tool) (*Message, error)
	// StreamChatCompletion 发起一次流式对话补全，每收到一段增量文本调用一次 onDelta。
	// onDelta 返回错误则中断流式读取。
	StreamChatCompletion(ctx context.Context, messages []Message, onDelta func(text string) error) error
	// SupportsTools 报告当前配置的模型是否支持工具调用。
	SupportsTools() bool
}

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

// Message 表示一条角色消息。
// ToolCalls 仅在 assistant 消息请求工具调用时存在；
// ToolCallID 仅在 role 为 tool 的结果消息中存在。
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Tool 描述一个可供模型调用的工具。
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction 是工具的函数签名描述，Parameters 为 JSON Schema。
type ToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolCall 是模型发出的一次工具调用请求。
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall 携带被调用函数名与 JSON 编码的参数。
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// APIError 表示 LLM API 返回的非 200 响应。
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm api error (status %d): %s", e.StatusCode, e.Message)
}

// IsAuthError 报告错误是否为鉴权失败（401/403），该类错误重试无意义。
func IsAuthError(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden)
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Tools    []Tool    `json:"tools,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

type chatStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *openAICompatibleClient) SupportsTools() bool {
	return c.cfg.SupportTools
}

// ChatCompletion calls the OpenAI-compatible API for a single chat completion.
func (c *openAICompatibleClient) ChatCompletion(ctx context.Context, messages []Message, tools []Tool) (*Message, error) {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   false,
		Tools:    tools,
	}

	resp, err := c.doRequest(ctx, reqBody, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("chat api returned no choices")
	}

	msg := completion.Choices[0].Message
	log.Infof("[LLMClient] 对话补全成功, content_len: %d, tool_calls: %d", len(msg.Content), len(msg.ToolCalls))
	return &msg, nil
}

// StreamChatCompletion calls the chat API with streaming enabled and forwards deltas.
func (c *openAICompatibleClient) StreamChatCompletion(ctx context.Context, messages []Message, onDelta func(text string) error) error {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   true,
	}

	resp, err := c.doRequest(ctx, reqBody, "text/event-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read from stream: %w", err)
		}

		if strings.HasPrefix(line, "data: ") {
			data := strings.TrimPrefix(line, "data: ")
			if strings.TrimSpace(data) == "[DONE]" {
				break
			}

			var chunk chatStreamResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}

			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if err := onDelta(chunk.Choices[0].Delta.Content); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (c *openAICompatibleClient) doRequest(ctx context.Context, reqBody chatRequest, accept string) (*http.Response, error) {
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
	req.Header.Set("Accept", accept)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(bodyBytes)}
	}
	return resp, nil
}
