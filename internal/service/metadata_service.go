// Package service 提供了核心业务逻辑的实现。
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"zhiwen-go/internal/model"
	"zhiwen-go/pkg/llm"
	"zhiwen-go/pkg/log"
)

const docMetadataSystemPrompt = "You are a document analysis assistant. Extract structured metadata from documents accurately and concisely."

const docMetadataPromptTemplate = `Analyze this document and extract metadata.

Filename: %s

Text (first ~2000 characters):
%s

Extract:
- topic: The primary subject of the document (e.g. "machine learning", "contract law", "API documentation")
- document_type: The type of document (e.g. "research paper", "contract", "manual", "report", "readme", "tutorial", "email")
- language: ISO 639-1 language code (e.g. "en", "es", "fr")

Return ONLY a JSON object with keys "topic", "document_type" and "language".`

const keyTermsSystemPrompt = "You are a keyword extraction assistant. Return ONLY valid JSON."

// MetadataService 提供基于 LLM 的文档元数据与分块关键词提取。
// 全部操作为尽力而为：任何失败返回默认值，不会中断摄取。
type MetadataService interface {
	ExtractDocumentMetadata(ctx context.Context, text, filename string) model.DocumentMetadata
	ExtractChunkKeyTerms(ctx context.Context, chunkTexts []string) [][]string
}

type metadataService struct {
	llmClient llm.Client
	batchSize int
	sampleLen int
}

// NewMetadataService 创建一个新的 MetadataService 实例。
func NewMetadataService(llmClient llm.Client, batchSize, sampleLen int) MetadataService {
	return &metadataService{
		llmClient: llmClient,
		batchSize: batchSize,
		sampleLen: sampleLen,
	}
}

// ExtractDocumentMetadata 用文本开头的样本与文件名提取文档级元数据。
// 解析失败或输出畸形时返回默认空元数据。
func (s *metadataService) ExtractDocumentMetadata(ctx context.Context, text, filename string) model.DocumentMetadata {
	sample := text
	if runes := []rune(text); len(runes) > s.sampleLen {
		sample = string(runes[:s.sampleLen])
	}

	messages := []llm.Message{
		{Role: "system", Content: docMetadataSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(docMetadataPromptTemplate, filename, sample)},
	}

	resp, err := s.llmClient.ChatCompletion(ctx, messages, nil)
	if err != nil {
		log.Warnf("[MetadataService] 提取文档元数据失败, 使用默认值: %v", err)
		return model.DefaultDocumentMetadata()
	}

	var metadata model.DocumentMetadata
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &metadata); err != nil {
		log.Warnf("[MetadataService] 文档元数据输出无法解析, 使用默认值: %v", err)
		return model.DefaultDocumentMetadata()
	}
	if metadata.Language == "" {
		metadata.Language = "en"
	}

	log.Infof("[MetadataService] 文档元数据提取成功, filename: %s, language: %s", filename, metadata.Language)
	return metadata
}

// ExtractChunkKeyTerms 为每个分块提取至多 5 个关键词，按批次调用模型。
// 返回切片长度恒等于输入分块数，失败的批次或条目填充空列表。
func (s *metadataService) ExtractChunkKeyTerms(ctx context.Context, chunkTexts []string) [][]string {
	result := make([][]string, 0, len(chunkTexts))
	for start := 0; start < len(chunkTexts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(chunkTexts) {
			end = len(chunkTexts)
		}
		result = append(result, s.extractBatchKeyTerms(ctx, chunkTexts[start:end])...)
	}
	return result
}

func (s *metadataService) extractBatchKeyTerms(ctx context.Context, batch []string) [][]string {
	empty := make([][]string, len(batch))
	for i := range empty {
		empty[i] = []string{}
	}
	if len(batch) == 0 {
		return empty
	}

	var numbered []string
	for i, text := range batch {
		numbered = append(numbered, fmt.Sprintf("--- Chunk %d ---\n%s", i+1, text))
	}
	prompt := fmt.Sprintf(`For each of the %d chunks below, extract up to 5 important keywords or named entities. Return a JSON array of arrays, where each inner array contains the key terms for the corresponding chunk. Example for 2 chunks: [["term1", "term2"], ["term3", "term4"]]

%s`, len(batch), strings.Join(numbered, "\n\n"))

	messages := []llm.Message{
		{Role: "system", Content: keyTermsSystemPrompt},
		{Role: "user", Content: prompt},
	}

	resp, err := s.llmClient.ChatCompletion(ctx, messages, nil)
	if err != nil {
		log.Warnf("[MetadataService] 提取分块关键词失败, 该批次使用空列表: %v", err)
		return empty
	}

	parsed := ParseKeyTermsResponse(resp.Content, len(batch))
	return parsed
}

// ParseKeyTermsResponse 宽容解析关键词响应。
// 兼容裸数组与对象包裹（取第一个列表值）两种形态；
// 条目缺失、越界或类型不符时该分块降级为空列表，
// 返回长度恒等于 chunkCount。
func ParseKeyTermsResponse(content string, chunkCount int) [][]string {
	result := make([][]string, chunkCount)
	for i := range result {
		result[i] = []string{}
	}

	var raw interface{}
	if err := json.Unmarshal([]byte(extractJSON(content)), &raw); err != nil {
		log.Warnf("[MetadataService] 关键词输出不是合法 JSON: %v", err)
		return result
	}

	// 对象包裹时取第一个列表值
	outer, ok := raw.([]interface{})
	if !ok {
		if obj, isObj := raw.(map[string]interface{}); isObj {
			for _, v := range obj {
				if list, isList := v.([]interface{}); isList {
					outer = list
					break
				}
			}
		}
	}

	for i := 0; i < chunkCount && i < len(outer); i++ {
		inner, ok := outer[i].([]interface{})
		if !ok {
			continue
		}
		terms := make([]string, 0, 5)
		for _, t := range inner {
			if len(terms) >= 5 {
				break
			}
			if s, isStr := t.(string); isStr {
				terms = append(terms, s)
			}
		}
		result[i] = terms
	}
	return result
}

// extractJSON 剥离模型输出外层的 Markdown 代码围栏。
func extractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	}
	return strings.TrimSpace(trimmed)
}
