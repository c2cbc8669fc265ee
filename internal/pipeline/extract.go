// Package pipeline 实现了文档摄取管道：提取、分块、充实、向量化与持久化。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"zhiwen-go/pkg/docling"
	"zhiwen-go/pkg/log"

	"github.com/dslipak/pdf"
)

// 摄取阶段的致命错误。命中后文档进入 error 状态，无自动重试。
var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrEmptyContent    = errors.New("extracted content is empty")
)

// ExtractResult 是提取器的输出。
// PDF 经 docling 成功解析时 Structured 非空，分块器据此选择结构化策略；
// 其余情况只有 Text。
type ExtractResult struct {
	Text       string
	Structured *docling.Document
}

// Extractor 将原始文件字节转换为纯文本或结构化文档。
type Extractor struct {
	converter *docling.Converter
}

// NewExtractor 创建提取器。converter 允许为 nil，此时 PDF 直接走本地解析。
func NewExtractor(converter *docling.Converter) *Extractor {
	return &Extractor{converter: converter}
}

// Extract 根据声明的 MIME 类型提取文件内容。
func (e *Extractor) Extract(ctx context.Context, data []byte, mimeType, filename string) (*ExtractResult, error) {
	var result *ExtractResult
	switch mimeType {
	case "text/plain", "text/markdown":
		result = &ExtractResult{Text: string(data)}
	case "application/pdf":
		result = e.extractPDF(ctx, data, filename)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	if strings.TrimSpace(result.Text) == "" {
		return nil, ErrEmptyContent
	}
	return result, nil
}

// extractPDF 优先使用 docling 做结构化解析，失败后降级为逐页文本提取。
func (e *Extractor) extractPDF(ctx context.Context, data []byte, filename string) *ExtractResult {
	if e.converter != nil {
		doc, err := e.converter.Convert(ctx, data, filename)
		if err == nil && len(doc.Blocks) > 0 {
			texts := make([]string, 0, len(doc.Blocks))
			for _, b := range doc.Blocks {
				texts = append(texts, b.Text)
			}
			return &ExtractResult{
				Text:       strings.Join(texts, "\n\n"),
				Structured: doc,
			}
		}
		log.Warnf("[Extractor] docling 解析失败, 降级为本地 PDF 提取: %v", err)
	}

	text, err := extractPDFPages(data)
	if err != nil {
		log.Errorf("[Extractor] 本地 PDF 提取失败: %v", err)
		return &ExtractResult{}
	}
	return &ExtractResult{Text: text}
}

// extractPDFPages 逐页提取 PDF 文本，页与页之间以空行分隔。
func extractPDFPages(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("打开 PDF 失败: %w", err)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Warnf("[Extractor] 提取第 %d 页文本失败, 已跳过: %v", i, err)
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}
