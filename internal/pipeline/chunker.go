package pipeline

import (
	"strings"

	"zhiwen-go/pkg/docling"
)

// SlidingWindowChunks 按固定窗口与重叠对文本做滑动分块。
// 窗口 size 个字符，步长 size-overlap，起点达到文本长度时终止；
// 最后一块可以短于窗口。按 rune 切分避免截断多字节字符。
func SlidingWindowChunks(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if size <= 0 || overlap >= size {
		return []string{text}
	}

	stride := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += stride {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// StructuredChunks 对 docling 结构化文档做层级分块：
// 以 section_header / title 为边界把正文块聚合成段，超出窗口时再做滑动切分。
// 产出为零时整篇导出为一个分块兜底。
func StructuredChunks(doc *docling.Document, size, overlap int) []string {
	var chunks []string
	var section []string
	sectionLen := 0

	flush := func() {
		if sectionLen == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(section, "\n\n"))
		if text != "" {
			if len([]rune(text)) > size {
				chunks = append(chunks, SlidingWindowChunks(text, size, overlap)...)
			} else {
				chunks = append(chunks, text)
			}
		}
		section = section[:0]
		sectionLen = 0
	}

	for _, block := range doc.Blocks {
		if block.Label == "section_header" || block.Label == "title" {
			flush()
		}
		section = append(section, block.Text)
		sectionLen += len(block.Text)
	}
	flush()

	if len(chunks) == 0 {
		var texts []string
		for _, block := range doc.Blocks {
			texts = append(texts, block.Text)
		}
		whole := strings.TrimSpace(strings.Join(texts, "\n\n"))
		if whole != "" {
			chunks = append(chunks, whole)
		}
	}
	return chunks
}

// ChunkExtractResult 根据提取结果选择分块策略。
func ChunkExtractResult(result *ExtractResult, size, overlap int) []string {
	if result.Structured != nil {
		if chunks := StructuredChunks(result.Structured, size, overlap); len(chunks) > 0 {
			return chunks
		}
	}
	return SlidingWindowChunks(result.Text, size, overlap)
}
