package service

import (
	"regexp"
	"strings"

	"zhiwen-go/internal/model"
)

var (
	reCodeFence     = regexp.MustCompile("```[^`]*```")
	reInlineCode    = regexp.MustCompile("`([^`]*)`")
	reImage         = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	reLink          = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	reHeading       = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	reBlockquote    = regexp.MustCompile(`(?m)^>\s?`)
	reListMarker    = regexp.MustCompile(`(?m)^\s*([-*+]|\d+\.)\s+`)
	reEmphasis      = regexp.MustCompile(`(\*{1,3}|_{1,3})([^*_]+)(\*{1,3}|_{1,3})`)
	reStrikethrough = regexp.MustCompile(`~~([^~]*)~~`)
	reTableDivider  = regexp.MustCompile(`(?m)^\s*\|?[-:| ]+\|?\s*$`)
	reWhitespace    = regexp.MustCompile(`\s+`)
)

// StripMarkdown 去除文本中的 Markdown 语法并归一空白：
// 标题与强调标记、链接语法（保留链接文字）、代码围栏、
// 引用/列表标记与表格竖线。
func StripMarkdown(text string) string {
	text = reCodeFence.ReplaceAllString(text, " ")
	text = reInlineCode.ReplaceAllString(text, "$1")
	text = reImage.ReplaceAllString(text, "$1")
	text = reLink.ReplaceAllString(text, "$1")
	text = reHeading.ReplaceAllString(text, "")
	text = reBlockquote.ReplaceAllString(text, "")
	text = reListMarker.ReplaceAllString(text, "")
	text = reEmphasis.ReplaceAllString(text, "$2")
	text = reStrikethrough.ReplaceAllString(text, "$1")
	text = reTableDivider.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, "|", " ")
	text = reWhitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// BuildSources 把排序后的候选转换为面向用户的引用来源。
// 得分（重排得分优先, 否则检索相似度）低于 threshold 的候选被跳过；
// 凑满 limit 条或候选耗尽即停止。摘录为剥离 Markdown 后截断的纯文本。
func BuildSources(chunks []model.RetrievedChunk, threshold float64, limit, excerptLen int) []model.Source {
	sources := make([]model.Source, 0, limit)
	for _, c := range chunks {
		if len(sources) >= limit {
			break
		}
		if c.Score() < threshold {
			continue
		}

		excerpt := StripMarkdown(c.Content)
		if runes := []rune(excerpt); len(runes) > excerptLen {
			excerpt = string(runes[:excerptLen])
		}

		source := model.Source{
			Excerpt:    excerpt,
			ChunkIndex: c.ChunkIndex,
			DocumentID: c.DocumentID,
			Metadata: model.SourceMetadata{
				Topic:        c.Metadata.Topic,
				DocumentType: c.Metadata.DocumentType,
				KeyTerms:     c.Metadata.KeyTerms,
			},
		}
		if c.RelevanceScore != nil {
			source.RelevanceScore = c.RelevanceScore
		} else {
			similarity := c.Similarity
			source.Similarity = &similarity
		}
		sources = append(sources, source)
	}
	return sources
}
