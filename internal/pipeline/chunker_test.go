package pipeline

import (
	"os"
	"strings"
	"testing"

	"zhiwen-go/pkg/docling"
	"zhiwen-go/pkg/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

func TestSlidingWindowChunks_2500CharsYieldsFourChunks(t *testing.T) {
	// 2500 个字符, 窗口 1000, 重叠 200 → 起点 0/800/1600/2400, 共 4 块
	text := makeSequentialText(2500)
	chunks := SlidingWindowChunks(text, 1000, 200)

	require.Len(t, chunks, 4)
	assert.Len(t, []rune(chunks[0]), 1000)
	assert.Len(t, []rune(chunks[1]), 1000)
	assert.Len(t, []rune(chunks[2]), 900)
	assert.Len(t, []rune(chunks[3]), 100)

	// 每块内容等于原文中对应窗口, 无空隙且相邻重叠恰好 200
	runes := []rune(text)
	for i, chunk := range chunks {
		start := i * 800
		end := start + 1000
		if end > len(runes) {
			end = len(runes)
		}
		assert.Equal(t, string(runes[start:end]), chunk)
	}
	for i := 1; i < len(chunks)-1; i++ {
		prevEnd := (i-1)*800 + len([]rune(chunks[i-1]))
		start := i * 800
		assert.Equal(t, 200, prevEnd-start, "chunk %d overlap", i)
	}
}

// makeSequentialText 生成内容随位置变化的测试文本, 保证窗口内容可区分。
func makeSequentialText(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(byte('a' + i%26))
	}
	return b.String()
}

func TestSlidingWindowChunks_ShortText(t *testing.T) {
	chunks := SlidingWindowChunks("hello", 1000, 200)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello", chunks[0])
}

func TestSlidingWindowChunks_EmptyText(t *testing.T) {
	assert.Empty(t, SlidingWindowChunks("", 1000, 200))
}

func TestSlidingWindowChunks_MultibyteRunes(t *testing.T) {
	text := strings.Repeat("中", 1500)
	chunks := SlidingWindowChunks(text, 1000, 200)

	require.Len(t, chunks, 2)
	assert.Len(t, []rune(chunks[0]), 1000)
	assert.Len(t, []rune(chunks[1]), 700)
	for _, c := range chunks {
		assert.NotContains(t, c, "�")
	}
}

func TestStructuredChunks_GroupsBySection(t *testing.T) {
	doc := &docling.Document{
		Blocks: []docling.Block{
			{Label: "section_header", Text: "Introduction"},
			{Label: "text", Text: "First paragraph."},
			{Label: "text", Text: "Second paragraph."},
			{Label: "section_header", Text: "Methods"},
			{Label: "text", Text: "Third paragraph."},
		},
	}

	chunks := StructuredChunks(doc, 1000, 200)
	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0], "Introduction")
	assert.Contains(t, chunks[0], "Second paragraph.")
	assert.Contains(t, chunks[1], "Methods")
	assert.Contains(t, chunks[1], "Third paragraph.")
}

func TestStructuredChunks_OversizeSectionFallsBackToWindow(t *testing.T) {
	doc := &docling.Document{
		Blocks: []docling.Block{
			{Label: "section_header", Text: "Big"},
			{Label: "text", Text: strings.Repeat("b", 2500)},
		},
	}

	chunks := StructuredChunks(doc, 1000, 200)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 1000)
	}
}

func TestChunkExtractResult_PrefersStructured(t *testing.T) {
	result := &ExtractResult{
		Text: "plain text",
		Structured: &docling.Document{
			Blocks: []docling.Block{{Label: "text", Text: "structured text"}},
		},
	}

	chunks := ChunkExtractResult(result, 1000, 200)
	require.Len(t, chunks, 1)
	assert.Equal(t, "structured text", chunks[0])
}

func TestChunkExtractResult_EmptyStructuredFallsBackToText(t *testing.T) {
	result := &ExtractResult{
		Text:       "plain text",
		Structured: &docling.Document{},
	}

	chunks := ChunkExtractResult(result, 1000, 200)
	require.Len(t, chunks, 1)
	assert.Equal(t, "plain text", chunks[0])
}
