package service

import (
	"strings"
	"testing"

	"zhiwen-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }

func TestStripMarkdown(t *testing.T) {
	input := "# Heading\n\nSome **bold** and *italic* text with [a link](https://example.com).\n\n" +
		"```go\ncode block\n```\n\n> quoted line\n- list item\n1. numbered item\n\n| a | b |\n|---|---|\n| c | d |"

	out := StripMarkdown(input)

	assert.NotContains(t, out, "#")
	assert.NotContains(t, out, "**")
	assert.NotContains(t, out, "](")
	assert.NotContains(t, out, "```")
	assert.NotContains(t, out, ">")
	assert.NotContains(t, out, "|")
	assert.Contains(t, out, "a link")
	assert.Contains(t, out, "bold")
	assert.Contains(t, out, "italic")
	assert.Contains(t, out, "quoted line")
	assert.Contains(t, out, "list item")
	// 空白已归一
	assert.NotContains(t, out, "\n")
	assert.NotContains(t, out, "  ")
}

func TestBuildSources_CapAndThreshold(t *testing.T) {
	chunks := []model.RetrievedChunk{
		{Content: "one", ChunkIndex: 0, DocumentID: "d1", RelevanceScore: floatPtr(0.9)},
		{Content: "two", ChunkIndex: 1, DocumentID: "d1", RelevanceScore: floatPtr(0.2)}, // 低于阈值
		{Content: "three", ChunkIndex: 2, DocumentID: "d1", RelevanceScore: floatPtr(0.8)},
		{Content: "four", ChunkIndex: 3, DocumentID: "d2", RelevanceScore: floatPtr(0.7)},
		{Content: "five", ChunkIndex: 4, DocumentID: "d2", RelevanceScore: floatPtr(0.6)},
	}

	sources := BuildSources(chunks, 0.3, 3, 200)

	require.Len(t, sources, 3)
	for _, s := range sources {
		require.NotNil(t, s.RelevanceScore)
		assert.GreaterOrEqual(t, *s.RelevanceScore, 0.3)
	}
	assert.Equal(t, 0, sources[0].ChunkIndex)
	assert.Equal(t, 2, sources[1].ChunkIndex)
	assert.Equal(t, 3, sources[2].ChunkIndex)
}

func TestBuildSources_UsesSimilarityWithoutRerank(t *testing.T) {
	chunks := []model.RetrievedChunk{
		{Content: "hit", ChunkIndex: 0, DocumentID: "d1", Similarity: 0.5},
		{Content: "miss", ChunkIndex: 1, DocumentID: "d1", Similarity: 0.1},
	}

	sources := BuildSources(chunks, 0.3, 3, 200)

	require.Len(t, sources, 1)
	assert.Nil(t, sources[0].RelevanceScore)
	require.NotNil(t, sources[0].Similarity)
	assert.Equal(t, 0.5, *sources[0].Similarity)
}

func TestBuildSources_ExcerptStrippedAndTruncated(t *testing.T) {
	content := "## Title\n\n" + strings.Repeat("word ", 100)
	chunks := []model.RetrievedChunk{
		{Content: content, ChunkIndex: 0, DocumentID: "d1", Similarity: 0.9},
	}

	sources := BuildSources(chunks, 0.3, 3, 200)

	require.Len(t, sources, 1)
	assert.NotContains(t, sources[0].Excerpt, "#")
	assert.LessOrEqual(t, len([]rune(sources[0].Excerpt)), 200)
	assert.True(t, strings.HasPrefix(sources[0].Excerpt, "Title"))
}

func TestBuildSources_MetadataSubset(t *testing.T) {
	topic := "biology"
	docType := "research paper"
	chunks := []model.RetrievedChunk{
		{
			Content:    "cells",
			ChunkIndex: 2,
			DocumentID: "d9",
			Similarity: 0.7,
			Metadata: model.ChunkMetadata{
				Topic:        &topic,
				DocumentType: &docType,
				KeyTerms:     []string{"cell", "membrane"},
				Language:     "en",
			},
		},
	}

	sources := BuildSources(chunks, 0.3, 3, 200)

	require.Len(t, sources, 1)
	assert.Equal(t, "biology", *sources[0].Metadata.Topic)
	assert.Equal(t, "research paper", *sources[0].Metadata.DocumentType)
	assert.Equal(t, []string{"cell", "membrane"}, sources[0].Metadata.KeyTerms)
}

func TestFormatContext_EmptyCandidates(t *testing.T) {
	assert.Equal(t, NoRelevantDocuments, FormatContext(nil))
}

func TestFormatContext_HeadersAndSeparators(t *testing.T) {
	topic := "law"
	chunks := []model.RetrievedChunk{
		{Content: "first chunk", ChunkIndex: 0, Metadata: model.ChunkMetadata{Topic: &topic, KeyTerms: []string{"contract"}}},
		{Content: "second chunk", ChunkIndex: 1},
	}

	out := FormatContext(chunks)

	assert.Contains(t, out, "[Chunk 0")
	assert.Contains(t, out, "topic: law")
	assert.Contains(t, out, "key terms: contract")
	assert.Contains(t, out, "[Chunk 1]")
	assert.Contains(t, out, "first chunk")
	assert.Contains(t, out, "second chunk")
	assert.Contains(t, out, "---")
}
