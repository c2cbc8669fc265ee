package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"zhiwen-go/internal/config"
	"zhiwen-go/internal/model"
	"zhiwen-go/pkg/embedding"
	"zhiwen-go/pkg/log"
	"zhiwen-go/pkg/rerank"

	"github.com/elastic/go-elasticsearch/v8"
)

// NoRelevantDocuments 是候选集为空时注入给模型的上下文标记。
const NoRelevantDocuments = "no relevant documents"

// SearchService 接口定义了检索操作。
type SearchService interface {
	// Retrieve 执行混合搜索并在配置了重排服务时做二次排序。
	// filter 为空时不附加元数据过滤，两项同时提供时为合取。
	Retrieve(ctx context.Context, userID, query string, filter model.MetadataFilter) ([]model.RetrievedChunk, error)
}

type searchService struct {
	embeddingClient embedding.Client
	esClient        *elasticsearch.Client
	rerankClient    rerank.Client
	indexName       string
	ragCfg          config.RAGConfig
}

// NewSearchService 创建一个新的 SearchService 实例。
// rerankClient 为 nil 时重排关闭，召回数降为重排后的保留数。
func NewSearchService(
	embeddingClient embedding.Client,
	esClient *elasticsearch.Client,
	rerankClient rerank.Client,
	indexName string,
	ragCfg config.RAGConfig,
) SearchService {
	return &searchService{
		embeddingClient: embeddingClient,
		esClient:        esClient,
		rerankClient:    rerankClient,
		indexName:       indexName,
		ragCfg:          ragCfg,
	}
}

// Retrieve 执行两阶段混合搜索。
func (s *searchService) Retrieve(ctx context.Context, userID, query string, filter model.MetadataFilter) ([]model.RetrievedChunk, error) {
	matchCount := s.ragCfg.RerankTopN
	if s.rerankClient != nil {
		matchCount = s.ragCfg.MatchCount
	}
	log.Infof("[SearchService] 开始执行混合搜索, query: '%s', match_count: %d, user: %s", query, matchCount, userID)

	// 1. 向量化查询
	log.Info("[SearchService] 步骤1: 开始向量化查询")
	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}
	log.Infof("[SearchService] 步骤1: 向量化查询成功, 向量维度: %d", len(queryVector))

	// 2. 构建 Elasticsearch 混合搜索查询 (kNN + BM25, user_id 过滤, 可选元数据合取)
	log.Info("[SearchService] 步骤2: 开始构建 Elasticsearch 混合搜索查询")
	filterClauses := []map[string]interface{}{
		{"term": map[string]interface{}{"user_id": userID}},
	}
	if filter.DocumentType != "" {
		filterClauses = append(filterClauses, map[string]interface{}{
			"term": map[string]interface{}{"metadata.document_type": filter.DocumentType},
		})
	}
	if filter.Topic != "" {
		filterClauses = append(filterClauses, map[string]interface{}{
			"term": map[string]interface{}{"metadata.topic": filter.Topic},
		})
	}

	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   queryVector,
			"k":              matchCount,
			"num_candidates": matchCount * 10,
			"filter":         filterClauses,
		},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"match": map[string]interface{}{
						"content": query,
					},
				},
				"filter": filterClauses,
			},
		},
		"size": matchCount,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		log.Errorf("[SearchService] 序列化 Elasticsearch 查询失败: %v", err)
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	// 3. 执行搜索
	log.Info("[SearchService] 步骤3: 开始向 Elasticsearch 发送搜索请求")
	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(ctx),
		s.esClient.Search.WithIndex(s.indexName),
		s.esClient.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[SearchService] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[SearchService] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.String())
	}

	// 4. 解析结果
	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsChunk `json:"_source"`
				Score  float64       `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		log.Errorf("[SearchService] 解析 Elasticsearch 响应失败: %v", err)
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	chunks := make([]model.RetrievedChunk, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		chunks = append(chunks, model.RetrievedChunk{
			Content:    hit.Source.Content,
			ChunkIndex: hit.Source.ChunkIndex,
			DocumentID: hit.Source.DocumentID,
			Similarity: hit.Score,
			Metadata:   hit.Source.Metadata,
		})
	}
	log.Infof("[SearchService] 混合搜索命中 %d 条候选", len(chunks))
	if len(chunks) == 0 {
		return chunks, nil
	}

	// 5. 重排（可选）
	if s.rerankClient == nil {
		return chunks, nil
	}
	return s.rerankChunks(ctx, query, chunks)
}

// rerankChunks 调用重排服务对候选重新排序并截断。
// 重排失败时退回检索自身的排序，截断到同样的数量。
func (s *searchService) rerankChunks(ctx context.Context, query string, chunks []model.RetrievedChunk) ([]model.RetrievedChunk, error) {
	documents := make([]string, 0, len(chunks))
	for _, c := range chunks {
		documents = append(documents, c.Content)
	}

	results, err := s.rerankClient.Rerank(ctx, query, documents, s.ragCfg.RerankTopN)
	if err != nil {
		log.Warnf("[SearchService] 重排失败, 退回检索排序: %v", err)
		if len(chunks) > s.ragCfg.RerankTopN {
			chunks = chunks[:s.ragCfg.RerankTopN]
		}
		return chunks, nil
	}

	reranked := make([]model.RetrievedChunk, 0, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(chunks) {
			continue
		}
		chunk := chunks[r.Index]
		score := r.RelevanceScore
		chunk.RelevanceScore = &score
		reranked = append(reranked, chunk)
	}
	log.Infof("[SearchService] 重排完成, 保留 %d 条候选", len(reranked))
	return reranked, nil
}

// FormatContext 把候选分块拼接成注入给模型的上下文。
// 每块带分块序号与可用的 document_type/topic/key_terms 头部, 块间以水平分隔线分隔；
// 空候选集返回固定的无结果标记。
func FormatContext(chunks []model.RetrievedChunk) string {
	if len(chunks) == 0 {
		return NoRelevantDocuments
	}

	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		var header strings.Builder
		fmt.Fprintf(&header, "[Chunk %d", c.ChunkIndex)
		if c.Metadata.DocumentType != nil && *c.Metadata.DocumentType != "" {
			fmt.Fprintf(&header, " | type: %s", *c.Metadata.DocumentType)
		}
		if c.Metadata.Topic != nil && *c.Metadata.Topic != "" {
			fmt.Fprintf(&header, " | topic: %s", *c.Metadata.Topic)
		}
		if len(c.Metadata.KeyTerms) > 0 {
			fmt.Fprintf(&header, " | key terms: %s", strings.Join(c.Metadata.KeyTerms, ", "))
		}
		header.WriteString("]")
		parts = append(parts, header.String()+"\n"+c.Content)
	}
	return strings.Join(parts, "\n\n---\n\n")
}
