// Package rerank 提供了调用 Cohere 重排 API 的客户端。
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"zhiwen-go/internal/config"
	"zhiwen-go/pkg/log"
)

// Client 接口定义了重排操作。
type Client interface {
	// Rerank 对候选文本按与 query 的相关性重排，返回至多 topN 条结果。
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error)
}

// Result 是重排后的单条结果，Index 指向原始 documents 切片的下标。
type Result struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type cohereClient struct {
	cfg    config.RerankConfig
	client *http.Client
}

// NewClient 创建 Cohere 重排客户端。未配置 API Key 时返回 nil，
// 调用方以 nil 判断重排是否启用。
func NewClient(cfg config.RerankConfig) Client {
	if !cfg.Enabled() {
		log.Info("[RerankClient] 未配置 Rerank API Key, 重排功能关闭")
		return nil
	}
	return &cohereClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []Result `json:"results"`
}

// Rerank 调用 Cohere v2 重排 API。
func (c *cohereClient) Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	if len(documents) == 0 {
		return []Result{}, nil
	}

	log.Infof("[RerankClient] 开始调用 Rerank API, model: %s, documents: %d, top_n: %d", c.cfg.Model, len(documents), topN)

	reqBody := rerankRequest{
		Model:     c.cfg.Model,
		Query:     query,
		Documents: documents,
		TopN:      topN,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/v2/rerank", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call rerank api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var rerankResp rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rerankResp); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	log.Infof("[RerankClient] 重排成功, 返回 %d 条结果", len(rerankResp.Results))
	return rerankResp.Results, nil
}
