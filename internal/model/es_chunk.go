package model

// EsChunk 定义了存储在 Elasticsearch chunks 索引中的文档结构。
// 每个分块对应且仅对应一条索引记录，VectorID = "{documentID}_{chunkIndex}"。
type EsChunk struct {
	VectorID     string        `json:"vector_id"`
	DocumentID   string        `json:"document_id"`
	UserID       string        `json:"user_id"`
	ChunkIndex   int           `json:"chunk_index"`
	Content      string        `json:"content"`
	Vector       []float32     `json:"vector"`
	ModelVersion string        `json:"model_version"`
	Metadata     ChunkMetadata `json:"metadata"`
}

// RetrievedChunk 是混合搜索返回的单个候选分块。
// Similarity 为检索阶段的相似度得分；RelevanceScore 仅在经过重排后存在。
type RetrievedChunk struct {
	Content        string        `json:"content"`
	ChunkIndex     int           `json:"chunk_index"`
	DocumentID     string        `json:"document_id"`
	Similarity     float64       `json:"similarity"`
	RelevanceScore *float64      `json:"relevance_score,omitempty"`
	Metadata       ChunkMetadata `json:"metadata"`
}

// Score 返回门控引用来源时使用的得分：重排得分优先，否则为检索相似度。
func (c RetrievedChunk) Score() float64 {
	if c.RelevanceScore != nil {
		return *c.RelevanceScore
	}
	return c.Similarity
}

// MetadataFilter 是检索时可选的元数据过滤条件。
// 仅当调用方至少提供其中一项时才参与查询，两项同时提供时为合取。
type MetadataFilter struct {
	DocumentType string
	Topic        string
}

// Empty 报告过滤条件是否为空。
func (f MetadataFilter) Empty() bool {
	return f.DocumentType == "" && f.Topic == ""
}
