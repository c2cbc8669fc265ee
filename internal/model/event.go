package model

// 流式事件名。每个事件单独成帧下发给客户端。
const (
	EventDelta       = "delta"
	EventDone        = "done"
	EventSources     = "sources"
	EventError       = "error"
	EventTitleUpdate = "title_update"
)

// StreamEvent 是会话编排器产出的单个流式事件。
// 编排器作为生产者向 channel 写入事件，由传输层（SSE 或 WebSocket）负责下发。
type StreamEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// DeltaData 携带一段增量文本。
type DeltaData struct {
	Text string `json:"text"`
}

// DoneData 标记模型已完成本轮回答。
type DoneData struct{}

// ErrorData 携带终止本轮处理的错误描述。
type ErrorData struct {
	Error string `json:"error"`
}

// SourcesData 携带通过阈值筛选的引用来源，至多在首个 delta 之前发送一次。
type SourcesData struct {
	Sources []Source `json:"sources"`
}

// TitleData 携带自动生成的线程标题。
type TitleData struct {
	Title string `json:"title"`
}

// SourceMetadata 是引用来源暴露给用户的元数据子集。
type SourceMetadata struct {
	Topic        *string  `json:"topic,omitempty"`
	DocumentType *string  `json:"document_type,omitempty"`
	KeyTerms     []string `json:"key_terms"`
}

// Source 是一条面向用户的引用来源。
// Excerpt 为剥离 Markdown 语法并截断后的纯文本摘录。
type Source struct {
	Excerpt        string         `json:"excerpt"`
	ChunkIndex     int            `json:"chunk_index"`
	DocumentID     string         `json:"document_id"`
	Metadata       SourceMetadata `json:"metadata"`
	RelevanceScore *float64       `json:"relevance_score,omitempty"`
	Similarity     *float64       `json:"similarity,omitempty"`
}
