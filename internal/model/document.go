// Package model 包含了应用的数据模型定义。
package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// 文档状态机：uploading → processing → {ready | error}。
// 状态由摄取管道单向推进，error 为该次摄取的终态。
const (
	DocumentStatusUploading  = "uploading"
	DocumentStatusProcessing = "processing"
	DocumentStatusReady      = "ready"
	DocumentStatusError      = "error"
)

// Document 对应于数据库中的 documents 表，记录一个上传文件的元数据与处理状态。
type Document struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID       string    `gorm:"type:varchar(36);not null;index" json:"userId"`
	Filename     string    `gorm:"type:varchar(255);not null" json:"filename"`
	FilePath     string    `gorm:"type:varchar(512);not null" json:"filePath"`
	FileSize     int64     `gorm:"not null" json:"fileSize"`
	MimeType     string    `gorm:"type:varchar(100);not null" json:"mimeType"`
	Status       string    `gorm:"type:varchar(20);not null;default:uploading" json:"status"`
	ChunkCount   int       `gorm:"not null;default:0" json:"chunkCount"`
	ContentHash  string    `gorm:"type:varchar(64);not null;index" json:"contentHash"`
	ErrorMessage *string   `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// ChunkMetadata 是合并了文档级元数据与分块级关键词的分块元数据。
// 它以 JSON 形式存储在 chunks 表的 metadata 列中。
type ChunkMetadata struct {
	Topic        *string  `json:"topic,omitempty"`
	DocumentType *string  `json:"document_type,omitempty"`
	KeyTerms     []string `json:"key_terms"`
	Language     string   `json:"language"`
}

// Value 实现 driver.Valuer，将元数据序列化为 JSON 存储。
func (m ChunkMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan 实现 sql.Scanner，从 JSON 列恢复元数据。
func (m *ChunkMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = ChunkMetadata{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("unsupported type for ChunkMetadata")
	}
}

// Chunk 对应于数据库中的 chunks 表。
// 每个分块属于且仅属于一个文档，chunk_index 自 0 起连续且在文档内唯一；
// 分块一经写入不再修改，随所属文档级联删除。向量本体存储在搜索索引中。
type Chunk struct {
	ID         uint          `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID string        `gorm:"type:varchar(36);not null;index;uniqueIndex:idx_doc_chunk,priority:1" json:"documentId"`
	ChunkIndex int           `gorm:"not null;uniqueIndex:idx_doc_chunk,priority:2" json:"chunkIndex"`
	Content    string        `gorm:"type:text;not null" json:"content"`
	Metadata   ChunkMetadata `gorm:"type:json" json:"metadata"`
	CreatedAt  time.Time     `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Chunk) TableName() string {
	return "chunks"
}
