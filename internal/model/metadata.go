package model

// DocumentMetadata 是元数据提取器产出的文档级元数据（临时对象，不直接入库）。
// Language 为 ISO 639-1 代码，提取失败时默认 "en"。
type DocumentMetadata struct {
	Topic        *string `json:"topic"`
	DocumentType *string `json:"document_type"`
	Language     string  `json:"language"`
}

// DefaultDocumentMetadata 返回提取失败时使用的空元数据。
func DefaultDocumentMetadata() DocumentMetadata {
	return DocumentMetadata{Language: "en"}
}
