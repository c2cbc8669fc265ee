// Package tasks 定义了投递到 Kafka 的任务结构。
package tasks

// DocumentProcessingTask 描述一次文档摄取任务。
// 在上传被接受后投递，一次投递对应一次摄取尝试，失败不自动重试。
type DocumentProcessingTask struct {
	DocumentID  string `json:"document_id"`
	StoragePath string `json:"storage_path"`
	MimeType    string `json:"mime_type"`
	Filename    string `json:"filename"`
	UserID      string `json:"user_id"`
}
