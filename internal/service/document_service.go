package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"zhiwen-go/internal/model"
	"zhiwen-go/internal/repository"
	"zhiwen-go/pkg/docling"
	"zhiwen-go/pkg/kafka"
	"zhiwen-go/pkg/log"
	"zhiwen-go/pkg/storage"
	"zhiwen-go/pkg/tasks"

	"github.com/google/uuid"
)

// MaxUploadSize 是单个上传文件的字节数上限 (20 MB)。
const MaxUploadSize = 20 * 1024 * 1024

var (
	// ErrInvalidFileType 表示文件类型不在允许列表内。
	ErrInvalidFileType = errors.New("unsupported file type, allowed: pdf, txt, md")
	// ErrFileTooLarge 表示文件超过大小上限。
	ErrFileTooLarge = errors.New("file exceeds the 20 MB size limit")
	// ErrDocumentNotFound 表示文档不存在或不属于当前用户。
	ErrDocumentNotFound = errors.New("document not found")
)

// DuplicateDocumentError 表示内容与某个已就绪文档完全相同。
type DuplicateDocumentError struct {
	ExistingID string
}

func (e *DuplicateDocumentError) Error() string {
	return fmt.Sprintf("duplicate content, existing document: %s", e.ExistingID)
}

var allowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
	"text/markdown":   true,
}

// DocumentService 接口定义了文档的上传与读取操作。
type DocumentService interface {
	// Upload 校验并接受一次上传：写入对象存储、创建 uploading 状态的记录、
	// 投递摄取任务。内容与已就绪文档重复时返回 *DuplicateDocumentError。
	Upload(ctx context.Context, userID, filename, mimeType string, data []byte) (*model.Document, error)
	List(userID string) ([]model.Document, error)
	Get(id, userID string) (*model.Document, error)
	// Delete 级联删除：分块记录、向量索引、存储对象与文档记录本身。
	Delete(ctx context.Context, id, userID string) error
}

// ChunkIndexCleaner 抽象删除文档向量索引的能力。
type ChunkIndexCleaner interface {
	DeleteByDocumentID(ctx context.Context, documentID string) error
}

type documentService struct {
	docRepo repository.DocumentRepository
	indexer ChunkIndexCleaner
	bucket  string
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(docRepo repository.DocumentRepository, indexCleaner ChunkIndexCleaner, bucket string) DocumentService {
	return &documentService{
		docRepo: docRepo,
		indexer: indexCleaner,
		bucket:  bucket,
	}
}

// Upload 处理一次文档上传。
func (s *documentService) Upload(ctx context.Context, userID, filename, mimeType string, data []byte) (*model.Document, error) {
	log.Infof("[DocumentService] 收到上传请求, user: %s, filename: %s, mime: %s, size: %d", userID, filename, mimeType, len(data))

	// 1. 类型与大小校验。部分客户端对 .md 上报 octet-stream, 按扩展名修正
	if mimeType == "application/octet-stream" && strings.HasSuffix(strings.ToLower(filename), ".md") {
		mimeType = "text/markdown"
	}
	if !allowedMimeTypes[mimeType] {
		return nil, ErrInvalidFileType
	}
	if len(data) > MaxUploadSize {
		return nil, ErrFileTooLarge
	}

	// 2. 内容去重：与任一已就绪文档哈希相同则拒绝
	hash := sha256.Sum256(data)
	contentHash := hex.EncodeToString(hash[:])
	existing, err := s.docRepo.FindReadyByContentHash(contentHash)
	if err != nil {
		return nil, fmt.Errorf("查询重复文档失败: %w", err)
	}
	if existing != nil {
		log.Infof("[DocumentService] 检测到重复上传, content_hash: %s, existing: %s", contentHash, existing.ID)
		return nil, &DuplicateDocumentError{ExistingID: existing.ID}
	}

	// 3. 写入对象存储
	docID := uuid.NewString()
	objectName := fmt.Sprintf("%s/%s/%s", userID, docID, filename)
	if err := storage.PutObject(ctx, s.bucket, objectName, data, docling.DetectMimeType(filename)); err != nil {
		return nil, fmt.Errorf("写入对象存储失败: %w", err)
	}
	log.Infof("[DocumentService] 文件已写入对象存储, object: %s", objectName)

	// 4. 创建 uploading 状态的文档记录
	doc := &model.Document{
		ID:          docID,
		UserID:      userID,
		Filename:    filename,
		FilePath:    objectName,
		FileSize:    int64(len(data)),
		MimeType:    mimeType,
		Status:      model.DocumentStatusUploading,
		ContentHash: contentHash,
	}
	if err := s.docRepo.Create(doc); err != nil {
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}

	// 5. 投递摄取任务（即发即忘）
	task := tasks.DocumentProcessingTask{
		DocumentID:  docID,
		StoragePath: objectName,
		MimeType:    mimeType,
		Filename:    filename,
		UserID:      userID,
	}
	if err := kafka.ProduceDocumentTask(task); err != nil {
		log.Errorf("[DocumentService] 投递摄取任务失败, document: %s, error: %v", docID, err)
		if markErr := s.docRepo.MarkError(docID, "failed to enqueue ingestion task"); markErr != nil {
			log.Errorf("[DocumentService] 标记文档为 error 失败: %v", markErr)
		}
		return nil, fmt.Errorf("投递摄取任务失败: %w", err)
	}

	log.Infof("[DocumentService] 上传已接受, document: %s", docID)
	return doc, nil
}

func (s *documentService) List(userID string) ([]model.Document, error) {
	return s.docRepo.FindByUserID(userID)
}

func (s *documentService) Get(id, userID string) (*model.Document, error) {
	doc, err := s.docRepo.FindByIDAndUser(id, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// Delete 级联删除文档及其派生数据。
func (s *documentService) Delete(ctx context.Context, id, userID string) error {
	doc, err := s.docRepo.FindByIDAndUser(id, userID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}

	log.Infof("[DocumentService] 开始删除文档, document: %s, user: %s", id, userID)

	if err := s.docRepo.DeleteChunksByDocumentID(id); err != nil {
		return fmt.Errorf("删除分块记录失败: %w", err)
	}
	if err := s.indexer.DeleteByDocumentID(ctx, id); err != nil {
		log.Warnf("[DocumentService] 删除向量索引失败, 继续删除其余数据: %v", err)
	}
	if err := storage.RemoveObject(ctx, s.bucket, doc.FilePath); err != nil {
		log.Warnf("[DocumentService] 删除存储对象失败, 继续删除记录: %v", err)
	}
	if err := s.docRepo.Delete(id); err != nil {
		return fmt.Errorf("删除文档记录失败: %w", err)
	}

	s.docRepo.InvalidateReadyCount(ctx, userID)
	log.Infof("[DocumentService] 文档删除完成, document: %s", id)
	return nil
}
