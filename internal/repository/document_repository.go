// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"zhiwen-go/internal/model"
	"zhiwen-go/pkg/log"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// DocumentRepository 定义了文档与分块记录的操作接口。
type DocumentRepository interface {
	Create(doc *model.Document) error
	FindByID(id string) (*model.Document, error)
	FindByIDAndUser(id, userID string) (*model.Document, error)
	FindByUserID(userID string) ([]model.Document, error)
	// FindReadyByContentHash 在已就绪的文档中按内容哈希查找，未命中返回 nil。
	FindReadyByContentHash(contentHash string) (*model.Document, error)
	MarkProcessing(id string) error
	MarkReady(id string, chunkCount int) error
	MarkError(id string, message string) error
	Delete(id string) error

	BatchCreateChunks(chunks []model.Chunk, batchSize int) error
	DeleteChunksByDocumentID(documentID string) error

	// CountReadyByUser 返回用户就绪文档数，带短 TTL 的 Redis 缓存。
	CountReadyByUser(ctx context.Context, userID string) (int64, error)
	// InvalidateReadyCount 在文档状态变化后使缓存失效。
	InvalidateReadyCount(ctx context.Context, userID string)
}

type gormDocumentRepository struct {
	db          *gorm.DB
	redisClient *redis.Client
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB, redisClient *redis.Client) DocumentRepository {
	return &gormDocumentRepository{db: db, redisClient: redisClient}
}

func (r *gormDocumentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

func (r *gormDocumentRepository) FindByID(id string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

func (r *gormDocumentRepository) FindByIDAndUser(id, userID string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

func (r *gormDocumentRepository) FindByUserID(userID string) ([]model.Document, error) {
	var docs []model.Document
	if err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *gormDocumentRepository) FindReadyByContentHash(contentHash string) (*model.Document, error) {
	var doc model.Document
	err := r.db.Where("content_hash = ? AND status = ?",
		contentHash, model.DocumentStatusReady).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

func (r *gormDocumentRepository) MarkProcessing(id string) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).
		Update("status", model.DocumentStatusProcessing).Error
}

func (r *gormDocumentRepository) MarkReady(id string, chunkCount int) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        model.DocumentStatusReady,
		"chunk_count":   chunkCount,
		"error_message": nil,
	}).Error
}

func (r *gormDocumentRepository) MarkError(id string, message string) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        model.DocumentStatusError,
		"error_message": message,
	}).Error
}

func (r *gormDocumentRepository) Delete(id string) error {
	return r.db.Where("id = ?", id).Delete(&model.Document{}).Error
}

// BatchCreateChunks 分批写入分块记录，避免单条 INSERT 过大。
func (r *gormDocumentRepository) BatchCreateChunks(chunks []model.Chunk, batchSize int) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.CreateInBatches(chunks, batchSize).Error
}

func (r *gormDocumentRepository) DeleteChunksByDocumentID(documentID string) error {
	return r.db.Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error
}

func readyCountKey(userID string) string {
	return fmt.Sprintf("user:%s:ready_doc_count", userID)
}

func (r *gormDocumentRepository) CountReadyByUser(ctx context.Context, userID string) (int64, error) {
	key := readyCountKey(userID)
	cached, err := r.redisClient.Get(ctx, key).Result()
	if err == nil {
		if count, parseErr := strconv.ParseInt(cached, 10, 64); parseErr == nil {
			return count, nil
		}
	} else if err != redis.Nil {
		log.Warnf("读取就绪文档数缓存失败, 回退数据库: %v", err)
	}

	var count int64
	if err := r.db.Model(&model.Document{}).
		Where("user_id = ? AND status = ?", userID, model.DocumentStatusReady).
		Count(&count).Error; err != nil {
		return 0, err
	}

	if err := r.redisClient.Set(ctx, key, count, 30*time.Second).Err(); err != nil {
		log.Warnf("写入就绪文档数缓存失败: %v", err)
	}
	return count, nil
}

func (r *gormDocumentRepository) InvalidateReadyCount(ctx context.Context, userID string) {
	if err := r.redisClient.Del(ctx, readyCountKey(userID)).Err(); err != nil {
		log.Warnf("清除就绪文档数缓存失败: %v", err)
	}
}
