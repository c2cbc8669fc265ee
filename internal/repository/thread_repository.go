package repository

import (
	"errors"

	"zhiwen-go/internal/model"

	"gorm.io/gorm"
)

// ThreadRepository 定义了会话线程与消息记录的操作接口。
type ThreadRepository interface {
	CreateThread(thread *model.Thread) error
	FindThreadByIDAndUser(id, userID string) (*model.Thread, error)
	FindThreadsByUserID(userID string) ([]model.Thread, error)
	UpdateThreadTitle(id, title string) error
	TouchThread(id string) error
	DeleteThread(id string) error

	CreateMessage(msg *model.Message) error
	FindMessagesByThreadID(threadID string) ([]model.Message, error)
	CountMessagesByThreadID(threadID string) (int64, error)
	DeleteMessagesByThreadID(threadID string) error
}

type gormThreadRepository struct {
	db *gorm.DB
}

// NewThreadRepository 创建一个新的 ThreadRepository 实例。
func NewThreadRepository(db *gorm.DB) ThreadRepository {
	return &gormThreadRepository{db: db}
}

func (r *gormThreadRepository) CreateThread(thread *model.Thread) error {
	return r.db.Create(thread).Error
}

func (r *gormThreadRepository) FindThreadByIDAndUser(id, userID string) (*model.Thread, error) {
	var thread model.Thread
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&thread).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &thread, nil
}

func (r *gormThreadRepository) FindThreadsByUserID(userID string) ([]model.Thread, error) {
	var threads []model.Thread
	if err := r.db.Where("user_id = ?", userID).Order("updated_at DESC").Find(&threads).Error; err != nil {
		return nil, err
	}
	return threads, nil
}

func (r *gormThreadRepository) UpdateThreadTitle(id, title string) error {
	return r.db.Model(&model.Thread{}).Where("id = ?", id).Update("title", title).Error
}

// TouchThread 仅刷新 updated_at，让最近活跃的线程排在列表前面。
func (r *gormThreadRepository) TouchThread(id string) error {
	return r.db.Model(&model.Thread{}).Where("id = ?", id).
		Update("updated_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
}

func (r *gormThreadRepository) DeleteThread(id string) error {
	return r.db.Where("id = ?", id).Delete(&model.Thread{}).Error
}

func (r *gormThreadRepository) CreateMessage(msg *model.Message) error {
	return r.db.Create(msg).Error
}

func (r *gormThreadRepository) FindMessagesByThreadID(threadID string) ([]model.Message, error) {
	var messages []model.Message
	if err := r.db.Where("thread_id = ?", threadID).Order("created_at ASC, id ASC").Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *gormThreadRepository) CountMessagesByThreadID(threadID string) (int64, error) {
	var count int64
	if err := r.db.Model(&model.Message{}).Where("thread_id = ?", threadID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *gormThreadRepository) DeleteMessagesByThreadID(threadID string) error {
	return r.db.Where("thread_id = ?", threadID).Delete(&model.Message{}).Error
}
