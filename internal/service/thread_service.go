package service

import (
	"zhiwen-go/internal/model"
	"zhiwen-go/internal/repository"

	"github.com/google/uuid"
)

// ThreadService 接口定义了会话线程与消息的读写操作。
type ThreadService interface {
	Create(userID string) (*model.Thread, error)
	List(userID string) ([]model.Thread, error)
	Rename(id, userID, title string) (*model.Thread, error)
	Delete(id, userID string) error
	ListMessages(threadID, userID string) ([]model.Message, error)
}

type threadService struct {
	threadRepo repository.ThreadRepository
}

// NewThreadService 创建一个新的 ThreadService 实例。
func NewThreadService(threadRepo repository.ThreadRepository) ThreadService {
	return &threadService{threadRepo: threadRepo}
}

func (s *threadService) Create(userID string) (*model.Thread, error) {
	thread := &model.Thread{
		ID:     uuid.NewString(),
		UserID: userID,
		Title:  "New Chat",
	}
	if err := s.threadRepo.CreateThread(thread); err != nil {
		return nil, err
	}
	return thread, nil
}

func (s *threadService) List(userID string) ([]model.Thread, error) {
	return s.threadRepo.FindThreadsByUserID(userID)
}

func (s *threadService) Rename(id, userID, title string) (*model.Thread, error) {
	thread, err := s.threadRepo.FindThreadByIDAndUser(id, userID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, ErrThreadNotFound
	}
	if err := s.threadRepo.UpdateThreadTitle(id, title); err != nil {
		return nil, err
	}
	thread.Title = title
	return thread, nil
}

// Delete 删除线程及其全部消息。
func (s *threadService) Delete(id, userID string) error {
	thread, err := s.threadRepo.FindThreadByIDAndUser(id, userID)
	if err != nil {
		return err
	}
	if thread == nil {
		return ErrThreadNotFound
	}
	if err := s.threadRepo.DeleteMessagesByThreadID(id); err != nil {
		return err
	}
	return s.threadRepo.DeleteThread(id)
}

func (s *threadService) ListMessages(threadID, userID string) ([]model.Message, error) {
	thread, err := s.threadRepo.FindThreadByIDAndUser(threadID, userID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, ErrThreadNotFound
	}
	return s.threadRepo.FindMessagesByThreadID(threadID)
}
