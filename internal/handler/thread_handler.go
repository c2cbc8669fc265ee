package handler

import (
	"errors"
	"net/http"

	"zhiwen-go/internal/middleware"
	"zhiwen-go/internal/service"
	"zhiwen-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ThreadHandler 负责处理会话线程相关的 HTTP 请求。
type ThreadHandler struct {
	threadService service.ThreadService
}

// NewThreadHandler 创建一个新的 ThreadHandler。
func NewThreadHandler(threadService service.ThreadService) *ThreadHandler {
	return &ThreadHandler{threadService: threadService}
}

// Create 处理 POST /api/v1/threads。
func (h *ThreadHandler) Create(c *gin.Context) {
	userID := middleware.CurrentUserID(c)

	thread, err := h.threadService.Create(userID)
	if err != nil {
		log.Errorf("[ThreadHandler] 创建线程失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建线程失败"})
		return
	}
	c.JSON(http.StatusCreated, thread)
}

// List 处理 GET /api/v1/threads。
func (h *ThreadHandler) List(c *gin.Context) {
	userID := middleware.CurrentUserID(c)

	threads, err := h.threadService.List(userID)
	if err != nil {
		log.Errorf("[ThreadHandler] 查询线程列表失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询线程列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

// Rename 处理 PATCH /api/v1/threads/:id。
func (h *ThreadHandler) Rename(c *gin.Context) {
	userID := middleware.CurrentUserID(c)

	var req struct {
		Title string `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少标题"})
		return
	}

	thread, err := h.threadService.Rename(c.Param("id"), userID, req.Title)
	if err != nil {
		if errors.Is(err, service.ErrThreadNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "线程不存在"})
			return
		}
		log.Errorf("[ThreadHandler] 重命名线程失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "重命名线程失败"})
		return
	}
	c.JSON(http.StatusOK, thread)
}

// Delete 处理 DELETE /api/v1/threads/:id。
func (h *ThreadHandler) Delete(c *gin.Context) {
	userID := middleware.CurrentUserID(c)

	if err := h.threadService.Delete(c.Param("id"), userID); err != nil {
		if errors.Is(err, service.ErrThreadNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "线程不存在"})
			return
		}
		log.Errorf("[ThreadHandler] 删除线程失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除线程失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "删除成功"})
}

// ListMessages 处理 GET /api/v1/threads/:id/messages。
func (h *ThreadHandler) ListMessages(c *gin.Context) {
	userID := middleware.CurrentUserID(c)

	messages, err := h.threadService.ListMessages(c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, service.ErrThreadNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "线程不存在"})
			return
		}
		log.Errorf("[ThreadHandler] 查询消息列表失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询消息列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
