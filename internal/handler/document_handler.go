// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"io"
	"net/http"

	"zhiwen-go/internal/middleware"
	"zhiwen-go/internal/service"
	"zhiwen-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 负责处理文档相关的 HTTP 请求。
type DocumentHandler struct {
	documentService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler。
func NewDocumentHandler(documentService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

// Upload 处理 POST /api/v1/documents 的文件上传。
func (h *DocumentHandler) Upload(c *gin.Context) {
	userID := middleware.CurrentUserID(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少上传文件"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无法读取上传文件"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, service.MaxUploadSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "读取上传文件失败"})
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	doc, err := h.documentService.Upload(c.Request.Context(), userID, fileHeader.Filename, mimeType, data)
	if err != nil {
		var dup *service.DuplicateDocumentError
		switch {
		case errors.As(err, &dup):
			c.JSON(http.StatusConflict, gin.H{
				"error":                "内容与已有文档重复",
				"existing_document_id": dup.ExistingID,
			})
		case errors.Is(err, service.ErrInvalidFileType):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrFileTooLarge):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			log.Errorf("[DocumentHandler] 上传失败: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "上传失败"})
		}
		return
	}

	c.JSON(http.StatusCreated, doc)
}

// List 处理 GET /api/v1/documents。
func (h *DocumentHandler) List(c *gin.Context) {
	userID := middleware.CurrentUserID(c)

	docs, err := h.documentService.List(userID)
	if err != nil {
		log.Errorf("[DocumentHandler] 查询文档列表失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询文档列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// Get 处理 GET /api/v1/documents/:id。
func (h *DocumentHandler) Get(c *gin.Context) {
	userID := middleware.CurrentUserID(c)

	doc, err := h.documentService.Get(c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, service.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "文档不存在"})
			return
		}
		log.Errorf("[DocumentHandler] 查询文档失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询文档失败"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Delete 处理 DELETE /api/v1/documents/:id。
func (h *DocumentHandler) Delete(c *gin.Context) {
	userID := middleware.CurrentUserID(c)

	if err := h.documentService.Delete(c.Request.Context(), c.Param("id"), userID); err != nil {
		if errors.Is(err, service.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "文档不存在"})
			return
		}
		log.Errorf("[DocumentHandler] 删除文档失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除文档失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "删除成功"})
}
