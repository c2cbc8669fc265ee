package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health 处理 GET /health 的存活探测。
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
