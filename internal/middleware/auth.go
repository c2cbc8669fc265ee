// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"zhiwen-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// UserIDKey 是认证中间件写入 Gin 上下文的用户标识键。
const UserIDKey = "userID"

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// Token 由外部身份服务签发，这里只做验签并把用户标识存入上下文。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含授权头"})
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的授权头格式"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的 token"})
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

// CurrentUserID 从 Gin 上下文读取认证中间件写入的用户标识。
func CurrentUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
