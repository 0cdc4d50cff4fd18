// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kazakh-hub/pkg/log"
	"kazakh-hub/pkg/token"
)

const (
	// AuthorKey 是 gin 上下文中保存当前作者的键。
	AuthorKey = "author"
	// ClaimsKey 是 gin 上下文中保存完整 claims 的键。
	ClaimsKey = "claims"
)

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// token 从 Authorization 请求头读取；WebSocket 握手无法设置请求头，允许使用 ?token= 查询参数。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extractToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含有效的授权信息"})
			return
		}

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			log.Warnf("[AuthMiddleware] token 校验失败, path: %s, error: %v", c.Request.URL.Path, err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的 token"})
			return
		}

		c.Set(AuthorKey, claims.Author)
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func extractToken(c *gin.Context) (string, bool) {
	const bearerPrefix = "Bearer "
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			return "", false
		}
		t := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
		return t, t != ""
	}
	if t := c.Query("token"); t != "" {
		return t, true
	}
	return "", false
}

// Author 返回认证中间件写入的作者，未认证时为空。
func Author(c *gin.Context) string {
	return c.GetString(AuthorKey)
}
