package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// APIKeyHeader 携带 API Key 的请求头
const APIKeyHeader = "X-API-Key"

// APIKeyAuth API Key认证中间件（单用户，静态密钥）
type APIKeyAuth struct {
	key    []byte
	logger *zap.Logger
}

// NewAPIKeyAuth 创建API Key认证中间件；key 为空时不做认证
func NewAPIKeyAuth(key string, logger *zap.Logger) *APIKeyAuth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIKeyAuth{
		key:    []byte(key),
		logger: logger,
	}
}

// Enabled 是否配置了 API Key
func (m *APIKeyAuth) Enabled() bool {
	return len(m.key) > 0
}

// RequireAPIKey 要求API Key认证
func (m *APIKeyAuth) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}

		apiKey := c.GetHeader(APIKeyHeader)
		if apiKey == "" {
			abort(c, http.StatusUnauthorized, "missing API key")
			return
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), m.key) != 1 {
			m.logger.Warn("invalid API key", zap.String("ip", c.ClientIP()), zap.String("path", c.Request.URL.Path))
			abort(c, http.StatusUnauthorized, "invalid API key")
			return
		}

		c.Next()
	}
}
