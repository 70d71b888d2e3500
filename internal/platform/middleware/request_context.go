package middleware

import (
	"messaging-gateway/internal/security/audit"

	"github.com/gin-gonic/gin"
)

// RequestMetadataMiddleware 把來源 IP 與 User-Agent 附加到 context 供審計使用.
// IP 取自 gin 的 ClientIP，只有來自可信代理的轉發標頭才會被採用.
func RequestMetadataMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := audit.WithClient(c.Request.Context(), c.ClientIP(), c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
