// Package middleware 提供 HTTP 與 gRPC 的橫切關注點：請求 ID、身份、
// 存取日誌、速率限制、連接限制與輸入驗證。
package middleware

import (
	"fmt"
	"net/http"
	"time"

	"messaging-gateway/internal/platform/logger"

	"github.com/gin-gonic/gin"
)

// AccessLog 以結構化日誌記錄每個請求
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		opts := []logger.LogOption{
			logger.WithHTTPRequest(&logger.HTTPRequest{
				RequestMethod: c.Request.Method,
				RequestURL:    c.Request.URL.Path,
				RequestSize:   c.Request.ContentLength,
				Status:        status,
				ResponseSize:  int64(c.Writer.Size()),
				UserAgent:     c.Request.UserAgent(),
				RemoteIP:      c.ClientIP(),
				Latency:       fmt.Sprintf("%.3fs", time.Since(start).Seconds()),
				Protocol:      c.Request.Proto,
			}),
		}
		if who := GetIdentity(c); who.UserID != "" {
			opts = append(opts, logger.WithUserID(who.UserID))
		}

		ctx := c.Request.Context()
		switch {
		case status >= 500:
			logger.Error(ctx, "HTTP 請求失敗", opts...)
		case status >= 400:
			logger.Warning(ctx, "HTTP 請求被拒絕", opts...)
		default:
			logger.Info(ctx, "HTTP 請求", opts...)
		}
	}
}

// Recovery 捕獲 panic，記錄後返回與其他錯誤一致的 JSON 響應
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error(c.Request.Context(), "處理請求時發生 panic",
			logger.WithDetails(map[string]interface{}{
				"panic":  fmt.Sprint(recovered),
				"method": c.Request.Method,
				"path":   c.Request.URL.Path,
			}))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":      "服務器內部錯誤",
			"code":       "internal_error",
			"success":    false,
			"request_id": GetRequestID(c),
		})
	})
}
