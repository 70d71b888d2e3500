package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"messaging-gateway/internal/constants"

	"github.com/gin-gonic/gin"
)

// ValidateUserID 驗證用戶 ID 格式
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("用戶 ID 不能為空")
	}
	if len(userID) > constants.MaxUserIDLength {
		return fmt.Errorf("用戶 ID 格式錯誤")
	}
	// 防止 NULL 字符注入和查詢操作符
	if strings.ContainsAny(userID, "\x00${}[]") {
		return fmt.Errorf("用戶 ID 包含非法字符")
	}
	return nil
}

// ValidateObjectID 驗證資源 ID 格式（MongoDB ObjectID 十六進制）
func ValidateObjectID(id string) error {
	if len(id) != 24 {
		return fmt.Errorf("ID 格式錯誤")
	}
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return fmt.Errorf("ID 格式錯誤")
		}
	}
	return nil
}

// RequireObjectIDParams 檢查路由參數為合法 ID，否則返回 400
func RequireObjectIDParams(names ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, name := range names {
			if err := ValidateObjectID(c.Param(name)); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":      fmt.Sprintf("%s: %v", name, err),
					"code":       "validation_error",
					"success":    false,
					"request_id": GetRequestID(c),
				})
				return
			}
		}
		c.Next()
	}
}

// RequestSizeLimiter 限制請求體大小的中間件
func RequestSizeLimiter(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":      fmt.Sprintf("請求體過大，最大允許 %d 字節", maxSize),
				"code":       "payload_too_large",
				"success":    false,
				"request_id": GetRequestID(c),
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}
