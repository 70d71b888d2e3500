package httputil

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"messaging-gateway/internal/apperr"
	"messaging-gateway/internal/platform/logger"
	"messaging-gateway/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

// StatusFor 將服務層錯誤類別映射為 HTTP 狀態碼
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindDependency:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Error 按錯誤類別返回響應，依賴失敗與未分類錯誤不暴露內部信息
func Error(c *gin.Context, err error) {
	status := StatusFor(err)
	switch status {
	case http.StatusServiceUnavailable:
		SafeError(c, status, err, "依賴服務暫時不可用，請稍後再試")
		return
	case http.StatusInternalServerError:
		SafeError(c, status, err, "服務器內部錯誤，請稍後再試")
		return
	}

	message := err.Error()
	var e *apperr.Error
	if errors.As(err, &e) && e.Message != "" {
		message = e.Message
	}
	abort(c, status, string(apperr.KindOf(err)), message)
}

// SafeError 安全的錯誤響應（不洩露內部信息）
func SafeError(c *gin.Context, statusCode int, err error, userMessage string) {
	requestID := middleware.GetRequestID(c)

	// 記錄真實錯誤到日誌（用於調試）
	logger.Error(c.Request.Context(), fmt.Sprintf("API Error: %v", err),
		logger.WithDetails(map[string]interface{}{
			"request_id": requestID,
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
			"status":     statusCode,
		}))

	message := userMessage
	if statusCode < http.StatusInternalServerError && shouldShowError(err) {
		message = err.Error()
	}

	code := string(apperr.KindOf(err))
	if code == "" {
		code = "internal_error"
	}
	abort(c, statusCode, code, message)
}

// shouldShowError 判斷是否可以向用戶顯示錯誤詳情
func shouldShowError(err error) bool {
	if err == nil {
		return false
	}

	// 不應顯示的錯誤關鍵字（可能洩露敏感信息）
	dangerousKeywords := []string{
		"mongo",
		"redis",
		"database",
		"connection",
		"password",
		"token",
		"secret",
		"credential",
		"grpc",
		"internal",
		"stack",
		"panic",
	}

	lowerMsg := strings.ToLower(err.Error())
	for _, keyword := range dangerousKeywords {
		if strings.Contains(lowerMsg, keyword) {
			return false
		}
	}
	return true
}

// BadRequest 錯誤的請求
func BadRequest(c *gin.Context, message string) {
	abort(c, http.StatusBadRequest, string(apperr.KindValidation), message)
}

// ValidationError 欄位驗證錯誤
func ValidationError(c *gin.Context, field string, message string) {
	BadRequest(c, fmt.Sprintf("%s: %s", field, message))
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":      message,
		"code":       code,
		"success":    false,
		"request_id": middleware.GetRequestID(c),
	})
}
