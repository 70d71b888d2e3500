package httputil

import "github.com/gin-gonic/gin"

// OK 回傳帶數據的成功回應.
func OK(data interface{}) gin.H {
	return gin.H{
		"success": true,
		"data":    data,
	}
}

// OKWithCount 回傳帶影響筆數的成功回應.
func OKWithCount(count int) gin.H {
	return gin.H{
		"success": true,
		"count":   count,
	}
}

// Done 回傳無數據的成功回應.
func Done() gin.H {
	return gin.H{"success": true}
}
