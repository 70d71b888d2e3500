package middleware

import (
	"net/http"
	"sync"
	"time"

	"messaging-gateway/internal/security/audit"

	"github.com/gin-gonic/gin"
)

// RateLimiter 固定窗口速率限制器
type RateLimiter struct {
	visitors map[string]*Visitor
	mu       sync.Mutex
	rate     int           // 每個時間窗口允許的請求數
	window   time.Duration // 時間窗口
	now      func() time.Time
	audit    *audit.AuditService
}

// Visitor 訪問者信息
type Visitor struct {
	lastSeen  time.Time
	requests  int
	resetTime time.Time
}

// NewRateLimiter 創建速率限制器，cleanup 為 0 時不啟動清理
func NewRateLimiter(rate int, window, cleanup time.Duration, auditor *audit.AuditService) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*Visitor),
		rate:     rate,
		window:   window,
		now:      time.Now,
		audit:    auditor,
	}
	if cleanup > 0 {
		go rl.cleanupVisitors(cleanup)
	}
	return rl
}

// rateKey 已認證用戶按用戶 ID 計數，否則按 IP
func rateKey(c *gin.Context) string {
	if who := GetIdentity(c); who.UserID != "" {
		return "user:" + who.UserID
	}
	return "ip:" + c.ClientIP()
}

// Middleware 返回 Gin 中間件
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rateKey(c)
		if !rl.Allow(key) {
			rl.audit.LogRateLimitExceeded(c.Request.Context(), key, c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "請求過於頻繁，請稍後再試",
				"code":       "rate_limited",
				"success":    false,
				"request_id": GetRequestID(c),
			})
			return
		}
		c.Next()
	}
}

// Allow 檢查是否允許請求
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	visitor, exists := rl.visitors[key]
	if !exists {
		rl.visitors[key] = &Visitor{
			lastSeen:  now,
			requests:  1,
			resetTime: now.Add(rl.window),
		}
		return true
	}

	visitor.lastSeen = now
	// 時間窗口已過期，重置計數器
	if now.After(visitor.resetTime) {
		visitor.requests = 1
		visitor.resetTime = now.Add(rl.window)
		return true
	}
	if visitor.requests >= rl.rate {
		return false
	}
	visitor.requests++
	return true
}

// cleanupVisitors 定期清理不活躍的訪問者記錄
func (rl *RateLimiter) cleanupVisitors(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := rl.now()
		for key, visitor := range rl.visitors {
			if now.Sub(visitor.lastSeen) > 2*interval {
				delete(rl.visitors, key)
			}
		}
		rl.mu.Unlock()
	}
}

// PerRouteRateLimiter 為不同路由設置不同的速率限制
type PerRouteRateLimiter struct {
	limiters map[string]*RateLimiter
	fallback *RateLimiter
}

// NewPerRouteRateLimiter 創建路由級速率限制器
func NewPerRouteRateLimiter(fallback *RateLimiter) *PerRouteRateLimiter {
	return &PerRouteRateLimiter{
		limiters: make(map[string]*RateLimiter),
		fallback: fallback,
	}
}

// SetLimit 為 "METHOD 路由模板" 設置限制，例如 "POST /api/v1/conversations/:id/messages"
func (p *PerRouteRateLimiter) SetLimit(route string, limiter *RateLimiter) {
	p.limiters[route] = limiter
}

// Middleware 返回 Gin 中間件
func (p *PerRouteRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := p.fallback
		if specific, ok := p.limiters[c.Request.Method+" "+c.FullPath()]; ok {
			limiter = specific
		}
		limiter.Middleware()(c)
	}
}
