package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ConnectionLimiter 長連接限制器，按用戶與全局計數
type ConnectionLimiter struct {
	mu          sync.Mutex
	connections map[string]int       // 用戶 -> 連接數
	lastConnect map[string]time.Time // 用戶 -> 最後連接時間
	maxPerUser  int
	maxTotal    int
	minInterval time.Duration
	total       int
	now         func() time.Time
}

// NewConnectionLimiter 創建連接限制器
func NewConnectionLimiter(maxPerUser, maxTotal int, minInterval time.Duration) *ConnectionLimiter {
	return &ConnectionLimiter{
		connections: make(map[string]int),
		lastConnect: make(map[string]time.Time),
		maxPerUser:  maxPerUser,
		maxTotal:    maxTotal,
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Acquire 佔用一個連接名額，成功時返回釋放函數
func (l *ConnectionLimiter) Acquire(userID string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.maxTotal > 0 && l.total >= l.maxTotal {
		return nil, false
	}
	if l.maxPerUser > 0 && l.connections[userID] >= l.maxPerUser {
		return nil, false
	}
	if last, exists := l.lastConnect[userID]; exists && l.minInterval > 0 && now.Sub(last) < l.minInterval {
		return nil, false
	}

	l.connections[userID]++
	l.total++
	l.lastConnect[userID] = now

	var once sync.Once
	return func() { once.Do(func() { l.release(userID) }) }, true
}

func (l *ConnectionLimiter) release(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count, exists := l.connections[userID]; exists {
		if count <= 1 {
			delete(l.connections, userID)
			delete(l.lastConnect, userID)
		} else {
			l.connections[userID]--
		}
		l.total--
	}
}

// Middleware 在處理函數返回後釋放名額，需放在身份中間件之後
func (l *ConnectionLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := GetIdentity(c).UserID
		release, ok := l.Acquire(userID)
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "連接數已達上限，請稍後再試",
				"code":       "too_many_connections",
				"success":    false,
				"request_id": GetRequestID(c),
			})
			return
		}
		defer release()
		c.Next()
	}
}

// Stats 獲取統計信息
func (l *ConnectionLimiter) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[string]interface{}{
		"total_connections": l.total,
		"unique_users":      len(l.connections),
		"max_total":         l.maxTotal,
		"max_per_user":      l.maxPerUser,
	}
}
