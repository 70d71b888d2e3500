package server

import (
	"net/http"
	"time"

	"messaging-gateway/internal/chat"
	"messaging-gateway/internal/constants"
	"messaging-gateway/internal/notification"
	"messaging-gateway/internal/platform/config"
	"messaging-gateway/internal/platform/health"
	"messaging-gateway/internal/platform/logger"
	"messaging-gateway/internal/platform/middleware"
	"messaging-gateway/internal/realtime"
	"messaging-gateway/internal/security/audit"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

// Deps 路由依賴
type Deps struct {
	Config        *config.Config
	Chat          *chat.Service
	Notifications *notification.Service
	Gateway       *realtime.Gateway
	Auth          *middleware.Authenticator
	Audit         *audit.AuditService
	Health        *health.Handler
}

// securityHeadersMiddleware 添加安全標頭
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 防止點擊劫持
		c.Header("X-Frame-Options", "DENY")

		// 防止 MIME 類型嗅探
		c.Header("X-Content-Type-Options", "nosniff")

		// 內容安全策略，API 不返回頁面
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none';")

		// 推薦政策
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// 權限政策
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		c.Next()
	}
}

// NewHandler 返回帶 CORS 的 HTTP 處理器
func NewHandler(deps Deps) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", middleware.RequestIDHeader, middleware.HeaderUserID, middleware.HeaderUserName, middleware.HeaderUserRole},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		MaxAge:           86400,
		AllowCredentials: true,
	})
	return c.Handler(NewRouter(deps))
}

// NewRouter 設定路由
func NewRouter(deps Deps) *gin.Engine {
	cfg := deps.Config

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.LogWarnf("可信代理設定無效，不信任轉發標頭: %v", err)
		_ = r.SetTrustedProxies(nil)
	}

	// 請求 ID 最優先，後續日誌與錯誤響應都依賴它
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.Recovery())
	r.Use(securityHeadersMiddleware())
	r.Use(middleware.RequestMetadataMiddleware())
	r.Use(middleware.AccessLog())
	r.Use(middleware.RequestSizeLimiter(cfg.Limits.Request.MaxBodySize))

	if deps.Health != nil {
		r.GET("/health", deps.Health.HealthCheck)
	}

	h := &handlers{
		chat:          deps.Chat,
		notifications: deps.Notifications,
		pageLimit:     cfg.Limits.Pagination.DefaultPageSize,
	}

	v1 := r.Group("/api/v1")
	v1.Use(deps.Auth.GinMiddleware(false))
	if limiter := newRateLimiter(cfg.Limits.RateLimiting, deps.Audit); limiter != nil {
		v1.Use(limiter.Middleware())
	}

	withID := middleware.RequireObjectIDParams("id")

	conversations := v1.Group("/conversations")
	conversations.POST("/direct", h.createDirect)
	conversations.POST("/group", h.createGroup)
	conversations.GET("", h.listConversations)
	conversations.GET("/unread", h.unreadSummary)
	conversations.GET("/:id/messages", withID, h.listMessages)
	conversations.POST("/:id/messages", withID, h.sendMessage)
	conversations.POST("/:id/read", withID, h.markConversationRead)
	conversations.PUT("/:id/mute", withID, h.setMute)
	conversations.PUT("/:id/archive", withID, h.setArchive)

	messages := v1.Group("/messages")
	messages.PATCH("/:id", withID, h.editMessage)
	messages.DELETE("/:id", withID, h.deleteMessage)

	notifications := v1.Group("/notifications")
	notifications.GET("", h.listNotifications)
	notifications.GET("/unread-count", h.notificationUnreadCount)
	notifications.POST("", h.createNotification)
	notifications.POST("/broadcast", h.broadcast)
	notifications.PUT("/read-all", h.markAllNotificationsRead)
	notifications.PUT("/:id/read", withID, h.markNotificationRead)
	notifications.DELETE("/read", h.deleteReadNotifications)
	notifications.DELETE("/:id", withID, h.deleteNotification)
	notifications.DELETE("", h.deleteNotifications)

	if deps.Gateway != nil {
		limits := cfg.Limits.Connections
		connLimiter := middleware.NewConnectionLimiter(
			limits.MaxPerUser,
			limits.MaxTotal,
			time.Duration(limits.MinConnectionInterval)*time.Second,
		)
		r.GET("/ws",
			deps.Auth.GinMiddleware(true),
			connLimiter.Middleware(),
			serveWebSocket(deps.Gateway, newUpgrader(cfg.Server.AllowedOrigins)),
		)
	}

	return r
}

// newRateLimiter 按配置組裝路由級限流，訊息發送單獨限制
func newRateLimiter(cfg config.RateLimitingConfig, auditor *audit.AuditService) *middleware.PerRouteRateLimiter {
	if !cfg.Enabled {
		return nil
	}
	cleanup := time.Duration(cfg.CleanupInterval) * time.Minute

	perMinute := cfg.DefaultPerMinute
	if perMinute <= 0 {
		perMinute = constants.DefaultRateLimitPerMinute
	}
	limiter := middleware.NewPerRouteRateLimiter(middleware.NewRateLimiter(perMinute, time.Minute, cleanup, auditor))
	if cfg.MessagesPerMin > 0 {
		limiter.SetLimit(http.MethodPost+" /api/v1/conversations/:id/messages",
			middleware.NewRateLimiter(cfg.MessagesPerMin, time.Minute, cleanup, auditor))
	}
	return limiter
}
