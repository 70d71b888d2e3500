package server

import (
	"net/http"

	"messaging-gateway/internal/platform/logger"
	"messaging-gateway/internal/platform/middleware"
	"messaging-gateway/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// newUpgrader 按允許來源創建升級器，無 Origin 的非瀏覽器客戶端直接放行
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		},
	}
}

// serveWebSocket 升級連接並交給網關，直到連接關閉才返回
func serveWebSocket(gw *realtime.Gateway, upgrader websocket.Upgrader) gin.HandlerFunc {
	return func(c *gin.Context) {
		who := middleware.GetIdentity(c)

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// 升級器已寫入錯誤響應
			logger.Warning(c.Request.Context(), "WebSocket 升級失敗",
				logger.WithUserID(who.UserID),
				logger.WithDetails(map[string]interface{}{"error": err.Error()}))
			return
		}

		gw.Serve(c.Request.Context(), ws, who.UserID)
	}
}
