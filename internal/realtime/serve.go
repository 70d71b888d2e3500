package realtime

import (
	"context"
	"time"

	"messaging-gateway/internal/platform/logger"

	"github.com/gorilla/websocket"
)

// Serve 接管已升級的連接直到其關閉或 ctx 結束，讀循環處理控制事件
func (g *Gateway) Serve(ctx context.Context, ws *websocket.Conn, userID string) {
	conn := NewConn(userID, ws, g.opts)
	g.Register(conn)
	go conn.writeLoop()

	logger.Info(ctx, "WebSocket 已連接",
		logger.WithUserID(userID),
		logger.WithConnectionID(conn.ID()))

	defer func() {
		g.Unregister(conn.ID())
		conn.Close(websocket.CloseNormalClosure, "")
		logger.Info(ctx, "WebSocket 已斷開",
			logger.WithUserID(userID),
			logger.WithConnectionID(conn.ID()))
	}()

	stop := context.AfterFunc(ctx, func() {
		conn.Close(websocket.CloseGoingAway, "server shutting down")
	})
	defer stop()

	pongWait := g.opts.PingInterval * 2
	ws.SetReadLimit(g.opts.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug(ctx, "WebSocket 讀取結束",
					logger.WithConnectionID(conn.ID()),
					logger.WithDetails(map[string]interface{}{"error": err.Error()}))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		g.HandleControl(ctx, conn, raw)
	}
}
