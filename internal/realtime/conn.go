package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client 網關所見的連接
type Client interface {
	ID() string
	UserID() string
	// Send 排入發送佇列，佇列滿或已關閉時返回 false
	Send(payload []byte) bool
}

// ErrConnClosed 連接已關閉
var ErrConnClosed = errors.New("connection closed")

// Conn WebSocket 連接，所有寫出經由帶緩衝的佇列
type Conn struct {
	id     string
	userID string

	ws           *websocket.Conn
	send         chan []byte
	closed       chan struct{}
	once         sync.Once
	writeTimeout time.Duration
	pingInterval time.Duration
}

// NewConn 包裝已升級的 WebSocket
func NewConn(userID string, ws *websocket.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	return &Conn{
		id:           uuid.NewString(),
		userID:       userID,
		ws:           ws,
		send:         make(chan []byte, opts.SendBuffer),
		closed:       make(chan struct{}),
		writeTimeout: opts.WriteTimeout,
		pingInterval: opts.PingInterval,
	}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

// Send 佇列滿時丟棄事件，不阻塞調用方
func (c *Conn) Send(payload []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close 關閉連接，可重複調用
func (c *Conn) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(c.writeTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

// Done 連接關閉後返回
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Conn) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
