package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"messaging-gateway/internal/chat"
	"messaging-gateway/internal/notification"
	"messaging-gateway/internal/platform/config"
	"messaging-gateway/internal/platform/health"
	"messaging-gateway/internal/platform/middleware"
	"messaging-gateway/internal/realtime"
	"messaging-gateway/internal/storage/memory"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	cfg := &config.Config{
		App:      config.AppConfig{Name: "messaging-gateway", Version: "test"},
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: "0", Timeout: 5},
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
	}
	cfg.Limits.Request.MaxBodySize = 1 << 20
	cfg.Limits.Pagination.DefaultPageSize = 50
	cfg.Limits.Connections.MaxPerUser = 5
	cfg.Limits.Connections.MaxTotal = 100
	return cfg
}

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	repos := memory.NewRepositories()

	notifications := notification.NewService(repos, notification.Limits{}, nil, nil)
	chatSvc := chat.NewService(repos, chat.Limits{}, notifications, nil, nil)
	gw := realtime.NewGateway(chatSvc, nil, realtime.Options{PingInterval: time.Second})
	chatSvc.SetPublisher(gw)
	notifications.SetPublisher(gw)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = gw.Run(ctx) }()
	t.Cleanup(cancel)

	return Deps{
		Config:        testConfig(),
		Chat:          chatSvc,
		Notifications: notifications,
		Gateway:       gw,
		Auth:          middleware.NewAuthenticator(false, "", nil),
		Health:        health.NewHealthHandler(config.AppConfig{Name: "messaging-gateway"}, config.DriverMemory),
	}
}

type response struct {
	Code int
	Body map[string]interface{}
}

func (r response) data() map[string]interface{} {
	d, _ := r.Body["data"].(map[string]interface{})
	return d
}

func do(t *testing.T, h http.Handler, method, path, user string, body interface{}) response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
		req.Header.Set(middleware.HeaderUserName, strings.ToUpper(user))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	out := response{Code: w.Code}
	_ = json.Unmarshal(w.Body.Bytes(), &out.Body)
	return out
}

func createDirect(t *testing.T, h http.Handler, from, to string) string {
	t.Helper()
	res := do(t, h, http.MethodPost, "/api/v1/conversations/direct", from, gin.H{"user_id": to})
	if res.Code != http.StatusCreated && res.Code != http.StatusOK {
		t.Fatalf("建立私聊失敗: %d %v", res.Code, res.Body)
	}
	conv, _ := res.data()["conversation"].(map[string]interface{})
	return conv["id"].(string)
}

func TestRouter_DirectConversationFlow(t *testing.T) {
	h := NewRouter(newTestDeps(t))

	first := do(t, h, http.MethodPost, "/api/v1/conversations/direct", "alice", gin.H{"user_id": "bob"})
	if first.Code != http.StatusCreated {
		t.Fatalf("首次建立應返回 201, got %d", first.Code)
	}
	again := do(t, h, http.MethodPost, "/api/v1/conversations/direct", "bob", gin.H{"user_id": "alice"})
	if again.Code != http.StatusOK || again.data()["existed"] != true {
		t.Fatalf("重複建立應返回已存在的會話, got %d %v", again.Code, again.Body)
	}
	convID := createDirect(t, h, "alice", "bob")

	sent := do(t, h, http.MethodPost, "/api/v1/conversations/"+convID+"/messages", "alice", gin.H{"body": "hi bob"})
	if sent.Code != http.StatusCreated {
		t.Fatalf("發送訊息應返回 201, got %d %v", sent.Code, sent.Body)
	}

	unread := do(t, h, http.MethodGet, "/api/v1/conversations/unread", "bob", nil)
	if unread.data()["total_unread"] != float64(1) {
		t.Errorf("bob 應有 1 則未讀, got %v", unread.Body)
	}

	page := do(t, h, http.MethodGet, "/api/v1/conversations/"+convID+"/messages?limit=10", "bob", nil)
	if page.Code != http.StatusOK {
		t.Fatalf("讀取訊息失敗: %d", page.Code)
	}
	if msgs, _ := page.data()["messages"].([]interface{}); len(msgs) != 1 {
		t.Errorf("期望 1 則訊息, got %v", page.data())
	}

	unread = do(t, h, http.MethodGet, "/api/v1/conversations/unread", "bob", nil)
	if unread.data()["total_unread"] != float64(0) {
		t.Errorf("讀取後未讀應歸零, got %v", unread.Body)
	}

	notes := do(t, h, http.MethodGet, "/api/v1/notifications/unread-count", "bob", nil)
	if notes.Body["count"] != float64(0) {
		t.Errorf("讀取會話後通知應已讀, got %v", notes.Body)
	}
}

func TestRouter_ErrorMapping(t *testing.T) {
	h := NewRouter(newTestDeps(t))
	convID := createDirect(t, h, "alice", "bob")

	forbidden := do(t, h, http.MethodGet, "/api/v1/conversations/"+convID+"/messages", "mallory", nil)
	if forbidden.Code != http.StatusForbidden {
		t.Errorf("非參與者應返回 403, got %d", forbidden.Code)
	}
	if forbidden.Body["request_id"] == "" || forbidden.Body["code"] != "forbidden" {
		t.Errorf("錯誤響應格式不正確: %v", forbidden.Body)
	}

	cases := []struct {
		name   string
		method string
		path   string
		user   string
		body   interface{}
		want   int
	}{
		{"missing identity", http.MethodGet, "/api/v1/conversations", "", nil, http.StatusUnauthorized},
		{"bad id", http.MethodGet, "/api/v1/conversations/not-an-id/messages", "alice", nil, http.StatusBadRequest},
		{"bad before", http.MethodGet, "/api/v1/conversations/" + convID + "/messages?before=yesterday", "alice", nil, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/v1/conversations/" + convID + "/messages?limit=-1", "alice", nil, http.StatusBadRequest},
		{"empty body", http.MethodPost, "/api/v1/conversations/" + convID + "/messages", "alice", gin.H{"body": "  "}, http.StatusBadRequest},
		{"self direct", http.MethodPost, "/api/v1/conversations/direct", "alice", gin.H{"user_id": "alice"}, http.StatusBadRequest},
		{"direct bad user id", http.MethodPost, "/api/v1/conversations/direct", "alice", gin.H{"user_id": "bob${x}"}, http.StatusBadRequest},
		{"mute without flag", http.MethodPut, "/api/v1/conversations/" + convID + "/mute", "alice", gin.H{}, http.StatusBadRequest},
		{"edit unknown", http.MethodPatch, "/api/v1/messages/65a1b2c3d4e5f60718293a4b", "alice", gin.H{"body": "x"}, http.StatusNotFound},
		{"broadcast non-admin", http.MethodPost, "/api/v1/notifications/broadcast", "alice", gin.H{"title": "t"}, http.StatusForbidden},
		{"delete many empty", http.MethodDelete, "/api/v1/notifications", "alice", gin.H{"ids": []string{}}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if res := do(t, h, tc.method, tc.path, tc.user, tc.body); res.Code != tc.want {
			t.Errorf("%s: 期望 %d, got %d %v", tc.name, tc.want, res.Code, res.Body)
		}
	}
}

func TestRouter_MessageEditAndDelete(t *testing.T) {
	h := NewRouter(newTestDeps(t))
	convID := createDirect(t, h, "alice", "bob")

	sent := do(t, h, http.MethodPost, "/api/v1/conversations/"+convID+"/messages", "alice", gin.H{"body": "typo"})
	msgID := sent.data()["id"].(string)

	if res := do(t, h, http.MethodPatch, "/api/v1/messages/"+msgID, "bob", gin.H{"body": "hacked"}); res.Code != http.StatusNotFound {
		t.Errorf("不能編輯他人訊息, got %d", res.Code)
	}
	edited := do(t, h, http.MethodPatch, "/api/v1/messages/"+msgID, "alice", gin.H{"body": "fixed"})
	if edited.Code != http.StatusOK || edited.data()["body"] != "fixed" {
		t.Errorf("編輯失敗: %d %v", edited.Code, edited.Body)
	}
	if res := do(t, h, http.MethodDelete, "/api/v1/messages/"+msgID, "alice", nil); res.Code != http.StatusOK {
		t.Errorf("刪除失敗: %d", res.Code)
	}
	if res := do(t, h, http.MethodDelete, "/api/v1/messages/"+msgID, "alice", nil); res.Code != http.StatusNotFound {
		t.Errorf("重複刪除應返回 404, got %d", res.Code)
	}
}

func TestRouter_NotificationLifecycle(t *testing.T) {
	h := NewRouter(newTestDeps(t))
	convID := createDirect(t, h, "alice", "bob")
	do(t, h, http.MethodPost, "/api/v1/conversations/"+convID+"/messages", "alice", gin.H{"body": "one"})
	do(t, h, http.MethodPost, "/api/v1/conversations/"+convID+"/messages", "alice", gin.H{"body": "two"})

	list := do(t, h, http.MethodGet, "/api/v1/notifications?unread_only=true", "bob", nil)
	items, _ := list.Body["data"].([]interface{})
	if len(items) != 2 {
		t.Fatalf("bob 應有 2 則通知, got %v", list.Body)
	}
	first := items[0].(map[string]interface{})["id"].(string)

	if res := do(t, h, http.MethodPut, "/api/v1/notifications/"+first+"/read", "bob", nil); res.Code != http.StatusOK {
		t.Errorf("標記已讀失敗: %d", res.Code)
	}
	if res := do(t, h, http.MethodPut, "/api/v1/notifications/"+first+"/read", "alice", nil); res.Code != http.StatusNotFound {
		t.Errorf("不能操作他人通知, got %d", res.Code)
	}
	if res := do(t, h, http.MethodDelete, "/api/v1/notifications/read", "bob", nil); res.Body["count"] != float64(1) {
		t.Errorf("應清除 1 則已讀通知, got %v", res.Body)
	}
	if res := do(t, h, http.MethodPut, "/api/v1/notifications/read-all", "bob", nil); res.Body["count"] != float64(1) {
		t.Errorf("應標記 1 則通知, got %v", res.Body)
	}

	created := do(t, h, http.MethodPost, "/api/v1/notifications", "bob", gin.H{"type": "system", "title": "reminder"})
	if created.Code != http.StatusCreated {
		t.Fatalf("建立通知失敗: %d %v", created.Code, created.Body)
	}
	id := created.data()["id"].(string)
	if res := do(t, h, http.MethodDelete, "/api/v1/notifications/"+id, "bob", nil); res.Code != http.StatusOK {
		t.Errorf("刪除通知失敗: %d", res.Code)
	}
}

func TestRouter_HealthAndSecurityHeaders(t *testing.T) {
	h := NewRouter(newTestDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("健康檢查應返回 200, got %d", w.Code)
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("缺少安全標頭")
	}
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("缺少 request id")
	}
}

func TestHandler_CORS(t *testing.T) {
	deps := newTestDeps(t)
	deps.Config.Server.AllowedOrigins = []string{"http://localhost:3000"}
	h := NewHandler(deps)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/conversations", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("允許的來源應通過預檢, got %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/conversations", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("未允許的來源不應通過, got %q", got)
	}
}

func TestWebSocket_ReceivesNewMessage(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newTestDeps(t)))
	defer srv.Close()
	convID := createDirect(t, srv.Config.Handler, "alice", "bob")

	header := http.Header{}
	header.Set(middleware.HeaderUserID, "bob")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("連接失敗: %v", err)
	}
	defer ws.Close()

	read := func() realtime.Envelope {
		t.Helper()
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		var env realtime.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			t.Fatalf("讀取事件失敗: %v", err)
		}
		return env
	}

	join := `{"event":"join_conversation","data":{"conversation_id":"` + convID + `"}}`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(join)); err != nil {
		t.Fatal(err)
	}
	if env := read(); env.Event != realtime.EventJoined {
		t.Fatalf("期望 joined, got %s", env.Event)
	}

	do(t, srv.Config.Handler, http.MethodPost, "/api/v1/conversations/"+convID+"/messages", "alice", gin.H{"body": "ping"})

	// 同時會收到用戶範圍的通知與會話範圍的新訊息
	seen := map[string]json.RawMessage{}
	for i := 0; i < 2; i++ {
		env := read()
		seen[env.Event] = env.Data
	}
	if seen[realtime.EventNewMessage] == nil || seen[realtime.EventNewNotification] == nil {
		t.Fatalf("期望 new_message 與 new_notification, got %v", seen)
	}

	var msg struct {
		ConversationID string `json:"conversation_id"`
		Message        struct {
			Body     string `json:"body"`
			SenderID string `json:"sender_id"`
		} `json:"message"`
	}
	if err := json.Unmarshal(seen[realtime.EventNewMessage], &msg); err != nil {
		t.Fatal(err)
	}
	if msg.ConversationID != convID || msg.Message.Body != "ping" || msg.Message.SenderID != "alice" {
		t.Errorf("new_message 數據格式錯誤: %s", seen[realtime.EventNewMessage])
	}

	var note struct {
		Payload struct {
			UserID string `json:"user_id"`
			Type   string `json:"type"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(seen[realtime.EventNewNotification], &note); err != nil {
		t.Fatal(err)
	}
	if note.Payload.UserID != "bob" || note.Payload.Type != "chat_message" {
		t.Errorf("new_notification 數據格式錯誤: %s", seen[realtime.EventNewNotification])
	}
}

func TestWebSocket_RequiresIdentity(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newTestDeps(t)))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("缺少身份不應連接成功")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("期望 401, got %v", resp)
	}
}

func TestGRPCHealth(t *testing.T) {
	healthy := true
	s, err := NewGRPCServer(config.TLSConfig{}, middleware.NewAuthenticator(false, "", nil),
		func(context.Context) bool { return healthy })
	if err != nil {
		t.Fatal(err)
	}

	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	defer s.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)
	ctx := context.Background()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("期望 SERVING, got %v", resp.Status)
	}

	healthy = false
	s.refresh(ctx)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("依賴失敗時應為 NOT_SERVING, got %v", resp.Status)
	}
}
