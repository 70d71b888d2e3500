package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"messaging-gateway/internal/apperr"
	"messaging-gateway/internal/model"
	"messaging-gateway/internal/storage"
	"messaging-gateway/internal/storage/memory"
)

type recordingPublisher struct {
	mu    sync.Mutex
	users []string
}

func (p *recordingPublisher) EmitNotification(userID string, _ model.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = append(p.users, userID)
}

func newTestService(t *testing.T) (*Service, *storage.Repositories, *recordingPublisher) {
	t.Helper()
	repos := memory.NewRepositories()
	pub := &recordingPublisher{}
	return NewService(repos, Limits{}, pub, nil), repos, pub
}

func TestOnMessageSent_SkipsSenderAndMuted(t *testing.T) {
	s, repos, pub := newTestService(t)
	ctx := context.Background()

	msg := &model.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Body: "hello team", Type: model.MessageText}
	participants := []model.Participant{
		{ConversationID: "c1", UserID: "alice"},
		{ConversationID: "c1", UserID: "bob"},
		{ConversationID: "c1", UserID: "carol"},
		{ConversationID: "c1", UserID: "dave", IsMuted: true},
	}
	if err := s.OnMessageSent(ctx, msg, model.Identity{UserID: "alice", DisplayName: "Alice"}, participants); err != nil {
		t.Fatalf("OnMessageSent 失敗: %v", err)
	}

	if len(pub.users) != 2 {
		t.Fatalf("期望推送給 2 位接收者, got %v", pub.users)
	}
	for _, user := range []string{"bob", "carol"} {
		list, _ := repos.Notifications.List(ctx, user, storage.NotificationFilter{Now: model.Now()})
		if len(list) != 1 {
			t.Fatalf("%s 應收到 1 條通知, got %d", user, len(list))
		}
		n := list[0]
		if n.Title != "New message from Alice" || n.Body != "hello team" || n.Type != model.NotificationChatMessage {
			t.Errorf("通知內容錯誤: %+v", n)
		}
		if n.Data.ConversationID() != "c1" || n.Data.Chat.MessageID != "m1" || n.Data.Chat.SenderID != "alice" {
			t.Errorf("通知負載錯誤: %+v", n.Data.Chat)
		}
	}
	for _, user := range []string{"alice", "dave"} {
		if count, _ := repos.Notifications.CountUnread(ctx, user, model.Now()); count != 0 {
			t.Errorf("%s 不應收到通知, got %d", user, count)
		}
	}
}

func TestOnConversationRead(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	for _, conv := range []string{"c1", "c1", "c2"} {
		msg := &model.Message{ID: conv + "-m", ConversationID: conv, SenderID: "alice", Body: "x"}
		err := s.OnMessageSent(ctx, msg, model.Identity{UserID: "alice"}, []model.Participant{{UserID: "alice"}, {UserID: "bob"}})
		if err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Create(ctx, model.Identity{UserID: "bob"}, CreateInput{Type: model.NotificationSystem, Title: "maintenance"}); err != nil {
		t.Fatal(err)
	}

	if err := s.OnConversationRead(ctx, "c1", "bob"); err != nil {
		t.Fatal(err)
	}
	count, _ := s.UnreadCount(ctx, "bob")
	if count != 2 {
		t.Errorf("只有 c1 的聊天通知應被標記已讀, 剩餘未讀 %d", count)
	}
}

func TestBroadcast(t *testing.T) {
	s, repos, pub := newTestService(t)
	ctx := context.Background()
	admin := model.Identity{UserID: "root", Role: model.RoleAdmin}

	n, err := s.Broadcast(ctx, admin, BroadcastInput{Title: "hello"})
	if err != nil || n != 0 {
		t.Fatalf("沒有帳號時廣播應成功返回 0, got %d, %v", n, err)
	}

	for _, id := range []string{"alice", "bob", "carol"} {
		_ = repos.Accounts.Upsert(ctx, &model.Account{ID: id, IsActive: true, LastSeenAt: model.Now()})
	}
	_ = repos.Accounts.Upsert(ctx, &model.Account{ID: "gone", IsActive: false, LastSeenAt: model.Now()})

	n, err = s.Broadcast(ctx, admin, BroadcastInput{Title: "Release", Body: "v2 is live", Data: map[string]any{"link": "/changelog"}})
	if err != nil {
		t.Fatalf("Broadcast 失敗: %v", err)
	}
	if n != 3 || len(pub.users) != 3 {
		t.Errorf("期望 3 位接收者, got %d (pushed %d)", n, len(pub.users))
	}
	list, _ := s.List(ctx, "alice", ListQuery{})
	if len(list) != 1 || list[0].Data == nil || list[0].Data.System == nil || list[0].Data.System.Link != "/changelog" {
		t.Errorf("廣播通知內容錯誤: %+v", list)
	}

	if _, err := s.Broadcast(ctx, model.Identity{UserID: "alice"}, BroadcastInput{Title: "x"}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("非管理員廣播應返回 Forbidden, got %v", err)
	}
	if _, err := s.Broadcast(ctx, admin, BroadcastInput{Title: "  "}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("空標題應返回 Validation, got %v", err)
	}
}

func TestCreate_Permissions(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	alice := model.Identity{UserID: "alice"}

	if _, err := s.Create(ctx, alice, CreateInput{UserID: "bob", Type: model.NotificationSystem, Title: "x"}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("普通用戶為他人建立通知應返回 Forbidden, got %v", err)
	}
	if _, err := s.Create(ctx, alice, CreateInput{Title: "x"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("缺少類型應返回 Validation, got %v", err)
	}

	n, err := s.Create(ctx, alice, CreateInput{
		Type:  model.NotificationLowStock,
		Title: "Low stock",
		Data:  map[string]any{"product_id": "p1", "quantity": 3},
	})
	if err != nil {
		t.Fatalf("Create 失敗: %v", err)
	}
	if n.UserID != "alice" || n.Data.LowStock == nil || n.Data.LowStock.Quantity != 3 {
		t.Errorf("通知內容錯誤: %+v", n)
	}

	admin := model.Identity{UserID: "root", Role: model.RoleAdmin}
	if _, err := s.Create(ctx, admin, CreateInput{UserID: "bob", Type: model.NotificationSystem, Title: "hi"}); err != nil {
		t.Errorf("管理員可為他人建立通知: %v", err)
	}
}

func TestListAndLifecycle(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	alice := model.Identity{UserID: "alice"}

	past := model.Now().Add(-time.Minute)
	if _, err := s.Create(ctx, alice, CreateInput{Type: model.NotificationSystem, Title: "expired", ExpiresAt: &past}); err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, title := range []string{"first", "second", "third"} {
		n, err := s.Create(ctx, alice, CreateInput{Type: model.NotificationSystem, Title: title})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, n.ID)
		time.Sleep(2 * time.Millisecond)
	}

	list, _ := s.List(ctx, "alice", ListQuery{})
	if len(list) != 3 || list[0].Title != "third" {
		t.Fatalf("列表應排除過期且新的在前, got %+v", list)
	}
	list, _ = s.List(ctx, "alice", ListQuery{Limit: 1, Offset: 1})
	if len(list) != 1 || list[0].Title != "second" {
		t.Errorf("分頁錯誤, got %+v", list)
	}

	if err := s.MarkRead(ctx, "alice", ids[0]); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkRead(ctx, "bob", ids[1]); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("標記他人通知應返回 NotFound, got %v", err)
	}
	unread, _ := s.List(ctx, "alice", ListQuery{UnreadOnly: true})
	if len(unread) != 2 {
		t.Errorf("期望 2 條未讀, got %d", len(unread))
	}

	if count, _ := s.DeleteRead(ctx, "alice"); count != 1 {
		t.Errorf("期望清除 1 條已讀, got %d", count)
	}
	if count, _ := s.DeleteMany(ctx, "alice", []string{ids[1], "missing"}); count != 1 {
		t.Errorf("期望刪除 1 條, got %d", count)
	}
	if err := s.Delete(ctx, "alice", ids[1]); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("重複刪除應返回 NotFound, got %v", err)
	}
	// 過期通知同樣會被標記
	if count, _ := s.MarkAllRead(ctx, "alice"); count != 2 {
		t.Errorf("期望標記 2 條已讀, got %d", count)
	}
	if count, _ := s.UnreadCount(ctx, "alice"); count != 0 {
		t.Errorf("期望未讀為 0, got %d", count)
	}
}
