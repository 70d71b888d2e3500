package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"messaging-gateway/internal/model"
	"messaging-gateway/internal/storage"
)

func TestConversation_DirectDuplicate(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()

	if err := repos.Conversations.CreateDirect(ctx, &model.Conversation{CreatedBy: "a"}, "a", "b"); err != nil {
		t.Fatal(err)
	}
	err := repos.Conversations.CreateDirect(ctx, &model.Conversation{CreatedBy: "b"}, "b", "a")
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("反向用戶對也應視為重複, got %v", err)
	}
}

func TestReceipts_ConcurrentInsertCreatesOnce(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()
	receipt := model.ReadReceipt{MessageID: "m1", ConversationID: "c1", UserID: "bob", ReadAt: model.Now()}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := repos.Receipts.InsertIfAbsent(ctx, []model.ReadReceipt{receipt})
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != 1 {
		t.Errorf("並發寫入應只建立 1 條回執, got %d", total)
	}
	list, _ := repos.Receipts.ListForMessages(ctx, []string{"m1"})
	if len(list) != 1 {
		t.Errorf("期望 1 條回執, got %d", len(list))
	}
}

func TestMessage_AppendResurfacesArchived(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()
	conv := &model.Conversation{CreatedBy: "a"}
	if err := repos.Conversations.CreateDirect(ctx, conv, "a", "b"); err != nil {
		t.Fatal(err)
	}
	if err := repos.Conversations.SetArchived(ctx, conv.ID, "b", true); err != nil {
		t.Fatal(err)
	}

	if err := repos.Messages.Append(ctx, &model.Message{ConversationID: conv.ID, SenderID: "a", Body: "hi", Type: model.MessageText}); err != nil {
		t.Fatal(err)
	}
	p, _ := repos.Conversations.GetParticipant(ctx, conv.ID, "b")
	if p.IsArchived {
		t.Error("新訊息應讓接收者的封存會話重新出現")
	}

	err := repos.Messages.Append(ctx, &model.Message{ConversationID: "missing", SenderID: "a", Body: "x"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("不存在的會話應返回 ErrNotFound, got %v", err)
	}
}

func TestNotifications_ExpiredHidden(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()
	now := model.Now()
	past := now.Add(-time.Minute)

	_ = repos.Notifications.Create(ctx, &model.Notification{UserID: "bob", Type: model.NotificationSystem, Title: "live"})
	_ = repos.Notifications.Create(ctx, &model.Notification{UserID: "bob", Type: model.NotificationSystem, Title: "gone", ExpiresAt: &past})

	list, err := repos.Notifications.List(ctx, "bob", storage.NotificationFilter{Now: now})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Title != "live" {
		t.Errorf("過期通知不應列出, got %+v", list)
	}
	if n, _ := repos.Notifications.CountUnread(ctx, "bob", now); n != 1 {
		t.Errorf("未讀數不應包含過期通知, got %d", n)
	}
}
