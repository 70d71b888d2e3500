package messaging

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"messaging-gateway/internal/model"
	"messaging-gateway/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func TestValidID(t *testing.T) {
	if !validID(bson.NewObjectID().Hex()) {
		t.Error("新產生的 ID 應合法")
	}
	for _, bad := range []string{"", "abc", "65a1b2c3d4e5f60718293a4g", `{"$ne":1}`} {
		if validID(bad) {
			t.Errorf("%q 應不合法", bad)
		}
	}
}

func TestClampSkip(t *testing.T) {
	if clampSkip(-5) != 0 || clampSkip(10) != 10 || clampSkip(maxSkip+1) != maxSkip {
		t.Error("跳過數量限制錯誤")
	}
}

// testDatabase 連接 MONGO_TEST_URL 指定的副本集，未設定時跳過
func testDatabase(t *testing.T) *mongo.Database {
	t.Helper()
	url := os.Getenv("MONGO_TEST_URL")
	if url == "" {
		t.Skip("未設定 MONGO_TEST_URL，跳過 MongoDB 整合測試（需要副本集以支援事務）")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(url))
	if err != nil {
		t.Fatalf("連接 MongoDB 失敗: %v", err)
	}
	db := client.Database("mgw_test_" + bson.NewObjectID().Hex())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})

	if err := CreateIndexes(context.Background(), db); err != nil {
		t.Fatalf("創建索引失敗: %v", err)
	}
	return db
}

func TestConversationStore_DirectUnique(t *testing.T) {
	db := testDatabase(t)
	store := NewConversationStore(db, nil)
	ctx := context.Background()

	first := &model.Conversation{CreatedBy: "alice"}
	if err := store.CreateDirect(ctx, first, "alice", "bob"); err != nil {
		t.Fatal(err)
	}
	dup := &model.Conversation{CreatedBy: "bob"}
	if err := store.CreateDirect(ctx, dup, "bob", "alice"); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("重複私聊應返回 ErrDuplicate, got %v", err)
	}

	found, err := store.FindDirect(ctx, "bob", "alice")
	if err != nil || found.ID != first.ID {
		t.Fatalf("應找到首次建立的私聊, got %v %v", found, err)
	}
	if _, err := store.GetByID(ctx, "not-an-id"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("畸形 ID 應返回 ErrNotFound, got %v", err)
	}
}

func TestMessageStore_AppendPageAndReceipts(t *testing.T) {
	db := testDatabase(t)
	convs := NewConversationStore(db, nil)
	msgs := NewMessageStore(db, nil)
	receipts := NewReceiptStore(db)
	ctx := context.Background()

	conv := &model.Conversation{CreatedBy: "alice"}
	if err := convs.CreateDirect(ctx, conv, "alice", "bob"); err != nil {
		t.Fatal(err)
	}

	for _, body := range []string{"one", "two", "three"} {
		if err := msgs.Append(ctx, &model.Message{ConversationID: conv.ID, SenderID: "alice", Body: body, Type: model.MessageText}); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	page, err := msgs.Page(ctx, conv.ID, nil, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Body != "three" {
		t.Fatalf("期望最新兩則訊息, got %+v", page)
	}

	stored, _ := convs.GetByID(ctx, conv.ID)
	if stored.LastMessagePreview != "three" {
		t.Errorf("摘要應為最新訊息, got %q", stored.LastMessagePreview)
	}

	batch := []model.ReadReceipt{
		{MessageID: page[0].ID, ConversationID: conv.ID, UserID: "bob", ReadAt: model.Now()},
		{MessageID: page[1].ID, ConversationID: conv.ID, UserID: "bob", ReadAt: model.Now()},
	}
	if n, err := receipts.InsertIfAbsent(ctx, batch); err != nil || n != 2 {
		t.Fatalf("首次寫入應新增 2 條回執, got %d %v", n, err)
	}
	if n, err := receipts.InsertIfAbsent(ctx, batch); err != nil || n != 0 {
		t.Errorf("重複寫入不應新增回執, got %d %v", n, err)
	}
}
