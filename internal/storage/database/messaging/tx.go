package messaging

import (
	"context"
	"errors"
	"fmt"

	"messaging-gateway/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// 集合名稱
const (
	conversationsCollection = "conversations"
	participantsCollection  = "conversation_participants"
	messagesCollection      = "messages"
	receiptsCollection      = "message_read_receipts"
	notificationsCollection = "notifications"
	accountsCollection      = "accounts"
)

// BodyCipher 訊息內容的靜態加密接口
type BodyCipher interface {
	Encrypt(plaintext, conversationID string) (string, error)
	Decrypt(ciphertext, conversationID string) (string, error)
}

// plainCipher 不加密
type plainCipher struct{}

func (plainCipher) Encrypt(plaintext, _ string) (string, error)  { return plaintext, nil }
func (plainCipher) Decrypt(ciphertext, _ string) (string, error) { return ciphertext, nil }

// withTransaction 在 MongoDB 事務中執行 fn（需要副本集）
func withTransaction(ctx context.Context, client *mongo.Client, fn func(ctx context.Context) error) error {
	session, err := client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(txCtx context.Context) (interface{}, error) {
		return nil, fn(txCtx)
	})
	return err
}

// newID 產生新的文檔 ID
func newID() string {
	return bson.NewObjectID().Hex()
}

// translate 把驅動錯誤轉為倉儲錯誤
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return storage.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", storage.ErrDuplicate, err)
	}
	return err
}
