package encryption

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"messaging-gateway/internal/constants"

	"golang.org/x/crypto/hkdf"
)

// hkdfInfo 派生會話密鑰時的上下文標籤
const hkdfInfo = "messaging-gateway/conversation-body/v1"

// MessageEncryption 訊息內容靜態加密服務
// 每個會話的密鑰由主密鑰經 HKDF-SHA256 派生，無需持久化
type MessageEncryption struct {
	masterKey []byte

	mu      sync.RWMutex
	ciphers map[string]*AESGCMEncryption
}

// NewMessageEncryption 從 base64 編碼的主密鑰創建加密服務
func NewMessageEncryption(encodedMasterKey string) (*MessageEncryption, error) {
	masterKey, err := base64.StdEncoding.DecodeString(encodedMasterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode master key: %w", err)
	}
	if len(masterKey) != constants.MasterKeyLength {
		return nil, fmt.Errorf("master key must be %d bytes, got %d bytes", constants.MasterKeyLength, len(masterKey))
	}
	return &MessageEncryption{
		masterKey: masterKey,
		ciphers:   make(map[string]*AESGCMEncryption),
	}, nil
}

// Encrypt 加密會話內的文本，空字串原樣返回
func (m *MessageEncryption) Encrypt(plaintext, conversationID string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	c, err := m.cipherFor(conversationID)
	if err != nil {
		return "", err
	}
	return c.Encrypt(plaintext, []byte(conversationID))
}

// Decrypt 解密會話內的文本，未加密的舊數據原樣返回
func (m *MessageEncryption) Decrypt(ciphertext, conversationID string) (string, error) {
	if !IsEncrypted(ciphertext) {
		return ciphertext, nil
	}
	c, err := m.cipherFor(conversationID)
	if err != nil {
		return "", err
	}
	return c.Decrypt(ciphertext, []byte(conversationID))
}

func (m *MessageEncryption) cipherFor(conversationID string) (*AESGCMEncryption, error) {
	m.mu.RLock()
	c, ok := m.ciphers[conversationID]
	m.mu.RUnlock()
	if ok {
		return c, nil
	}

	key, err := m.deriveKey(conversationID)
	if err != nil {
		return nil, err
	}
	c, err = NewAESGCMEncryption(key)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.ciphers[conversationID] = c
	m.mu.Unlock()
	return c, nil
}

func (m *MessageEncryption) deriveKey(conversationID string) ([]byte, error) {
	reader := hkdf.New(sha256.New, m.masterKey, []byte(conversationID), []byte(hkdfInfo))
	key := make([]byte, constants.MasterKeyLength)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive conversation key: %w", err)
	}
	return key, nil
}
