package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// gcmPrefix 密文格式前綴
const gcmPrefix = "aes256gcm:"

// AESGCMEncryption AES-256-GCM 加密實現
// GCM 同時提供機密性與完整性，錯誤的密鑰或被篡改的密文會解密失敗
type AESGCMEncryption struct {
	aead cipher.AEAD
}

// NewAESGCMEncryption 創建 AES-256-GCM 加密實例
func NewAESGCMEncryption(key []byte) (*AESGCMEncryption, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes (256 bits), got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &AESGCMEncryption{aead: aead}, nil
}

// Encrypt 加密數據，additionalData 綁定到密文（例如會話 ID）
// 格式: "aes256gcm:" + base64(nonce + ciphertext)
func (e *AESGCMEncryption) Encrypt(plaintext string, additionalData []byte) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("plaintext cannot be empty")
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), additionalData)
	return gcmPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密數據
func (e *AESGCMEncryption) Decrypt(encryptedText string, additionalData []byte) (string, error) {
	if encryptedText == "" {
		return "", fmt.Errorf("encrypted text cannot be empty")
	}
	if !strings.HasPrefix(encryptedText, gcmPrefix) {
		return "", fmt.Errorf("invalid ciphertext format: missing %q prefix", gcmPrefix)
	}

	data, err := base64.StdEncoding.DecodeString(encryptedText[len(gcmPrefix):])
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize+e.aead.Overhead() {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := e.aead.Open(nil, data[:nonceSize], data[nonceSize:], additionalData)
	if err != nil {
		return "", fmt.Errorf("failed to open ciphertext: %w", err)
	}
	return string(plaintext), nil
}

// IsEncrypted 檢查文本是否已加密
func IsEncrypted(text string) bool {
	return strings.HasPrefix(text, gcmPrefix)
}
