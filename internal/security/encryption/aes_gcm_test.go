package encryption

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func newTestKey(t testing.TB) []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	return key
}

func TestAESGCMEncryption(t *testing.T) {
	enc, err := NewAESGCMEncryption(newTestKey(t))
	if err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name      string
		plaintext string
	}{
		{"Simple text", "Hello, World!"},
		{"Unicode", "你好世界！🔐"},
		{"Long text", strings.Repeat("This is a long message. ", 100)},
		{"Newlines", "Line 1\nLine 2\nLine 3"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext, err := enc.Encrypt(tc.plaintext, []byte("conv-1"))
			if err != nil {
				t.Fatalf("Encryption failed: %v", err)
			}
			if !IsEncrypted(ciphertext) {
				t.Errorf("Invalid ciphertext format: missing prefix")
			}

			decrypted, err := enc.Decrypt(ciphertext, []byte("conv-1"))
			if err != nil {
				t.Fatalf("Decryption failed: %v", err)
			}
			if decrypted != tc.plaintext {
				t.Errorf("Decryption mismatch.\nWant: %s\nGot: %s", tc.plaintext, decrypted)
			}
		})
	}
}

func TestAESGCMEncryption_InvalidKey(t *testing.T) {
	for _, size := range []int{0, 16, 24, 48} {
		if _, err := NewAESGCMEncryption(make([]byte, size)); err == nil {
			t.Errorf("Expected error for key size %d, got nil", size)
		}
	}
}

func TestAESGCMEncryption_WrongKeyFails(t *testing.T) {
	enc1, _ := NewAESGCMEncryption(newTestKey(t))
	enc2, _ := NewAESGCMEncryption(newTestKey(t))

	ciphertext, err := enc1.Encrypt("Secret message", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := enc2.Decrypt(ciphertext, nil); err == nil {
		t.Error("Wrong key should fail authentication")
	}
}

func TestAESGCMEncryption_AdditionalDataBound(t *testing.T) {
	enc, _ := NewAESGCMEncryption(newTestKey(t))

	ciphertext, _ := enc.Encrypt("hello", []byte("conv-a"))
	if _, err := enc.Decrypt(ciphertext, []byte("conv-b")); err == nil {
		t.Error("Ciphertext moved to another conversation should not decrypt")
	}
}

func TestAESGCMEncryption_InvalidFormat(t *testing.T) {
	enc, _ := NewAESGCMEncryption(newTestKey(t))

	testCases := []string{
		"",
		"no_prefix",
		"aes256gcm:",
		"aes256gcm:invalid!!!",
		"aes256gcm:AA==",
	}
	for _, tc := range testCases {
		if _, err := enc.Decrypt(tc, nil); err == nil {
			t.Errorf("Expected error for invalid format: %q", tc)
		}
	}
}

func TestAESGCMEncryption_DifferentNonce(t *testing.T) {
	enc, _ := NewAESGCMEncryption(newTestKey(t))

	c1, _ := enc.Encrypt("Same message", nil)
	c2, _ := enc.Encrypt("Same message", nil)
	if c1 == c2 {
		t.Error("Same plaintext should produce different ciphertexts")
	}
}

func TestMessageEncryption_PerConversationKeys(t *testing.T) {
	master := base64.StdEncoding.EncodeToString(newTestKey(t))
	me, err := NewMessageEncryption(master)
	if err != nil {
		t.Fatal(err)
	}

	ciphertext, err := me.Encrypt("hi there", "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if ciphertext == "hi there" {
		t.Fatal("body should be encrypted")
	}

	plain, err := me.Decrypt(ciphertext, "conv-1")
	if err != nil || plain != "hi there" {
		t.Fatalf("Decrypt = %q, %v", plain, err)
	}

	if _, err := me.Decrypt(ciphertext, "conv-2"); err == nil {
		t.Error("another conversation's key should not decrypt")
	}

	// 另一個實例使用相同主密鑰也能解密
	other, _ := NewMessageEncryption(master)
	if plain, err := other.Decrypt(ciphertext, "conv-1"); err != nil || plain != "hi there" {
		t.Errorf("derived key should be deterministic, got %q, %v", plain, err)
	}
}

func TestMessageEncryption_PlaintextPassthrough(t *testing.T) {
	me, _ := NewMessageEncryption(base64.StdEncoding.EncodeToString(newTestKey(t)))

	if got, _ := me.Encrypt("", "conv-1"); got != "" {
		t.Errorf("empty body should stay empty, got %q", got)
	}
	if got, err := me.Decrypt("legacy plaintext", "conv-1"); err != nil || got != "legacy plaintext" {
		t.Errorf("unencrypted value should pass through, got %q, %v", got, err)
	}
}

func TestNewMessageEncryption_InvalidMasterKey(t *testing.T) {
	if _, err := NewMessageEncryption("not base64!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := NewMessageEncryption(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Error("expected error for short master key")
	}
}

func BenchmarkMessageEncryption_Encrypt(b *testing.B) {
	me, _ := NewMessageEncryption(base64.StdEncoding.EncodeToString(newTestKey(b)))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = me.Encrypt("This is a benchmark test message", "conv-1")
	}
}
