package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	// Set up test encryption key before running tests
	testKey := make([]byte, 32)
	rand.Read(testKey)
	if err := InitEncryption(base64.StdEncoding.EncodeToString(testKey)); err != nil {
		panic("Failed to initialize encryption for tests: " + err.Error())
	}

	m.Run()
}

func TestInitEncryption(t *testing.T) {
	t.Run("Should fail without any key", func(t *testing.T) {
		saved := encryptionKey
		defer func() { encryptionKey = saved }()

		encryptionKey = nil
		t.Setenv("ENCRYPTION_KEY", "")
		err := InitEncryption("")
		assert.Error(t, err)
		assert.False(t, IsInitialized())
	})

	t.Run("Should derive a key from a raw passphrase", func(t *testing.T) {
		saved := encryptionKey
		defer func() { encryptionKey = saved }()

		err := InitEncryption("not-base64-just-a-passphrase")
		require.NoError(t, err)
		assert.True(t, IsInitialized())
		assert.Len(t, encryptionKey, 32)
	})
}

func TestEncryptDecrypt(t *testing.T) {
	t.Run("Should encrypt and decrypt successfully", func(t *testing.T) {
		plaintext := "my-secret-password"

		encrypted, err := Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, encrypted)
		assert.NotEmpty(t, encrypted)

		decrypted, err := Decrypt(encrypted)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	})

	t.Run("Should produce different ciphertexts for same plaintext", func(t *testing.T) {
		plaintext := "password123"

		encrypted1, err := Encrypt(plaintext)
		require.NoError(t, err)

		encrypted2, err := Encrypt(plaintext)
		require.NoError(t, err)

		// AES-GCM includes random nonce, so ciphertexts should differ
		assert.NotEqual(t, encrypted1, encrypted2)

		decrypted1, err := Decrypt(encrypted1)
		require.NoError(t, err)

		decrypted2, err := Decrypt(encrypted2)
		require.NoError(t, err)

		assert.Equal(t, plaintext, decrypted1)
		assert.Equal(t, plaintext, decrypted2)
	})

	t.Run("Should fail gracefully with invalid ciphertext", func(t *testing.T) {
		_, err := Decrypt("invalid-base64-data!!!")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode base64")
	})

	t.Run("Should fail with ciphertext too short", func(t *testing.T) {
		shortCiphertext := base64.StdEncoding.EncodeToString([]byte("short"))

		_, err := Decrypt(shortCiphertext)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "ciphertext too short")
	})

	t.Run("Should round-trip passwords via convenience wrappers", func(t *testing.T) {
		encrypted, err := EncryptPassword("district")
		require.NoError(t, err)

		decrypted, err := DecryptPassword(encrypted)
		require.NoError(t, err)
		assert.Equal(t, "district", decrypted)
	})
}
