package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
)

var encryptionKey []byte

// InitEncryption initializes the encryption key used for stored instance
// passwords. Priority:
// 1. Explicit key from configuration (encryption.key)
// 2. ENCRYPTION_KEY environment variable
// The key may be base64-encoded 32 bytes; anything else is hashed with
// SHA-256 to derive a 32-byte AES-256 key.
func InitEncryption(configuredKey string) error {
	keyString := configuredKey
	if keyString == "" {
		keyString = os.Getenv("ENCRYPTION_KEY")
	}
	if keyString == "" {
		return errors.New("no encryption key configured: set encryption.key or ENCRYPTION_KEY")
	}

	keyBytes, err := base64.StdEncoding.DecodeString(keyString)
	if err != nil || len(keyBytes) != 32 {
		// Not a base64 32-byte key, derive one from the raw string
		hash := sha256.Sum256([]byte(keyString))
		encryptionKey = hash[:]
		return nil
	}
	encryptionKey = keyBytes
	return nil
}

// IsInitialized checks if encryption has been initialized
func IsInitialized() bool {
	return len(encryptionKey) > 0
}

// Encrypt encrypts plaintext using AES-256-GCM
// Returns base64-encoded ciphertext
func Encrypt(plaintext string) (string, error) {
	if len(encryptionKey) == 0 {
		return "", errors.New("encryption not initialized")
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Encrypt and prepend nonce
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts base64-encoded ciphertext using AES-256-GCM
// Returns plaintext string
func Decrypt(ciphertextB64 string) (string, error) {
	if len(encryptionKey) == 0 {
		return "", errors.New("encryption not initialized")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// EncryptPassword is a convenience wrapper for encrypting passwords
func EncryptPassword(password string) (string, error) {
	return Encrypt(password)
}

// DecryptPassword is a convenience wrapper for decrypting passwords
func DecryptPassword(encryptedPassword string) (string, error) {
	return Decrypt(encryptedPassword)
}
