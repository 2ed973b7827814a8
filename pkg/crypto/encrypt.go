package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// KeySize - длина ключа AES-256
const KeySize = 32

// NonceSize - длина IV, который пишется перед шифротекстом
const NonceSize = 12

// Ошибки шифрования
var (
	ErrInvalidKeyLength = errors.New("encryption key must be exactly 32 bytes for AES-256")
	ErrEmptyPlaintext   = errors.New("plaintext cannot be empty")

	// ErrDecryptionFailed возвращается при любой ошибке расшифровки:
	// битый base64, обрезанные данные, чужой ключ или подмена шифротекста.
	// Вызывающий код должен предложить пользователю заново ввести ключи.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// CredentialCipher шифрует API ключи биржи для хранения в БД.
// Формат: base64(iv[12] || ciphertext || tag)
type CredentialCipher struct {
	aead cipher.AEAD
}

// NewCredentialCipher создает шифратор с 32-байтным ключом
func NewCredentialCipher(key []byte) (*CredentialCipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, err
	}

	return &CredentialCipher{aead: aead}, nil
}

// Encrypt шифрует plaintext, каждый вызов использует новый случайный IV
func (c *CredentialCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt расшифровывает значение, созданное Encrypt
func (c *CredentialCipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64", ErrDecryptionFailed)
	}

	if len(raw) < NonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, data := raw[:NonceSize], raw[NonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, data, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}

	return string(plaintext), nil
}

// GenerateKey генерирует криптографически стойкий случайный ключ (32 байта для AES-256)
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
