package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrEmptyKey          = errors.New("encryption key must not be empty")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

const (
	keyIterations = 600_000
	keyLen        = 32
)

// pbkdf2 salt is fixed per deployment: the same master key must always derive
// the same AES key, otherwise previously stored ciphertexts become unreadable.
var keySalt = []byte("replydesk-gateway-v1")

// Encryptor seals and opens tenant credential material with AES-256-GCM.
// The AES key is derived from the deployment master key via PBKDF2.
type Encryptor struct {
	key []byte
}

func NewEncryptor(masterKey string) (*Encryptor, error) {
	if masterKey == "" {
		return nil, ErrEmptyKey
	}
	key := pbkdf2.Key([]byte(masterKey), keySalt, keyIterations, keyLen, sha256.New)
	return &Encryptor{key: key}, nil
}

func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	return string(plaintext), nil
}

// Mask returns a fixed-shape redacted form of a secret for diagnostics.
func Mask(secret string) string {
	if len(secret) < 8 {
		return "****"
	}
	return secret[:4] + strings.Repeat("*", 4) + secret[len(secret)-2:]
}
