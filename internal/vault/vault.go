// Package vault encrypts OAuth credentials at rest with AES-256-GCM.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	versionPrefix = "v1:"
	keyInfo       = "healthbridge/token-vault/v1"
	minMasterKey  = 32
)

var ErrInvalidCiphertext = errors.New("vault: invalid ciphertext")

type Vault struct {
	aead cipher.AEAD
}

// New derives the data key from a base64 encoded master secret.
func New(masterKeyB64 string) (*Vault, error) {
	master, err := base64.StdEncoding.DecodeString(strings.TrimSpace(masterKeyB64))
	if err != nil {
		return nil, fmt.Errorf("decoding vault master key: %w", err)
	}
	return NewFromKey(master)
}

// NewFromKey derives the data key from raw master key bytes.
func NewFromKey(master []byte) (*Vault, error) {
	if len(master) < minMasterKey {
		return nil, fmt.Errorf("vault master key must be at least %d bytes, got %d", minMasterKey, len(master))
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving vault key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt returns "v1:" followed by base64(nonce || ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return versionPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (v *Vault) Decrypt(ciphertext string) (string, error) {
	encoded, ok := strings.CutPrefix(ciphertext, versionPrefix)
	if !ok {
		return "", ErrInvalidCiphertext
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(raw) < v.aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	nonce, sealed := raw[:v.aead.NonceSize()], raw[v.aead.NonceSize():]
	plain, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plain), nil
}

// EncryptOptional encrypts a possibly empty secret. Empty input maps to nil.
func (v *Vault) EncryptOptional(plaintext string) (*string, error) {
	if plaintext == "" {
		return nil, nil
	}
	ct, err := v.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	return &ct, nil
}

func (v *Vault) DecryptOptional(ciphertext *string) (string, error) {
	if ciphertext == nil || *ciphertext == "" {
		return "", nil
	}
	return v.Decrypt(*ciphertext)
}
