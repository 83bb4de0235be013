// Package crypto seals secrets at rest (SSO connector configs and client
// secrets) with AES-256-GCM under a master key.
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

	"golang.org/x/crypto/pbkdf2"
)

const (
	KeySize          = 32
	SaltSize         = 16
	PBKDF2Iterations = 100000
)

var (
	ErrDecryptionFailed  = errors.New("decryption failed: invalid key or corrupted data")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrInvalidMasterKey  = errors.New("invalid master key")
)

// MasterKey is a derived AES-256 key plus the salt it was derived with.
type MasterKey struct {
	key  [KeySize]byte
	salt []byte
	aead cipher.AEAD
}

// DeriveMasterKey derives a key from a passphrase. A nil salt generates a
// fresh random one.
func DeriveMasterKey(passphrase, salt []byte) (*MasterKey, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", ErrInvalidMasterKey)
	}
	if salt == nil {
		salt = make([]byte, SaltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
	}
	mk := &MasterKey{salt: salt}
	copy(mk.key[:], pbkdf2.Key(passphrase, salt, PBKDF2Iterations, KeySize, sha256.New))
	return mk, mk.initAEAD()
}

// GenerateMasterKey creates a key from random material.
func GenerateMasterKey() (*MasterKey, error) {
	material := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, material); err != nil {
		return nil, fmt.Errorf("failed to generate key material: %w", err)
	}
	return DeriveMasterKey(material, nil)
}

// ParseMasterKey decodes the base64(salt||key) form produced by Export.
func ParseMasterKey(encoded string) (*MasterKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMasterKey, err)
	}
	if len(raw) != SaltSize+KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidMasterKey, SaltSize+KeySize, len(raw))
	}
	mk := &MasterKey{salt: append([]byte(nil), raw[:SaltSize]...)}
	copy(mk.key[:], raw[SaltSize:])
	return mk, mk.initAEAD()
}

func (mk *MasterKey) initAEAD() error {
	block, err := aes.NewCipher(mk.key[:])
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}
	mk.aead = aead
	return nil
}

// Export encodes the key for WORKHUB_MASTER_KEY or the master key file.
func (mk *MasterKey) Export() string {
	raw := make([]byte, 0, len(mk.salt)+KeySize)
	raw = append(raw, mk.salt...)
	raw = append(raw, mk.key[:]...)
	return base64.StdEncoding.EncodeToString(raw)
}

// Seal encrypts plaintext and returns base64(nonce||ciphertext).
func (mk *MasterKey) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, mk.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(mk.aead.Seal(nonce, nonce, plaintext, nil)), nil
}

// Open reverses Seal.
func (mk *MasterKey) Open(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	ns := mk.aead.NonceSize()
	if len(raw) < ns {
		return nil, ErrInvalidCiphertext
	}
	plaintext, err := mk.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
