package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/lirancohen/workhub/internal/crypto"
)

// SecretStore keeps small secrets sealed under the master key.
type SecretStore struct {
	db  *DB
	key *crypto.MasterKey
}

// NewSecretStore returns a store sealing values with key.
func NewSecretStore(db *DB, key *crypto.MasterKey) *SecretStore {
	return &SecretStore{db: db, key: key}
}

// Set stores value under name, replacing any previous value.
func (s *SecretStore) Set(ctx context.Context, name, value string) error {
	sealed, err := s.key.Seal([]byte(value))
	if err != nil {
		return fmt.Errorf("failed to encrypt secret %s: %w", name, err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO secrets (key, value, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, sealed, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to set secret %s: %w", name, err)
	}
	return nil
}

// Get returns the secret stored under name or ErrNotFound.
func (s *SecretStore) Get(ctx context.Context, name string) (string, error) {
	var sealed string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, name).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", name, err)
	}
	plain, err := s.key.Open(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret %s: %w", name, err)
	}
	return string(plain), nil
}

// GetOrCreate returns the secret under name, generating a random one on
// first use.
func (s *SecretStore) GetOrCreate(ctx context.Context, name string) (string, error) {
	value, err := s.Get(ctx, name)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	value = base64.RawURLEncoding.EncodeToString(raw)
	if err := s.Set(ctx, name, value); err != nil {
		return "", err
	}
	return value, nil
}
