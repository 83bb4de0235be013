package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// SigningKeyFile is the file under the data dir holding the token key pair.
const SigningKeyFile = "signing_key.json"

// KeyPair is the Ed25519 pair used to sign access tokens.
type KeyPair struct {
	Public  ed25519.PublicKey  `json:"public_key"`
	Private ed25519.PrivateKey `json:"private_key"`
}

// GenerateKeyPair creates a fresh key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// LoadKeyPair reads a key pair written by Save.
func LoadKeyPair(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var kp KeyPair
	if err := json.Unmarshal(data, &kp); err != nil {
		return nil, fmt.Errorf("failed to parse signing key file: %w", err)
	}
	if len(kp.Public) != ed25519.PublicKeySize || len(kp.Private) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key file %s has invalid key sizes", path)
	}
	return &kp, nil
}

// Save writes the pair with mode 0600 via a temp file and rename.
func (kp *KeyPair) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	data, err := json.Marshal(kp)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write signing key: %w", err)
	}
	return os.Rename(tmp, path)
}

// EnsureKeyPair loads the pair from dataDir, generating it on first use so
// issued tokens survive restarts.
func EnsureKeyPair(dataDir string) (*KeyPair, error) {
	path := filepath.Join(dataDir, SigningKeyFile)
	kp, err := LoadKeyPair(path)
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}
	if kp, err = GenerateKeyPair(); err != nil {
		return nil, err
	}
	if err := kp.Save(path); err != nil {
		return nil, err
	}
	return kp, nil
}
