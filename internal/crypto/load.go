package crypto

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// MasterKeyEnv overrides the key file when set.
	MasterKeyEnv = "WORKHUB_MASTER_KEY"
	// MasterKeyFile is created under the data dir on first start.
	MasterKeyFile = "master.key"
)

// LoadMasterKey resolves the master key in order: WORKHUB_MASTER_KEY,
// <dataDir>/master.key, then a freshly generated key saved to that file.
func LoadMasterKey(dataDir string) (*MasterKey, error) {
	if encoded := strings.TrimSpace(os.Getenv(MasterKeyEnv)); encoded != "" {
		mk, err := ParseMasterKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", MasterKeyEnv, err)
		}
		return mk, nil
	}

	path := filepath.Join(dataDir, MasterKeyFile)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		mk, err := ParseMasterKey(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return mk, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read master key: %w", err)
	}

	mk, err := GenerateMasterKey()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(mk.Export()), 0600); err != nil {
		return nil, fmt.Errorf("failed to write master key: %w", err)
	}
	return mk, nil
}
