package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasterKey_SealOpen(t *testing.T) {
	mk, err := GenerateMasterKey()
	require.NoError(t, err)

	sealed, err := mk.Seal([]byte(`{"clientSecret":"s3cret"}`))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "s3cret")

	plain, err := mk.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"clientSecret":"s3cret"}`, string(plain))

	again, err := mk.Seal([]byte(`{"clientSecret":"s3cret"}`))
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonces must differ")
}

func TestMasterKey_ExportRoundTrip(t *testing.T) {
	mk, err := DeriveMasterKey([]byte("passphrase"), nil)
	require.NoError(t, err)
	sealed, err := mk.Seal([]byte("hello"))
	require.NoError(t, err)

	parsed, err := ParseMasterKey(mk.Export())
	require.NoError(t, err)
	plain, err := parsed.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plain))
}

func TestMasterKey_Errors(t *testing.T) {
	_, err := DeriveMasterKey(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidMasterKey)

	_, err = ParseMasterKey("not base64!")
	assert.ErrorIs(t, err, ErrInvalidMasterKey)

	_, err = ParseMasterKey("c2hvcnQ=")
	assert.ErrorIs(t, err, ErrInvalidMasterKey)

	a, _ := GenerateMasterKey()
	b, _ := GenerateMasterKey()
	sealed, err := a.Seal([]byte("x"))
	require.NoError(t, err)
	_, err = b.Open(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = a.Open("AAAA")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestLoadMasterKey(t *testing.T) {
	t.Run("generates then reloads from file", func(t *testing.T) {
		t.Setenv(MasterKeyEnv, "")
		dir := t.TempDir()

		first, err := LoadMasterKey(dir)
		require.NoError(t, err)
		info, err := os.Stat(filepath.Join(dir, MasterKeyFile))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		second, err := LoadMasterKey(dir)
		require.NoError(t, err)
		assert.Equal(t, first.Export(), second.Export())
	})

	t.Run("environment wins", func(t *testing.T) {
		mk, err := GenerateMasterKey()
		require.NoError(t, err)
		t.Setenv(MasterKeyEnv, mk.Export())

		loaded, err := LoadMasterKey(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, mk.Export(), loaded.Export())
	})

	t.Run("bad environment value", func(t *testing.T) {
		t.Setenv(MasterKeyEnv, "garbage")
		_, err := LoadMasterKey(t.TempDir())
		assert.Error(t, err)
	})
}
