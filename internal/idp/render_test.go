package idp

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testSettings(t *testing.T) Settings {
	t.Helper()
	return Settings{
		PublicURL:        "https://work.example.com",
		BinaryPath:       "dex",
		DataDir:          t.TempDir(),
		Host:             "127.0.0.1",
		Port:             5556,
		PathPrefix:       "/dex",
		ClientID:         "workhub",
		ClientName:       "Workhub",
		StorageType:      "sqlite3",
		ReadinessTimeout: 10 * time.Second,
		StopGracePeriod:  2 * time.Second,
	}
}

func twoConnectors() *SSOConfig {
	return &SSOConfig{
		Enabled:      true,
		ClientSecret: "client-secret",
		Connectors: []Connector{
			{ID: "gitlab", Type: "gitlab", Name: "GitLab", Position: 1, Config: map[string]any{
				"clientID": "gl", "clientSecret": "gls", "redirectURI": "https://work.example.com/dex/callback",
			}},
			{ID: "github", Type: "github", Name: "GitHub", Position: 0, Config: map[string]any{
				"orgs": []any{map[string]any{"name": "acme"}}, "clientID": "gh", "clientSecret": "ghs",
			}},
		},
	}
}

func TestBuild_Document(t *testing.T) {
	b := NewConfigBuilder(testSettings(t))
	doc, err := b.Build(twoConnectors())
	require.NoError(t, err)

	assert.Equal(t, "https://work.example.com/dex", doc.Issuer)
	assert.Equal(t, "127.0.0.1:5556", doc.Web.HTTP)
	assert.True(t, doc.OAuth2.SkipApprovalScreen)
	assert.Equal(t, "sqlite3", doc.Storage.Type)
	assert.Equal(t, filepath.Join(b.settings.DataDir, "dex.db"), doc.Storage.Config.File)

	require.Len(t, doc.StaticClients, 1)
	client := doc.StaticClients[0]
	assert.Equal(t, "workhub", client.ID)
	assert.Equal(t, "client-secret", client.Secret)
	assert.Equal(t, []string{"https://work.example.com/api/v1/auth/sso/callback"}, client.RedirectURIs)

	require.Len(t, doc.Connectors, 2)
	assert.Equal(t, "github", doc.Connectors[0].ID, "position orders connectors")
	assert.Equal(t, "gitlab", doc.Connectors[1].ID)
}

func TestBuild_TieBreaksOnID(t *testing.T) {
	cfg := &SSOConfig{Enabled: true, ClientSecret: "s", Connectors: []Connector{
		{ID: "zeta", Type: "oidc", Name: "Z"},
		{ID: "alpha", Type: "oidc", Name: "A"},
	}}
	doc, err := NewConfigBuilder(testSettings(t)).Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, "alpha", doc.Connectors[0].ID)
}

func TestRender_Deterministic(t *testing.T) {
	b := NewConfigBuilder(testSettings(t))

	render := func(cfg *SSOConfig) []byte {
		doc, err := b.Build(cfg)
		require.NoError(t, err)
		out, err := b.Render(doc)
		require.NoError(t, err)
		return out
	}

	first := render(twoConnectors())
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, render(twoConnectors()))
	}

	reversed := twoConnectors()
	reversed.Connectors[0], reversed.Connectors[1] = reversed.Connectors[1], reversed.Connectors[0]
	assert.Equal(t, first, render(reversed), "input order must not matter")

	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(first, &parsed))
	assert.Equal(t, "https://work.example.com/dex", parsed["issuer"])
}

func TestBuild_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings, *SSOConfig) *SSOConfig
		want   error
	}{
		{"nil config", func(_ *Settings, _ *SSOConfig) *SSOConfig { return nil }, ErrSSODisabled},
		{"disabled", func(_ *Settings, c *SSOConfig) *SSOConfig { c.Enabled = false; return c }, ErrSSODisabled},
		{"no connectors", func(_ *Settings, c *SSOConfig) *SSOConfig { c.Connectors = nil; return c }, ErrNoConnectors},
		{"no secret", func(_ *Settings, c *SSOConfig) *SSOConfig { c.ClientSecret = ""; return c }, ErrMissingClientSecret},
		{"duplicate id", func(_ *Settings, c *SSOConfig) *SSOConfig {
			c.Connectors[1].ID = c.Connectors[0].ID
			return c
		}, ErrDuplicateConnector},
		{"unknown storage", func(s *Settings, c *SSOConfig) *SSOConfig { s.StorageType = "etcd"; return c }, ErrInvalidStorage},
		{"postgres without dsn", func(s *Settings, c *SSOConfig) *SSOConfig { s.StorageType = "postgres"; return c }, ErrInvalidStorage},
		{"postgres bad dsn", func(s *Settings, c *SSOConfig) *SSOConfig {
			s.StorageType, s.StorageDSN = "postgres", "postgres://u@host:notaport/db"
			return c
		}, ErrInvalidStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings(t)
			cfg := tt.mutate(&settings, twoConnectors())
			b := NewConfigBuilder(settings)

			_, err := b.Build(cfg)
			require.Error(t, err)
			assert.True(t, IsConfigurationError(err))
			assert.ErrorIs(t, err, tt.want)

			_, err = b.WriteFile(cfg)
			assert.ErrorIs(t, err, tt.want)
			_, statErr := os.Stat(settings.ConfigPath())
			assert.True(t, os.IsNotExist(statErr), "nothing written on configuration error")
		})
	}
}

func TestBuild_PostgresStorage(t *testing.T) {
	settings := testSettings(t)
	settings.StorageType = "postgres"
	settings.StorageDSN = "postgres://dex:pw@db.internal:6543/dexdb?sslmode=disable"

	doc, err := NewConfigBuilder(settings).Build(twoConnectors())
	require.NoError(t, err)
	assert.Equal(t, "postgres", doc.Storage.Type)
	assert.Equal(t, StorageConfig{
		Host: "db.internal", Port: 6543, Database: "dexdb", User: "dex", Password: "pw",
		SSL: &StorageSSL{Mode: "disable"},
	}, doc.Storage.Config)
}

func TestWriteFile(t *testing.T) {
	settings := testSettings(t)
	b := NewConfigBuilder(settings)

	path, err := b.WriteFile(twoConnectors())
	require.NoError(t, err)
	assert.Equal(t, settings.ConfigPath(), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	doc, err := b.Build(twoConnectors())
	require.NoError(t, err)
	want, err := b.Render(doc)
	require.NoError(t, err)
	assert.Equal(t, want, data)

	entries, err := os.ReadDir(settings.DataDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}
