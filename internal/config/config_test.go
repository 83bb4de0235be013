package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 60*time.Second, cfg.Realtime.IdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.IdP.ReadinessTimeout)
	assert.Equal(t, 10*time.Second, cfg.IdP.StopGracePeriod)
	assert.Equal(t, "/dex", cfg.IdP.PathPrefix)
	assert.Equal(t, filepath.Join("/var/lib/workhub", "workhub.db"), cfg.Database.Path)
	assert.Equal(t, filepath.Join("/var/lib/workhub", "idp"), cfg.IdP.DataDir)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workhub.yaml")
	content := `
data_dir: ` + dir + `
server:
  public_url: https://work.example.com/
idp:
  port: 6556
  path_prefix: sso
realtime:
  idle_timeout: 2m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	t.Setenv("WORKHUB_SERVER_ADDR", ":9999")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "https://work.example.com", cfg.Server.PublicURL)
	assert.Equal(t, 6556, cfg.IdP.Port)
	assert.Equal(t, "/sso", cfg.IdP.PathPrefix)
	assert.Equal(t, 2*time.Minute, cfg.Realtime.IdleTimeout)
	assert.Equal(t, filepath.Join(dir, "workhub.db"), cfg.Database.Path)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	t.Run("ping interval must be below idle timeout", func(t *testing.T) {
		c := *cfg
		c.Realtime.PingInterval = c.Realtime.IdleTimeout
		assert.Error(t, c.Validate())
	})

	t.Run("port range", func(t *testing.T) {
		c := *cfg
		c.IdP.Port = 70000
		assert.Error(t, c.Validate())
	})

	t.Run("realtime limits must be positive", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(*RealtimeConfig)
		}{
			{"zero ping interval", func(r *RealtimeConfig) { r.PingInterval = 0 }},
			{"zero write timeout", func(r *RealtimeConfig) { r.WriteTimeout = 0 }},
			{"zero auth timeout", func(r *RealtimeConfig) { r.AuthTimeout = 0 }},
			{"zero send buffer", func(r *RealtimeConfig) { r.SendBuffer = 0 }},
			{"negative send buffer", func(r *RealtimeConfig) { r.SendBuffer = -1 }},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				c := *cfg
				tt.mutate(&c.Realtime)
				assert.Error(t, c.Validate())
			})
		}
	})

	t.Run("zero limits from env are rejected", func(t *testing.T) {
		t.Setenv("WORKHUB_REALTIME_PING_INTERVAL", "0s")
		t.Setenv("WORKHUB_REALTIME_SEND_BUFFER", "0")
		t.Setenv("WORKHUB_REALTIME_AUTH_TIMEOUT", "0s")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "realtime.ping_interval")
		assert.Contains(t, err.Error(), "realtime.send_buffer")
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}
