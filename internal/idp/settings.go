// Package idp runs the embedded OpenID Connect identity provider (dex) as a
// supervised child process and proxies browser traffic to it.
package idp

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lirancohen/workhub/internal/config"
)

// CallbackPath is where the identity provider redirects after login.
const CallbackPath = "/api/v1/auth/sso/callback"

// Settings are the static inputs of the supervisor, derived from the
// application configuration.
type Settings struct {
	PublicURL        string
	BinaryPath       string
	Args             []string
	DataDir          string
	Host             string
	Port             int
	PathPrefix       string
	ClientID         string
	ClientName       string
	StorageType      string
	StorageDSN       string
	LogLevel         string
	ReadinessTimeout time.Duration
	StopGracePeriod  time.Duration
}

// SettingsFrom extracts Settings from cfg.
func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		PublicURL:        cfg.Server.PublicURL,
		BinaryPath:       cfg.IdP.BinaryPath,
		Args:             cfg.IdP.Args,
		DataDir:          cfg.IdP.DataDir,
		Host:             cfg.IdP.Host,
		Port:             cfg.IdP.Port,
		PathPrefix:       cfg.IdP.PathPrefix,
		ClientID:         cfg.IdP.ClientID,
		ClientName:       cfg.IdP.ClientName,
		StorageType:      cfg.IdP.StorageType,
		StorageDSN:       cfg.IdP.StorageDSN,
		LogLevel:         cfg.Log.Level,
		ReadinessTimeout: cfg.IdP.ReadinessTimeout,
		StopGracePeriod:  cfg.IdP.StopGracePeriod,
	}
}

// Issuer is the public issuer URL. Its path equals PathPrefix so proxied
// requests reach the provider unchanged.
func (s Settings) Issuer() string { return s.PublicURL + s.PathPrefix }

// RedirectURI is the single allowed redirect of the static client.
func (s Settings) RedirectURI() string { return s.PublicURL + CallbackPath }

// ListenAddr is the loopback address the provider binds.
func (s Settings) ListenAddr() string { return net.JoinHostPort(s.Host, strconv.Itoa(s.Port)) }

// UpstreamURL is the base URL the proxy forwards to.
func (s Settings) UpstreamURL() string { return "http://" + s.ListenAddr() }

// ConfigPath is where the rendered provider config is written.
func (s Settings) ConfigPath() string { return filepath.Join(s.DataDir, "config.yaml") }

// Connector is one upstream identity source as the provider sees it.
type Connector struct {
	ID       string
	Type     string
	Name     string
	Position int
	Config   map[string]any
}

// SSOConfig is the persisted SSO state the provider config is built from.
type SSOConfig struct {
	Enabled      bool
	ClientSecret string
	Connectors   []Connector
}

// ConfigSource returns the current SSO configuration restricted to enabled
// connectors.
type ConfigSource interface {
	EnabledSSOConfig(ctx context.Context) (*SSOConfig, error)
}
