package idp

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gopkg.in/yaml.v3"
)

// Document is the provider's configuration file.
type Document struct {
	Issuer           string         `yaml:"issuer"`
	Storage          Storage        `yaml:"storage"`
	Web              Web            `yaml:"web"`
	Logger           Logger         `yaml:"logger"`
	OAuth2           OAuth2         `yaml:"oauth2"`
	EnablePasswordDB bool           `yaml:"enablePasswordDB"`
	StaticClients    []StaticClient `yaml:"staticClients"`
	Connectors       []ConnectorDoc `yaml:"connectors"`
}

type Storage struct {
	Type   string        `yaml:"type"`
	Config StorageConfig `yaml:"config"`
}

// StorageConfig covers both the sqlite3 and postgres backends.
type StorageConfig struct {
	File     string      `yaml:"file,omitempty"`
	Host     string      `yaml:"host,omitempty"`
	Port     uint16      `yaml:"port,omitempty"`
	Database string      `yaml:"database,omitempty"`
	User     string      `yaml:"user,omitempty"`
	Password string      `yaml:"password,omitempty"`
	SSL      *StorageSSL `yaml:"ssl,omitempty"`
}

type StorageSSL struct {
	Mode string `yaml:"mode"`
}

type Web struct {
	HTTP string `yaml:"http"`
}

type Logger struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type OAuth2 struct {
	SkipApprovalScreen bool     `yaml:"skipApprovalScreen"`
	ResponseTypes      []string `yaml:"responseTypes"`
}

type StaticClient struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Secret       string   `yaml:"secret"`
	RedirectURIs []string `yaml:"redirectURIs"`
}

type ConnectorDoc struct {
	Type   string         `yaml:"type"`
	ID     string         `yaml:"id"`
	Name   string         `yaml:"name"`
	Config map[string]any `yaml:"config,omitempty"`
}

// ConfigBuilder turns SSO state into a provider config file.
type ConfigBuilder struct {
	settings Settings
}

// NewConfigBuilder returns a builder for settings.
func NewConfigBuilder(settings Settings) *ConfigBuilder {
	return &ConfigBuilder{settings: settings}
}

// Build validates cfg and produces the provider document. Equal inputs
// always yield equal documents.
func (b *ConfigBuilder) Build(cfg *SSOConfig) (*Document, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, &ConfigurationError{Err: ErrSSODisabled}
	}
	if len(cfg.Connectors) == 0 {
		return nil, &ConfigurationError{Err: ErrNoConnectors}
	}
	if cfg.ClientSecret == "" {
		return nil, &ConfigurationError{Err: ErrMissingClientSecret}
	}

	connectors := append([]Connector(nil), cfg.Connectors...)
	sort.SliceStable(connectors, func(i, j int) bool {
		if connectors[i].Position != connectors[j].Position {
			return connectors[i].Position < connectors[j].Position
		}
		return connectors[i].ID < connectors[j].ID
	})

	docs := make([]ConnectorDoc, 0, len(connectors))
	seen := make(map[string]struct{}, len(connectors))
	for _, c := range connectors {
		if _, dup := seen[c.ID]; dup {
			return nil, &ConfigurationError{Detail: c.ID, Err: ErrDuplicateConnector}
		}
		seen[c.ID] = struct{}{}
		docs = append(docs, ConnectorDoc{Type: c.Type, ID: c.ID, Name: c.Name, Config: c.Config})
	}

	storage, err := b.storage()
	if err != nil {
		return nil, err
	}

	return &Document{
		Issuer:  b.settings.Issuer(),
		Storage: storage,
		Web:     Web{HTTP: b.settings.ListenAddr()},
		Logger:  Logger{Level: logLevel(b.settings.LogLevel), Format: "json"},
		OAuth2: OAuth2{
			SkipApprovalScreen: true,
			ResponseTypes:      []string{"code"},
		},
		StaticClients: []StaticClient{{
			ID:           b.settings.ClientID,
			Name:         b.settings.ClientName,
			Secret:       cfg.ClientSecret,
			RedirectURIs: []string{b.settings.RedirectURI()},
		}},
		Connectors: docs,
	}, nil
}

func logLevel(level string) string {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return "debug"
	case "warn", "error":
		return "error"
	}
	return "info"
}

func (b *ConfigBuilder) storage() (Storage, error) {
	switch b.settings.StorageType {
	case "", "sqlite3":
		return Storage{Type: "sqlite3", Config: StorageConfig{File: filepath.Join(b.settings.DataDir, "dex.db")}}, nil
	case "postgres":
		if b.settings.StorageDSN == "" {
			return Storage{}, &ConfigurationError{Detail: "postgres storage needs a DSN", Err: ErrInvalidStorage}
		}
		pc, err := pgconn.ParseConfig(b.settings.StorageDSN)
		if err != nil {
			return Storage{}, &ConfigurationError{Detail: err.Error(), Err: ErrInvalidStorage}
		}
		return Storage{Type: "postgres", Config: StorageConfig{
			Host:     pc.Host,
			Port:     pc.Port,
			Database: pc.Database,
			User:     pc.User,
			Password: pc.Password,
			SSL:      &StorageSSL{Mode: sslMode(pc.TLSConfig)},
		}}, nil
	}
	return Storage{}, &ConfigurationError{Detail: "unknown type " + b.settings.StorageType, Err: ErrInvalidStorage}
}

func sslMode(cfg *tls.Config) string {
	switch {
	case cfg == nil:
		return "disable"
	case cfg.InsecureSkipVerify:
		return "require"
	}
	return "verify-full"
}

// Render serializes doc as YAML. Map keys are emitted sorted.
func (b *ConfigBuilder) Render(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to render provider config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to render provider config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile builds, renders and atomically writes the config with mode 0600.
func (b *ConfigBuilder) WriteFile(cfg *SSOConfig) (string, error) {
	doc, err := b.Build(cfg)
	if err != nil {
		return "", err
	}
	data, err := b.Render(doc)
	if err != nil {
		return "", err
	}

	path := b.settings.ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("failed to create provider data dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return "", fmt.Errorf("failed to create temp config: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to chmod temp config: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to install provider config: %w", err)
	}
	return path, nil
}
