package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/lirancohen/workhub/internal/crypto"
)

// ClientSecretName is the secret holding the IdP static client secret.
const ClientSecretName = "idp.client_secret"

var (
	ErrInvalidConnector = errors.New("invalid connector")
	ErrInvalidOrder     = errors.New("connector order must list every connector exactly once")
)

var connectorIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// SSOStore persists the SSO toggle and connectors. Connector configs are
// sealed with the master key because they carry upstream client secrets.
type SSOStore struct {
	db      *DB
	key     *crypto.MasterKey
	secrets *SecretStore
}

// NewSSOStore returns an SSOStore backed by db.
func NewSSOStore(db *DB, key *crypto.MasterKey) *SSOStore {
	return &SSOStore{db: db, key: key, secrets: NewSecretStore(db, key)}
}

// ClientSecret returns the IdP static client secret, creating it once.
func (s *SSOStore) ClientSecret(ctx context.Context) (string, error) {
	return s.secrets.GetOrCreate(ctx, ClientSecretName)
}

// SetEnabled flips the global SSO toggle.
func (s *SSOStore) SetEnabled(ctx context.Context, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sso_settings (id, enabled, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		enabled, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update sso settings: %w", err)
	}
	return nil
}

// Config returns the SSO toggle and every connector ordered by position.
func (s *SSOStore) Config(ctx context.Context) (*SSOConfig, error) {
	return s.load(ctx, false)
}

// EnabledConfig is Config restricted to enabled connectors.
func (s *SSOStore) EnabledConfig(ctx context.Context) (*SSOConfig, error) {
	return s.load(ctx, true)
}

func (s *SSOStore) load(ctx context.Context, enabledOnly bool) (*SSOConfig, error) {
	cfg := &SSOConfig{Connectors: []*SSOConnector{}}
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled, updated_at FROM sso_settings WHERE id = 1`,
	).Scan(&cfg.Enabled, &cfg.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load sso settings: %w", err)
	}

	query := `SELECT id, type, name, position, enabled, config, created_at, updated_at FROM sso_connectors`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY position, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list connectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		c := &SSOConnector{}
		var sealed string
		if err := rows.Scan(&c.ID, &c.Type, &c.Name, &c.Position, &c.Enabled, &sealed, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan connector: %w", err)
		}
		if c.Config, err = s.openConfig(sealed); err != nil {
			return nil, fmt.Errorf("connector %s: %w", c.ID, err)
		}
		cfg.Connectors = append(cfg.Connectors, c)
	}
	return cfg, rows.Err()
}

func (s *SSOStore) sealConfig(config map[string]any) (string, error) {
	if config == nil {
		config = map[string]any{}
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("failed to encode connector config: %w", err)
	}
	return s.key.Seal(raw)
}

func (s *SSOStore) openConfig(sealed string) (map[string]any, error) {
	raw, err := s.key.Open(sealed)
	if err != nil {
		return nil, err
	}
	config := map[string]any{}
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("failed to decode connector config: %w", err)
	}
	return config, nil
}

func validateConnector(c *SSOConnector) error {
	if !connectorIDPattern.MatchString(c.ID) {
		return fmt.Errorf("%w: id %q must be a lowercase slug", ErrInvalidConnector, c.ID)
	}
	if c.Type == "" || c.Name == "" {
		return fmt.Errorf("%w: type and name are required", ErrInvalidConnector)
	}
	return nil
}

// CreateConnector appends a connector after the existing ones.
func (s *SSOStore) CreateConnector(ctx context.Context, c *SSOConnector) (*SSOConnector, error) {
	if err := validateConnector(c); err != nil {
		return nil, err
	}
	sealed, err := s.sealConfig(c.Config)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	created := *c
	created.CreatedAt, created.UpdatedAt = now, now

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO sso_connectors (id, type, name, position, enabled, config, created_at, updated_at)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(position) + 1, 0) FROM sso_connectors), ?, ?, ?, ?)
		RETURNING position`,
		created.ID, created.Type, created.Name, created.Enabled, sealed, now, now,
	).Scan(&created.Position)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("connector %q: %w", created.ID, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}
	return &created, nil
}

// UpdateConnector replaces type, name, enabled flag and config of an
// existing connector. Position is changed only through ReorderConnectors.
func (s *SSOStore) UpdateConnector(ctx context.Context, c *SSOConnector) error {
	if err := validateConnector(c); err != nil {
		return err
	}
	sealed, err := s.sealConfig(c.Config)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sso_connectors SET type = ?, name = ?, enabled = ?, config = ?, updated_at = ? WHERE id = ?`,
		c.Type, c.Name, c.Enabled, sealed, time.Now().UTC(), c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update connector: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConnector removes a connector.
func (s *SSOStore) DeleteConnector(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sso_connectors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connector: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReorderConnectors assigns positions following ids, which must name every
// connector exactly once.
func (s *SSOStore) ReorderConnectors(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sso_connectors`).Scan(&total); err != nil {
		return fmt.Errorf("failed to count connectors: %w", err)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	if len(ids) != total || len(seen) != total {
		return ErrInvalidOrder
	}

	now := time.Now().UTC()
	for pos, id := range ids {
		res, err := tx.ExecContext(ctx,
			`UPDATE sso_connectors SET position = ?, updated_at = ? WHERE id = ?`, pos, now, id)
		if err != nil {
			return fmt.Errorf("failed to reorder connectors: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrInvalidOrder
		}
	}
	return tx.Commit()
}
