// Package core contains shared types and dependencies for API handlers.
package core

import (
	"context"

	"github.com/lirancohen/workhub/internal/auth"
	"github.com/lirancohen/workhub/internal/db"
	"github.com/lirancohen/workhub/internal/idp"
	"github.com/lirancohen/workhub/internal/realtime"
	"github.com/rs/zerolog"
)

// Deps holds all dependencies needed by API handlers.
// This struct is passed to handler constructors to provide access to services.
type Deps struct {
	DB         *db.DB
	SSO        *db.SSOStore
	Hub        *realtime.Hub
	Gateway    *realtime.Gateway
	Supervisor *idp.Supervisor
	Proxy      *idp.Proxy
	Issuer     *auth.Issuer
	Logger     zerolog.Logger
}

// SSOSource adapts the SSO store to the identity provider's ConfigSource.
type SSOSource struct {
	Store *db.SSOStore
}

// EnabledSSOConfig returns the toggle, the client secret and the enabled
// connectors in position order. The client secret is only materialized
// when SSO is on.
func (s SSOSource) EnabledSSOConfig(ctx context.Context) (*idp.SSOConfig, error) {
	cfg, err := s.Store.EnabledConfig(ctx)
	if err != nil {
		return nil, err
	}
	out := &idp.SSOConfig{Enabled: cfg.Enabled}
	if !cfg.Enabled {
		return out, nil
	}
	if out.ClientSecret, err = s.Store.ClientSecret(ctx); err != nil {
		return nil, err
	}
	out.Connectors = make([]idp.Connector, 0, len(cfg.Connectors))
	for _, c := range cfg.Connectors {
		out.Connectors = append(out.Connectors, idp.Connector{
			ID:       c.ID,
			Type:     c.Type,
			Name:     c.Name,
			Position: c.Position,
			Config:   c.Config,
		})
	}
	return out, nil
}
