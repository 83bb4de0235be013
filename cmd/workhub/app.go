package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/lirancohen/workhub/internal/api"
	"github.com/lirancohen/workhub/internal/api/core"
	"github.com/lirancohen/workhub/internal/auth"
	"github.com/lirancohen/workhub/internal/config"
	"github.com/lirancohen/workhub/internal/crypto"
	"github.com/lirancohen/workhub/internal/db"
	"github.com/lirancohen/workhub/internal/idp"
	"github.com/lirancohen/workhub/internal/realtime"
)

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// store opens and migrates the database and loads the key material every
// command needs.
type store struct {
	db     *db.DB
	key    *crypto.MasterKey
	sso    *db.SSOStore
	issuer *auth.Issuer
}

func openStore(cfg *config.Config) (*store, error) {
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	key, err := crypto.LoadMasterKey(cfg.DataDir)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("loading master key: %w", err)
	}
	keys, err := auth.EnsureKeyPair(cfg.DataDir)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("loading signing key: %w", err)
	}
	return &store{
		db:     database,
		key:    key,
		sso:    db.NewSSOStore(database, key),
		issuer: auth.NewIssuer(cfg.Auth.Issuer, time.Duration(cfg.Auth.ExpiryHours)*time.Hour, keys),
	}, nil
}

func (s *store) Close() error {
	return s.db.Close()
}

// app is the fully wired server.
type app struct {
	*store
	cfg        *config.Config
	log        zerolog.Logger
	metrics    *prometheus.Registry
	hub        *realtime.Hub
	gateway    *realtime.Gateway
	supervisor *idp.Supervisor
	server     *api.Server
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rtMetrics := realtime.NewMetrics(reg)
	registry := realtime.NewRegistry()
	hub := realtime.NewHub(registry, logger, rtMetrics)
	gateway := realtime.NewGateway(registry, realtime.NewJWTValidator(st.issuer), st.db, cfg.Realtime, logger, rtMetrics)

	idpMetrics := idp.NewMetrics(reg)
	settings := idp.SettingsFrom(cfg)
	supervisor := idp.NewSupervisor(settings, core.SSOSource{Store: st.sso}, logger, idpMetrics)
	proxy, err := idp.NewProxy(settings.UpstreamURL(), supervisor, logger, idpMetrics)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("building identity provider proxy: %w", err)
	}

	server := api.NewServer(&core.Deps{
		DB:         st.db,
		SSO:        st.sso,
		Hub:        hub,
		Gateway:    gateway,
		Supervisor: supervisor,
		Proxy:      proxy,
		Issuer:     st.issuer,
		Logger:     logger,
	}, api.Config{
		Addr:     cfg.Server.Addr,
		CertFile: cfg.Server.TLSCertFile,
		KeyFile:  cfg.Server.TLSKeyFile,
		Metrics:  reg,
	})

	return &app{
		store:      st,
		cfg:        cfg,
		log:        logger,
		metrics:    reg,
		hub:        hub,
		gateway:    gateway,
		supervisor: supervisor,
		server:     server,
	}, nil
}
