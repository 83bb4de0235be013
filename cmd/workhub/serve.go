package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/lirancohen/workhub/internal/config"
	"github.com/lirancohen/workhub/internal/platform/logger"
	"github.com/lirancohen/workhub/internal/platform/telemetry"
	"github.com/lirancohen/workhub/internal/realtime"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the API server, the realtime gateway and the identity provider",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides server.addr)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr := cmd.String("addr"); addr != "" {
				cfg.Server.Addr = addr
			}
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.Log)

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn().Err(err).Msg("failed to flush traces")
		}
	}()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Redis.URL != "" {
		rdb, err := realtime.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		relay := realtime.NewRedisRelay(rdb, cfg.Redis.Channel, a.hub, log)
		g.Go(func() error {
			// Run installs the relay on the hub once subscribed and removes
			// it on exit, so a lost subscription falls back to local delivery.
			if err := relay.Run(gctx); err != nil {
				log.Error().Err(err).Msg("realtime relay stopped")
			}
			return nil
		})
	}

	sso, err := a.sso.Config(ctx)
	if err != nil {
		return err
	}
	if sso.Enabled {
		a.supervisor.StartInBackground(ctx)
	}

	g.Go(a.server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := a.server.Shutdown(shutdownCtx)
		a.hub.Wait()
		a.supervisor.Wait()
		return errors.Join(err, a.supervisor.Stop(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("stopped")
	return nil
}
