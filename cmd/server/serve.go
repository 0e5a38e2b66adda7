package main

import (
	"context"
	"os/signal"
	"syscall"

	"amethyst/internal/api"
	"amethyst/internal/hooks"
	"amethyst/internal/metrics"
	"amethyst/internal/schema"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, log := a.cfg, a.log
	if cfg.Log.Level != "debug" && cfg.Log.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}

	s, err := schema.Load(cfg.Schema.Dir, schemaOptions(cfg))
	if err != nil {
		return errors.Wrapf(err, "load schema from %s", cfg.Schema.Dir)
	}
	log.Info().Str("dir", cfg.Schema.Dir).Int("entities", len(s.Entities())).Msg("schema loaded")

	st, err := openStore(ctx, cfg, s, log)
	if err != nil {
		return err
	}
	defer st.Close()

	responses, closeResponses, err := openResponses(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeResponses()

	srv, err := api.NewServer(api.Options{
		Config:    cfg,
		Logger:    log,
		Store:     st,
		Hooks:     hooks.NewRegistry(),
		Metrics:   metrics.New(),
		Responses: responses,
	}, s)
	if err != nil {
		return err
	}

	if cfg.Schema.Watch {
		go func() {
			if err := srv.WatchSchema(ctx); err != nil {
				log.Error().Err(err).Msg("schema watcher stopped")
			}
		}()
	}

	return srv.Run(ctx)
}
