package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/fluxd/internal/api"
	"github.com/seantiz/fluxd/internal/assets"
	"github.com/seantiz/fluxd/internal/config"
	"github.com/seantiz/fluxd/internal/dispatch"
	"github.com/seantiz/fluxd/internal/engine"
	"github.com/seantiz/fluxd/internal/engineapi"
	"github.com/seantiz/fluxd/internal/generation"
	"github.com/seantiz/fluxd/internal/outputs"
	"github.com/seantiz/fluxd/internal/store"
	"github.com/seantiz/fluxd/internal/workflow"
)

const (
	readyPollInterval = time.Second
	stopTimeout       = 30 * time.Second
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the engine and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(runCtx, cfg, ctx.logger())
		},
	}
}

// serve wires every component, starts the engine and blocks until ctx ends.
func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("fluxd: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"engine_dir", cfg.Engine.Dir,
		"engine_url", cfg.Engine.URL,
		"config", cfg.Source,
	)

	variants := workflow.DefaultRegistry()
	templates := workflow.NewStore(templateFS(cfg), logger)
	if err := templates.Preload(variants.Variants()...); err != nil {
		return fmt.Errorf("load workflow templates: %w", err)
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	errs := engine.NewErrorQueue(cfg.Engine.ErrorQueueSize)
	broker := engine.NewLogBroker(cfg.Engine.LogHistory)
	classifier := engine.NewClassifier(errs, broker, logger)
	supervisor := engine.NewSupervisor(engine.Config{
		Dir:         cfg.Engine.Dir,
		Interpreter: cfg.Engine.Interpreter,
		Entry:       cfg.Engine.Entry,
		Args:        cfg.Engine.Args,
		LockPath:    cfg.Engine.LockFile,
		GracePeriod: time.Duration(cfg.Engine.GracePeriod),
	}, classifier, broker, logger)

	if err := supervisor.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		if err := supervisor.Stop(stopCtx); err != nil {
			logger.Error("stop engine", "error", err)
		}
	}()

	client := engineapi.New(cfg.Engine.URL, engineapi.WithLogger(logger))
	go waitReady(ctx, client, supervisor, logger)

	dispatcher := dispatch.New(client, errs, dispatch.Options{
		Window:    time.Duration(cfg.Dispatch.Window),
		Serialize: cfg.Dispatch.Serialize,
	}, logger)

	models := assets.NewManager(assets.Options{
		ModelDir: cfg.Paths.Models,
		Token:    cfg.HuggingFaceToken,
	}, assets.DefaultCatalog(), logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		if err := models.Shutdown(shutdownCtx); err != nil {
			logger.Error("stop model downloads", "error", err)
		}
	}()

	for _, v := range variants.List() {
		if missing := models.Missing(v.RequiredModels); len(missing) > 0 {
			logger.Warn("variant is missing model weights", "variant", v.Name, "missing", missing)
		}
	}

	srv := api.NewServer(cfg.ListenAddr, api.Deps{
		Store:       db,
		Generations: generation.NewService(variants, workflow.NewProjector(templates), dispatcher, db, logger),
		Variants:    variants,
		Engine:      supervisor,
		Client:      client,
		Logs:        broker,
		Outputs:     outputs.NewDir(cfg.Paths.Outputs, logger),
		Assets:      models,
	}, logger)

	return srv.Run(ctx)
}

func templateFS(cfg config.Config) fs.FS {
	if cfg.Paths.Workflows != "" {
		return os.DirFS(cfg.Paths.Workflows)
	}
	return workflow.EmbeddedTemplates()
}

// waitReady polls the engine until it answers, the process exits, or ctx
// ends, and logs which happened first.
func waitReady(ctx context.Context, client *engineapi.Client, sup *engine.Supervisor, logger *slog.Logger) {
	start := time.Now()
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sup.Done():
			err := sup.ExitErr()
			if err == nil {
				err = errors.New("exited cleanly")
			}
			logger.Error("engine exited before becoming ready", "error", err)
			return
		case <-ticker.C:
			if err := client.Ping(ctx); err != nil {
				logger.Debug("engine not ready", "error", err)
				continue
			}
			logger.Info("engine ready", "url", client.BaseURL(), "after", time.Since(start).Round(time.Millisecond))
			return
		}
	}
}
