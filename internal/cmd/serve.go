package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/srcindex/internal/config"
	"github.com/3leaps/srcindex/internal/daemon"
	"github.com/3leaps/srcindex/internal/observability"
	"github.com/3leaps/srcindex/internal/server"
	"github.com/3leaps/srcindex/internal/server/handlers"
	"github.com/3leaps/srcindex/pkg/output"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the indexing daemon",
	Long: `Run the indexing daemon in the foreground.

The daemon schedules index jobs onto a bounded pool of worker processes and
keeps per-project results in the index store. Unless server.enabled is false
it also serves health probes and the /v1 job API over HTTP.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("port", 0, "HTTP port override")
	serveCmd.Flags().String("host", "", "HTTP host override")
	serveCmd.Flags().Bool("no-http", false, "Do not start the HTTP server")
	serveCmd.Flags().String("events", "", "Append job events as JSONL to this file")
}

// pingHealthChecker verifies the event loop is still draining tasks.
type pingHealthChecker struct {
	ping func(ctx context.Context) error
}

func (c pingHealthChecker) CheckHealth(ctx context.Context) error {
	if c.ping == nil {
		return errors.New("event loop not running")
	}
	if err := c.ping(ctx); err != nil {
		return fmt.Errorf("event loop: %w", err)
	}
	return nil
}

// storeHealthChecker pings the index store.
type storeHealthChecker struct {
	db *sql.DB
}

func (c storeHealthChecker) CheckHealth(ctx context.Context) error {
	if c.db == nil {
		return errors.New("index store not open")
	}
	return c.db.PingContext(ctx)
}

// identityHealthChecker guards against a build with broken identity
// constants.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("missing binary name")
	case c.envPrefix == "":
		return errors.New("missing env prefix")
	case c.configName == "":
		return errors.New("missing config name")
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)

	logger, err := observability.NewLogger(observability.LogOptions{
		Service: "srcindex",
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: true,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Daemon.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	opts := daemon.OptionsFromConfig(cfg)
	if eventsPath, _ := cmd.Flags().GetString("events"); eventsPath != "" {
		f, err := os.OpenFile(eventsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open events file: %w", err)
		}
		defer func() { _ = f.Close() }()
		events := output.NewJSONLWriter(f, uuid.NewString())
		defer func() { _ = events.Close() }()
		opts.Recorders = append(opts.Recorders, output.NewEventRecorder(events, logger.Named("events")))
	}

	d, err := daemon.New(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Warn("close daemon", zap.Error(err))
		}
	}()

	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("event_loop", pingHealthChecker{ping: d.Ping})
	health.RegisterChecker("index_store", storeHealthChecker{db: d.DB()})
	health.RegisterChecker("identity", identityHealthChecker{
		binaryName: rootCmd.Name(),
		envPrefix:  config.EnvPrefix,
		configName: config.ConfigName,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.Run(gctx)
	})

	if cfg.Server.Enabled {
		srv := server.New(cfg.Server.Host, cfg.Server.Port,
			server.WithJobs(d),
			server.WithLogger(logger.Named("http")),
			server.WithVersion(currentVersion()),
			server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout))

		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("srcindex serving",
		zap.String("version", versionInfo.Version),
		zap.String("data_dir", cfg.Daemon.DataDir),
		zap.Bool("http", cfg.Server.Enabled))

	err = g.Wait()
	logger.Info("srcindex stopped")
	return err
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if noHTTP, _ := cmd.Flags().GetBool("no-http"); noHTTP {
		cfg.Server.Enabled = false
	}
}
