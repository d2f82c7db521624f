package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gonzalop/ftpd/internal/config"
	"github.com/gonzalop/ftpd/internal/logger"
	"github.com/gonzalop/ftpd/internal/metrics"
	"github.com/gonzalop/ftpd/internal/storage"
	"github.com/gonzalop/ftpd/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the FTP server",
	Long: `Start the FTP server in the foreground.

Configuration is read from --config, or $XDG_CONFIG_HOME/ftpd/config.yaml when
present. Every setting can be overridden with FTPD_<SECTION>_<KEY> variables.

Examples:
  # Serve the current directory on :2121
  ftpd serve

  # Serve an in-memory filesystem with debug logging
  FTPD_STORAGE_TYPE=memory FTPD_LOGGING_LEVEL=DEBUG ftpd serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, closer, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closer.Close()

	fs, err := storage.New(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Info("storage ready", "type", cfg.Storage.Type, "read_only", cfg.Storage.ReadOnly)

	opts := serverOptions(cfg, log, server.NewAferoDriver(fs))

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, server.WithMetricsCollector(metrics.NewCollector(reg)))
		metricsSrv = metrics.NewServer(cfg.Metrics.ListenAddr, reg, log)
	}

	srv, err := server.NewServer(cfg.Server.ListenAddr, opts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// KILL closes the server; take the rest of the process down with it.
		defer stop()
		if err := srv.ListenAndServe(); !errors.Is(err, server.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", "timeout", cfg.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("forced shutdown", "error", err)
		}
		return nil
	})

	if metricsSrv != nil {
		g.Go(func() error {
			return metricsSrv.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// serverOptions maps the configuration onto server options.
func serverOptions(cfg *config.Config, log *slog.Logger, driver server.Driver) []server.Option {
	sc := cfg.Server
	return []server.Option{
		server.WithDriver(driver),
		server.WithLogger(log),
		server.WithMaxIdleTime(sc.Timeouts.Idle),
		server.WithAcceptTimeout(sc.Timeouts.Accept),
		server.WithDialTimeout(sc.Timeouts.Dial),
		server.WithDataTimeout(sc.Timeouts.Data),
		server.WithMaxConnections(sc.MaxConnections, sc.MaxConnectionsPerIP),
		server.WithMaxCommandLength(sc.MaxCommandLength),
		server.WithCommandBatching(sc.CommandBatching),
		server.WithKillCommand(sc.EnableKill),
		server.WithPublicHost(sc.Passive.PublicHost),
		server.WithPassivePortRange(sc.Passive.PortMin, sc.Passive.PortMax),
		server.WithBandwidthLimit(sc.Bandwidth.Global, sc.Bandwidth.PerSession),
		server.WithRedactIPs(sc.RedactIPs),
	}
}
