package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/emmett/voxcmd/internal/app"
	"github.com/emmett/voxcmd/internal/command"
	"github.com/emmett/voxcmd/internal/config"
	"github.com/emmett/voxcmd/internal/observe"
	grpcserver "github.com/emmett/voxcmd/internal/server/grpc"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configFile  string
		model       string
		grpcAddr    string
		metricsAddr string
		autoListen  bool
		showVersion bool
	)

	cmd := &cobra.Command{
		Use:           "vox-server",
		Short:         "Serve the VoiceControl gRPC API",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Printf("Vox gRPC Server v%s\n", Version)
				fmt.Printf("  Commit:  %s\n", GitCommit)
				fmt.Printf("  Branch:  %s\n", GitBranch)
				fmt.Printf("  Built:   %s\n", BuildTime)
				return nil
			}

			cfg, err := config.LoadWithFallback(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			flags := cmd.Flags()
			if flags.Changed("model") {
				cfg.Model.Path = model
			}
			if flags.Changed("grpc-addr") {
				cfg.Server.GRPCAddr = grpcAddr
			}
			if flags.Changed("metrics-addr") {
				cfg.Server.MetricsAddr = metricsAddr
			}
			if flags.Changed("listen") {
				cfg.Server.AutoListen = autoListen
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "Path to configuration file (default: ~/.voxrc or /etc/vox/config.yaml)")
	flags.StringVarP(&model, "model", "m", "", "Model path or name in the models directory")
	flags.StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address (default: server.grpc_addr)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9464")
	flags.BoolVar(&autoListen, "listen", false, "Start background listening on startup")
	flags.BoolVar(&showVersion, "version", false, "Show version information")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)
	logger.Info("vox server starting", "version", Version, "commit", GitCommit)

	// The provider must be installed before the handler binds its metrics.
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "vox-server",
		ServiceVersion: Version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	handlerOpts := []app.HandlerOption{
		app.WithHandlerLogger(logger),
		app.OnCommand(func(vc command.VoiceCommand, typ command.Type, ok bool) {
			logger.Info("voice command", "text", vc.Text, "command", typ, "matched", ok)
		}),
		app.OnListenerError(func(err error) {
			logger.Error("background listening stopped", "error", err)
		}),
	}
	cmdLog, err := cfg.OpenCommandLog()
	if err != nil {
		return err
	}
	if cmdLog != nil {
		handlerOpts = append(handlerOpts, app.WithCommandLog(cmdLog))
	}

	h := app.NewHandler(cfg.HandlerConfig(), handlerOpts...)
	if cfg.Model.Path == "" {
		_ = h.Close(ctx)
		return errors.New("no model configured: pass --model or set model.path")
	}
	path, err := h.Initialize(cfg.Model.Path)
	if err != nil {
		_ = h.Close(ctx)
		return err
	}
	logger.Info("model loaded", "path", path)

	srv := grpcserver.NewServer(h, logger)

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observe.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.ListenAndServe(cfg.Server.GRPCAddr)
	})

	if metricsSrv != nil {
		g.Go(func() error {
			logger.Info("metrics endpoint listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	if cfg.Server.AutoListen {
		if err := h.StartBackgroundListening(gctx); err != nil {
			logger.Error("failed to start background listening", "error", err)
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		srv.Stop(sctx)
		var errs []error
		if metricsSrv != nil {
			errs = append(errs, metricsSrv.Shutdown(sctx))
		}
		errs = append(errs, h.Close(sctx), shutdownMetrics(sctx))
		return errors.Join(errs...)
	})

	return g.Wait()
}
