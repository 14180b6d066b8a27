package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/emmett/voxcmd/internal/app"
	"github.com/emmett/voxcmd/internal/config"
	mcpserver "github.com/emmett/voxcmd/internal/server/mcp"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configFile  string
		model       string
		device      string
		showVersion bool
	)

	cmd := &cobra.Command{
		Use:           "vox-mcp",
		Short:         "Serve voice command tools over MCP stdio",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Printf("Vox MCP v%s\n", Version)
				fmt.Printf("  Commit:  %s\n", GitCommit)
				fmt.Printf("  Branch:  %s\n", GitBranch)
				fmt.Printf("  Built:   %s\n", BuildTime)
				return nil
			}

			cfg, err := config.LoadWithFallback(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cmd.Flags().Changed("model") {
				cfg.Model.Path = model
			}
			if cmd.Flags().Changed("device") {
				cfg.Audio.Device = device
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
	flags.StringVarP(&device, "device", "d", "", "Audio input device name")
	flags.BoolVar(&showVersion, "version", false, "Show version information")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	// stdout carries the protocol
	logger := cfg.Logger(os.Stderr)

	opts := []app.HandlerOption{app.WithHandlerLogger(logger)}
	cmdLog, err := cfg.OpenCommandLog()
	if err != nil {
		return err
	}
	if cmdLog != nil {
		opts = append(opts, app.WithCommandLog(cmdLog))
	}

	h := app.NewHandler(cfg.HandlerConfig(), opts...)
	defer h.Close(context.WithoutCancel(ctx))

	// Without a model the recording tools report the engine as not
	// initialized; classification and listing still work.
	if cfg.Model.Path != "" {
		path, err := h.Initialize(cfg.Model.Path)
		if err != nil {
			logger.Warn("failed to load model", "error", err)
		} else {
			logger.Info("model loaded", "path", path)
		}
	} else {
		logger.Warn("no model configured")
	}

	srv := mcpserver.NewServer(mcpserver.Config{
		ServerName:    "vox",
		ServerVersion: Version,
	}, h, logger)
	return srv.Run(ctx)
}
