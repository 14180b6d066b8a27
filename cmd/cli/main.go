package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/emmett/voxcmd/internal/app"
	"github.com/emmett/voxcmd/internal/config"
	"github.com/emmett/voxcmd/internal/output"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

// options shared by every subcommand, resolved in PersistentPreRunE
type options struct {
	configFile string
	model      string
	device     string
	logLevel   string
	server     string

	cfg     *config.Config
	logger  *slog.Logger
	console *output.ConsoleOutput
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "vox",
		Short:         "Offline voice command capture and transcription",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "Path to configuration file (default: ~/.voxrc or /etc/vox/config.yaml)")
	flags.StringVarP(&opts.model, "model", "m", "", "Model path or name in the models directory")
	flags.StringVarP(&opts.device, "device", "d", "", "Audio input device name (see 'vox devices')")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&opts.server, "server", "", "VoiceControl server address for 'ctl' (default: server.grpc_addr)")

	root.AddCommand(
		newDevicesCommand(opts),
		newModelsCommand(opts),
		newRecordCommand(opts),
		newListenCommand(opts),
		newClassifyCommand(opts),
		newTranscribeCommand(opts),
		newCtlCommand(opts),
		newVersionCommand(),
	)
	return root
}

// load reads the configuration and applies flag overrides
func (o *options) load(cmd *cobra.Command) error {
	cfg, err := config.LoadWithFallback(o.configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.Model.Path = o.model
	}
	if flags.Changed("device") {
		cfg.Audio.Device = o.device
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("server") {
		cfg.Server.GRPCAddr = o.server
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	o.cfg = cfg
	o.logger = cfg.Logger(os.Stderr)
	slog.SetDefault(o.logger)
	o.console = output.NewConsoleOutput(output.ConsoleConfig{
		ShowTimestamp: true,
		ShowMetadata:  true,
		Writer:        cmd.OutOrStdout(),
		ErrWriter:     cmd.ErrOrStderr(),
	})
	return nil
}

// newHandler builds the engine handler. When withModel is set the
// configured model is loaded first.
func (o *options) newHandler(withModel bool, extra ...app.HandlerOption) (*app.Handler, error) {
	handlerOpts := []app.HandlerOption{app.WithHandlerLogger(o.logger)}

	cmdLog, err := o.cfg.OpenCommandLog()
	if err != nil {
		return nil, err
	}
	if cmdLog != nil {
		handlerOpts = append(handlerOpts, app.WithCommandLog(cmdLog))
	}

	h := app.NewHandler(o.cfg.HandlerConfig(), append(handlerOpts, extra...)...)
	if !withModel {
		return h, nil
	}

	if o.cfg.Model.Path == "" {
		_ = h.Close(context.Background())
		return nil, fmt.Errorf("no model configured: pass --model or set model.path (see 'vox models')")
	}
	path, err := h.Initialize(o.cfg.Model.Path)
	if err != nil {
		_ = h.Close(context.Background())
		return nil, err
	}
	o.logger.Info("model loaded", "path", path)
	return h, nil
}
