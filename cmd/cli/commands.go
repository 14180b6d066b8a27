package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/emmett/voxcmd/internal/app"
	"github.com/emmett/voxcmd/internal/audio"
	"github.com/emmett/voxcmd/internal/command"
	"github.com/emmett/voxcmd/internal/input"
	"github.com/emmett/voxcmd/internal/models"
	grpcserver "github.com/emmett/voxcmd/internal/server/grpc"
)

func newDevicesCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := opts.newHandler(false)
			if err != nil {
				return err
			}
			defer h.Close(cmd.Context())

			devices := h.ListDevices()
			if len(devices) == 0 {
				opts.console.Info("No audio input devices found")
				return nil
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Available audio input devices (%d):\n", len(devices))
			for _, d := range devices {
				fmt.Fprintf(w, "  %s\n", d)
			}
			return nil
		},
	}
}

func newModelsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List speech models in the models directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := models.List(opts.cfg.Model.Dir)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				opts.console.Info(fmt.Sprintf("No models found in %s", opts.cfg.Model.Dir))
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tBACKEND\tSIZE\tPATH")
			for _, m := range list {
				fmt.Fprintf(tw, "%s\t%s\t%.1f MB\t%s\n", m.Name, m.Backend, float64(m.SizeBytes)/(1<<20), m.Path)
			}
			return tw.Flush()
		},
	}
}

func newRecordCommand(opts *options) *cobra.Command {
	var manual bool

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one voice command and print it",
		Long: "Records one utterance, stopping after a pause. With --manual the " +
			"recording runs until Enter is pressed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, err := opts.newHandler(true)
			if err != nil {
				return err
			}
			defer h.Close(context.WithoutCancel(ctx))

			var vc command.VoiceCommand
			if manual {
				vc, err = recordManual(ctx, opts, h)
			} else {
				opts.console.Status("Listening... speak your command")
				vc, err = h.RecordCommandWithVAD(ctx)
			}
			if err != nil {
				return err
			}
			if vc.IsEmpty() {
				opts.console.Info("No speech detected")
				return nil
			}

			typ, ok := h.ProcessVoiceCommand(vc)
			opts.console.WriteCommand(vc, typ, ok)
			return nil
		},
	}
	cmd.Flags().BoolVar(&manual, "manual", false, "Record until Enter is pressed instead of stopping at a pause")
	return cmd
}

func recordManual(ctx context.Context, opts *options, h *app.Handler) (command.VoiceCommand, error) {
	if err := h.StartRecording(ctx); err != nil {
		return command.VoiceCommand{}, err
	}
	opts.console.Status("Recording... press Enter to stop")

	enter := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
		close(enter)
	}()

	select {
	case <-enter:
		return h.StopRecording(ctx)
	case <-ctx.Done():
		_ = h.CancelRecording(context.WithoutCancel(ctx))
		return command.VoiceCommand{}, ctx.Err()
	}
}

func newListenCommand(opts *options) *cobra.Command {
	var ptt bool

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Listen continuously and print recognized commands",
		Long: "Listens in the background and prints every recognized command until " +
			"interrupted. With --ptt the configured hotkey toggles recording instead.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ptt {
				return runPushToTalk(cmd.Context(), opts)
			}
			return runListen(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&ptt, "ptt", false, "Push-to-talk: toggle recording with the global hotkey")
	return cmd
}

func runListen(ctx context.Context, opts *options) error {
	fatal := make(chan error, 1)
	h, err := opts.newHandler(true,
		app.OnCommand(opts.console.WriteCommand),
		app.OnListenerError(func(err error) { fatal <- err }),
	)
	if err != nil {
		return err
	}
	defer h.Close(context.WithoutCancel(ctx))

	if err := h.StartBackgroundListening(ctx); err != nil {
		return err
	}
	opts.console.Status("Listening for voice commands (Ctrl+C to stop)")

	select {
	case <-ctx.Done():
		opts.console.Info("Stopping...")
		return nil
	case err := <-fatal:
		return fmt.Errorf("listening stopped: %w", err)
	}
}

func runPushToTalk(ctx context.Context, opts *options) error {
	h, err := opts.newHandler(true)
	if err != nil {
		return err
	}
	defer h.Close(context.WithoutCancel(ctx))

	toggles := make(chan bool, 1)
	hk := input.NewHotkeyManager(func(recording bool) {
		select {
		case toggles <- recording:
		case <-ctx.Done():
		}
	})

	ptt := app.NewPushToTalk(h, opts.logger)
	ptt.OnCommand = opts.console.WriteCommand
	ptt.OnRecording = func(recording bool) {
		if recording {
			opts.console.Status("Recording...")
		} else {
			opts.console.Status("Transcribing...")
		}
	}
	ptt.OnError = func(err error) {
		opts.console.Error(err.Error())
		hk.SetRecording(h.Status().IsRecording)
	}

	if err := hk.Start(ctx, opts.cfg.Hotkey); err != nil {
		return fmt.Errorf("failed to start hotkey listener: %w", err)
	}
	defer hk.Stop()

	opts.console.Status(fmt.Sprintf("Press %s to start and stop recording (Ctrl+C to quit)", opts.cfg.Hotkey))
	return ptt.Run(ctx, toggles)
}

func newClassifyCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text>...",
		Short: "Show which command a phrase maps to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := opts.newHandler(false)
			if err != nil {
				return err
			}
			defer h.Close(cmd.Context())

			text := strings.Join(args, " ")
			typ, ok := h.Classify(text)
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%q -> no match\n", text)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%q -> %s\n", text, typ)
			return nil
		},
	}
}

func newTranscribeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <file.wav>",
		Short: "Transcribe a WAV file and classify the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			samples, rate, err := audio.ReadWAV(args[0])
			if err != nil {
				return err
			}
			if rate != audio.TargetSampleRate {
				samples = audio.NewResampler(rate, audio.TargetSampleRate).Process(samples)
			}

			h, err := opts.newHandler(true)
			if err != nil {
				return err
			}
			defer h.Close(cmd.Context())

			vc, err := h.Transcribe(cmd.Context(), samples)
			if err != nil {
				return err
			}
			if vc.IsEmpty() {
				opts.console.Info("No speech detected")
				return nil
			}
			typ, ok := h.ProcessVoiceCommand(vc)
			opts.console.WriteCommand(vc, typ, ok)
			return nil
		},
	}
}

func newCtlCommand(opts *options) *cobra.Command {
	ctl := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running vox server",
	}

	var timeout time.Duration
	ctl.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "RPC timeout")

	call := func(fn func(ctx context.Context, c *grpcserver.Client) (any, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			c, err := grpcserver.Dial(opts.cfg.Server.GRPCAddr)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			res, err := fn(ctx, c)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show recording and listening state",
		Args:  cobra.NoArgs,
		RunE: call(func(ctx context.Context, c *grpcserver.Client) (any, error) {
			return c.Status(ctx)
		}),
	}

	record := &cobra.Command{
		Use:   "record",
		Short: "Record one command on the server",
		Args:  cobra.NoArgs,
		RunE: call(func(ctx context.Context, c *grpcserver.Client) (any, error) {
			return c.RecordCommand(ctx)
		}),
	}

	devices := &cobra.Command{
		Use:   "devices",
		Short: "List the server's audio input devices",
		Args:  cobra.NoArgs,
		RunE: call(func(ctx context.Context, c *grpcserver.Client) (any, error) {
			return c.ListDevices(ctx)
		}),
	}

	listen := &cobra.Command{
		Use:       "listen start|stop",
		Short:     "Start or stop background listening on the server",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"start", "stop"},
	}
	listen.RunE = func(cmd *cobra.Command, args []string) error {
		return call(func(ctx context.Context, c *grpcserver.Client) (any, error) {
			if args[0] == "start" {
				return c.StartListening(ctx)
			}
			st, err := c.StopListening(ctx)
			if errors.Is(err, app.ErrNotListening) {
				return c.Status(ctx)
			}
			return st, err
		})(cmd, args)
	}

	ctl.AddCommand(status, record, devices, listen)
	return ctl
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		// no config needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Vox CLI v%s\n", Version)
			fmt.Fprintf(w, "  Commit:  %s\n", GitCommit)
			fmt.Fprintf(w, "  Branch:  %s\n", GitBranch)
			fmt.Fprintf(w, "  Built:   %s\n", BuildTime)
		},
	}
}
