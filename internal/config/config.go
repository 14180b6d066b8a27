package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emmett/voxcmd/internal/app"
	"github.com/emmett/voxcmd/internal/audio"
	"github.com/emmett/voxcmd/internal/command"
	"github.com/emmett/voxcmd/internal/output"
	"github.com/emmett/voxcmd/internal/stt"
)

// Config represents the application configuration
type Config struct {
	// Model settings
	Model struct {
		Path     string `yaml:"path"`
		Dir      string `yaml:"dir"`
		Language string `yaml:"language"`
		Threads  int    `yaml:"threads"`
	} `yaml:"model"`

	// Audio settings
	Audio struct {
		Device      string `yaml:"device"`
		FrameMs     int    `yaml:"frame_ms"`
		QueueFrames int    `yaml:"queue_frames"`
	} `yaml:"audio"`

	// VAD settings
	VAD struct {
		Threshold    float64       `yaml:"threshold"`
		SpeechFrames int           `yaml:"speech_frames"`
		Silence      time.Duration `yaml:"silence"`
		MaxDuration  time.Duration `yaml:"max_duration"`
		MaxWait      time.Duration `yaml:"max_wait"`
	} `yaml:"vad"`

	// Background listening settings
	Listener struct {
		RetryBudget int           `yaml:"retry_budget"`
		RetryDelay  time.Duration `yaml:"retry_delay"`
	} `yaml:"listener"`

	// Command trigger table. Empty uses the built-in table.
	Commands struct {
		Triggers []command.Trigger `yaml:"triggers,omitempty"`
	} `yaml:"commands"`

	// Log settings
	Log struct {
		Level          string `yaml:"level"`
		CommandsFile   string `yaml:"commands_file"`
		CommandsFormat string `yaml:"commands_format"`
	} `yaml:"log"`

	// Recording settings
	Recording struct {
		DumpDir   string        `yaml:"dump_dir"`
		MaxManual time.Duration `yaml:"max_manual"`
	} `yaml:"recording"`

	// Hotkey toggles push-to-talk recording, e.g. "ctrl+shift+space"
	Hotkey string `yaml:"hotkey"`

	// Server settings
	Server struct {
		GRPCAddr    string `yaml:"grpc_addr"`
		MetricsAddr string `yaml:"metrics_addr"`
		AutoListen  bool   `yaml:"auto_listen"`
	} `yaml:"server"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Model defaults
	cfg.Model.Dir = "models"
	cfg.Model.Language = "en"

	// Audio defaults
	cfg.Audio.FrameMs = 30
	cfg.Audio.QueueFrames = 200

	// VAD defaults
	cfg.VAD.Threshold = 0.02
	cfg.VAD.SpeechFrames = 3
	cfg.VAD.Silence = 1500 * time.Millisecond
	cfg.VAD.MaxDuration = 10 * time.Second
	cfg.VAD.MaxWait = 5 * time.Second

	// Listener defaults
	cfg.Listener.RetryBudget = 3
	cfg.Listener.RetryDelay = time.Second

	// Log defaults
	cfg.Log.Level = "info"
	cfg.Log.CommandsFormat = output.FormatText

	// Recording defaults
	cfg.Recording.MaxManual = 60 * time.Second

	cfg.Hotkey = "ctrl+shift+space"

	// Server defaults
	cfg.Server.GRPCAddr = "localhost:50051"

	return cfg
}

// Load loads configuration from file. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithFallback attempts to load configuration from multiple locations
// Priority: explicit path > ~/.voxrc > /etc/vox/config.yaml
func LoadWithFallback(explicitPath string) (*Config, error) {
	// If explicit path is provided, use it
	if explicitPath != "" {
		return Load(explicitPath)
	}

	// Try user config (~/.voxrc)
	homeDir, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(homeDir, ".voxrc")
		if _, err := os.Stat(userConfigPath); err == nil {
			return Load(userConfigPath)
		}
	}

	// Try system config (/etc/vox/config.yaml)
	systemConfigPath := "/etc/vox/config.yaml"
	if _, err := os.Stat(systemConfigPath); err == nil {
		return Load(systemConfigPath)
	}

	// No config file found, return defaults
	return DefaultConfig(), nil
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error

	if c.Model.Threads < 0 {
		errs = append(errs, fmt.Errorf("model.threads must not be negative"))
	}
	if c.Audio.FrameMs <= 0 || c.Audio.FrameMs > 1000 {
		errs = append(errs, fmt.Errorf("audio.frame_ms must be in (0, 1000], got %d", c.Audio.FrameMs))
	}
	if c.Audio.QueueFrames <= 0 {
		errs = append(errs, fmt.Errorf("audio.queue_frames must be positive"))
	}
	if c.VAD.Threshold <= 0 || c.VAD.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("vad.threshold must be in (0, 1), got %g", c.VAD.Threshold))
	}
	if c.VAD.SpeechFrames <= 0 {
		errs = append(errs, fmt.Errorf("vad.speech_frames must be positive"))
	}
	if c.VAD.Silence <= 0 {
		errs = append(errs, fmt.Errorf("vad.silence must be positive"))
	}
	if c.VAD.MaxDuration <= 0 {
		errs = append(errs, fmt.Errorf("vad.max_duration must be positive"))
	}
	if c.VAD.MaxWait < 0 {
		errs = append(errs, fmt.Errorf("vad.max_wait must not be negative"))
	}
	if c.Listener.RetryBudget < 0 {
		errs = append(errs, fmt.Errorf("listener.retry_budget must not be negative"))
	}
	if c.Listener.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("listener.retry_delay must not be negative"))
	}
	for i, t := range c.Commands.Triggers {
		if strings.TrimSpace(t.Phrase) == "" || t.Type == "" {
			errs = append(errs, fmt.Errorf("commands.triggers[%d] needs both phrase and command", i))
		}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if _, err := output.NewFormatter(c.Log.CommandsFormat); err != nil {
		errs = append(errs, fmt.Errorf("log.commands_format: %w", err))
	}
	if c.Recording.MaxManual <= 0 {
		errs = append(errs, fmt.Errorf("recording.max_manual must be positive"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LogLevel returns the configured slog level
func (c *Config) LogLevel() slog.Level {
	l, _ := parseLevel(c.Log.Level)
	return l
}

// Logger builds the process logger writing text records to w
func (c *Config) Logger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.LogLevel()}))
}

// OpenCommandLog opens log.commands_file for appending. It returns nil when
// no file is configured.
func (c *Config) OpenCommandLog() (*output.CommandLog, error) {
	if c.Log.CommandsFile == "" {
		return nil, nil
	}
	return output.OpenCommandLog(c.Log.CommandsFile, c.Log.CommandsFormat)
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: unknown level %q", s)
	}
	return l, nil
}

func (c *Config) frameDuration() time.Duration {
	return time.Duration(c.Audio.FrameMs) * time.Millisecond
}

// framesFor converts d to a whole number of frames, rounding up
func (c *Config) framesFor(d time.Duration) int {
	fd := c.frameDuration()
	if d <= 0 || fd <= 0 {
		return 0
	}
	return int((d + fd - 1) / fd)
}

// CaptureConfig returns the capture settings
func (c *Config) CaptureConfig() audio.CaptureConfig {
	return audio.CaptureConfig{
		DeviceName:   c.Audio.Device,
		FrameSamples: audio.TargetSampleRate * c.Audio.FrameMs / 1000,
		QueueFrames:  c.Audio.QueueFrames,
	}
}

// VADConfig returns the detector settings with durations converted to frames.
// MaxWaitFrames is left 0; the wait is applied per recording.
func (c *Config) VADConfig() audio.VADConfig {
	return audio.VADConfig{
		EnergyThreshold: c.VAD.Threshold,
		SpeechFrames:    c.VAD.SpeechFrames,
		SilenceFrames:   c.framesFor(c.VAD.Silence),
		MaxSpeechFrames: c.framesFor(c.VAD.MaxDuration),
	}
}

// ModelConfig returns the backend settings
func (c *Config) ModelConfig() stt.ModelConfig {
	mc := stt.DefaultModelConfig()
	mc.Language = c.Model.Language
	mc.Threads = c.Model.Threads
	return mc
}

// SessionConfig returns the recording session settings
func (c *Config) SessionConfig() app.SessionConfig {
	return app.SessionConfig{
		Capture:     c.CaptureConfig(),
		VAD:         c.VADConfig(),
		MaxManual:   c.Recording.MaxManual,
		OneShotWait: c.VAD.MaxWait,
		DumpDir:     c.Recording.DumpDir,
	}
}

// ListenerConfig returns the background listening settings
func (c *Config) ListenerConfig() app.ListenerConfig {
	return app.ListenerConfig{
		RetryBudget: c.Listener.RetryBudget,
		RetryDelay:  c.Listener.RetryDelay,
	}
}

// HandlerConfig assembles everything the app handler needs
func (c *Config) HandlerConfig() app.HandlerConfig {
	return app.HandlerConfig{
		Session:     c.SessionConfig(),
		Listener:    c.ListenerConfig(),
		Triggers:    c.Commands.Triggers,
		ModelsDir:   c.Model.Dir,
		ModelConfig: c.ModelConfig(),
		Device:      c.Audio.Device,
	}
}
