package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/emmett/voxcmd/internal/command"
)

// Command log formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Formatter renders a recognized command as one log record
type Formatter interface {
	// Format writes cmd to w, including the trailing newline
	Format(w io.Writer, cmd command.VoiceCommand) error
}

// NewFormatter returns the formatter for format ("" means text)
func NewFormatter(format string) (Formatter, error) {
	switch format {
	case "", FormatText:
		return PlainTextFormatter{}, nil
	case FormatJSON:
		return JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown command log format %q", format)
	}
}

// PlainTextFormatter writes "[2006-01-02 15:04:05 UTC] text (confidence: 0.87)"
type PlainTextFormatter struct{}

// Format writes a plain text record
func (PlainTextFormatter) Format(w io.Writer, cmd command.VoiceCommand) error {
	ts := cmd.Time().UTC().Format("2006-01-02 15:04:05 UTC")
	_, err := fmt.Fprintf(w, "[%s] %s (confidence: %.2f)\n", ts, cmd.Text, cmd.Confidence)
	return err
}

// JSONFormatter writes one compact JSON object per line
type JSONFormatter struct{}

// Format writes a JSON record
func (JSONFormatter) Format(w io.Writer, cmd command.VoiceCommand) error {
	return json.NewEncoder(w).Encode(cmd)
}

// CommandLog appends recognized commands to a writer. It is safe for
// concurrent use.
type CommandLog struct {
	mu        sync.Mutex
	writer    io.Writer
	closer    io.Closer
	formatter Formatter
}

// NewCommandLog creates a command log writing to w
func NewCommandLog(w io.Writer, format string) (*CommandLog, error) {
	f, err := NewFormatter(format)
	if err != nil {
		return nil, err
	}
	return &CommandLog{writer: w, formatter: f}, nil
}

// OpenCommandLog opens path for appending, creating it and its directory
// if needed.
func OpenCommandLog(path, format string) (*CommandLog, error) {
	f, err := NewFormatter(format)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create command log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open command log: %w", err)
	}
	return &CommandLog{writer: file, closer: file, formatter: f}, nil
}

// Log appends cmd. Commands without a timestamp are stamped now.
func (l *CommandLog) Log(cmd command.VoiceCommand) error {
	if cmd.Timestamp == 0 {
		cmd.Timestamp = time.Now().Unix()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer == nil {
		return fmt.Errorf("command log is closed")
	}
	return l.formatter.Format(l.writer, cmd)
}

// Close closes the underlying file, if the log opened one
func (l *CommandLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.writer = nil
	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	return err
}
