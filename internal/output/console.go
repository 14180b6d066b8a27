package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/emmett/voxcmd/internal/command"
)

// ConsoleOutput prints commands and status lines for interactive use
type ConsoleOutput struct {
	mu            sync.Mutex
	writer        io.Writer
	errWriter     io.Writer
	showTimestamp bool
	showMetadata  bool
	count         int
}

// ConsoleConfig configures console output behavior
type ConsoleConfig struct {
	// ShowTimestamp prefixes each line with a timestamp
	ShowTimestamp bool

	// ShowMetadata displays confidence and the matched command
	ShowMetadata bool

	// Writer is the output destination (default: os.Stdout)
	Writer io.Writer

	// ErrWriter receives error lines (default: os.Stderr)
	ErrWriter io.Writer
}

// NewConsoleOutput creates a new console output handler
func NewConsoleOutput(config ConsoleConfig) *ConsoleOutput {
	writer := config.Writer
	if writer == nil {
		writer = os.Stdout
	}
	errWriter := config.ErrWriter
	if errWriter == nil {
		errWriter = os.Stderr
	}

	return &ConsoleOutput{
		writer:        writer,
		errWriter:     errWriter,
		showTimestamp: config.ShowTimestamp,
		showMetadata:  config.ShowMetadata,
	}
}

// DefaultConsoleOutput creates a console output with default settings
func DefaultConsoleOutput() *ConsoleOutput {
	return NewConsoleOutput(ConsoleConfig{
		ShowTimestamp: true,
		ShowMetadata:  true,
	})
}

// WriteCommand prints a recognized command. ok reports whether typ is a
// trigger match.
func (c *ConsoleOutput) WriteCommand(cmd command.VoiceCommand, typ command.Type, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.count++
	var b strings.Builder
	if c.showTimestamp {
		fmt.Fprintf(&b, "[%s] ", cmd.Time().Format("15:04:05"))
	}
	fmt.Fprintf(&b, "[%d] %q", c.count, cmd.Text)
	if c.showMetadata {
		fmt.Fprintf(&b, " (confidence: %.2f)", cmd.Confidence)
		if ok {
			fmt.Fprintf(&b, " -> %s", typ)
		} else {
			b.WriteString(" -> no match")
		}
	}
	fmt.Fprintln(c.writer, b.String())
}

// Write writes a plain line
func (c *ConsoleOutput) Write(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.showTimestamp {
		fmt.Fprintf(c.writer, "[%s] %s\n", time.Now().Format("15:04:05"), text)
		return
	}
	fmt.Fprintln(c.writer, text)
}

// Info writes an informational message
func (c *ConsoleOutput) Info(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.writer, "[INFO] %s\n", msg)
}

// Error writes an error message to the error writer
func (c *ConsoleOutput) Error(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.errWriter, "[ERROR] %s\n", msg)
}

// Status writes a status message
func (c *ConsoleOutput) Status(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.writer, "[*] %s\n", msg)
}
