// Package command defines recognized voice commands and the trigger table
// that maps transcribed text to command types.
package command

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type identifies a command the surrounding application can act on
type Type string

const (
	Greeting      Type = "greeting"
	StartWorkflow Type = "start_workflow"
	StopWorkflow  Type = "stop_workflow"
	StatusCheck   Type = "status_check"
	ShowHelp      Type = "show_help"
)

// VoiceCommand is the result of one finalized recording
type VoiceCommand struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"timestamp"` // seconds since the Unix epoch
}

// NewVoiceCommand stamps a transcription with a fresh ID and the current time
func NewVoiceCommand(text string, confidence float64) VoiceCommand {
	return VoiceCommand{
		ID:         uuid.NewString(),
		Text:       strings.TrimSpace(text),
		Confidence: confidence,
		Timestamp:  time.Now().Unix(),
	}
}

// Time returns the timestamp as a time.Time in UTC
func (c VoiceCommand) Time() time.Time {
	return time.Unix(c.Timestamp, 0).UTC()
}

// IsEmpty reports whether no speech was recognized
func (c VoiceCommand) IsEmpty() bool {
	return c.Text == ""
}
