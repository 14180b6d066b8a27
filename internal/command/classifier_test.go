package command

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyDefaultTable(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil)
	tests := []struct {
		text   string
		want   Type
		wantOK bool
	}{
		{text: "hello there", want: Greeting, wantOK: true},
		{text: "please start now", want: StartWorkflow, wantOK: true},
		{text: "BEGIN the run", want: StartWorkflow, wantOK: true},
		{text: "stop it", want: StopWorkflow, wantOK: true},
		{text: "give me a status report", want: StatusCheck, wantOK: true},
		{text: "help", want: ShowHelp, wantOK: true},
		{text: "random noise", wantOK: false},
		{text: "", wantOK: false},
		{text: "   ", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := c.Classify(tt.text)
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyFirstTriggerInTableOrderWins(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil)

	// "start" and "stop" both occur; start_workflow comes first in the table.
	got, ok := c.Classify("stop and start again")
	require.True(t, ok)
	require.Equal(t, StartWorkflow, got)
}

func TestClassifyCustomTable(t *testing.T) {
	t.Parallel()

	c := NewClassifier([]Trigger{
		{Phrase: "  Lights On ", Type: "lights_on"},
		{Phrase: "", Type: "ignored"},
	})
	require.Len(t, c.Triggers(), 1)

	got, ok := c.Classify("turn the lights on please")
	require.True(t, ok)
	require.Equal(t, Type("lights_on"), got)

	_, ok = c.Classify("hello")
	require.False(t, ok)
}

func TestNewVoiceCommand(t *testing.T) {
	t.Parallel()

	cmd := NewVoiceCommand("  hello  ", 0.5)
	require.Equal(t, "hello", cmd.Text)
	require.NotEmpty(t, cmd.ID)
	require.NotZero(t, cmd.Timestamp)
	require.False(t, cmd.IsEmpty())
	require.True(t, NewVoiceCommand("", 0).IsEmpty())
}
