package command

import "strings"

// Trigger maps a phrase to a command type
type Trigger struct {
	Phrase string `yaml:"phrase" json:"phrase"`
	Type   Type   `yaml:"command" json:"command"`
}

// DefaultTriggers is the built-in trigger table. Order matters: the first
// phrase found in the text wins.
var DefaultTriggers = []Trigger{
	{Phrase: "hello", Type: Greeting},
	{Phrase: "hi", Type: Greeting},
	{Phrase: "start", Type: StartWorkflow},
	{Phrase: "begin", Type: StartWorkflow},
	{Phrase: "stop", Type: StopWorkflow},
	{Phrase: "end", Type: StopWorkflow},
	{Phrase: "status", Type: StatusCheck},
	{Phrase: "report", Type: StatusCheck},
	{Phrase: "help", Type: ShowHelp},
}

// Classifier maps text to a command type through an ordered trigger table.
// It is immutable and safe for concurrent use.
type Classifier struct {
	triggers []Trigger
}

// NewClassifier creates a classifier over triggers. An empty table falls back
// to DefaultTriggers.
func NewClassifier(triggers []Trigger) *Classifier {
	if len(triggers) == 0 {
		triggers = DefaultTriggers
	}
	table := make([]Trigger, 0, len(triggers))
	for _, t := range triggers {
		phrase := strings.ToLower(strings.TrimSpace(t.Phrase))
		if phrase == "" {
			continue
		}
		table = append(table, Trigger{Phrase: phrase, Type: t.Type})
	}
	return &Classifier{triggers: table}
}

// Classify returns the command type of the first trigger phrase contained
// in text, case-insensitively. ok is false when nothing matches.
func (c *Classifier) Classify(text string) (Type, bool) {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return "", false
	}
	for _, t := range c.triggers {
		if strings.Contains(lower, t.Phrase) {
			return t.Type, true
		}
	}
	return "", false
}

// Triggers returns a copy of the table in match order
func (c *Classifier) Triggers() []Trigger {
	out := make([]Trigger, len(c.triggers))
	copy(out, c.triggers)
	return out
}
