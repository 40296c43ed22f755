package talk

import "strings"

// Command is a control phrase recognized inside an utterance.
type Command string

const (
	// CommandNone: the utterance is content, not control.
	CommandNone Command = ""
	// CommandStart turns talk mode on.
	CommandStart Command = "start"
	// CommandStop turns talk mode off.
	CommandStop Command = "stop"
)

// ParseCommand decides whether an utterance is a control phrase. The
// check runs before dispatch to the answer provider, so saying "stop"
// stops the conversation instead of asking the documentation about
// stopping. Matching is exact after normalization; "stop the deploy"
// is content.
func ParseCommand(text string) Command {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, ".!?,;:")
	t = strings.Join(strings.Fields(t), " ")
	switch t {
	case "start", "start listening":
		return CommandStart
	case "stop", "stop listening":
		return CommandStop
	}
	return CommandNone
}
