// Package command validates and classifies raw command strings before any
// sandbox work begins. Parsing is the sole command-injection guard: strings
// carrying shell metacharacters never reach a process spawn.
package command

import (
	"fmt"
	"strings"

	"pkt.systems/sandview/schema"
)

// MaxLength is the longest accepted command string.
const MaxLength = 200

const metacharacters = ";&|`$<>"

// Parsed is a validated, classified command.
type Parsed struct {
	Manager schema.PackageManager
	Action  schema.CommandAction
	Script  string
	Raw     string
}

// Parse validates input and classifies it as an install or a script run.
// It is a pure function with no side effects.
func Parse(input string) (Parsed, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Parsed{}, schema.ErrEmptyCommand
	}
	if len(trimmed) > MaxLength {
		return Parsed{}, fmt.Errorf("%w: %d characters (max %d)", schema.ErrCommandTooLong, len(trimmed), MaxLength)
	}
	if i := strings.IndexAny(trimmed, metacharacters); i >= 0 {
		return Parsed{}, fmt.Errorf("%w: %q", schema.ErrUnsafeCommand, trimmed[i])
	}

	fields := strings.Fields(trimmed)
	if !schema.IsKnownManager(fields[0]) {
		return Parsed{}, fmt.Errorf("%w: got %q", schema.ErrUnknownManager, fields[0])
	}
	parsed := Parsed{Manager: schema.PackageManager(fields[0]), Raw: trimmed}
	if len(fields) == 1 {
		return Parsed{}, fmt.Errorf("%w: expected an action after %q", schema.ErrMissingScript, fields[0])
	}

	switch fields[1] {
	case "install", "i":
		parsed.Action = schema.ActionInstall
		return parsed, nil
	case "run":
		if len(fields) < 3 {
			return Parsed{}, schema.ErrMissingScript
		}
		parsed.Action = schema.ActionRun
		parsed.Script = fields[2]
		return parsed, nil
	default:
		// Managers allow `run` to be omitted; treat the token as a script name.
		parsed.Action = schema.ActionRun
		parsed.Script = fields[1]
		return parsed, nil
	}
}
