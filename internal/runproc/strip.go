package runproc

import (
	"regexp"
	"strings"
)

// ansiPattern matches CSI and OSC escape sequences terminal tooling emits
// for color, cursor movement and progress redraws.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)|\x1b[@-Z\\-_]`)

// CleanLine strips ANSI escapes and carriage returns so terminal output
// renders as plain text.
func CleanLine(line string) string {
	line = ansiPattern.ReplaceAllString(line, "")
	if strings.ContainsRune(line, '\r') {
		// Progress bars redraw by rewinding with CR; only the final
		// segment is what the terminal would have shown.
		segments := strings.Split(line, "\r")
		for i := len(segments) - 1; i >= 0; i-- {
			if segments[i] != "" {
				return segments[i]
			}
		}
		return ""
	}
	return line
}
