package report

import (
	"strings"
	"unicode"
)

// Fence is the code-fence marker backends wrap HTML in despite being told not to.
const Fence = "```"

// StripFences removes code-fence artifacts from a backend answer.
//
// A line beginning with Fence loses the fence, its info string ("html") and a
// closing fence on the same line; if nothing is left the line is dropped.
// Inside a block opened by such a line, a closing fence glued to the end of a
// line ends the block and is removed. All other lines are kept verbatim.
func StripFences(s string) string {
	lines := strings.Split(s, "\n")
	kept := make([]string, 0, len(lines))
	inBlock := false

	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if !strings.HasPrefix(trimmed, Fence) {
			if inBlock {
				if rest, closed := cutClosingFence(line); closed {
					line = rest
					inBlock = false
				}
			}
			kept = append(kept, line)
			continue
		}

		rest, closed := cutClosingFence(trimmed[len(Fence):])
		if !closed {
			inBlock = !inBlock
		}
		after := rest[len(infoString(rest)):]
		// An unclosed fence line carries only an info string. On a closed line
		// the leading word is an info string only when markup follows it, so
		// "```OK```" stays OK.
		if !closed || strings.HasPrefix(strings.TrimLeft(after, " \t"), "<") {
			rest = after
		}

		if strings.TrimSpace(rest) == "" {
			continue
		}
		kept = append(kept, strings.TrimLeft(rest, " \t"))
	}

	return strings.Join(kept, "\n")
}

func cutClosingFence(s string) (string, bool) {
	trimmed := strings.TrimRight(s, " \t\r")
	if strings.HasSuffix(trimmed, Fence) {
		return strings.TrimSuffix(trimmed, Fence), true
	}
	return s, false
}

// infoString returns the leading language tag of a fence line.
func infoString(s string) string {
	for i, r := range s {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '+' || r == '.') {
			return s[:i]
		}
	}
	return s
}
