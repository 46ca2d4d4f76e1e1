package dmesg

import (
	"fmt"
	"regexp"
	"strings"
)

// Preprocessor shrinks oversized kernel logs before they are sent to a backend.
type Preprocessor struct {
	maxTokens int
}

var (
	timestampPrefix = regexp.MustCompile(`^\[[^\]]*\]\s*`)
	hexRegex        = regexp.MustCompile(`\b0x[0-9a-fA-F]+\b`)
	ipRegex         = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	macRegex        = regexp.MustCompile(`\b([0-9a-fA-F]{2}:){5}[0-9a-fA-F]{2}\b`)
	numberRegex     = regexp.MustCompile(`\b\d+\b`)
)

// highPriority keywords mark lines that survive trimming longest.
var highPriority = []string{
	"error", "fail", "critical", "panic", "oops", "bug:", "segfault", "oom",
	"out of memory", "call trace", "i/o error", "hung task", "watchdog",
	"mce", "hardware error", "corrupt", "thermal", "throttl", "denied",
}

// NewPreprocessor creates a new preprocessor
func NewPreprocessor(maxTokens int) *Preprocessor {
	return &Preprocessor{maxTokens: maxTokens}
}

// EstimateTokens estimates the number of tokens in the content as
// max(chars/4, words/0.75).
func EstimateTokens(content string) int {
	return estimate(len(content), len(strings.Fields(content)))
}

// ShouldProcess reports whether content exceeds the token budget.
func (p *Preprocessor) ShouldProcess(content string) bool {
	return EstimateTokens(content) > p.maxTokens
}

// Process returns content unchanged when it fits the budget. Otherwise repeated
// messages are collapsed, then the oldest low-priority lines are dropped, then
// the oldest remaining lines, until the log fits. An omission marker is
// prepended whenever lines were dropped.
func (p *Preprocessor) Process(content string) string {
	if !p.ShouldProcess(content) {
		return content
	}

	lines := p.deduplicate(strings.Split(strings.TrimRight(content, "\n"), "\n"))
	if EstimateTokens(strings.Join(lines, "\n")) <= p.maxTokens {
		return strings.Join(lines, "\n") + "\n"
	}

	kept, omitted := p.trim(lines)
	marker := fmt.Sprintf("[... %d earlier lines omitted for brevity ...]", omitted)
	return marker + "\n" + strings.Join(kept, "\n") + "\n"
}

// deduplicate collapses lines whose normalized message repeats, keeping the
// newest occurrence and annotating it with the count.
func (p *Preprocessor) deduplicate(lines []string) []string {
	counts := make(map[string]int, len(lines))
	for _, line := range lines {
		if key := normalizeLine(line); key != "" {
			counts[key]++
		}
	}

	seen := make(map[string]int, len(counts))
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		key := normalizeLine(line)
		if key == "" {
			result = append(result, line)
			continue
		}
		seen[key]++
		if seen[key] < counts[key] {
			continue
		}
		if counts[key] > 1 {
			line = fmt.Sprintf("%s (occurred %d times)", line, counts[key])
		}
		result = append(result, line)
	}
	return result
}

// trim drops lines oldest-first, low priority before high priority.
// Character and word counts are tracked incrementally so the estimate stays exact.
func (p *Preprocessor) trim(lines []string) ([]string, int) {
	drop := make([]bool, len(lines))
	chars := len(strings.Join(lines, "\n"))
	words := len(strings.Fields(strings.Join(lines, "\n")))
	omitted := 0

	for pass := 0; pass < 2 && estimate(chars, words) > p.maxTokens; pass++ {
		for i, line := range lines {
			if estimate(chars, words) <= p.maxTokens {
				break
			}
			if drop[i] || (pass == 0 && isHighPriority(line)) {
				continue
			}
			drop[i] = true
			omitted++
			chars -= len(line) + 1
			words -= len(strings.Fields(line))
		}
	}

	kept := make([]string, 0, len(lines)-omitted)
	for i, line := range lines {
		if !drop[i] {
			kept = append(kept, line)
		}
	}
	return kept, omitted
}

func estimate(chars, words int) int {
	charsEstimate := chars / 4
	wordsEstimate := int(float64(words) / 0.75)
	if charsEstimate > wordsEstimate {
		return charsEstimate
	}
	return wordsEstimate
}

func isHighPriority(line string) bool {
	lower := strings.ToLower(line)
	for _, keyword := range highPriority {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// normalizeLine strips the timestamp and variable tokens so that repeated
// messages group together.
func normalizeLine(line string) string {
	line = strings.TrimSpace(timestampPrefix.ReplaceAllString(line, ""))
	if line == "" {
		return ""
	}

	line = macRegex.ReplaceAllString(line, "MAC")
	line = ipRegex.ReplaceAllString(line, "IP")
	line = hexRegex.ReplaceAllString(line, "HEX")
	line = numberRegex.ReplaceAllString(line, "N")

	return line
}
