// Package report turns a filtered kernel log into a classified report by
// asking a summarization backend for an HTML email body.
package report

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// DefaultLanguage is the language the emailed report is written in.
const DefaultLanguage = "English"

// NoIssueSentinel is the exact answer a backend gives when nothing needs attention.
const NoIssueSentinel = "OK"

const systemInstructionTemplate = "You are a Debian Linux system administrator assistant. " +
	"Your task is to look at the output of the dmesg command and create an email for the administrator if any important logs occurred. " +
	"The dmesg output covers the last 24 hours, or the time since boot if the host restarted more recently. " +
	"If there are no important logs output just '" + NoIssueSentinel + "'. " +
	"If you find something important create an e-mail in %s and format it using HTML. " +
	"This HTML output will be sent as an email. " +
	"Do not use Markdown in any case!"

// NewSystemInstruction builds the fixed system instruction for the given report language.
func NewSystemInstruction(language string) string {
	if strings.TrimSpace(language) == "" {
		language = DefaultLanguage
	}
	return fmt.Sprintf(systemInstructionTemplate, language)
}

// BuildUserPrompt prepends the run-specific extra instructions to the sanitized log.
func BuildUserPrompt(extraInstructions, filteredLog string) string {
	return extraInstructions + SanitizeLogContent(filteredLog)
}

// promptInjectionPatterns contains regex patterns for common prompt injection attempts
var promptInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+a`),
	regexp.MustCompile(`(?i)new\s+instructions?:`),
	regexp.MustCompile(`(?i)system\s*prompt\s*:`),
	regexp.MustCompile(`(?i)\bASSISTANT\s*:`),
	regexp.MustCompile(`(?i)\bHUMAN\s*:`),
}

var excessiveNewlines = regexp.MustCompile(`\n{4,}`)

// SanitizeLogContent strips non-printable characters and neutralizes prompt
// injection phrases. Kernel messages can carry attacker-controlled text
// (USB device names, filesystem labels), so the log is never sent verbatim.
func SanitizeLogContent(content string) string {
	var sanitized strings.Builder
	sanitized.Grow(len(content))

	for _, r := range content {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' || r == '\r' {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()
	for _, pattern := range promptInjectionPatterns {
		result = pattern.ReplaceAllString(result, "[FILTERED]")
	}

	return excessiveNewlines.ReplaceAllString(result, "\n\n\n")
}
