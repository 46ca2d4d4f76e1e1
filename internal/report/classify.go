package report

import "strings"

// Outcome is the classification of a backend answer.
type Outcome string

const (
	// OutcomeNoIssue means the backend answered exactly NoIssueSentinel.
	OutcomeNoIssue Outcome = "no_issue"
	// OutcomeActionable means anything else: the answer is the report.
	OutcomeActionable Outcome = "actionable"
	// OutcomeEmpty means nothing was left after stripping.
	OutcomeEmpty Outcome = "empty"
)

// Classify maps stripped content to an Outcome. Only an exact "OK" (after
// trimming surrounding whitespace) is NO_ISSUE; "ok" or "OK." are actionable.
func Classify(content string) Outcome {
	switch strings.TrimSpace(content) {
	case "":
		return OutcomeEmpty
	case NoIssueSentinel:
		return OutcomeNoIssue
	default:
		return OutcomeActionable
	}
}

// ShouldNotify reports whether an outcome warrants delivery.
func (o Outcome) ShouldNotify() bool {
	return o == OutcomeActionable
}
