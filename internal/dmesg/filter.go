package dmesg

import (
	"strings"
)

// MatchScope selects what a noise prefix is matched against.
type MatchScope string

const (
	// ScopeLine anchors prefixes at the start of the raw line.
	ScopeLine MatchScope = "line"
	// ScopeMessage anchors prefixes at the start of the message, after a
	// leading "[...]" timestamp when present.
	ScopeMessage MatchScope = "message"
)

// Filter drops noisy lines from a log bundle.
type Filter struct {
	Prefixes []string
	Scope    MatchScope
}

// NewFilter returns a filter with empty prefixes removed.
func NewFilter(prefixes []string, scope MatchScope) *Filter {
	kept := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p != "" {
			kept = append(kept, p)
		}
	}
	if scope == "" {
		scope = ScopeLine
	}
	return &Filter{Prefixes: kept, Scope: scope}
}

// Apply removes matching lines according to the filter's scope.
func (f *Filter) Apply(content string) string {
	if f.Scope == ScopeMessage {
		return FilterMessagePrefixes(content, f.Prefixes)
	}
	return FilterPrefixes(content, f.Prefixes)
}

// FilterPrefixes removes every line that begins with one of prefixes.
// Remaining lines keep their order and exact text. Empty prefixes are ignored.
func FilterPrefixes(content string, prefixes []string) string {
	return filterLines(content, prefixes, func(line string) string { return line })
}

// FilterMessagePrefixes is FilterPrefixes matched against the message part of
// each line, so "[Mon Oct 19 08:00:00 2026] audit: ..." matches prefix "audit".
func FilterMessagePrefixes(content string, prefixes []string) string {
	return filterLines(content, prefixes, messagePart)
}

func filterLines(content string, prefixes []string, subject func(string) string) string {
	active := prefixes[:0:0]
	for _, p := range prefixes {
		if p != "" {
			active = append(active, p)
		}
	}
	if len(active) == 0 || content == "" {
		return content
	}

	lines := strings.Split(content, "\n")
	kept := lines[:0:0]
	for _, line := range lines {
		if !hasAnyPrefix(subject(line), active) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// messagePart strips a leading bracketed timestamp and the spaces after it.
func messagePart(line string) string {
	if !strings.HasPrefix(line, "[") {
		return line
	}
	end := strings.IndexByte(line, ']')
	if end < 0 {
		return line
	}
	return strings.TrimLeft(line[end+1:], " ")
}
