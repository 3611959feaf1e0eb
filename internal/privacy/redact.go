// Package privacy scrubs item text before it is sent to an external
// classifier.
package privacy

import (
	"fmt"
	"regexp"
)

const Placeholder = "[REDACTED]"

// DefaultPatterns match e-mail addresses, phone numbers and API-key-shaped
// tokens.
var DefaultPatterns = []string{
	`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
	`(?:\+\d{1,3}[ .-]?)?\(?\d{3}\)?[ .-]\d{3}[ .-]\d{4}\b`,
	`\b(?:sk|pk|xai|ghp|gho)[-_][A-Za-z0-9_-]{16,}\b`,
}

// Compile compiles a list of regex pattern strings into compiled regexps.
// Returns an error if any pattern is invalid.
func Compile(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Redactor replaces every match of its patterns with Placeholder.
// A nil Redactor leaves text unchanged.
type Redactor struct {
	patterns []*regexp.Regexp
}

// New builds a redactor from DefaultPatterns followed by extra.
func New(extra []string) (*Redactor, error) {
	all := make([]string, 0, len(DefaultPatterns)+len(extra))
	all = append(all, DefaultPatterns...)
	all = append(all, extra...)
	patterns, err := Compile(all)
	if err != nil {
		return nil, err
	}
	return &Redactor{patterns: patterns}, nil
}

// Apply returns text with all matches replaced.
func (r *Redactor) Apply(text string) string {
	if r == nil {
		return text
	}
	for _, re := range r.patterns {
		text = re.ReplaceAllString(text, Placeholder)
	}
	return text
}
