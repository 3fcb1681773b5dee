// Package guard enforces privacy rules on what leaves the analyzer.
package guard

import (
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
)

// Policy defines what the analyzer may send and keep.
type Policy struct {
	// IgnoreApplications are globs matched case-insensitively against the
	// application label of an analysis. Key information from matching
	// applications is never cached.
	IgnoreApplications []string `json:"ignore_applications"`
	// MinTranscriptChars is the smallest transcript worth sending.
	MinTranscriptChars int `json:"min_transcript_chars"`
}

// DefaultPolicy provides safe defaults.
var DefaultPolicy = Policy{
	IgnoreApplications: []string{"*1Password*", "*Bitwarden*", "*KeePass*"},
	MinTranscriptChars: 1,
}

// Violation represents a specific breach of policy.
type Violation struct {
	Rule    string
	Message string
}

func (v *Violation) Error() string {
	return v.Rule + ": " + v.Message
}

// Guard enforces the policy.
type Guard struct {
	policy   Policy
	patterns []string
}

func New(p Policy) *Guard {
	g := &Guard{policy: p}
	for _, pat := range p.IgnoreApplications {
		pat = strings.ToLower(strings.TrimSpace(pat))
		if pat == "" || !doublestar.ValidatePattern(pat) {
			continue
		}
		g.patterns = append(g.patterns, pat)
	}
	return g
}

// Policy returns the guard's current policy configuration.
func (g *Guard) Policy() Policy {
	return g.policy
}

// CheckApplication reports a violation when app matches an ignore pattern.
func (g *Guard) CheckApplication(app string) *Violation {
	label := strings.ToLower(strings.TrimSpace(app))
	if label == "" {
		return nil
	}
	// Path separators are ordinary characters in window titles.
	label = strings.ReplaceAll(label, "/", " ")

	for _, pattern := range g.patterns {
		if match, err := doublestar.Match(pattern, label); err == nil && match {
			return &Violation{Rule: "ignore_applications", Message: "key information suppressed for " + app}
		}
	}
	return nil
}

// CheckTranscript verifies a reduced transcript is worth analyzing.
func (g *Guard) CheckTranscript(text string) *Violation {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	if n == 0 {
		return &Violation{Rule: "empty_transcript", Message: "nothing to analyze"}
	}
	if n < g.policy.MinTranscriptChars {
		return &Violation{Rule: "min_transcript_chars", Message: "transcript too short to analyze"}
	}
	return nil
}
