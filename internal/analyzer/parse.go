package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/rewind/internal/provider"
)

// Analysis is the parsed provider reply for one cycle.
type Analysis struct {
	Summary     string
	Application string
	KeyInfo     []KeyInfo
}

type rawAnalysis struct {
	Activity    string       `json:"activity"`
	Summary     string       `json:"summary"`
	Application string       `json:"application"`
	KeyInfo     []rawKeyInfo `json:"key_info"`
}

type rawKeyInfo struct {
	Type    string          `json:"type"`
	Kind    string          `json:"kind"`
	Value   json.RawMessage `json:"value"`
	Text    string          `json:"text"`
	Context string          `json:"context"`
}

// ParseResponse decodes a provider reply. Code fences and prose around the
// JSON object are tolerated. A reply without a summary is malformed.
// Key information whose kind is not in allowed is kept as KindOther; nil
// allows every kind.
func ParseResponse(content string, allowed map[Kind]bool) (*Analysis, error) {
	var raw rawAnalysis
	if err := decodeJSON(content, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrMalformed, err)
	}

	summary := strings.TrimSpace(raw.Activity)
	if summary == "" {
		summary = strings.TrimSpace(raw.Summary)
	}
	if summary == "" {
		return nil, fmt.Errorf("%w: missing activity summary", provider.ErrMalformed)
	}

	a := &Analysis{
		Summary:     summary,
		Application: strings.TrimSpace(raw.Application),
	}
	for _, ki := range raw.KeyInfo {
		text := strings.TrimSpace(ki.Text)
		if text == "" {
			text = valueString(ki.Value)
		}
		if text == "" {
			continue
		}
		label := ki.Type
		if label == "" {
			label = ki.Kind
		}
		a.KeyInfo = append(a.KeyInfo, KeyInfo{
			Kind:        ParseKind(label, allowed),
			Text:        text,
			Context:     strings.TrimSpace(ki.Context),
			Application: a.Application,
		})
	}
	return a, nil
}

// valueString accepts numbers as well as strings; models often emit codes
// unquoted. Numbers keep their literal digits.
func valueString(raw json.RawMessage) string {
	v := strings.TrimSpace(string(raw))
	if v == "" || v == "null" {
		return ""
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	return v
}

func decodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}

	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}

	sanitized := sanitizeJSON(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return fmt.Errorf("%v (payload: %s)", directErr, snippet(trimmed))
	}
	if err := json.Unmarshal([]byte(sanitized), target); err != nil {
		return fmt.Errorf("%v (sanitized payload: %s)", err, snippet(sanitized))
	}
	return nil
}

func sanitizeJSON(content string) string {
	trimmed := strings.TrimSpace(stripCodeFence(content))
	if trimmed == "" || trimmed[0] == '{' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = body[4:]
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func snippet(s string) string {
	const limit = 120
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
