// Package parser turns an actor's delimited free-text reply into typed
// records. Every function here is total: malformed or missing markers
// degrade to empty results and never produce an error.
package parser

import (
	"strings"

	"storyline/internal/domain"
)

// Block markers. Each marker also matches its variant without the spaces
// inside the equals signs.
const (
	RequirementsStart = "=== EXTRACTED REQUIREMENTS ==="
	RequirementsEnd   = "=== END REQUIREMENTS ==="
	ResponseStart     = "=== USER RESPONSE ==="
	ResponseEnd       = "=== END RESPONSE ==="
	DecisionStart     = "=== PHASE DECISION ==="
	DecisionEnd       = "=== END DECISION ==="
	QuestionStart     = "=== USER QUESTION ==="
	QuestionEnd       = "=== END QUESTION ==="
)

func compact(marker string) string {
	return strings.ReplaceAll(strings.ReplaceAll(marker, "=== ", "==="), " ===", "===")
}

// find locates marker (or its compact variant) in s at or after from.
// It returns the start index and the matched length, or -1.
func find(s, marker string, from int) (int, int) {
	if from > len(s) {
		return -1, 0
	}
	best, size := -1, 0
	for _, m := range []string{marker, compact(marker)} {
		if i := strings.Index(s[from:], m); i >= 0 && (best < 0 || from+i < best) {
			best, size = from+i, len(m)
		}
	}
	return best, size
}

// block returns the text between start and end markers and the index just
// past the end marker. ok is false when either marker is missing.
func block(s, start, end string) (body string, after int, ok bool) {
	i, n := find(s, start, 0)
	if i < 0 {
		return "", 0, false
	}
	j, m := find(s, end, i+n)
	if j < 0 {
		return "", 0, false
	}
	return s[i+n : j], j + m, true
}

var headers = func() map[string]domain.Category {
	m := map[string]domain.Category{}
	for _, c := range domain.Categories() {
		m[c.Header()] = c
	}
	return m
}()

// ExtractRequirements returns the requirement records inside the extracted
// requirements block, in the order they appear.
func ExtractRequirements(reply string) []domain.Requirement {
	body, _, ok := block(reply, RequirementsStart, RequirementsEnd)
	if !ok {
		return []domain.Requirement{}
	}
	out := []domain.Requirement{}
	var current domain.Category
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if c, ok := headers[strings.TrimRight(line, ":")]; ok {
			current = c
			continue
		}
		if current == "" || !strings.HasPrefix(line, "-") {
			continue
		}
		text := strings.TrimSpace(line[1:])
		if text == "" {
			continue
		}
		out = append(out, domain.Requirement{Category: current, Text: text})
	}
	return out
}

// ExtractUserFacingText returns the part of reply meant for display: the
// user response block, else whatever follows the requirements block, else
// the whole reply trimmed.
func ExtractUserFacingText(reply string) string {
	if i, n := find(reply, ResponseStart, 0); i >= 0 {
		rest := reply[i+n:]
		if j, _ := find(rest, ResponseEnd, 0); j >= 0 {
			return strings.TrimSpace(rest[:j])
		}
		return strings.TrimSpace(rest)
	}
	if j, m := find(reply, RequirementsEnd, 0); j >= 0 {
		return strings.TrimSpace(reply[j+m:])
	}
	return strings.TrimSpace(reply)
}

// lineValue returns the trimmed text after "label:" on the first line that
// starts with label, ignoring case and surrounding whitespace.
func lineValue(text, label string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) <= len(label) || !strings.EqualFold(trimmed[:len(label)], label) {
			continue
		}
		rest := strings.TrimSpace(trimmed[len(label):])
		if !strings.HasPrefix(rest, ":") {
			continue
		}
		return strings.TrimSpace(rest[1:]), true
	}
	return "", false
}
