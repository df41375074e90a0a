package parser

import (
	"strings"

	"storyline/internal/domain"
)

// Evaluation is the coordinator's structured verdict on a stage.
type Evaluation struct {
	Decision  domain.Decision `json:"decision"`
	Reasoning string          `json:"reasoning,omitempty"`
	NextSteps string          `json:"next_steps,omitempty"`
	Declared  bool            `json:"declared"`
}

func (e Evaluation) Ready() bool {
	return e.Decision == domain.DecisionReady
}

// ExtractDecision reads the phase decision section. When the section is
// missing it falls back to a DECISION line anywhere in the reply; with
// neither, the decision is continue.
func ExtractDecision(reply string) Evaluation {
	scope := reply
	declared := false
	if body, _, ok := block(reply, DecisionStart, DecisionEnd); ok {
		scope, declared = body, true
	}
	ev := Evaluation{Decision: domain.DecisionContinue, Declared: declared}
	if v, ok := lineValue(scope, "DECISION"); ok {
		ev.Decision = parseDecision(v)
	}
	ev.Reasoning = multiLineValue(scope, "REASONING")
	ev.NextSteps = multiLineValue(scope, "NEXT_STEPS")
	return ev
}

func parseDecision(v string) domain.Decision {
	word := strings.ToUpper(strings.Trim(strings.Fields(v + " x")[0], "*.!"))
	if word == "READY" {
		return domain.DecisionReady
	}
	return domain.DecisionContinue
}

var sectionLabels = []string{"DECISION", "REASONING", "NEXT_STEPS"}

// multiLineValue collects the value of label plus continuation lines up to
// the next blank line or known label.
func multiLineValue(text, label string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		v, ok := lineValue(line, label)
		if !ok {
			continue
		}
		parts := []string{}
		if v != "" {
			parts = append(parts, v)
		}
		for _, next := range lines[i+1:] {
			next = strings.TrimSpace(next)
			if next == "" || startsWithLabel(next) || strings.HasPrefix(next, "===") {
				break
			}
			parts = append(parts, next)
		}
		return strings.Join(parts, " ")
	}
	return ""
}

func startsWithLabel(line string) bool {
	for _, l := range sectionLabels {
		if _, ok := lineValue(line, l); ok {
			return true
		}
	}
	return false
}

// Review labels written by the brief reviewer and the backlog validator.
const (
	ReviewStatusLabel     = "REVIEW STATUS"
	ValidationStatusLabel = "VALIDATION STATUS"
)

// ExtractStatus returns the upper-cased first word after label.
func ExtractStatus(reply, label string) (string, bool) {
	v, ok := lineValue(reply, label)
	if !ok {
		return "", false
	}
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return "", false
	}
	return strings.ToUpper(strings.Trim(fields[0], "*.!")), true
}

// NeedsRevision reports whether a review or validation report asks for
// another pass. A declared status wins; otherwise a bare NEEDS_REVISION or
// INCOMPLETE keyword counts.
func NeedsRevision(report string) bool {
	for _, label := range []string{ReviewStatusLabel, ValidationStatusLabel} {
		if s, ok := ExtractStatus(report, label); ok {
			return s == "NEEDS_REVISION" || s == "INCOMPLETE"
		}
	}
	upper := strings.ToUpper(report)
	return strings.Contains(upper, "NEEDS_REVISION") || strings.Contains(upper, "INCOMPLETE")
}
