package parser

import (
	"strings"

	"storyline/internal/domain"
)

// ExtractQuestion reads a multiple-choice question block:
//
//	=== USER QUESTION ===
//	CONTEXT: platform
//	QUESTION: Which platform comes first?
//	- Web | web | Browser app
//	- Mobile | mobile
//	=== END QUESTION ===
//
// A block with no question text or fewer than two options is ignored.
func ExtractQuestion(reply string) (domain.PendingQuestion, bool) {
	body, _, ok := block(reply, QuestionStart, QuestionEnd)
	if !ok {
		return domain.PendingQuestion{}, false
	}
	var q domain.PendingQuestion
	q.Context, _ = lineValue(body, "CONTEXT")
	q.Question, _ = lineValue(body, "QUESTION")
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") {
			continue
		}
		parts := strings.Split(strings.TrimSpace(line[1:]), "|")
		opt := domain.Option{Label: strings.TrimSpace(parts[0])}
		if opt.Label == "" {
			continue
		}
		opt.Value = opt.Label
		if len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
			opt.Value = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			opt.Description = strings.TrimSpace(strings.Join(parts[2:], "|"))
		}
		q.Options = append(q.Options, opt)
	}
	if strings.TrimSpace(q.Question) == "" || len(q.Options) < 2 {
		return domain.PendingQuestion{}, false
	}
	return q, true
}
