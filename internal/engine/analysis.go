package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"storyline/internal/domain"
	"storyline/internal/events"
	"storyline/internal/parser"
	"storyline/internal/phase"
	"storyline/internal/prompts"
	"storyline/internal/session"
	"storyline/internal/store"
)

// TurnResult is the outcome of one analysis turn.
type TurnResult struct {
	Reply      string                  `json:"reply"`
	Added      []domain.Requirement    `json:"added"`
	Evaluation parser.Evaluation       `json:"evaluation"`
	Complete   bool                    `json:"complete"`
	Reason     string                  `json:"reason"`
	Question   *domain.PendingQuestion `json:"question,omitempty"`
}

// Converse runs one analysis turn for message. The requirement store is
// staged on a copy; the turn's writes land together only after both the
// analysis and the phase evaluation calls succeeded.
func (e Engine) Converse(ctx context.Context, sessionID, message string) (TurnResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return TurnResult{}, ErrEmptyMessage
	}
	s, err := e.Load(ctx, sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	if s.Phase() != domain.PhaseAnalysis {
		return TurnResult{}, fmt.Errorf("%w: session is in %s", ErrNotInAnalysis, s.Phase())
	}
	log := e.logger().With(zap.String("session_id", s.ID))

	staged := s.Requirements.Clone()
	staged.AddTurn(domain.RoleUser, message)
	resp, err := e.invoke(ctx, prompts.TaskAnalysis, map[string]any{
		"user_message":         message,
		"conversation_context": conversationSummary(s.Phase(), staged),
		"requirements_summary": staged.AllText(),
		"turn_count":           staged.UserTurns(),
		"total_requirements":   staged.Total(),
	})
	if err != nil {
		return TurnResult{}, err
	}

	var added []domain.Requirement
	for _, r := range parser.ExtractRequirements(resp.Raw) {
		if staged.Add(r.Category, r.Text) {
			added = append(added, r)
		}
	}
	reply := parser.ExtractUserFacingText(resp.Raw)
	complete, reason := phase.IsAnalysisComplete(e.config().Workflow.Analysis, countMap(staged))

	evalResp, err := e.invoke(ctx, prompts.TaskPhaseEvaluation, map[string]any{
		"requirements_summary": staged.AllText(),
		"completeness":         reason,
	})
	if err != nil {
		return TurnResult{}, err
	}
	eval := parser.ExtractDecision(evalResp.Raw)
	staged.AddTurn(domain.RoleAssistant, reply)

	o := e.begin(s)
	s.Requirements = staged
	o.emit(events.ConversationTurn, "conversation", "", events.EventPayload{"role": string(domain.RoleUser), "content": message})
	if len(added) > 0 {
		items := make([]map[string]string, 0, len(added))
		for _, r := range added {
			items = append(items, map[string]string{"category": string(r.Category), "text": r.Text})
			e.Metrics.RequirementAdded(string(r.Category))
			log.Debug("requirement added", zap.String("category", string(r.Category)), zap.String("text", r.Text))
		}
		o.emit(events.RequirementsAdded, "requirement", "", events.EventPayload{"items": items, "total": staged.Total()})
	}
	o.emit(events.ConversationTurn, "conversation", "", events.EventPayload{"role": string(domain.RoleAssistant), "content": reply})

	res := TurnResult{Reply: reply, Added: added, Evaluation: eval, Complete: complete, Reason: reason}
	if q, ok := parser.ExtractQuestion(resp.Raw); ok {
		if err := s.Interactions.Ask(q); err != nil {
			log.Debug("question ignored", zap.Error(err))
		} else {
			res.Question = &q
			o.emit(events.QuestionAsked, "question", q.Context, events.EventPayload{"question": q.Question, "options": len(q.Options)})
		}
	}
	if err := o.flush(ctx); err != nil {
		return TurnResult{}, err
	}
	log.Info("analysis turn",
		zap.Int("added", len(added)),
		zap.Int("total", staged.Total()),
		zap.Bool("complete", complete),
		zap.String("decision", string(eval.Decision)))
	return res, nil
}

// AnswerQuestion records the option at index (zero based) for the pending
// question.
func (e Engine) AnswerQuestion(ctx context.Context, sessionID string, index int) (domain.UserChoice, error) {
	s, err := e.Load(ctx, sessionID)
	if err != nil {
		return domain.UserChoice{}, err
	}
	choice, err := s.Interactions.Choose(index)
	if err != nil {
		return domain.UserChoice{}, err
	}
	o := e.begin(s)
	o.emit(events.QuestionAnswered, "question", choice.Context, events.EventPayload{
		"question": choice.Question, "label": choice.SelectedLabel, "value": choice.SelectedValue,
	})
	if err := o.flush(ctx); err != nil {
		return domain.UserChoice{}, err
	}
	return choice, nil
}

// AnalysisStatus applies the configured analysis policy to s.
func (e Engine) AnalysisStatus(s *session.Session) (bool, string) {
	return phase.IsAnalysisComplete(e.config().Workflow.Analysis, countMap(s.Requirements))
}

func countMap(r *store.RequirementStore) map[domain.Category]int {
	out := make(map[domain.Category]int, 3)
	for _, c := range r.Counts() {
		out[c.Category] = c.Count
	}
	return out
}

// conversationSummary is the short context block handed to the analyst.
func conversationSummary(current domain.Phase, r *store.RequirementStore) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current Phase: %s\n", current)
	fmt.Fprintf(&b, "Conversation Messages: %d\n\n", len(r.Conversation()))
	b.WriteString("Requirements Collected:\n")
	for _, c := range r.Counts() {
		fmt.Fprintf(&b, "- %s: %d items\n", c.Category.Title(), c.Count)
	}
	fmt.Fprintf(&b, "\nTotal Requirements: %d", r.Total())
	return b.String()
}
