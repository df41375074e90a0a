package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyline/internal/actor"
	"storyline/internal/approval"
	"storyline/internal/domain"
	"storyline/internal/events"
	"storyline/internal/parser"
	"storyline/internal/phase"
	"storyline/internal/prompts"
	"storyline/internal/store"
)

var transitionReasons = map[domain.Phase]string{
	domain.PhaseBrief:    "Analysis complete, creating Product Brief",
	domain.PhaseSolution: "Product Brief approved, designing solution",
	domain.PhaseBacklog:  "Solution approved, writing epics and stories",
}

// StageResult reports how one gated stage ended.
type StageResult struct {
	Phase         domain.Phase          `json:"phase"`
	Status        domain.ApprovalStatus `json:"status"`
	Forced        bool                  `json:"forced"`
	Attempts      int                   `json:"attempts"`
	Feedback      string                `json:"feedback,omitempty"`
	Preview       string                `json:"preview"`
	Report        string                `json:"report"`
	NeedsRevision bool                  `json:"needs_revision"`
	Evaluation    *parser.Evaluation    `json:"evaluation,omitempty"`
}

type stageOutput struct {
	preview string
	report  string
	eval    *parser.Evaluation
}

type stageFunc func(ctx context.Context, o *op, feedback string) (stageOutput, error)

func (e Engine) stage(p domain.Phase) stageFunc {
	switch p {
	case domain.PhaseBrief:
		return e.produceBrief
	case domain.PhaseSolution:
		return e.produceSolution
	case domain.PhaseBacklog:
		return e.produceBacklog
	}
	return nil
}

// Advance runs the next gated stage. Leaving analysis needs the analysis
// policy to pass unless force is set. A stage whose latest approval is not
// approved runs again; an approved one hands over to the following stage.
// An approved solution that still fails the solution policy runs again too,
// unless force is set.
func (e Engine) Advance(ctx context.Context, sessionID string, decider approval.Decider, force bool) (StageResult, error) {
	s, err := e.Load(ctx, sessionID)
	if err != nil {
		return StageResult{}, err
	}
	o := e.begin(s)
	target, err := e.nextStage(o, force)
	if err != nil {
		return StageResult{}, err
	}
	return e.runStage(ctx, o, target, decider)
}

// Finish advances stage after stage until one is rejected or the backlog
// is approved.
func (e Engine) Finish(ctx context.Context, sessionID string, decider approval.Decider, force bool) ([]StageResult, error) {
	var results []StageResult
	for {
		res, err := e.Advance(ctx, sessionID, decider, force)
		if errors.Is(err, ErrWorkflowComplete) && len(results) > 0 {
			return results, nil
		}
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if res.Status != domain.ApprovalApproved || res.Phase == domain.PhaseBacklog {
			return results, nil
		}
	}
}

func (e Engine) nextStage(o *op, force bool) (domain.Phase, error) {
	s := o.s
	cur := s.Phase()
	if cur == domain.PhaseAnalysis {
		ok, reason := e.AnalysisStatus(s)
		if !ok && !force {
			return "", fmt.Errorf("%w: %s", ErrAnalysisIncomplete, reason)
		}
		msg := transitionReasons[domain.PhaseBrief]
		if !ok {
			msg = "Analysis closed early: " + reason
		}
		o.transition(domain.PhaseBrief, msg)
		return domain.PhaseBrief, nil
	}
	if !s.Approvals.Approved(cur) {
		return cur, nil
	}
	next, ok := cur.Next()
	if !ok {
		return "", ErrWorkflowComplete
	}
	if cur == domain.PhaseSolution && !force {
		if done, reason := e.SolutionStatus(s); !done {
			e.logger().Info("approved solution is incomplete, revising",
				zap.String("session_id", s.ID), zap.String("reason", reason))
			return cur, nil
		}
	}
	o.transition(next, transitionReasons[next])
	return next, nil
}

// runStage drives the approval gate for p. The session is written after
// each produced output and before every revision call; a failed first
// attempt writes nothing.
func (e Engine) runStage(ctx context.Context, o *op, p domain.Phase, decider approval.Decider) (StageResult, error) {
	produce := e.stage(p)
	if produce == nil {
		return StageResult{}, fmt.Errorf("phase %s has no stage", p)
	}
	log := e.logger().With(zap.String("session_id", o.s.ID), zap.String("phase", string(p)))
	gate := approval.Gate{
		MaxAttempts: e.config().Workflow.Approval.MaxAttempts,
		Decider:     decider,
		Ledger:      o.s.Approvals,
		Logger:      log,
		OnResolve: func(rec domain.ApprovalRecord) {
			e.Metrics.Approval(string(rec.Phase), string(rec.Status), rec.Forced)
			o.emit(events.ApprovalResolved, "approval", string(rec.Phase), events.EventPayload{
				"status": string(rec.Status), "feedback": rec.Feedback, "forced": rec.Forced, "attempt": rec.Attempt,
			})
		},
	}
	var last stageOutput
	produced := false
	res, err := gate.Run(ctx, p, p.Title(), func(ctx context.Context, feedback string) (string, error) {
		if produced {
			if err := o.flush(ctx); err != nil {
				return "", err
			}
		}
		out, err := produce(ctx, o, feedback)
		if err != nil {
			return "", err
		}
		produced = true
		last = out
		if err := o.flush(ctx); err != nil {
			return "", err
		}
		return out.preview, nil
	})
	result := StageResult{
		Phase:         p,
		Status:        res.Status,
		Forced:        res.Forced,
		Attempts:      res.Attempts,
		Feedback:      res.Feedback,
		Preview:       last.preview,
		Report:        last.report,
		NeedsRevision: parser.NeedsRevision(last.report),
		Evaluation:    last.eval,
	}
	if err != nil {
		if produced {
			if ferr := o.flush(ctx); ferr != nil {
				log.Error("persist after failed stage", zap.Error(ferr))
			}
		}
		return result, err
	}
	if p == domain.PhaseBacklog && res.Status == domain.ApprovalApproved {
		o.emit(events.WorkflowFinished, "session", o.s.ID, events.EventPayload{
			"epics": len(o.s.Documents.Epics()), "stories": len(o.s.Documents.Stories()), "forced": res.Forced,
		})
	}
	if err := o.flush(ctx); err != nil {
		return result, err
	}
	log.Info("stage finished", zap.String("status", string(res.Status)), zap.Bool("forced", res.Forced), zap.Int("attempts", res.Attempts))
	return result, nil
}

// decodePayload reads the typed payload, falling back to a JSON object in
// the raw reply.
func decodePayload(resp actor.Response, v any) bool {
	data := []byte(resp.Payload)
	if len(data) == 0 {
		raw := parser.ExtractJSON(resp.Raw)
		if raw == "" {
			return false
		}
		data = []byte(raw)
	}
	return json.Unmarshal(data, v) == nil
}

func (o *op) payloadMissing(task string) {
	o.e.logger().Warn("actor payload missing, keeping previous output",
		zap.String("session_id", o.s.ID), zap.String("task", task))
	o.emit(events.ActorPayloadMissing, "task", task, nil)
}

// Each producer makes all of its actor calls against a scratch document
// store and only then writes the session, so a failed call leaves it as it
// was.

func (e Engine) produceBrief(ctx context.Context, o *op, feedback string) (stageOutput, error) {
	docs := o.s.Documents
	current := ""
	if feedback != "" && docs.HasBrief() {
		current = docs.BriefText()
	}
	resp, err := e.invoke(ctx, prompts.TaskBriefCreation, map[string]any{
		"requirements_summary": o.s.Requirements.AllText(),
		"revision_feedback":    orNone(feedback),
		"current_brief":        orNone(current),
	})
	if err != nil {
		return stageOutput{}, err
	}
	var brief domain.ProductBrief
	ok := decodePayload(resp, &brief) && len(brief.MissingFields()) < 5
	scratch := store.NewDocumentStore()
	if ok {
		if docs.HasBrief() {
			brief.RevisionCount = docs.Brief().RevisionCount + 1
		}
		scratch.SaveBrief(brief)
	} else {
		o.payloadMissing(prompts.TaskBriefCreation)
		if docs.HasBrief() {
			scratch.SaveBrief(docs.Brief())
		}
	}
	_, missing := scratch.ValidateBrief()
	review, err := e.invoke(ctx, prompts.TaskBriefReview, map[string]any{
		"requirements_summary": o.s.Requirements.AllText(),
		"product_brief":        scratch.BriefText(),
		"missing_fields":       orNone(strings.Join(missing, ", ")),
	})
	if err != nil {
		return stageOutput{}, err
	}
	if ok {
		docs.SaveBrief(brief)
		o.emit(events.BriefSaved, "brief", "", events.EventPayload{
			"revision_count": brief.RevisionCount, "complete": brief.Complete(),
		})
	}
	return stageOutput{
		preview: scratch.BriefText() + "\n\n## Review\n" + review.Raw,
		report:  review.Raw,
	}, nil
}

func (e Engine) produceSolution(ctx context.Context, o *op, feedback string) (stageOutput, error) {
	docs := o.s.Documents
	current, summary := "", ""
	if len(docs.Flows()) > 0 {
		if feedback != "" {
			current = docs.SolutionText()
		} else {
			summary = docs.SolutionText()
		}
	}
	resp, err := e.invoke(ctx, prompts.TaskSolutionFlows, map[string]any{
		"requirements_summary": o.s.Requirements.AllText(),
		"product_brief":        docs.BriefText(),
		"solution_summary":     orNone(summary),
		"revision_feedback":    orNone(feedback),
		"current_solution":     orNone(current),
	})
	if err != nil {
		return stageOutput{}, err
	}
	var payload struct {
		BusinessFlows []domain.BusinessFlow `json:"business_flows"`
	}
	ok := decodePayload(resp, &payload) && len(payload.BusinessFlows) > 0
	scratch := store.NewDocumentStore()
	if ok {
		scratch.ReplaceFlows(payload.BusinessFlows)
	} else {
		o.payloadMissing(prompts.TaskSolutionFlows)
		scratch.ReplaceFlows(docs.Flows())
	}
	flowsText := scratch.SolutionText()
	validation, err := e.invoke(ctx, prompts.TaskSolutionValidation, map[string]any{
		"product_brief":    docs.BriefText(),
		"solution_summary": flowsText,
	})
	if err != nil {
		return stageOutput{}, err
	}
	complete, reason := phase.IsSolutionComplete(e.config().Workflow.Solution, scratch.Flows())
	evalResp, err := e.invoke(ctx, prompts.TaskSolutionEvaluation, map[string]any{
		"solution_summary":   flowsText,
		"validation_results": validation.Raw,
		"completeness":       reason,
	})
	if err != nil {
		return stageOutput{}, err
	}
	eval := parser.ExtractDecision(evalResp.Raw)
	if ok {
		docs.ReplaceFlows(payload.BusinessFlows)
		o.emit(events.SolutionSaved, "solution", "", events.EventPayload{
			"flows": len(payload.BusinessFlows), "complete": complete,
		})
	}
	var b strings.Builder
	b.WriteString(flowsText)
	b.WriteString("\n\n## Validation\n")
	b.WriteString(validation.Raw)
	fmt.Fprintf(&b, "\n\n## Coordinator\nDECISION: %s\n", strings.ToUpper(string(eval.Decision)))
	if eval.Reasoning != "" {
		fmt.Fprintf(&b, "REASONING: %s\n", eval.Reasoning)
	}
	fmt.Fprintf(&b, "Heuristic: %s", reason)
	return stageOutput{preview: b.String(), report: validation.Raw, eval: &eval}, nil
}

func (e Engine) produceBacklog(ctx context.Context, o *op, feedback string) (stageOutput, error) {
	docs := o.s.Documents
	current := ""
	if feedback != "" && (len(docs.Epics()) > 0 || len(docs.Stories()) > 0) {
		current = docs.BacklogText()
	}
	resp, err := e.invoke(ctx, prompts.TaskBacklogCreation, map[string]any{
		"solution_summary":  docs.SolutionText(),
		"product_brief":     docs.BriefText(),
		"revision_feedback": orNone(feedback),
		"current_backlog":   orNone(current),
	})
	if err != nil {
		return stageOutput{}, err
	}
	var payload struct {
		Epics   []domain.Epic  `json:"epics"`
		Stories []domain.Story `json:"stories"`
	}
	ok := decodePayload(resp, &payload) && len(payload.Epics)+len(payload.Stories) > 0
	scratch := store.NewDocumentStore()
	var rejected []domain.Story
	if ok {
		for i := range payload.Epics {
			if strings.TrimSpace(payload.Epics[i].ID) == "" {
				payload.Epics[i].ID = uuid.NewString()
			}
		}
		rejected = scratch.ReplaceBacklog(payload.Epics, payload.Stories)
	} else {
		o.payloadMissing(prompts.TaskBacklogCreation)
		scratch.ReplaceBacklog(docs.Epics(), docs.Stories())
	}
	report := scratch.ValidateEpicStoryStructure()
	validation, err := e.invoke(ctx, prompts.TaskBacklogValidation, map[string]any{
		"product_brief":    docs.BriefText(),
		"backlog":          scratch.BacklogText(),
		"structure_report": report.Summary(),
	})
	if err != nil {
		return stageOutput{}, err
	}
	if ok {
		docs.ReplaceBacklog(payload.Epics, payload.Stories)
		for _, st := range rejected {
			e.logger().Warn("story references unknown epic",
				zap.String("session_id", o.s.ID), zap.String("story", st.Title), zap.String("epic_id", st.EpicID))
			o.emit(events.StoryRejected, "story", st.EpicID, events.EventPayload{"title": st.Title})
		}
		o.emit(events.BacklogSaved, "backlog", "", events.EventPayload{
			"epics": len(docs.Epics()), "stories": len(docs.Stories()), "valid": report.Valid,
		})
	}
	return stageOutput{
		preview: scratch.BacklogText() + "\n\n## Structure\n" + report.Summary() + "\n\n## Validation\n" + validation.Raw,
		report:  validation.Raw,
	}, nil
}
