package engine

import (
	"fmt"
	"strings"

	"storyline/internal/domain"
	"storyline/internal/phase"
	"storyline/internal/session"
	"storyline/internal/store"
)

type AnalysisProgress struct {
	Complete     bool                  `json:"complete"`
	Reason       string                `json:"reason"`
	Total        int                   `json:"requirements_count"`
	ByCategory   []store.CategoryCount `json:"by_category"`
	Conversation int                   `json:"conversation_messages"`
}

type SolutionProgress struct {
	Complete bool   `json:"complete"`
	Reason   string `json:"reason"`
	Flows    int    `json:"flows_count"`
}

type InteractionProgress struct {
	ChoicesMade     int  `json:"choices_made"`
	PendingQuestion bool `json:"pending_question"`
}

// Progress summarises every stage of a session.
type Progress struct {
	SessionID     string                                 `json:"session_id"`
	CurrentPhase  domain.Phase                           `json:"current_phase"`
	Analysis      AnalysisProgress                       `json:"analysis"`
	Solution      SolutionProgress                       `json:"solution"`
	Documentation store.DocumentCounts                   `json:"documentation"`
	Structure     *store.StructureReport                 `json:"structure,omitempty"`
	Approvals     map[domain.Phase]domain.ApprovalStatus `json:"approvals"`
	Refinements   int                                    `json:"refinements"`
	Transitions   int                                    `json:"transitions"`
	Interactions  InteractionProgress                    `json:"user_interactions"`
}

func (e Engine) Progress(s *session.Session) Progress {
	complete, reason := e.AnalysisStatus(s)
	flows := s.Documents.Flows()
	solDone, solReason := e.SolutionStatus(s)
	_, pending := s.Interactions.Pending()
	p := Progress{
		SessionID:    s.ID,
		CurrentPhase: s.Phase(),
		Analysis: AnalysisProgress{
			Complete:     complete,
			Reason:       reason,
			Total:        s.Requirements.Total(),
			ByCategory:   s.Requirements.Counts(),
			Conversation: len(s.Requirements.Conversation()),
		},
		Solution:      SolutionProgress{Complete: solDone, Reason: solReason, Flows: len(flows)},
		Documentation: s.Documents.Counts(),
		Approvals:     map[domain.Phase]domain.ApprovalStatus{},
		Refinements:   len(s.Approvals.Refinements()),
		Transitions:   len(s.Machine.History()),
		Interactions: InteractionProgress{
			ChoicesMade:     len(s.Interactions.Choices()),
			PendingQuestion: pending,
		},
	}
	if len(s.Documents.Epics()) > 0 || len(s.Documents.Stories()) > 0 {
		rep := s.Documents.ValidateEpicStoryStructure()
		p.Structure = &rep
	}
	for _, ph := range domain.Phases() {
		if rec, ok := s.Approvals.Latest(ph); ok {
			p.Approvals[ph] = rec.Status
		}
	}
	return p
}

func mark(ok bool) string {
	if ok {
		return "done"
	}
	return "open"
}

// Text renders the progress as a short report.
func (p Progress) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s, current phase: %s\n\n", p.SessionID, p.CurrentPhase.Title())
	fmt.Fprintf(&b, "Analysis [%s]: %d requirements. %s\n", mark(p.Analysis.Complete), p.Analysis.Total, p.Analysis.Reason)
	fmt.Fprintf(&b, "Brief [%s]: created=%t complete=%t\n", mark(p.Approvals[domain.PhaseBrief] == domain.ApprovalApproved), p.Documentation.BriefCreated, p.Documentation.BriefComplete)
	fmt.Fprintf(&b, "Solution [%s]: %d flows. %s\n", mark(p.Approvals[domain.PhaseSolution] == domain.ApprovalApproved), p.Solution.Flows, p.Solution.Reason)
	fmt.Fprintf(&b, "Backlog [%s]: %d epics, %d stories\n", mark(p.Approvals[domain.PhaseBacklog] == domain.ApprovalApproved), p.Documentation.Epics, p.Documentation.Stories)
	if p.Structure != nil {
		fmt.Fprintf(&b, "  %s\n", strings.ReplaceAll(p.Structure.Summary(), "\n", "\n  "))
	}
	fmt.Fprintf(&b, "\nRefinements: %d, transitions: %d, choices made: %d", p.Refinements, p.Transitions, p.Interactions.ChoicesMade)
	if p.Interactions.PendingQuestion {
		b.WriteString(", a question is waiting for an answer")
	}
	return b.String()
}

// Status is the chat-time overview: the conversation summary followed by
// the collected requirements.
func (e Engine) Status(s *session.Session) string {
	return conversationSummary(s.Phase(), s.Requirements) + "\n\n" + s.Requirements.AllText()
}

// SolutionStatus applies the configured solution policy to s.
func (e Engine) SolutionStatus(s *session.Session) (bool, string) {
	return phase.IsSolutionComplete(e.config().Workflow.Solution, s.Documents.Flows())
}
