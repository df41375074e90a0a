package domain

import "strings"

// IndependentEpicID marks a story that deliberately belongs to no epic.
const IndependentEpicID = "independent"

type Requirement struct {
	Category Category `json:"category" enum:"problem_goals,users_stakeholders,features_scope"`
	Text     string   `json:"text"`
}

type ConversationTurn struct {
	Role      Role   `json:"role" enum:"user,assistant"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

type BusinessFlow struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
	Actors      []string `json:"actors"`
}

// Normalized drops duplicate actors, keeping the order they were first seen.
func (f BusinessFlow) Normalized() BusinessFlow {
	seen := map[string]bool{}
	actors := make([]string, 0, len(f.Actors))
	for _, a := range f.Actors {
		if seen[a] {
			continue
		}
		seen[a] = true
		actors = append(actors, a)
	}
	f.Actors = actors
	if f.Steps == nil {
		f.Steps = []string{}
	}
	return f
}

type ProductBrief struct {
	Summary          string `json:"product_summary"`
	ProblemStatement string `json:"problem_statement"`
	TargetUsers      string `json:"target_users"`
	Goals            string `json:"product_goals"`
	Scope            string `json:"scope"`
	RevisionCount    int    `json:"revision_count"`
}

// MissingFields lists the names of empty brief fields.
func (b ProductBrief) MissingFields() []string {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"product_summary", b.Summary},
		{"problem_statement", b.ProblemStatement},
		{"target_users", b.TargetUsers},
		{"product_goals", b.Goals},
		{"scope", b.Scope},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

func (b ProductBrief) Complete() bool {
	return len(b.MissingFields()) == 0
}

type Epic struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Domain      string `json:"domain,omitempty"`
}

type Story struct {
	EpicID             string   `json:"epic_id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	Effort             string   `json:"effort,omitempty"`
	Priority           string   `json:"priority,omitempty"`
	Dependencies       []string `json:"dependencies,omitempty"`
}

func (s Story) Independent() bool {
	return s.EpicID == IndependentEpicID
}

type ApprovalRecord struct {
	Phase      Phase          `json:"phase" enum:"analysis,brief,solution,backlog"`
	Status     ApprovalStatus `json:"status" enum:"pending,approved,rejected"`
	Feedback   string         `json:"feedback,omitempty"`
	Forced     bool           `json:"forced,omitempty"`
	Attempt    int            `json:"attempt"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
	ResolvedAt *string        `json:"resolved_at,omitempty" format:"date-time"`
}

type PhaseTransition struct {
	From      Phase  `json:"from"`
	To        Phase  `json:"to"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

// Refinement is a revision request that came out of a rejected approval.
type Refinement struct {
	Phase     Phase  `json:"phase"`
	Request   string `json:"request"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

type Option struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// PendingQuestion is a multiple-choice question waiting for the user.
type PendingQuestion struct {
	Context  string   `json:"context,omitempty"`
	Question string   `json:"question"`
	Options  []Option `json:"options"`
	AskedAt  string   `json:"asked_at" format:"date-time"`
}

type UserChoice struct {
	Context       string `json:"context,omitempty"`
	Question      string `json:"question"`
	SelectedLabel string `json:"selected_label"`
	SelectedValue string `json:"selected_value"`
	Timestamp     string `json:"timestamp" format:"date-time"`
}

// SessionRecord is the single persisted snapshot of a session.
type SessionRecord struct {
	ID              string                     `json:"session_id"`
	StartedAt       string                     `json:"session_start" format:"date-time"`
	CurrentPhase    Phase                      `json:"current_phase"`
	Requirements    map[Category][]string      `json:"requirements"`
	Conversation    []ConversationTurn         `json:"conversation_history"`
	Solution        SolutionRecord             `json:"solution"`
	Documentation   DocumentationRecord        `json:"documentation"`
	Approvals       map[Phase][]ApprovalRecord `json:"phase_approvals"`
	Refinements     []Refinement               `json:"refinement_history"`
	Transitions     []PhaseTransition          `json:"phase_transitions"`
	UserChoices     []UserChoice               `json:"user_choices"`
	PendingQuestion *PendingQuestion           `json:"pending_user_question,omitempty"`
}

type SolutionRecord struct {
	BusinessFlows []BusinessFlow `json:"business_flows"`
}

type DocumentationRecord struct {
	Brief   *ProductBrief `json:"product_brief,omitempty"`
	Epics   []Epic        `json:"epics"`
	Stories []Story       `json:"stories"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// SessionSummary is the listing row for a stored session.
type SessionSummary struct {
	ID           string `json:"id"`
	CurrentPhase Phase  `json:"current_phase"`
	StartedAt    string `json:"started_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}
