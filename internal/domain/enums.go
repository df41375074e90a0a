package domain

import "fmt"

type Phase string

const (
	PhaseAnalysis Phase = "analysis"
	PhaseBrief    Phase = "brief"
	PhaseSolution Phase = "solution"
	PhaseBacklog  Phase = "backlog"
)

var phaseOrder = []Phase{PhaseAnalysis, PhaseBrief, PhaseSolution, PhaseBacklog}

// Phases returns the workflow stages in order.
func Phases() []Phase {
	return append([]Phase(nil), phaseOrder...)
}

func (p Phase) Valid() bool {
	for _, v := range phaseOrder {
		if v == p {
			return true
		}
	}
	return false
}

// Next returns the stage after p; ok is false for the last stage.
func (p Phase) Next() (Phase, bool) {
	for i, v := range phaseOrder {
		if v == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1], true
		}
	}
	return "", false
}

func (p Phase) Title() string {
	switch p {
	case PhaseAnalysis:
		return "Analysis"
	case PhaseBrief:
		return "Product Brief"
	case PhaseSolution:
		return "Solution Design"
	case PhaseBacklog:
		return "Backlog"
	}
	return string(p)
}

func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

type Category string

const (
	CategoryProblemGoals      Category = "problem_goals"
	CategoryUsersStakeholders Category = "users_stakeholders"
	CategoryFeaturesScope     Category = "features_scope"
)

var categoryOrder = []Category{CategoryProblemGoals, CategoryUsersStakeholders, CategoryFeaturesScope}

// Categories returns the requirement categories in their fixed display order.
func Categories() []Category {
	return append([]Category(nil), categoryOrder...)
}

func (c Category) Valid() bool {
	switch c {
	case CategoryProblemGoals, CategoryUsersStakeholders, CategoryFeaturesScope:
		return true
	}
	return false
}

func (c Category) Title() string {
	switch c {
	case CategoryProblemGoals:
		return "Problem & Goals"
	case CategoryUsersStakeholders:
		return "Users & Stakeholders"
	case CategoryFeaturesScope:
		return "Features & Scope"
	}
	return string(c)
}

// Label is the short lower-case name used in progress messages.
func (c Category) Label() string {
	switch c {
	case CategoryProblemGoals:
		return "problem/goals"
	case CategoryUsersStakeholders:
		return "users/stakeholders"
	case CategoryFeaturesScope:
		return "features/scope"
	}
	return string(c)
}

// Header is the section header an actor writes inside a requirements block.
func (c Category) Header() string {
	switch c {
	case CategoryProblemGoals:
		return "PROBLEM_GOALS"
	case CategoryUsersStakeholders:
		return "USERS_STAKEHOLDERS"
	case CategoryFeaturesScope:
		return "FEATURES_SCOPE"
	}
	return ""
}

func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Decision is the coordinator's verdict on whether analysis can move on.
type Decision string

const (
	DecisionReady    Decision = "ready"
	DecisionContinue Decision = "continue"
)
