package server

import (
	"encoding/json"

	"storyline/internal/domain"
	"storyline/internal/engine"
	"storyline/internal/session"
	"storyline/internal/store"
)

// Request payloads

type MessageRequest struct {
	Message string `json:"message" minLength:"1"`
}

type AnswerRequest struct {
	Option int `json:"option" minimum:"1" doc:"One based option number"`
}

type DecisionRequest struct {
	Verdict  string `json:"verdict" enum:"approved,refine,rejected"`
	Feedback string `json:"feedback,omitempty"`
}

type AdvanceRequest struct {
	Force     bool              `json:"force,omitempty"`
	Decisions []DecisionRequest `json:"decisions,omitempty" doc:"Answers for each presented output in order; outputs left unanswered are rejected"`
}

// Response payloads

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type SessionList struct {
	Items []domain.SessionSummary `json:"items"`
}

type RequirementsResponse struct {
	Items    map[domain.Category][]string `json:"items"`
	Counts   []store.CategoryCount        `json:"counts"`
	Total    int                          `json:"total"`
	Complete bool                         `json:"complete"`
	Reason   string                       `json:"reason"`
	Text     string                       `json:"text"`
}

type BriefResponse struct {
	Brief   *domain.ProductBrief `json:"brief,omitempty"`
	Valid   bool                 `json:"valid"`
	Missing []string             `json:"missing_fields"`
	Text    string               `json:"text"`
}

type SolutionResponse struct {
	Flows    []domain.BusinessFlow `json:"business_flows"`
	Complete bool                  `json:"complete"`
	Reason   string                `json:"reason"`
	Text     string                `json:"text"`
}

type BacklogResponse struct {
	Epics     []domain.Epic         `json:"epics"`
	Stories   []domain.Story        `json:"stories"`
	Structure store.StructureReport `json:"structure"`
	Text      string                `json:"text"`
}

type ApprovalsResponse struct {
	Approvals   map[domain.Phase][]domain.ApprovalRecord `json:"phase_approvals"`
	Refinements []domain.Refinement                      `json:"refinement_history"`
}

type TransitionsResponse struct {
	Items []domain.PhaseTransition `json:"items"`
}

type AdvanceResponse struct {
	Results []engine.StageResult `json:"results"`
	Phase   domain.Phase         `json:"current_phase"`
}

type TokenRequest struct {
	Subject string `json:"subject" minLength:"1"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

func eventResponse(evt domain.Event) EventResponse {
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		SessionID:  evt.SessionID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    decodeJSONMap(evt.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	if out == nil {
		return map[string]any{}
	}
	return out
}

func briefResponse(s *session.Session) BriefResponse {
	valid, missing := s.Documents.ValidateBrief()
	resp := BriefResponse{Valid: valid, Missing: missing, Text: s.Documents.BriefText()}
	if missing == nil {
		resp.Missing = []string{}
	}
	if s.Documents.HasBrief() {
		b := s.Documents.Brief()
		resp.Brief = &b
	}
	return resp
}

func requirementsResponse(e engine.Engine, s *session.Session) RequirementsResponse {
	items, _ := s.Requirements.Snapshot()
	complete, reason := e.AnalysisStatus(s)
	return RequirementsResponse{
		Items:    items,
		Counts:   s.Requirements.Counts(),
		Total:    s.Requirements.Total(),
		Complete: complete,
		Reason:   reason,
		Text:     s.Requirements.AllText(),
	}
}
