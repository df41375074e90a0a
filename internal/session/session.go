// Package session holds the one owner of a workflow's mutable state and
// converts it to and from the persisted record.
package session

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyline/internal/domain"
	"storyline/internal/phase"
	"storyline/internal/store"
)

type Session struct {
	ID           string
	StartedAt    string
	Requirements *store.RequirementStore
	Documents    *store.DocumentStore
	Machine      *phase.Machine
	Approvals    *store.ApprovalLog
	Interactions *store.Interactions
}

// New starts an empty session in the analysis phase.
func New(now func() time.Time, logger *zap.Logger) *Session {
	if now == nil {
		now = time.Now
	}
	s := &Session{
		ID:           uuid.NewString(),
		StartedAt:    now().UTC().Format(time.RFC3339),
		Requirements: store.NewRequirementStore(),
		Documents:    store.NewDocumentStore(),
		Machine:      phase.New(domain.PhaseAnalysis),
		Approvals:    store.NewApprovalLog(),
		Interactions: store.NewInteractions(),
	}
	s.wire(now, logger)
	return s
}

func (s *Session) wire(now func() time.Time, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s.Requirements.Now = now
	s.Machine.Now = now
	s.Machine.Logger = logger.With(zap.String("session_id", s.ID))
	s.Approvals.Now = now
	s.Interactions.Now = now
}

func (s *Session) Phase() domain.Phase {
	return s.Machine.Current()
}

// Record snapshots every part of the session.
func (s *Session) Record() domain.SessionRecord {
	items, turns := s.Requirements.Snapshot()
	sol, doc := s.Documents.Snapshot()
	approvals, refinements := s.Approvals.Snapshot()
	choices, pending := s.Interactions.Snapshot()
	return domain.SessionRecord{
		ID:              s.ID,
		StartedAt:       s.StartedAt,
		CurrentPhase:    s.Machine.Current(),
		Requirements:    items,
		Conversation:    turns,
		Solution:        sol,
		Documentation:   doc,
		Approvals:       approvals,
		Refinements:     refinements,
		Transitions:     append([]domain.PhaseTransition{}, s.Machine.History()...),
		UserChoices:     choices,
		PendingQuestion: pending,
	}
}

// FromRecord rebuilds a session from its persisted record.
func FromRecord(rec domain.SessionRecord, now func() time.Time, logger *zap.Logger) *Session {
	if now == nil {
		now = time.Now
	}
	s := &Session{
		ID:           rec.ID,
		StartedAt:    rec.StartedAt,
		Requirements: store.NewRequirementStore(),
		Documents:    store.NewDocumentStore(),
		Machine:      phase.New(rec.CurrentPhase),
		Approvals:    store.NewApprovalLog(),
		Interactions: store.NewInteractions(),
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.Requirements.Restore(rec.Requirements, rec.Conversation)
	s.Documents.Restore(rec.Solution, rec.Documentation)
	s.Machine.Restore(rec.CurrentPhase, rec.Transitions)
	s.Approvals.Restore(rec.Approvals, rec.Refinements)
	s.Interactions.Restore(rec.UserChoices, rec.PendingQuestion)
	s.wire(now, logger)
	return s
}
