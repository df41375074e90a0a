// Package phase owns the current workflow stage, its transition log and the
// completeness heuristics that tell callers when a stage may be left.
package phase

import (
	"time"

	"go.uber.org/zap"

	"storyline/internal/domain"
)

// Machine tracks the current phase. Transitions are unconditional; callers
// decide readiness.
type Machine struct {
	current domain.Phase
	history []domain.PhaseTransition
	Now     func() time.Time
	Logger  *zap.Logger
}

func New(start domain.Phase) *Machine {
	if !start.Valid() {
		start = domain.PhaseAnalysis
	}
	return &Machine{current: start, Logger: zap.NewNop()}
}

func (m *Machine) Current() domain.Phase {
	return m.current
}

// Transition records a move to phase to and makes it current.
func (m *Machine) Transition(to domain.Phase, reason string) domain.PhaseTransition {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	tr := domain.PhaseTransition{
		From:      m.current,
		To:        to,
		Reason:    reason,
		Timestamp: now().UTC().Format(time.RFC3339),
	}
	m.history = append(m.history, tr)
	m.current = to
	if m.Logger != nil {
		m.Logger.Info("phase transition",
			zap.String("from", string(tr.From)),
			zap.String("to", string(tr.To)),
			zap.String("reason", reason))
	}
	return tr
}

func (m *Machine) History() []domain.PhaseTransition {
	return append([]domain.PhaseTransition(nil), m.history...)
}

// Restore resets the machine to a persisted state.
func (m *Machine) Restore(current domain.Phase, history []domain.PhaseTransition) {
	if !current.Valid() {
		current = domain.PhaseAnalysis
	}
	m.current = current
	m.history = append([]domain.PhaseTransition(nil), history...)
}
