package store

import (
	"time"

	"storyline/internal/domain"
)

// ApprovalLog keeps the per-stage approval history and the refinement log.
type ApprovalLog struct {
	records     map[domain.Phase][]domain.ApprovalRecord
	refinements []domain.Refinement
	Now         func() time.Time
}

func NewApprovalLog() *ApprovalLog {
	return &ApprovalLog{records: map[domain.Phase][]domain.ApprovalRecord{}}
}

func (l *ApprovalLog) now() string {
	if l.Now != nil {
		return l.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// Open appends a pending record for phase.
func (l *ApprovalLog) Open(phase domain.Phase, attempt int) domain.ApprovalRecord {
	rec := domain.ApprovalRecord{
		Phase:     phase,
		Status:    domain.ApprovalPending,
		Attempt:   attempt,
		CreatedAt: l.now(),
	}
	l.records[phase] = append(l.records[phase], rec)
	return rec
}

// Resolve settles the most recent pending record of phase. It returns false
// when nothing is pending. A rejection with feedback is also added to the
// refinement log.
func (l *ApprovalLog) Resolve(phase domain.Phase, status domain.ApprovalStatus, feedback string) (domain.ApprovalRecord, bool) {
	recs := l.records[phase]
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Status != domain.ApprovalPending {
			continue
		}
		ts := l.now()
		recs[i].Status = status
		recs[i].Feedback = feedback
		recs[i].ResolvedAt = &ts
		if status == domain.ApprovalRejected && feedback != "" {
			l.refinements = append(l.refinements, domain.Refinement{Phase: phase, Request: feedback, Timestamp: ts})
		}
		return recs[i], true
	}
	return domain.ApprovalRecord{}, false
}

// Force appends an already-approved record flagged as forced.
func (l *ApprovalLog) Force(phase domain.Phase, attempt int) domain.ApprovalRecord {
	ts := l.now()
	rec := domain.ApprovalRecord{
		Phase:      phase,
		Status:     domain.ApprovalApproved,
		Forced:     true,
		Attempt:    attempt,
		CreatedAt:  ts,
		ResolvedAt: &ts,
	}
	l.records[phase] = append(l.records[phase], rec)
	return rec
}

// Current returns the most recent pending record of phase.
func (l *ApprovalLog) Current(phase domain.Phase) (domain.ApprovalRecord, bool) {
	recs := l.records[phase]
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Status == domain.ApprovalPending {
			return recs[i], true
		}
	}
	return domain.ApprovalRecord{}, false
}

// Latest returns the last record of phase regardless of status.
func (l *ApprovalLog) Latest(phase domain.Phase) (domain.ApprovalRecord, bool) {
	recs := l.records[phase]
	if len(recs) == 0 {
		return domain.ApprovalRecord{}, false
	}
	return recs[len(recs)-1], true
}

func (l *ApprovalLog) Approved(phase domain.Phase) bool {
	rec, ok := l.Latest(phase)
	return ok && rec.Status == domain.ApprovalApproved
}

func (l *ApprovalLog) History(phase domain.Phase) []domain.ApprovalRecord {
	return append([]domain.ApprovalRecord(nil), l.records[phase]...)
}

func (l *ApprovalLog) Refinements() []domain.Refinement {
	return append([]domain.Refinement(nil), l.refinements...)
}

func (l *ApprovalLog) Snapshot() (map[domain.Phase][]domain.ApprovalRecord, []domain.Refinement) {
	out := make(map[domain.Phase][]domain.ApprovalRecord, len(l.records))
	for k, v := range l.records {
		out[k] = append([]domain.ApprovalRecord{}, v...)
	}
	return out, append([]domain.Refinement{}, l.refinements...)
}

func (l *ApprovalLog) Restore(records map[domain.Phase][]domain.ApprovalRecord, refinements []domain.Refinement) {
	l.records = map[domain.Phase][]domain.ApprovalRecord{}
	for k, v := range records {
		if !k.Valid() {
			continue
		}
		l.records[k] = append([]domain.ApprovalRecord(nil), v...)
	}
	l.refinements = append([]domain.Refinement(nil), refinements...)
}
