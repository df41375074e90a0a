// Package approval runs a stage producer behind human review with a bounded
// number of revision rounds.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"storyline/internal/domain"
)

// DefaultMaxAttempts is the revision budget used when none is configured.
const DefaultMaxAttempts = 3

var ErrMissingFeedback = errors.New("refine requires feedback")

type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictRefine   Verdict = "refine"
	VerdictRejected Verdict = "rejected"
)

// Decision is a reviewer's answer for one presented output.
type Decision struct {
	Verdict  Verdict
	Feedback string
}

func Approve() Decision { return Decision{Verdict: VerdictApproved} }

func Reject() Decision { return Decision{Verdict: VerdictRejected} }

func Refine(feedback string) Decision { return Decision{Verdict: VerdictRefine, Feedback: feedback} }

// Request is what a Decider is shown.
type Request struct {
	Phase   domain.Phase
	Title   string
	Preview string
	Attempt int
}

// Decider collects the human verdict on a rendered preview.
type Decider interface {
	Decide(ctx context.Context, req Request) (Decision, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, req Request) (Decision, error)

func (f DeciderFunc) Decide(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}

// Queue answers with the given decisions in order and rejects once they run
// out. It serves callers that cannot prompt, such as the HTTP API.
func Queue(decisions ...Decision) Decider {
	q := append([]Decision(nil), decisions...)
	return DeciderFunc(func(_ context.Context, _ Request) (Decision, error) {
		if len(q) == 0 {
			return Reject(), nil
		}
		d := q[0]
		q = q[1:]
		return d, nil
	})
}

// ParseVerdict maps user input to a verdict. Short forms a, r and x are
// accepted for approved, refine and rejected.
func ParseVerdict(s string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a", "approve", "approved", "y", "yes":
		return VerdictApproved, nil
	case "r", "refine", "revise":
		return VerdictRefine, nil
	case "x", "reject", "rejected", "n", "no":
		return VerdictRejected, nil
	}
	return "", fmt.Errorf("unknown verdict %q", s)
}

// Producer builds the stage output. feedback is empty on the first call and
// carries the reviewer's last request on revisions.
type Producer func(ctx context.Context, feedback string) (preview string, err error)

// Ledger records approval history; store.ApprovalLog satisfies it.
type Ledger interface {
	Open(phase domain.Phase, attempt int) domain.ApprovalRecord
	Resolve(phase domain.Phase, status domain.ApprovalStatus, feedback string) (domain.ApprovalRecord, bool)
	Force(phase domain.Phase, attempt int) domain.ApprovalRecord
}

// Observer is notified after each resolved record.
type Observer func(rec domain.ApprovalRecord)

type Gate struct {
	MaxAttempts int
	Decider     Decider
	Ledger      Ledger
	Logger      *zap.Logger
	OnResolve   Observer
}

type Result struct {
	Status   domain.ApprovalStatus
	Forced   bool
	Attempts int
	Preview  string
	Feedback string
}

func (g Gate) logger() *zap.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return zap.NewNop()
}

func (g Gate) maxAttempts() int {
	if g.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return g.MaxAttempts
}

// Run loops produce, present, decide until the output is approved or
// rejected. Each refine costs one attempt; when the budget is spent the
// last output is approved regardless and the record is flagged as forced.
// Producer and decider errors end the loop and are returned as is.
func (g Gate) Run(ctx context.Context, phase domain.Phase, title string, produce Producer) (Result, error) {
	if g.Decider == nil {
		return Result{}, errors.New("approval gate has no decider")
	}
	if g.Ledger == nil {
		return Result{}, errors.New("approval gate has no ledger")
	}
	log := g.logger().With(zap.String("phase", string(phase)))
	limit := g.maxAttempts()
	attempt := 0
	feedback := ""
	for {
		preview, err := produce(ctx, feedback)
		if err != nil {
			return Result{Attempts: attempt}, err
		}
		g.Ledger.Open(phase, attempt)
		dec, err := g.Decider.Decide(ctx, Request{Phase: phase, Title: title, Preview: preview, Attempt: attempt + 1})
		if err != nil {
			g.Ledger.Resolve(phase, domain.ApprovalRejected, "")
			return Result{Attempts: attempt, Preview: preview}, fmt.Errorf("collect decision: %w", err)
		}
		switch dec.Verdict {
		case VerdictApproved:
			g.resolve(phase, domain.ApprovalApproved, "")
			log.Info("approval resolved", zap.String("status", "approved"), zap.Int("attempt", attempt))
			return Result{Status: domain.ApprovalApproved, Attempts: attempt, Preview: preview}, nil
		case VerdictRejected:
			g.resolve(phase, domain.ApprovalRejected, dec.Feedback)
			log.Info("approval resolved", zap.String("status", "rejected"), zap.Int("attempt", attempt))
			return Result{Status: domain.ApprovalRejected, Attempts: attempt, Preview: preview, Feedback: dec.Feedback}, nil
		case VerdictRefine:
			fb := strings.TrimSpace(dec.Feedback)
			if fb == "" {
				g.Ledger.Resolve(phase, domain.ApprovalRejected, "")
				return Result{Attempts: attempt, Preview: preview}, ErrMissingFeedback
			}
			attempt++
			g.resolve(phase, domain.ApprovalRejected, fb)
			log.Info("revision requested", zap.Int("attempt", attempt), zap.String("feedback", fb))
			if attempt >= limit {
				rec := g.Ledger.Force(phase, attempt)
				g.notify(rec)
				log.Warn("revision budget exhausted, forcing approval", zap.Int("attempts", attempt), zap.Int("max_attempts", limit))
				return Result{Status: domain.ApprovalApproved, Forced: true, Attempts: attempt, Preview: preview, Feedback: fb}, nil
			}
			feedback = fb
		default:
			g.Ledger.Resolve(phase, domain.ApprovalRejected, "")
			return Result{Attempts: attempt, Preview: preview}, fmt.Errorf("unknown verdict %q", dec.Verdict)
		}
	}
}

func (g Gate) resolve(phase domain.Phase, status domain.ApprovalStatus, feedback string) {
	if rec, ok := g.Ledger.Resolve(phase, status, feedback); ok {
		g.notify(rec)
	}
}

func (g Gate) notify(rec domain.ApprovalRecord) {
	if g.OnResolve != nil {
		g.OnResolve(rec)
	}
}
