package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"storyline/internal/domain"
)

var ErrNoPendingQuestion = errors.New("no pending question")

// Interactions tracks the multiple-choice question waiting for the user and
// the choices already made.
type Interactions struct {
	pending *domain.PendingQuestion
	choices []domain.UserChoice
	Now     func() time.Time
}

func NewInteractions() *Interactions {
	return &Interactions{}
}

func (in *Interactions) now() string {
	if in.Now != nil {
		return in.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// Ask replaces the pending question. A question needs text and at least two
// options, each with a label and a value.
func (in *Interactions) Ask(q domain.PendingQuestion) error {
	if strings.TrimSpace(q.Question) == "" {
		return errors.New("question text is required")
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("question needs at least 2 options, got %d", len(q.Options))
	}
	for i, o := range q.Options {
		if strings.TrimSpace(o.Label) == "" || strings.TrimSpace(o.Value) == "" {
			return fmt.Errorf("option %d needs a label and a value", i+1)
		}
	}
	q.Options = append([]domain.Option(nil), q.Options...)
	if q.AskedAt == "" {
		q.AskedAt = in.now()
	}
	in.pending = &q
	return nil
}

func (in *Interactions) Pending() (domain.PendingQuestion, bool) {
	if in.pending == nil {
		return domain.PendingQuestion{}, false
	}
	return *in.pending, true
}

// Choose answers the pending question with the option at index (zero based)
// and clears it.
func (in *Interactions) Choose(index int) (domain.UserChoice, error) {
	if in.pending == nil {
		return domain.UserChoice{}, ErrNoPendingQuestion
	}
	if index < 0 || index >= len(in.pending.Options) {
		return domain.UserChoice{}, fmt.Errorf("option %d out of range (1-%d)", index+1, len(in.pending.Options))
	}
	opt := in.pending.Options[index]
	c := domain.UserChoice{
		Context:       in.pending.Context,
		Question:      in.pending.Question,
		SelectedLabel: opt.Label,
		SelectedValue: opt.Value,
		Timestamp:     in.now(),
	}
	in.choices = append(in.choices, c)
	in.pending = nil
	return c, nil
}

func (in *Interactions) Choices() []domain.UserChoice {
	return append([]domain.UserChoice(nil), in.choices...)
}

// LastChoice returns the most recent choice made under the given context.
func (in *Interactions) LastChoice(context string) (domain.UserChoice, bool) {
	for i := len(in.choices) - 1; i >= 0; i-- {
		if in.choices[i].Context == context {
			return in.choices[i], true
		}
	}
	return domain.UserChoice{}, false
}

func (in *Interactions) Snapshot() ([]domain.UserChoice, *domain.PendingQuestion) {
	choices := append([]domain.UserChoice{}, in.choices...)
	if in.pending == nil {
		return choices, nil
	}
	q := *in.pending
	return choices, &q
}

func (in *Interactions) Restore(choices []domain.UserChoice, pending *domain.PendingQuestion) {
	in.choices = append([]domain.UserChoice(nil), choices...)
	in.pending = nil
	if pending != nil {
		q := *pending
		in.pending = &q
	}
}
