package console_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyline/internal/approval"
	"storyline/internal/console"
	"storyline/internal/domain"
)

func TestDecide(t *testing.T) {
	req := approval.Request{Phase: domain.PhaseBrief, Title: "Product Brief", Preview: "# Brief\n", Attempt: 1}
	cases := []struct {
		name  string
		input string
		want  approval.Decision
	}{
		{"approve", "a\n", approval.Approve()},
		{"retry on junk", "maybe\nyes\n", approval.Approve()},
		{"refine asks until feedback", "r\n\nshorter please\n", approval.Refine("shorter please")},
		{"reject with reason", "x\nout of scope\n", approval.Decision{Verdict: approval.VerdictRejected, Feedback: "out of scope"}},
		{"last line without newline", "approve", approval.Approve()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			p := console.New(strings.NewReader(tc.input), &out)
			got, err := p.Decide(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Contains(t, out.String(), "=== Product Brief (attempt 1) ===")
		})
	}
}

func TestDecideClosedInput(t *testing.T) {
	p := console.New(strings.NewReader(""), &bytes.Buffer{})
	_, err := p.Decide(context.Background(), approval.Request{Title: "Backlog"})
	assert.ErrorIs(t, err, console.ErrClosed)

	p = console.New(strings.NewReader("r\n"), &bytes.Buffer{})
	_, err = p.Decide(context.Background(), approval.Request{Title: "Backlog"})
	assert.ErrorIs(t, err, console.ErrClosed)
}

func TestChoose(t *testing.T) {
	q := domain.PendingQuestion{
		Question: "Which channel?",
		Options:  []domain.Option{{Label: "Email", Value: "email"}, {Label: "SMS", Value: "sms"}},
	}
	var out bytes.Buffer
	p := console.New(strings.NewReader("7\n2\n"), &out)
	idx, err := p.Choose(q)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Contains(t, out.String(), "  1) Email")
	assert.Contains(t, out.String(), "Not an option: 7")

	p = console.New(strings.NewReader("\n"), &bytes.Buffer{})
	idx, err = p.Choose(q)
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
}
