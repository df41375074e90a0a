// Package console collects review decisions and question answers from a
// terminal.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"storyline/internal/approval"
	"storyline/internal/domain"
)

// ErrClosed is returned when input ends before an answer is given.
var ErrClosed = errors.New("input closed")

type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// Line prints prompt and reads one trimmed line.
func (p *Prompter) Line(prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(p.out, prompt)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", ErrClosed
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Decide shows the preview and asks for a verdict until a valid one is
// given. Refine keeps asking until feedback is entered.
func (p *Prompter) Decide(ctx context.Context, req approval.Request) (approval.Decision, error) {
	fmt.Fprintf(p.out, "\n=== %s (attempt %d) ===\n%s\n\n", req.Title, req.Attempt, strings.TrimSpace(req.Preview))
	for {
		if err := ctx.Err(); err != nil {
			return approval.Decision{}, err
		}
		answer, err := p.Line("[a]pprove, [r]efine or re[x]ject? ")
		if err != nil {
			return approval.Decision{}, err
		}
		verdict, err := approval.ParseVerdict(answer)
		if err != nil {
			fmt.Fprintf(p.out, "Please answer a, r or x.\n")
			continue
		}
		switch verdict {
		case approval.VerdictRefine:
			for {
				fb, err := p.Line("What should change? ")
				if err != nil {
					return approval.Decision{}, err
				}
				if fb != "" {
					return approval.Refine(fb), nil
				}
			}
		case approval.VerdictRejected:
			reason, err := p.Line("Reason (optional): ")
			if err != nil {
				return approval.Decision{}, err
			}
			return approval.Decision{Verdict: approval.VerdictRejected, Feedback: reason}, nil
		default:
			return approval.Approve(), nil
		}
	}
}

// Choose lists the options of q and returns the zero based index picked.
// An empty answer skips the question and returns -1.
func (p *Prompter) Choose(q domain.PendingQuestion) (int, error) {
	fmt.Fprintf(p.out, "\n%s\n", q.Question)
	for i, o := range q.Options {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, o.Label)
	}
	for {
		answer, err := p.Line(fmt.Sprintf("Choose 1-%d (enter to skip): ", len(q.Options)))
		if err != nil {
			return -1, err
		}
		if answer == "" {
			return -1, nil
		}
		n, err := strconv.Atoi(answer)
		if err != nil || n < 1 || n > len(q.Options) {
			fmt.Fprintf(p.out, "Not an option: %s\n", answer)
			continue
		}
		return n - 1, nil
	}
}
