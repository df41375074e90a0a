package actor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap/zaptest"

	"storyline/internal/actor"
	"storyline/internal/config"
	"storyline/internal/metrics"
)

type fakeModel struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, m := range messages {
		for _, p := range m.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				f.prompts = append(f.prompts, tc.Text)
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestInterpolate(t *testing.T) {
	out := actor.Interpolate("Turn {turn_count}: {user_message} {missing}", map[string]any{"turn_count": 3, "user_message": "hi"})
	assert.Equal(t, "Turn 3: hi {missing}", out)
}

func TestLLMExtractsPayload(t *testing.T) {
	model := &fakeModel{reply: "Brief below\n```json\n{\"product_summary\": \"x\",}\n```"}
	l := &actor.LLM{Model: model, Logger: zaptest.NewLogger(t)}

	resp, err := l.Invoke(context.Background(), actor.Request{
		Task:         "brief_creation",
		Instructions: "Write a brief for:\n{requirements_summary}",
		Inputs:       map[string]any{"requirements_summary": "## Problem & Goals\n1. A"},
		Schema:       "product_brief",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"product_summary": "x"}`, string(resp.Payload))
	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "1. A")
	assert.Contains(t, model.prompts[0], "product_brief payload")
}

func TestLLMFreeTextHasNoPayload(t *testing.T) {
	l := &actor.LLM{Model: &fakeModel{reply: "{not json"}}
	resp, err := l.Invoke(context.Background(), actor.Request{Task: "brief_creation", Schema: "product_brief"})
	require.NoError(t, err)
	assert.False(t, resp.HasPayload())
	assert.Equal(t, "{not json", resp.Raw)
}

func TestLLMFailures(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := (&actor.LLM{Model: &fakeModel{err: boom}}).Invoke(context.Background(), actor.Request{Task: "analysis"})
	var ie *actor.InvocationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "analysis", ie.Task)
	assert.ErrorIs(t, err, boom)

	_, err = (&actor.LLM{Model: &fakeModel{reply: "  \n"}}).Invoke(context.Background(), actor.Request{Task: "analysis"})
	assert.ErrorIs(t, err, actor.ErrEmptyReply)
}

func TestScripted(t *testing.T) {
	s := actor.NewScripted().
		Reply("analysis", "first").
		ReplyWithPayload("brief_creation", "raw", map[string]string{"scope": "MVP"}).
		Fail("backlog_creation", errors.New("quota"))
	ctx := context.Background()

	resp, err := s.Invoke(ctx, actor.Request{Task: "analysis"})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Raw)

	_, err = s.Invoke(ctx, actor.Request{Task: "analysis"})
	assert.ErrorIs(t, err, actor.ErrNoScript)

	resp, err = s.Invoke(ctx, actor.Request{Task: "brief_creation"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"scope":"MVP"}`, string(resp.Payload))

	_, err = s.Invoke(ctx, actor.Request{Task: "backlog_creation"})
	assert.EqualError(t, err, "actor backlog_creation: quota")
	assert.Len(t, s.Requests(), 4)
}

func TestInstrumentedWrapsPlainErrors(t *testing.T) {
	m := metrics.New()
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	inst := actor.Instrumented{Next: plainFailing{}, Metrics: m, Logger: zaptest.NewLogger(t), Now: clock}
	_, err := inst.Invoke(context.Background(), actor.Request{Task: "analysis"})
	var ie *actor.InvocationError
	require.ErrorAs(t, err, &ie)
}

type plainFailing struct{}

func (plainFailing) Invoke(context.Context, actor.Request) (actor.Response, error) {
	return actor.Response{}, errors.New("plain")
}

func TestNewScriptedProvider(t *testing.T) {
	a, err := actor.New(config.Actor{Provider: "scripted"}, nil)
	require.NoError(t, err)
	_, ok := a.(*actor.Scripted)
	assert.True(t, ok)

	_, err = actor.New(config.Actor{Provider: "nope"}, nil)
	assert.Error(t, err)
}

func TestLoadScript(t *testing.T) {
	s, err := actor.LoadScript([]byte(`
analysis:
  - raw: first
  - raw: second
brief_creation:
  - raw: brief
    payload:
      summary: Retention toolkit
      goals: Cut churn
backlog_creation:
  - error: model offline
`))
	require.NoError(t, err)
	ctx := context.Background()

	resp, err := s.Invoke(ctx, actor.Request{Task: "analysis"})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Raw)
	assert.Equal(t, 1, s.Pending("analysis"))

	resp, err = s.Invoke(ctx, actor.Request{Task: "brief_creation"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"Retention toolkit","goals":"Cut churn"}`, string(resp.Payload))

	_, err = s.Invoke(ctx, actor.Request{Task: "backlog_creation"})
	assert.ErrorContains(t, err, "model offline")

	_, err = actor.LoadScript([]byte("analysis: [oops"))
	assert.Error(t, err)
}
