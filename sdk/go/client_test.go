package storylinesdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storyline/internal/actor"
	"storyline/internal/config"
	"storyline/internal/db"
	"storyline/internal/domain"
	"storyline/internal/engine"
	"storyline/internal/migrate"
	"storyline/internal/prompts"
	"storyline/internal/server"
	storylinesdk "storyline/sdk/go"
)

func newClient(t *testing.T) (*storylinesdk.Client, *actor.Scripted) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	scripted := actor.NewScripted()
	e := engine.New(conn, config.Default(), scripted, zaptest.NewLogger(t), nil)
	handler, err := server.New(server.Config{Engine: e})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return storylinesdk.New(srv.URL), scripted
}

const analysisReply = `=== EXTRACTED REQUIREMENTS ===
PROBLEM_GOALS:
- Reduce churn
- Grow revenue
USERS_STAKEHOLDERS:
- Store owners
- Support staff
FEATURES_SCOPE:
- Email campaigns
- Churn dashboard
=== END REQUIREMENTS ===
=== USER RESPONSE ===
Which channel matters most?
=== END RESPONSE ===
=== USER QUESTION ===
QUESTION: Which channel matters most?
OPTIONS:
- Email | email
- SMS | sms
=== END QUESTION ===`

func TestClientWorkflow(t *testing.T) {
	c, scripted := newClient(t)
	ctx := context.Background()

	s, err := c.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "analysis", s.CurrentPhase)

	scripted.Reply(prompts.TaskAnalysis, analysisReply)
	scripted.Reply(prompts.TaskPhaseEvaluation, "=== PHASE DECISION ===\nDECISION: READY\nREASONING: ok\n=== END DECISION ===")
	turn, err := c.Send(ctx, s.ID, "We keep losing store owners.")
	require.NoError(t, err)
	assert.True(t, turn.Complete)
	require.NotNil(t, turn.Question)
	require.Len(t, turn.Question.Options, 2)

	choice, err := c.Answer(ctx, s.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "sms", choice.SelectedValue)

	scripted.ReplyWithPayload(prompts.TaskBriefCreation, "brief", domain.ProductBrief{
		Summary: "Retention toolkit", ProblemStatement: "Churn", TargetUsers: "Owners", Goals: "Cut churn", Scope: "Campaigns",
	})
	scripted.Reply(prompts.TaskBriefReview, "REVIEW STATUS: APPROVED")
	res, err := c.Advance(ctx, s.ID, false, storylinesdk.Approve())
	require.NoError(t, err)
	assert.Equal(t, "brief", res.CurrentPhase)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "approved", res.Results[0].Status)

	doc, err := c.Brief(ctx, s.ID)
	require.NoError(t, err)
	assert.Contains(t, doc.Text, "Retention toolkit")

	list, err := c.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "brief", list[0].CurrentPhase)

	evts, err := c.Events(ctx, s.ID, 3)
	require.NoError(t, err)
	assert.Len(t, evts, 3)
}

func TestClientErrors(t *testing.T) {
	c, _ := newClient(t)
	_, err := c.GetSession(context.Background(), "missing")
	var apiErr *storylinesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)
}
