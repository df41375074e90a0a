package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storyline/internal/actor"
	"storyline/internal/config"
	"storyline/internal/db"
	"storyline/internal/domain"
	"storyline/internal/engine"
	"storyline/internal/events"
	"storyline/internal/metrics"
	"storyline/internal/migrate"
	"storyline/internal/prompts"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	Actor  *actor.Scripted
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	workspace := t.TempDir()
	_, err := db.EnsureWorkspace(workspace)
	require.NoError(t, err)
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))

	logger := zaptest.NewLogger(t)
	scripted := actor.NewScripted()
	m := metrics.New()
	e := engine.New(conn, config.Default(), scripted, logger, m)
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth, Metrics: m, Logger: logger})
	require.NoError(t, err)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Actor:  scripted,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	body := decode(t, data)
	envelope, ok := body["error"].(map[string]any)
	require.True(t, ok, string(data))
	return envelope["code"].(string)
}

const completeAnalysisReply = `=== EXTRACTED REQUIREMENTS ===
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
Thanks, that covers it.
=== END RESPONSE ===`

const readyDecision = "=== PHASE DECISION ===\nDECISION: READY\nREASONING: Enough detail.\n=== END DECISION ==="

func (s *testServer) createSession(t *testing.T, headers map[string]string) string {
	t.Helper()
	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/sessions", nil, headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	id, _ := decode(t, data)["session_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func (s *testServer) completeAnalysis(t *testing.T, id string) {
	t.Helper()
	s.Actor.Reply(prompts.TaskAnalysis, completeAnalysisReply)
	s.Actor.Reply(prompts.TaskPhaseEvaluation, readyDecision)
	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/sessions/"+id+"/messages", map[string]any{
		"message": "We keep losing store owners.",
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, true, decode(t, data)["complete"])
}

func (s *testServer) scriptBrief() {
	s.Actor.ReplyWithPayload(prompts.TaskBriefCreation, "brief written", domain.ProductBrief{
		Summary:          "Retention toolkit",
		ProblemStatement: "Owners churn after a month",
		TargetUsers:      "Store owners",
		Goals:            "Cut churn by 20%",
		Scope:            "Campaigns and dashboard",
	})
	s.Actor.Reply(prompts.TaskBriefReview, "REVIEW STATUS: APPROVED")
}

func TestHealthDocsAndOpenAPI(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	health := decode(t, data)
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 2, health["schema_version"])

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	oas := decode(t, data)
	paths, ok := oas["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/v0/sessions/{session_id}/advance")
	assert.Contains(t, paths, "/v0/sessions/{session_id}/messages")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/docs", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "/v0/openapi.json")
}

func TestConversationAndAdvance(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()
	id := srv.createSession(t, nil)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	items := decode(t, data)["items"].([]any)
	require.Len(t, items, 1)

	srv.completeAnalysis(t, id)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/"+id+"/requirements", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	reqs := decode(t, data)
	assert.EqualValues(t, 6, reqs["total"])
	assert.Equal(t, true, reqs["complete"])

	srv.scriptBrief()
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+id+"/advance", map[string]any{
		"decisions": []map[string]any{{"verdict": "approved"}},
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	adv := decode(t, data)
	assert.Equal(t, "brief", adv["current_phase"])
	results := adv["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "approved", results[0].(map[string]any)["status"])

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/"+id+"/brief", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	brief := decode(t, data)
	assert.Equal(t, true, brief["valid"])
	assert.Contains(t, brief["text"], "Retention toolkit")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/"+id+"/transitions", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decode(t, data)["items"], 1)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/"+id+"/progress", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	approvals := decode(t, data)["approvals"].(map[string]any)
	assert.Equal(t, "approved", approvals["brief"])
}

func TestUnansweredStageIsRejected(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	id := srv.createSession(t, nil)
	srv.completeAnalysis(t, id)
	srv.scriptBrief()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+id+"/advance", map[string]any{}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	result := decode(t, data)["results"].([]any)[0].(map[string]any)
	assert.Equal(t, "rejected", result["status"])

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/sessions/"+id+"/approvals", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	records := decode(t, data)["phase_approvals"].(map[string]any)["brief"].([]any)
	require.Len(t, records, 1)
}

func TestWorkflowErrorsUseEnvelope(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()
	id := srv.createSession(t, nil)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+id+"/advance", map[string]any{}, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "phase_incomplete", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/missing/progress", nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+id+"/answers", map[string]any{"option": 1}, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "no_pending_question", errorCode(t, data))

	srv.Actor.Fail(prompts.TaskAnalysis, errors.New("model offline"))
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+id+"/messages", map[string]any{"message": "hello"}, nil)
	require.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Equal(t, "actor_failed", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+id+"/advance", map[string]any{
		"force":     true,
		"decisions": []map[string]any{{"verdict": "maybe"}},
	}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestEventsPagination(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()
	id := srv.createSession(t, nil)
	srv.completeAnalysis(t, id)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/"+id+"/events?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var page paginatedEvents
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.Greater(t, page.Items[0].ID, page.Items[1].ID)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/"+id+"/events?limit=50&cursor="+page.NextCursor, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var rest paginatedEvents
	require.NoError(t, json.Unmarshal(data, &rest))
	require.NotEmpty(t, rest.Items)
	assert.Less(t, rest.Items[0].ID, page.Items[1].ID)
	assert.Empty(t, rest.NextCursor)
	assert.Equal(t, events.SessionCreated, rest.Items[len(rest.Items)-1].Type)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/"+id+"/events?type="+events.RequirementsAdded, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var filtered paginatedEvents
	require.NoError(t, json.Unmarshal(data, &filtered))
	require.Len(t, filtered.Items, 1)
	assert.Equal(t, srv.Engine.ActorID, filtered.Items[0].ActorID)

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/"+id+"/events?cursor=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestBearerAuth(t *testing.T) {
	const secret = "test-secret"
	srv := newTestServer(t, AuthConfig{JWTSecret: secret, DevTokens: true})
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", errorCode(t, data))

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/token", map[string]any{"subject": "pm-anna"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	token, _ := decode(t, data)["token"].(string)
	require.NotEmpty(t, token)

	headers := map[string]string{"Authorization": "Bearer " + token}
	id := srv.createSession(t, headers)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/"+id+"/events", nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var page paginatedEvents
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "pm-anna", page.Items[0].ActorID)
}

func TestDevTokenDisabledByDefault(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: "s"})
	res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/token", map[string]any{"subject": "x"}, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestSignTokenRoundTrip(t *testing.T) {
	token, err := SignToken("k", "alice", time.Minute)
	require.NoError(t, err)
	p, err := verifyToken("k", token)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.ActorID)

	_, err = verifyToken("other", token)
	assert.Error(t, err)
	_, err = SignToken("", "alice", time.Minute)
	assert.Error(t, err)
}

type hookSink struct {
	mu       sync.Mutex
	bodies   []webhookEvent
	sigs     []string
	raw      [][]byte
	failNext bool
}

func (h *hookSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failNext {
		h.failNext = false
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}
	data, _ := io.ReadAll(r.Body)
	var evt webhookEvent
	_ = json.Unmarshal(data, &evt)
	h.bodies = append(h.bodies, evt)
	h.sigs = append(h.sigs, r.Header.Get(HeaderSignature))
	h.raw = append(h.raw, data)
	w.WriteHeader(http.StatusNoContent)
}

func (h *hookSink) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.bodies))
	for _, b := range h.bodies {
		out = append(out, b.Type)
	}
	return out
}

func TestWebhookDispatcherDeliversNewEvents(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	ctx := context.Background()
	_, err := srv.Engine.CreateSession(ctx)
	require.NoError(t, err)

	sink := &hookSink{}
	hook := httptest.NewServer(sink)
	defer hook.Close()
	t.Setenv("STORYLINE_TEST_HOOK_SECRET", "hook-secret")
	d := &WebhookDispatcher{
		Repo: srv.Engine.Repo,
		Webhooks: []config.Webhook{
			{URL: hook.URL, Enabled: true, SecretEnv: "STORYLINE_TEST_HOOK_SECRET", Events: []string{events.SessionCreated, events.RequirementsAdded}},
			{URL: hook.URL + "/off", Enabled: false},
		},
		Logger: zaptest.NewLogger(t),
	}

	// First round starts the cursor at the newest event.
	d.DispatchAll(ctx)
	assert.Empty(t, sink.types())

	s, err := srv.Engine.CreateSession(ctx)
	require.NoError(t, err)
	srv.completeAnalysisDirect(t, s.ID)

	d.DispatchAll(ctx)
	assert.Equal(t, []string{events.SessionCreated, events.RequirementsAdded}, sink.types())
	sink.mu.Lock()
	assert.Equal(t, Sign("hook-secret", sink.raw[0]), sink.sigs[0])
	assert.True(t, strings.HasPrefix(sink.sigs[0], "sha256="))
	assert.Equal(t, s.ID, sink.bodies[0].SessionID)
	sink.mu.Unlock()

	// Nothing new means nothing resent.
	d.DispatchAll(ctx)
	assert.Len(t, sink.types(), 2)

	cur, err := srv.Engine.Repo.WebhookCursor(ctx, hook.URL)
	require.NoError(t, err)
	latest, err := srv.Engine.Repo.LatestEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, latest, cur)
}

func TestWebhookFailureRetriesSameEvent(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	ctx := context.Background()
	sink := &hookSink{}
	hook := httptest.NewServer(sink)
	defer hook.Close()
	d := &WebhookDispatcher{
		Repo:     srv.Engine.Repo,
		Webhooks: []config.Webhook{{URL: hook.URL, Enabled: true}},
		Logger:   zaptest.NewLogger(t),
	}
	d.DispatchAll(ctx)

	s, err := srv.Engine.CreateSession(ctx)
	require.NoError(t, err)
	sink.failNext = true
	d.DispatchAll(ctx)
	assert.Empty(t, sink.types())

	d.DispatchAll(ctx)
	require.Equal(t, []string{events.SessionCreated}, sink.types())
	assert.Equal(t, s.ID, sink.bodies[0].SessionID)
	assert.Empty(t, sink.sigs[0])
}

func (s *testServer) completeAnalysisDirect(t *testing.T, id string) {
	t.Helper()
	s.Actor.Reply(prompts.TaskAnalysis, completeAnalysisReply)
	s.Actor.Reply(prompts.TaskPhaseEvaluation, readyDecision)
	_, err := s.Engine.Converse(context.Background(), id, "We keep losing store owners.")
	require.NoError(t, err)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	id := srv.createSession(t, nil)
	srv.completeAnalysis(t, id)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "storyline_requirements_added_total")
}
