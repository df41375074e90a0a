package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"storyline/internal/actor"
	"storyline/internal/approval"
	"storyline/internal/domain"
	"storyline/internal/engine"
	"storyline/internal/metrics"
	"storyline/internal/migrate"
	"storyline/internal/repo"
	"storyline/internal/session"
	"storyline/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"phase_incomplete"`
	Message string         `json:"message" example:"analysis is not complete"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"phase\":\"analysis\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// handlers share one engine and serialise every write. A session is loaded,
// changed and flushed per call, so two writers on the same session would
// otherwise overwrite each other.
type handlers struct {
	engine engine.Engine
	auth   AuthConfig
	logger *zap.Logger
	mu     sync.Mutex
}

// New returns an HTTP handler exposing the Storyline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Storyline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := &handlers{engine: cfg.Engine, auth: cfg.Auth, logger: logger}
	registerDocs(router, basePath)
	registerMetrics(router, cfg.Metrics)
	registerHealth(group, cfg.Engine)
	h.registerSessions(group)
	h.registerDocuments(group)
	h.registerConversation(group)
	h.registerWorkflow(group)
	h.registerEvents(group)
	h.registerToken(group)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	var ie *actor.InvocationError
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrAnalysisIncomplete):
		return newAPIError(http.StatusConflict, "phase_incomplete", msg, nil)
	case errors.Is(err, engine.ErrWorkflowComplete):
		return newAPIError(http.StatusConflict, "workflow_complete", msg, nil)
	case errors.Is(err, engine.ErrNotInAnalysis):
		return newAPIError(http.StatusConflict, "wrong_phase", msg, nil)
	case errors.Is(err, store.ErrNoPendingQuestion):
		return newAPIError(http.StatusConflict, "no_pending_question", msg, nil)
	case errors.Is(err, engine.ErrEmptyMessage), errors.Is(err, approval.ErrMissingFeedback):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.As(err, &ie):
		return newAPIError(http.StatusBadGateway, "actor_failed", msg, map[string]any{"task": ie.Task})
	case strings.Contains(strings.ToLower(msg), "out of range"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	page := docsPage(path.Join("/", basePath, "openapi.json"))
	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, page)
	})
}

func registerMetrics(r chi.Router, m *metrics.Metrics) {
	if m == nil {
		return
	}
	r.Handle("/metrics", m.Handler())
}

// registerOpenAPI serves the document with the error envelope and bearer
// scheme patched in. It is rendered once, on first request.
func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
		err  error
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, _ *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			addErrorResponses(oas)
			addBearerSecurity(oas, path.Join("/", basePath, "health"), path.Join("/", basePath, "auth/token"))
			doc, err = json.Marshal(oas)
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func eachOperation(oas *huma.OpenAPI, fn func(route string, op *huma.Operation)) {
	for route, item := range oas.Paths {
		ops := []*huma.Operation{item.Get, item.Post, item.Put, item.Patch, item.Delete, item.Head, item.Options, item.Trace}
		for _, op := range ops {
			if op != nil {
				fn(route, op)
			}
		}
	}
}

func addErrorResponses(oas *huma.OpenAPI) {
	envelope := &huma.Response{
		Description: "Error envelope",
		Content: map[string]*huma.MediaType{
			"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
		},
	}
	eachOperation(oas, func(_ string, op *huma.Operation) {
		if op.Responses == nil {
			op.Responses = map[string]*huma.Response{}
		}
		op.Responses["default"] = envelope
	})
}

func addBearerSecurity(oas *huma.OpenAPI, public ...string) {
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	bearer := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = bearer
	eachOperation(oas, func(route string, op *huma.Operation) {
		if slices.Contains(public, route) {
			op.Security = []map[string][]string{}
			return
		}
		op.Security = bearer
	})
}

func docsPage(specURL string) string {
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Storyline API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
  <script>
    window.addEventListener("load", function () {
      SwaggerUIBundle({ url: %q, dom_id: "#swagger-ui", persistAuthorization: true });
    });
  </script>
</body>
</html>`, specURL)
}

type healthOutput struct {
	Body struct {
		Status        string `json:"status"`
		SchemaVersion int    `json:"schema_version"`
	}
}

func registerHealth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Liveness and schema version",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		out := &healthOutput{}
		out.Body.Status = "ok"
		if e.DB == nil {
			return out, nil
		}
		if err := e.DB.PingContext(ctx); err != nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "unavailable", "database unreachable", nil)
		}
		v, err := migrate.Version(e.DB)
		if err != nil {
			return nil, handleError(err)
		}
		out.Body.SchemaVersion = v
		return out, nil
	})
}

type sessionPath struct {
	SessionID string `path:"session_id"`
}

// engineFor binds the authenticated subject as the event actor.
func (h *handlers) engineFor(ctx context.Context) engine.Engine {
	e := h.engine
	if p, ok := principalFromContext(ctx); ok && p.ActorID != "" {
		e.ActorID = p.ActorID
	}
	return e
}

func (h *handlers) load(ctx context.Context, id string) (*session.Session, huma.StatusError) {
	s, err := h.engine.Load(ctx, id)
	if err != nil {
		return nil, handleError(err)
	}
	return s, nil
}

func (h *handlers) registerSessions(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List sessions, most recently updated first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body SessionList `json:"body"`
	}, error) {
		items, err := h.engine.Repo.ListSessions(ctx, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.SessionSummary{}
		}
		return &struct {
			Body SessionList `json:"body"`
		}{Body: SessionList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Start a session in the analysis phase",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.SessionRecord `json:"body"`
	}, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		s, err := h.engineFor(ctx).CreateSession(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SessionRecord `json:"body"`
		}{Body: s.Record()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Full session record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body domain.SessionRecord `json:"body"`
	}, error) {
		s, herr := h.load(ctx, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		return &struct {
			Body domain.SessionRecord `json:"body"`
		}{Body: s.Record()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-session",
		Method:        http.MethodDelete,
		Path:          "/sessions/{session_id}",
		Summary:       "Delete a session and its events",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct{}, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if err := h.engine.Repo.DeleteSession(ctx, input.SessionID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-progress",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/progress",
		Summary:     "Progress across every stage",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body engine.Progress `json:"body"`
	}, error) {
		s, herr := h.load(ctx, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		return &struct {
			Body engine.Progress `json:"body"`
		}{Body: h.engine.Progress(s)}, nil
	})
}

func (h *handlers) registerDocuments(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "session-requirements",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/requirements",
		Summary:     "Collected requirements by category",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body RequirementsResponse `json:"body"`
	}, error) {
		s, herr := h.load(ctx, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		return &struct {
			Body RequirementsResponse `json:"body"`
		}{Body: requirementsResponse(h.engine, s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-brief",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/brief",
		Summary:     "Product brief",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body BriefResponse `json:"body"`
	}, error) {
		s, herr := h.load(ctx, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		return &struct {
			Body BriefResponse `json:"body"`
		}{Body: briefResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-solution",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/solution",
		Summary:     "Business flows",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body SolutionResponse `json:"body"`
	}, error) {
		s, herr := h.load(ctx, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		complete, reason := h.engine.SolutionStatus(s)
		return &struct {
			Body SolutionResponse `json:"body"`
		}{Body: SolutionResponse{
			Flows:    s.Documents.Flows(),
			Complete: complete,
			Reason:   reason,
			Text:     s.Documents.SolutionText(),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-backlog",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/backlog",
		Summary:     "Epics and stories with the structure check",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body BacklogResponse `json:"body"`
	}, error) {
		s, herr := h.load(ctx, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		return &struct {
			Body BacklogResponse `json:"body"`
		}{Body: BacklogResponse{
			Epics:     s.Documents.Epics(),
			Stories:   s.Documents.Stories(),
			Structure: s.Documents.ValidateEpicStoryStructure(),
			Text:      s.Documents.BacklogText(),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-approvals",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/approvals",
		Summary:     "Approval records and refinement history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body ApprovalsResponse `json:"body"`
	}, error) {
		s, herr := h.load(ctx, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		records, refinements := s.Approvals.Snapshot()
		return &struct {
			Body ApprovalsResponse `json:"body"`
		}{Body: ApprovalsResponse{Approvals: records, Refinements: refinements}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-transitions",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/transitions",
		Summary:     "Phase transition history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body TransitionsResponse `json:"body"`
	}, error) {
		s, herr := h.load(ctx, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		return &struct {
			Body TransitionsResponse `json:"body"`
		}{Body: TransitionsResponse{Items: append([]domain.PhaseTransition{}, s.Machine.History()...)}}, nil
	})
}

func (h *handlers) registerConversation(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "post-message",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/messages",
		Summary:     "Send one analysis message",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		SessionID string         `path:"session_id"`
		Body      MessageRequest `json:"body"`
	}) (*struct {
		Body engine.TurnResult `json:"body"`
	}, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		res, err := h.engineFor(ctx).Converse(ctx, input.SessionID, input.Body.Message)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.TurnResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "post-answer",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/answers",
		Summary:     "Answer the pending question",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string        `path:"session_id"`
		Body      AnswerRequest `json:"body"`
	}) (*struct {
		Body domain.UserChoice `json:"body"`
	}, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		choice, err := h.engineFor(ctx).AnswerQuestion(ctx, input.SessionID, input.Body.Option-1)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.UserChoice `json:"body"`
		}{Body: choice}, nil
	})
}

type advanceInput struct {
	SessionID string         `path:"session_id"`
	Body      AdvanceRequest `json:"body"`
}

type advanceOutput struct {
	Body AdvanceResponse `json:"body"`
}

func (h *handlers) registerWorkflow(api huma.API) {
	errs := []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusBadGateway}

	huma.Register(api, huma.Operation{
		OperationID: "advance",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/advance",
		Summary:     "Run the next gated stage",
		Errors:      errs,
	}, func(ctx context.Context, input *advanceInput) (*advanceOutput, error) {
		return h.runStages(ctx, input, false)
	})

	huma.Register(api, huma.Operation{
		OperationID: "finish",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/finish",
		Summary:     "Run gated stages until one is rejected or the backlog is approved",
		Errors:      errs,
	}, func(ctx context.Context, input *advanceInput) (*advanceOutput, error) {
		return h.runStages(ctx, input, true)
	})
}

func (h *handlers) runStages(ctx context.Context, input *advanceInput, finish bool) (*advanceOutput, error) {
	decider, herr := queuedDecider(input.Body.Decisions)
	if herr != nil {
		return nil, herr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.engineFor(ctx)
	var results []engine.StageResult
	if finish {
		out, err := e.Finish(ctx, input.SessionID, decider, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		results = out
	} else {
		res, err := e.Advance(ctx, input.SessionID, decider, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		results = []engine.StageResult{res}
	}
	for _, res := range results {
		h.logger.Info("stage finished",
			zap.String("session_id", input.SessionID),
			zap.String("phase", string(res.Phase)),
			zap.String("status", string(res.Status)),
			zap.Bool("forced", res.Forced),
		)
	}
	s, herr := h.load(ctx, input.SessionID)
	if herr != nil {
		return nil, herr
	}
	return &advanceOutput{Body: AdvanceResponse{Results: results, Phase: s.Phase()}}, nil
}

func queuedDecider(in []DecisionRequest) (approval.Decider, huma.StatusError) {
	out := make([]approval.Decision, 0, len(in))
	for i, d := range in {
		v, err := approval.ParseVerdict(d.Verdict)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"index": i})
		}
		out = append(out, approval.Decision{Verdict: v, Feedback: d.Feedback})
	}
	return approval.Queue(out...), nil
}

func (h *handlers) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/events",
		Summary:     "List recent session events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := h.engine.Repo.LatestEvents(ctx, limit+1, cursorID, input.SessionID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func (h *handlers) registerToken(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-token",
		Method:      http.MethodPost,
		Path:        "/auth/token",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body TokenRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		if !h.auth.DevTokens || strings.TrimSpace(h.auth.JWTSecret) == "" {
			return nil, newAPIError(http.StatusNotFound, "not_found", "dev tokens are disabled", nil)
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		token, err := SignToken(h.auth.JWTSecret, strings.TrimSpace(input.Body.Subject), defaultTokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: TokenResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
