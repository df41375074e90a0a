package storylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Storyline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. Stage runs call the actor several
// times, so the timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  2 * time.Minute,
	}
}

// Session is the listing row for a session.
type Session struct {
	ID           string `json:"id"`
	CurrentPhase string `json:"current_phase"`
	StartedAt    string `json:"started_at"`
	UpdatedAt    string `json:"updated_at"`
}

// SessionRecord is the full session document (partial).
type SessionRecord struct {
	ID           string              `json:"session_id"`
	StartedAt    string              `json:"session_start"`
	CurrentPhase string              `json:"current_phase"`
	Requirements map[string][]string `json:"requirements"`
}

// Option is one answer to a pending question.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Question is a multiple choice question raised during analysis.
type Question struct {
	Context  string   `json:"context,omitempty"`
	Question string   `json:"question"`
	Options  []Option `json:"options"`
}

// TurnResult is the outcome of one analysis message.
type TurnResult struct {
	Reply    string    `json:"reply"`
	Complete bool      `json:"complete"`
	Reason   string    `json:"reason"`
	Question *Question `json:"question,omitempty"`
}

// Choice records an answered question.
type Choice struct {
	Question      string `json:"question"`
	SelectedLabel string `json:"selected_label"`
	SelectedValue string `json:"selected_value"`
}

// Decision answers one presented stage output.
type Decision struct {
	Verdict  string `json:"verdict"`
	Feedback string `json:"feedback,omitempty"`
}

// Approve, Refine and Reject build decisions.
func Approve() Decision { return Decision{Verdict: "approved"} }
func Refine(feedback string) Decision { return Decision{Verdict: "refine", Feedback: feedback} }
func Reject(feedback string) Decision { return Decision{Verdict: "rejected", Feedback: feedback} }

// StageResult reports how one gated stage ended.
type StageResult struct {
	Phase    string `json:"phase"`
	Status   string `json:"status"`
	Forced   bool   `json:"forced"`
	Attempts int    `json:"attempts"`
	Preview  string `json:"preview"`
	Report   string `json:"report"`
}

// AdvanceResult is returned by Advance and Finish.
type AdvanceResult struct {
	Results      []StageResult `json:"results"`
	CurrentPhase string        `json:"current_phase"`
}

// Document is a rendered stage artifact.
type Document struct {
	Text string `json:"text"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Sessions lists sessions, most recently updated first.
func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	var resp struct {
		Items []Session `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "sessions", nil, &resp)
	return resp.Items, err
}

// CreateSession starts a session in the analysis phase.
func (c *Client) CreateSession(ctx context.Context) (SessionRecord, error) {
	var resp SessionRecord
	err := c.do(ctx, http.MethodPost, "sessions", nil, &resp)
	return resp, err
}

// GetSession fetches the session document.
func (c *Client) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	var resp SessionRecord
	err := c.do(ctx, http.MethodGet, sessionPath(id, ""), nil, &resp)
	return resp, err
}

// Send posts one analysis message.
func (c *Client) Send(ctx context.Context, id, message string) (TurnResult, error) {
	var resp TurnResult
	err := c.do(ctx, http.MethodPost, sessionPath(id, "messages"), map[string]any{"message": message}, &resp)
	return resp, err
}

// Answer picks option (one based) for the pending question.
func (c *Client) Answer(ctx context.Context, id string, option int) (Choice, error) {
	var resp Choice
	err := c.do(ctx, http.MethodPost, sessionPath(id, "answers"), map[string]any{"option": option}, &resp)
	return resp, err
}

// Advance runs the next gated stage. Each presented output consumes one
// decision; outputs left without one are rejected.
func (c *Client) Advance(ctx context.Context, id string, force bool, decisions ...Decision) (AdvanceResult, error) {
	return c.run(ctx, sessionPath(id, "advance"), force, decisions)
}

// Finish runs stages until one is rejected or the backlog is approved.
func (c *Client) Finish(ctx context.Context, id string, force bool, decisions ...Decision) (AdvanceResult, error) {
	return c.run(ctx, sessionPath(id, "finish"), force, decisions)
}

func (c *Client) run(ctx context.Context, endpoint string, force bool, decisions []Decision) (AdvanceResult, error) {
	if decisions == nil {
		decisions = []Decision{}
	}
	var resp AdvanceResult
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"force": force, "decisions": decisions}, &resp)
	return resp, err
}

// Brief, Solution and Backlog return the rendered artifacts.
func (c *Client) Brief(ctx context.Context, id string) (Document, error) {
	return c.document(ctx, id, "brief")
}

func (c *Client) Solution(ctx context.Context, id string) (Document, error) {
	return c.document(ctx, id, "solution")
}

func (c *Client) Backlog(ctx context.Context, id string) (Document, error) {
	return c.document(ctx, id, "backlog")
}

func (c *Client) document(ctx context.Context, id, kind string) (Document, error) {
	var resp Document
	err := c.do(ctx, http.MethodGet, sessionPath(id, kind), nil, &resp)
	return resp, err
}

// Events returns recent events for a session.
func (c *Client) Events(ctx context.Context, id string, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, id, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, id string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := sessionPath(id, "events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func sessionPath(id, sub string) string {
	p := "sessions/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if c.BasePath != "" {
		base += "/" + strings.Trim(c.BasePath, "/")
	}
	return base
}
