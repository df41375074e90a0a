package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storyline/internal/actor"
	"storyline/internal/config"
	"storyline/internal/domain"
	"storyline/internal/events"
	"storyline/internal/metrics"
	"storyline/internal/prompts"
	"storyline/internal/repo"
	"storyline/internal/session"
)

var (
	ErrAnalysisIncomplete = errors.New("analysis is not complete")
	ErrWorkflowComplete   = errors.New("workflow already complete")
	ErrNotInAnalysis      = errors.New("conversation is only open during analysis")
	ErrEmptyMessage       = errors.New("message is empty")
)

// Engine orchestrates one session at a time. Every operation loads the
// session, mutates it in memory and persists the record together with its
// events in a single transaction. A session whose operation failed is
// discarded, so the stored record never holds a partial turn.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Actor   actor.Actor
	Prompts *prompts.Catalogue
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
	// ActorID is recorded on every event.
	ActorID string
}

func New(db *sql.DB, cfg *config.Config, a actor.Actor, logger *zap.Logger, m *metrics.Metrics) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var act actor.Actor
	if a != nil {
		act = actor.Instrumented{Next: a, Logger: logger, Metrics: m}
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Config:  cfg,
		Actor:   act,
		Prompts: prompts.Default(),
		Logger:  logger,
		Metrics: m,
		Now:     time.Now,
		ActorID: "local-user",
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

func (e Engine) catalogue() *prompts.Catalogue {
	if e.Prompts != nil {
		return e.Prompts
	}
	return prompts.Default()
}

// CreateSession starts and stores an empty session.
func (e Engine) CreateSession(ctx context.Context) (*session.Session, error) {
	s := session.New(e.now, e.logger())
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	ts := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.InsertSessionTx(ctx, tx, s.Record(), ts); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.SessionCreated, s.ID, "session", s.ID, e.ActorID, events.EventPayload{"phase": string(s.Phase())}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.logger().Info("session created", zap.String("session_id", s.ID))
	return s, nil
}

// Load rebuilds a stored session.
func (e Engine) Load(ctx context.Context, id string) (*session.Session, error) {
	rec, err := e.Repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return session.FromRecord(rec, e.now, e.logger()), nil
}

// op collects the events of one operation until they are flushed with the
// session record.
type op struct {
	e       Engine
	s       *session.Session
	pending []pendingEvent
}

type pendingEvent struct {
	typ, kind, id string
	payload       events.EventPayload
}

func (e Engine) begin(s *session.Session) *op {
	return &op{e: e, s: s}
}

func (o *op) emit(typ, kind, id string, payload events.EventPayload) {
	o.pending = append(o.pending, pendingEvent{typ: typ, kind: kind, id: id, payload: payload})
}

// transition moves the session to phase to and queues the event.
func (o *op) transition(to domain.Phase, reason string) {
	tr := o.s.Machine.Transition(to, reason)
	o.e.Metrics.Transition(string(to))
	o.emit(events.PhaseTransitioned, "phase", string(to), events.EventPayload{
		"from": string(tr.From), "to": string(tr.To), "reason": reason,
	})
}

// flush writes the session record and queued events atomically.
func (o *op) flush(ctx context.Context) error {
	tx, err := o.e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ts := o.e.now().UTC().Format(time.RFC3339)
	if err := o.e.Repo.SaveSessionTx(ctx, tx, o.s.Record(), ts); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	for _, ev := range o.pending {
		if err := o.e.Events.Append(ctx, tx, ev.typ, o.s.ID, ev.kind, ev.id, o.e.ActorID, ev.payload); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	o.pending = nil
	return nil
}

// invoke runs one catalogue sub-task against the actor. An empty reply
// without payload counts as a failed invocation.
func (e Engine) invoke(ctx context.Context, task string, inputs map[string]any) (actor.Response, error) {
	if e.Actor == nil {
		return actor.Response{}, &actor.InvocationError{Task: task, Err: errors.New("no actor configured")}
	}
	req, err := e.catalogue().Request(task, inputs)
	if err != nil {
		return actor.Response{}, err
	}
	resp, err := e.Actor.Invoke(ctx, req)
	if err != nil {
		return actor.Response{}, err
	}
	if resp.Raw == "" && !resp.HasPayload() {
		return actor.Response{}, &actor.InvocationError{Task: task, Err: actor.ErrEmptyReply}
	}
	return resp, nil
}

func orNone(v string) string {
	if v == "" {
		return "None"
	}
	return v
}
