package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"storyline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertSessionTx(ctx context.Context, tx *sql.Tx, rec domain.SessionRecord, updatedAt string) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO sessions(id,current_phase,started_at,updated_at,state_json) VALUES (?,?,?,?,?)`,
		rec.ID, string(rec.CurrentPhase), rec.StartedAt, updatedAt, string(data))
	return err
}

// SaveSessionTx replaces the stored record of an existing session.
func (r Repo) SaveSessionTx(ctx context.Context, tx *sql.Tx, rec domain.SessionRecord, updatedAt string) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET current_phase=?,updated_at=?,state_json=? WHERE id=?`,
		string(rec.CurrentPhase), updatedAt, string(data), rec.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecord(row *sql.Row) (domain.SessionRecord, error) {
	var rec domain.SessionRecord
	var state string
	err := row.Scan(&state)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(state), &rec); err != nil {
		return rec, fmt.Errorf("decode session: %w", err)
	}
	return rec, nil
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.SessionRecord, error) {
	return scanRecord(r.DB.QueryRowContext(ctx, `SELECT state_json FROM sessions WHERE id=?`, id))
}

// LatestSession returns the most recently updated session.
func (r Repo) LatestSession(ctx context.Context) (domain.SessionRecord, error) {
	return scanRecord(r.DB.QueryRowContext(ctx, `SELECT state_json FROM sessions ORDER BY updated_at DESC, rowid DESC LIMIT 1`))
}

func (r Repo) ListSessions(ctx context.Context, limit int) ([]domain.SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,current_phase,started_at,updated_at FROM sessions ORDER BY updated_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SessionSummary
	for rows.Next() {
		var s domain.SessionSummary
		var phase string
		if err := rows.Scan(&s.ID, &phase, &s.StartedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.CurrentPhase = domain.Phase(phase)
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) DeleteSession(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const eventColumns = `id,ts,type,session_id,entity_kind,entity_id,actor_id,payload_json`

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var sessionID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &sessionID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.SessionID = sessionID.String
		e.EntityID = entityID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEvents returns events newest first; cursor pages to IDs below it.
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, sessionID, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if sessionID != "" {
		clauses = append(clauses, "session_id=?")
		args = append(args, sessionID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id DESC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, eventColumns), cursor, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// WebhookCursor returns the last delivered event ID for url.
func (r Repo) WebhookCursor(ctx context.Context, url string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT last_event_id FROM webhook_cursors WHERE url=?`, url).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return id, err
}

func (r Repo) SetWebhookCursor(ctx context.Context, url string, id int64, updatedAt string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO webhook_cursors(url,last_event_id,updated_at) VALUES (?,?,?)
ON CONFLICT(url) DO UPDATE SET last_event_id=excluded.last_event_id, updated_at=excluded.updated_at`, url, id, updatedAt)
	return err
}
