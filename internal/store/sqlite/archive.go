package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agent_relay/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	session_id TEXT NOT NULL,
	id TEXT NOT NULL,
	description TEXT NOT NULL,
	status TEXT NOT NULL,
	task_type TEXT NOT NULL DEFAULT '',
	plan TEXT NOT NULL DEFAULT '',
	results TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY(session_id, id)
);

CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	id TEXT NOT NULL,
	sender TEXT NOT NULL,
	recipient TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '',
	correlation_id TEXT NOT NULL,
	undeliverable INTEGER NOT NULL DEFAULT 0,
	note TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	PRIMARY KEY(session_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_messages_correlation ON messages(session_id, correlation_id, seq);
`

// Archive is a write-only record of one relay session. The coordinator
// never reads it back; in-memory state stays authoritative.
type Archive struct {
	db      *sql.DB
	session string
}

func Open(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Archive{db: db, session: uuid.NewString()}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) Session() string {
	return a.session
}

func (a *Archive) Migrate(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (a *Archive) RecordTask(ctx context.Context, rec domain.TaskRecord) error {
	taskType := ""
	planJSON := ""
	if rec.Plan != nil {
		taskType = string(rec.Plan.Type)
		raw, err := json.Marshal(rec.Plan)
		if err != nil {
			return fmt.Errorf("encode plan: %w", err)
		}
		planJSON = string(raw)
	}
	resultsJSON := ""
	if len(rec.Results) > 0 {
		raw, err := json.Marshal(rec.Results)
		if err != nil {
			return fmt.Errorf("encode results: %w", err)
		}
		resultsJSON = string(raw)
	}

	_, err := a.db.ExecContext(
		ctx,
		`INSERT INTO tasks(session_id, id, description, status, task_type, plan, results, summary, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, id) DO UPDATE SET
			description = excluded.description,
			status = excluded.status,
			task_type = excluded.task_type,
			plan = excluded.plan,
			results = excluded.results,
			summary = excluded.summary,
			updated_at = excluded.updated_at`,
		a.session, rec.TaskID, rec.Description, string(rec.Status), taskType, planJSON, resultsJSON,
		rec.Summary, rec.CreatedAt.Unix(), rec.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record task: %w", err)
	}
	return nil
}

func (a *Archive) RecordMessage(ctx context.Context, entry domain.HistoryEntry) error {
	msg := entry.Message
	_, err := a.db.ExecContext(
		ctx,
		`INSERT INTO messages(session_id, seq, id, sender, recipient, kind, payload, correlation_id, undeliverable, note, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.session, entry.Seq, msg.ID, msg.Sender, msg.Recipient, string(msg.Kind), string(msg.Payload),
		msg.CorrelationID, boolToInt(entry.Undeliverable), entry.Note, msg.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record message %d: %w", entry.Seq, err)
	}
	return nil
}

func (a *Archive) ListTasks(ctx context.Context) ([]domain.TaskRecord, error) {
	rows, err := a.db.QueryContext(
		ctx,
		`SELECT id, description, status, plan, results, summary, created_at, updated_at
		FROM tasks WHERE session_id = ? ORDER BY created_at, id`,
		a.session,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	result := make([]domain.TaskRecord, 0)
	for rows.Next() {
		var rec domain.TaskRecord
		var status, planJSON, resultsJSON string
		var created, updated int64
		if err := rows.Scan(&rec.TaskID, &rec.Description, &status, &planJSON, &resultsJSON,
			&rec.Summary, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		rec.Status = domain.TaskStatus(status)
		if planJSON != "" {
			var plan domain.TaskPlan
			if err := json.Unmarshal([]byte(planJSON), &plan); err != nil {
				return nil, fmt.Errorf("decode plan for %s: %w", rec.TaskID, err)
			}
			rec.Plan = &plan
		}
		if resultsJSON != "" {
			if err := json.Unmarshal([]byte(resultsJSON), &rec.Results); err != nil {
				return nil, fmt.Errorf("decode results for %s: %w", rec.TaskID, err)
			}
		}
		rec.CreatedAt = unixToTime(created)
		rec.UpdatedAt = unixToTime(updated)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return result, nil
}

func (a *Archive) ListMessages(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	query := `SELECT seq, id, sender, recipient, kind, payload, correlation_id, undeliverable, note, created_at
		FROM messages WHERE session_id = ? ORDER BY seq`
	args := []any{a.session}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	result := make([]domain.HistoryEntry, 0)
	for rows.Next() {
		var entry domain.HistoryEntry
		var kind, payload string
		var undeliverable int
		var created int64
		if err := rows.Scan(&entry.Seq, &entry.Message.ID, &entry.Message.Sender, &entry.Message.Recipient,
			&kind, &payload, &entry.Message.CorrelationID, &undeliverable, &entry.Note, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		entry.Message.Kind = domain.MessageKind(kind)
		if payload != "" {
			entry.Message.Payload = json.RawMessage(payload)
		}
		entry.Undeliverable = undeliverable != 0
		entry.Message.CreatedAt = unixToTime(created)
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return result, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixToTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
