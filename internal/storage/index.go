package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/dohr-michael/magpie/internal/tasks"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS archived_tasks (
	id          TEXT PRIMARY KEY,
	task_id     TEXT NOT NULL UNIQUE,
	street      TEXT NOT NULL,
	number      INTEGER NOT NULL,
	directional TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	records     INTEGER NOT NULL,
	created_at  TEXT NOT NULL,
	finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_archived_tasks_street ON archived_tasks(street);
`

// Index is a sqlite catalog of archived tasks for recency and street
// lookups without walking the archive directory. Rows are keyed by ULID,
// which sorts lexicographically by insertion time.
type Index struct {
	db *sql.DB
}

// OpenIndex opens the archive index at path, creating the schema if needed.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive index: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Upsert records one archived task, replacing any previous row for it.
func (ix *Index) Upsert(t tasks.Task) error {
	var finished any
	if t.FinishedAt != nil {
		finished = t.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := ix.db.Exec(`
		INSERT INTO archived_tasks (id, task_id, street, number, directional, status, records, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			records = excluded.records,
			finished_at = excluded.finished_at`,
		ulid.Make().String(),
		t.ID,
		t.Input.Address.Street,
		t.Input.Address.Number,
		t.Input.Address.Directional,
		string(t.Status),
		len(t.Result),
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
		finished,
	)
	if err != nil {
		return fmt.Errorf("upsert archived task %s: %w", t.ID, err)
	}
	return nil
}

// Delete removes the row for one task.
func (ix *Index) Delete(taskID string) error {
	if _, err := ix.db.Exec(`DELETE FROM archived_tasks WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("delete archived task %s: %w", taskID, err)
	}
	return nil
}

// IndexEntry is one archived task row.
type IndexEntry struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	Street      string     `json:"street"`
	Number      int        `json:"number"`
	Directional string     `json:"directional,omitempty"`
	Status      string     `json:"status"`
	Records     int        `json:"records"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

const indexColumns = `id, task_id, street, number, directional, status, records, created_at, finished_at`

// Recent returns the newest entries first, up to limit.
func (ix *Index) Recent(limit int) ([]IndexEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := ix.db.Query(
		`SELECT `+indexColumns+` FROM archived_tasks ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	return scanEntries(rows)
}

// ByStreet returns entries whose street contains substr, case-insensitive,
// newest first.
func (ix *Index) ByStreet(substr string) ([]IndexEntry, error) {
	rows, err := ix.db.Query(
		`SELECT `+indexColumns+` FROM archived_tasks
		 WHERE street LIKE '%' || ? || '%' COLLATE NOCASE
		 ORDER BY id DESC`, substr)
	if err != nil {
		return nil, fmt.Errorf("query by street: %w", err)
	}
	return scanEntries(rows)
}

// Count returns the number of indexed tasks.
func (ix *Index) Count() (int, error) {
	var n int
	if err := ix.db.QueryRow(`SELECT COUNT(*) FROM archived_tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count archived tasks: %w", err)
	}
	return n, nil
}

func scanEntries(rows *sql.Rows) ([]IndexEntry, error) {
	defer rows.Close()
	var out []IndexEntry
	for rows.Next() {
		var e IndexEntry
		var created string
		var finished sql.NullString
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Street, &e.Number, &e.Directional,
			&e.Status, &e.Records, &created, &finished); err != nil {
			return nil, fmt.Errorf("scan archived task: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		if finished.Valid {
			if ts, err := time.Parse(time.RFC3339Nano, finished.String); err == nil {
				e.FinishedAt = &ts
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
