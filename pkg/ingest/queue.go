// Package ingest runs the ingestion pipeline: a durable sqlite queue, a
// dispatcher that routes items to session-partitioned workers, and a broker
// that publishes status changes.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/soundprediction/recall/pkg/types"
)

var (
	ErrItemNotFound = errors.New("queue item not found")
	ErrItemActive   = errors.New("queue item is being processed")
	ErrNotRetryable = errors.New("queue item is not in FAILED state")
	ErrNotPending   = errors.New("queue item is not pending")
)

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transitions happen without a requeue.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Input is the payload accepted for ingestion.
type Input struct {
	EpisodeBody   string            `json:"episodeBody"`
	Source        string            `json:"source"`
	ReferenceTime time.Time         `json:"referenceTime"`
	Type          types.EpisodeType `json:"type"`
	SessionID     string            `json:"sessionId,omitempty"`
	LabelIDs      []string          `json:"labelIds,omitempty"`
	Title         string            `json:"title,omitempty"`
	Priority      int               `json:"priority,omitempty"`
}

// Validate checks the input before it is queued.
func (in *Input) Validate() error {
	if strings.TrimSpace(in.EpisodeBody) == "" {
		return types.NewValidationError("episodeBody", "must not be empty")
	}
	t, ok := types.ParseEpisodeType(string(in.Type))
	if !ok {
		return types.NewValidationError("type", fmt.Sprintf("unknown episode type %q", in.Type))
	}
	in.Type = t
	if t == types.DocumentEpisodeType && strings.TrimSpace(in.SessionID) == "" {
		return types.NewValidationError("sessionId", "required for DOCUMENT episodes")
	}
	return nil
}

// Output is what a completed item reports.
type Output struct {
	EpisodeUUIDs          []string `json:"episodeUuids"`
	Version               int      `json:"version"`
	ChangePercentage      float64  `json:"changePercentage"`
	ChangedChunkIndices   []int    `json:"changedChunkIndices"`
	StatementsCreated     int      `json:"statementsCreated"`
	StatementsInvalidated int      `json:"statementsInvalidated"`
	Noop                  bool     `json:"noop"`
}

// Item is one persisted queue record.
type Item struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	Data        Input     `json:"data"`
	Output      *Output   `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	Title       string    `json:"title,omitempty"`
	SessionID   string    `json:"sessionId"`
	Priority    int       `json:"priority"`
	UserID      string    `json:"userId"`
	WorkspaceID string    `json:"workspaceId"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	seq int64
}

// Tenant returns the tenant that enqueued the item.
func (it *Item) Tenant() types.Tenant {
	return types.Tenant{UserID: it.UserID, WorkspaceID: it.WorkspaceID}
}

// PartitionKey groups items whose writes must be serialized.
func (it *Item) PartitionKey() string {
	return it.WorkspaceID + "\x00" + it.SessionID
}

// Queue is the durable store behind the orchestrator.
type Queue interface {
	// Enqueue inserts the item or resets an existing one to PENDING. It
	// returns ErrItemActive while the existing item is PROCESSING.
	Enqueue(ctx context.Context, item *Item) error
	Get(ctx context.Context, id string) (*Item, error)
	// Pending lists PENDING items by priority, then arrival.
	Pending(ctx context.Context, limit int) ([]*Item, error)
	MarkProcessing(ctx context.Context, id string) (*Item, error)
	Complete(ctx context.Context, id string, out *Output) error
	Fail(ctx context.Context, id string, reason string) error
	// Requeue moves a FAILED item back to PENDING under the same id.
	Requeue(ctx context.Context, id string) (*Item, error)
	// ResetProcessing moves items left PROCESSING by a previous run back to PENDING.
	ResetProcessing(ctx context.Context) (int, error)
	Close() error
}

// SQLiteQueue is a Queue backed by a sqlite database.
type SQLiteQueue struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteQueue opens or creates the queue database at path.
func OpenSQLiteQueue(path string) (*SQLiteQueue, error) {
	if path == "" {
		return nil, fmt.Errorf("queue path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create queue dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	q := &SQLiteQueue{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := q.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init queue schema: %w", err)
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS queue_items (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		data TEXT NOT NULL,
		output TEXT,
		error TEXT,
		labels TEXT,
		title TEXT,
		session_id TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		user_id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queue_status ON queue_items(status, priority DESC, seq);
	CREATE INDEX IF NOT EXISTS idx_queue_workspace ON queue_items(workspace_id);
	`
	_, err := q.db.Exec(schema)
	return err
}

// Close closes the database.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

const itemColumns = `seq, id, status, data, output, error, labels, title, session_id, priority,
	user_id, workspace_id, attempts, created_at, updated_at`

// Enqueue inserts item as PENDING, or resets an existing non-processing item.
func (q *SQLiteQueue) Enqueue(ctx context.Context, item *Item) error {
	data, err := json.Marshal(item.Data)
	if err != nil {
		return fmt.Errorf("failed to encode item data: %w", err)
	}
	labels, err := json.Marshal(item.Labels)
	if err != nil {
		return fmt.Errorf("failed to encode item labels: %w", err)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin enqueue: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM queue_items WHERE id = ?`, item.ID).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to look up item %s: %w", item.ID, err)
	case Status(status) == StatusProcessing:
		return ErrItemActive
	}

	now := q.now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO queue_items (id, status, data, output, error, labels, title, session_id, priority,
			user_id, workspace_id, attempts, created_at, updated_at)
		VALUES (?, ?, ?, NULL, NULL, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			data = excluded.data,
			output = NULL,
			error = NULL,
			labels = excluded.labels,
			title = excluded.title,
			session_id = excluded.session_id,
			priority = excluded.priority,
			user_id = excluded.user_id,
			workspace_id = excluded.workspace_id,
			updated_at = excluded.updated_at`,
		item.ID, string(StatusPending), string(data), string(labels), item.Title, item.SessionID, item.Priority,
		item.UserID, item.WorkspaceID, now.UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to enqueue item %s: %w", item.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit enqueue: %w", err)
	}

	stored, err := q.Get(ctx, item.ID)
	if err != nil {
		return err
	}
	*item = *stored
	return nil
}

// Get loads one item.
func (q *SQLiteQueue) Get(ctx context.Context, id string) (*Item, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load item %s: %w", id, err)
	}
	return it, nil
}

// Pending lists up to limit PENDING items by priority descending, then arrival.
func (q *SQLiteQueue) Pending(ctx context.Context, limit int) ([]*Item, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM queue_items
		WHERE status = ? ORDER BY priority DESC, seq ASC LIMIT ?`, string(StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// MarkProcessing moves a PENDING item to PROCESSING and counts the attempt.
func (q *SQLiteQueue) MarkProcessing(ctx context.Context, id string) (*Item, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE queue_items
		SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusProcessing), q.now().UnixNano(), id, string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to mark item %s processing: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := q.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrNotPending
	}
	return q.Get(ctx, id)
}

// Complete stores out and marks the item COMPLETED.
func (q *SQLiteQueue) Complete(ctx context.Context, id string, out *Output) error {
	encoded, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return q.finish(ctx, id, StatusCompleted, sql.NullString{String: string(encoded), Valid: true}, sql.NullString{})
}

// Fail stores reason and marks the item FAILED.
func (q *SQLiteQueue) Fail(ctx context.Context, id string, reason string) error {
	return q.finish(ctx, id, StatusFailed, sql.NullString{}, sql.NullString{String: reason, Valid: true})
}

func (q *SQLiteQueue) finish(ctx context.Context, id string, status Status, output, reason sql.NullString) error {
	res, err := q.db.ExecContext(ctx, `UPDATE queue_items
		SET status = ?, output = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), output, reason, q.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to mark item %s %s: %w", id, status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Requeue moves a FAILED item back to PENDING.
func (q *SQLiteQueue) Requeue(ctx context.Context, id string) (*Item, error) {
	it, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch it.Status {
	case StatusProcessing:
		return nil, ErrItemActive
	case StatusPending:
		return it, nil
	case StatusCompleted:
		return nil, ErrNotRetryable
	}
	_, err = q.db.ExecContext(ctx, `UPDATE queue_items
		SET status = ?, error = NULL, output = NULL, updated_at = ? WHERE id = ? AND status = ?`,
		string(StatusPending), q.now().UnixNano(), id, string(StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to requeue item %s: %w", id, err)
	}
	return q.Get(ctx, id)
}

// ResetProcessing returns how many interrupted items were moved back to PENDING.
func (q *SQLiteQueue) ResetProcessing(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE queue_items SET status = ?, updated_at = ? WHERE status = ?`,
		string(StatusPending), q.now().UnixNano(), string(StatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing items: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		it                   Item
		status, data         string
		output, errMsg       sql.NullString
		labels, title        sql.NullString
		createdAt, updatedAt int64
	)
	err := row.Scan(&it.seq, &it.ID, &status, &data, &output, &errMsg, &labels, &title, &it.SessionID,
		&it.Priority, &it.UserID, &it.WorkspaceID, &it.Attempts, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	it.Status = Status(status)
	if err := json.Unmarshal([]byte(data), &it.Data); err != nil {
		return nil, fmt.Errorf("failed to decode item data: %w", err)
	}
	if output.Valid && output.String != "" {
		it.Output = &Output{}
		if err := json.Unmarshal([]byte(output.String), it.Output); err != nil {
			return nil, fmt.Errorf("failed to decode item output: %w", err)
		}
	}
	if labels.Valid && labels.String != "" && labels.String != "null" {
		if err := json.Unmarshal([]byte(labels.String), &it.Labels); err != nil {
			return nil, fmt.Errorf("failed to decode item labels: %w", err)
		}
	}
	it.Error = errMsg.String
	it.Title = title.String
	it.CreatedAt = time.Unix(0, createdAt).UTC()
	it.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &it, nil
}
