// Package audit keeps a persistent trail of review edits: who marked which
// rows, with what status, and when. The trail is diagnostic: writes are
// best-effort and a failing audit store never blocks or fails the edit path.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/dataset"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/dbopen"
	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS edit_log (
	edit_id    TEXT PRIMARY KEY,
	dataset    TEXT NOT NULL,
	row_ids    TEXT NOT NULL,
	status     TEXT NOT NULL,
	editor     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_edit_log_created ON edit_log(created_at);
`

// Entry is one recorded edit.
type Entry struct {
	EditID    string
	Dataset   string
	RowIDs    []string
	Status    string
	Editor    string
	CreatedAt time.Time
}

// Log writes and reads the edit trail.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Log on the given database and ensures the schema exists.
func New(db *sql.DB, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("audit: init schema: %w", err)
	}
	return &Log{db: db, logger: logger, now: time.Now}, nil
}

// RecordEdit satisfies the cache's EditRecorder hook. Errors are logged and
// swallowed; the edit was already applied and must not be failed
// retroactively by its audit record.
func (l *Log) RecordEdit(ctx context.Context, id dataset.ID, rowIDs []string, status, editor string) {
	err := dbopen.RunTx(ctx, l.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO edit_log (edit_id, dataset, row_ids, status, editor, created_at)
			VALUES (?,?,?,?,?,?)`,
			uuid.NewString(), string(id), strings.Join(rowIDs, ","), status, editor, l.now().Unix())
		return err
	})
	if err != nil {
		l.logger.Error("audit: record edit failed", "dataset", id, "error", err)
	}
}

// Recent returns the most recent entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT edit_id, dataset, row_ids, status, editor, created_at
		FROM edit_log ORDER BY created_at DESC, edit_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ids string
		var created int64
		if err := rows.Scan(&e.EditID, &e.Dataset, &ids, &e.Status, &e.Editor, &created); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if ids != "" {
			e.RowIDs = strings.Split(ids, ",")
		}
		e.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than the retention window. Zero or negative
// retention disables cleanup.
func (l *Log) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := l.now().Add(-retention).Unix()
	res, err := l.db.ExecContext(ctx, `DELETE FROM edit_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		l.logger.Info("audit: retention cleanup", "deleted", n)
	}
	return n, nil
}
