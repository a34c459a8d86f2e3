// Package audit appends security-relevant events to the database's
// append-only audit_log table (component P). It never reads or deletes
// rows; pruning or export of the log is left to whatever operator tooling
// consumes the database file directly.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ecmem/engine/internal/xerrors"
)

// Action is one of the six event kinds the audit log records.
type Action string

const (
	ActionOpen      Action = "open"
	ActionClose     Action = "close"
	ActionQuery     Action = "query"
	ActionFailed    Action = "failed"
	ActionKeyAccess Action = "key-access"
	ActionKeyRotate Action = "key-rotate"
)

// Logger writes audit_log rows against a shared database handle. It holds
// no connection of its own: the handle is the same *sql.DB the metadata
// store uses, so an audit write and the operation it describes commit
// against one file.
type Logger struct {
	db  *sql.DB
	pid int
}

// New wraps db for audit writes. db is typically obtained from
// store.SQLiteStore.DB() after the store has applied its migrations.
func New(db *sql.DB) *Logger {
	return &Logger{db: db, pid: os.Getpid()}
}

// Record appends one audit_log row. details is marshaled to JSON; a nil
// map records as "{}". Record failures are themselves surfaced as
// CodeAuditWriteFailed rather than silently dropped, since a broken audit
// trail is a security-relevant condition in its own right.
func (l *Logger) Record(ctx context.Context, action Action, details map[string]string) error {
	if details == nil {
		details = map[string]string{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return xerrors.New(xerrors.CodeAuditWriteFailed, "marshal audit details", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, occurred_at, action, details, pid)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), time.Now().UTC(), string(action), string(raw), l.pid)
	if err != nil {
		return xerrors.New(xerrors.CodeAuditWriteFailed, "write audit_log row", err)
	}
	return nil
}

// Open records a database-open event, typically carrying the resolved
// project slug so a reviewer can tell which workspace was opened.
func (l *Logger) Open(ctx context.Context, projectSlug string) error {
	return l.Record(ctx, ActionOpen, map[string]string{"project": projectSlug})
}

// Close records a database-close event.
func (l *Logger) Close(ctx context.Context) error {
	return l.Record(ctx, ActionClose, nil)
}

// Query records a retrieval call (search, recall, or predict), naming
// which operation ran and against which project.
func (l *Logger) Query(ctx context.Context, operation, projectSlug string) error {
	return l.Record(ctx, ActionQuery, map[string]string{
		"operation": operation,
		"project":   projectSlug,
	})
}

// Failed records an operation that returned an error, naming the failing
// operation and the error code so the log is greppable without replaying
// application logs.
func (l *Logger) Failed(ctx context.Context, operation string, err error) error {
	code := xerrors.GetCode(err)
	if code == "" {
		code = "UNKNOWN"
	}
	return l.Record(ctx, ActionFailed, map[string]string{
		"operation": operation,
		"code":      code,
	})
}

// KeyAccess records that the encryption key was fetched from the secret
// store to open the database.
func (l *Logger) KeyAccess(ctx context.Context, keyName string) error {
	return l.Record(ctx, ActionKeyAccess, map[string]string{"key_name": keyName})
}

// KeyRotate records that the database was re-encrypted under a new key.
func (l *Logger) KeyRotate(ctx context.Context, keyName string) error {
	return l.Record(ctx, ActionKeyRotate, map[string]string{"key_name": keyName})
}
