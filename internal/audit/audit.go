// Package audit persists an append-only record of each evaluation
// lifecycle transition to a local SQLite database, for after-the-fact
// forensics on a session. It is consulted by nothing at runtime; it
// only ever receives writes.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Log writes evaluation lifecycle events to a SQLite database. The
// zero value is not usable; construct with Open.
type Log struct {
	db *sql.DB
}

// Open opens (creating if necessary) the audit database at path and
// runs its migration.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	l := &Log{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return l, nil
}

func (l *Log) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			ts         TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			eval_id    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			detail     TEXT NOT NULL
		)
	`)
	return err
}

// Record satisfies host.AuditSink. It silently drops write errors
// rather than propagating them — an audit outage must never interrupt
// an evaluation in progress.
func (l *Log) Record(sessionID, kind, evalID, detail string) {
	_, err := l.db.Exec(
		`INSERT INTO audit_events (session_id, ts, eval_id, kind, detail) VALUES (?, ?, ?, ?, ?)`,
		sessionID, time.Now().UTC(), evalID, kind, detail,
	)
	if err != nil {
		// No logger threaded through here: Record must never fail its
		// caller, so a failed write is silently dropped.
		_ = err
	}
}

// Event is one row read back from the audit log.
type Event struct {
	Seq       int64
	SessionID string
	Timestamp time.Time
	EvalID    string
	Kind      string
	Detail    string
}

// Events returns every recorded event for sessionID in sequence order.
func (l *Log) Events(sessionID string) ([]Event, error) {
	rows, err := l.db.Query(
		`SELECT seq, session_id, ts, eval_id, kind, detail FROM audit_events WHERE session_id = ? ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Seq, &e.SessionID, &e.Timestamp, &e.EvalID, &e.Kind, &e.Detail); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}
