package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// AuditLog is an append-only SQLite log of every target-bound index
// operation the dispatcher and backfill engine perform, keyed by record
// id with the outcome recorded for later inspection.
type AuditLog struct {
	db *sql.DB
}

// Audit outcomes.
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeFenced   = "fenced"
	OutcomeFailed   = "failed"
)

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	RecordID  string    `json:"record_id"`
	Operation string    `json:"operation"`
	Target    string    `json:"target"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
}

// OpenAudit opens the audit database, creating the schema if needed.
func OpenAudit(dbPath string) (*AuditLog, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	a := &AuditLog{db: db}
	if err := a.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// Close closes the database connection.
func (a *AuditLog) Close() error {
	return a.db.Close()
}

func (a *AuditLog) initialize() error {
	schema := `
	-- Target-bound operations (append-only)
	CREATE TABLE IF NOT EXISTS audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		record_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		target TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_record ON audit(record_id);
	CREATE INDEX IF NOT EXISTS idx_audit_outcome ON audit(outcome);
	`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// Record appends one audit row.
func (a *AuditLog) Record(recordID, operation, target, outcome, detail string) error {
	_, err := a.db.Exec(
		`INSERT INTO audit (record_id, operation, target, outcome, detail) VALUES (?, ?, ?, ?, ?)`,
		recordID, operation, target, outcome, detail,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// Recent returns the newest n entries, newest first.
func (a *AuditLog) Recent(n int) ([]*AuditEntry, error) {
	rows, err := a.db.Query(
		`SELECT id, timestamp, record_id, operation, target, outcome, COALESCE(detail, '')
		 FROM audit ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.RecordID, &e.Operation, &e.Target, &e.Outcome, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByOutcome returns how many entries carry each outcome.
func (a *AuditLog) CountByOutcome() (map[string]int, error) {
	rows, err := a.db.Query(`SELECT outcome, COUNT(*) FROM audit GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
