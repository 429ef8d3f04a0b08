package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/layzieshin/QMToolV6-sub000/internal/logging"
)

// timestampLayout is a fixed-width UTC ISO-8601 form so lexicographic
// comparison in SQL matches chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Repository persists audit logs in SQLite. Schema creation is idempotent
// and runs on construction. One handle, serialized writes, each statement
// its own transaction.
type Repository struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	log    *zap.Logger
}

// NewRepository opens (or creates) the audit database at path and ensures
// the schema. Use ":memory:" for tests.
func NewRepository(path string) (*Repository, error) {
	timer := logging.StartTimer(logging.CategoryStore, "audit.NewRepository")
	defer timer.Stop()

	log := logging.Get(logging.CategoryStore)
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, &DatabaseError{Reason: "failed to create audit data directory", Cause: err}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &DatabaseError{Reason: "failed to open audit database", Cause: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	repo := &Repository{db: db, dbPath: path, log: log}
	if err := repo.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("audit repository ready", zap.String("path", path))
	return repo, nil
}

func (r *Repository) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		feature TEXT NOT NULL,
		action TEXT NOT NULL,
		log_level TEXT NOT NULL,
		severity TEXT NOT NULL,
		ip_address TEXT,
		session_id TEXT,
		module TEXT,
		function TEXT,
		details TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_user_id ON audit_logs(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_feature ON audit_logs(feature);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_severity ON audit_logs(severity);
	CREATE INDEX IF NOT EXISTS idx_audit_log_level ON audit_logs(log_level);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return &DatabaseError{Reason: "failed to create audit schema", Cause: err}
	}
	return nil
}

// Close releases the database handle.
func (r *Repository) Close() error {
	r.log.Debug("closing audit repository", zap.String("path", r.dbPath))
	return r.db.Close()
}

// Create inserts one log row in its own transaction and returns the
// generated id.
func (r *Repository) Create(entry *Log) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var details any
	if len(entry.Details) > 0 {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			return 0, &DatabaseError{Reason: "failed to serialize details", Cause: err}
		}
		details = string(data)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, &DatabaseError{Reason: "failed to begin transaction", Cause: err}
	}
	result, err := tx.Exec(`
		INSERT INTO audit_logs
			(timestamp, user_id, username, feature, action, log_level, severity,
			 ip_address, session_id, module, function, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(timestampLayout),
		entry.UserID,
		entry.Username,
		entry.Feature,
		entry.Action,
		entry.LogLevel.String(),
		string(entry.Severity),
		nullable(entry.IPAddress),
		nullable(entry.SessionID),
		nullable(entry.Module),
		nullable(entry.Function),
		details,
	)
	if err != nil {
		tx.Rollback()
		return 0, &DatabaseError{Reason: "failed to insert audit log", Cause: err}
	}
	id, err := result.LastInsertId()
	if err != nil {
		tx.Rollback()
		return 0, &DatabaseError{Reason: "failed to read generated id", Cause: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &DatabaseError{Reason: "failed to commit audit insert", Cause: err}
	}
	entry.ID = id
	return id, nil
}

// Query returns logs matching the filter, newest first (timestamp
// descending, ties by id descending), capped by the filter limit.
func (r *Repository) Query(f Filter) ([]Log, error) {
	return r.query(f, "")
}

// Search behaves like Query but additionally matches the given substring
// against both action and the serialized details column.
func (r *Repository) Search(substring string, f Filter) ([]Log, error) {
	return r.query(f, substring)
}

func (r *Repository) query(f Filter, search string) ([]Log, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	where, args := buildWhere(f)
	if search != "" {
		where = append(where, `(action LIKE ? ESCAPE '\' OR details LIKE ? ESCAPE '\')`)
		pattern := "%" + escapeLike(search) + "%"
		args = append(args, pattern, pattern)
	}

	query := "SELECT id, timestamp, user_id, username, feature, action, log_level, severity, ip_address, session_id, module, function, details FROM audit_logs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, f.EffectiveLimit(), f.Offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, &DatabaseError{Reason: "audit query failed", Cause: err}
	}
	defer rows.Close()

	var logs []Log
	for rows.Next() {
		entry, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &DatabaseError{Reason: "audit row iteration failed", Cause: err}
	}
	return logs, nil
}

// DeleteOlderThan removes logs before cutoff, optionally scoped to one
// feature, and returns the number of rows deleted. Runs as one transaction;
// any failure rolls back.
func (r *Repository) DeleteOlderThan(cutoff time.Time, featureName string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return 0, &DatabaseError{Reason: "failed to begin delete transaction", Cause: err}
	}

	query := "DELETE FROM audit_logs WHERE timestamp < ?"
	args := []any{cutoff.UTC().Format(timestampLayout)}
	if featureName != "" {
		query += " AND feature = ?"
		args = append(args, featureName)
	}

	result, err := tx.Exec(query, args...)
	if err != nil {
		tx.Rollback()
		return 0, &DatabaseError{Reason: "failed to delete old audit logs", Cause: err}
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		tx.Rollback()
		return 0, &DatabaseError{Reason: "failed to count deleted rows", Cause: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &DatabaseError{Reason: "failed to commit delete", Cause: err}
	}
	return deleted, nil
}

// Count returns the number of logs matching the filter, ignoring limit and
// offset.
func (r *Repository) Count(f Filter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	where, args := buildWhere(f)
	query := "SELECT COUNT(*) FROM audit_logs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	var count int64
	if err := r.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, &DatabaseError{Reason: "audit count failed", Cause: err}
	}
	return count, nil
}

func buildWhere(f Filter) ([]string, []any) {
	var where []string
	var args []any
	if f.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, *f.UserID)
	}
	if f.Feature != "" {
		where = append(where, "feature = ?")
		args = append(args, f.Feature)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	if f.LogLevel != nil {
		where = append(where, "log_level = ?")
		args = append(args, f.LogLevel.String())
	}
	if f.Severity != nil {
		where = append(where, "severity = ?")
		args = append(args, string(*f.Severity))
	}
	if f.StartDate != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, f.StartDate.UTC().Format(timestampLayout))
	}
	if f.EndDate != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, f.EndDate.UTC().Format(timestampLayout))
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLog(row rowScanner) (*Log, error) {
	var entry Log
	var ts, level, severity string
	var ip, session, module, function, details sql.NullString
	if err := row.Scan(&entry.ID, &ts, &entry.UserID, &entry.Username,
		&entry.Feature, &entry.Action, &level, &severity,
		&ip, &session, &module, &function, &details); err != nil {
		return nil, &DatabaseError{Reason: "failed to scan audit row", Cause: err}
	}

	parsed, err := time.Parse(timestampLayout, ts)
	if err != nil {
		// Tolerate rows written by older builds with plain RFC 3339.
		parsed, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, &DatabaseError{Reason: fmt.Sprintf("unparsable timestamp %q", ts), Cause: err}
		}
	}
	entry.Timestamp = parsed

	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, &DatabaseError{Reason: "unknown log level in row", Cause: err}
	}
	entry.LogLevel = lvl
	entry.Severity = Severity(severity)
	entry.IPAddress = ip.String
	entry.SessionID = session.String
	entry.Module = module.String
	entry.Function = function.String
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &entry.Details); err != nil {
			return nil, &DatabaseError{Reason: "unparsable details column", Cause: err}
		}
	}
	return &entry, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return replacer.Replace(s)
}
