// Package audit persists structured audit events with level and severity
// gating, role-scoped queries, retention-based cleanup and JSON/CSV export.
// The repository owns one SQLite handle; every write runs as its own
// transaction and commits before returning.
package audit

import (
	"errors"
	"fmt"
	"time"
)

// SuppressedID is returned by Log when the level gate filters the event.
// No row is inserted in that case.
const SuppressedID int64 = -1

// SystemUserID denotes events emitted by the runtime itself.
const SystemUserID int64 = 0

// SystemUsername is synthesized for SystemUserID.
const SystemUsername = "SYSTEM"

// DefaultQueryLimit caps filter queries that do not set their own limit.
const DefaultQueryLimit = 100

// Log is one immutable audit record.
type Log struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    int64          `json:"user_id"`
	Username  string         `json:"username"`
	Feature   string         `json:"feature"`
	Action    string         `json:"action"`
	LogLevel  Level          `json:"log_level"`
	Severity  Severity       `json:"severity"`
	IPAddress string         `json:"ip_address,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Module    string         `json:"module,omitempty"`
	Function  string         `json:"function,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Event is the input of Service.Log. Zero LogLevel and empty Severity
// default to INFO.
type Event struct {
	UserID    int64
	Action    string
	Feature   string
	LogLevel  Level
	Severity  Severity
	Details   map[string]any
	IPAddress string
	SessionID string
	Module    string
	Function  string
}

// Filter narrows queries; all set fields compose with AND.
type Filter struct {
	UserID    *int64
	Feature   string
	Action    string
	LogLevel  *Level
	Severity  *Severity
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// EffectiveLimit applies the default query cap.
func (f Filter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultQueryLimit
	}
	return f.Limit
}

// ErrExportRequiresAdmin is wrapped into AccessDeniedError for exports.
var ErrExportRequiresAdmin = errors.New("export requires admin or system access")

// AccessDeniedError reports a caller reading outside their own audit scope.
type AccessDeniedError struct {
	UserID int64
	Detail string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("audit access denied for user %d: %s", e.UserID, e.Detail)
}

// InvalidLogError reports an event that failed validation before insert.
type InvalidLogError struct {
	Reason string
	Event  Event
}

func (e *InvalidLogError) Error() string {
	return fmt.Sprintf("invalid audit log: %s", e.Reason)
}

// ExportFormatError reports an unsupported export format.
type ExportFormatError struct {
	Format string
}

func (e *ExportFormatError) Error() string {
	return fmt.Sprintf("unsupported audit export format %q (want json or csv)", e.Format)
}

// DatabaseError wraps persistence failures.
type DatabaseError struct {
	Reason string
	Cause  error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("audit database error: %s: %v", e.Reason, e.Cause)
}

func (e *DatabaseError) Unwrap() error {
	return e.Cause
}
