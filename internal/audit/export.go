package audit

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var csvHeader = []string{
	"id", "timestamp", "user_id", "username", "feature", "action",
	"log_level", "severity", "ip_address", "session_id", "module", "function",
}

// ExportLogs renders the logs matching the filter in the requested format.
// Export always requires admin or system access.
func (s *Service) ExportLogs(callerID int64, f Filter, format string) ([]byte, error) {
	if err := s.policy.AuthorizeExport(callerID); err != nil {
		return nil, err
	}

	logs, err := s.repo.Query(f)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatJSON:
		return exportJSON(logs)
	case FormatCSV:
		return exportCSV(logs), nil
	default:
		return nil, &ExportFormatError{Format: format}
	}
}

// exportJSON produces an indented array of log objects with ISO-8601
// timestamps.
func exportJSON(logs []Log) ([]byte, error) {
	type exportedLog struct {
		ID        int64          `json:"id"`
		Timestamp string         `json:"timestamp"`
		UserID    int64          `json:"user_id"`
		Username  string         `json:"username"`
		Feature   string         `json:"feature"`
		Action    string         `json:"action"`
		LogLevel  string         `json:"log_level"`
		Severity  string         `json:"severity"`
		IPAddress string         `json:"ip_address,omitempty"`
		SessionID string         `json:"session_id,omitempty"`
		Module    string         `json:"module,omitempty"`
		Function  string         `json:"function,omitempty"`
		Details   map[string]any `json:"details,omitempty"`
	}

	exported := make([]exportedLog, 0, len(logs))
	for _, l := range logs {
		exported = append(exported, exportedLog{
			ID:        l.ID,
			Timestamp: l.Timestamp.UTC().Format(time.RFC3339Nano),
			UserID:    l.UserID,
			Username:  l.Username,
			Feature:   l.Feature,
			Action:    l.Action,
			LogLevel:  l.LogLevel.String(),
			Severity:  string(l.Severity),
			IPAddress: l.IPAddress,
			SessionID: l.SessionID,
			Module:    l.Module,
			Function:  l.Function,
			Details:   l.Details,
		})
	}
	return json.MarshalIndent(exported, "", "  ")
}

// exportCSV produces the fixed header row plus one row per log. Text fields
// are double-quoted with embedded quotes doubled.
func exportCSV(logs []Log) []byte {
	var b strings.Builder
	b.WriteString(strings.Join(csvHeader, ","))
	b.WriteByte('\n')

	for _, l := range logs {
		fields := []string{
			strconv.FormatInt(l.ID, 10),
			csvQuote(l.Timestamp.UTC().Format(time.RFC3339Nano)),
			strconv.FormatInt(l.UserID, 10),
			csvQuote(l.Username),
			csvQuote(l.Feature),
			csvQuote(l.Action),
			csvQuote(l.LogLevel.String()),
			csvQuote(string(l.Severity)),
			csvQuote(l.IPAddress),
			csvQuote(l.SessionID),
			csvQuote(l.Module),
			csvQuote(l.Function),
		}
		b.WriteString(strings.Join(fields, ","))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// csvQuote wraps s in double quotes, doubling embedded quotes.
func csvQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
