package audit

import "fmt"

// Level is an audit log level with numeric ordering
// DEBUG < INFO < WARNING < ERROR < CRITICAL. The zero value means unset so
// callers get the INFO default without spelling it out.
type Level int

const (
	LevelDebug    Level = 10
	LevelInfo     Level = 20
	LevelWarning  Level = 30
	LevelError    Level = 40
	LevelCritical Level = 50
)

var levelNames = map[Level]string{
	LevelDebug:    "DEBUG",
	LevelInfo:     "INFO",
	LevelWarning:  "WARNING",
	LevelError:    "ERROR",
	LevelCritical: "CRITICAL",
}

var levelValues = map[string]Level{
	"DEBUG":    LevelDebug,
	"INFO":     LevelInfo,
	"WARNING":  LevelWarning,
	"ERROR":    LevelError,
	"CRITICAL": LevelCritical,
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel converts a level name into a Level.
func ParseLevel(name string) (Level, error) {
	if l, ok := levelValues[name]; ok {
		return l, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// IsValidLevel reports whether name is one of the five known level names.
func IsValidLevel(name string) bool {
	_, ok := levelValues[name]
	return ok
}

// MarshalJSON serializes a Level as its name.
func (l Level) MarshalJSON() ([]byte, error) {
	name, ok := levelNames[l]
	if !ok {
		return nil, fmt.Errorf("cannot marshal unknown log level %d", int(l))
	}
	return []byte(`"` + name + `"`), nil
}

// UnmarshalJSON parses a Level from its name.
func (l *Level) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("log level must be a JSON string, got %s", string(data))
	}
	parsed, err := ParseLevel(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Severity classifies the impact of an audit event.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// IsValidSeverity reports whether s is a known severity.
func IsValidSeverity(s Severity) bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}
