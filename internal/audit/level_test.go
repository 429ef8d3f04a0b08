package audit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelOrdering(t *testing.T) {
	assert.True(t, LevelDebug < LevelInfo)
	assert.True(t, LevelInfo < LevelWarning)
	assert.True(t, LevelWarning < LevelError)
	assert.True(t, LevelError < LevelCritical)
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]Level{
		"DEBUG":    LevelDebug,
		"INFO":     LevelInfo,
		"WARNING":  LevelWarning,
		"ERROR":    LevelError,
		"CRITICAL": LevelCritical,
	} {
		got, err := ParseLevel(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, name, got.String())
	}

	_, err := ParseLevel("TRACE")
	assert.Error(t, err)
	_, err = ParseLevel("info")
	assert.Error(t, err, "level names are case-sensitive on the wire")
}

func TestIsValidLevel(t *testing.T) {
	assert.True(t, IsValidLevel("INFO"))
	assert.False(t, IsValidLevel(""))
	assert.False(t, IsValidLevel("VERBOSE"))
}

func TestLevelJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(LevelWarning)
	require.NoError(t, err)
	assert.Equal(t, `"WARNING"`, string(data))

	var l Level
	require.NoError(t, json.Unmarshal([]byte(`"ERROR"`), &l))
	assert.Equal(t, LevelError, l)

	assert.Error(t, json.Unmarshal([]byte(`30`), &l), "numeric levels are rejected")

	_, err = json.Marshal(Level(99))
	assert.Error(t, err)
}

func TestIsValidSeverity(t *testing.T) {
	assert.True(t, IsValidSeverity(SeverityInfo))
	assert.True(t, IsValidSeverity(SeverityWarning))
	assert.True(t, IsValidSeverity(SeverityCritical))
	assert.False(t, IsValidSeverity("ERROR"))
	assert.False(t, IsValidSeverity(""))
}
