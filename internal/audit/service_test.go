package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRoles maps fixed user ids to roles for policy tests.
type stubRoles map[int64]string

func (s stubRoles) RoleOf(userID int64) (string, error) {
	return s[userID], nil
}

// stubConfigSource serves canned feature audit configs.
type stubConfigSource map[string]*FeatureConfig

func (s stubConfigSource) FeatureAuditConfig(featureID string) (*FeatureConfig, error) {
	cfg, ok := s[featureID]
	if !ok {
		return nil, assert.AnError
	}
	return cfg, nil
}

const (
	adminUser = int64(1)
	qmbUser   = int64(2)
	plainUser = int64(3)
	otherUser = int64(4)
)

func defaultRoles() stubRoles {
	return stubRoles{adminUser: "admin", qmbUser: "QMB", plainUser: "USER"}
}

func newTestService(t *testing.T, source ConfigSource) *Service {
	t.Helper()
	repo, err := NewRepository(":memory:")
	require.NoError(t, err)
	svc := NewService(repo, NewPolicy(defaultRoles()), source, LevelInfo, 365)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestLogDefaultsAndPersists(t *testing.T) {
	svc := newTestService(t, nil)

	id, err := svc.Log(Event{UserID: plainUser, Feature: "f", Action: "LOGIN"})
	require.NoError(t, err)
	assert.Positive(t, id)

	logs, err := svc.GetLogs(SystemUserID, Filter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, LevelInfo, logs[0].LogLevel, "zero level defaults to INFO")
	assert.Equal(t, SeverityInfo, logs[0].Severity)
	assert.Equal(t, "user_3", logs[0].Username)
}

func TestLogSystemUsername(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.Log(Event{UserID: SystemUserID, Feature: "f", Action: "BOOT"})
	require.NoError(t, err)

	logs, err := svc.GetLogs(SystemUserID, Filter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, SystemUsername, logs[0].Username)
}

func TestLogLevelGateSuppresses(t *testing.T) {
	svc := newTestService(t, nil)

	id, err := svc.Log(Event{UserID: plainUser, Feature: "f", Action: "NOISY", LogLevel: LevelDebug})
	require.NoError(t, err)
	assert.Equal(t, SuppressedID, id)

	count, err := svc.repo.Count(Filter{})
	require.NoError(t, err)
	assert.Zero(t, count, "suppressed events never reach the store")
}

func TestSetMinLogLevelGlobalAndPerFeature(t *testing.T) {
	svc := newTestService(t, nil)

	svc.SetMinLogLevel(LevelError, "")
	id, err := svc.Log(Event{UserID: plainUser, Feature: "f", Action: "A", LogLevel: LevelWarning})
	require.NoError(t, err)
	assert.Equal(t, SuppressedID, id)

	// A per-feature override can open the gate back up for one feature.
	svc.SetMinLogLevel(LevelDebug, "chatty")
	id, err = svc.Log(Event{UserID: plainUser, Feature: "chatty", Action: "A", LogLevel: LevelDebug})
	require.NoError(t, err)
	assert.Positive(t, id)

	id, err = svc.Log(Event{UserID: plainUser, Feature: "f", Action: "A", LogLevel: LevelDebug})
	require.NoError(t, err)
	assert.Equal(t, SuppressedID, id, "other features keep the global gate")
}

func TestLogValidation(t *testing.T) {
	svc := newTestService(t, nil)

	tests := []struct {
		name  string
		event Event
	}{
		{"negative user", Event{UserID: -1, Feature: "f", Action: "A"}},
		{"empty feature", Event{UserID: 1, Action: "A"}},
		{"empty action", Event{UserID: 1, Feature: "f"}},
		{"unknown level", Event{UserID: 1, Feature: "f", Action: "A", LogLevel: Level(25)}},
		{"unknown severity", Event{UserID: 1, Feature: "f", Action: "A", Severity: "FATAL"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Log(tt.event)
			var invalid *InvalidLogError
			assert.ErrorAs(t, err, &invalid)
		})
	}
}

func TestCriticalHandlerFires(t *testing.T) {
	svc := newTestService(t, nil)

	var fired []Log
	svc.SetCriticalHandler(func(entry Log) { fired = append(fired, entry) })

	_, err := svc.Log(Event{UserID: plainUser, Feature: "f", Action: "DELETE_ALL", Severity: SeverityCritical})
	require.NoError(t, err)
	_, err = svc.Log(Event{UserID: plainUser, Feature: "f", Action: "LOGIN"})
	require.NoError(t, err)

	require.Len(t, fired, 1)
	assert.Equal(t, "DELETE_ALL", fired[0].Action)
}

func TestReadAccessPolicy(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.Log(Event{UserID: plainUser, Feature: "f", Action: "A"})
	require.NoError(t, err)
	_, err = svc.Log(Event{UserID: otherUser, Feature: "f", Action: "B"})
	require.NoError(t, err)

	// Elevated callers see everything.
	for _, caller := range []int64{SystemUserID, adminUser, qmbUser} {
		logs, err := svc.GetLogs(caller, Filter{})
		require.NoError(t, err)
		assert.Len(t, logs, 2, "caller %d", caller)
	}

	// Plain users must scope the query to themselves.
	self := plainUser
	logs, err := svc.GetLogs(plainUser, Filter{UserID: &self})
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	_, err = svc.GetLogs(plainUser, Filter{})
	var denied *AccessDeniedError
	require.ErrorAs(t, err, &denied)

	foreign := otherUser
	_, err = svc.GetLogs(plainUser, Filter{UserID: &foreign})
	require.ErrorAs(t, err, &denied)

	_, err = svc.SearchLogs(plainUser, "A", Filter{})
	require.ErrorAs(t, err, &denied, "search obeys the same policy")
}

func TestGetUserAndFeatureLogs(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.Log(Event{UserID: plainUser, Feature: "alpha", Action: "A"})
	require.NoError(t, err)
	_, err = svc.Log(Event{UserID: otherUser, Feature: "beta", Action: "B"})
	require.NoError(t, err)

	logs, err := svc.GetUserLogs(adminUser, plainUser, nil, nil)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "A", logs[0].Action)

	logs, err = svc.GetFeatureLogs(adminUser, "beta", nil, nil)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "B", logs[0].Action)
}

func TestGetFeatureAuditConfig(t *testing.T) {
	source := stubConfigSource{
		"document_control": {MustAudit: true, MinLogLevel: "WARNING", RetentionDays: 730},
	}
	svc := newTestService(t, source)

	cfg, err := svc.GetFeatureAuditConfig("document_control")
	require.NoError(t, err)
	assert.True(t, cfg.MustAudit)
	assert.Equal(t, 730, cfg.RetentionDays)

	_, err = svc.GetFeatureAuditConfig("ghost")
	assert.Error(t, err, "config source errors propagate unchanged")
}

func TestDeleteOldLogsUsesEffectiveRetention(t *testing.T) {
	source := stubConfigSource{
		"short_lived": {RetentionDays: 10},
	}
	svc := newTestService(t, source)

	old := time.Now().AddDate(0, 0, -30)
	_, err := svc.repo.Create(&Log{
		Timestamp: old, UserID: plainUser, Username: "user_3",
		Feature: "short_lived", Action: "OLD", LogLevel: LevelInfo, Severity: SeverityInfo,
	})
	require.NoError(t, err)
	_, err = svc.repo.Create(&Log{
		Timestamp: old, UserID: plainUser, Username: "user_3",
		Feature: "long_lived", Action: "OLD", LogLevel: LevelInfo, Severity: SeverityInfo,
	})
	require.NoError(t, err)

	// Feature retention (10 days) removes the 30-day-old row.
	deleted, err := svc.DeleteOldLogs("short_lived", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// The global default (365 days) keeps the other row.
	deleted, err = svc.DeleteOldLogs("", 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	// An explicit override beats everything.
	deleted, err = svc.DeleteOldLogs("", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestDeleteOldLogsWritesCleanupRecord(t *testing.T) {
	svc := newTestService(t, nil)

	old := time.Now().AddDate(0, 0, -30)
	_, err := svc.repo.Create(&Log{
		Timestamp: old, UserID: plainUser, Username: "user_3",
		Feature: "f", Action: "OLD", LogLevel: LevelInfo, Severity: SeverityInfo,
	})
	require.NoError(t, err)

	deleted, err := svc.DeleteOldLogs("", 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	logs, err := svc.GetLogs(SystemUserID, Filter{Action: "DELETE_OLD_LOGS"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, SystemUserID, logs[0].UserID)
	assert.Equal(t, "audittrail", logs[0].Feature)
	assert.Equal(t, float64(1), logs[0].Details["deleted_count"], "details survive the JSON round trip")
}

func TestDeleteOldLogsNoDeletionsNoRecord(t *testing.T) {
	svc := newTestService(t, nil)

	deleted, err := svc.DeleteOldLogs("", 10)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	count, err := svc.repo.Count(Filter{})
	require.NoError(t, err)
	assert.Zero(t, count, "an empty cleanup leaves no trace")
}

func TestApplyFeatureConfig(t *testing.T) {
	svc := newTestService(t, nil)
	svc.ApplyFeatureConfig("strict_feature", &FeatureConfig{MinLogLevel: "ERROR", RetentionDays: 30})

	id, err := svc.Log(Event{UserID: plainUser, Feature: "strict_feature", Action: "A", LogLevel: LevelWarning})
	require.NoError(t, err)
	assert.Equal(t, SuppressedID, id)

	id, err = svc.Log(Event{UserID: plainUser, Feature: "strict_feature", Action: "A", LogLevel: LevelError})
	require.NoError(t, err)
	assert.Positive(t, id)

	svc.ApplyFeatureConfig("noop", nil)
}
