package audit

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/layzieshin/QMToolV6-sub000/internal/logging"
)

// FeatureConfig is the audit block of one feature descriptor as the audit
// service consumes it.
type FeatureConfig struct {
	MustAudit       bool
	MinLogLevel     string
	CriticalActions []string
	RetentionDays   int
}

// ConfigSource supplies per-feature audit configuration. The configurator
// provides the real implementation; errors (including feature-not-found)
// propagate to callers unchanged.
type ConfigSource interface {
	FeatureAuditConfig(featureID string) (*FeatureConfig, error)
}

// CriticalHandler is invoked after a CRITICAL-severity event persisted.
// Wired for future notification channels; the default is a no-op.
type CriticalHandler func(entry Log)

// Service is the audit subsystem: level gating, validation, persistence,
// role-scoped queries, retention cleanup and export.
type Service struct {
	repo   *Repository
	policy *Policy
	source ConfigSource
	log    *zap.Logger

	mu             sync.RWMutex
	globalMinLevel Level
	featureLevels  map[string]Level
	retentionDays  int
	retentionCache map[string]int
	onCritical     CriticalHandler
}

// NewService creates the audit service. globalMinLevel and retentionDays
// come from the process environment; source may be nil when no feature
// metadata is available (all features then use the global settings).
func NewService(repo *Repository, policy *Policy, source ConfigSource, globalMinLevel Level, retentionDays int) *Service {
	if globalMinLevel == 0 {
		globalMinLevel = LevelInfo
	}
	return &Service{
		repo:           repo,
		policy:         policy,
		source:         source,
		log:            logging.Get(logging.CategoryAudit),
		globalMinLevel: globalMinLevel,
		featureLevels:  make(map[string]Level),
		retentionDays:  retentionDays,
		retentionCache: make(map[string]int),
		onCritical:     func(Log) {},
	}
}

// SetCriticalHandler replaces the critical-severity hook.
func (s *Service) SetCriticalHandler(h CriticalHandler) {
	if h == nil {
		h = func(Log) {}
	}
	s.mu.Lock()
	s.onCritical = h
	s.mu.Unlock()
}

// Close releases the underlying repository.
func (s *Service) Close() error {
	return s.repo.Close()
}

// Log gates, validates and persists one audit event. Returns the generated
// id, or SuppressedID when the event falls below the effective minimum
// level (no insert, no side effects).
func (s *Service) Log(e Event) (int64, error) {
	if e.LogLevel == 0 {
		e.LogLevel = LevelInfo
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}

	if e.LogLevel < s.effectiveMinLevel(e.Feature) {
		return SuppressedID, nil
	}

	entry := Log{
		Timestamp: time.Now(),
		UserID:    e.UserID,
		Username:  usernameFor(e.UserID),
		Feature:   e.Feature,
		Action:    e.Action,
		LogLevel:  e.LogLevel,
		Severity:  e.Severity,
		IPAddress: e.IPAddress,
		SessionID: e.SessionID,
		Module:    e.Module,
		Function:  e.Function,
		Details:   e.Details,
	}

	if err := validateEvent(e); err != nil {
		return 0, err
	}

	id, err := s.repo.Create(&entry)
	if err != nil {
		return 0, err
	}

	if entry.Severity == SeverityCritical {
		s.mu.RLock()
		handler := s.onCritical
		s.mu.RUnlock()
		handler(entry)
	}
	return id, nil
}

func validateEvent(e Event) error {
	if e.UserID < 0 {
		return &InvalidLogError{Reason: fmt.Sprintf("user_id must be non-negative, got %d", e.UserID), Event: e}
	}
	if e.Feature == "" {
		return &InvalidLogError{Reason: "feature must not be empty", Event: e}
	}
	if e.Action == "" {
		return &InvalidLogError{Reason: "action must not be empty", Event: e}
	}
	if _, ok := levelNames[e.LogLevel]; !ok {
		return &InvalidLogError{Reason: fmt.Sprintf("unknown log level %d", int(e.LogLevel)), Event: e}
	}
	if !IsValidSeverity(e.Severity) {
		return &InvalidLogError{Reason: fmt.Sprintf("unknown severity %q", e.Severity), Event: e}
	}
	return nil
}

func usernameFor(userID int64) string {
	if userID == SystemUserID {
		return SystemUsername
	}
	return fmt.Sprintf("user_%d", userID)
}

// effectiveMinLevel returns the per-feature override when set, else the
// global minimum.
func (s *Service) effectiveMinLevel(featureID string) Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if lvl, ok := s.featureLevels[featureID]; ok {
		return lvl
	}
	return s.globalMinLevel
}

// SetMinLogLevel sets the global minimum (empty featureID) or a per-feature
// override.
func (s *Service) SetMinLogLevel(level Level, featureID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if featureID == "" {
		s.globalMinLevel = level
		s.log.Info("global audit min level changed", zap.String("level", level.String()))
		return
	}
	s.featureLevels[featureID] = level
	s.log.Info("feature audit min level changed",
		zap.String("feature", featureID),
		zap.String("level", level.String()))
}

// GetFeatureAuditConfig returns the audit block of one feature descriptor.
// Errors from the config source (including feature-not-found) propagate.
func (s *Service) GetFeatureAuditConfig(featureID string) (*FeatureConfig, error) {
	if s.source == nil {
		return nil, fmt.Errorf("no feature config source wired")
	}
	cfg, err := s.source.FeatureAuditConfig(featureID)
	if err != nil {
		return nil, err
	}
	if cfg != nil && cfg.RetentionDays > 0 {
		s.mu.Lock()
		s.retentionCache[featureID] = cfg.RetentionDays
		s.mu.Unlock()
	}
	return cfg, nil
}

// GetLogs returns logs matching the filter, subject to the access policy.
func (s *Service) GetLogs(callerID int64, f Filter) ([]Log, error) {
	if err := s.policy.AuthorizeRead(callerID, f); err != nil {
		return nil, err
	}
	return s.repo.Query(f)
}

// GetUserLogs returns one user's logs within the optional time range.
func (s *Service) GetUserLogs(callerID, userID int64, start, end *time.Time) ([]Log, error) {
	return s.GetLogs(callerID, Filter{UserID: &userID, StartDate: start, EndDate: end})
}

// GetFeatureLogs returns one feature's logs within the optional time range.
func (s *Service) GetFeatureLogs(callerID int64, featureID string, start, end *time.Time) ([]Log, error) {
	return s.GetLogs(callerID, Filter{Feature: featureID, StartDate: start, EndDate: end})
}

// SearchLogs matches query against action and serialized details, subject
// to the access policy.
func (s *Service) SearchLogs(callerID int64, query string, f Filter) ([]Log, error) {
	if err := s.policy.AuthorizeRead(callerID, f); err != nil {
		return nil, err
	}
	return s.repo.Search(query, f)
}

// DeleteOldLogs removes logs older than the effective retention: the
// explicit argument when positive, else the feature-specific retention,
// else the global default. On success with deletions a system audit record
// documents the cleanup (subject to the normal level gate).
func (s *Service) DeleteOldLogs(featureID string, retentionDays int) (int64, error) {
	effective := s.effectiveRetention(featureID, retentionDays)
	cutoff := time.Now().AddDate(0, 0, -effective)

	deleted, err := s.repo.DeleteOlderThan(cutoff, featureID)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		if _, err := s.Log(Event{
			UserID:   SystemUserID,
			Feature:  "audittrail",
			Action:   "DELETE_OLD_LOGS",
			Severity: SeverityInfo,
			Details: map[string]any{
				"deleted_count":  deleted,
				"feature":        featureID,
				"retention_days": effective,
				"cutoff":         cutoff.UTC().Format(time.RFC3339),
			},
		}); err != nil {
			s.log.Warn("failed to record cleanup audit entry", zap.Error(err))
		}
		s.log.Info("old audit logs deleted",
			zap.Int64("deleted", deleted),
			zap.String("feature", featureID),
			zap.Int("retention_days", effective))
	}
	return deleted, nil
}

func (s *Service) effectiveRetention(featureID string, explicit int) int {
	if explicit > 0 {
		return explicit
	}
	if featureID != "" {
		s.mu.RLock()
		cached, ok := s.retentionCache[featureID]
		s.mu.RUnlock()
		if ok {
			return cached
		}
		if s.source != nil {
			if cfg, err := s.source.FeatureAuditConfig(featureID); err == nil && cfg != nil && cfg.RetentionDays > 0 {
				s.mu.Lock()
				s.retentionCache[featureID] = cfg.RetentionDays
				s.mu.Unlock()
				return cfg.RetentionDays
			}
		}
	}
	return s.retentionDays
}

// ApplyFeatureConfig installs a feature's descriptor-driven audit settings
// (per-feature min level and retention). Called by the loader after
// discovery.
func (s *Service) ApplyFeatureConfig(featureID string, cfg *FeatureConfig) {
	if cfg == nil {
		return
	}
	if cfg.MinLogLevel != "" {
		if lvl, err := ParseLevel(cfg.MinLogLevel); err == nil {
			s.SetMinLogLevel(lvl, featureID)
		}
	}
	if cfg.RetentionDays > 0 {
		s.mu.Lock()
		s.retentionCache[featureID] = cfg.RetentionDays
		s.mu.Unlock()
	}
}
