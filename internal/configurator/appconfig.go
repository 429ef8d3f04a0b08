package configurator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/layzieshin/QMToolV6-sub000/internal/appenv"
	"github.com/layzieshin/QMToolV6-sub000/internal/audit"
)

// AppConfigRelativePath is the conventional app-config location under the
// project root. Distinct from the INI process config: this file carries
// application-level settings editable from the GUI.
const AppConfigRelativePath = "config/app_config.json"

// ConfigValidationError reports an app-config field that failed validation
// in strict mode.
type ConfigValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("app config field %q invalid (value %v): %s", e.Field, e.Value, e.Reason)
}

// AppConfig mirrors the AppEnv field taxonomy but is sourced from the
// app-level JSON file.
type AppConfig struct {
	Database struct {
		URL  string `json:"url"`
		Echo bool   `json:"echo"`
	} `json:"database"`
	Audit struct {
		GlobalRetentionDays int    `json:"global_retention_days"`
		MinLogLevel         string `json:"min_log_level"`
	} `json:"audit"`
	Session struct {
		TimeoutMinutes int `json:"timeout_minutes"`
	} `json:"session"`
	Paths struct {
		FeaturesRoot string `json:"features_root"`
		DataDir      string `json:"data_dir"`
	} `json:"paths"`
}

// defaultAppConfig mirrors the built-in AppEnv defaults.
func defaultAppConfig() *AppConfig {
	cfg := &AppConfig{}
	cfg.Database.URL = appenv.DefaultDatabaseURL
	cfg.Audit.GlobalRetentionDays = appenv.DefaultRetentionDays
	cfg.Audit.MinLogLevel = appenv.DefaultMinLogLevel
	cfg.Session.TimeoutMinutes = appenv.DefaultSessionTimeoutMins
	cfg.Paths.FeaturesRoot = appenv.DefaultFeaturesRoot
	cfg.Paths.DataDir = appenv.DefaultDataDir
	return cfg
}

// GetAppConfig reads <project>/config/app_config.json. A missing file or,
// in lenient mode, a broken one yields defaults with a warning; strict mode
// surfaces parse and validation failures as ConfigValidationError.
func (s *Service) GetAppConfig() (*AppConfig, error) {
	cfg := defaultAppConfig()
	path := filepath.Join(s.projectRoot, AppConfigRelativePath)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Debug("app config not found, using defaults", zap.String("path", path))
			return cfg, nil
		}
		if s.strict {
			return nil, &ConfigValidationError{Field: "app_config", Value: path, Reason: err.Error()}
		}
		s.log.Warn("app config unreadable, using defaults", zap.String("path", path), zap.Error(err))
		return cfg, nil
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		if s.strict {
			return nil, &ConfigValidationError{Field: "app_config", Value: path, Reason: err.Error()}
		}
		s.log.Warn("app config unparsable, using defaults", zap.String("path", path), zap.Error(err))
		return defaultAppConfig(), nil
	}

	if err := validateAppConfig(cfg); err != nil {
		if s.strict {
			return nil, err
		}
		s.log.Warn("app config invalid, substituting defaults", zap.Error(err))
		return defaultAppConfig(), nil
	}
	return cfg, nil
}

func validateAppConfig(cfg *AppConfig) error {
	if cfg.Audit.GlobalRetentionDays <= 0 {
		return &ConfigValidationError{
			Field:  "audit.global_retention_days",
			Value:  cfg.Audit.GlobalRetentionDays,
			Reason: "must be a positive integer",
		}
	}
	if !audit.IsValidLevel(cfg.Audit.MinLogLevel) {
		return &ConfigValidationError{
			Field:  "audit.min_log_level",
			Value:  cfg.Audit.MinLogLevel,
			Reason: "must be one of DEBUG|INFO|WARNING|ERROR|CRITICAL",
		}
	}
	if cfg.Session.TimeoutMinutes <= 0 {
		return &ConfigValidationError{
			Field:  "session.timeout_minutes",
			Value:  cfg.Session.TimeoutMinutes,
			Reason: "must be a positive integer",
		}
	}
	return nil
}
