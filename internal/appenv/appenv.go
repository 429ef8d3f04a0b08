// Package appenv loads the typed process configuration for the QMTool
// runtime. The configuration is read once at boot from an INI file and is
// immutable afterwards.
package appenv

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/ini.v1"

	"github.com/layzieshin/QMToolV6-sub000/internal/audit"
	"github.com/layzieshin/QMToolV6-sub000/internal/logging"
)

// Defaults applied when the config file or individual keys are absent.
const (
	DefaultDatabaseURL        = "sqlite://data/qmtool.db"
	DefaultFeaturesRoot       = "features"
	DefaultDataDir            = "data"
	DefaultRetentionDays      = 365
	DefaultMinLogLevel        = "INFO"
	DefaultSessionTimeoutMins = 30
	DefaultLicenseFileName    = "license.json"
	DefaultPublicKeyFileName  = "license_pub.key"
	defaultConfigRelativePath = "config/qmtool.ini"
)

// AppEnv is the typed process configuration. Created once at boot and never
// mutated afterwards.
type AppEnv struct {
	DatabaseURL         string
	SQLEcho             bool
	LicensePath         string
	PublicKeyPath       string
	FeaturesRoot        string
	ProjectRoot         string
	DataDir             string
	GlobalRetentionDays int
	MinLogLevel         string
	SessionTimeoutMins  int
}

// DefaultEnv returns an AppEnv populated with built-in defaults, rooted at
// projectRoot.
func DefaultEnv(projectRoot string) *AppEnv {
	return &AppEnv{
		DatabaseURL:         DefaultDatabaseURL,
		SQLEcho:             false,
		LicensePath:         filepath.Join(projectRoot, DefaultDataDir, DefaultLicenseFileName),
		PublicKeyPath:       filepath.Join(projectRoot, DefaultDataDir, DefaultPublicKeyFileName),
		FeaturesRoot:        filepath.Join(projectRoot, DefaultFeaturesRoot),
		ProjectRoot:         projectRoot,
		DataDir:             filepath.Join(projectRoot, DefaultDataDir),
		GlobalRetentionDays: DefaultRetentionDays,
		MinLogLevel:         DefaultMinLogLevel,
		SessionTimeoutMins:  DefaultSessionTimeoutMins,
	}
}

// DefaultConfigPath returns the conventional config file location under the
// project root.
func DefaultConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, defaultConfigRelativePath)
}

// Load reads the INI process config at path and returns the resulting
// AppEnv. A missing file yields defaults; a malformed file is an error.
func Load(projectRoot, path string) (*AppEnv, error) {
	log := logging.Get(logging.CategoryBoot)
	env := DefaultEnv(projectRoot)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Info("process config not found, using defaults", zap.String("path", path))
		return env, nil
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse process config %s: %w", path, err)
	}

	db := cfg.Section("database")
	if k := db.Key("url"); k.String() != "" {
		env.DatabaseURL = k.String()
	}
	if k := db.Key("echo"); k.String() != "" {
		env.SQLEcho = k.MustBool(false)
	}

	lic := cfg.Section("licensing")
	if k := lic.Key("license_path"); k.String() != "" {
		env.LicensePath = resolvePath(projectRoot, ExpandEnv(k.String()))
	}
	if k := lic.Key("public_key_path"); k.String() != "" {
		env.PublicKeyPath = resolvePath(projectRoot, ExpandEnv(k.String()))
	}

	paths := cfg.Section("paths")
	if k := paths.Key("features_root"); k.String() != "" {
		env.FeaturesRoot = resolvePath(projectRoot, k.String())
	}
	if k := paths.Key("data_dir"); k.String() != "" {
		env.DataDir = resolvePath(projectRoot, k.String())
	}

	auditSec := cfg.Section("audit")
	if k := auditSec.Key("global_retention_days"); k.String() != "" {
		env.GlobalRetentionDays = k.MustInt(DefaultRetentionDays)
	}
	if k := auditSec.Key("min_log_level"); k.String() != "" {
		env.MinLogLevel = strings.ToUpper(k.String())
	}

	session := cfg.Section("session")
	if k := session.Key("timeout_minutes"); k.String() != "" {
		env.SessionTimeoutMins = k.MustInt(DefaultSessionTimeoutMins)
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}

	log.Info("process config loaded",
		zap.String("path", path),
		zap.String("features_root", env.FeaturesRoot),
		zap.String("min_log_level", env.MinLogLevel),
		zap.Int("retention_days", env.GlobalRetentionDays))
	return env, nil
}

// Validate checks the invariants the rest of the runtime relies on.
func (e *AppEnv) Validate() error {
	if e.GlobalRetentionDays <= 0 {
		return fmt.Errorf("global_retention_days must be positive, got %d", e.GlobalRetentionDays)
	}
	if !audit.IsValidLevel(e.MinLogLevel) {
		return fmt.Errorf("min_log_level must be one of DEBUG|INFO|WARNING|ERROR|CRITICAL, got %q", e.MinLogLevel)
	}
	if e.SessionTimeoutMins <= 0 {
		return fmt.Errorf("session timeout_minutes must be positive, got %d", e.SessionTimeoutMins)
	}
	return nil
}

var windowsEnvPattern = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_]*)%`)

// ExpandEnv expands both %VAR% and $VAR style environment references.
// Unknown variables are left untouched so paths stay diagnosable.
func ExpandEnv(s string) string {
	expanded := windowsEnvPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return m
	})
	return os.Expand(expanded, func(name string) string {
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return "$" + name
	})
}

func resolvePath(projectRoot, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(projectRoot, p)
}
