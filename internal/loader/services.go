package loader

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/layzieshin/QMToolV6-sub000/internal/appenv"
	"github.com/layzieshin/QMToolV6-sub000/internal/audit"
	"github.com/layzieshin/QMToolV6-sub000/internal/configurator"
	"github.com/layzieshin/QMToolV6-sub000/internal/feature"
	"github.com/layzieshin/QMToolV6-sub000/internal/licensing"
)

// DatabaseService owns the process database location and guarantees the
// base schema exists. Feature repositories (the audit trail among them)
// derive their storage path from it.
type DatabaseService struct {
	URL  string
	Echo bool

	mu      sync.Mutex
	ensured bool
}

// NewDatabaseService creates the service from the configured database URL.
func NewDatabaseService(url string, echo bool) *DatabaseService {
	return &DatabaseService{URL: url, Echo: echo}
}

// Path translates a sqlite://-style URL into a filesystem path. Other
// schemes are passed through unchanged for drivers that accept DSNs.
func (d *DatabaseService) Path() string {
	for _, prefix := range []string{"sqlite://", "sqlite3://"} {
		if strings.HasPrefix(d.URL, prefix) {
			return strings.TrimPrefix(d.URL, prefix)
		}
	}
	return d.URL
}

// EnsureSchema idempotently creates the database file, its directory and
// the schema bookkeeping table.
func (d *DatabaseService) EnsureSchema() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ensured {
		return nil
	}

	path := d.Path()
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", path, err)
	}
	defer db.Close()

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_info (
			component TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("failed to create schema_info table: %w", err)
	}
	if _, err := db.Exec(
		`INSERT OR REPLACE INTO schema_info (component, version, applied_at) VALUES (?, ?, ?)`,
		"core", 1, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	d.ensured = true
	return nil
}

// LicensingService bundles the verified license state and the gatekeeper
// behind the licensing.service key. Built once during boot; immutable
// afterwards.
type LicensingService struct {
	Fingerprint  licensing.Fingerprint
	Result       licensing.VerificationResult
	Entitlements map[string]bool
	Gatekeeper   *licensing.Gatekeeper
}

// Check runs the per-feature admission decision against the verified
// entitlements.
func (l *LicensingService) Check(meta *feature.Descriptor) licensing.Decision {
	return l.Gatekeeper.Check(meta, l.Entitlements)
}

func newLicensingService(ctx context.Context, env *appenv.AppEnv) *LicensingService {
	fp := licensing.NewFingerprintProvider().Collect(ctx)
	backend := licensing.NewBackend(env.LicensePath, env.PublicKeyPath)
	entitlements, result := backend.LoadAndVerify(ctx, fp.Hash)
	return &LicensingService{
		Fingerprint:  fp,
		Result:       result,
		Entitlements: entitlements,
		Gatekeeper:   licensing.NewGatekeeper(),
	}
}

// featureConfigSource adapts the configurator to audit.ConfigSource.
// Errors (feature.ErrFeatureNotFound included) propagate unchanged.
type featureConfigSource struct {
	cfg *configurator.Service
}

func (s *featureConfigSource) FeatureAuditConfig(featureID string) (*audit.FeatureConfig, error) {
	meta, err := s.cfg.GetFeatureMeta(featureID)
	if err != nil {
		return nil, err
	}
	return auditConfigOf(meta), nil
}

func auditConfigOf(meta *feature.Descriptor) *audit.FeatureConfig {
	if meta.Audit == nil {
		return nil
	}
	return &audit.FeatureConfig{
		MustAudit:       meta.Audit.MustAudit,
		MinLogLevel:     meta.Audit.MinLogLevel,
		CriticalActions: append([]string(nil), meta.Audit.CriticalActions...),
		RetentionDays:   meta.Audit.RetentionDays,
	}
}

// The user-management, authenticator and translation features are external
// collaborators: only their service contracts live in the core. The stub
// implementations below bind the well-known keys so dependent features and
// the GUI can resolve them.

// UserRecord is the minimal user contract the core needs (audit policy role
// resolution).
type UserRecord struct {
	ID       int64
	Username string
	Role     string
}

// UserRepository stores user records.
type UserRepository interface {
	Get(id int64) (*UserRecord, error)
	List() ([]UserRecord, error)
}

// UserService exposes user lookups to other features.
type UserService interface {
	UserRepository
	RoleOf(userID int64) (string, error)
}

type memoryUserRepository struct {
	mu    sync.RWMutex
	users map[int64]UserRecord
}

func newMemoryUserRepository() *memoryUserRepository {
	return &memoryUserRepository{users: make(map[int64]UserRecord)}
}

func (r *memoryUserRepository) Get(id int64) (*UserRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d not found", id)
	}
	return &u, nil
}

func (r *memoryUserRepository) List() ([]UserRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]UserRecord, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	return users, nil
}

type stubUserService struct {
	repo *memoryUserRepository
}

func (s *stubUserService) Get(id int64) (*UserRecord, error) { return s.repo.Get(id) }

func (s *stubUserService) List() ([]UserRecord, error) { return s.repo.List() }

func (s *stubUserService) RoleOf(userID int64) (string, error) {
	u, err := s.repo.Get(userID)
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

// AuthService is the authenticator contract consumed by the GUI shell.
type AuthService interface {
	SessionTimeout() time.Duration
}

type stubAuthService struct {
	timeout time.Duration
}

func (s *stubAuthService) SessionTimeout() time.Duration { return s.timeout }

// TranslationService resolves UI strings. The stub echoes keys.
type TranslationService interface {
	Translate(key string) string
}

type stubTranslationService struct{}

func (stubTranslationService) Translate(key string) string { return key }
