package loader

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/layzieshin/QMToolV6-sub000/internal/appenv"
	"github.com/layzieshin/QMToolV6-sub000/internal/audit"
	"github.com/layzieshin/QMToolV6-sub000/internal/container"
	"github.com/layzieshin/QMToolV6-sub000/internal/feature"
)

// auditDBFileName is the audit trail's sqlite file inside the data dir,
// used when no database service resolves during registration.
const auditDBFileName = "audit.db"

// builtinModules is the known-feature dispatch table. A plugin-capable
// build would consult each feature's own register function instead; the
// shipped feature set is compiled in.
func (l *Loader) builtinModules() map[string]feature.Module {
	return map[string]feature.Module{
		FeatureDatabase: {
			ID: FeatureDatabase,
			// database.service is registered as infrastructure in step 2;
			// the feature hook only has to exist for dispatch.
			Register: func(reg *container.Registry, env *appenv.AppEnv) error { return nil },
			Start: func(reg *container.Registry) error {
				db, err := container.ResolveAs[*DatabaseService](reg, KeyDatabase)
				if err != nil {
					return err
				}
				return db.EnsureSchema()
			},
		},
		FeatureConfigurator: {
			ID:       FeatureConfigurator,
			Register: func(reg *container.Registry, env *appenv.AppEnv) error { return nil },
		},
		FeatureLicensing: {
			ID:       FeatureLicensing,
			Register: func(reg *container.Registry, env *appenv.AppEnv) error { return nil },
		},
		FeatureAudittrail: {
			ID:       FeatureAudittrail,
			Register: l.registerAudittrail,
		},
		FeatureUserMgmt: {
			ID: FeatureUserMgmt,
			Register: func(reg *container.Registry, env *appenv.AppEnv) error {
				repo := newMemoryUserRepository()
				if err := reg.RegisterInstance(KeyUserRepo, repo); err != nil {
					return err
				}
				var svc UserService = &stubUserService{repo: repo}
				return reg.RegisterInstance(KeyUserService, svc)
			},
		},
		FeatureAuth: {
			ID: FeatureAuth,
			Register: func(reg *container.Registry, env *appenv.AppEnv) error {
				var svc AuthService = &stubAuthService{
					timeout: time.Duration(env.SessionTimeoutMins) * time.Minute,
				}
				return reg.RegisterInstance(KeyAuthService, svc)
			},
		},
		FeatureTranslation: {
			ID: FeatureTranslation,
			Register: func(reg *container.Registry, env *appenv.AppEnv) error {
				var svc TranslationService = stubTranslationService{}
				return reg.RegisterInstance(KeyTranslation, svc)
			},
		},
	}
}

// registerAudittrail builds the audit repository, policy and service, and
// binds both audit.service and the audit.sink alias. The repository stores
// its table in the database service's file when one is registered, else in
// a dedicated file under the data dir.
func (l *Loader) registerAudittrail(reg *container.Registry, env *appenv.AppEnv) error {
	dbPath := filepath.Join(env.DataDir, auditDBFileName)
	if raw, ok, err := reg.TryResolve(KeyDatabase); err == nil && ok {
		if db, isDB := raw.(*DatabaseService); isDB {
			dbPath = db.Path()
		}
	}

	repo, err := audit.NewRepository(dbPath)
	if err != nil {
		return err
	}

	// Role lookups go through the container lazily: the user-management
	// feature registers after the audit trail in every valid boot order.
	roles := audit.RoleResolverFunc(func(userID int64) (string, error) {
		raw, ok, err := reg.TryResolve(KeyUserService)
		if err != nil || !ok {
			return "", nil
		}
		users, isUsers := raw.(UserService)
		if !isUsers {
			return "", nil
		}
		return users.RoleOf(userID)
	})

	minLevel, err := audit.ParseLevel(env.MinLogLevel)
	if err != nil {
		repo.Close()
		return fmt.Errorf("invalid min log level in environment: %w", err)
	}

	var source audit.ConfigSource = &featureConfigSource{cfg: l.ensureConfigurator()}
	svc := audit.NewService(repo, audit.NewPolicy(roles), source, minLevel, env.GlobalRetentionDays)

	if err := reg.RegisterInstance(KeyAuditService, svc); err != nil {
		svc.Close()
		return err
	}
	return reg.RegisterAlias(KeyAuditSink, KeyAuditService)
}
