package loader

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/layzieshin/QMToolV6-sub000/internal/appenv"
	"github.com/layzieshin/QMToolV6-sub000/internal/audit"
	"github.com/layzieshin/QMToolV6-sub000/internal/configurator"
	"github.com/layzieshin/QMToolV6-sub000/internal/container"
	"github.com/layzieshin/QMToolV6-sub000/internal/feature"
	"github.com/layzieshin/QMToolV6-sub000/internal/logging"
)

// Options tune one boot run.
type Options struct {
	// Skip lists feature ids the caller wants excluded from this boot.
	// Skipping the audit trail is fatal by design.
	Skip []string
	// StrictDescriptors aborts discovery on the first invalid meta.json.
	StrictDescriptors bool
	// Modules overrides the built-in dispatch table (tests, plugins).
	Modules map[string]feature.Module
	// WatchFeatures starts the descriptor cache invalidation watcher.
	WatchFeatures bool
}

// Loader is the composition root. It exclusively owns the container; after
// Boot returns no further registrations occur.
type Loader struct {
	env      *appenv.AppEnv
	registry *container.Registry
	modules  map[string]feature.Module
	skip     map[string]struct{}
	opts     Options
	log      *zap.Logger

	cfgOnce      sync.Once
	configurator *configurator.Service
	featureRepo  *feature.Repository

	mu      sync.Mutex
	booted  bool
	bootID  string
	bootLog []string
}

// New creates a loader over the given environment.
func New(env *appenv.AppEnv, opts Options) *Loader {
	l := &Loader{
		env:      env,
		registry: container.New(),
		skip:     make(map[string]struct{}),
		opts:     opts,
		log:      logging.Get(logging.CategoryBoot),
	}
	for _, id := range opts.Skip {
		l.skip[id] = struct{}{}
	}
	l.modules = l.builtinModules()
	for id, mod := range opts.Modules {
		l.modules[id] = mod
	}
	return l
}

// Registry exposes the container for runtime resolution.
func (l *Loader) Registry() *container.Registry {
	return l.registry
}

// Boot runs the boot protocol and returns the ordered log of registered
// feature ids. A second call on the same loader is a no-op returning the
// cached log.
func (l *Loader) Boot(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.booted {
		l.log.Debug("boot requested twice, returning cached log",
			zap.String("boot_id", l.bootID))
		return append([]string(nil), l.bootLog...), nil
	}

	l.bootID = uuid.NewString()
	l.log.Info("boot starting",
		zap.String("boot_id", l.bootID),
		zap.String("features_root", l.env.FeaturesRoot))

	// Step 1: environment singleton.
	if err := l.registry.RegisterInstance(KeyEnv, l.env); err != nil {
		return nil, &BootstrapError{Step: "register-env", Err: err}
	}

	// Step 2: infrastructure singletons, registered but not resolved.
	if err := l.registerInfrastructure(ctx); err != nil {
		return nil, err
	}

	// Step 3: feature discovery.
	features, err := l.discoverFeatures(ctx)
	if err != nil {
		return nil, err
	}

	// License gate: drop denied features before ordering.
	admitted, err := l.filterByLicense(features)
	if err != nil {
		return nil, err
	}

	// Step 4: deterministic boot order.
	order, err := bootOrder(admitted)
	if err != nil {
		return nil, err
	}
	l.log.Info("boot order computed", zap.Strings("order", order))

	// Step 5: register features, enforcing the audit hard gate.
	if err := l.registerFeatures(order); err != nil {
		return nil, err
	}

	// Step 6: the audit sink must exist, whatever the feature set was.
	if !l.registry.IsRegistered(KeyAuditSink) {
		return nil, fmt.Errorf("%w: audit trail did not register its sink", ErrAuditSinkNotAvailable)
	}

	// Step 7: start hooks, then the database schema.
	if err := l.startFeatures(); err != nil {
		return nil, err
	}

	l.booted = true
	l.log.Info("boot complete",
		zap.String("boot_id", l.bootID),
		zap.Strings("boot_log", l.bootLog))
	return append([]string(nil), l.bootLog...), nil
}

func (l *Loader) registerInfrastructure(ctx context.Context) error {
	env := l.env
	infra := []struct {
		key     string
		factory container.FactoryFunc
	}{
		{KeyLicensing, func() (any, error) {
			return newLicensingService(ctx, env), nil
		}},
		{KeyConfigurator, func() (any, error) {
			return l.ensureConfigurator(), nil
		}},
		{KeyDatabase, func() (any, error) {
			return NewDatabaseService(env.DatabaseURL, env.SQLEcho), nil
		}},
	}
	for _, svc := range infra {
		if err := l.registry.RegisterSingleton(svc.key, svc.factory); err != nil {
			l.log.Warn("infrastructure registration failed, continuing",
				zap.String("key", svc.key),
				zap.Error(err))
		}
	}
	return nil
}

// ensureConfigurator builds the descriptor repository and the configurator
// on first use, whether that is boot discovery or an early resolve of the
// configurator key. The singleton factory must never hand out nil.
func (l *Loader) ensureConfigurator() *configurator.Service {
	l.cfgOnce.Do(func() {
		mode := feature.Lenient
		if l.opts.StrictDescriptors {
			mode = feature.Strict
		}
		l.featureRepo = feature.NewRepository(l.env.FeaturesRoot, mode)
		l.configurator = configurator.New(l.featureRepo, l.env.ProjectRoot, l.opts.StrictDescriptors)
	})
	return l.configurator
}

func (l *Loader) discoverFeatures(ctx context.Context) (map[string]feature.Descriptor, error) {
	cfg, err := container.ResolveAs[*configurator.Service](l.registry, KeyConfigurator)
	if err != nil {
		return nil, &BootstrapError{Step: "resolve-configurator", Err: err}
	}

	if l.opts.WatchFeatures {
		if err := l.featureRepo.Watch(ctx); err != nil {
			l.log.Warn("feature watcher unavailable", zap.Error(err))
		}
	}

	descriptors, err := cfg.DiscoverFeatures()
	if err != nil {
		return nil, &BootstrapError{Step: "discover-features", Err: err}
	}

	features := make(map[string]feature.Descriptor, len(descriptors))
	for _, desc := range descriptors {
		features[desc.ID] = desc
	}
	return features, nil
}

// filterByLicense drops features the gatekeeper denies. A surviving
// feature that depended on a denied one fails boot with a DependencyError
// so half-wired feature sets never come up.
func (l *Loader) filterByLicense(features map[string]feature.Descriptor) (map[string]feature.Descriptor, error) {
	raw, err := l.registry.Resolve(KeyLicensing)
	if err != nil {
		l.log.Warn("licensing service unavailable, admitting unrestricted features only on their own terms",
			zap.Error(err))
		return features, nil
	}
	lic, ok := raw.(*LicensingService)
	if !ok {
		return features, nil
	}

	denied := make(map[string]struct{})
	admitted := make(map[string]feature.Descriptor, len(features))
	for id, desc := range features {
		decision := lic.Check(&desc)
		if decision.Admitted {
			admitted[id] = desc
			continue
		}
		denied[id] = struct{}{}
		l.log.Warn("feature denied by license gate",
			zap.String("feature", id),
			zap.String("code", decision.Code),
			zap.String("reason", decision.Reason))
	}

	for id, desc := range admitted {
		var missing []string
		for _, dep := range desc.Dependencies {
			if _, wasDenied := denied[dep]; wasDenied {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			return nil, &DependencyError{FeatureID: id, Missing: missing}
		}
	}
	return admitted, nil
}

func (l *Loader) registerFeatures(order []string) error {
	for _, id := range order {
		if _, skipped := l.skip[id]; skipped {
			if id == FeatureAudittrail {
				return fmt.Errorf("%w: audit trail is in the skip set", ErrAuditSinkNotAvailable)
			}
			l.log.Info("feature skipped by caller", zap.String("feature", id))
			continue
		}

		mod, known := l.modules[id]
		if !known || mod.Register == nil {
			l.log.Warn("no module registered for feature, skipping",
				zap.String("feature", id))
			continue
		}

		if err := mod.Register(l.registry, l.env); err != nil {
			return &FeatureLoadError{FeatureID: id, Reason: err.Error()}
		}
		l.bootLog = append(l.bootLog, id)
		l.log.Info("feature registered", zap.String("feature", id))

		// Hard gate: nothing boots past the audit trail until its sink
		// resolves.
		if id == FeatureAudittrail {
			sink, err := l.registry.Resolve(KeyAuditSink)
			if err != nil || sink == nil {
				return fmt.Errorf("%w: sink resolution failed after audittrail registration", ErrAuditSinkNotAvailable)
			}
			l.applyFeatureAuditConfigs()
		}
	}
	return nil
}

// applyFeatureAuditConfigs pushes descriptor-driven audit settings into the
// audit service right after the sink came up.
func (l *Loader) applyFeatureAuditConfigs() {
	svc, err := container.ResolveAs[*audit.Service](l.registry, KeyAuditService)
	if err != nil {
		return
	}
	entries, err := l.configurator.GetAllFeatures("")
	if err != nil {
		return
	}
	for _, entry := range entries {
		if cfg := auditConfigOf(&entry.Descriptor); cfg != nil {
			svc.ApplyFeatureConfig(entry.Descriptor.ID, cfg)
		}
	}
}

func (l *Loader) startFeatures() error {
	for _, id := range l.bootLog {
		mod, known := l.modules[id]
		if !known || mod.Start == nil {
			continue
		}
		if err := mod.Start(l.registry); err != nil {
			return &FeatureLoadError{FeatureID: id, Reason: fmt.Sprintf("start hook failed: %v", err)}
		}
	}

	// Schema creation on the database service, whether or not the database
	// feature was part of the discovered set.
	if raw, ok, err := l.registry.TryResolve(KeyDatabase); err == nil && ok {
		if db, isDB := raw.(*DatabaseService); isDB {
			if err := db.EnsureSchema(); err != nil {
				return &BootstrapError{Step: "ensure-schema", Err: err}
			}
		}
	}
	return nil
}

// Shutdown disposes the container-held resources the loader created. Safe
// to call once after the process is done with the registry.
func (l *Loader) Shutdown() {
	if raw, ok, err := l.registry.TryResolve(KeyAuditService); err == nil && ok {
		if svc, isAudit := raw.(*audit.Service); isAudit {
			_ = svc.Close()
		}
	}
	l.registry.Clear()
	l.log.Info("loader shut down", zap.String("boot_id", l.bootID))
}
