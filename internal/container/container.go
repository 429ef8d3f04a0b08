// Package container implements the process-wide service registry. Services
// are registered under string keys with singleton or factory lifetimes;
// aliases delegate to their target key. The loader owns the registry and all
// registrations happen during boot; resolution is safe for concurrent
// callers afterwards.
package container

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/layzieshin/QMToolV6-sub000/internal/logging"
)

// Lifetime controls how often a service factory runs.
type Lifetime int

const (
	// Singleton factories run at most once; the result is cached.
	Singleton Lifetime = iota
	// Factory lifetimes invoke the producer on every resolve.
	Factory
)

// Sentinel errors for the container operations.
var (
	ErrServiceNotFound          = errors.New("service not found")
	ErrServiceAlreadyRegistered = errors.New("service already registered")
)

// CircularDependencyError reports a resolution cycle with the chain of keys
// that were mid-resolution when the cycle closed.
type CircularDependencyError struct {
	Key   string
	Chain []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency resolving %q: %s", e.Key, strings.Join(e.Chain, " -> "))
}

// FactoryFunc produces a service instance.
type FactoryFunc func() (any, error)

type descriptor struct {
	key      string
	factory  FactoryFunc
	lifetime Lifetime

	mu       sync.RWMutex
	instance any
	built    bool
}

func (d *descriptor) cached() (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.instance, d.built
}

func (d *descriptor) store(instance any) {
	d.mu.Lock()
	d.instance = instance
	d.built = true
	d.mu.Unlock()
}

// Registry is the string-keyed service container.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*descriptor

	// flight deduplicates concurrent first constructions per singleton key.
	// The cycle check runs before Do, so a same-goroutine re-entry fails as
	// a cycle instead of deadlocking on its own in-flight call.
	flight singleflight.Group

	// resolveMu guards the per-goroutine mid-resolution chains used for
	// cycle detection. Nested resolution happens on the caller's goroutine,
	// so re-entry on the same goroutine is a cycle while another goroutine
	// touching the same key just joins the in-flight construction.
	resolveMu sync.Mutex
	resolving map[uint64][]string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		services:  make(map[string]*descriptor),
		resolving: make(map[uint64][]string),
	}
}

// RegisterSingleton registers a factory whose first successful result is
// cached and shared by all subsequent resolutions.
func (r *Registry) RegisterSingleton(key string, factory FactoryFunc) error {
	return r.register(key, factory, Singleton)
}

// RegisterFactory registers a factory invoked afresh on every resolution.
func (r *Registry) RegisterFactory(key string, factory FactoryFunc) error {
	return r.register(key, factory, Factory)
}

// RegisterInstance registers an already constructed singleton.
func (r *Registry) RegisterInstance(key string, instance any) error {
	return r.RegisterSingleton(key, func() (any, error) { return instance, nil })
}

func (r *Registry) register(key string, factory FactoryFunc, lifetime Lifetime) error {
	if key == "" {
		return fmt.Errorf("service key must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("service %q: factory must not be nil", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[key]; exists {
		return fmt.Errorf("%w: %s", ErrServiceAlreadyRegistered, key)
	}
	r.services[key] = &descriptor{key: key, factory: factory, lifetime: lifetime}
	logging.Get(logging.CategoryContainer).Debug("service registered",
		zap.String("key", key),
		zap.Int("lifetime", int(lifetime)))
	return nil
}

// RegisterAlias registers alias as a singleton that delegates to target.
// The target must already be registered.
func (r *Registry) RegisterAlias(alias, target string) error {
	r.mu.RLock()
	_, exists := r.services[target]
	r.mu.RUnlock()
	if !exists {
		return fmt.Errorf("alias %q: %w: %s", alias, ErrServiceNotFound, target)
	}
	return r.RegisterSingleton(alias, func() (any, error) {
		return r.Resolve(target)
	})
}

// Resolve returns the instance registered under key. Singleton factories run
// at most once; concurrent first resolutions of the same key share a single
// construction, independent keys do not block each other.
func (r *Registry) Resolve(key string) (any, error) {
	r.mu.RLock()
	desc, exists := r.services[key]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, key)
	}

	if err := r.enterResolve(key); err != nil {
		return nil, err
	}
	defer r.exitResolve(key)

	if desc.lifetime == Factory {
		return desc.factory()
	}

	if instance, ok := desc.cached(); ok {
		return instance, nil
	}
	instance, err, _ := r.flight.Do(key, func() (any, error) {
		if instance, ok := desc.cached(); ok {
			return instance, nil
		}
		instance, err := desc.factory()
		if err != nil {
			return nil, fmt.Errorf("building service %q: %w", key, err)
		}
		desc.store(instance)
		return instance, nil
	})
	return instance, err
}

// TryResolve returns (nil, false, nil) when the key is unknown. All other
// failures propagate.
func (r *Registry) TryResolve(key string) (any, bool, error) {
	instance, err := r.Resolve(key)
	if err != nil {
		if errors.Is(err, ErrServiceNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return instance, true, nil
}

// MustResolve resolves key and panics on failure. Reserved for places where
// a missing service is a programming error, such as post-gate loader steps.
func (r *Registry) MustResolve(key string) any {
	instance, err := r.Resolve(key)
	if err != nil {
		panic(fmt.Sprintf("container: %v", err))
	}
	return instance
}

// enterResolve records key as mid-resolution on the calling goroutine and
// fails when the key is already on that goroutine's chain. This holds
// across nested factory calls because factories resolve their dependencies
// synchronously on the same goroutine.
func (r *Registry) enterResolve(key string) error {
	gid := goroutineID()
	r.resolveMu.Lock()
	defer r.resolveMu.Unlock()
	chain := r.resolving[gid]
	for _, k := range chain {
		if k == key {
			full := append(append([]string{}, chain...), key)
			return &CircularDependencyError{Key: key, Chain: full}
		}
	}
	r.resolving[gid] = append(chain, key)
	return nil
}

func (r *Registry) exitResolve(key string) {
	gid := goroutineID()
	r.resolveMu.Lock()
	defer r.resolveMu.Unlock()
	chain := r.resolving[gid]
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i] == key {
			chain = append(chain[:i], chain[i+1:]...)
			break
		}
	}
	if len(chain) == 0 {
		delete(r.resolving, gid)
	} else {
		r.resolving[gid] = chain
	}
}

// IsRegistered reports whether key is known to the registry.
func (r *Registry) IsRegistered(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.services[key]
	return exists
}

// Keys returns all registered keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.services))
	for k := range r.services {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clear drops every registration and cached instance.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = make(map[string]*descriptor)
	logging.Get(logging.CategoryContainer).Debug("registry cleared")
}

// ResolveAs resolves key and casts the result to T. A failed cast is a
// wiring bug, reported as an error rather than a panic so boot diagnostics
// stay readable.
func ResolveAs[T any](r *Registry, key string) (T, error) {
	var zero T
	instance, err := r.Resolve(key)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("service %q has type %T, want %T", key, instance, zero)
	}
	return typed, nil
}
