package feature

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/layzieshin/QMToolV6-sub000/internal/logging"
)

// ScanMode controls how the repository reacts to invalid descriptors.
type ScanMode int

const (
	// Lenient logs and skips invalid descriptors during discovery.
	Lenient ScanMode = iota
	// Strict aborts the whole scan on the first invalid descriptor.
	Strict
)

// Folders under the features root that are never feature candidates.
var ignoredDirs = map[string]struct{}{
	"build":       {},
	"dist":        {},
	"cache":       {},
	"__pycache__": {},
	"venv":        {},
	".venv":       {},
	"data":        {},
	"config":      {},
	"temp":        {},
	"tmp":         {},
}

// Repository scans the features root one directory level deep, validates
// each meta.json and caches the results. Callers receive copies; the cache
// owns the descriptors.
type Repository struct {
	root string
	mode ScanMode

	mu    sync.RWMutex
	cache map[string]*Descriptor

	watcher *fsnotify.Watcher
	log     *zap.Logger
}

// NewRepository creates a repository over root.
func NewRepository(root string, mode ScanMode) *Repository {
	return &Repository{
		root:  root,
		mode:  mode,
		cache: make(map[string]*Descriptor),
		log:   logging.Get(logging.CategoryFeature),
	}
}

// DiscoverAll scans the features root and returns all valid descriptors
// sorted by id. A successful pass replaces the cache entry for each found
// id. In Strict mode the first invalid descriptor aborts the scan.
func (r *Repository) DiscoverAll() ([]Descriptor, error) {
	timer := logging.StartTimer(logging.CategoryFeature, "DiscoverAll")
	defer timer.Stop()

	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read features root %s: %w", r.root, err)
	}

	found := make(map[string]*Descriptor)
	for _, entry := range entries {
		if !entry.IsDir() || !isCandidateDir(entry.Name()) {
			continue
		}
		metaPath := filepath.Join(r.root, entry.Name(), "meta.json")
		if _, err := os.Stat(metaPath); os.IsNotExist(err) {
			continue
		}

		desc, err := r.loadOne(entry.Name())
		if err != nil {
			if r.mode == Strict {
				return nil, err
			}
			r.log.Warn("skipping invalid feature descriptor",
				zap.String("folder", entry.Name()),
				zap.Error(err))
			continue
		}
		found[desc.ID] = desc
	}

	r.mu.Lock()
	for id, desc := range found {
		r.cache[id] = desc
	}
	r.mu.Unlock()

	result := make([]Descriptor, 0, len(found))
	for _, desc := range found {
		result = append(result, *desc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	r.log.Info("feature discovery complete",
		zap.String("root", r.root),
		zap.Int("features", len(result)))
	return result, nil
}

// GetByID returns the descriptor for id, consulting the cache first and
// loading the single meta.json on demand otherwise.
func (r *Repository) GetByID(id string) (*Descriptor, error) {
	r.mu.RLock()
	if desc, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		copied := *desc
		return &copied, nil
	}
	r.mu.RUnlock()

	desc, err := r.loadOne(id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[id] = desc
	r.mu.Unlock()

	copied := *desc
	return &copied, nil
}

// loadOne reads and validates <root>/<id>/meta.json.
func (r *Repository) loadOne(id string) (*Descriptor, error) {
	dir := filepath.Join(r.root, id)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrFeatureNotFound, id)
	}
	metaPath := filepath.Join(dir, "meta.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s has no meta.json", ErrFeatureNotFound, id)
		}
		return nil, fmt.Errorf("failed to read %s: %w", metaPath, err)
	}
	return parseMeta(data, id)
}

// Invalidate drops one id from the cache.
func (r *Repository) Invalidate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, id)
}

// Watch invalidates cache entries whenever a feature folder changes on
// disk. Runs until ctx is cancelled. Watcher failures are logged, never
// fatal: a stale cache entry self-heals on the next discovery pass.
func (r *Repository) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create feature watcher: %w", err)
	}
	if err := watcher.Add(r.root); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch features root %s: %w", r.root, err)
	}

	entries, err := os.ReadDir(r.root)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() && isCandidateDir(entry.Name()) {
				if err := watcher.Add(filepath.Join(r.root, entry.Name())); err != nil {
					r.log.Warn("could not watch feature folder",
						zap.String("folder", entry.Name()),
						zap.Error(err))
				}
			}
		}
	}

	r.watcher = watcher
	go r.watchLoop(ctx, watcher)
	return nil
}

func (r *Repository) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			id := r.featureIDFor(event.Name)
			if id == "" {
				continue
			}
			r.Invalidate(id)
			r.log.Debug("feature cache invalidated",
				zap.String("feature", id),
				zap.String("event", event.Op.String()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn("feature watcher error", zap.Error(err))
		}
	}
}

// featureIDFor maps an fsnotify event path to the feature folder it lives
// in, or "" when the path is outside any candidate folder.
func (r *Repository) featureIDFor(path string) string {
	rel, err := filepath.Rel(r.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if !isCandidateDir(parts[0]) {
		return ""
	}
	return parts[0]
}

func isCandidateDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	_, ignored := ignoredDirs[name]
	return !ignored
}
