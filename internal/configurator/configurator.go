// Package configurator aggregates feature descriptors for consumers such as
// the loader and the GUI shell: role-filtered feature registries, single
// descriptor lookups and the application-level JSON config.
package configurator

import (
	"sort"

	"go.uber.org/zap"

	"github.com/layzieshin/QMToolV6-sub000/internal/feature"
	"github.com/layzieshin/QMToolV6-sub000/internal/logging"
)

// Status of a feature registry entry. Only ACTIVE is produced today; the
// value exists so the GUI can mark disabled features without a schema
// change.
type Status string

// StatusActive marks a feature as available.
const StatusActive Status = "ACTIVE"

// RegistryEntry wraps a descriptor for presentation-layer consumers.
type RegistryEntry struct {
	Descriptor feature.Descriptor
	Status     Status
}

// Service is a thin orchestrator over the descriptor repository plus the
// app-config reader.
type Service struct {
	repo        *feature.Repository
	projectRoot string
	strict      bool
	log         *zap.Logger
}

// New creates a configurator over repo. projectRoot anchors the app-config
// lookup; strict controls whether app-config parse errors surface as
// failures or fall back to defaults.
func New(repo *feature.Repository, projectRoot string, strict bool) *Service {
	return &Service{
		repo:        repo,
		projectRoot: projectRoot,
		strict:      strict,
		log:         logging.Get(logging.CategoryConfigurator),
	}
}

// DiscoverFeatures runs a full discovery pass over the features root.
func (s *Service) DiscoverFeatures() ([]feature.Descriptor, error) {
	return s.repo.DiscoverAll()
}

// GetFeatureMeta returns the descriptor for one feature id.
func (s *Service) GetFeatureMeta(id string) (*feature.Descriptor, error) {
	return s.repo.GetByID(id)
}

// GetAllFeatures discovers all features, filters them by role and returns
// ACTIVE registry entries sorted by (sort_order, id). An empty role matches
// everything a descriptor with empty visible_for would.
func (s *Service) GetAllFeatures(role string) ([]RegistryEntry, error) {
	descriptors, err := s.repo.DiscoverAll()
	if err != nil {
		return nil, err
	}

	entries := make([]RegistryEntry, 0, len(descriptors))
	for _, desc := range descriptors {
		if role != "" && !desc.VisibleTo(role) {
			continue
		}
		entries = append(entries, RegistryEntry{Descriptor: desc, Status: StatusActive})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Descriptor, entries[j].Descriptor
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.ID < b.ID
	})

	s.log.Debug("feature registry assembled",
		zap.String("role", role),
		zap.Int("entries", len(entries)))
	return entries, nil
}
