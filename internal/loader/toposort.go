package loader

import (
	"sort"

	"github.com/layzieshin/QMToolV6-sub000/internal/feature"
)

// bootOrder linearizes the feature dependency graph with Kahn's algorithm.
// The ready queue is kept sorted by (sort_order, id), which makes the order
// deterministic for a fixed descriptor set.
//
// Edges are the declared dependencies intersected with the feature set,
// plus the implicit infrastructure edges:
//   - non-core features with audit.must_audit=true depend on audittrail;
//   - non-core features depend on database;
//   - audittrail depends on configurator and database.
//
// Implicit edges only apply when their target is present and never attach
// to the three core-infrastructure ids themselves.
func bootOrder(features map[string]feature.Descriptor) ([]string, error) {
	deps := make(map[string]map[string]struct{}, len(features))
	for id := range features {
		deps[id] = make(map[string]struct{})
	}

	present := func(id string) bool {
		_, ok := features[id]
		return ok
	}

	for id, desc := range features {
		for _, dep := range desc.Dependencies {
			if dep != id && present(dep) {
				deps[id][dep] = struct{}{}
			}
		}

		if id == FeatureAudittrail {
			for _, infra := range []string{FeatureConfigurator, FeatureDatabase} {
				if present(infra) {
					deps[id][infra] = struct{}{}
				}
			}
			continue
		}
		if isCoreInfrastructure(id) || desc.IsCore {
			continue
		}
		if desc.Audit != nil && desc.Audit.MustAudit && present(FeatureAudittrail) {
			deps[id][FeatureAudittrail] = struct{}{}
		}
		if present(FeatureDatabase) {
			deps[id][FeatureDatabase] = struct{}{}
		}
	}

	indegree := make(map[string]int, len(features))
	dependents := make(map[string][]string, len(features))
	for id, set := range deps {
		indegree[id] = len(set)
		for dep := range set {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sortReady(ready, features)

	order := make([]string, 0, len(features))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		changed := false
		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
				changed = true
			}
		}
		if changed {
			sortReady(ready, features)
		}
	}

	if len(order) < len(features) {
		var remaining []string
		for id := range features {
			if indegree[id] > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		return nil, &CyclicDependencyError{Remaining: remaining}
	}
	return order, nil
}

func sortReady(ready []string, features map[string]feature.Descriptor) {
	sort.Slice(ready, func(i, j int) bool {
		a, b := features[ready[i]], features[ready[j]]
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.ID < b.ID
	})
}
