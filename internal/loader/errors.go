package loader

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAuditSinkNotAvailable aborts boot whenever the mandatory audit sink
// cannot be resolved. Always fatal, never caught internally.
var ErrAuditSinkNotAvailable = errors.New("audit sink not available")

// BootstrapError wraps a failure of one boot step.
type BootstrapError struct {
	Step string
	Err  error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("boot step %q failed: %v", e.Step, e.Err)
}

func (e *BootstrapError) Unwrap() error {
	return e.Err
}

// FeatureLoadError reports a feature whose registration hook failed.
type FeatureLoadError struct {
	FeatureID string
	Reason    string
}

func (e *FeatureLoadError) Error() string {
	return fmt.Sprintf("failed to load feature %q: %s", e.FeatureID, e.Reason)
}

// DependencyError reports a feature depending on features that are not
// part of the admitted set.
type DependencyError struct {
	FeatureID string
	Missing   []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("feature %q depends on unavailable features: %s",
		e.FeatureID, strings.Join(e.Missing, ", "))
}

// CyclicDependencyError reports the ids left unordered by the topological
// sort.
type CyclicDependencyError struct {
	Remaining []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic feature dependencies, unresolved: %s",
		strings.Join(e.Remaining, ", "))
}
