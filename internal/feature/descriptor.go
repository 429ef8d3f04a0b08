// Package feature implements feature-descriptor discovery and validation.
// Each feature lives in its own folder under the features root and describes
// itself through a meta.json file; the repository scans, validates and
// caches those descriptors for the loader and the configurator.
package feature

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/layzieshin/QMToolV6-sub000/internal/audit"
)

// DefaultSortOrder is assigned when a descriptor omits sort_order.
const DefaultSortOrder = 999

var (
	// ErrFeatureNotFound reports a missing feature folder or meta.json.
	ErrFeatureNotFound = errors.New("feature not found")

	versionPattern     = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	featureCodePattern = regexp.MustCompile(`^[a-z0-9_]+$`)
)

// InvalidMetaError reports a descriptor that failed validation.
type InvalidMetaError struct {
	FeatureID string
	Reason    string
}

func (e *InvalidMetaError) Error() string {
	return fmt.Sprintf("invalid meta for feature %q: %s", e.FeatureID, e.Reason)
}

// AuditConfig is the optional audit block of a descriptor.
type AuditConfig struct {
	MustAudit       bool     `json:"must_audit"`
	MinLogLevel     string   `json:"min_log_level,omitempty"`
	CriticalActions []string `json:"critical_actions,omitempty"`
	RetentionDays   int      `json:"retention_days,omitempty"`
}

// LicenseConfig is the optional licensing block of a descriptor.
type LicenseConfig struct {
	RequiresLicense bool   `json:"requires_license"`
	FeatureCode     string `json:"feature_code,omitempty"`
}

// Descriptor is the validated contents of one meta.json. Immutable once
// validated; callers receive copies from the repository cache.
type Descriptor struct {
	ID            string         `json:"id"`
	Label         string         `json:"label"`
	Version       string         `json:"version"`
	MainClass     string         `json:"main_class"`
	VisibleFor    []string       `json:"visible_for,omitempty"`
	IsCore        bool           `json:"is_core,omitempty"`
	SortOrder     int            `json:"sort_order"`
	RequiresLogin bool           `json:"requires_login,omitempty"`
	Dependencies  []string       `json:"dependencies,omitempty"`
	Audit         *AuditConfig   `json:"audit,omitempty"`
	Description   string         `json:"description,omitempty"`
	Icon          string         `json:"icon,omitempty"`
	Licensing     *LicenseConfig `json:"licensing,omitempty"`
}

// VisibleTo reports whether the descriptor is visible to role. An empty
// visible_for set means visible to everyone. Comparison is case-insensitive.
func (d *Descriptor) VisibleTo(role string) bool {
	if len(d.VisibleFor) == 0 {
		return true
	}
	want := strings.ToUpper(role)
	for _, r := range d.VisibleFor {
		if strings.ToUpper(r) == want {
			return true
		}
	}
	return false
}

// HasValidFeatureCode reports whether the licensing block carries a
// well-formed feature code ([a-z0-9_]+).
func (c *LicenseConfig) HasValidFeatureCode() bool {
	return c != nil && featureCodePattern.MatchString(c.FeatureCode)
}

// validate checks the descriptor against folder name and schema rules.
func (d *Descriptor) validate(folderName string) error {
	if d.ID == "" || d.Label == "" || d.Version == "" || d.MainClass == "" {
		return &InvalidMetaError{
			FeatureID: folderName,
			Reason:    "required fields id, label, version, main_class must be present and non-empty",
		}
	}
	if d.ID != folderName {
		return &InvalidMetaError{
			FeatureID: folderName,
			Reason:    fmt.Sprintf("id %q must match folder name %q exactly", d.ID, folderName),
		}
	}
	if !versionPattern.MatchString(d.Version) {
		return &InvalidMetaError{
			FeatureID: d.ID,
			Reason:    fmt.Sprintf("version %q must follow semantic versioning (X.Y.Z)", d.Version),
		}
	}
	if d.SortOrder < 0 {
		return &InvalidMetaError{
			FeatureID: d.ID,
			Reason:    fmt.Sprintf("sort_order must be a non-negative integer, got %d", d.SortOrder),
		}
	}
	if d.Audit != nil && d.Audit.MinLogLevel != "" && !audit.IsValidLevel(d.Audit.MinLogLevel) {
		return &InvalidMetaError{
			FeatureID: d.ID,
			Reason:    fmt.Sprintf("audit.min_log_level %q is not a known log level", d.Audit.MinLogLevel),
		}
	}
	return nil
}
