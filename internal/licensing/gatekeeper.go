package licensing

import (
	"fmt"

	"github.com/layzieshin/QMToolV6-sub000/internal/feature"
)

// Denial codes carried by gatekeeper decisions.
const (
	CodeFeatureMetaInvalid = "FeatureMetaInvalid"
	CodeFeatureNotEntitled = "FeatureNotEntitled"
)

// Decision is the outcome of a per-feature admission check. Denials are
// values with a code, never errors.
type Decision struct {
	FeatureID string
	Admitted  bool
	Reason    string
	Code      string
}

// Gatekeeper decides per-feature admission from verified entitlements. It
// holds no mutable state; Check is a pure function of its inputs.
type Gatekeeper struct{}

// NewGatekeeper creates a gatekeeper.
func NewGatekeeper() *Gatekeeper {
	return &Gatekeeper{}
}

// Check admits or denies one feature:
//   - core features are always admitted;
//   - features without a licensing block, or with requires_license=false,
//     need no entitlement;
//   - a missing or malformed feature_code denies with FeatureMetaInvalid;
//   - otherwise the entitlement for the feature code decides.
func (g *Gatekeeper) Check(meta *feature.Descriptor, entitlements map[string]bool) Decision {
	if meta.IsCore {
		return Decision{FeatureID: meta.ID, Admitted: true, Reason: "core"}
	}
	lic := meta.Licensing
	if lic == nil || !lic.RequiresLicense {
		return Decision{FeatureID: meta.ID, Admitted: true, Reason: "not required"}
	}
	if !lic.HasValidFeatureCode() {
		return Decision{
			FeatureID: meta.ID,
			Admitted:  false,
			Reason:    fmt.Sprintf("feature_code %q missing or malformed (want [a-z0-9_]+)", lic.FeatureCode),
			Code:      CodeFeatureMetaInvalid,
		}
	}
	if entitlements[lic.FeatureCode] {
		return Decision{FeatureID: meta.ID, Admitted: true, Reason: "entitled"}
	}
	return Decision{
		FeatureID: meta.ID,
		Admitted:  false,
		Reason:    fmt.Sprintf("no entitlement for feature code %q", lic.FeatureCode),
		Code:      CodeFeatureNotEntitled,
	}
}
