package feature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetaValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		folder string
		json   string
		reason string
	}{
		{
			name:   "not json",
			folder: "f",
			json:   `{broken`,
			reason: "not valid JSON",
		},
		{
			name:   "missing required field",
			folder: "f",
			json:   `{"id": "f", "label": "F", "version": "1.0.0"}`,
			reason: `required field "main_class" is missing`,
		},
		{
			name:   "empty required field",
			folder: "f",
			json:   `{"id": "f", "label": "", "version": "1.0.0", "main_class": "x"}`,
			reason: "non-empty string",
		},
		{
			name:   "id folder mismatch",
			folder: "other",
			json:   `{"id": "f", "label": "F", "version": "1.0.0", "main_class": "x"}`,
			reason: `id "f" must match folder name "other" exactly`,
		},
		{
			name:   "id case mismatch",
			folder: "Feature",
			json:   `{"id": "feature", "label": "F", "version": "1.0.0", "main_class": "x"}`,
			reason: "must match folder name",
		},
		{
			name:   "bad version",
			folder: "f",
			json:   `{"id": "f", "label": "F", "version": "1.0", "main_class": "x"}`,
			reason: "semantic versioning",
		},
		{
			name:   "version with suffix",
			folder: "f",
			json:   `{"id": "f", "label": "F", "version": "1.0.0-beta", "main_class": "x"}`,
			reason: "semantic versioning",
		},
		{
			name:   "negative sort_order",
			folder: "f",
			json:   `{"id": "f", "label": "F", "version": "1.0.0", "main_class": "x", "sort_order": -1}`,
			reason: "sort_order must be a non-negative integer",
		},
		{
			name:   "fractional sort_order",
			folder: "f",
			json:   `{"id": "f", "label": "F", "version": "1.0.0", "main_class": "x", "sort_order": 1.5}`,
			reason: "sort_order must be a non-negative integer",
		},
		{
			name:   "visible_for not strings",
			folder: "f",
			json:   `{"id": "f", "label": "F", "version": "1.0.0", "main_class": "x", "visible_for": [1, 2]}`,
			reason: "visible_for must be an array of strings",
		},
		{
			name:   "dependencies not array",
			folder: "f",
			json:   `{"id": "f", "label": "F", "version": "1.0.0", "main_class": "x", "dependencies": "audittrail"}`,
			reason: "dependencies must be an array of strings",
		},
		{
			name:   "is_core not bool",
			folder: "f",
			json:   `{"id": "f", "label": "F", "version": "1.0.0", "main_class": "x", "is_core": "yes"}`,
			reason: "is_core must be a boolean",
		},
		{
			name:   "audit not object",
			folder: "f",
			json:   `{"id": "f", "label": "F", "version": "1.0.0", "main_class": "x", "audit": true}`,
			reason: "audit must be an object",
		},
		{
			name:   "must_audit not bool",
			folder: "f",
			json:   `{"id": "f", "label": "F", "version": "1.0.0", "main_class": "x", "audit": {"must_audit": "true"}}`,
			reason: "audit.must_audit must be a boolean",
		},
		{
			name:   "zero retention_days",
			folder: "f",
			json:   `{"id": "f", "label": "F", "version": "1.0.0", "main_class": "x", "audit": {"retention_days": 0}}`,
			reason: "strictly positive",
		},
		{
			name:   "unknown min_log_level",
			folder: "f",
			json:   `{"id": "f", "label": "F", "version": "1.0.0", "main_class": "x", "audit": {"min_log_level": "TRACE"}}`,
			reason: "not a known log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseMeta([]byte(tt.json), tt.folder)
			var invalid *InvalidMetaError
			require.ErrorAs(t, err, &invalid)
			assert.Contains(t, invalid.Reason, tt.reason)
		})
	}
}

func TestParseMetaFullDescriptor(t *testing.T) {
	desc, err := parseMeta([]byte(`{
		"id": "risk_management",
		"label": "Risk Management",
		"version": "2.0.1",
		"main_class": "risk_management.feature.RiskFeature",
		"visible_for": ["ADMIN", "QMB"],
		"sort_order": 40,
		"requires_login": true,
		"dependencies": ["document_control"],
		"audit": {"must_audit": true, "min_log_level": "WARNING", "critical_actions": ["DELETE_RISK"], "retention_days": 1825},
		"licensing": {"requires_license": true, "feature_code": "risk_management"}
	}`), "risk_management")
	require.NoError(t, err)

	assert.Equal(t, "risk_management", desc.ID)
	assert.Equal(t, []string{"ADMIN", "QMB"}, desc.VisibleFor)
	assert.True(t, desc.RequiresLogin)
	require.NotNil(t, desc.Licensing)
	assert.True(t, desc.Licensing.RequiresLicense)
	assert.True(t, desc.Licensing.HasValidFeatureCode())
	require.NotNil(t, desc.Audit)
	assert.Equal(t, "WARNING", desc.Audit.MinLogLevel)
}

func TestVisibleTo(t *testing.T) {
	open := &Descriptor{}
	assert.True(t, open.VisibleTo("ADMIN"))
	assert.True(t, open.VisibleTo(""))

	restricted := &Descriptor{VisibleFor: []string{"Admin", "qmb"}}
	assert.True(t, restricted.VisibleTo("ADMIN"), "role comparison is case-insensitive")
	assert.True(t, restricted.VisibleTo("QMB"))
	assert.False(t, restricted.VisibleTo("USER"))
}

func TestHasValidFeatureCode(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{"risk_management", true},
		{"mod42", true},
		{"", false},
		{"Risk", false},
		{"has-dash", false},
	}
	for _, tt := range tests {
		cfg := &LicenseConfig{RequiresLicense: true, FeatureCode: tt.code}
		assert.Equal(t, tt.valid, cfg.HasValidFeatureCode(), "code %q", tt.code)
	}

	var nilCfg *LicenseConfig
	assert.False(t, nilCfg.HasValidFeatureCode())
}
