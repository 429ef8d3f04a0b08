package feature

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMeta(t *testing.T, root, folder, content string) {
	t.Helper()
	dir := filepath.Join(root, folder)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.json"), []byte(content), 0o644))
}

const validMeta = `{
	"id": "document_control",
	"label": "Document Control",
	"version": "1.2.0",
	"main_class": "document_control.feature.DocumentControlFeature",
	"sort_order": 10,
	"dependencies": ["audittrail"],
	"audit": {"must_audit": true, "critical_actions": ["DELETE"], "retention_days": 730}
}`

func TestDiscoverAllValid(t *testing.T) {
	root := t.TempDir()
	writeMeta(t, root, "document_control", validMeta)
	writeMeta(t, root, "audittrail", `{
		"id": "audittrail", "label": "Audit Trail", "version": "1.0.0",
		"main_class": "audittrail.feature.AuditTrailFeature", "is_core": true, "sort_order": 3
	}`)

	repo := NewRepository(root, Lenient)
	descriptors, err := repo.DiscoverAll()
	require.NoError(t, err)
	require.Len(t, descriptors, 2)

	// Sorted by id.
	assert.Equal(t, "audittrail", descriptors[0].ID)
	assert.Equal(t, "document_control", descriptors[1].ID)

	dc := descriptors[1]
	assert.Equal(t, "Document Control", dc.Label)
	assert.Equal(t, 10, dc.SortOrder)
	assert.Equal(t, []string{"audittrail"}, dc.Dependencies)
	require.NotNil(t, dc.Audit)
	assert.True(t, dc.Audit.MustAudit)
	assert.Equal(t, 730, dc.Audit.RetentionDays)
}

func TestDiscoverSkipsFoldersWithoutMeta(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "no_meta_here"), 0o755))
	writeMeta(t, root, "audittrail", `{
		"id": "audittrail", "label": "Audit Trail", "version": "1.0.0",
		"main_class": "x", "is_core": true
	}`)

	repo := NewRepository(root, Lenient)
	descriptors, err := repo.DiscoverAll()
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, "audittrail", descriptors[0].ID)
}

func TestDiscoverIgnoresUtilityDirs(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"__pycache__", "build", ".git", "data", "config"} {
		writeMeta(t, root, dir, validMeta)
	}

	repo := NewRepository(root, Lenient)
	descriptors, err := repo.DiscoverAll()
	require.NoError(t, err)
	assert.Empty(t, descriptors)
}

func TestLenientSkipsInvalid(t *testing.T) {
	root := t.TempDir()
	writeMeta(t, root, "broken", `{"id": "broken"}`)
	writeMeta(t, root, "audittrail", `{
		"id": "audittrail", "label": "Audit Trail", "version": "1.0.0", "main_class": "x"
	}`)

	repo := NewRepository(root, Lenient)
	descriptors, err := repo.DiscoverAll()
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, "audittrail", descriptors[0].ID)
}

func TestStrictAbortsOnInvalid(t *testing.T) {
	root := t.TempDir()
	writeMeta(t, root, "broken", `{"id": "broken"}`)

	repo := NewRepository(root, Strict)
	_, err := repo.DiscoverAll()
	var invalid *InvalidMetaError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "broken", invalid.FeatureID)
}

func TestDefaultSortOrder(t *testing.T) {
	root := t.TempDir()
	writeMeta(t, root, "plain", `{
		"id": "plain", "label": "Plain", "version": "0.1.0", "main_class": "x"
	}`)

	repo := NewRepository(root, Lenient)
	desc, err := repo.GetByID("plain")
	require.NoError(t, err)
	assert.Equal(t, DefaultSortOrder, desc.SortOrder)
}

func TestGetByIDUsesCacheAndInvalidate(t *testing.T) {
	root := t.TempDir()
	writeMeta(t, root, "plain", `{
		"id": "plain", "label": "Old Label", "version": "0.1.0", "main_class": "x"
	}`)

	repo := NewRepository(root, Lenient)
	first, err := repo.GetByID("plain")
	require.NoError(t, err)
	assert.Equal(t, "Old Label", first.Label)

	// A disk change is invisible until the entry is invalidated.
	writeMeta(t, root, "plain", `{
		"id": "plain", "label": "New Label", "version": "0.1.0", "main_class": "x"
	}`)
	cached, err := repo.GetByID("plain")
	require.NoError(t, err)
	assert.Equal(t, "Old Label", cached.Label)

	repo.Invalidate("plain")
	fresh, err := repo.GetByID("plain")
	require.NoError(t, err)
	assert.Equal(t, "New Label", fresh.Label)
}

func TestGetByIDReturnsCopies(t *testing.T) {
	root := t.TempDir()
	writeMeta(t, root, "plain", `{
		"id": "plain", "label": "Plain", "version": "0.1.0", "main_class": "x"
	}`)

	repo := NewRepository(root, Lenient)
	first, err := repo.GetByID("plain")
	require.NoError(t, err)
	first.Label = "mutated"

	second, err := repo.GetByID("plain")
	require.NoError(t, err)
	assert.Equal(t, "Plain", second.Label, "cache must not observe caller mutations")
}

func TestGetByIDUnknownFeature(t *testing.T) {
	repo := NewRepository(t.TempDir(), Lenient)
	_, err := repo.GetByID("ghost")
	assert.ErrorIs(t, err, ErrFeatureNotFound)
}

func TestWatchInvalidatesOnChange(t *testing.T) {
	root := t.TempDir()
	writeMeta(t, root, "plain", `{
		"id": "plain", "label": "Old", "version": "0.1.0", "main_class": "x"
	}`)

	repo := NewRepository(root, Lenient)
	_, err := repo.GetByID("plain")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, repo.Watch(ctx))

	writeMeta(t, root, "plain", `{
		"id": "plain", "label": "New", "version": "0.1.0", "main_class": "x"
	}`)

	require.Eventually(t, func() bool {
		desc, err := repo.GetByID("plain")
		return err == nil && desc.Label == "New"
	}, 2*time.Second, 20*time.Millisecond, "watcher should invalidate the cached descriptor")
}
