package resultstore_test

import (
	"testing"
	"time"

	"github.com/sitescope/engine/internal/resultstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_WriteAndList(t *testing.T) {
	store := resultstore.NewStore(t.TempDir())

	r1 := resultstore.TestResult{PluginName: "seo", SnapshotID: "s1", StartedAt: time.Now().Add(-time.Hour), Status: resultstore.StatusPass}
	r2 := resultstore.TestResult{PluginName: "seo", SnapshotID: "s1", StartedAt: time.Now(), Status: resultstore.StatusFail}

	require.NoError(t, store.Write(r1))
	require.NoError(t, store.Write(r2))

	results, err := store.List()
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, resultstore.StatusPass, results[0].Status)
	assert.Equal(t, resultstore.StatusFail, results[1].Status)
}

func TestStore_LatestPicksMostRecentForPlugin(t *testing.T) {
	store := resultstore.NewStore(t.TempDir())

	older := resultstore.TestResult{PluginName: "security", StartedAt: time.Now().Add(-2 * time.Hour), Status: resultstore.StatusWarning}
	newer := resultstore.TestResult{PluginName: "security", StartedAt: time.Now(), Status: resultstore.StatusPass}
	other := resultstore.TestResult{PluginName: "seo", StartedAt: time.Now(), Status: resultstore.StatusFail}

	require.NoError(t, store.Write(older))
	require.NoError(t, store.Write(newer))
	require.NoError(t, store.Write(other))

	latest, ok, err := store.Latest("security")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, resultstore.StatusPass, latest.Status)
}

func TestStore_LatestNoRunsYet(t *testing.T) {
	store := resultstore.NewStore(t.TempDir())

	_, ok, err := store.Latest("seo")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompare_DetectsAddedAndRemovedFindings(t *testing.T) {
	a := resultstore.TestResult{
		Status: resultstore.StatusFail,
		Findings: []resultstore.Finding{
			{URL: "https://example.com/a", Category: "missing-title"},
			{URL: "https://example.com/b", Category: "missing-alt"},
		},
	}
	b := resultstore.TestResult{
		Status: resultstore.StatusWarning,
		Findings: []resultstore.Finding{
			{URL: "https://example.com/b", Category: "missing-alt"},
			{URL: "https://example.com/c", Category: "missing-meta-description"},
		},
	}

	diff := resultstore.Compare(a, b)

	require.True(t, diff.StatusChanged)
	require.Len(t, diff.AddedFindings, 1)
	assert.Equal(t, "https://example.com/c", diff.AddedFindings[0].URL)
	require.Len(t, diff.RemovedFindings, 1)
	assert.Equal(t, "https://example.com/a", diff.RemovedFindings[0].URL)
}

func TestCompare_NoChangeWhenFindingsIdentical(t *testing.T) {
	findings := []resultstore.Finding{{URL: "https://example.com/a", Category: "missing-title"}}
	a := resultstore.TestResult{Status: resultstore.StatusFail, Findings: findings}
	b := resultstore.TestResult{Status: resultstore.StatusFail, Findings: findings}

	diff := resultstore.Compare(a, b)

	assert.False(t, diff.StatusChanged)
	assert.Empty(t, diff.AddedFindings)
	assert.Empty(t, diff.RemovedFindings)
}
