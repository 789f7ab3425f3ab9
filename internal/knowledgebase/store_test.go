package knowledgebase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regulens/platform/internal/model"
)

func sampleChange(id, sourceID, title, body string, detectedAt time.Time) model.RegulatoryChange {
	return model.RegulatoryChange{
		ChangeID: id,
		SourceID: sourceID,
		Title:    title,
		Metadata: model.Metadata{
			RegulatoryBody: body,
			Keywords:       []string{"capital", "requirements"},
		},
		Status:     model.StatusDetected,
		DetectedAt: detectedAt,
	}
}

func TestStoreAndGetRegulatoryChange(t *testing.T) {
	kb := New(nil, 0, nil)
	ctx := context.Background()

	c := sampleChange("reg_change_1", "sec_edgar", "Capital Requirements Update", "SEC", time.Now())
	stored, err := kb.StoreRegulatoryChange(ctx, c)
	require.NoError(t, err)
	assert.True(t, stored)

	got, ok, err := kb.GetRegulatoryChange(ctx, "reg_change_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, c.Title, got.Title)
}

func TestGetRegulatoryChange_UnknownReturnsFalse(t *testing.T) {
	kb := New(nil, 0, nil)
	_, ok, err := kb.GetRegulatoryChange(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreRegulatoryChange_RejectsSourceIDMismatch(t *testing.T) {
	kb := New(nil, 0, nil)
	ctx := context.Background()

	_, err := kb.StoreRegulatoryChange(ctx, sampleChange("reg_change_1", "sec_edgar", "First", "SEC", time.Now()))
	require.NoError(t, err)

	_, err = kb.StoreRegulatoryChange(ctx, sampleChange("reg_change_1", "fca", "Different source", "FCA", time.Now()))
	require.Error(t, err)
}

func TestSearchChanges_MatchesTitleToken(t *testing.T) {
	kb := New(nil, 0, nil)
	ctx := context.Background()

	_, err := kb.StoreRegulatoryChange(ctx, sampleChange("reg_change_1", "sec_edgar", "Capital Requirements Update", "SEC", time.Now()))
	require.NoError(t, err)
	_, err = kb.StoreRegulatoryChange(ctx, sampleChange("reg_change_2", "fca", "Liquidity Guidance Release", "FCA", time.Now()))
	require.NoError(t, err)

	results := kb.SearchChanges(ctx, "capital", nil, 10)
	require.Len(t, results, 1)
	assert.Equal(t, "reg_change_1", results[0].ChangeID)
}

func TestSearchChanges_IntersectsMultipleTokens(t *testing.T) {
	kb := New(nil, 0, nil)
	ctx := context.Background()

	_, err := kb.StoreRegulatoryChange(ctx, sampleChange("reg_change_1", "sec_edgar", "Capital Requirements Update", "SEC", time.Now()))
	require.NoError(t, err)
	_, err = kb.StoreRegulatoryChange(ctx, sampleChange("reg_change_2", "fca", "Capital Allocation Notice", "FCA", time.Now()))
	require.NoError(t, err)

	results := kb.SearchChanges(ctx, "capital requirements", nil, 10)
	require.Len(t, results, 1)
	assert.Equal(t, "reg_change_1", results[0].ChangeID)
}

func TestSearchChanges_FiltersByRegulatoryBody(t *testing.T) {
	kb := New(nil, 0, nil)
	ctx := context.Background()

	_, err := kb.StoreRegulatoryChange(ctx, sampleChange("reg_change_1", "sec_edgar", "Capital Requirements Update", "SEC", time.Now()))
	require.NoError(t, err)
	_, err = kb.StoreRegulatoryChange(ctx, sampleChange("reg_change_2", "fca", "Capital Requirements Review", "FCA", time.Now()))
	require.NoError(t, err)

	results := kb.SearchChanges(ctx, "capital", map[string]string{"regulatory_body": "FCA"}, 10)
	require.Len(t, results, 1)
	assert.Equal(t, "reg_change_2", results[0].ChangeID)
}

func TestUpdateChangeStatus_RejectsRegression(t *testing.T) {
	kb := New(nil, 0, nil)
	ctx := context.Background()

	c := sampleChange("reg_change_1", "sec_edgar", "Notice", "SEC", time.Now())
	c.Status = model.StatusAnalyzed
	_, err := kb.StoreRegulatoryChange(ctx, c)
	require.NoError(t, err)

	err = kb.UpdateChangeStatus(ctx, "reg_change_1", model.StatusDetected)
	assert.Error(t, err)

	err = kb.UpdateChangeStatus(ctx, "reg_change_1", model.StatusDistributed)
	require.NoError(t, err)

	got, _, _ := kb.GetRegulatoryChange(ctx, "reg_change_1")
	assert.Equal(t, model.StatusDistributed, got.Status)
}

func TestGetChangesByBody_SortedByDetectedAtDesc(t *testing.T) {
	kb := New(nil, 0, nil)
	ctx := context.Background()
	now := time.Now()

	_, _ = kb.StoreRegulatoryChange(ctx, sampleChange("reg_change_1", "sec_edgar", "Older", "SEC", now.Add(-time.Hour)))
	_, _ = kb.StoreRegulatoryChange(ctx, sampleChange("reg_change_2", "sec_edgar", "Newer", "SEC", now))

	results := kb.GetChangesByBody("SEC", 10)
	require.Len(t, results, 2)
	assert.Equal(t, "reg_change_2", results[0].ChangeID)
}

func TestGetRecentChanges_ExcludesOlderThanWindow(t *testing.T) {
	kb := New(nil, 0, nil)
	ctx := context.Background()
	now := time.Now()

	_, _ = kb.StoreRegulatoryChange(ctx, sampleChange("reg_change_1", "sec_edgar", "Ancient", "SEC", now.AddDate(0, 0, -30)))
	_, _ = kb.StoreRegulatoryChange(ctx, sampleChange("reg_change_2", "sec_edgar", "Recent", "SEC", now))

	results := kb.GetRecentChanges(7, 10)
	require.Len(t, results, 1)
	assert.Equal(t, "reg_change_2", results[0].ChangeID)
}

func TestClear_EmptiesStoreAndIndexes(t *testing.T) {
	kb := New(nil, 0, nil)
	ctx := context.Background()

	_, _ = kb.StoreRegulatoryChange(ctx, sampleChange("reg_change_1", "sec_edgar", "Capital Requirements Update", "SEC", time.Now()))
	require.NoError(t, kb.Clear(ctx))

	_, ok, _ := kb.GetRegulatoryChange(ctx, "reg_change_1")
	assert.False(t, ok)
	assert.Empty(t, kb.SearchChanges(ctx, "capital", nil, 10))
}

func TestExportImportRoundTrip(t *testing.T) {
	kb := New(nil, 0, nil)
	ctx := context.Background()

	_, _ = kb.StoreRegulatoryChange(ctx, sampleChange("reg_change_1", "sec_edgar", "Capital Requirements Update", "SEC", time.Now()))
	_, _ = kb.StoreRegulatoryChange(ctx, sampleChange("reg_change_2", "fca", "Liquidity Guidance", "FCA", time.Now()))

	data, err := kb.ExportToJSON()
	require.NoError(t, err)

	fresh := New(nil, 0, nil)
	n, err := fresh.ImportFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{"reg_change_1", "reg_change_2"} {
		original, ok, _ := kb.GetRegulatoryChange(ctx, id)
		require.True(t, ok)
		restored, ok, _ := fresh.GetRegulatoryChange(ctx, id)
		require.True(t, ok)
		assert.Equal(t, original.Title, restored.Title)
		assert.Equal(t, original.Metadata.RegulatoryBody, restored.Metadata.RegulatoryBody)
	}

	results := fresh.GetChangesByBody("SEC", 10)
	require.Len(t, results, 1)
	assert.Equal(t, "reg_change_1", results[0].ChangeID)
}

func TestLRUEviction_PinnedChangeSurvives(t *testing.T) {
	kb := New(nil, 2, nil)
	ctx := context.Background()

	_, _ = kb.StoreRegulatoryChange(ctx, sampleChange("reg_change_1", "sec_edgar", "First", "SEC", time.Now()))
	kb.PinInFlight("reg_change_1")

	_, _ = kb.StoreRegulatoryChange(ctx, sampleChange("reg_change_2", "sec_edgar", "Second", "SEC", time.Now()))
	_, _ = kb.StoreRegulatoryChange(ctx, sampleChange("reg_change_3", "sec_edgar", "Third", "SEC", time.Now()))

	kb.storageMu.RLock()
	_, stillPresent := kb.changes["reg_change_1"]
	kb.storageMu.RUnlock()
	assert.True(t, stillPresent, "pinned change must not be evicted")

	kb.UnpinInFlight("reg_change_1")
}

func TestPersistStateAndLoadState_NilDBReturnsDefault(t *testing.T) {
	kb := New(nil, 0, nil)
	ctx := context.Background()

	require.NoError(t, kb.PersistState(ctx, "sec_edgar", "cursor", "0001234567"))

	value, err := kb.LoadState(ctx, "sec_edgar", "cursor", "default")
	require.NoError(t, err)
	assert.Equal(t, "default", value)
}

func TestGetStatistics_TracksStoresAndSearches(t *testing.T) {
	kb := New(nil, 0, nil)
	ctx := context.Background()

	_, _ = kb.StoreRegulatoryChange(ctx, sampleChange("reg_change_1", "sec_edgar", "Capital Requirements Update", "SEC", time.Now()))
	_ = kb.SearchChanges(ctx, "capital", nil, 10)

	stats := kb.GetStatistics()
	assert.EqualValues(t, 1, stats["changes_stored"])
	assert.EqualValues(t, 1, stats["searches_served"])
	assert.EqualValues(t, 1, stats["changes_in_memory"])
}
