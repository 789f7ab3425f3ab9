package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regulens/platform/internal/model"
)

func sampleBaseline() string {
	return `# Capital Requirements Notice

Section 1 Introduction

Firms must maintain a minimum capital ratio of 8% under current rules.
This notice has no further changes.`
}

func TestDetectChanges_NoOpCycle(t *testing.T) {
	d := New(nil, nil)
	content := sampleBaseline()

	result, err := d.DetectChanges("src-1", content, content, model.Metadata{})
	require.NoError(t, err)
	assert.False(t, result.HasChanges)
	assert.Equal(t, MethodHashBased, result.Method)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestDetectChanges_WhitespaceOnlyRejected(t *testing.T) {
	d := New(nil, nil)
	base := sampleBaseline()
	reformatted := strings.ReplaceAll(base, "\n", "\n\n   ")

	result, err := d.DetectChanges("src-2", base, reformatted, model.Metadata{})
	require.NoError(t, err)
	assert.False(t, result.HasChanges)
	assert.Equal(t, MethodHashBased, result.Method)
}

func TestDetectChanges_ShortContentGuard(t *testing.T) {
	d := New(nil, nil)
	result, err := d.DetectChanges("src-3", "", "too short", model.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, MethodSkippedShortContent, result.Method)
	assert.False(t, result.HasChanges)
}

func TestDetectChanges_StructuralInsertCategorized(t *testing.T) {
	d := New(nil, nil)
	base := sampleBaseline()
	updated := base + "\n\nFirms must also maintain a liquidity coverage ratio of 120% and file quarterly reporting requirements disclosures within 30 days of implementation date, subject to enforcement action and penalty for non-compliance."

	result, err := d.DetectChanges("sec_edgar", base, updated, model.Metadata{RegulatoryBody: "SEC"})
	require.NoError(t, err)
	require.True(t, result.HasChanges)
	require.NotEmpty(t, result.DetectedChanges)

	for _, c := range result.DetectedChanges {
		assert.Equal(t, model.StatusDetected, c.Status)
		assert.Nil(t, c.AnalyzedAt)
		assert.Contains(t, c.Metadata.Keywords, "structural_change")
	}
}

func TestDetectChanges_IdempotentOnSecondCall(t *testing.T) {
	d := New(nil, nil)
	base := sampleBaseline()
	updated := base + "\n\nAdditional penalty and enforcement action language follows the liquidity coverage ratio update."

	first, err := d.DetectChanges("ecb", base, updated, model.Metadata{RegulatoryBody: "ECB"})
	require.NoError(t, err)

	second, err := d.DetectChanges("ecb", base, updated, model.Metadata{RegulatoryBody: "ECB"})
	require.NoError(t, err)

	assert.Equal(t, first.Method, second.Method)
	assert.Equal(t, first.HasChanges, second.HasChanges)
}

func TestDetectChanges_DigitEditInLongLinePassesGate(t *testing.T) {
	d := New(nil, nil)
	base := sampleBaseline()
	updated := strings.Replace(base, "8%", "9%", 1)

	result, err := d.DetectChanges("src-4", base, updated, model.Metadata{})
	require.NoError(t, err)
	// Normalization folds the whole document onto one line, so even a
	// one-character numeric edit yields a changed chunk carrying that full
	// line: its significance stays above the 0.1 floor and its size is over
	// the gate's 100-character factor.
	if !result.HasChanges {
		t.Fatalf("expected the digit edit to pass the change-size gate, got no changes")
	}
}

func TestDefaultIgnoredPatterns_StripBoilerplate(t *testing.T) {
	d := New(DefaultIgnoredPatterns(), nil)
	withBoilerplate := sampleBaseline() + "\nCopyright 2026 Example Corp\nPage 1 of 3\nVersion 2.1"
	without := sampleBaseline()

	got := d.normalize(withBoilerplate)
	want := d.normalize(without)
	assert.Equal(t, want, got)
}

func TestUpdateAndGetBaselineContent(t *testing.T) {
	d := New(nil, nil)
	d.UpdateBaselineContent("src-5", "hello world", model.Metadata{})
	assert.Equal(t, "hello world", d.GetBaselineContent("src-5"))
	assert.Equal(t, "", d.GetBaselineContent("unknown"))
}

func TestGetDetectionStats_TracksComparisons(t *testing.T) {
	d := New(nil, nil)
	_, _ = d.DetectChanges("src-6", sampleBaseline(), sampleBaseline(), model.Metadata{})
	stats := d.GetDetectionStats()
	assert.EqualValues(t, 1, stats["total_comparisons"])
	assert.EqualValues(t, 1, stats["hash_based_no_change"])
}

func TestMyersDiff_MatchesLCSOnSmallInputs(t *testing.T) {
	a := []string{"one", "two", "three", "four"}
	b := []string{"one", "three", "four", "five"}

	myers := myersDiff(a, b)
	lcs := lcsDiff(a, b)

	assert.Equal(t, reconstructB(a, myers), reconstructB(a, lcs))
}

// reconstructB replays an edit script against a's lines and returns the
// resulting sequence, independent of which algorithm produced the script.
func reconstructB(a []string, ops []editOp) []string {
	var out []string
	ai := 0
	for _, op := range ops {
		switch op.kind {
		case opMatch:
			out = append(out, op.line)
			ai++
		case opDelete:
			ai++
		case opInsert:
			out = append(out, op.line)
		}
	}
	return out
}

func TestInvalidIgnoredPatternSkippedNotFatal(t *testing.T) {
	d := New([]string{`[invalid(`, `\d+`}, nil)
	require.Len(t, d.ignoredPatterns, 1)
}
