// Package detector compares a source's baseline content against freshly
// fetched content and emits significant, categorized diff chunks as
// RegulatoryChange records.
package detector

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/regulens/platform/internal/model"
	"github.com/regulens/platform/internal/regerrors"
	"github.com/regulens/platform/pkg/logger"
)

const (
	minContentLength        = 50
	chunkSignificanceFloor  = 0.1
	structuralNoChangeConf  = 0.5
)

// Result is the outcome of one DetectChanges call.
type Result struct {
	HasChanges      bool
	DetectedChanges []model.RegulatoryChange
	Method          string
	Confidence      float64
	ProcessingTime  time.Duration
}

// Methods reported in Result.Method.
const (
	MethodSkippedShortContent = "skipped_short_content"
	MethodHashBased           = "hash_based"
	MethodStructuralAnalysis  = "structural_analysis"
	MethodSemanticAnalysis    = "semantic_analysis"
	MethodError               = "error"
)

// stats mirrors get_detection_stats(); guarded by statsMu.
type stats struct {
	totalComparisons       int64
	hashBasedNoChange      int64
	structuralAnalyses     int64
	semanticAnalyses       int64
	falsePositivesAvoided  int64
	changesEmitted         int64
}

// Detector holds per-source baseline content and detection statistics.
// Baselines are in-memory only; persistence is the knowledge base's job.
type Detector struct {
	log *logger.Logger

	ignoredPatterns []*regexp.Regexp

	baselineMu sync.RWMutex
	baselines  map[string]string

	statsMu sync.Mutex
	st      stats
}

// DefaultIgnoredPatterns returns the conventional boilerplate regexes:
// timestamps, page numbers, copyright lines, version/revision markers.
func DefaultIgnoredPatterns() []string {
	return []string{
		`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?`,
		`(?i)page\s+\d+\s+of\s+\d+`,
		`(?i)copyright\s+(\xC2\xA9|\(c\))?\s*\d{4}[^\n]*`,
		`(?i)\bversion\s+\d+(\.\d+)*\b`,
		`(?i)\brev(?:ision)?\.?\s*\d+(\.\d+)*\b`,
	}
}

// New builds a Detector. Patterns that fail to compile are logged and
// skipped, never fatal.
func New(patterns []string, log *logger.Logger) *Detector {
	d := &Detector{
		log:       log,
		baselines: make(map[string]string),
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			if log != nil {
				log.WithField("pattern", p).Warnf("ignored pattern failed to compile: %v", err)
			}
			continue
		}
		d.ignoredPatterns = append(d.ignoredPatterns, re)
	}
	return d
}

// UpdateBaselineContent replaces the stored baseline for sourceID. The
// metadata parameter matches the public contract but isn't retained:
// only the content itself is diffed on the next DetectChanges call.
func (d *Detector) UpdateBaselineContent(sourceID, content string, _ model.Metadata) {
	d.baselineMu.Lock()
	defer d.baselineMu.Unlock()
	d.baselines[sourceID] = content
}

// GetBaselineContent returns the stored baseline for sourceID, or "".
func (d *Detector) GetBaselineContent(sourceID string) string {
	d.baselineMu.RLock()
	defer d.baselineMu.RUnlock()
	return d.baselines[sourceID]
}

// GetDetectionStats reports cumulative counters.
func (d *Detector) GetDetectionStats() map[string]any {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return map[string]any{
		"total_comparisons":        d.st.totalComparisons,
		"hash_based_no_change":     d.st.hashBasedNoChange,
		"structural_analyses":      d.st.structuralAnalyses,
		"semantic_analyses":        d.st.semanticAnalyses,
		"false_positives_avoided":  d.st.falsePositivesAvoided,
		"changes_emitted":          d.st.changesEmitted,
	}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalize strips configured ignored patterns then collapses whitespace.
func (d *Detector) normalize(content string) string {
	out := content
	for _, re := range d.ignoredPatterns {
		out = re.ReplaceAllString(out, "")
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(out, " "))
}

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// DetectChanges runs the full normalization -> hash -> structural ->
// semantic -> categorization -> gating pipeline and emits one
// RegulatoryChange per surviving category.
func (d *Detector) DetectChanges(sourceID, baselineContent, newContent string, meta model.Metadata) (result Result, err error) {
	start := time.Now()
	d.statsMu.Lock()
	d.st.totalComparisons++
	d.statsMu.Unlock()

	normNew := d.normalize(newContent)
	if len(normNew) < minContentLength {
		return Result{Method: MethodSkippedShortContent, Confidence: 0, ProcessingTime: time.Since(start)}, nil
	}

	normBase := d.normalize(baselineContent)

	if hashOf(normBase) == hashOf(normNew) {
		d.statsMu.Lock()
		d.st.hashBasedNoChange++
		d.statsMu.Unlock()
		return Result{Method: MethodHashBased, Confidence: 1.0, ProcessingTime: time.Since(start)}, nil
	}

	baseLines := nonEmptyTrimmedLines(normBase)
	newLines := nonEmptyTrimmedLines(normNew)

	defer func() {
		if r := recover(); r != nil {
			if d.log != nil {
				d.log.Errorf("detector panic recovered: %v", r)
			}
			result = Result{Method: MethodError, Confidence: 0, ProcessingTime: time.Since(start)}
			err = &regerrors.DetectorError{Phase: "structural", Err: fmt.Errorf("%v", r)}
		}
	}()

	ops, err := diffLines(baseLines, newLines)
	if err != nil {
		return Result{Method: MethodError, Confidence: 0}, &regerrors.DetectorError{Phase: "structural", Err: err}
	}

	chunks := chunksFromOps(ops, baseLines, newLines)

	var surviving []scoredChunk
	for _, c := range chunks {
		sig := chunkSignificance(c)
		if sig <= chunkSignificanceFloor {
			continue
		}
		surviving = append(surviving, scoredChunk{chunk: c, significance: sig})
	}

	d.statsMu.Lock()
	d.st.structuralAnalyses++
	d.statsMu.Unlock()

	if len(surviving) == 0 {
		d.statsMu.Lock()
		d.st.falsePositivesAvoided++
		d.statsMu.Unlock()
		return Result{Method: MethodStructuralAnalysis, Confidence: structuralNoChangeConf, ProcessingTime: time.Since(start)}, nil
	}

	semanticScore := semanticChangeScore(normBase, normNew)
	d.statsMu.Lock()
	d.st.semanticAnalyses++
	d.statsMu.Unlock()

	categories := categorizeAndGroup(surviving)

	var emitted []model.RegulatoryChange
	now := time.Now().UTC()
	for _, cat := range orderedCategories(categories) {
		group := categories[cat]
		if !shouldEmitCategory(group, meta.RegulatoryBody) {
			continue
		}
		emitted = append(emitted, buildCategoryChange(sourceID, cat, group, meta, now))
	}

	if len(emitted) == 0 {
		d.statsMu.Lock()
		d.st.falsePositivesAvoided++
		d.statsMu.Unlock()
		return Result{Method: MethodStructuralAnalysis, Confidence: structuralNoChangeConf, ProcessingTime: time.Since(start)}, nil
	}

	structuralConfidence := avgSignificance(surviving) * (0.7 + 0.3*minFloat(1, float64(len(surviving))/5))
	confidence := 0.6*structuralConfidence + 0.4*semanticScore

	d.statsMu.Lock()
	d.st.changesEmitted += int64(len(emitted))
	d.statsMu.Unlock()

	return Result{
		HasChanges:      true,
		DetectedChanges: emitted,
		Method:          MethodSemanticAnalysis,
		Confidence:      clamp01(confidence),
		ProcessingTime:  time.Since(start),
	}, nil
}

func nonEmptyTrimmedLines(s string) []string {
	raw := strings.Split(s, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func avgSignificance(chunks []scoredChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	var sum float64
	for _, c := range chunks {
		sum += c.significance
	}
	return sum / float64(len(chunks))
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func buildCategoryChange(sourceID, category string, group []scoredChunk, meta model.Metadata, now time.Time) model.RegulatoryChange {
	impact := avgSignificance(group)
	keywords := append([]string{}, meta.Keywords...)
	keywords = append(keywords, "structural_change", category)
	if impact > 0.7 || isHighPriorityBody(meta.RegulatoryBody) {
		keywords = append(keywords, "high_impact")
	}

	title := fmt.Sprintf("%s Update", titleCase(category))
	if len(group) > 1 {
		title = fmt.Sprintf("%s (%d changes)", title, len(group))
	}

	id := fmt.Sprintf("reg_change_%d_%s_%s", now.UnixMicro(), sourceID, category)

	return model.RegulatoryChange{
		ChangeID: id,
		SourceID: sourceID,
		Title:    title,
		Metadata: model.Metadata{
			RegulatoryBody: meta.RegulatoryBody,
			DocumentType:   meta.DocumentType,
			DocumentNumber: meta.DocumentNumber,
			Keywords:       keywords,
		},
		Status:     model.StatusDetected,
		DetectedAt: now,
	}
}

func titleCase(category string) string {
	words := strings.Split(strings.ReplaceAll(category, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
