package knowledgebase

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/regulens/platform/internal/model"
)

var nonAlnumRun = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// tokenize splits on non-alphanumerics, lowercases, and drops tokens
// shorter than three characters, preserving first-occurrence order.
func tokenize(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range nonAlnumRun.Split(strings.ToLower(s), -1) {
		if len(f) < 3 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// indexChangeLocked adds change to the four secondary indexes. Callers
// must hold indexMu.
func (kb *KnowledgeBase) indexChangeLocked(c model.RegulatoryChange) {
	for _, tok := range tokenize(c.Title) {
		addToSet(kb.byWord, tok, c.ChangeID)
	}
	if c.Metadata.RegulatoryBody != "" {
		addToSet(kb.byBody, c.Metadata.RegulatoryBody, c.ChangeID)
	}
	if c.Analysis != nil {
		for _, tok := range tokenize(c.Analysis.ExecutiveSummary) {
			addToSet(kb.byWord, tok, c.ChangeID)
		}
		addToSet(kb.byImpact, c.Analysis.ImpactLevel.String(), c.ChangeID)
		for _, domain := range c.Analysis.AffectedDomains {
			addToSet(kb.byDomain, domain, c.ChangeID)
		}
	}
}

// removeFromIndexLocked undoes indexChangeLocked for a change's previous
// state. Callers must hold indexMu.
func (kb *KnowledgeBase) removeFromIndexLocked(c model.RegulatoryChange) {
	for _, tok := range tokenize(c.Title) {
		removeFromSet(kb.byWord, tok, c.ChangeID)
	}
	if c.Metadata.RegulatoryBody != "" {
		removeFromSet(kb.byBody, c.Metadata.RegulatoryBody, c.ChangeID)
	}
	if c.Analysis != nil {
		for _, tok := range tokenize(c.Analysis.ExecutiveSummary) {
			removeFromSet(kb.byWord, tok, c.ChangeID)
		}
		removeFromSet(kb.byImpact, c.Analysis.ImpactLevel.String(), c.ChangeID)
		for _, domain := range c.Analysis.AffectedDomains {
			removeFromSet(kb.byDomain, domain, c.ChangeID)
		}
	}
}

func addToSet(index map[string]map[string]bool, key, id string) {
	if index[key] == nil {
		index[key] = make(map[string]bool)
	}
	index[key][id] = true
}

func removeFromSet(index map[string]map[string]bool, key, id string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}

func copySet(src map[string]bool) map[string]bool {
	out := make(map[string]bool, len(src))
	for k := range src {
		out[k] = true
	}
	return out
}

func intersectSet(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}

// SearchChanges tokenizes query, AND-intersects the token -> change_id
// index, applies the regulatory_body/impact_level filters, and returns
// up to limit results descending by detected_at. An empty query matches
// every stored change.
func (kb *KnowledgeBase) SearchChanges(ctx context.Context, query string, filters map[string]string, limit int) []model.RegulatoryChange {
	tokens := tokenize(query)

	kb.indexMu.RLock()
	var candidate map[string]bool
	for i, tok := range tokens {
		set := kb.byWord[tok]
		if i == 0 {
			candidate = copySet(set)
			continue
		}
		candidate = intersectSet(candidate, set)
	}
	kb.indexMu.RUnlock()

	kb.statsMu.Lock()
	kb.stats.SearchesServed++
	kb.statsMu.Unlock()

	kb.storageMu.RLock()
	defer kb.storageMu.RUnlock()

	var ids []string
	if len(tokens) == 0 {
		ids = make([]string, 0, len(kb.changes))
		for id := range kb.changes {
			ids = append(ids, id)
		}
	} else {
		ids = make([]string, 0, len(candidate))
		for id := range candidate {
			ids = append(ids, id)
		}
	}

	result := make([]model.RegulatoryChange, 0, len(ids))
	wantBody, filterBody := filters["regulatory_body"]
	wantImpact, filterImpact := filters["impact_level"]
	for _, id := range ids {
		c, ok := kb.changes[id]
		if !ok {
			continue
		}
		if filterBody && !strings.EqualFold(c.Metadata.RegulatoryBody, wantBody) {
			continue
		}
		if filterImpact {
			if c.Analysis == nil || !strings.EqualFold(c.Analysis.ImpactLevel.String(), wantImpact) {
				continue
			}
		}
		result = append(result, c)
	}

	sortByDetectedAtDesc(result)

	if len(result) == 0 && len(tokens) > 0 && kb.db != nil {
		dbResult, err := kb.SearchStoredChanges(ctx, query, limit)
		if err != nil {
			if kb.log != nil {
				kb.log.WithField("query", query).Warnf("database search fallback failed: %v", err)
			}
		} else {
			result = dbResult
		}
	}

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// GetChangesByImpact returns stored changes whose analysis impact_level
// matches impact, descending by detected_at.
func (kb *KnowledgeBase) GetChangesByImpact(impact string, limit int) []model.RegulatoryChange {
	return kb.changesFromIndex(kb.byImpact, impact, limit)
}

// GetChangesByDomain returns stored changes whose analysis affects
// domain, descending by detected_at.
func (kb *KnowledgeBase) GetChangesByDomain(domain string, limit int) []model.RegulatoryChange {
	return kb.changesFromIndex(kb.byDomain, domain, limit)
}

// GetChangesByBody returns stored changes from regulatoryBody, descending
// by detected_at.
func (kb *KnowledgeBase) GetChangesByBody(regulatoryBody string, limit int) []model.RegulatoryChange {
	return kb.changesFromIndex(kb.byBody, regulatoryBody, limit)
}

func (kb *KnowledgeBase) changesFromIndex(index map[string]map[string]bool, key string, limit int) []model.RegulatoryChange {
	kb.indexMu.RLock()
	ids := make([]string, 0, len(index[key]))
	for id := range index[key] {
		ids = append(ids, id)
	}
	kb.indexMu.RUnlock()

	kb.storageMu.RLock()
	result := make([]model.RegulatoryChange, 0, len(ids))
	for _, id := range ids {
		if c, ok := kb.changes[id]; ok {
			result = append(result, c)
		}
	}
	kb.storageMu.RUnlock()

	sortByDetectedAtDesc(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// GetRecentChanges returns changes detected within the last days days,
// descending by detected_at.
func (kb *KnowledgeBase) GetRecentChanges(days int, limit int) []model.RegulatoryChange {
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)

	kb.storageMu.RLock()
	result := make([]model.RegulatoryChange, 0)
	for _, c := range kb.changes {
		if c.DetectedAt.After(cutoff) {
			result = append(result, c)
		}
	}
	kb.storageMu.RUnlock()

	sortByDetectedAtDesc(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}
