package knowledgebase

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/regulens/platform/internal/model"
	"github.com/regulens/platform/internal/regerrors"
)

const defaultSearchLimit = 50

// changeRow is the sqlx struct-scan target for regulatory_changes rows:
// the relational side of a search can reach rows the in-memory cache has
// already evicted, which is the reason this repo keeps both.
type changeRow struct {
	ChangeID            string         `db:"change_id"`
	SourceID            string         `db:"source_id"`
	Title               string         `db:"title"`
	ContentURL          sql.NullString `db:"content_url"`
	RegulatoryBody      string         `db:"regulatory_body"`
	DocumentType        string         `db:"document_type"`
	DocumentNumber      string         `db:"document_number"`
	Status              int            `db:"status"`
	DetectedAt          int64          `db:"detected_at"`
	AnalyzedAt          sql.NullInt64  `db:"analyzed_at"`
	DistributedAt       sql.NullInt64  `db:"distributed_at"`
	ImpactLevel         sql.NullInt64  `db:"impact_level"`
	ExecutiveSummary    sql.NullString `db:"executive_summary"`
	Keywords            pq.StringArray `db:"keywords"`
	AffectedEntities    pq.StringArray `db:"affected_entities"`
	RequiredActions     pq.StringArray `db:"required_actions"`
	ComplianceDeadlines pq.StringArray `db:"compliance_deadlines"`
	CustomFields        []byte         `db:"custom_fields"`
	RiskScores          []byte         `db:"risk_scores"`
	AffectedDomains     pq.StringArray `db:"affected_domains"`
	AnalysisTimestamp   sql.NullInt64  `db:"analysis_timestamp"`
}

func (r changeRow) toModel() model.RegulatoryChange {
	c := model.RegulatoryChange{
		ChangeID: r.ChangeID,
		SourceID: r.SourceID,
		Title:    r.Title,
		Status:   model.Status(r.Status),
		Metadata: model.Metadata{
			RegulatoryBody:   r.RegulatoryBody,
			DocumentType:     r.DocumentType,
			DocumentNumber:   r.DocumentNumber,
			Keywords:         []string(r.Keywords),
			AffectedEntities: []string(r.AffectedEntities),
		},
		DetectedAt: time.UnixMilli(r.DetectedAt).UTC(),
	}
	if r.ContentURL.Valid {
		c.ContentURL = r.ContentURL.String
	}
	if r.AnalyzedAt.Valid {
		t := time.UnixMilli(r.AnalyzedAt.Int64).UTC()
		c.AnalyzedAt = &t
	}
	if r.DistributedAt.Valid {
		t := time.UnixMilli(r.DistributedAt.Int64).UTC()
		c.DistributedAt = &t
	}
	if len(r.CustomFields) > 0 {
		_ = json.Unmarshal(r.CustomFields, &c.Metadata.CustomFields)
	}
	if r.ImpactLevel.Valid {
		analysis := &model.Analysis{
			ImpactLevel:         model.ImpactLevel(r.ImpactLevel.Int64),
			RequiredActions:     []string(r.RequiredActions),
			ComplianceDeadlines: []string(r.ComplianceDeadlines),
			AffectedDomains:     []string(r.AffectedDomains),
		}
		if r.ExecutiveSummary.Valid {
			analysis.ExecutiveSummary = r.ExecutiveSummary.String
		}
		if len(r.RiskScores) > 0 {
			_ = json.Unmarshal(r.RiskScores, &analysis.RiskScores)
		}
		if r.AnalysisTimestamp.Valid {
			analysis.AnalysisTimestamp = time.UnixMilli(r.AnalysisTimestamp.Int64).UTC()
		}
		c.Analysis = analysis
	}
	return c
}

// SearchStoredChanges runs a title/executive_summary search directly
// against regulatory_changes via sqlx's Select/StructScan, reaching rows
// the in-memory LRU cache has already evicted. SearchChanges falls back
// to this when its in-memory token index comes up empty and a database
// is wired.
func (kb *KnowledgeBase) SearchStoredChanges(ctx context.Context, query string, limit int) ([]model.RegulatoryChange, error) {
	if kb.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var rows []changeRow
	err := kb.db.SelectContext(ctx, &rows, `
		SELECT change_id, source_id, title, content_url, regulatory_body, document_type,
			document_number, status, detected_at, analyzed_at, distributed_at,
			impact_level, executive_summary, keywords, affected_entities,
			required_actions, compliance_deadlines, custom_fields, risk_scores,
			affected_domains, analysis_timestamp
		FROM regulatory_changes
		WHERE title ILIKE '%' || $1 || '%' OR executive_summary ILIKE '%' || $1 || '%'
		ORDER BY detected_at DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, &regerrors.PersistenceError{Op: "search_stored_changes", Err: err}
	}

	out := make([]model.RegulatoryChange, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}
