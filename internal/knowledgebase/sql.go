package knowledgebase

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/regulens/platform/internal/model"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// upsertDB writes change to regulatory_changes. On conflict only the
// status and analysis-derived columns are updated; change_id, source_id,
// title and content_url are set once at insert and never overwritten.
func (kb *KnowledgeBase) upsertDB(ctx context.Context, c model.RegulatoryChange) error {
	if kb.db == nil {
		return nil
	}

	var (
		impactLevel         sql.NullInt64
		executiveSummary    sql.NullString
		requiredActions     []string
		complianceDeadlines []string
		affectedDomains     []string
		analysisTimestamp   sql.NullInt64
		riskScoresJSON      = []byte("{}")
	)

	if c.Analysis != nil {
		impactLevel = sql.NullInt64{Int64: int64(c.Analysis.ImpactLevel), Valid: true}
		executiveSummary = toNullString(c.Analysis.ExecutiveSummary)
		requiredActions = c.Analysis.RequiredActions
		complianceDeadlines = c.Analysis.ComplianceDeadlines
		affectedDomains = c.Analysis.AffectedDomains
		if !c.Analysis.AnalysisTimestamp.IsZero() {
			analysisTimestamp = sql.NullInt64{Int64: c.Analysis.AnalysisTimestamp.UnixMilli(), Valid: true}
		}
		raw, err := json.Marshal(c.Analysis.RiskScores)
		if err != nil {
			return err
		}
		riskScoresJSON = raw
	}

	customFieldsJSON, err := json.Marshal(c.Metadata.CustomFields)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	_, err = kb.db.ExecContext(ctx, `
		INSERT INTO regulatory_changes (
			change_id, source_id, title, content_url, regulatory_body, document_type,
			document_number, status, detected_at, analyzed_at, distributed_at,
			impact_level, executive_summary, keywords, affected_entities,
			required_actions, compliance_deadlines, custom_fields, risk_scores,
			affected_domains, analysis_timestamp, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23
		)
		ON CONFLICT (change_id) DO UPDATE SET
			status = $8,
			analyzed_at = $10,
			distributed_at = $11,
			impact_level = $12,
			executive_summary = $13,
			required_actions = $16,
			compliance_deadlines = $17,
			risk_scores = $19,
			affected_domains = $20,
			analysis_timestamp = $21,
			updated_at = $23
	`,
		c.ChangeID, c.SourceID, c.Title, toNullString(c.ContentURL), c.Metadata.RegulatoryBody,
		c.Metadata.DocumentType, c.Metadata.DocumentNumber, int(c.Status), c.DetectedAt.UnixMilli(),
		nullMillis(c.AnalyzedAt), nullMillis(c.DistributedAt), impactLevel, executiveSummary,
		pq.Array(c.Metadata.Keywords), pq.Array(c.Metadata.AffectedEntities),
		pq.Array(requiredActions), pq.Array(complianceDeadlines), customFieldsJSON, riskScoresJSON,
		pq.Array(affectedDomains), analysisTimestamp, now, now,
	)
	return err
}

func (kb *KnowledgeBase) fetchRowByID(ctx context.Context, changeID string) (model.RegulatoryChange, error) {
	row := kb.db.QueryRowContext(ctx, `
		SELECT change_id, source_id, title, content_url, regulatory_body, document_type,
			document_number, status, detected_at, analyzed_at, distributed_at,
			impact_level, executive_summary, keywords, affected_entities,
			required_actions, compliance_deadlines, custom_fields, risk_scores,
			affected_domains, analysis_timestamp
		FROM regulatory_changes WHERE change_id = $1
	`, changeID)
	return scanChangeRow(row)
}

func scanChangeRow(scanner rowScanner) (model.RegulatoryChange, error) {
	var (
		c                   model.RegulatoryChange
		contentURL          sql.NullString
		status              int
		detectedAtMs        int64
		analyzedAtMs        sql.NullInt64
		distributedAtMs     sql.NullInt64
		impactLevel         sql.NullInt64
		executiveSummary    sql.NullString
		keywords            []string
		affectedEntities    []string
		requiredActions     []string
		complianceDeadlines []string
		affectedDomains     []string
		customFieldsRaw     []byte
		riskScoresRaw       []byte
		analysisTimestampMs sql.NullInt64
	)

	if err := scanner.Scan(
		&c.ChangeID, &c.SourceID, &c.Title, &contentURL, &c.Metadata.RegulatoryBody,
		&c.Metadata.DocumentType, &c.Metadata.DocumentNumber, &status, &detectedAtMs,
		&analyzedAtMs, &distributedAtMs, &impactLevel, &executiveSummary,
		pq.Array(&keywords), pq.Array(&affectedEntities),
		pq.Array(&requiredActions), pq.Array(&complianceDeadlines), &customFieldsRaw, &riskScoresRaw,
		pq.Array(&affectedDomains), &analysisTimestampMs,
	); err != nil {
		return model.RegulatoryChange{}, err
	}

	if contentURL.Valid {
		c.ContentURL = contentURL.String
	}
	c.Status = model.Status(status)
	c.DetectedAt = time.UnixMilli(detectedAtMs).UTC()
	if analyzedAtMs.Valid {
		t := time.UnixMilli(analyzedAtMs.Int64).UTC()
		c.AnalyzedAt = &t
	}
	if distributedAtMs.Valid {
		t := time.UnixMilli(distributedAtMs.Int64).UTC()
		c.DistributedAt = &t
	}
	c.Metadata.Keywords = keywords
	c.Metadata.AffectedEntities = affectedEntities
	if len(customFieldsRaw) > 0 {
		_ = json.Unmarshal(customFieldsRaw, &c.Metadata.CustomFields)
	}

	if impactLevel.Valid {
		analysis := &model.Analysis{
			ImpactLevel:         model.ImpactLevel(impactLevel.Int64),
			RequiredActions:     requiredActions,
			ComplianceDeadlines: complianceDeadlines,
			AffectedDomains:     affectedDomains,
		}
		if executiveSummary.Valid {
			analysis.ExecutiveSummary = executiveSummary.String
		}
		if len(riskScoresRaw) > 0 {
			_ = json.Unmarshal(riskScoresRaw, &analysis.RiskScores)
		}
		if analysisTimestampMs.Valid {
			analysis.AnalysisTimestamp = time.UnixMilli(analysisTimestampMs.Int64).UTC()
		}
		c.Analysis = analysis
	}

	return c, nil
}

func toNullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
