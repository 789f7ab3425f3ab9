package eventbus

import (
	"encoding/json"
	"time"

	"github.com/regulens/platform/internal/model"
)

// defaultTTL applies to every factory-built event unless noted
// otherwise; zero would mean no expiry, which is wrong for routine
// operational events.
const defaultTTL = 24 * time.Hour

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// NewAgentDecisionEvent reports an automated decision made by source
// about subjectID.
func NewAgentDecisionEvent(source, subjectID, decision string, confidence float64) Event {
	payload := mustMarshal(map[string]any{
		"subject_id": subjectID,
		"decision":   decision,
		"confidence": confidence,
	})
	return NewEvent(CategoryAgentDecision, source, "agent_decision", payload, PriorityNormal, defaultTTL)
}

// NewAgentStatusUpdateEvent reports a source's current lifecycle status.
func NewAgentStatusUpdateEvent(source, status string) Event {
	payload := mustMarshal(map[string]any{"status": status})
	return NewEvent(CategoryAgentStatusUpdate, source, "agent_status_update", payload, PriorityLow, defaultTTL)
}

// NewAgentErrorEvent reports an unrecoverable error encountered by
// source.
func NewAgentErrorEvent(source, errMsg string) Event {
	payload := mustMarshal(map[string]any{"error": errMsg})
	return NewEvent(CategoryAgentError, source, "agent_error", payload, PriorityHigh, defaultTTL)
}

// NewRegulatoryChangeDetectedEvent wraps a freshly detected change for
// routing to the knowledge base and downstream subscribers. Priority
// tracks the change's analyzed impact level when present.
func NewRegulatoryChangeDetectedEvent(c model.RegulatoryChange) Event {
	priority := PriorityNormal
	if c.Analysis != nil {
		switch c.Analysis.ImpactLevel {
		case model.ImpactCritical:
			priority = PriorityCritical
		case model.ImpactHigh:
			priority = PriorityHigh
		}
	}
	payload := mustMarshal(c)
	return NewEvent(CategoryRegulatoryChangeDetected, c.SourceID, "regulatory_change_detected", payload, priority, defaultTTL)
}

// NewRegulatoryComplianceViolationEvent reports a detected violation tied
// to changeID, always at CRITICAL priority.
func NewRegulatoryComplianceViolationEvent(source, changeID, description string) Event {
	payload := mustMarshal(map[string]any{"change_id": changeID, "description": description})
	return NewEvent(CategoryRegulatoryComplianceViolation, source, "compliance_violation", payload, PriorityCritical, defaultTTL)
}

// NewRegulatoryRiskAlertEvent reports a risk score crossing threshold for
// entityID.
func NewRegulatoryRiskAlertEvent(source, entityID string, riskScore float64) Event {
	payload := mustMarshal(map[string]any{"entity_id": entityID, "risk_score": riskScore})
	priority := PriorityHigh
	if riskScore >= 0.9 {
		priority = PriorityCritical
	}
	return NewEvent(CategoryRegulatoryRiskAlert, source, "regulatory_risk_alert", payload, priority, defaultTTL)
}

// NewTransactionProcessedEvent reports a completed transaction.
func NewTransactionProcessedEvent(source, transactionID string) Event {
	payload := mustMarshal(map[string]any{"transaction_id": transactionID})
	return NewEvent(CategoryTransactionProcessed, source, "transaction_processed", payload, PriorityLow, defaultTTL)
}

// NewTransactionFlaggedEvent reports a transaction held for review.
func NewTransactionFlaggedEvent(source, transactionID, reason string) Event {
	payload := mustMarshal(map[string]any{"transaction_id": transactionID, "reason": reason})
	return NewEvent(CategoryTransactionFlagged, source, "transaction_flagged", payload, PriorityHigh, defaultTTL)
}

// NewTransactionReviewRequestedEvent asks a human reviewer to look at
// transactionID.
func NewTransactionReviewRequestedEvent(source, transactionID string) Event {
	payload := mustMarshal(map[string]any{"transaction_id": transactionID})
	return NewEvent(CategoryTransactionReviewRequested, source, "transaction_review_requested", payload, PriorityHigh, defaultTTL)
}

// NewSystemHealthCheckEvent reports a component's health snapshot.
func NewSystemHealthCheckEvent(source string, healthy bool, detail string) Event {
	payload := mustMarshal(map[string]any{"healthy": healthy, "detail": detail})
	return NewEvent(CategorySystemHealthCheck, source, "system_health_check", payload, PriorityLow, defaultTTL)
}

// NewSystemPerformanceMetricEvent reports a named numeric metric sample.
func NewSystemPerformanceMetricEvent(source, metric string, value float64) Event {
	payload := mustMarshal(map[string]any{"metric": metric, "value": value})
	return NewEvent(CategorySystemPerformanceMetric, source, "system_performance_metric", payload, PriorityLow, defaultTTL)
}

// NewSystemErrorEvent reports an internal system error. Priority defaults
// to HIGH since system errors generally warrant prompt attention.
func NewSystemErrorEvent(source, errMsg string) Event {
	payload := mustMarshal(map[string]any{"error": errMsg})
	return NewEvent(CategorySystemError, source, "system_error", payload, PriorityHigh, defaultTTL)
}

// NewHumanReviewRequestedEvent asks a human to review subjectID.
func NewHumanReviewRequestedEvent(source, subjectID, reason string) Event {
	payload := mustMarshal(map[string]any{"subject_id": subjectID, "reason": reason})
	return NewEvent(CategoryHumanReviewRequested, source, "human_review_requested", payload, PriorityHigh, defaultTTL)
}

// NewHumanFeedbackReceivedEvent records feedback a reviewer gave on
// subjectID.
func NewHumanFeedbackReceivedEvent(source, subjectID, feedback string) Event {
	payload := mustMarshal(map[string]any{"subject_id": subjectID, "feedback": feedback})
	return NewEvent(CategoryHumanFeedbackReceived, source, "human_feedback_received", payload, PriorityNormal, defaultTTL)
}

// NewHumanDecisionOverrideEvent records a human overriding an automated
// decision on subjectID.
func NewHumanDecisionOverrideEvent(source, subjectID, newDecision string) Event {
	payload := mustMarshal(map[string]any{"subject_id": subjectID, "new_decision": newDecision})
	return NewEvent(CategoryHumanDecisionOverride, source, "human_decision_override", payload, PriorityHigh, defaultTTL)
}

// NewDataIngestionCompletedEvent reports source finished ingesting count
// records.
func NewDataIngestionCompletedEvent(source string, count int) Event {
	payload := mustMarshal(map[string]any{"count": count})
	return NewEvent(CategoryDataIngestionCompleted, source, "data_ingestion_completed", payload, PriorityLow, defaultTTL)
}

// NewDataProcessingStartedEvent reports source beginning to process a
// batch.
func NewDataProcessingStartedEvent(source, batchID string) Event {
	payload := mustMarshal(map[string]any{"batch_id": batchID})
	return NewEvent(CategoryDataProcessingStarted, source, "data_processing_started", payload, PriorityLow, defaultTTL)
}

// NewDataQualityIssueEvent flags a data quality problem found in source.
func NewDataQualityIssueEvent(source, detail string) Event {
	payload := mustMarshal(map[string]any{"detail": detail})
	return NewEvent(CategoryDataQualityIssue, source, "data_quality_issue", payload, PriorityNormal, defaultTTL)
}

// NewAuditTrailUpdatedEvent records an audit log entry for entityID.
func NewAuditTrailUpdatedEvent(source, entityID, action string) Event {
	payload := mustMarshal(map[string]any{"entity_id": entityID, "action": action})
	return NewEvent(CategoryAuditTrailUpdated, source, "audit_trail_updated", payload, PriorityLow, defaultTTL)
}

// NewComplianceReportGeneratedEvent reports a finished compliance report.
func NewComplianceReportGeneratedEvent(source, reportID string) Event {
	payload := mustMarshal(map[string]any{"report_id": reportID})
	return NewEvent(CategoryComplianceReportGenerated, source, "compliance_report_generated", payload, PriorityNormal, defaultTTL)
}

// NewSecurityIncidentDetectedEvent reports a security incident, always
// at URGENT priority.
func NewSecurityIncidentDetectedEvent(source, detail string) Event {
	payload := mustMarshal(map[string]any{"detail": detail})
	return NewEvent(CategorySecurityIncidentDetected, source, "security_incident_detected", payload, PriorityUrgent, defaultTTL)
}
