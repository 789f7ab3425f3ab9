package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/regulens/platform/internal/model"
)

func TestNewRegulatoryChangeDetectedEventPriorityTracksImpact(t *testing.T) {
	base := model.RegulatoryChange{ChangeID: "reg_change_1", SourceID: "sec_edgar"}
	assert.Equal(t, PriorityNormal, NewRegulatoryChangeDetectedEvent(base).Priority)

	withImpact := base
	withImpact.Analysis = &model.Analysis{ImpactLevel: model.ImpactCritical}
	assert.Equal(t, PriorityCritical, NewRegulatoryChangeDetectedEvent(withImpact).Priority)

	withHigh := base
	withHigh.Analysis = &model.Analysis{ImpactLevel: model.ImpactHigh}
	assert.Equal(t, PriorityHigh, NewRegulatoryChangeDetectedEvent(withHigh).Priority)
}

func TestNewSecurityIncidentDetectedEventIsUrgent(t *testing.T) {
	e := NewSecurityIncidentDetectedEvent("monitor", "unauthorized access attempt")
	assert.Equal(t, PriorityUrgent, e.Priority)
	assert.Equal(t, CategorySecurityIncidentDetected, e.Category)
}

func TestNewRegulatoryRiskAlertEventEscalatesAtHighScore(t *testing.T) {
	assert.Equal(t, PriorityHigh, NewRegulatoryRiskAlertEvent("monitor", "entity_1", 0.5).Priority)
	assert.Equal(t, PriorityCritical, NewRegulatoryRiskAlertEvent("monitor", "entity_1", 0.95).Priority)
}
