package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/regulens/platform/internal/httpclient"
	"github.com/regulens/platform/internal/model"
	"github.com/regulens/platform/internal/resilience"
	"github.com/regulens/platform/pkg/logger"
)

// FCASource polls the FCA regulatory-updates API, deduplicating by the
// ISO8601 timestamp cursor (lexicographic compare, valid for Z-form
// timestamps).
type FCASource struct {
	Base

	client       *httpclient.Client
	breaker      *resilience.CircuitBreaker
	states       StateStore
	log          *logger.Logger
	baseURL      string
	apiKey       string
	lastTimestamp string
}

type fcaUpdate struct {
	Timestamp   string `json:"timestamp"`
	UpdateType  string `json:"update_type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

type fcaUpdatesResponse struct {
	Updates []fcaUpdate `json:"updates"`
}

// NewFCASource constructs the FCA source.
func NewFCASource(baseURL, apiKey string, states StateStore, log *logger.Logger) *FCASource {
	return &FCASource{
		Base:    NewBase("fca_regulatory", "FCA Regulatory API"),
		client:  httpclient.New(httpclient.DefaultConfig()),
		breaker: resilience.New(resilience.DefaultConfig()),
		states:  states,
		log:     log,
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// Initialize loads the persisted timestamp cursor.
func (s *FCASource) Initialize(ctx context.Context) error {
	cursor, err := s.states.LoadState(ctx, s.SourceID(), "last_timestamp", "")
	if err != nil {
		return err
	}
	s.lastTimestamp = cursor
	return nil
}

// Configuration reports the current source configuration.
func (s *FCASource) Configuration() map[string]any {
	return map[string]any{
		"source_id":      s.SourceID(),
		"base_url":       s.baseURL,
		"last_timestamp": s.lastTimestamp,
	}
}

func (s *FCASource) updatesURL() string {
	return s.baseURL + "/api/regulatory-updates"
}

// TestConnectivity reports whether the FCA endpoint is reachable. Both
// 200 and 401 count as "reachable" per spec.
func (s *FCASource) TestConnectivity(ctx context.Context) bool {
	resp, err := s.client.Get(ctx, s.updatesURL(), nil)
	if err != nil {
		return false
	}
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnauthorized
}

// CheckInterval reports the default 300s polling cadence.
func (s *FCASource) CheckInterval() time.Duration { return defaultCheckInterval }

// ShouldCheck reports whether this source is due for a poll.
func (s *FCASource) ShouldCheck(now time.Time) bool {
	return s.Base.ShouldCheck(now, s.CheckInterval())
}

// CheckForChanges fetches regulatory updates and builds one
// RegulatoryChange per strictly-new timestamp.
func (s *FCASource) CheckForChanges(ctx context.Context) ([]model.RegulatoryChange, error) {
	defer s.UpdateLastCheckTime(time.Now())

	updates, err := s.fetchUpdates(ctx)
	if err != nil {
		s.RecordFailure()
		return nil, err
	}

	var changes []model.RegulatoryChange
	newest := s.lastTimestamp
	for _, u := range updates {
		if s.lastTimestamp != "" && u.Timestamp <= s.lastTimestamp {
			continue
		}
		changes = append(changes, s.buildChange(u))
		if u.Timestamp > newest {
			newest = u.Timestamp
		}
	}

	if newest != s.lastTimestamp {
		s.lastTimestamp = newest
		if err := s.states.PersistState(ctx, s.SourceID(), "last_timestamp", newest); err != nil {
			s.log.WithField("source", s.SourceID()).Errorf("failed to persist FCA cursor: %v", err)
		}
	}

	s.RecordSuccess()
	return changes, nil
}

func (s *FCASource) fetchUpdates(ctx context.Context) ([]fcaUpdate, error) {
	var updates []fcaUpdate
	err := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
		return s.breaker.Execute(ctx, func() error {
			resp, err := s.client.Get(ctx, s.updatesURL(), http.Header{"Accept": []string{"application/json"}})
			if err != nil {
				return err
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return fmt.Errorf("unexpected status %d", resp.StatusCode)
			}
			var parsed fcaUpdatesResponse
			if err := json.Unmarshal(resp.Body, &parsed); err != nil {
				return err
			}
			updates = parsed.Updates
			return nil
		})
	})
	return updates, err
}

func (s *FCASource) determineSeverity(updateType string) model.ImpactLevel {
	switch updateType {
	case "emergency", "rule_change":
		return model.ImpactHigh
	case "policy", "guidance":
		return model.ImpactMedium
	default:
		return model.ImpactLow
	}
}

func (s *FCASource) buildChange(u fcaUpdate) model.RegulatoryChange {
	detected := time.Now().UTC()
	return model.RegulatoryChange{
		ChangeID:   fmt.Sprintf("reg_change_%d_%s", detected.UnixMicro(), u.Timestamp),
		SourceID:   s.SourceID(),
		Title:      u.Title,
		ContentURL: u.URL,
		Metadata: model.Metadata{
			RegulatoryBody: "FCA",
			DocumentType:   u.UpdateType,
		},
		Status:     model.StatusAnalyzed,
		DetectedAt: detected,
		AnalyzedAt: &detected,
		Analysis: &model.Analysis{
			ImpactLevel:       s.determineSeverity(u.UpdateType),
			AnalysisTimestamp: detected,
		},
	}
}
