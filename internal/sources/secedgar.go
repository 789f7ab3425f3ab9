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

// secFormTypes is the set of filing form types this source cares about.
var secFormTypes = map[string]bool{
	"8-K": true, "10-K": true, "10-Q": true, "20-F": true,
	"6-K": true, "S-1": true, "S-3": true, "8-A12B": true,
}

// SECEdgarSource polls the SEC EDGAR "filings/current" feed, deduplicating
// by the monotonically increasing accessionNumber cursor.
type SECEdgarSource struct {
	Base

	client     *httpclient.Client
	breaker    *resilience.CircuitBreaker
	states     StateStore
	log        *logger.Logger
	baseURL    string
	apiKey     string
	lastAccession string
}

// secFiling is the subset of an EDGAR filing entry this source reads.
type secFiling struct {
	AccessionNumber string `json:"accessionNumber"`
	FormType        string `json:"formType"`
	CompanyName     string `json:"companyName"`
	FilingDate      string `json:"filingDate"`
	FilingHREF      string `json:"filingHref"`
	Description     string `json:"description"`
}

type secFilingsResponse struct {
	Filings []secFiling `json:"filings"`
}

// NewSECEdgarSource constructs the SEC EDGAR source.
func NewSECEdgarSource(baseURL, apiKey string, states StateStore, log *logger.Logger) *SECEdgarSource {
	return &SECEdgarSource{
		Base:    NewBase("sec_edgar", "SEC EDGAR API"),
		client:  httpclient.New(httpclient.DefaultConfig()),
		breaker: resilience.New(resilience.DefaultConfig()),
		states:  states,
		log:     log,
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// Initialize tests connectivity and loads the persisted accession cursor.
func (s *SECEdgarSource) Initialize(ctx context.Context) error {
	cursor, err := s.states.LoadState(ctx, s.SourceID(), "last_accession", "")
	if err != nil {
		return err
	}
	s.lastAccession = cursor
	if !s.TestConnectivity(ctx) {
		s.log.WithField("source", s.SourceID()).Warn("SEC EDGAR connectivity test failed during initialize")
	}
	return nil
}

// Configuration reports the current source configuration.
func (s *SECEdgarSource) Configuration() map[string]any {
	return map[string]any{
		"source_id":      s.SourceID(),
		"base_url":       s.baseURL,
		"last_accession": s.lastAccession,
	}
}

// TestConnectivity reports whether the EDGAR endpoint is reachable.
// Both 200 and 401 count as "reachable" per spec.
func (s *SECEdgarSource) TestConnectivity(ctx context.Context) bool {
	resp, err := s.client.Get(ctx, s.filingsURL(), nil)
	if err != nil {
		return false
	}
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnauthorized
}

// CheckInterval reports the default 300s polling cadence.
func (s *SECEdgarSource) CheckInterval() time.Duration { return defaultCheckInterval }

// ShouldCheck reports whether this source is due for a poll.
func (s *SECEdgarSource) ShouldCheck(now time.Time) bool {
	return s.Base.ShouldCheck(now, s.CheckInterval())
}

func (s *SECEdgarSource) filingsURL() string {
	url := s.baseURL + "/filings/current"
	if s.apiKey != "" {
		url += "?api_key=" + s.apiKey
	}
	return url
}

// CheckForChanges fetches recent filings, filters by form type, and
// builds one RegulatoryChange per strictly-new filing (by accession
// cursor order).
func (s *SECEdgarSource) CheckForChanges(ctx context.Context) ([]model.RegulatoryChange, error) {
	defer s.UpdateLastCheckTime(time.Now())

	filings, err := s.fetchRecentFilings(ctx)
	if err != nil {
		s.RecordFailure()
		return nil, err
	}

	var changes []model.RegulatoryChange
	newest := s.lastAccession
	for _, f := range filings {
		if !secFormTypes[f.FormType] {
			continue
		}
		if !s.isNewFiling(f) {
			continue
		}
		changes = append(changes, s.buildChange(f))
		if f.AccessionNumber > newest {
			newest = f.AccessionNumber
		}
	}

	if newest != s.lastAccession {
		s.lastAccession = newest
		if err := s.states.PersistState(ctx, s.SourceID(), "last_accession", newest); err != nil {
			s.log.WithField("source", s.SourceID()).Errorf("failed to persist SEC cursor: %v", err)
		}
	}

	s.RecordSuccess()
	return changes, nil
}

func (s *SECEdgarSource) fetchRecentFilings(ctx context.Context) ([]secFiling, error) {
	var filings []secFiling
	err := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
		return s.breaker.Execute(ctx, func() error {
			resp, err := s.client.Get(ctx, s.filingsURL(), http.Header{"Accept": []string{"application/json"}})
			if err != nil {
				return err
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return fmt.Errorf("unexpected status %d", resp.StatusCode)
			}
			var parsed secFilingsResponse
			if err := json.Unmarshal(resp.Body, &parsed); err != nil {
				return err
			}
			filings = parsed.Filings
			return nil
		})
	})
	return filings, err
}

func (s *SECEdgarSource) isNewFiling(f secFiling) bool {
	return s.lastAccession == "" || f.AccessionNumber > s.lastAccession
}

func (s *SECEdgarSource) determineSeverity(formType string) model.ImpactLevel {
	switch formType {
	case "8-K":
		return model.ImpactHigh
	case "10-K", "10-Q":
		return model.ImpactMedium
	default:
		return model.ImpactLow
	}
}

// buildChange attaches the source's form-type severity mapping as the
// change's initial Analysis. The full agentic analysis layer is out of
// scope (spec.md Non-goals); this coarse impact classification is the
// only analysis this platform produces on its own, so it advances status
// to ANALYZED immediately, keeping the analyzed_at/analysis/status
// invariant consistent.
func (s *SECEdgarSource) buildChange(f secFiling) model.RegulatoryChange {
	detected := time.Now().UTC()
	return model.RegulatoryChange{
		ChangeID:   fmt.Sprintf("reg_change_%d_%s", detected.UnixMicro(), f.AccessionNumber),
		SourceID:   s.SourceID(),
		Title:      fmt.Sprintf("%s filing from %s: %s", f.FormType, f.CompanyName, f.Description),
		ContentURL: f.FilingHREF,
		Metadata: model.Metadata{
			RegulatoryBody: "SEC",
			DocumentType:   "release",
			DocumentNumber: f.AccessionNumber,
		},
		Status:     model.StatusAnalyzed,
		DetectedAt: detected,
		AnalyzedAt: &detected,
		Analysis: &model.Analysis{
			ImpactLevel:       s.determineSeverity(f.FormType),
			AnalysisTimestamp: detected,
		},
	}
}
