package sources

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/regulens/platform/internal/httpclient"
	"github.com/regulens/platform/internal/model"
	"github.com/regulens/platform/internal/parser"
	"github.com/regulens/platform/internal/resilience"
	"github.com/regulens/platform/pkg/logger"
)

// CustomFeedConfig describes a user-configured feed, loadable from YAML.
type CustomFeedConfig struct {
	SourceName        string `yaml:"source_name"`
	FeedURL           string `yaml:"feed_url"`
	FeedType          string `yaml:"feed_type"` // rss, atom, json
	ItemsJSONPath     string `yaml:"items_json_path"`
	RegulatoryBody    string `yaml:"regulatory_body"`
	DefaultChangeType string `yaml:"default_change_type"`
	DefaultSeverity   string `yaml:"default_severity"`
	CheckIntervalSecs int    `yaml:"check_interval_seconds"`
}

// ParseCustomFeedConfig decodes a single custom feed definition from YAML.
func ParseCustomFeedConfig(raw []byte) (CustomFeedConfig, error) {
	var cfg CustomFeedConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return CustomFeedConfig{}, err
	}
	if cfg.FeedType == "" {
		cfg.FeedType = "rss"
	}
	return cfg, nil
}

// CustomFeedSource polls a user-configured RSS, Atom, or JSON feed.
type CustomFeedSource struct {
	Base

	client   *httpclient.Client
	breaker  *resilience.CircuitBreaker
	states   StateStore
	log      *logger.Logger
	cfg      CustomFeedConfig
	interval time.Duration
	seen     string
}

// NewCustomFeedSource constructs a source for cfg.
func NewCustomFeedSource(cfg CustomFeedConfig, states StateStore, log *logger.Logger) *CustomFeedSource {
	interval := defaultCheckInterval
	if cfg.CheckIntervalSecs > 0 {
		interval = time.Duration(cfg.CheckIntervalSecs) * time.Second
	}
	id := cfg.SourceName
	if id == "" {
		id = "custom_feed"
	}
	return &CustomFeedSource{
		Base:     NewBase(id, "Custom Feed: "+id),
		client:   httpclient.New(httpclient.DefaultConfig()),
		breaker:  resilience.New(resilience.DefaultConfig()),
		states:   states,
		log:      log,
		cfg:      cfg,
		interval: interval,
	}
}

// Initialize loads the persisted dedup cursor.
func (s *CustomFeedSource) Initialize(ctx context.Context) error {
	cursor, err := s.states.LoadState(ctx, s.SourceID(), "last_item_hash", "")
	if err != nil {
		return err
	}
	s.seen = cursor
	return nil
}

// Configuration reports the current source configuration.
func (s *CustomFeedSource) Configuration() map[string]any {
	return map[string]any{
		"source_id": s.SourceID(),
		"feed_url":  s.cfg.FeedURL,
		"feed_type": s.cfg.FeedType,
	}
}

// TestConnectivity reports whether the feed URL is reachable.
func (s *CustomFeedSource) TestConnectivity(ctx context.Context) bool {
	resp, err := s.client.Get(ctx, s.cfg.FeedURL, nil)
	if err != nil {
		return false
	}
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnauthorized
}

// CheckInterval reports the configured (or default) polling cadence.
func (s *CustomFeedSource) CheckInterval() time.Duration { return s.interval }

// ShouldCheck reports whether this source is due for a poll.
func (s *CustomFeedSource) ShouldCheck(now time.Time) bool {
	return s.Base.ShouldCheck(now, s.CheckInterval())
}

// customItem normalizes RSS/Atom/JSON items to a common shape for dedup
// and change construction.
type customItem struct {
	title       string
	description string
	url         string
	changeType  string
	severity    string
}

// CheckForChanges fetches the configured feed and builds one
// RegulatoryChange per item not yet seen.
func (s *CustomFeedSource) CheckForChanges(ctx context.Context) ([]model.RegulatoryChange, error) {
	defer s.UpdateLastCheckTime(time.Now())

	items, err := s.fetchItems(ctx)
	if err != nil {
		s.RecordFailure()
		return nil, err
	}

	var changes []model.RegulatoryChange
	var newestHash string
	for i, item := range items {
		h := hashTitleLink(item.title, item.url)
		if i == 0 {
			newestHash = h
		}
		if h == s.seen {
			break
		}
		changes = append(changes, s.buildChange(item))
	}

	if newestHash != "" && newestHash != s.seen {
		s.seen = newestHash
		if err := s.states.PersistState(ctx, s.SourceID(), "last_item_hash", newestHash); err != nil {
			s.log.WithField("source", s.SourceID()).Errorf("failed to persist custom feed cursor: %v", err)
		}
	}

	s.RecordSuccess()
	return changes, nil
}

func (s *CustomFeedSource) fetchItems(ctx context.Context) ([]customItem, error) {
	var items []customItem
	err := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
		return s.breaker.Execute(ctx, func() error {
			resp, err := s.client.Get(ctx, s.cfg.FeedURL, nil)
			if err != nil {
				return err
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return fmt.Errorf("unexpected status %d", resp.StatusCode)
			}

			switch s.cfg.FeedType {
			case "json":
				parsed, err := parser.ParseJSONItems(resp.Body, s.cfg.ItemsJSONPath)
				if err != nil {
					return err
				}
				for _, p := range parsed {
					items = append(items, customItem{
						title:       p.Title,
						description: p.Description,
						url:         p.URL,
						changeType:  firstNonEmpty(p.Type, s.cfg.DefaultChangeType),
						severity:    firstNonEmpty(p.Severity, s.cfg.DefaultSeverity),
					})
				}
			default: // rss, atom
				parsed, err := parser.ParseFeedItems(resp.Body)
				if err != nil {
					return err
				}
				for _, p := range parsed {
					items = append(items, customItem{
						title:       p.Title,
						description: p.Description,
						url:         p.Link,
						changeType:  s.cfg.DefaultChangeType,
						severity:    s.cfg.DefaultSeverity,
					})
				}
			}
			return nil
		})
	})
	return items, err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (s *CustomFeedSource) buildChange(item customItem) model.RegulatoryChange {
	detected := time.Now().UTC()
	return model.RegulatoryChange{
		ChangeID:   fmt.Sprintf("reg_change_%d_%s", detected.UnixMicro(), hashTitleLink(item.title, item.url)[:12]),
		SourceID:   s.SourceID(),
		Title:      item.title,
		ContentURL: item.url,
		Metadata: model.Metadata{
			RegulatoryBody: s.cfg.RegulatoryBody,
			DocumentType:   item.changeType,
		},
		Status:     model.StatusDetected,
		DetectedAt: detected,
	}
}
