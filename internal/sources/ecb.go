package sources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/regulens/platform/internal/httpclient"
	"github.com/regulens/platform/internal/model"
	"github.com/regulens/platform/internal/parser"
	"github.com/regulens/platform/internal/resilience"
	"github.com/regulens/platform/pkg/logger"
)

const ecbCheckInterval = 900 * time.Second

// ECBSource polls the ECB announcements RSS feed, deduplicating by
// sha256(title+link).
type ECBSource struct {
	Base

	client  *httpclient.Client
	breaker *resilience.CircuitBreaker
	states  StateStore
	log     *logger.Logger
	feedURL string
	seen    string // hash of the most recently processed item
}

// NewECBSource constructs the ECB announcements RSS source.
func NewECBSource(feedURL string, states StateStore, log *logger.Logger) *ECBSource {
	if feedURL == "" {
		feedURL = "https://www.ecb.europa.eu/rss/press.xml"
	}
	return &ECBSource{
		Base:    NewBase("ecb_announcements", "ECB Announcements RSS"),
		client:  httpclient.New(httpclient.DefaultConfig()),
		breaker: resilience.New(resilience.DefaultConfig()),
		states:  states,
		log:     log,
		feedURL: feedURL,
	}
}

// Initialize loads the persisted dedup hash cursor.
func (s *ECBSource) Initialize(ctx context.Context) error {
	cursor, err := s.states.LoadState(ctx, s.SourceID(), "last_item_hash", "")
	if err != nil {
		return err
	}
	s.seen = cursor
	return nil
}

// Configuration reports the current source configuration.
func (s *ECBSource) Configuration() map[string]any {
	return map[string]any{"source_id": s.SourceID(), "feed_url": s.feedURL}
}

// TestConnectivity reports whether the RSS feed is reachable.
func (s *ECBSource) TestConnectivity(ctx context.Context) bool {
	resp, err := s.client.Get(ctx, s.feedURL, nil)
	if err != nil {
		return false
	}
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnauthorized
}

// CheckInterval overrides the default to 900s for RSS feeds.
func (s *ECBSource) CheckInterval() time.Duration { return ecbCheckInterval }

// ShouldCheck reports whether this source is due for a poll.
func (s *ECBSource) ShouldCheck(now time.Time) bool {
	return s.Base.ShouldCheck(now, s.CheckInterval())
}

// CheckForChanges fetches the RSS feed and builds one RegulatoryChange
// per item not yet seen, stopping dedup at the first previously-seen
// hash (items arrive newest-first).
func (s *ECBSource) CheckForChanges(ctx context.Context) ([]model.RegulatoryChange, error) {
	defer s.UpdateLastCheckTime(time.Now())

	items, err := s.fetchItems(ctx)
	if err != nil {
		s.RecordFailure()
		return nil, err
	}

	var changes []model.RegulatoryChange
	var newestHash string
	for i, item := range items {
		h := hashTitleLink(item.Title, item.Link)
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
			s.log.WithField("source", s.SourceID()).Errorf("failed to persist ECB cursor: %v", err)
		}
	}

	s.RecordSuccess()
	return changes, nil
}

func (s *ECBSource) fetchItems(ctx context.Context) ([]parser.FeedItem, error) {
	var items []parser.FeedItem
	err := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
		return s.breaker.Execute(ctx, func() error {
			resp, err := s.client.Get(ctx, s.feedURL, nil)
			if err != nil {
				return err
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return fmt.Errorf("unexpected status %d", resp.StatusCode)
			}
			parsed, err := parser.ParseFeedItems(resp.Body)
			if err != nil {
				return err
			}
			items = parsed
			return nil
		})
	})
	return items, err
}

func hashTitleLink(title, link string) string {
	sum := sha256.Sum256([]byte(title + link))
	return hex.EncodeToString(sum[:])
}

func (s *ECBSource) buildChange(item parser.FeedItem) model.RegulatoryChange {
	detected := time.Now().UTC()
	return model.RegulatoryChange{
		ChangeID:   fmt.Sprintf("reg_change_%d_%s", detected.UnixMicro(), hashTitleLink(item.Title, item.Link)[:12]),
		SourceID:   s.SourceID(),
		Title:      item.Title,
		ContentURL: item.Link,
		Metadata: model.Metadata{
			RegulatoryBody: "ECB",
			DocumentType:   "release",
		},
		Status:     model.StatusDetected,
		DetectedAt: detected,
	}
}
