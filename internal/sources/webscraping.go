package sources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/regulens/platform/internal/httpclient"
	"github.com/regulens/platform/internal/model"
	"github.com/regulens/platform/internal/resilience"
	"github.com/regulens/platform/pkg/logger"
)

var scrapeWhitespaceRun = regexp.MustCompile(`\s+`)

// xpathText evaluates expr against doc and returns the first matching
// node's inner text, or "" if nothing matches.
func xpathText(doc *html.Node, expr string) string {
	node := htmlquery.FindOne(doc, expr)
	if node == nil {
		return ""
	}
	return htmlquery.InnerText(node)
}

// normalizeWhitespace collapses runs of whitespace to a single space.
func normalizeWhitespace(s string) string {
	return strings.TrimSpace(scrapeWhitespaceRun.ReplaceAllString(s, " "))
}

// WebScrapingConfig describes a page to scrape by XPath selector.
type WebScrapingConfig struct {
	SourceName       string
	TargetURL        string
	TitleSelector    string
	ContentSelector  string
	RegulatoryBody   string
	CheckIntervalSec int
}

func (c *WebScrapingConfig) applyDefaults() {
	if c.TitleSelector == "" {
		c.TitleSelector = "//h1"
	}
	if c.ContentSelector == "" {
		c.ContentSelector = "//article"
	}
}

// WebScrapingSource polls a single page, extracting title/content by
// XPath selector and deduplicating by content hash.
type WebScrapingSource struct {
	Base

	client   *httpclient.Client
	breaker  *resilience.CircuitBreaker
	states   StateStore
	log      *logger.Logger
	cfg      WebScrapingConfig
	interval time.Duration
	lastHash string
}

// NewWebScrapingSource constructs a source for cfg.
func NewWebScrapingSource(cfg WebScrapingConfig, states StateStore, log *logger.Logger) *WebScrapingSource {
	cfg.applyDefaults()
	interval := defaultCheckInterval
	if cfg.CheckIntervalSec > 0 {
		interval = time.Duration(cfg.CheckIntervalSec) * time.Second
	}
	id := cfg.SourceName
	if id == "" {
		id = "web_scraping"
	}
	return &WebScrapingSource{
		Base:     NewBase(id, "Web Scraping: "+id),
		client:   httpclient.New(httpclient.DefaultConfig()),
		breaker:  resilience.New(resilience.DefaultConfig()),
		states:   states,
		log:      log,
		cfg:      cfg,
		interval: interval,
	}
}

// Initialize loads the persisted content-hash cursor and fetches
// robots.txt, logging (but never blocking on) a disallow.
func (s *WebScrapingSource) Initialize(ctx context.Context) error {
	cursor, err := s.states.LoadState(ctx, s.SourceID(), "last_content_hash", "")
	if err != nil {
		return err
	}
	s.lastHash = cursor

	s.checkRobots(ctx)
	return nil
}

func (s *WebScrapingSource) checkRobots(ctx context.Context) {
	robotsURL := robotsTxtURL(s.cfg.TargetURL)
	if robotsURL == "" {
		return
	}
	resp, err := s.client.Get(ctx, robotsURL, nil)
	if err != nil {
		s.log.WithField("source", s.SourceID()).Debugf("robots.txt fetch failed: %v", err)
		return
	}
	if resp.StatusCode == http.StatusOK && strings.Contains(string(resp.Body), "Disallow: /") {
		s.log.WithField("source", s.SourceID()).Warn("robots.txt disallows crawling; continuing per configured source")
	}
}

func robotsTxtURL(target string) string {
	idx := strings.Index(target, "://")
	if idx < 0 {
		return ""
	}
	rest := target[idx+3:]
	host := rest
	if slash := strings.Index(rest, "/"); slash >= 0 {
		host = rest[:slash]
	}
	return target[:idx+3] + host + "/robots.txt"
}

// Configuration reports the current source configuration.
func (s *WebScrapingSource) Configuration() map[string]any {
	return map[string]any{
		"source_id":  s.SourceID(),
		"target_url": s.cfg.TargetURL,
	}
}

// TestConnectivity reports whether the target page is reachable.
func (s *WebScrapingSource) TestConnectivity(ctx context.Context) bool {
	resp, err := s.client.Get(ctx, s.cfg.TargetURL, nil)
	if err != nil {
		return false
	}
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnauthorized
}

// CheckInterval reports the configured (or default) polling cadence.
func (s *WebScrapingSource) CheckInterval() time.Duration { return s.interval }

// ShouldCheck reports whether this source is due for a poll.
func (s *WebScrapingSource) ShouldCheck(now time.Time) bool {
	return s.Base.ShouldCheck(now, s.CheckInterval())
}

// CheckForChanges fetches the target page and emits a single
// RegulatoryChange if the extracted content hash differs from the last
// seen value.
func (s *WebScrapingSource) CheckForChanges(ctx context.Context) ([]model.RegulatoryChange, error) {
	defer s.UpdateLastCheckTime(time.Now())

	title, body, err := s.fetchPage(ctx)
	if err != nil {
		s.RecordFailure()
		return nil, err
	}

	hash := contentHash(title, body)
	if hash == s.lastHash {
		s.RecordSuccess()
		return nil, nil
	}

	s.lastHash = hash
	if err := s.states.PersistState(ctx, s.SourceID(), "last_content_hash", hash); err != nil {
		s.log.WithField("source", s.SourceID()).Errorf("failed to persist scrape cursor: %v", err)
	}

	s.RecordSuccess()
	return []model.RegulatoryChange{s.buildChange(title, body)}, nil
}

func (s *WebScrapingSource) fetchPage(ctx context.Context) (title, body string, err error) {
	err = resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
		return s.breaker.Execute(ctx, func() error {
			resp, e := s.client.Get(ctx, s.cfg.TargetURL, nil)
			if e != nil {
				return e
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return fmt.Errorf("unexpected status %d", resp.StatusCode)
			}
			doc, e := htmlquery.Parse(strings.NewReader(string(resp.Body)))
			if e != nil {
				return e
			}
			title = xpathText(doc, s.cfg.TitleSelector)
			body = xpathText(doc, s.cfg.ContentSelector)
			if body == "" {
				body = htmlquery.InnerText(doc)
			}
			return nil
		})
	})
	return title, body, err
}

func contentHash(title, body string) string {
	sum := sha256.Sum256([]byte(title + "|" + body))
	return hex.EncodeToString(sum[:])
}

func (s *WebScrapingSource) buildChange(title, body string) model.RegulatoryChange {
	detected := time.Now().UTC()
	return model.RegulatoryChange{
		ChangeID:   fmt.Sprintf("reg_change_%d_%s", detected.UnixMicro(), contentHash(title, body)[:12]),
		SourceID:   s.SourceID(),
		Title:      normalizeWhitespace(title),
		ContentURL: s.cfg.TargetURL,
		Metadata: model.Metadata{
			RegulatoryBody: s.cfg.RegulatoryBody,
			DocumentType:   "scraped_page",
		},
		Status:     model.StatusDetected,
		DetectedAt: detected,
	}
}
