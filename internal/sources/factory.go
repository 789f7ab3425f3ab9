package sources

import (
	"fmt"
	"os"

	"github.com/regulens/platform/internal/config"
	"github.com/regulens/platform/pkg/logger"
)

// NewConfiguredSources builds the set of built-in sources enabled by cfg,
// plus one CustomFeedSource per entry in cfg.CustomFeedPaths.
func NewConfiguredSources(cfg *config.Config, states StateStore, log *logger.Logger) ([]Source, error) {
	var built []Source

	built = append(built, NewSECEdgarSource(cfg.SECBaseURL, cfg.SECAPIKey, states, log))
	built = append(built, NewFCASource(cfg.FCABaseURL, "", states, log))
	built = append(built, NewECBSource(cfg.ECBFeedURL, states, log))

	for _, path := range cfg.CustomFeedPaths {
		custom, err := NewCustomSourceFromFile(path, states, log)
		if err != nil {
			return nil, fmt.Errorf("loading custom source %q: %w", path, err)
		}
		built = append(built, custom)
	}

	return built, nil
}

// NewCustomSourceFromFile reads a YAML custom-feed definition from disk
// and constructs the matching source. Web-scraping sources are declared
// with feed_type "scrape" in the same YAML shape as CustomFeedConfig, with
// feed_url as the target page. That shape has no selector fields, so a
// scraping source loaded from a file always uses the default //h1 title
// and //article content selectors.
func NewCustomSourceFromFile(path string, states StateStore, log *logger.Logger) (Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := ParseCustomFeedConfig(raw)
	if err != nil {
		return nil, err
	}

	if cfg.FeedType == "scrape" {
		return NewWebScrapingSource(WebScrapingConfig{
			SourceName:     cfg.SourceName,
			TargetURL:      cfg.FeedURL,
			RegulatoryBody: cfg.RegulatoryBody,
		}, states, log), nil
	}

	return NewCustomFeedSource(cfg, states, log), nil
}

// CreateSource builds a single named built-in source by kind, used by
// operators adding a source outside the static configuration file.
func CreateSource(kind string, cfg *config.Config, states StateStore, log *logger.Logger) (Source, error) {
	switch kind {
	case "sec_edgar":
		return NewSECEdgarSource(cfg.SECBaseURL, cfg.SECAPIKey, states, log), nil
	case "fca":
		return NewFCASource(cfg.FCABaseURL, "", states, log), nil
	case "ecb":
		return NewECBSource(cfg.ECBFeedURL, states, log), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
}
