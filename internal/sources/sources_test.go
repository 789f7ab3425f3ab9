package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regulens/platform/internal/config"
	"github.com/regulens/platform/internal/model"
	"github.com/regulens/platform/pkg/logger"
)

// fakeStateStore is an in-memory StateStore for tests.
type fakeStateStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{values: make(map[string]string)}
}

func (f *fakeStateStore) PersistState(_ context.Context, sourceID, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[sourceID+"/"+key] = value
	return nil
}

func (f *fakeStateStore) LoadState(_ context.Context, sourceID, key, defaultValue string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.values[sourceID+"/"+key]; ok {
		return v, nil
	}
	return defaultValue, nil
}

func testLogger() *logger.Logger { return logger.NewDefault("test") }

func TestSECEdgarSource_CheckForChanges_FiltersAndDedups(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"filings":[
			{"accessionNumber":"0001-01","formType":"8-K","companyName":"Acme","filingHref":"https://x/1","description":"d1"},
			{"accessionNumber":"0001-02","formType":"NOISE","companyName":"Acme","filingHref":"https://x/2","description":"d2"}
		]}`))
	}))
	defer server.Close()

	states := newFakeStateStore()
	src := NewSECEdgarSource(server.URL, "", states, testLogger())
	require.NoError(t, src.Initialize(context.Background()))

	changes, err := src.CheckForChanges(context.Background())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, model.StatusAnalyzed, changes[0].Status)
	assert.NotNil(t, changes[0].Analysis)
	assert.Equal(t, model.ImpactHigh, changes[0].Analysis.ImpactLevel)

	// Second call with nothing new yields no changes.
	changes, err = src.CheckForChanges(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestFCASource_SeverityMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"updates":[
			{"timestamp":"2026-01-01T00:00:00Z","update_type":"emergency","title":"t1","url":"https://x/1"},
			{"timestamp":"2026-01-02T00:00:00Z","update_type":"policy","title":"t2","url":"https://x/2"}
		]}`))
	}))
	defer server.Close()

	states := newFakeStateStore()
	src := NewFCASource(server.URL, "", states, testLogger())
	require.NoError(t, src.Initialize(context.Background()))

	changes, err := src.CheckForChanges(context.Background())
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, model.ImpactHigh, changes[0].Analysis.ImpactLevel)
	assert.Equal(t, model.ImpactMedium, changes[1].Analysis.ImpactLevel)
}

func TestECBSource_StopsAtSeenHash(t *testing.T) {
	feed := `<rss><channel>
		<item><title>Press 2</title><link>https://ecb/2</link></item>
		<item><title>Press 1</title><link>https://ecb/1</link></item>
	</channel></rss>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(feed))
	}))
	defer server.Close()

	states := newFakeStateStore()
	src := NewECBSource(server.URL, states, testLogger())
	assert.Equal(t, ecbCheckInterval, src.CheckInterval())
	require.NoError(t, src.Initialize(context.Background()))

	changes, err := src.CheckForChanges(context.Background())
	require.NoError(t, err)
	require.Len(t, changes, 2)

	changes, err = src.CheckForChanges(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestCustomFeedSource_JSONFeedWithJSONPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"entries":[
			{"title":"Entry A","url":"https://x/a","type":"advisory"}
		]}}`))
	}))
	defer server.Close()

	cfg := CustomFeedConfig{
		SourceName:    "custom_a",
		FeedURL:       server.URL,
		FeedType:      "json",
		ItemsJSONPath: "$.data.entries",
	}
	states := newFakeStateStore()
	src := NewCustomFeedSource(cfg, states, testLogger())
	require.NoError(t, src.Initialize(context.Background()))

	changes, err := src.CheckForChanges(context.Background())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "Entry A", changes[0].Title)
	assert.Equal(t, "advisory", changes[0].Metadata.DocumentType)
}

func TestParseCustomFeedConfig_DefaultsFeedType(t *testing.T) {
	cfg, err := ParseCustomFeedConfig([]byte("source_name: x\nfeed_url: https://example.test/feed\n"))
	require.NoError(t, err)
	assert.Equal(t, "rss", cfg.FeedType)
}

func TestWebScrapingSource_EmitsOnceThenSuppressesUnchanged(t *testing.T) {
	page := `<html><body><h1>Notice Title</h1><article>Some regulatory text body.</article></body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(page))
	}))
	defer server.Close()

	cfg := WebScrapingConfig{SourceName: "scrape_a", TargetURL: server.URL}
	states := newFakeStateStore()
	src := NewWebScrapingSource(cfg, states, testLogger())
	require.NoError(t, src.Initialize(context.Background()))

	changes, err := src.CheckForChanges(context.Background())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Contains(t, changes[0].Title, "Notice Title")

	changes, err = src.CheckForChanges(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestFactory_NewConfiguredSources_BuildsBuiltins(t *testing.T) {
	cfg := &config.Config{
		SECBaseURL: "https://sec.test",
		FCABaseURL: "https://fca.test",
		ECBFeedURL: "https://ecb.test/rss",
	}
	states := newFakeStateStore()
	built, err := NewConfiguredSources(cfg, states, testLogger())
	require.NoError(t, err)
	require.Len(t, built, 3)

	ids := map[string]bool{}
	for _, s := range built {
		ids[s.SourceID()] = true
	}
	assert.True(t, ids["sec_edgar"])
	assert.True(t, ids["fca_regulatory"])
	assert.True(t, ids["ecb_announcements"])
}
