// Package monitor runs the outer polling loop that drives every
// configured regulatory source, stores detected changes in the knowledge
// base, and publishes REGULATORY_CHANGE_DETECTED events on the bus.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/regulens/platform/internal/eventbus"
	"github.com/regulens/platform/internal/knowledgebase"
	"github.com/regulens/platform/internal/model"
	"github.com/regulens/platform/internal/sources"
	"github.com/regulens/platform/pkg/logger"
)

const defaultCheckInterval = 30 * time.Second

// maxConsecutiveFailures deactivates a source automatically once its
// failure streak crosses this threshold, resolving the Open Question
// Base.RecordFailure leaves to its caller.
const maxConsecutiveFailures = 10

// Stats aggregates per-cycle counters across every source, reset never:
// these are cumulative since process start.
type Stats struct {
	SourcesChecked    int64
	ChangesDetected   int64
	ErrorsEncountered int64
}

// Monitor owns the active source set and holds the knowledge base and
// event bus as constructor-injected collaborators; neither the bus nor
// the knowledge base holds a reference back to the monitor.
type Monitor struct {
	log           *logger.Logger
	kb            *knowledgebase.KnowledgeBase
	bus           *eventbus.Bus
	checkInterval time.Duration

	mu       sync.RWMutex
	active   []sources.Source
	cronIDs  map[string]cron.EntryID
	lastFire map[string]time.Time

	cron *cron.Cron

	statsMu sync.Mutex
	stats   Stats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config controls monitor construction.
type Config struct {
	CheckInterval time.Duration
	// CronSchedules optionally maps a source_id to a 5-field cron
	// expression. A source absent from this map falls back purely to its
	// own ShouldCheck interval gating.
	CronSchedules map[string]string
}

// New builds a Monitor over the given sources.
func New(cfg Config, active []sources.Source, kb *knowledgebase.KnowledgeBase, bus *eventbus.Bus, log *logger.Logger) (*Monitor, error) {
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	m := &Monitor{
		log:           log,
		kb:            kb,
		bus:           bus,
		checkInterval: interval,
		active:        active,
		cronIDs:       make(map[string]cron.EntryID),
		lastFire:      make(map[string]time.Time),
		cron:          cron.New(),
	}

	for sourceID, expr := range cfg.CronSchedules {
		id, err := m.cron.AddFunc(expr, func() {})
		if err != nil {
			return nil, err
		}
		m.cronIDs[sourceID] = id
	}

	return m, nil
}

// Start runs the polling loop in a background goroutine until the
// context is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.cron.Start()

	m.wg.Add(1)
	go m.run(runCtx)
}

// Stop requests the polling loop exit and blocks until it has.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.cron.Stop()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick runs one outer sweep: every active source whose ShouldCheck gate
// (optionally composed with a cron schedule) is satisfied gets polled
// once.
func (m *Monitor) tick(ctx context.Context) {
	m.mu.RLock()
	active := make([]sources.Source, len(m.active))
	copy(active, m.active)
	m.mu.RUnlock()

	now := time.Now()
	for _, src := range active {
		if !src.ShouldCheck(now) {
			continue
		}
		if !m.cronDue(src.SourceID(), now) {
			continue
		}
		m.checkSource(ctx, src)
	}
}

// cronDue reports whether sourceID's cron schedule (if any) has fired
// since this source was last checked. Sources without a cron schedule
// are always due, leaving ShouldCheck as the sole gate.
func (m *Monitor) cronDue(sourceID string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.cronIDs[sourceID]
	if !ok {
		return true
	}
	entry := m.cron.Entry(id)
	if entry.Prev.IsZero() {
		return false
	}
	last := m.lastFire[sourceID]
	if entry.Prev.After(last) {
		m.lastFire[sourceID] = entry.Prev
		return true
	}
	return false
}

// deactivatable is satisfied by every concrete source through its
// embedded Base; used to auto-deactivate a source past its failure
// threshold without widening the Source interface itself.
type deactivatable interface {
	ConsecutiveFailures() int64
	SetActive(bool)
}

func (m *Monitor) checkSource(ctx context.Context, src sources.Source) {
	m.statsMu.Lock()
	m.stats.SourcesChecked++
	m.statsMu.Unlock()

	changes, err := src.CheckForChanges(ctx)
	if err != nil {
		m.statsMu.Lock()
		m.stats.ErrorsEncountered++
		m.statsMu.Unlock()
		if m.log != nil {
			m.log.WithField("source", src.SourceID()).Errorf("check for changes failed: %v", err)
		}
		if d, ok := src.(deactivatable); ok && d.ConsecutiveFailures() >= maxConsecutiveFailures {
			d.SetActive(false)
			if m.log != nil {
				m.log.WithField("source", src.SourceID()).Warn("deactivating source after repeated failures")
			}
		}
		return
	}

	for _, change := range changes {
		m.handleDetectedChange(ctx, change)
	}
}

// handleDetectedChange stores change in the knowledge base and publishes
// the matching REGULATORY_CHANGE_DETECTED event, regardless of whether
// the store succeeded: a storage failure must not silently drop the
// notification.
func (m *Monitor) handleDetectedChange(ctx context.Context, change model.RegulatoryChange) {
	if _, err := m.kb.StoreRegulatoryChange(ctx, change); err != nil {
		m.statsMu.Lock()
		m.stats.ErrorsEncountered++
		m.statsMu.Unlock()
		if m.log != nil {
			m.log.WithField("change_id", change.ChangeID).Errorf("store regulatory change failed: %v", err)
		}
	}

	m.statsMu.Lock()
	m.stats.ChangesDetected++
	m.statsMu.Unlock()

	event := eventbus.NewRegulatoryChangeDetectedEvent(change)
	if !m.bus.Publish(event) {
		if m.log != nil {
			m.log.WithField("change_id", change.ChangeID).Warn("failed to publish regulatory change event, queue full")
		}
	}
}

// GetStatistics reports cumulative counters aggregated across every source.
func (m *Monitor) GetStatistics() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// ActiveSourceCount reports how many sources this monitor currently
// holds, regardless of their individual active flag.
func (m *Monitor) ActiveSourceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}
