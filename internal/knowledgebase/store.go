// Package knowledgebase is the content-addressed store of record for
// RegulatoryChange aggregates: an in-memory map for hot reads, four
// secondary indexes rebuilt from storage, and a relational table for
// durability.
package knowledgebase

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/regulens/platform/internal/model"
	"github.com/regulens/platform/internal/regerrors"
	"github.com/regulens/platform/internal/sources"
	"github.com/regulens/platform/pkg/logger"
	"github.com/regulens/platform/pkg/pgnotify"
)

const defaultMaxChangesInMemory = 10000

var _ sources.StateStore = (*KnowledgeBase)(nil)

// Stats mirrors get_statistics()/get_monitoring_stats() counters.
type Stats struct {
	ChangesStored        int64
	ChangesUpdated       int64
	SearchesServed       int64
	EvictionsFromMemory  int64
	PersistenceFailures  int64
}

// KnowledgeBase is the content-addressed store of RegulatoryChange
// records.
//
// Lock ordering: storageMu is always acquired before indexMu. statsMu is
// never held while either is held. A caller acquiring storageMu then
// indexMu and one acquiring indexMu then storageMu would deadlock; every
// method in this package respects the storage-before-index order.
type KnowledgeBase struct {
	db  *sqlx.DB
	log *logger.Logger

	storageMu sync.RWMutex
	changes   map[string]model.RegulatoryChange

	indexMu  sync.RWMutex
	byWord   map[string]map[string]bool
	byImpact map[string]map[string]bool
	byDomain map[string]map[string]bool
	byBody   map[string]map[string]bool
	lru      *lruTracker

	statsMu sync.Mutex
	stats   Stats

	notifyBus *pgnotify.Bus
}

// New builds a KnowledgeBase. db may be nil, in which case the store
// operates purely in memory (used by tests and by callers that have not
// wired a database yet).
func New(db *sql.DB, maxInMemory int, log *logger.Logger) *KnowledgeBase {
	if maxInMemory <= 0 {
		maxInMemory = defaultMaxChangesInMemory
	}
	var sx *sqlx.DB
	if db != nil {
		sx = sqlx.NewDb(db, "postgres")
	}
	return &KnowledgeBase{
		db:       sx,
		log:      log,
		changes:  make(map[string]model.RegulatoryChange),
		byWord:   make(map[string]map[string]bool),
		byImpact: make(map[string]map[string]bool),
		byDomain: make(map[string]map[string]bool),
		byBody:   make(map[string]map[string]bool),
		lru:      newLRUTracker(maxInMemory),
	}
}

// StoreRegulatoryChange upserts change: on conflict, only the analysis
// and status columns are updated, matching the immutability of
// change_id/source_id/title/content_url after detection. Durability
// failures are logged and counted but do not fail the call: the
// in-memory operation has already succeeded.
func (kb *KnowledgeBase) StoreRegulatoryChange(ctx context.Context, change model.RegulatoryChange) (bool, error) {
	if change.ChangeID == "" {
		return false, &regerrors.InvariantViolationError{Detail: "change_id required"}
	}

	kb.storageMu.Lock()
	existing, hadExisting := kb.changes[change.ChangeID]
	if hadExisting && existing.SourceID != change.SourceID {
		kb.storageMu.Unlock()
		return false, &regerrors.InvariantViolationError{
			Detail: "change_id " + change.ChangeID + " already bound to source_id " + existing.SourceID,
		}
	}
	kb.changes[change.ChangeID] = change
	kb.storageMu.Unlock()

	kb.indexMu.Lock()
	if hadExisting {
		kb.removeFromIndexLocked(existing)
	}
	kb.indexChangeLocked(change)
	kb.lru.Touch(change.ChangeID)
	kb.indexMu.Unlock()

	kb.evictOverflow()

	kb.statsMu.Lock()
	kb.stats.ChangesStored++
	if hadExisting {
		kb.stats.ChangesUpdated++
	}
	kb.statsMu.Unlock()

	if err := kb.upsertDB(ctx, change); err != nil {
		kb.statsMu.Lock()
		kb.stats.PersistenceFailures++
		kb.statsMu.Unlock()
		if kb.log != nil {
			kb.log.WithField("change_id", change.ChangeID).Warnf("knowledge base persistence failed: %v", err)
		}
		return true, &regerrors.PersistenceError{Op: "store_regulatory_change", Err: err}
	}

	return true, nil
}

// GetRegulatoryChange looks up changeID in memory first, falling back to
// the relational table and repopulating memory/indexes on a hit.
func (kb *KnowledgeBase) GetRegulatoryChange(ctx context.Context, changeID string) (model.RegulatoryChange, bool, error) {
	kb.storageMu.RLock()
	if c, ok := kb.changes[changeID]; ok {
		kb.storageMu.RUnlock()
		kb.indexMu.Lock()
		kb.lru.Touch(changeID)
		kb.indexMu.Unlock()
		return c, true, nil
	}
	kb.storageMu.RUnlock()

	if kb.db == nil {
		return model.RegulatoryChange{}, false, nil
	}

	change, err := kb.fetchRowByID(ctx, changeID)
	if err == sql.ErrNoRows {
		return model.RegulatoryChange{}, false, nil
	}
	if err != nil {
		return model.RegulatoryChange{}, false, &regerrors.PersistenceError{Op: "get_regulatory_change", Err: err}
	}

	kb.storageMu.Lock()
	kb.changes[changeID] = change
	kb.storageMu.Unlock()

	kb.indexMu.Lock()
	kb.indexChangeLocked(change)
	kb.lru.Touch(changeID)
	kb.indexMu.Unlock()

	kb.evictOverflow()

	return change, true, nil
}

// UpdateChangeStatus advances change's status, rejecting any transition
// that would regress the monotonic status lattice.
func (kb *KnowledgeBase) UpdateChangeStatus(ctx context.Context, changeID string, next model.Status) error {
	kb.storageMu.Lock()
	change, ok := kb.changes[changeID]
	if !ok {
		kb.storageMu.Unlock()
		return sql.ErrNoRows
	}
	if err := change.AdvanceStatus(next); err != nil {
		kb.storageMu.Unlock()
		return &regerrors.InvariantViolationError{Detail: err.Error()}
	}
	kb.changes[changeID] = change
	kb.storageMu.Unlock()

	if err := kb.upsertDB(ctx, change); err != nil {
		kb.statsMu.Lock()
		kb.stats.PersistenceFailures++
		kb.statsMu.Unlock()
		return &regerrors.PersistenceError{Op: "update_change_status", Err: err}
	}
	return nil
}

// Clear truncates both the in-memory store and, if wired, the backing
// table.
func (kb *KnowledgeBase) Clear(ctx context.Context) error {
	kb.storageMu.Lock()
	kb.changes = make(map[string]model.RegulatoryChange)
	kb.storageMu.Unlock()

	kb.indexMu.Lock()
	kb.byWord = make(map[string]map[string]bool)
	kb.byImpact = make(map[string]map[string]bool)
	kb.byDomain = make(map[string]map[string]bool)
	kb.byBody = make(map[string]map[string]bool)
	capacity := kb.lru.capacity
	kb.lru = newLRUTracker(capacity)
	kb.indexMu.Unlock()

	if kb.db == nil {
		return nil
	}
	if _, err := kb.db.ExecContext(ctx, `DELETE FROM regulatory_changes`); err != nil {
		return &regerrors.PersistenceError{Op: "clear", Err: err}
	}
	return nil
}

// PinInFlight excludes changeID from LRU eviction while an event
// referencing it is in flight through the bus.
func (kb *KnowledgeBase) PinInFlight(changeID string) {
	kb.indexMu.Lock()
	kb.lru.Pin(changeID)
	kb.indexMu.Unlock()
}

// UnpinInFlight releases a pin taken by PinInFlight.
func (kb *KnowledgeBase) UnpinInFlight(changeID string) {
	kb.indexMu.Lock()
	kb.lru.Unpin(changeID)
	kb.indexMu.Unlock()
}

func (kb *KnowledgeBase) evictOverflow() {
	kb.indexMu.Lock()
	candidates := kb.lru.EvictionCandidates()
	kb.indexMu.Unlock()
	if len(candidates) == 0 {
		return
	}

	kb.storageMu.Lock()
	kb.indexMu.Lock()
	evicted := 0
	for _, id := range candidates {
		if c, ok := kb.changes[id]; ok {
			kb.removeFromIndexLocked(c)
			delete(kb.changes, id)
			kb.lru.Remove(id)
			evicted++
		}
	}
	kb.indexMu.Unlock()
	kb.storageMu.Unlock()

	if evicted == 0 {
		return
	}
	kb.statsMu.Lock()
	kb.stats.EvictionsFromMemory += int64(evicted)
	kb.statsMu.Unlock()
}

// GetStatistics reports cumulative counters for the ambient status
// endpoint.
func (kb *KnowledgeBase) GetStatistics() map[string]any {
	kb.statsMu.Lock()
	stats := kb.stats
	kb.statsMu.Unlock()

	kb.storageMu.RLock()
	inMemory := len(kb.changes)
	kb.storageMu.RUnlock()

	return map[string]any{
		"changes_stored":        stats.ChangesStored,
		"changes_updated":       stats.ChangesUpdated,
		"searches_served":       stats.SearchesServed,
		"evictions_from_memory": stats.EvictionsFromMemory,
		"persistence_failures":  stats.PersistenceFailures,
		"changes_in_memory":     inMemory,
	}
}

// PersistState implements sources.StateStore against
// regulatory_source_state.
func (kb *KnowledgeBase) PersistState(ctx context.Context, sourceID, key, value string) error {
	if kb.db == nil {
		return nil
	}
	_, err := kb.db.ExecContext(ctx, `
		INSERT INTO regulatory_source_state (source_id, state_key, state_value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_id, state_key) DO UPDATE SET state_value = $3, updated_at = $4
	`, sourceID, key, value, time.Now().UTC())
	if err != nil {
		return &regerrors.PersistenceError{Op: "persist_state", Err: err}
	}
	return nil
}

// LoadState implements sources.StateStore against
// regulatory_source_state, returning defaultValue when absent.
func (kb *KnowledgeBase) LoadState(ctx context.Context, sourceID, key, defaultValue string) (string, error) {
	if kb.db == nil {
		return defaultValue, nil
	}
	var value string
	err := kb.db.QueryRowContext(ctx, `
		SELECT state_value FROM regulatory_source_state WHERE source_id = $1 AND state_key = $2
	`, sourceID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return defaultValue, nil
	}
	if err != nil {
		return defaultValue, &regerrors.PersistenceError{Op: "load_state", Err: err}
	}
	return value, nil
}

func sortByDetectedAtDesc(changes []model.RegulatoryChange) {
	sort.Slice(changes, func(i, j int) bool { return changes[i].DetectedAt.After(changes[j].DetectedAt) })
}
