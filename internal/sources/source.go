// Package sources implements the pluggable regulatory source abstraction
// and its concrete pollers: SEC EDGAR, FCA, ECB, custom feeds, and web
// scraping.
package sources

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/regulens/platform/internal/model"
)

// StateStore persists a source's cursor across restarts. Implementations
// back onto the knowledge base's relational store
// (regulatory_source_state); a single write is atomic per key.
type StateStore interface {
	PersistState(ctx context.Context, sourceID, key, value string) error
	LoadState(ctx context.Context, sourceID, key, defaultValue string) (string, error)
}

// Source is the abstract regulatory-source contract every concrete
// poller implements.
type Source interface {
	Initialize(ctx context.Context) error
	CheckForChanges(ctx context.Context) ([]model.RegulatoryChange, error)
	Configuration() map[string]any
	TestConnectivity(ctx context.Context) bool
	CheckInterval() time.Duration
	ShouldCheck(now time.Time) bool
	RecordSuccess()
	RecordFailure()
	SourceID() string
	Name() string
}

// Base provides the common bookkeeping (active flag, last-check time,
// consecutive failures) every concrete source embeds. Concrete sources
// implement Initialize/CheckForChanges/Configuration/TestConnectivity as
// well as CheckInterval and the one-argument ShouldCheck(now), which Base
// does not provide; its own ShouldCheck takes the interval explicitly.
type Base struct {
	id   string
	name string

	mu                 sync.RWMutex
	active             bool
	lastCheckTime      time.Time
	consecutiveFailure int64
}

// NewBase constructs a Base, active by default, with lastCheckTime set to
// now so the first ShouldCheck waits a full interval.
func NewBase(id, name string) Base {
	return Base{id: id, name: name, active: true, lastCheckTime: time.Now()}
}

// SourceID returns the stable source identifier.
func (b *Base) SourceID() string { return b.id }

// Name returns the human-readable source name.
func (b *Base) Name() string { return b.name }

// IsActive reports whether this source is currently polled.
func (b *Base) IsActive() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// SetActive toggles whether this source is polled.
func (b *Base) SetActive(active bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = active
}

// UpdateLastCheckTime records now as the last check time.
func (b *Base) UpdateLastCheckTime(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastCheckTime = now
}

// LastCheckTime returns the last time this source was polled.
func (b *Base) LastCheckTime() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastCheckTime
}

// ConsecutiveFailures returns the number of consecutive failed cycles.
func (b *Base) ConsecutiveFailures() int64 {
	return atomic.LoadInt64(&b.consecutiveFailure)
}

// RecordSuccess resets the consecutive-failure counter.
func (b *Base) RecordSuccess() {
	atomic.StoreInt64(&b.consecutiveFailure, 0)
}

// RecordFailure increments the consecutive-failure counter. The spec
// leaves automatic deactivation as policy (Open Question, resolved in
// DESIGN.md): Base never flips active itself; the monitor loop may choose
// to call SetActive(false) once ConsecutiveFailures crosses its own
// threshold.
func (b *Base) RecordFailure() {
	atomic.AddInt64(&b.consecutiveFailure, 1)
}

// ShouldCheck reports whether this source is active and its check
// interval has elapsed since the last check.
func (b *Base) ShouldCheck(now time.Time, interval time.Duration) bool {
	if !b.IsActive() {
		return false
	}
	return now.Sub(b.LastCheckTime()) >= interval
}

const defaultCheckInterval = 300 * time.Second
