package eventbus

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/regulens/platform/pkg/logger"
)

var errBusRunning = errors.New("cannot change worker thread count while bus is running")

const (
	defaultMaxQueueSize  = 10000
	defaultWorkerThreads = 4
	deadLetterSweep      = 30 * time.Second
	cleanupSweep         = 5 * time.Minute

	// numPriorities is the size of the Priority enumeration (LOW..URGENT);
	// it doubles as the length of Bus.queues, indexed by Priority value.
	numPriorities = 5
)

// Stats mirrors get_statistics(): published, processed, failed, expired,
// dead_lettered, queue_size, active_handlers, stream_handlers,
// worker_threads.
type Stats struct {
	Published      int64
	Processed      int64
	Failed         int64
	Expired        int64
	DeadLettered   int64
	QueueSize      int
	ActiveHandlers int
	StreamHandlers int
	WorkerThreads  int
}

// ChangePinner lets the bus pin a knowledge-base change_id while an
// event referencing it is in flight, so LRU eviction never races a
// publish. Implemented by *knowledgebase.KnowledgeBase; nil is accepted
// (no pinning) for callers that haven't wired a knowledge base.
type ChangePinner interface {
	PinInFlight(changeID string)
	UnpinInFlight(changeID string)
}

// Bus is the event router: five bounded FIFO priority queues drained in
// strict priority order, a worker pool, a dead-letter retry loop, and an
// expiry cleanup loop.
type Bus struct {
	log *logger.Logger
	db  *sql.DB
	pin ChangePinner

	mu             sync.RWMutex
	handlers       map[string]*subscription
	streamHandlers map[string]func(Event)
	running        bool
	workerThreads  int

	// queues holds one bounded FIFO channel per Priority, indexed by the
	// Priority value itself (LOW=0 .. URGENT=4). Workers always drain
	// queues[PriorityUrgent] before queues[PriorityCritical] and so on,
	// so a LOW event only moves while every higher queue is empty.
	queues       [numPriorities]chan Event
	deadLetterMu sync.Mutex
	deadLetter   []Event

	statsMu sync.Mutex
	stats   Stats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config controls bus construction.
type Config struct {
	MaxQueueSize  int
	WorkerThreads int
}

// New builds a Bus. db and pin may both be nil (no persistence, no LRU
// pinning) for tests and for callers that haven't wired them yet.
func New(cfg Config, db *sql.DB, pin ChangePinner, log *logger.Logger) *Bus {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = defaultMaxQueueSize
	}
	if cfg.WorkerThreads <= 0 {
		cfg.WorkerThreads = defaultWorkerThreads
	}
	b := &Bus{
		log:            log,
		db:             db,
		pin:            pin,
		handlers:       make(map[string]*subscription),
		streamHandlers: make(map[string]func(Event)),
		workerThreads:  cfg.WorkerThreads,
	}
	for p := range b.queues {
		b.queues[p] = make(chan Event, cfg.MaxQueueSize)
	}
	return b
}

// priorityIndex clamps p to a valid queues index, defaulting out-of-range
// values (a caller-constructed Event with a Priority outside the
// enumeration) to PriorityNormal rather than panicking.
func priorityIndex(p Priority) int {
	if p < PriorityLow || p > PriorityUrgent {
		return int(PriorityNormal)
	}
	return int(p)
}

// Initialize starts the worker pool and background sweep loops. Calling
// Initialize on an already-running bus is a no-op returning true.
func (b *Bus) Initialize(ctx context.Context) bool {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return true
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true
	workers := b.workerThreads
	b.mu.Unlock()

	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker(runCtx)
	}

	b.wg.Add(2)
	go b.deadLetterLoop(runCtx)
	go b.cleanupLoop(runCtx)

	if b.log != nil {
		b.log.WithField("workers", workers).Info("event bus initialized")
	}
	return true
}

// Shutdown stops the worker pool and background loops, waiting for them
// to drain.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()

	if b.log != nil {
		b.log.Info("event bus shut down")
	}
}

// SetWorkerThreads changes the worker pool size; only valid before
// Initialize (or after Shutdown).
func (b *Bus) SetWorkerThreads(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return errBusRunning
	}
	if n <= 0 {
		n = defaultWorkerThreads
	}
	b.workerThreads = n
	return nil
}

// Publish enqueues event onto its priority's queue, setting its state to
// PUBLISHED. Returns false and increments the failed counter if that
// queue is at capacity.
func (b *Bus) Publish(event Event) bool {
	event.State = StatePublished
	select {
	case b.queues[priorityIndex(event.Priority)] <- event:
		b.statsMu.Lock()
		b.stats.Published++
		b.statsMu.Unlock()
		return true
	default:
		b.statsMu.Lock()
		b.stats.Failed++
		b.statsMu.Unlock()
		if b.log != nil {
			b.log.WithField("event_id", event.EventID).Warn("event queue full, publish dropped")
		}
		return false
	}
}

// PublishBatch publishes each event, returning true only if every
// publish succeeded.
func (b *Bus) PublishBatch(events []Event) bool {
	ok := true
	for _, e := range events {
		if !b.Publish(e) {
			ok = false
		}
	}
	return ok
}

// Subscribe registers handler with an optional filter and returns its
// generated handler_id.
func (b *Bus) Subscribe(handler Handler, filter Filter) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.handlers[id] = &subscription{id: id, handler: handler, filter: filter, active: true}
	b.mu.Unlock()
	return id
}

// Unsubscribe removes handlerID's registration, reporting whether it
// existed.
func (b *Bus) Unsubscribe(handlerID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[handlerID]; !ok {
		return false
	}
	delete(b.handlers, handlerID)
	return true
}

// RegisterStreamHandler adds a synchronous fan-out callback under
// streamID, overwriting any existing registration with that ID.
func (b *Bus) RegisterStreamHandler(streamID string, callback func(Event)) {
	b.mu.Lock()
	b.streamHandlers[streamID] = callback
	b.mu.Unlock()
}

// UnregisterStreamHandler removes streamID's callback.
func (b *Bus) UnregisterStreamHandler(streamID string) {
	b.mu.Lock()
	delete(b.streamHandlers, streamID)
	b.mu.Unlock()
}

// GetStatistics reports cumulative counters and current pool sizing.
func (b *Bus) GetStatistics() Stats {
	b.statsMu.Lock()
	stats := b.stats
	b.statsMu.Unlock()

	b.mu.RLock()
	queueSize := 0
	for _, q := range b.queues {
		queueSize += len(q)
	}
	stats.QueueSize = queueSize
	stats.ActiveHandlers = len(b.handlers)
	stats.StreamHandlers = len(b.streamHandlers)
	stats.WorkerThreads = b.workerThreads
	b.mu.RUnlock()

	return stats
}
