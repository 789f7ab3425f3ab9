package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

func (b *Bus) worker(ctx context.Context) {
	defer b.wg.Done()
	for {
		event, ok := b.dequeue(ctx)
		if !ok {
			return
		}
		b.routeEvent(ctx, event)
	}
}

// dequeue blocks until an event is available on any priority queue or ctx
// is cancelled. It always prefers a higher-priority queue over a lower
// one: a non-blocking pass checks queues[PriorityUrgent] down to
// queues[PriorityLow] first, so a lower-priority event is only taken
// once every higher queue has been observed empty. Only when all five
// are empty does it block on a fair multi-way select across all of them.
func (b *Bus) dequeue(ctx context.Context) (Event, bool) {
	for {
		for p := PriorityUrgent; p >= PriorityLow; p-- {
			select {
			case e := <-b.queues[p]:
				return e, true
			default:
			}
		}
		select {
		case <-ctx.Done():
			return Event{}, false
		case e := <-b.queues[PriorityUrgent]:
			return e, true
		case e := <-b.queues[PriorityCritical]:
			return e, true
		case e := <-b.queues[PriorityHigh]:
			return e, true
		case e := <-b.queues[PriorityNormal]:
			return e, true
		case e := <-b.queues[PriorityLow]:
			return e, true
		}
	}
}

// routeEvent fans out to stream handlers, then routes to subscribed
// handlers in registration order, dead-lettering the original event on
// the first handler failure.
func (b *Bus) routeEvent(ctx context.Context, event Event) {
	event.State = StateRouted

	b.mu.RLock()
	streamCallbacks := make([]func(Event), 0, len(b.streamHandlers))
	for _, cb := range b.streamHandlers {
		streamCallbacks = append(streamCallbacks, cb)
	}
	subs := make([]*subscription, 0, len(b.handlers))
	for _, s := range b.handlers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, cb := range streamCallbacks {
		b.invokeStreamSafely(cb, event)
	}

	if b.pin != nil && event.Category == CategoryRegulatoryChangeDetected {
		var change struct{ ChangeID string }
		if json.Unmarshal(event.Payload, &change) == nil && change.ChangeID != "" {
			b.pin.PinInFlight(change.ChangeID)
			defer b.pin.UnpinInFlight(change.ChangeID)
		}
	}

	for _, sub := range subs {
		if !sub.active {
			continue
		}
		categories := sub.handler.SupportedCategories()
		if len(categories) > 0 && !containsCategory(categories, event.Category) {
			continue
		}
		if sub.filter != nil && !sub.filter(event) {
			continue
		}

		if err := b.invokeHandlerSafely(ctx, sub.handler, event.Clone()); err != nil {
			if b.log != nil {
				b.log.WithField("handler_id", sub.id).WithField("event_id", event.EventID).
					Warnf("handler failed, dead-lettering event: %v", err)
			}
			event.State = StateFailed
			b.deadLetterMu.Lock()
			b.deadLetter = append(b.deadLetter, event)
			b.deadLetterMu.Unlock()
			b.statsMu.Lock()
			b.stats.DeadLettered++
			b.statsMu.Unlock()
			return
		}
	}

	if event.Priority >= PriorityHigh {
		if err := b.persistEvent(ctx, event); err != nil && b.log != nil {
			b.log.WithField("event_id", event.EventID).Warnf("event persistence failed: %v", err)
		}
	}

	event.State = StateProcessed
	b.statsMu.Lock()
	b.stats.Processed++
	b.statsMu.Unlock()
}

func containsCategory(categories []Category, c Category) bool {
	for _, want := range categories {
		if want == c {
			return true
		}
	}
	return false
}

// invokeHandlerSafely converts a handler panic into an error so a
// misbehaving handler can never take down a worker goroutine.
func (b *Bus) invokeHandlerSafely(ctx context.Context, h Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &handlerPanicError{recovered: r}
		}
	}()
	return h.HandleEvent(ctx, event)
}

// invokeStreamSafely runs a stream callback, logging and discarding any
// panic: a broken stream subscriber must never affect routing.
func (b *Bus) invokeStreamSafely(cb func(Event), event Event) {
	defer func() {
		if r := recover(); r != nil && b.log != nil {
			b.log.WithField("event_id", event.EventID).Warnf("stream handler panicked: %v", r)
		}
	}()
	cb(event.Clone())
}

type handlerPanicError struct {
	recovered any
}

func (e *handlerPanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.recovered)
}

// deadLetterLoop retries dead-lettered events every 30s: events under
// the retry ceiling and not expired go back on the main queue with an
// incremented retry count; everything else is marked FAILED and
// persisted, then dropped from the dead-letter list.
func (b *Bus) deadLetterLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(deadLetterSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweepDeadLetter(ctx)
		}
	}
}

func (b *Bus) sweepDeadLetter(ctx context.Context) {
	now := time.Now().UTC()

	b.deadLetterMu.Lock()
	pending := b.deadLetter
	b.deadLetter = nil
	b.deadLetterMu.Unlock()

	var stillDead []Event
	for _, e := range pending {
		if e.RetryCount < maxRetries && !e.IsExpired(now) {
			e.RetryCount++
			e.State = StatePublished
			if !b.Publish(e) {
				stillDead = append(stillDead, e)
			}
			continue
		}
		e.State = StateFailed
		if err := b.persistEvent(ctx, e); err != nil && b.log != nil {
			b.log.WithField("event_id", e.EventID).Warnf("failed-event persistence failed: %v", err)
		}
	}

	if len(stillDead) > 0 {
		b.deadLetterMu.Lock()
		b.deadLetter = append(b.deadLetter, stillDead...)
		b.deadLetterMu.Unlock()
	}
}

// cleanupLoop removes expired events from persistence every 5 minutes.
func (b *Bus) cleanupLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(cleanupSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := b.expirePersistedEvents(ctx)
			if err != nil {
				if b.log != nil {
					b.log.Warnf("expiry cleanup failed: %v", err)
				}
				continue
			}
			if n > 0 {
				b.statsMu.Lock()
				b.stats.Expired += int64(n)
				b.statsMu.Unlock()
			}
		}
	}
}
