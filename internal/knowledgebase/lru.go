package knowledgebase

import "container/list"

// lruTracker is a bounded recency tracker for change_id keys. Evict
// returns the least-recently-touched key that is not pinned; pinned
// keys (changes with an event currently in flight through the bus) are
// skipped so eviction never races an in-flight publish.
type lruTracker struct {
	capacity int
	order    *list.List
	elems    map[string]*list.Element
	pinned   map[string]int
}

func newLRUTracker(capacity int) *lruTracker {
	return &lruTracker{
		capacity: capacity,
		order:    list.New(),
		elems:    make(map[string]*list.Element),
		pinned:   make(map[string]int),
	}
}

// Touch marks changeID as most recently used, inserting it if absent.
func (t *lruTracker) Touch(changeID string) {
	if el, ok := t.elems[changeID]; ok {
		t.order.MoveToFront(el)
		return
	}
	el := t.order.PushFront(changeID)
	t.elems[changeID] = el
}

// Remove drops changeID from the tracker entirely.
func (t *lruTracker) Remove(changeID string) {
	if el, ok := t.elems[changeID]; ok {
		t.order.Remove(el)
		delete(t.elems, changeID)
	}
	delete(t.pinned, changeID)
}

// Pin increments the in-flight refcount for changeID, excluding it from
// eviction until every Unpin call has been matched.
func (t *lruTracker) Pin(changeID string) {
	t.pinned[changeID]++
}

// Unpin decrements the in-flight refcount, clearing the pin at zero.
func (t *lruTracker) Unpin(changeID string) {
	if t.pinned[changeID] <= 1 {
		delete(t.pinned, changeID)
		return
	}
	t.pinned[changeID]--
}

// EvictionCandidates returns change_ids to evict to bring the tracker
// back within capacity, oldest-first, skipping pinned entries.
func (t *lruTracker) EvictionCandidates() []string {
	overflow := t.order.Len() - t.capacity
	if overflow <= 0 {
		return nil
	}
	var out []string
	for el := t.order.Back(); el != nil && len(out) < overflow; el = el.Prev() {
		id := el.Value.(string)
		if t.pinned[id] > 0 {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (t *lruTracker) Len() int {
	return t.order.Len()
}
