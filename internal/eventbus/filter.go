package eventbus

// Filter is a pure, cheap predicate over an Event. Routing assumes no
// side effects; a filter that blocks or mutates state will stall every
// worker routing through it.
type Filter func(Event) bool

// ByCategory matches events whose category is in categories.
func ByCategory(categories ...Category) Filter {
	set := make(map[Category]bool, len(categories))
	for _, c := range categories {
		set[c] = true
	}
	return func(e Event) bool { return set[e.Category] }
}

// BySource matches events whose source is in sources.
func BySource(sources ...string) Filter {
	set := make(map[string]bool, len(sources))
	for _, s := range sources {
		set[s] = true
	}
	return func(e Event) bool { return set[e.Source] }
}

// ByMinPriority matches events at or above min priority.
func ByMinPriority(min Priority) Filter {
	return func(e Event) bool { return e.Priority >= min }
}

// And composes filters into their logical conjunction; an empty list
// matches everything.
func And(filters ...Filter) Filter {
	return func(e Event) bool {
		for _, f := range filters {
			if f == nil {
				continue
			}
			if !f(e) {
				return false
			}
		}
		return true
	}
}
