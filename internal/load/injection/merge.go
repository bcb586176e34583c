package injection

import "iter"

// Event is a StartEvent tagged with the index of the population it belongs to.
type Event struct {
	Population int
	StartEvent
}

// Merge interleaves several schedules into one in non-decreasing time order.
// Equal times are ordered by population index.
func Merge(schedules ...iter.Seq[StartEvent]) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		type head struct {
			next func() (StartEvent, bool)
			ev   StartEvent
			ok   bool
		}

		heads := make([]head, len(schedules))
		for i, s := range schedules {
			next, stop := iter.Pull(s)
			defer stop()
			ev, ok := next()
			heads[i] = head{next: next, ev: ev, ok: ok}
		}

		for {
			best := -1
			for i := range heads {
				if heads[i].ok && (best < 0 || heads[i].ev.At < heads[best].ev.At) {
					best = i
				}
			}
			if best < 0 {
				return
			}
			if !yield(Event{Population: best, StartEvent: heads[best].ev}) {
				return
			}
			heads[best].ev, heads[best].ok = heads[best].next()
		}
	}
}
