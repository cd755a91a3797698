// Package alerttest records alert events for assertions.
package alerttest

import (
	"sync"

	"github.com/ligun0805/mempool-searcher/internal/alert"
)

type Recorder struct {
	mu     sync.Mutex
	events []alert.Event
}

var _ alert.Sink = (*Recorder)(nil)

func (r *Recorder) Emit(ev alert.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []alert.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]alert.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns the recorded events of kind k in emission order.
func (r *Recorder) OfKind(k alert.Kind) []alert.Event {
	var out []alert.Event
	for _, ev := range r.Events() {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}
