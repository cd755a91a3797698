package alert

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ligun0805/mempool-searcher/internal/metrics"
)

// Output delivers one event somewhere. Errors are logged and otherwise ignored.
type Output interface {
	Name() string
	Write(ctx context.Context, ev Event) error
}

// Leveled is implemented by outputs that only want events at or above a level.
type Leveled interface {
	MinLevel() zapcore.Level
}

// Terminal reports whether ev closes out a trade. Terminal events travel on a
// priority lane so a flood of rejections cannot crowd them out.
func Terminal(ev Event) bool {
	return ev.Kind == KindSubmitted || ev.Kind == KindFailed
}

// Dispatcher is a buffered, best-effort Sink. Emit never blocks. Every output
// has its own queue, so a slow output only loses its own events; when a queue
// is full the event is dropped for that output and counted.
type Dispatcher struct {
	lggr    *zap.SugaredLogger
	metrics *metrics.Metrics
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	queues  []*queue
	wg      sync.WaitGroup
	done    chan struct{}
	dropped atomic.Uint64
}

type queue struct {
	out      Output
	minLevel zapcore.Level
	urgent   chan Event
	normal   chan Event
}

var _ Sink = (*Dispatcher)(nil)

// NewDispatcher starts one delivery goroutine per output. Call Close to drain them.
func NewDispatcher(buffer int, m *metrics.Metrics, lggr *zap.SugaredLogger, outs ...Output) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	d := &Dispatcher{
		lggr:    lggr.Named("Alerts"),
		metrics: m,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	for _, o := range outs {
		q := &queue{
			out:      o,
			minLevel: zapcore.DebugLevel,
			urgent:   make(chan Event, buffer),
			normal:   make(chan Event, buffer),
		}
		if l, ok := o.(Leveled); ok {
			q.minLevel = l.MinLevel()
		}
		d.queues = append(d.queues, q)
		d.wg.Add(1)
		go d.run(q)
	}
	go func() {
		d.wg.Wait()
		close(d.done)
	}()
	return d
}

func (d *Dispatcher) Emit(ev Event) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	terminal := Terminal(ev)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, q := range d.queues {
		if ev.Level < q.minLevel && !terminal {
			continue
		}
		ch := q.normal
		if terminal {
			ch = q.urgent
		}
		select {
		case ch <- ev:
		default:
			d.dropped.Add(1)
			d.metrics.RecordAlertDropped()
			if terminal {
				d.lggr.Errorw("Terminal alert dropped", "output", q.out.Name(), "kind", ev.Kind, "network", ev.Network, "origin", ev.Origin, "tx", ev.TxHash)
			}
		}
	}
}

// Dropped returns the number of (event, output) deliveries lost to full queues.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

func (d *Dispatcher) run(q *queue) {
	defer d.wg.Done()
	urgent, normal := q.urgent, q.normal
	for urgent != nil || normal != nil {
		var (
			ev Event
			ok bool
		)
		select {
		case ev, ok = <-urgent:
			if !ok {
				urgent = nil
				continue
			}
		default:
			select {
			case ev, ok = <-urgent:
				if !ok {
					urgent = nil
					continue
				}
			case ev, ok = <-normal:
				if !ok {
					normal = nil
					continue
				}
			}
		}
		d.deliver(q.out, ev)
	}
}

func (d *Dispatcher) deliver(o Output, ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := o.Write(ctx, ev); err != nil {
		d.lggr.Warnw("Alert output failed", "output", o.Name(), "kind", ev.Kind, "err", err)
	}
}

// Close stops accepting events and waits for queued ones to be delivered, or ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, q := range d.queues {
			close(q.urgent)
			close(q.normal)
		}
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
