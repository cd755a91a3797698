// Package scheduler owns cycle boundaries: scan every live network, evaluate
// what was found, execute what was accepted, then back off.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ligun0805/mempool-searcher/internal/alert"
	"github.com/ligun0805/mempool-searcher/internal/domain"
	"github.com/ligun0805/mempool-searcher/internal/mempool"
	"github.com/ligun0805/mempool-searcher/internal/metrics"
)

type Registry interface {
	Live() []domain.Network
}

type Scanner interface {
	Scan(ctx context.Context, network string) (mempool.ScanResult, error)
}

type Normalizer interface {
	Normalize(tx domain.PendingTransaction) domain.FeatureVector
}

type Evaluator interface {
	Evaluate(ctx context.Context, tx domain.PendingTransaction, fv domain.FeatureVector, gasLimit uint64) domain.Evaluation
}

type Executor interface {
	Execute(ctx context.Context, c domain.TradeCandidate) domain.SubmissionResult
}

type Config struct {
	CycleDeadline time.Duration
	ShortSleepMin time.Duration
	ShortSleepMax time.Duration
	IdleSleepMin  time.Duration
	IdleSleepMax  time.Duration
	// MaxCycles stops Run after that many cycles; zero runs until ctx is done.
	MaxCycles int
}

// Stats summarizes one cycle across all networks.
type Stats struct {
	Networks   int
	ScanErrors int
	Scanned    int
	Dropped    int
	Accepted   int
	Rejected   int
	Submitted  int
	Skipped    int
	Failed     int
}

func (s *Stats) add(o Stats) {
	s.Networks += o.Networks
	s.ScanErrors += o.ScanErrors
	s.Scanned += o.Scanned
	s.Dropped += o.Dropped
	s.Accepted += o.Accepted
	s.Rejected += o.Rejected
	s.Submitted += o.Submitted
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}

func (s Stats) String() string {
	return fmt.Sprintf("networks=%d scanned=%d dropped=%d accepted=%d rejected=%d submitted=%d skipped=%d failed=%d scan_errors=%d",
		s.Networks, s.Scanned, s.Dropped, s.Accepted, s.Rejected, s.Submitted, s.Skipped, s.Failed, s.ScanErrors)
}

type Loop struct {
	lggr    *zap.SugaredLogger
	reg     Registry
	scanner Scanner
	norm    Normalizer
	eval    Evaluator
	exec    Executor
	alerts  alert.Sink
	metrics *metrics.Metrics
	cfg     Config
	jitter  func(n int64) int64
}

func New(reg Registry, scanner Scanner, norm Normalizer, eval Evaluator, exec Executor,
	alerts alert.Sink, m *metrics.Metrics, cfg Config, lggr *zap.SugaredLogger) *Loop {
	if alerts == nil {
		alerts = alert.Nop{}
	}
	if cfg.ShortSleepMax < cfg.ShortSleepMin {
		cfg.ShortSleepMax = cfg.ShortSleepMin
	}
	if cfg.IdleSleepMax < cfg.IdleSleepMin {
		cfg.IdleSleepMax = cfg.IdleSleepMin
	}
	return &Loop{
		lggr:    lggr.Named("Scheduler"),
		reg:     reg,
		scanner: scanner,
		norm:    norm,
		eval:    eval,
		exec:    exec,
		alerts:  alerts,
		metrics: m,
		cfg:     cfg,
		jitter:  rand.Int64N,
	}
}

// Run repeats cycles until ctx is done or MaxCycles is reached. It refuses
// to start without a live network and returns nil on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	if len(l.reg.Live()) == 0 {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, domain.ErrNoLiveNetworks)
	}
	for n := 1; ; n++ {
		stats := l.Cycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		d := l.Backoff(stats)
		l.lggr.Infow("Cycle completed", "cycle", n, "stats", stats.String(), "sleep", d)
		l.alerts.Emit(alert.CycleDone(stats.String(), d))
		if l.cfg.MaxCycles > 0 && n >= l.cfg.MaxCycles {
			return nil
		}

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// Cycle runs one pass over every live network, bounded by CycleDeadline.
// Networks proceed concurrently; within a network candidates are handled in
// scan order, one at a time.
func (l *Loop) Cycle(ctx context.Context) Stats {
	start := time.Now()
	if l.cfg.CycleDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.CycleDeadline)
		defer cancel()
	}

	nets := l.reg.Live()
	var (
		mu    sync.Mutex
		total Stats
	)
	// Per-network errors are contained, so the group never cancels siblings.
	var g errgroup.Group
	for _, n := range nets {
		g.Go(func() error {
			s := l.network(ctx, n)
			mu.Lock()
			total.add(s)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	l.metrics.RecordCycle(time.Since(start).Seconds())
	return total
}

func (l *Loop) network(ctx context.Context, n domain.Network) (s Stats) {
	s.Networks = 1
	lggr := l.lggr.With("network", n.ID)

	res, err := l.scanner.Scan(ctx, n.ID)
	if err != nil {
		s.ScanErrors++
		lggr.Warnw("Scan failed", "err", err)
		l.alerts.Emit(alert.ScanFailed(n.ID, err))
		return s
	}
	s.Scanned = len(res.Txs)
	s.Dropped = len(res.Dropped)
	for _, d := range res.Dropped {
		lggr.Debugw("Transaction dropped", "hash", d.Hash, "err", d.Err)
	}
	if len(res.Dropped) > 0 {
		l.alerts.Emit(alert.ScanFailed(n.ID, errors.New(droppedReason(res.Dropped))))
	}

	seen := make(map[common.Hash]struct{}, len(res.Txs))
	for _, tx := range res.Txs {
		if ctx.Err() != nil {
			lggr.Warnw("Cycle deadline reached", "remaining", len(res.Txs)-len(seen))
			break
		}
		if _, dup := seen[tx.Hash]; dup {
			continue
		}
		seen[tx.Hash] = struct{}{}

		fv := l.norm.Normalize(tx)
		ev := l.eval.Evaluate(ctx, tx, fv, n.GasLimit)
		if ev.Verdict != domain.Accept {
			s.Rejected++
			l.alerts.Emit(alert.Rejected(tx, ev))
			continue
		}
		s.Accepted++

		r := l.exec.Execute(ctx, domain.TradeCandidate{Tx: tx, Features: fv, Evaluation: ev})
		switch r.Status {
		case domain.Submitted:
			s.Submitted++
		case domain.Skipped:
			s.Skipped++
		default:
			s.Failed++
		}
	}
	return s
}

// maxListedDrops bounds the hashes spelled out in one dropped-transactions alert.
const maxListedDrops = 20

func droppedReason(ds []mempool.Dropped) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d transactions dropped:", len(ds))
	for i, d := range ds {
		if i == maxListedDrops {
			fmt.Fprintf(&b, "\n+%d more", len(ds)-i)
			break
		}
		fmt.Fprintf(&b, "\n%s: %v", d.Hash.Hex(), d.Err)
	}
	return b.String()
}

// Backoff picks the jittered sleep after a cycle: the short range when
// opportunities were accepted but none was submitted, the idle range otherwise.
func (l *Loop) Backoff(s Stats) time.Duration {
	lo, hi := l.cfg.IdleSleepMin, l.cfg.IdleSleepMax
	if s.Accepted > 0 && s.Submitted == 0 {
		lo, hi = l.cfg.ShortSleepMin, l.cfg.ShortSleepMax
	}
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(l.jitter(int64(hi-lo)+1))
}
