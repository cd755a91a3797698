// Package mempool polls pending blocks and decodes their transactions.
package mempool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ligun0805/mempool-searcher/internal/chain"
	"github.com/ligun0805/mempool-searcher/internal/domain"
	"github.com/ligun0805/mempool-searcher/internal/metrics"
)

// Endpoints resolves the endpoint of a live network.
type Endpoints interface {
	Endpoint(network string) (chain.Endpoint, bool)
}

// Dropped is a transaction skipped during a scan.
type Dropped struct {
	Hash common.Hash
	Err  error
}

// ScanResult is the outcome of one network scan. Txs keep the endpoint's order.
type ScanResult struct {
	Network string
	Txs     []domain.PendingTransaction
	Dropped []Dropped
}

type Scanner struct {
	lggr    *zap.SugaredLogger
	eps     Endpoints
	metrics *metrics.Metrics
	rps     float64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// NewScanner returns a Scanner. rps bounds per-network detail fetches for
// pending blocks that list bare hashes; zero disables the limit.
func NewScanner(eps Endpoints, rps float64, m *metrics.Metrics, lggr *zap.SugaredLogger) *Scanner {
	return &Scanner{
		lggr:     lggr.Named("Scanner"),
		eps:      eps,
		metrics:  m,
		rps:      rps,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

// Scan fetches the pending block of one network. A network-level failure is
// returned as an ErrScan; single transactions that fail to fetch or decode
// are listed in ScanResult.Dropped and do not abort the scan.
func (s *Scanner) Scan(ctx context.Context, network string) (res ScanResult, err error) {
	res.Network = network
	start := s.now()
	defer func() {
		s.metrics.RecordScan(network, err, len(res.Txs), len(res.Dropped), time.Since(start).Seconds())
	}()

	ep, ok := s.eps.Endpoint(network)
	if !ok {
		return res, fmt.Errorf("%w: %s: network is not live", domain.ErrScan, network)
	}
	entries, err := ep.PendingBlockTransactions(ctx)
	if err != nil {
		return res, fmt.Errorf("%w: %s: pending block: %w", domain.ErrScan, network, err)
	}

	seenAt := s.now()
	for _, raw := range entries {
		hash, isHash, herr := asHash(raw)
		if herr != nil {
			res.Dropped = append(res.Dropped, Dropped{Err: fmt.Errorf("%w: %w", domain.ErrFeature, herr)})
			continue
		}
		if isHash {
			if err := s.limiter(network).Wait(ctx); err != nil {
				return res, fmt.Errorf("%w: %s: %w", domain.ErrScan, network, err)
			}
			raw, err = ep.TransactionByHash(ctx, hash)
			if err != nil {
				if ctx.Err() != nil {
					return res, fmt.Errorf("%w: %s: %w", domain.ErrScan, network, ctx.Err())
				}
				res.Dropped = append(res.Dropped, Dropped{Hash: hash, Err: fmt.Errorf("fetch: %w", err)})
				continue
			}
		}
		tx, err := decodeTransaction(network, raw, seenAt)
		if err != nil {
			res.Dropped = append(res.Dropped, Dropped{Hash: hash, Err: err})
			continue
		}
		res.Txs = append(res.Txs, tx)
	}

	if len(res.Dropped) > 0 {
		s.lggr.Debugw("Skipped pending transactions", "network", network, "dropped", len(res.Dropped), "first", res.Dropped[0].Err)
	}
	s.lggr.Debugw("Scanned pending block", "network", network, "txs", len(res.Txs))
	return res, nil
}

func (s *Scanner) limiter(network string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[network]
	if !ok {
		lim := rate.Inf
		if s.rps > 0 {
			lim = rate.Limit(s.rps)
		}
		l = rate.NewLimiter(lim, 1)
		s.limiters[network] = l
	}
	return l
}

// asHash reports whether a pending block entry is a bare hash instead of an object.
func asHash(raw json.RawMessage) (common.Hash, bool, error) {
	if len(raw) == 0 || raw[0] != '"' {
		return common.Hash{}, false, nil
	}
	var h common.Hash
	if err := json.Unmarshal(raw, &h); err != nil {
		return common.Hash{}, false, errors.New("malformed transaction hash")
	}
	return h, true, nil
}
