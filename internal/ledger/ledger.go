// Package ledger allocates nonces per (network, account) and deduplicates opportunities.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ligun0805/mempool-searcher/internal/chain"
	"github.com/ligun0805/mempool-searcher/internal/domain"
	"github.com/ligun0805/mempool-searcher/internal/metrics"
)

const (
	acquireAttempts = 3
	// DefaultClaimTTL is how long a submitted opportunity stays claimed.
	DefaultClaimTTL = 24 * time.Hour
)

type Endpoints interface {
	Endpoint(network string) (chain.Endpoint, bool)
}

type accountKey struct {
	network string
	account common.Address
}

type claimKey struct {
	network string
	origin  common.Hash
}

// accountStore tracks reserved nonces of one account on one network.
type accountStore struct {
	lock sync.Mutex
	// next is one above the highest nonce retired by a submission.
	next     uint64
	inFlight map[uint64]struct{}
}

// Ledger is the only owner of nonce state. All methods are safe for concurrent use.
type Ledger struct {
	lggr     *zap.SugaredLogger
	eps      Endpoints
	metrics  *metrics.Metrics
	claimTTL time.Duration
	now      func() time.Time

	lock     sync.Mutex
	accounts map[accountKey]*accountStore
	claims   map[claimKey]time.Time
}

func New(eps Endpoints, claimTTL time.Duration, m *metrics.Metrics, lggr *zap.SugaredLogger) *Ledger {
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}
	return &Ledger{
		lggr:     lggr.Named("Ledger"),
		eps:      eps,
		metrics:  m,
		claimTTL: claimTTL,
		now:      time.Now,
		accounts: map[accountKey]*accountStore{},
		claims:   map[claimKey]time.Time{},
	}
}

func (l *Ledger) store(network string, account common.Address) *accountStore {
	l.lock.Lock()
	defer l.lock.Unlock()
	k := accountKey{network, account}
	s, ok := l.accounts[k]
	if !ok {
		s = &accountStore{inFlight: map[uint64]struct{}{}}
		l.accounts[k] = s
	}
	return s
}

// NextNonce returns the lowest nonce that is at least the endpoint's pending
// count, above every retired nonce, and not currently reserved. The endpoint
// value is only a hint: it lags our own submissions and may lead them when
// the account is used elsewhere.
func (l *Ledger) NextNonce(ctx context.Context, network string, account common.Address) (uint64, error) {
	ep, ok := l.eps.Endpoint(network)
	if !ok {
		return 0, fmt.Errorf("%w: %s: network is not live", domain.ErrConnectivity, network)
	}
	hint, err := ep.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("pending nonce: %w", err)
	}

	s := l.store(network, account)
	s.lock.Lock()
	defer s.lock.Unlock()
	n := max(hint, s.next)
	for {
		if _, taken := s.inFlight[n]; !taken {
			return n, nil
		}
		n++
	}
}

// Reserve marks nonce as in flight. It fails when the nonce is already
// reserved or was retired by an earlier submission.
func (l *Ledger) Reserve(network string, account common.Address, nonce uint64) bool {
	s := l.store(network, account)
	s.lock.Lock()
	defer s.lock.Unlock()
	if nonce < s.next {
		return false
	}
	if _, taken := s.inFlight[nonce]; taken {
		return false
	}
	s.inFlight[nonce] = struct{}{}
	return true
}

// Release ends a reservation. Submitted retires the nonce for good; any other
// status frees it for immediate reuse.
func (l *Ledger) Release(network string, account common.Address, nonce uint64, status domain.SubmissionStatus) {
	s := l.store(network, account)
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.inFlight, nonce)
	if status == domain.Submitted && nonce+1 > s.next {
		s.next = nonce + 1
	}
}

// Acquire combines NextNonce and Reserve, retrying when another caller wins the race.
func (l *Ledger) Acquire(ctx context.Context, network string, account common.Address) (uint64, error) {
	for attempt := 1; attempt <= acquireAttempts; attempt++ {
		n, err := l.NextNonce(ctx, network, account)
		if err != nil {
			return 0, err
		}
		if l.Reserve(network, account, n) {
			return n, nil
		}
		l.metrics.RecordNonceContention(network)
		l.lggr.Debugw("Nonce taken, refetching", "network", network, "nonce", n, "attempt", attempt)
	}
	return 0, fmt.Errorf("%w: %s after %d attempts", domain.ErrNonceContention, network, acquireAttempts)
}

// InFlight returns the number of reserved nonces for the account.
func (l *Ledger) InFlight(network string, account common.Address) int {
	s := l.store(network, account)
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.inFlight)
}

// Claim marks an origin transaction as being acted on. It returns false when
// the opportunity is already claimed.
func (l *Ledger) Claim(network string, origin common.Hash) bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	now := l.now()
	l.pruneLocked(now)
	k := claimKey{network, origin}
	if _, ok := l.claims[k]; ok {
		return false
	}
	l.claims[k] = now
	return true
}

func (l *Ledger) Unclaim(network string, origin common.Hash) {
	l.lock.Lock()
	defer l.lock.Unlock()
	delete(l.claims, claimKey{network, origin})
}

// Seed restores a claim recorded at time at, e.g. from the audit log after a restart.
func (l *Ledger) Seed(network string, origin common.Hash, at time.Time) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.now().Sub(at) >= l.claimTTL {
		return
	}
	l.claims[claimKey{network, origin}] = at
}

func (l *Ledger) pruneLocked(now time.Time) {
	for k, at := range l.claims {
		if now.Sub(at) >= l.claimTTL {
			delete(l.claims, k)
		}
	}
}
