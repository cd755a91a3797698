package executor

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ligun0805/mempool-searcher/internal/alert"
	"github.com/ligun0805/mempool-searcher/internal/alert/alerttest"
	"github.com/ligun0805/mempool-searcher/internal/audit"
	"github.com/ligun0805/mempool-searcher/internal/chain"
	"github.com/ligun0805/mempool-searcher/internal/chain/chaintest"
	"github.com/ligun0805/mempool-searcher/internal/domain"
	"github.com/ligun0805/mempool-searcher/internal/evaluate"
	"github.com/ligun0805/mempool-searcher/internal/ledger"
	"github.com/ligun0805/mempool-searcher/internal/relay"
	"github.com/ligun0805/mempool-searcher/internal/signer"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type networks struct {
	nets map[string]domain.Network
	eps  map[string]*chaintest.Endpoint
}

func (n networks) Network(id string) (domain.Network, bool) {
	v, ok := n.nets[id]
	return v, ok
}

func (n networks) Endpoint(id string) (chain.Endpoint, bool) {
	ep, ok := n.eps[id]
	return ep, ok
}

type fakeRelay struct {
	mu   sync.Mutex
	err  error
	sent [][]byte
}

func (r *fakeRelay) URL() string { return "fake" }

func (r *fakeRelay) Submit(_ context.Context, raw []byte) (common.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, raw)
	if r.err != nil {
		return common.Hash{}, r.err
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

func (r *fakeRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type memStore struct {
	mu      sync.Mutex
	records []audit.Record
}

func (m *memStore) Append(_ context.Context, r audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *memStore) Submitted(context.Context, time.Time) ([]audit.Record, error) { return nil, nil }
func (m *memStore) Close() error                                                 { return nil }

type failingSigner struct{ addr common.Address }

func (f failingSigner) Address() common.Address { return f.addr }

func (f failingSigner) Sign(context.Context, domain.TradeIntent) (signer.SignedTx, error) {
	return signer.SignedTx{}, errors.New("hsm unavailable")
}

type harness struct {
	exec   *Executor
	ep     *chaintest.Endpoint
	relay  *fakeRelay
	ledger *ledger.Ledger
	alerts *alerttest.Recorder
	audit  *memStore
	signer *signer.KeySigner
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	lggr := zaptest.NewLogger(t).Sugar()
	h := &harness{
		ep:     &chaintest.Endpoint{Nonce: 5},
		relay:  &fakeRelay{},
		alerts: &alerttest.Recorder{},
		audit:  &memStore{},
	}
	nets := networks{
		nets: map[string]domain.Network{"A": {
			NetworkConfig: domain.NetworkConfig{ID: "A", ChainID: big.NewInt(1), GasLimit: 21000},
			State:         domain.Live,
		}},
		eps: map[string]*chaintest.Endpoint{"A": h.ep},
	}
	var err error
	h.signer, err = signer.FromHex(testKey)
	require.NoError(t, err)
	h.ledger = ledger.New(nets, time.Hour, nil, lggr)
	gate, err := evaluate.NewProfitGate(0.002, evaluate.ProfitBasisValue)
	require.NoError(t, err)
	cfg := Config{
		FeeMultiplier:    1.1,
		FeeMultiplierCap: 1.5,
		MaxFee:           domain.GweiToWei(500),
		FeeCheckPolicy:   evaluate.FeeCheckBeforeBump,
		RelayTimeout:     time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.exec = New(nets, h.ledger, h.signer, map[string]relay.Relay{"A": h.relay}, gate, h.alerts, h.audit, nil, cfg, lggr)
	return h
}

var target = common.HexToAddress("0x00000000000000000000000000000000000000bb")

func candidate(n byte, gasPriceWei uint64) domain.TradeCandidate {
	to := target
	return domain.TradeCandidate{
		Tx: domain.PendingTransaction{
			Network:  "A",
			Hash:     common.BytesToHash([]byte{n}),
			From:     common.HexToAddress("0x00000000000000000000000000000000000000aa"),
			To:       &to,
			Value:    uint256.NewInt(1_000_000_000_000_000_000),
			GasPrice: uint256.NewInt(gasPriceWei),
			Gas:      21000,
		},
		Evaluation: domain.Evaluation{Verdict: domain.Accept, MinProfit: big.NewInt(2_000_000_000_000_000)},
	}
}

func decode(t *testing.T, raw []byte) *types.Transaction {
	t.Helper()
	var tx types.Transaction
	require.NoError(t, tx.UnmarshalBinary(raw))
	return &tx
}

func TestExecute_RelaySubmitted(t *testing.T) {
	h := newHarness(t, nil)
	r := h.exec.Execute(context.Background(), candidate(1, 20_000_000_000))

	require.Equal(t, domain.Submitted, r.Status, r.Reason)
	assert.Equal(t, domain.PathRelay, r.Path)
	require.NotNil(t, r.Nonce)
	assert.Equal(t, uint64(5), *r.Nonce)
	assert.Equal(t, 1, h.relay.count())
	assert.Equal(t, 0, h.ep.SentCount(), "public path unused after relay success")

	tx := decode(t, h.relay.sent[0])
	assert.Equal(t, r.Hash, tx.Hash())
	assert.Equal(t, target, *tx.To())
	assert.Equal(t, int64(22_000_000_000), tx.GasPrice().Int64(), "20 gwei bid raised by 1.1")

	require.Len(t, h.alerts.Events(), 1)
	assert.Equal(t, alert.KindSubmitted, h.alerts.Events()[0].Kind)
	require.Len(t, h.audit.records, 1)
	assert.Equal(t, "Submitted", h.audit.records[0].Status)

	assert.Equal(t, 0, h.ledger.InFlight("A", h.signer.Address()))
	next, err := h.ledger.Acquire(context.Background(), "A", h.signer.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(6), next, "submitted nonce is retired")
}

func TestExecute_RelayNon200FallsBackOnce(t *testing.T) {
	h := newHarness(t, nil)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	h.exec.relays["A"] = relay.NewHTTPRelay(srv.URL, nil, time.Second)

	r := h.exec.Execute(context.Background(), candidate(1, 20_000_000_000))

	require.Equal(t, domain.Submitted, r.Status, r.Reason)
	assert.Equal(t, domain.PathPublic, r.Path)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 1, h.ep.SentCount(), "exactly one public attempt")
	assert.Len(t, h.alerts.Events(), 1)
}

func TestExecute_BothPathsFail(t *testing.T) {
	h := newHarness(t, nil)
	h.relay.err = errors.New("relay http 500")
	h.ep.SendErr = errors.New("nonce too low")
	c := candidate(1, 20_000_000_000)

	r := h.exec.Execute(context.Background(), c)

	require.Equal(t, domain.Failed, r.Status)
	assert.ErrorIs(t, r.Err, domain.ErrSubmission)
	assert.Contains(t, r.Reason, "relay http 500")
	assert.Contains(t, r.Reason, "nonce too low")
	assert.Equal(t, 1, h.relay.count())
	assert.Equal(t, 1, h.ep.SentCount())

	evs := h.alerts.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, alert.KindFailed, evs[0].Kind)
	require.Len(t, h.audit.records, 1)
	assert.Equal(t, "Failed", h.audit.records[0].Status)

	assert.Equal(t, 0, h.ledger.InFlight("A", h.signer.Address()))
	h.relay.err = nil
	again := h.exec.Execute(context.Background(), c)
	require.Equal(t, domain.Submitted, again.Status, "a failed opportunity may be retried on a later cycle")
	require.NotNil(t, again.Nonce)
	assert.Equal(t, *r.Nonce, *again.Nonce, "the failed nonce was freed for reuse")
}

func TestExecute_NonceUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.ep.NonceErr = errors.New("dial tcp: i/o timeout")

	r := h.exec.Execute(context.Background(), candidate(1, 20_000_000_000))

	require.Equal(t, domain.Failed, r.Status)
	assert.Nil(t, r.Nonce)
	assert.Equal(t, 0, h.relay.count())
	failed := h.alerts.OfKind(alert.KindFailed)
	require.Len(t, failed, 1)
	assert.Nil(t, failed[0].Nonce)
	require.Len(t, h.audit.records, 1)
	assert.Nil(t, h.audit.records[0].Nonce)
}

func TestExecute_SigningFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.exec.signer = failingSigner{addr: h.signer.Address()}

	r := h.exec.Execute(context.Background(), candidate(1, 20_000_000_000))

	require.Equal(t, domain.Failed, r.Status)
	assert.ErrorIs(t, r.Err, domain.ErrSigning)
	assert.ErrorContains(t, r.Err, "hsm unavailable")
	assert.Equal(t, 0, h.relay.count())
	assert.Equal(t, 0, h.ep.SentCount())
	assert.Equal(t, 0, h.ledger.InFlight("A", h.signer.Address()))
	assert.Len(t, h.alerts.OfKind(alert.KindFailed), 1)
}

func TestExecute_DuplicateOpportunity(t *testing.T) {
	h := newHarness(t, nil)
	c := candidate(1, 20_000_000_000)

	first := h.exec.Execute(context.Background(), c)
	second := h.exec.Execute(context.Background(), c)

	assert.Equal(t, domain.Submitted, first.Status)
	assert.Equal(t, domain.Skipped, second.Status)
	assert.Contains(t, second.Reason, "duplicate")
	assert.Equal(t, 1, h.relay.count())
	assert.Len(t, h.audit.records, 1)
	assert.Len(t, h.alerts.OfKind(alert.KindSkipped), 1)
}

func TestExecute_ConcurrentDuplicates(t *testing.T) {
	h := newHarness(t, nil)
	c := candidate(1, 20_000_000_000)

	var wg sync.WaitGroup
	results := make([]domain.SubmissionResult, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.exec.Execute(context.Background(), c)
		}(i)
	}
	wg.Wait()

	submitted := 0
	for _, r := range results {
		if r.Status == domain.Submitted {
			submitted++
		} else {
			assert.Equal(t, domain.Skipped, r.Status)
		}
	}
	assert.Equal(t, 1, submitted)
	assert.Equal(t, 1, h.relay.count())
}

func TestExecute_ConcurrentNoncesNeverRepeat(t *testing.T) {
	h := newHarness(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.exec.Execute(context.Background(), candidate(byte(i+1), 20_000_000_000))
		}(i)
	}
	wg.Wait()

	seen := map[uint64]bool{}
	for _, raw := range h.relay.sent {
		n := decode(t, raw).Nonce()
		assert.False(t, seen[n], "nonce %d sent twice", n)
		seen[n] = true
	}
	assert.NotEmpty(t, seen)
}

func TestExecute_SkipsContractCreation(t *testing.T) {
	h := newHarness(t, nil)
	c := candidate(1, 20_000_000_000)
	c.Tx.To = nil

	r := h.exec.Execute(context.Background(), c)
	assert.Equal(t, domain.Skipped, r.Status)
	assert.Equal(t, 0, h.relay.count())
	assert.Empty(t, h.audit.records)
	assert.Len(t, h.alerts.OfKind(alert.KindSkipped), 1)
}

func TestExecute_FeeMarketPricing(t *testing.T) {
	h := newHarness(t, nil)
	h.ep.GasPrice = big.NewInt(30_000_000_000)
	h.ep.TipCap = big.NewInt(1_000_000_000)
	c := candidate(1, 40_000_000_000)
	c.Tx.Type = 2
	c.Tx.MaxFeePerGas = uint256.NewInt(40_000_000_000)
	c.Tx.MaxPriorityFeePerGas = uint256.NewInt(2_000_000_000)

	r := h.exec.Execute(context.Background(), c)
	require.Equal(t, domain.Submitted, r.Status, r.Reason)

	tx := decode(t, h.relay.sent[0])
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, int64(2_200_000_000), tx.GasTipCap().Int64())
	assert.Equal(t, int64(44_000_000_000), tx.GasFeeCap().Int64())
}

func TestExecute_FeeCappedAtMax(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxFee = domain.GweiToWei(100) })
	r := h.exec.Execute(context.Background(), candidate(1, 95_000_000_000))
	require.Equal(t, domain.Submitted, r.Status)
	assert.Equal(t, int64(100_000_000_000), decode(t, h.relay.sent[0]).GasPrice().Int64())
}

func TestExecute_AfterBumpPolicySkips(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.FeeCheckPolicy = evaluate.FeeCheckAfterBump })
	// 90 gwei passes the check, the 99 gwei bid does not.
	r := h.exec.Execute(context.Background(), candidate(1, 90_000_000_000))

	assert.Equal(t, domain.Skipped, r.Status)
	assert.Contains(t, r.Reason, "no longer clears")
	assert.Equal(t, 0, h.relay.count())
	assert.Equal(t, 0, h.ledger.InFlight("A", h.signer.Address()))
}

func TestExecute_MaxTradeValue(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxTradeValue = big.NewInt(1000) })
	r := h.exec.Execute(context.Background(), candidate(1, 20_000_000_000))
	require.Equal(t, domain.Submitted, r.Status)
	assert.Equal(t, int64(1000), decode(t, h.relay.sent[0]).Value().Int64())
}

func TestState_Transitions(t *testing.T) {
	assert.True(t, Building.CanTransitionTo(Signed))
	assert.True(t, Building.CanTransitionTo(Failed))
	assert.False(t, Building.CanTransitionTo(RelaySubmitted))
	assert.True(t, Signed.CanTransitionTo(PublicSubmitted))
	assert.False(t, Failed.CanTransitionTo(Signed))
	assert.False(t, RelaySubmitted.CanTransitionTo(PublicSubmitted))
	assert.True(t, Failed.Terminal())
	assert.False(t, Signed.Terminal())
}
