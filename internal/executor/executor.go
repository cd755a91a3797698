// Package executor turns accepted candidates into signed, submitted transactions.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ligun0805/mempool-searcher/internal/alert"
	"github.com/ligun0805/mempool-searcher/internal/audit"
	"github.com/ligun0805/mempool-searcher/internal/chain"
	"github.com/ligun0805/mempool-searcher/internal/domain"
	"github.com/ligun0805/mempool-searcher/internal/evaluate"
	"github.com/ligun0805/mempool-searcher/internal/metrics"
	"github.com/ligun0805/mempool-searcher/internal/relay"
	"github.com/ligun0805/mempool-searcher/internal/signer"
)

type Networks interface {
	Network(id string) (domain.Network, bool)
	Endpoint(id string) (chain.Endpoint, bool)
}

// Ledger is the nonce and opportunity bookkeeping the executor relies on.
type Ledger interface {
	Acquire(ctx context.Context, network string, account common.Address) (uint64, error)
	Release(network string, account common.Address, nonce uint64, status domain.SubmissionStatus)
	Claim(network string, origin common.Hash) bool
	Unclaim(network string, origin common.Hash)
}

const auditTimeout = 5 * time.Second

type Config struct {
	FeeMultiplier    float64
	FeeMultiplierCap float64
	// MaxFee caps the per-gas price of any intent, in wei.
	MaxFee *big.Int
	// MaxTradeValue caps the value copied from a candidate; nil or zero copies it 1:1.
	MaxTradeValue  *big.Int
	FeeCheckPolicy string
	RelayTimeout   time.Duration
}

type Executor struct {
	lggr    *zap.SugaredLogger
	nets    Networks
	ledger  Ledger
	signer  signer.Signer
	relays  map[string]relay.Relay
	alerts  alert.Sink
	audit   audit.Store
	gate    evaluate.ProfitGate
	metrics *metrics.Metrics
	cfg     Config
}

// New returns an Executor. relays maps a network id to its private relay; a
// network without one goes straight to the public fallback.
func New(nets Networks, l Ledger, s signer.Signer, relays map[string]relay.Relay, gate evaluate.ProfitGate,
	alerts alert.Sink, store audit.Store, m *metrics.Metrics, cfg Config, lggr *zap.SugaredLogger) *Executor {
	if cfg.FeeMultiplier < 1 {
		cfg.FeeMultiplier = 1
	}
	if cfg.FeeMultiplierCap < cfg.FeeMultiplier {
		cfg.FeeMultiplierCap = cfg.FeeMultiplier
	}
	if cfg.RelayTimeout <= 0 {
		cfg.RelayTimeout = 3 * time.Second
	}
	if alerts == nil {
		alerts = alert.Nop{}
	}
	return &Executor{
		lggr:    lggr.Named("Executor"),
		nets:    nets,
		ledger:  l,
		signer:  s,
		relays:  relays,
		alerts:  alerts,
		audit:   store,
		gate:    gate,
		metrics: m,
		cfg:     cfg,
	}
}

// execution is one TradeIntent moving through the state machine.
type execution struct {
	state  State
	intent domain.TradeIntent
	// reserved is set once the ledger handed out intent.Nonce.
	reserved bool
	result   domain.SubmissionResult
}

func (x *execution) advance(to State) {
	if !x.state.CanTransitionTo(to) {
		panic(fmt.Sprintf("invalid state transition: %s -> %s (intent %s)", x.state, to, x.intent.ID))
	}
	x.state = to
}

// Execute runs Building → Signed → {RelaySubmitted | PublicSubmitted | Failed}.
// Candidates that cannot become an intent, including an origin transaction
// already being acted on, end as Skipped without touching the ledger's nonces.
// Calls for the same network must not overlap; the scheduler serializes them.
func (e *Executor) Execute(ctx context.Context, c domain.TradeCandidate) domain.SubmissionResult {
	tx := c.Tx
	n, ok := e.nets.Network(tx.Network)
	ep, live := e.nets.Endpoint(tx.Network)
	if !ok || !live {
		return e.skip(c, "network is not live")
	}
	if tx.To == nil || *tx.To == (common.Address{}) {
		return e.skip(c, "contract creation has no target to compete on")
	}
	if !e.ledger.Claim(tx.Network, tx.Hash) {
		return e.skip(c, "duplicate opportunity: "+domain.ErrDuplicateOpportunity.Error())
	}

	x := &execution{state: Building, intent: domain.TradeIntent{
		ID:         uuid.New(),
		Network:    tx.Network,
		ChainID:    n.ChainID,
		Account:    e.signer.Address(),
		Target:     *tx.To,
		Value:      e.tradeValue(tx),
		Data:       tx.Input,
		GasLimit:   tx.Gas,
		FeeMarket:  tx.IsFeeMarket(),
		OriginHash: tx.Hash,
	}}
	lggr := e.lggr.With("network", tx.Network, "origin", tx.Hash, "intent", x.intent.ID)

	nonce, err := e.ledger.Acquire(ctx, tx.Network, x.intent.Account)
	if err != nil {
		e.ledger.Unclaim(tx.Network, tx.Hash)
		return e.fail(ctx, x, c, fmt.Errorf("reserve nonce: %w", err))
	}
	x.intent.Nonce = nonce
	x.reserved = true

	if err := e.price(ctx, ep, tx, &x.intent); err != nil {
		return e.release(x, c, e.fail(ctx, x, c, err))
	}
	if e.cfg.FeeCheckPolicy == evaluate.FeeCheckAfterBump {
		if _, minProfit, ok := e.gate.Check(x.intent.MaxFeePerGas(), n.GasLimit, domain.U256ToBig(tx.Value)); !ok {
			e.ledger.Release(tx.Network, x.intent.Account, nonce, domain.Failed)
			e.ledger.Unclaim(tx.Network, tx.Hash)
			return e.skip(c, fmt.Sprintf("bid %s gwei no longer clears min profit %s ETH", domain.FmtGwei(x.intent.MaxFeePerGas()), domain.FmtETH(minProfit)))
		}
	}

	signed, err := e.signer.Sign(ctx, x.intent)
	if err != nil {
		if !errors.Is(err, domain.ErrSigning) {
			err = fmt.Errorf("%w: %w", domain.ErrSigning, err)
		}
		return e.release(x, c, e.fail(ctx, x, c, err))
	}
	x.advance(Signed)
	lggr.Debugw("Intent signed", "nonce", nonce, "hash", signed.Hash, "maxFee", x.intent.MaxFeePerGas())

	var relayErr error
	if r, ok := e.relays[tx.Network]; ok && r != nil {
		rctx, cancel := context.WithTimeout(ctx, e.cfg.RelayTimeout)
		hash, err := r.Submit(rctx, signed.Raw)
		cancel()
		if err == nil {
			x.advance(RelaySubmitted)
			x.result = domain.SubmittedResult(domain.PathRelay, hash)
			return e.release(x, c, e.finish(ctx, x, c))
		}
		relayErr = fmt.Errorf("relay %s: %w", r.URL(), err)
		e.metrics.RecordRelayFallback(tx.Network)
		lggr.Warnw("Relay submission failed, falling back to public mempool", "err", err)
	} else {
		relayErr = errors.New("no relay configured")
	}

	hash, err := ep.SendRawTransaction(ctx, signed.Raw)
	if err != nil && isAlreadyKnown(err) {
		// The relay timed out after forwarding the transaction.
		hash, err = signed.Hash, nil
	}
	if err != nil {
		return e.release(x, c, e.fail(ctx, x, c, fmt.Errorf("%w: %w; public: %w", domain.ErrSubmission, relayErr, err)))
	}
	x.advance(PublicSubmitted)
	x.result = domain.SubmittedResult(domain.PathPublic, hash)
	return e.release(x, c, e.finish(ctx, x, c))
}

func (e *Executor) tradeValue(tx domain.PendingTransaction) *big.Int {
	v := domain.U256ToBig(tx.Value)
	if e.cfg.MaxTradeValue != nil && e.cfg.MaxTradeValue.Sign() > 0 && v.Cmp(e.cfg.MaxTradeValue) > 0 {
		v.Set(e.cfg.MaxTradeValue)
	}
	return v
}

// price sets competitive fees: the candidate's own bid raised by the
// multiplier, never below the endpoint's suggestion, never above MaxFee.
func (e *Executor) price(ctx context.Context, ep chain.Endpoint, tx domain.PendingTransaction, in *domain.TradeIntent) error {
	mult, limit := e.cfg.FeeMultiplier, e.cfg.FeeMultiplierCap
	suggested, err := ep.SuggestGasPrice(ctx)
	if err != nil {
		e.lggr.Debugw("Gas price suggestion unavailable", "network", tx.Network, "err", err)
		suggested = new(big.Int)
	}

	if !in.FeeMarket {
		in.GasPrice = e.capFee(bigMax(evaluate.Bump(domain.U256ToBig(tx.GasPrice), mult, limit), suggested))
		if in.GasPrice.Sign() == 0 {
			return errors.New("no usable gas price")
		}
		return nil
	}

	tip, err := ep.SuggestGasTipCap(ctx)
	if err != nil {
		e.lggr.Debugw("Tip suggestion unavailable", "network", tx.Network, "err", err)
		tip = new(big.Int)
	}
	in.GasTipCap = bigMax(evaluate.Bump(domain.U256ToBig(tx.MaxPriorityFeePerGas), mult, limit), tip)
	in.GasFeeCap = e.capFee(bigMax(evaluate.Bump(domain.U256ToBig(tx.MaxFeePerGas), mult, limit), new(big.Int).Add(suggested, in.GasTipCap)))
	if in.GasTipCap.Cmp(in.GasFeeCap) > 0 {
		in.GasTipCap = new(big.Int).Set(in.GasFeeCap)
	}
	if in.GasFeeCap.Sign() == 0 {
		return errors.New("no usable fee cap")
	}
	return nil
}

func (e *Executor) capFee(x *big.Int) *big.Int {
	if e.cfg.MaxFee != nil && e.cfg.MaxFee.Sign() > 0 && x.Cmp(e.cfg.MaxFee) > 0 {
		return new(big.Int).Set(e.cfg.MaxFee)
	}
	return x
}

func bigMax(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return new(big.Int).Set(b)
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

func (e *Executor) fail(ctx context.Context, x *execution, c domain.TradeCandidate, err error) domain.SubmissionResult {
	x.advance(Failed)
	x.result = domain.FailedResult(err)
	return e.finish(ctx, x, c)
}

// finish records the single terminal transition: audit, metrics and one alert.
func (e *Executor) finish(ctx context.Context, x *execution, c domain.TradeCandidate) domain.SubmissionResult {
	r := x.result
	r.IntentID = x.intent.ID
	r.Network = x.intent.Network
	if x.reserved {
		n := x.intent.Nonce
		r.Nonce = &n
	}
	r.OriginHash = x.intent.OriginHash
	r.Value = x.intent.Value
	r.Profit = c.Evaluation.MinProfit

	if e.audit != nil {
		// Recorded even when the cycle deadline expired during submission.
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
		err := e.audit.Append(actx, audit.FromResult(r))
		cancel()
		if err != nil {
			e.lggr.Errorw("Audit append failed", "intent", r.IntentID, "err", err)
		}
	}
	e.metrics.RecordSubmission(r.Network, r.Status.String(), string(r.Path))
	e.alerts.Emit(alert.FromResult(r))

	if r.Status == domain.Submitted {
		e.lggr.Infow("Trade submitted", "network", r.Network, "path", r.Path, "hash", r.Hash, "nonce", r.Nonce, "value", domain.FmtETH(r.Value))
	} else {
		e.lggr.Errorw("Trade failed", "network", r.Network, "nonce", r.Nonce, "err", r.Err)
	}
	return r
}

// release returns the nonce to the ledger according to the terminal status.
func (e *Executor) release(x *execution, c domain.TradeCandidate, r domain.SubmissionResult) domain.SubmissionResult {
	e.ledger.Release(x.intent.Network, x.intent.Account, x.intent.Nonce, r.Status)
	if r.Status != domain.Submitted {
		e.ledger.Unclaim(c.Tx.Network, c.Tx.Hash)
	}
	return r
}

func (e *Executor) skip(c domain.TradeCandidate, reason string) domain.SubmissionResult {
	r := domain.SkippedResult(reason)
	r.Network = c.Tx.Network
	r.OriginHash = c.Tx.Hash
	r.Value = domain.U256ToBig(c.Tx.Value)
	r.Profit = c.Evaluation.MinProfit
	e.metrics.RecordSubmission(r.Network, r.Status.String(), "")
	e.alerts.Emit(alert.FromResult(r))
	e.lggr.Infow("Opportunity skipped", "network", r.Network, "origin", r.OriginHash, "reason", reason)
	return r
}
