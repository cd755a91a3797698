// Package evaluate decides which pending transactions are worth competing for.
package evaluate

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"go.uber.org/zap"

	"github.com/ligun0805/mempool-searcher/internal/domain"
	"github.com/ligun0805/mempool-searcher/internal/metrics"
)

// Fee check policies.
const (
	FeeCheckBeforeBump = "before_bump"
	FeeCheckAfterBump  = "after_bump"
)

// Profit bases.
const (
	ProfitBasisValue         = "value"
	ProfitBasisValueMinusGas = "value_minus_gas"
)

type Config struct {
	Width             int
	ScoreThreshold    float64
	MinProfitFraction float64
	// FeeMultiplier, capped by FeeMultiplierCap, is applied to the candidate's
	// gas price before the profit check under the after_bump policy.
	FeeMultiplier    float64
	FeeMultiplierCap float64
	FeeCheckPolicy   string
	ProfitBasis      string
}

// Evaluator accepts a candidate only when the Scorer accepts it and the
// projected gas cost is strictly below the minimum profit. Any failure rejects.
type Evaluator struct {
	lggr    *zap.SugaredLogger
	scorer  Scorer
	cfg     Config
	gate    ProfitGate
	metrics *metrics.Metrics
}

func NewEvaluator(scorer Scorer, cfg Config, m *metrics.Metrics, lggr *zap.SugaredLogger) (*Evaluator, error) {
	gate, err := NewProfitGate(cfg.MinProfitFraction, cfg.ProfitBasis)
	if err != nil {
		return nil, err
	}
	switch cfg.FeeCheckPolicy {
	case "":
		cfg.FeeCheckPolicy = FeeCheckBeforeBump
	case FeeCheckBeforeBump, FeeCheckAfterBump:
	default:
		return nil, fmt.Errorf("%w: unknown fee check policy %q", domain.ErrConfiguration, cfg.FeeCheckPolicy)
	}
	return &Evaluator{
		lggr:    lggr.Named("Evaluator"),
		scorer:  scorer,
		cfg:     cfg,
		gate:    gate,
		metrics: m,
	}, nil
}

// Gate is the deterministic profit check shared with the executor.
func (e *Evaluator) Gate() ProfitGate { return e.gate }

// Evaluate judges one transaction. gasLimit is the network's gas-limit estimate.
func (e *Evaluator) Evaluate(ctx context.Context, tx domain.PendingTransaction, fv domain.FeatureVector, gasLimit uint64) domain.Evaluation {
	ev := e.evaluate(ctx, tx, fv, gasLimit)
	e.metrics.RecordVerdict(tx.Network, ev.Verdict.String())
	return ev
}

func (e *Evaluator) evaluate(ctx context.Context, tx domain.PendingTransaction, fv domain.FeatureVector, gasLimit uint64) domain.Evaluation {
	ev := domain.Evaluation{Verdict: domain.Reject}

	if len(fv) != e.cfg.Width {
		ev.Reason = fmt.Errorf("%w: feature width %d, expected %d", domain.ErrEvaluation, len(fv), e.cfg.Width).Error()
		return ev
	}

	price := domain.U256ToBig(tx.GasPrice)
	if e.cfg.FeeCheckPolicy == FeeCheckAfterBump {
		price = Bump(price, e.cfg.FeeMultiplier, e.cfg.FeeMultiplierCap)
	}
	gasCost, minProfit, ok := e.gate.Check(price, gasLimit, domain.U256ToBig(tx.Value))
	ev.GasCost, ev.MinProfit = gasCost, minProfit
	if !ok {
		ev.Reason = fmt.Sprintf("gas cost %s ETH not below min profit %s ETH", domain.FmtETH(gasCost), domain.FmtETH(minProfit))
		return ev
	}

	score, err := e.scorer.Score(ctx, fv)
	if err != nil {
		e.lggr.Warnw("Scorer failed", "network", tx.Network, "tx", tx.Hash, "err", err)
		ev.Reason = fmt.Errorf("%w: %w", domain.ErrEvaluation, err).Error()
		return ev
	}
	ev.Score = score
	if score < e.cfg.ScoreThreshold {
		ev.Reason = fmt.Sprintf("score %s below threshold %s", fmtScore(score), fmtScore(e.cfg.ScoreThreshold))
		return ev
	}

	ev.Verdict = domain.Accept
	ev.Reason = fmt.Sprintf("score %s, gas cost %s ETH < min profit %s ETH", fmtScore(score), domain.FmtETH(gasCost), domain.FmtETH(minProfit))
	return ev
}

// ProfitGate holds the minimum-profit fraction as an exact rational.
type ProfitGate struct {
	frac  *big.Rat
	basis string
}

func NewProfitGate(fraction float64, basis string) (ProfitGate, error) {
	if !(fraction > 0 && fraction < 1) {
		return ProfitGate{}, fmt.Errorf("%w: min profit fraction %v outside (0,1)", domain.ErrConfiguration, fraction)
	}
	switch basis {
	case "":
		basis = ProfitBasisValue
	case ProfitBasisValue, ProfitBasisValueMinusGas:
	default:
		return ProfitGate{}, fmt.Errorf("%w: unknown profit basis %q", domain.ErrConfiguration, basis)
	}
	// The shortest decimal form keeps 0.002 exactly 1/500.
	frac, ok := new(big.Rat).SetString(strconv.FormatFloat(fraction, 'f', -1, 64))
	if !ok {
		return ProfitGate{}, fmt.Errorf("%w: min profit fraction %v", domain.ErrConfiguration, fraction)
	}
	return ProfitGate{frac: frac, basis: basis}, nil
}

// Check returns gasPrice × gasLimit, floor(fraction × basis), and whether the
// gas cost is strictly below fraction × basis. The comparison is exact.
func (g ProfitGate) Check(gasPrice *big.Int, gasLimit uint64, value *big.Int) (gasCost, minProfit *big.Int, ok bool) {
	gasCost = new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	basis := new(big.Int).Set(value)
	if g.basis == ProfitBasisValueMinusGas {
		basis.Sub(basis, gasCost)
	}
	if basis.Sign() <= 0 {
		return gasCost, new(big.Int), false
	}
	// gasCost < num/den × basis  ⇔  gasCost × den < num × basis
	lhs := new(big.Int).Mul(gasCost, g.frac.Denom())
	rhs := new(big.Int).Mul(basis, g.frac.Num())
	minProfit = new(big.Int).Quo(rhs, g.frac.Denom())
	return gasCost, minProfit, lhs.Cmp(rhs) < 0
}

// Bump multiplies price by min(mult, cap), never lowering it.
func Bump(price *big.Int, mult, limit float64) *big.Int {
	if mult > limit && limit >= 1 {
		mult = limit
	}
	if mult <= 1 || price.Sign() == 0 {
		return new(big.Int).Set(price)
	}
	out, _ := new(big.Float).Mul(new(big.Float).SetInt(price), big.NewFloat(mult)).Int(nil)
	if out.Cmp(price) < 0 {
		out.Set(price)
	}
	return out
}

func fmtScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
