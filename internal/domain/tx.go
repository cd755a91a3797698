package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// PendingTransaction is one transaction observed in a network's pending block.
// It is immutable once fetched and lives for a single scan cycle.
type PendingTransaction struct {
	Network  string
	Hash     common.Hash
	From     common.Address
	To       *common.Address // nil for contract creation
	Nonce    uint64
	Type     uint8
	Value    *uint256.Int
	GasPrice *uint256.Int
	Gas      uint64
	// Fee-market fields, nil on legacy transactions.
	MaxFeePerGas         *uint256.Int
	MaxPriorityFeePerGas *uint256.Int
	Input                []byte
	SeenAt               time.Time
}

// IsFeeMarket reports whether the transaction carries EIP-1559 fee fields.
func (t *PendingTransaction) IsFeeMarket() bool {
	return t.MaxFeePerGas != nil
}

// FeatureVector is the fixed-width numeric input of a Scorer.
type FeatureVector []float64

// Verdict is the evaluator's decision for one candidate.
type Verdict int

const (
	Reject Verdict = iota
	Accept
)

func (v Verdict) String() string {
	if v == Accept {
		return "Accept"
	}
	return "Reject"
}

// Evaluation explains a Verdict.
type Evaluation struct {
	Verdict   Verdict
	Score     float64
	GasCost   *big.Int // gas price x network gas-limit estimate, in wei
	MinProfit *big.Int // minimum-profit threshold, in wei (floored)
	Reason    string
}

// TradeCandidate is a pending transaction with its features and verdict.
// It lives only within one scheduler cycle.
type TradeCandidate struct {
	Tx         PendingTransaction
	Features   FeatureVector
	Evaluation Evaluation
}

// TradeIntent is the competing transaction the executor is about to sign.
// At most one intent is in flight per (network, nonce).
type TradeIntent struct {
	ID         uuid.UUID
	Network    string
	ChainID    *big.Int
	Account    common.Address
	Target     common.Address
	Value      *big.Int
	Data       []byte
	GasLimit   uint64
	Nonce      uint64
	FeeMarket  bool
	GasPrice   *big.Int // legacy
	GasFeeCap  *big.Int // fee market
	GasTipCap  *big.Int // fee market
	OriginHash common.Hash
}

// MaxFeePerGas returns the highest per-gas price the intent may pay.
func (ti *TradeIntent) MaxFeePerGas() *big.Int {
	if ti.FeeMarket {
		return ti.GasFeeCap
	}
	return ti.GasPrice
}
