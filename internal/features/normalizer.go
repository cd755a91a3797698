// Package features maps pending transactions to fixed-width Scorer inputs.
package features

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/ligun0805/mempool-searcher/internal/domain"
)

// Slots filled from a transaction; the rest of the vector is zero.
const (
	SlotValue = iota
	SlotGasPrice
	SlotGas
	SlotMaxFee
	SlotMaxPriorityFee
	numSlots
)

// MaxRelativeError bounds |float64(x) - x| / x for every non-zero feature:
// each integer is rounded once, to nearest even, into a 53-bit mantissa.
const MaxRelativeError = 1.0 / (1 << 53)

// Normalizer produces vectors of a constant width.
type Normalizer struct {
	width int
}

// NewNormalizer returns a Normalizer for the given width. Widths below one are raised to one.
func NewNormalizer(width int) Normalizer {
	if width < 1 {
		width = 1
	}
	return Normalizer{width: width}
}

func (n Normalizer) Width() int { return n.width }

// Normalize never fails: absent optional fields become zero and a width
// smaller than the number of known fields truncates.
func (n Normalizer) Normalize(tx domain.PendingTransaction) domain.FeatureVector {
	var raw [numSlots]float64
	raw[SlotValue] = toFloat(tx.Value)
	raw[SlotGasPrice] = toFloat(tx.GasPrice)
	raw[SlotGas] = float64(tx.Gas)
	raw[SlotMaxFee] = toFloat(tx.MaxFeePerGas)
	raw[SlotMaxPriorityFee] = toFloat(tx.MaxPriorityFeePerGas)

	fv := make(domain.FeatureVector, n.width)
	copy(fv, raw[:])
	return fv
}

func toFloat(x *uint256.Int) float64 {
	if x == nil || x.IsZero() {
		return 0
	}
	if x.IsUint64() {
		u := x.Uint64()
		if u <= 1<<53 {
			return float64(u)
		}
	}
	f, _ := new(big.Float).SetInt(x.ToBig()).Float64()
	return f
}
