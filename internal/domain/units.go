package domain

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var weiPerGwei = big.NewInt(1_000_000_000)

// GweiToWei converts a whole gwei amount to wei.
func GweiToWei(g int64) *big.Int {
	x := new(big.Int).SetInt64(g)
	return x.Mul(x, weiPerGwei)
}

// U256ToBig copies a uint256 into a big.Int; nil becomes zero.
func U256ToBig(x *uint256.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x.ToBig()
}

// FmtETH renders a wei amount in ether with 6 decimals.
func FmtETH(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x, -18).StringFixed(6)
}

// FmtGwei renders a wei amount in gwei with 2 decimals.
func FmtGwei(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x, -9).StringFixed(2)
}
