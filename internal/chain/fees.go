package chain

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
)

const (
	feeHistoryBlocks     = 20
	feeHistoryPercentile = 50
)

// tipFromFeeHistory returns the max reward at the requested percentile over the window.
func tipFromFeeHistory(h *ethereum.FeeHistory) (*big.Int, error) {
	if h == nil {
		return nil, errors.New("feeHistory: empty response")
	}
	best := big.NewInt(0)
	for _, row := range h.Reward {
		if len(row) == 0 || row[0] == nil {
			continue
		}
		if row[0].Cmp(best) > 0 {
			best = row[0]
		}
	}
	if best.Sign() == 0 {
		return nil, errors.New("feeHistory: empty reward")
	}
	return new(big.Int).Set(best), nil
}
