package mempool

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/ligun0805/mempool-searcher/internal/domain"
)

var errMissing = errors.New("missing")

// rpcTransaction is the JSON-RPC transaction object. Quantities are kept as
// strings so oversized values are reported instead of silently truncated.
type rpcTransaction struct {
	Hash                 *common.Hash    `json:"hash"`
	From                 *common.Address `json:"from"`
	To                   *common.Address `json:"to"`
	Nonce                string          `json:"nonce"`
	Type                 string          `json:"type"`
	Value                string          `json:"value"`
	Gas                  string          `json:"gas"`
	GasPrice             string          `json:"gasPrice"`
	MaxFeePerGas         string          `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string          `json:"maxPriorityFeePerGas"`
	Input                hexutil.Bytes   `json:"input"`
}

// decodeTransaction turns one raw transaction object into a PendingTransaction.
// Any malformed or missing required field is an ErrFeature.
func decodeTransaction(network string, raw json.RawMessage, seenAt time.Time) (domain.PendingTransaction, error) {
	var rt rpcTransaction
	if err := json.Unmarshal(raw, &rt); err != nil {
		return domain.PendingTransaction{}, fmt.Errorf("%w: %w", domain.ErrFeature, err)
	}
	if rt.Hash == nil {
		return domain.PendingTransaction{}, fmt.Errorf("%w: missing hash", domain.ErrFeature)
	}
	if rt.From == nil {
		return domain.PendingTransaction{}, fmt.Errorf("%w: %s: missing from", domain.ErrFeature, rt.Hash)
	}

	tx := domain.PendingTransaction{
		Network: network,
		Hash:    *rt.Hash,
		From:    *rt.From,
		To:      rt.To,
		Input:   rt.Input,
		SeenAt:  seenAt,
	}
	var err error
	fail := func(field string, err error) (domain.PendingTransaction, error) {
		return domain.PendingTransaction{}, fmt.Errorf("%w: %s: %s: %w", domain.ErrFeature, rt.Hash, field, err)
	}

	if tx.Nonce, err = quantity64(rt.Nonce, true); err != nil {
		return fail("nonce", err)
	}
	if tx.Gas, err = quantity64(rt.Gas, true); err != nil {
		return fail("gas", err)
	}
	typ, err := quantity64(rt.Type, false)
	if err != nil || typ > 0xff {
		return fail("type", fmt.Errorf("invalid transaction type %q", rt.Type))
	}
	tx.Type = uint8(typ)
	if tx.Value, err = quantity256(rt.Value, true); err != nil {
		return fail("value", err)
	}
	if tx.MaxFeePerGas, err = quantity256(rt.MaxFeePerGas, false); err != nil {
		return fail("maxFeePerGas", err)
	}
	if tx.MaxPriorityFeePerGas, err = quantity256(rt.MaxPriorityFeePerGas, false); err != nil {
		return fail("maxPriorityFeePerGas", err)
	}
	if tx.GasPrice, err = quantity256(rt.GasPrice, false); err != nil {
		return fail("gasPrice", err)
	}
	if tx.GasPrice == nil {
		// Pending fee-market transactions may omit gasPrice; the cap is the worst case.
		if tx.MaxFeePerGas == nil {
			return fail("gasPrice", errMissing)
		}
		tx.GasPrice = new(uint256.Int).Set(tx.MaxFeePerGas)
	}
	if tx.MaxPriorityFeePerGas != nil && tx.MaxFeePerGas == nil {
		return fail("maxFeePerGas", errors.New("missing while maxPriorityFeePerGas is set"))
	}
	return tx, nil
}

func quantity64(s string, required bool) (uint64, error) {
	if s == "" {
		if required {
			return 0, errMissing
		}
		return 0, nil
	}
	return hexutil.DecodeUint64(s)
}

// quantity256 returns nil for an absent optional field.
func quantity256(s string, required bool) (*uint256.Int, error) {
	if s == "" {
		if required {
			return nil, errMissing
		}
		return nil, nil
	}
	b, err := hexutil.DecodeBig(s)
	if err != nil {
		return nil, err
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%s exceeds 256 bits", s)
	}
	return v, nil
}
