// Package chaintest provides an in-memory chain.Endpoint for tests.
package chaintest

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ligun0805/mempool-searcher/internal/chain"
	"github.com/ligun0805/mempool-searcher/internal/domain"
)

// Endpoint is a scriptable chain.Endpoint. Zero values answer with
// chain id 1, nonce 0 and 1 gwei fee suggestions.
type Endpoint struct {
	mu sync.Mutex

	ID       *big.Int
	ChainErr error

	Pending    []json.RawMessage
	PendingErr error
	ByHash     map[common.Hash]json.RawMessage
	ByHashErr  map[common.Hash]error

	Nonce    uint64
	NonceErr error

	GasPrice *big.Int
	TipCap   *big.Int
	FeeErr   error

	SendErr error
	Sent    [][]byte

	PendingCalls int
	Closed       bool
}

var _ chain.Endpoint = (*Endpoint)(nil)

func (e *Endpoint) ChainID(ctx context.Context) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.ChainErr != nil {
		return nil, e.ChainErr
	}
	if e.ID == nil {
		return big.NewInt(1), nil
	}
	return e.ID, nil
}

func (e *Endpoint) PendingBlockTransactions(ctx context.Context) ([]json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.PendingCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.PendingErr != nil {
		return nil, e.PendingErr
	}
	return e.Pending, nil
}

func (e *Endpoint) TransactionByHash(ctx context.Context, hash common.Hash) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := e.ByHashErr[hash]; ok {
		return nil, err
	}
	raw, ok := e.ByHash[hash]
	if !ok {
		return nil, chain.ErrTxNotFound
	}
	return raw, nil
}

func (e *Endpoint) PendingNonceAt(ctx context.Context, _ common.Address) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NonceErr != nil {
		return 0, e.NonceErr
	}
	return e.Nonce, ctx.Err()
}

func (e *Endpoint) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if e.FeeErr != nil {
		return nil, e.FeeErr
	}
	if e.GasPrice == nil {
		return big.NewInt(1_000_000_000), nil
	}
	return new(big.Int).Set(e.GasPrice), ctx.Err()
}

func (e *Endpoint) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	if e.FeeErr != nil {
		return nil, e.FeeErr
	}
	if e.TipCap == nil {
		return big.NewInt(1_000_000_000), nil
	}
	return new(big.Int).Set(e.TipCap), ctx.Err()
}

func (e *Endpoint) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	e.Sent = append(e.Sent, raw)
	if e.SendErr != nil {
		return common.Hash{}, e.SendErr
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, errors.New("invalid raw transaction")
	}
	return tx.Hash(), nil
}

func (e *Endpoint) SentCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Sent)
}

func (e *Endpoint) Close() {
	e.mu.Lock()
	e.Closed = true
	e.mu.Unlock()
}

// Dialer serves endpoints from a map keyed by network id. Missing ids fail to dial.
func Dialer(eps map[string]*Endpoint) chain.Dialer {
	return func(ctx context.Context, cfg domain.NetworkConfig) (chain.Endpoint, error) {
		ep, ok := eps[cfg.ID]
		if !ok {
			return nil, errors.New("connection refused")
		}
		return ep, nil
	}
}
