package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ligun0805/mempool-searcher/internal/domain"
)

// ErrTxNotFound is returned when a listed transaction is no longer known to the endpoint.
var ErrTxNotFound = ethereum.NotFound

// Endpoint is the JSON-RPC surface of one network used by the pipeline.
// Every call is bounded by the endpoint's own timeout on top of ctx.
type Endpoint interface {
	ChainID(ctx context.Context) (*big.Int, error)
	// PendingBlockTransactions returns the pending block's transaction list as
	// returned by the node: full objects or bare hashes.
	PendingBlockTransactions(ctx context.Context) ([]json.RawMessage, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (json.RawMessage, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
	Close()
}

// Dialer opens an Endpoint for a configured network.
type Dialer func(ctx context.Context, cfg domain.NetworkConfig) (Endpoint, error)

// RPCDialer returns a Dialer for go-ethereum JSON-RPC endpoints (http, ws or ipc).
func RPCDialer(timeout time.Duration) Dialer {
	return func(ctx context.Context, cfg domain.NetworkConfig) (Endpoint, error) {
		return DialRPC(ctx, cfg.URL, timeout)
	}
}

// RPCEndpoint talks to a node over go-ethereum's rpc client.
type RPCEndpoint struct {
	rc      *rpc.Client
	ec      *ethclient.Client
	timeout time.Duration
}

var _ Endpoint = (*RPCEndpoint)(nil)

func DialRPC(ctx context.Context, url string, timeout time.Duration) (*RPCEndpoint, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return NewRPCEndpoint(rc, timeout), nil
}

func NewRPCEndpoint(rc *rpc.Client, timeout time.Duration) *RPCEndpoint {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &RPCEndpoint{rc: rc, ec: ethclient.NewClient(rc), timeout: timeout}
}

func (e *RPCEndpoint) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

func (e *RPCEndpoint) ChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel := e.ctx(ctx)
	defer cancel()
	return e.ec.ChainID(ctx)
}

func (e *RPCEndpoint) PendingBlockTransactions(ctx context.Context) ([]json.RawMessage, error) {
	ctx, cancel := e.ctx(ctx)
	defer cancel()

	var raw json.RawMessage
	if err := e.rc.CallContext(ctx, &raw, "eth_getBlockByNumber", "pending", true); err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	var blk rpcBlock
	if err := json.Unmarshal(raw, &blk); err != nil {
		return nil, fmt.Errorf("decode pending block: %w", err)
	}
	return blk.Transactions, nil
}

func (e *RPCEndpoint) TransactionByHash(ctx context.Context, hash common.Hash) (json.RawMessage, error) {
	ctx, cancel := e.ctx(ctx)
	defer cancel()

	var raw json.RawMessage
	if err := e.rc.CallContext(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, ErrTxNotFound
	}
	return raw, nil
}

func (e *RPCEndpoint) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	ctx, cancel := e.ctx(ctx)
	defer cancel()
	return e.ec.PendingNonceAt(ctx, account)
}

func (e *RPCEndpoint) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := e.ctx(ctx)
	defer cancel()
	return e.ec.SuggestGasPrice(ctx)
}

// SuggestGasTipCap uses eth_maxPriorityFeePerGas and falls back to the
// highest median reward of recent blocks when the node does not support it.
func (e *RPCEndpoint) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	ctx, cancel := e.ctx(ctx)
	defer cancel()
	tip, err := e.ec.SuggestGasTipCap(ctx)
	if err == nil && tip != nil && tip.Sign() > 0 {
		return tip, nil
	}
	hist, herr := e.ec.FeeHistory(ctx, feeHistoryBlocks, nil, []float64{feeHistoryPercentile})
	if herr != nil {
		return nil, errors.Join(err, herr)
	}
	return tipFromFeeHistory(hist)
}

func (e *RPCEndpoint) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	ctx, cancel := e.ctx(ctx)
	defer cancel()

	var hash common.Hash
	if err := e.rc.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Bytes(raw)); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func (e *RPCEndpoint) Close() {
	e.rc.Close()
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
