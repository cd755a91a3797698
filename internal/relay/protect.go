package relay

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lmittmann/flashbots"
	"github.com/lmittmann/w3"
)

// ProtectRelay sends through a Flashbots Protect style endpoint with the w3 flashbots client.
type ProtectRelay struct {
	url     string
	client  *w3.Client
	timeout time.Duration
}

func DialProtect(url string, authKey *ecdsa.PrivateKey, timeout time.Duration) (*ProtectRelay, error) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	client, err := flashbots.Dial(url, authKey)
	if err != nil {
		return nil, fmt.Errorf("dial protect relay: %w", err)
	}
	return &ProtectRelay{url: url, client: client, timeout: timeout}, nil
}

func (p *ProtectRelay) URL() string { return protectPrefix + p.url }

func (p *ProtectRelay) Submit(ctx context.Context, raw []byte) (common.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var hash common.Hash
	if err := p.client.CallCtx(ctx,
		flashbots.SendPrivateTx(&flashbots.SendPrivateTxRequest{RawTx: raw, Fast: true}).Returns(&hash),
	); err != nil {
		return common.Hash{}, err
	}
	if hash == (common.Hash{}) {
		return common.Hash{}, fmt.Errorf("protect relay: empty transaction hash")
	}
	return hash, nil
}

func (p *ProtectRelay) Close() error {
	return p.client.Close()
}
