// Package signer turns trade intents into signed, network-encoded transactions.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/ligun0805/mempool-searcher/internal/domain"
)

// Signer signs intents for the account it holds. Implementations never log
// or return key material.
type Signer interface {
	Address() common.Address
	Sign(ctx context.Context, intent domain.TradeIntent) (SignedTx, error)
}

// SignedTx is a signed transaction and its binary (RLP / typed envelope) encoding.
type SignedTx struct {
	Tx   *types.Transaction
	Raw  []byte
	Hash common.Hash
}

// KeySigner signs with an in-memory secp256k1 key.
type KeySigner struct {
	prv  *ecdsa.PrivateKey
	addr common.Address
}

var _ Signer = (*KeySigner)(nil)

// FromHex parses a hex private key. Errors never echo the input.
func FromHex(pkHex string) (*KeySigner, error) {
	prv, err := gethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(pkHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid private key", domain.ErrConfiguration)
	}
	return New(prv), nil
}

func New(prv *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{prv: prv, addr: gethcrypto.PubkeyToAddress(prv.PublicKey)}
}

func (s *KeySigner) Address() common.Address { return s.addr }

// String keeps the key out of fmt output.
func (s *KeySigner) String() string { return "KeySigner(" + s.addr.Hex() + ")" }

func (s *KeySigner) Sign(ctx context.Context, intent domain.TradeIntent) (SignedTx, error) {
	if err := ctx.Err(); err != nil {
		return SignedTx{}, fmt.Errorf("%w: %w", domain.ErrSigning, err)
	}
	if intent.ChainID == nil || intent.ChainID.Sign() <= 0 {
		return SignedTx{}, fmt.Errorf("%w: missing chain id", domain.ErrSigning)
	}
	tx, err := Build(intent)
	if err != nil {
		return SignedTx{}, fmt.Errorf("%w: %w", domain.ErrSigning, err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(s.prv, intent.ChainID)
	if err != nil {
		return SignedTx{}, fmt.Errorf("%w: %w", domain.ErrSigning, err)
	}
	signed, err := opts.Signer(s.addr, tx)
	if err != nil {
		return SignedTx{}, fmt.Errorf("%w: %w", domain.ErrSigning, err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return SignedTx{}, fmt.Errorf("%w: encode: %w", domain.ErrSigning, err)
	}
	return SignedTx{Tx: signed, Raw: raw, Hash: signed.Hash()}, nil
}

// Build creates the unsigned transaction for an intent: a dynamic-fee
// transaction on fee-market networks and a legacy one otherwise.
func Build(intent domain.TradeIntent) (*types.Transaction, error) {
	to := intent.Target
	value := intent.Value
	if value == nil {
		value = new(big.Int)
	}
	if intent.FeeMarket {
		if intent.GasTipCap == nil || intent.GasFeeCap == nil {
			return nil, errors.New("fee-market intent without tip or fee cap")
		}
		if intent.GasTipCap.Cmp(intent.GasFeeCap) > 0 {
			return nil, fmt.Errorf("tip %s above fee cap %s", intent.GasTipCap, intent.GasFeeCap)
		}
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   intent.ChainID,
			Nonce:     intent.Nonce,
			Gas:       intent.GasLimit,
			GasTipCap: new(big.Int).Set(intent.GasTipCap),
			GasFeeCap: new(big.Int).Set(intent.GasFeeCap),
			To:        &to,
			Value:     new(big.Int).Set(value),
			Data:      intent.Data,
		}), nil
	}
	if intent.GasPrice == nil {
		return nil, errors.New("legacy intent without gas price")
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    intent.Nonce,
		GasPrice: new(big.Int).Set(intent.GasPrice),
		Gas:      intent.GasLimit,
		To:       &to,
		Value:    new(big.Int).Set(value),
		Data:     intent.Data,
	}), nil
}
