package signer

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/mempool-searcher/internal/domain"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func intent(feeMarket bool) domain.TradeIntent {
	in := domain.TradeIntent{
		Network:   "ETH",
		ChainID:   big.NewInt(1),
		Target:    common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		Value:     big.NewInt(1000),
		Data:      []byte{0xa9, 0x05, 0x9c, 0xbb},
		GasLimit:  21000,
		Nonce:     7,
		FeeMarket: feeMarket,
	}
	if feeMarket {
		in.GasTipCap = big.NewInt(2_000_000_000)
		in.GasFeeCap = big.NewInt(40_000_000_000)
	} else {
		in.GasPrice = big.NewInt(22_000_000_000)
	}
	return in
}

func TestSign_RoundTrip(t *testing.T) {
	s, err := FromHex("0x" + testKey)
	require.NoError(t, err)
	prv, _ := gethcrypto.HexToECDSA(testKey)
	require.Equal(t, gethcrypto.PubkeyToAddress(prv.PublicKey), s.Address())

	for _, feeMarket := range []bool{true, false} {
		signed, err := s.Sign(context.Background(), intent(feeMarket))
		require.NoError(t, err)

		var decoded types.Transaction
		require.NoError(t, decoded.UnmarshalBinary(signed.Raw))
		assert.Equal(t, signed.Hash, decoded.Hash())
		assert.Equal(t, uint64(7), decoded.Nonce())

		from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), &decoded)
		require.NoError(t, err)
		assert.Equal(t, s.Address(), from)

		if feeMarket {
			assert.Equal(t, uint8(types.DynamicFeeTxType), decoded.Type())
			assert.Equal(t, int64(40_000_000_000), decoded.GasFeeCap().Int64())
		} else {
			assert.Equal(t, uint8(types.LegacyTxType), decoded.Type())
			assert.Equal(t, int64(1), decoded.ChainId().Int64(), "legacy transactions are replay protected")
		}
	}
}

func TestSign_Failures(t *testing.T) {
	s, err := FromHex(testKey)
	require.NoError(t, err)

	in := intent(true)
	in.ChainID = nil
	_, err = s.Sign(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrSigning)

	in = intent(true)
	in.GasTipCap = big.NewInt(50_000_000_000)
	_, err = s.Sign(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrSigning)

	in = intent(false)
	in.GasPrice = nil
	_, err = s.Sign(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrSigning)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Sign(ctx, intent(true))
	assert.ErrorIs(t, err, domain.ErrSigning)
}

func TestKeyNeverPrinted(t *testing.T) {
	_, err := FromHex("0xnot-a-key-" + testKey[:20])
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testKey[:20])

	s, _ := FromHex(testKey)
	assert.NotContains(t, fmt.Sprint(s), testKey)
	assert.NotContains(t, fmt.Sprintf("%v", s), testKey[:16])
}
