package chain_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ligun0805/mempool-searcher/internal/chain"
	"github.com/ligun0805/mempool-searcher/internal/chain/chaintest"
	"github.com/ligun0805/mempool-searcher/internal/domain"
)

func cfgs(ids ...string) []domain.NetworkConfig {
	out := make([]domain.NetworkConfig, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.NetworkConfig{ID: id, URL: "http://" + id})
	}
	return out
}

func TestRegistry_Connect(t *testing.T) {
	lggr := zaptest.NewLogger(t).Sugar()
	eps := map[string]*chaintest.Endpoint{
		"ETH": {ID: big.NewInt(1)},
		"BSC": {ChainErr: errors.New("timeout")},
	}
	r := chain.NewRegistry(cfgs("POLYGON", "ETH", "BSC"), chaintest.Dialer(eps), time.Second, lggr)
	require.NoError(t, r.Connect(context.Background()))

	assert.True(t, r.IsLive("ETH"))
	assert.False(t, r.IsLive("BSC"))
	assert.False(t, r.IsLive("POLYGON"))

	live := r.Live()
	require.Len(t, live, 1)
	assert.Equal(t, "ETH", live[0].ID)
	assert.Equal(t, int64(1), live[0].ChainID.Int64())

	all := r.Networks()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"BSC", "ETH", "POLYGON"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, domain.Dead, all[0].State)
	assert.Contains(t, all[0].Reason, "timeout")
	assert.Contains(t, all[2].Reason, "connection refused")
	assert.True(t, eps["BSC"].Closed)

	_, ok := r.Endpoint("BSC")
	assert.False(t, ok)
	ep, ok := r.Endpoint("ETH")
	require.True(t, ok)
	assert.NotNil(t, ep)

	require.Error(t, r.Connect(context.Background()), "second connect")
}

func TestRegistry_AllDeadIsFatal(t *testing.T) {
	lggr := zaptest.NewLogger(t).Sugar()
	r := chain.NewRegistry(cfgs("ETH", "BSC"), chaintest.Dialer(nil), time.Second, lggr)
	err := r.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoLiveNetworks)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Empty(t, r.Live())
	for _, n := range r.Networks() {
		assert.Equal(t, domain.Dead, n.State)
	}
}

func TestRegistry_ChainIDMismatch(t *testing.T) {
	lggr := zaptest.NewLogger(t).Sugar()
	eps := map[string]*chaintest.Endpoint{
		"ETH": {ID: big.NewInt(1)},
		"BSC": {ID: big.NewInt(1)},
	}
	c := cfgs("ETH", "BSC")
	c[1].ChainID = big.NewInt(56)
	r := chain.NewRegistry(c, chaintest.Dialer(eps), time.Second, lggr)
	require.NoError(t, r.Connect(context.Background()))

	n, ok := r.Network("BSC")
	require.True(t, ok)
	assert.Equal(t, domain.Dead, n.State)
	assert.Contains(t, n.Reason, "chain id mismatch")
	assert.True(t, r.IsLive("ETH"))
}

func TestRegistry_MissingURL(t *testing.T) {
	lggr := zaptest.NewLogger(t).Sugar()
	eps := map[string]*chaintest.Endpoint{"ETH": {}}
	r := chain.NewRegistry([]domain.NetworkConfig{{ID: "ETH"}}, chaintest.Dialer(eps), time.Second, lggr)
	require.ErrorIs(t, r.Connect(context.Background()), domain.ErrNoLiveNetworks)
	n, _ := r.Network("ETH")
	assert.Equal(t, "missing endpoint url", n.Reason)
}
