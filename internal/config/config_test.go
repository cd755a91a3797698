package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ligun0805/mempool-searcher/internal/domain"
	"github.com/ligun0805/mempool-searcher/internal/evaluate"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_Defaults(t *testing.T) {
	st, err := load(envFrom(map[string]string{
		"ETH_RPC":     "https://eth.example",
		"bsc_rpc":     "https://bsc.example",
		"PRIVATE_KEY": "0xabc",
	}))
	require.NoError(t, err)

	require.Len(t, st.Networks, 2)
	assert.Equal(t, "BSC", st.Networks[0].ID)
	assert.Equal(t, "ETH", st.Networks[1].ID)
	assert.Equal(t, uint64(21_000), st.Networks[1].GasLimit)

	assert.Equal(t, 0.002, st.MinProfitFraction)
	assert.Equal(t, 1.1, st.FeeMultiplier)
	assert.Equal(t, 15, st.FeatureWidth)
	assert.Equal(t, evaluate.FeeCheckBeforeBump, st.FeeCheckPolicy)
	assert.Equal(t, evaluate.ProfitBasisValue, st.ProfitBasis)
	assert.Equal(t, 30*time.Second, st.ShortSleepMin)
	assert.Equal(t, 600*time.Second, st.IdleSleepMax)
	assert.Equal(t, "https://relay.flashbots.net", st.RelayURL)
	require.NoError(t, st.Validate())
}

func TestLoad_MissingURLExcludesNetwork(t *testing.T) {
	st, err := load(envFrom(map[string]string{
		"ETH_RPC":      "https://eth.example",
		"AVAX_RPC":     "   ",
		"ARBITRUM_RPC": "",
		"PRIVATE_KEY":  "0xabc",
	}))
	require.NoError(t, err)
	require.Len(t, st.Networks, 1)
	assert.Equal(t, "ETH", st.Networks[0].ID)
}

func TestLoad_DurationsAcceptSecondsAndGoSyntax(t *testing.T) {
	st, err := load(envFrom(map[string]string{
		"RPC_TIMEOUT":    "5",
		"CYCLE_DEADLINE": "2m",
	}))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, st.RPCTimeout)
	assert.Equal(t, 2*time.Minute, st.CycleDeadline)
}

func TestLoad_BadNumberIsConfigurationError(t *testing.T) {
	_, err := load(envFrom(map[string]string{"FEATURE_WIDTH": "wide"}))
	require.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "FEATURE_WIDTH")
}

func TestValidate_MissingSigningKeyIsFatal(t *testing.T) {
	st, err := load(envFrom(map[string]string{"ETH_RPC": "https://eth.example"}))
	require.NoError(t, err)

	err = st.Validate()
	require.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "PRIVATE_KEY")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	st, err := load(envFrom(map[string]string{
		"MIN_PROFIT_FRACTION": "1.5",
		"FEE_CHECK_POLICY":    "sometimes",
	}))
	require.NoError(t, err)

	err = st.Validate()
	require.Error(t, err)
	for _, want := range []string{"PRIVATE_KEY", "no network", "MIN_PROFIT_FRACTION", "FEE_CHECK_POLICY"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoad_ConfigFileMergesNetworks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[networks.eth]
chain_id = 1
gas_limit = 50000

[networks.polygon]
url = "https://polygon.example"
relay_url = "https://relay.polygon.example"

[networks.base]
gas_limit = 30000
`), 0o644))

	st, err := load(envFrom(map[string]string{
		"ETH_RPC":     "https://eth.example",
		"CONFIG_FILE": path,
	}))
	require.NoError(t, err)
	require.Len(t, st.Networks, 2)

	eth, polygon := st.Networks[0], st.Networks[1]
	assert.Equal(t, "ETH", eth.ID)
	assert.Equal(t, "https://eth.example", eth.URL)
	assert.Equal(t, int64(1), eth.ChainID.Int64())
	assert.Equal(t, uint64(50_000), eth.GasLimit)

	assert.Equal(t, "POLYGON", polygon.ID)
	assert.Equal(t, "https://relay.polygon.example", polygon.RelayURL)
	assert.Equal(t, uint64(21_000), polygon.GasLimit)
}

func TestMaskHex(t *testing.T) {
	assert.Equal(t, "***", MaskHex("0x1234"))
	assert.Equal(t, "0x4c08…f8a1", MaskHex("0x4c0883a69102937d6231471b5dbb6204fe512961708279f8a1"))
}

func TestLoad_PoliciesAcceptedByEvaluator(t *testing.T) {
	st, err := load(envFrom(map[string]string{
		"ETH_RPC":          "https://eth.example",
		"PRIVATE_KEY":      "0xabc",
		"FEE_CHECK_POLICY": "AFTER_BUMP",
		"profit_basis":     "value_minus_gas",
	}))
	require.NoError(t, err)
	require.NoError(t, st.Validate())
	assert.Equal(t, evaluate.FeeCheckAfterBump, st.FeeCheckPolicy)
	assert.Equal(t, evaluate.ProfitBasisValueMinusGas, st.ProfitBasis)

	_, err = evaluate.NewEvaluator(evaluate.RuleScorer{}, evaluate.Config{
		Width:             st.FeatureWidth,
		ScoreThreshold:    st.ScoreThreshold,
		MinProfitFraction: st.MinProfitFraction,
		FeeMultiplier:     st.FeeMultiplier,
		FeeMultiplierCap:  st.FeeMultiplierCap,
		FeeCheckPolicy:    st.FeeCheckPolicy,
		ProfitBasis:       st.ProfitBasis,
	}, nil, zaptest.NewLogger(t).Sugar())
	assert.NoError(t, err)
}
