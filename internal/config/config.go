package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ligun0805/mempool-searcher/internal/domain"
	"github.com/ligun0805/mempool-searcher/internal/evaluate"
)

// networkEnv maps network ids to their endpoint env keys.
var networkEnv = map[string][]string{
	"ETH":      {"ETH_RPC", "eth_rpc"},
	"BSC":      {"BSC_RPC", "bsc_rpc"},
	"AVAX":     {"AVAX_RPC", "avax_rpc"},
	"ARBITRUM": {"ARBITRUM_RPC", "arbitrum_rpc"},
	"OPTIMISM": {"OPTIMISM_RPC", "optimism_rpc"},
	"POLYGON":  {"POLYGON_RPC", "polygon_rpc"},
	"BASE":     {"BASE_RPC", "base_rpc"},
}

// Settings keeps all configuration options.
type Settings struct {
	Networks []domain.NetworkConfig

	PrivateKeyHex string
	RelayURL      string
	RelayAuthHex  string
	RelayTimeout  time.Duration

	MinProfitFraction float64
	GasLimitEstimate  uint64
	FeeMultiplier     float64
	FeeMultiplierCap  float64
	MaxFeeGwei        int64
	FeatureWidth      int
	ScoreThreshold    float64
	ScorerURL         string
	MinValueWei       *big.Int
	MaxTradeValueWei  *big.Int
	FeeCheckPolicy    string
	ProfitBasis       string

	ConnectTimeout time.Duration
	RPCTimeout     time.Duration
	CycleDeadline  time.Duration
	ShortSleepMin  time.Duration
	ShortSleepMax  time.Duration
	IdleSleepMin   time.Duration
	IdleSleepMax   time.Duration
	ScanRPS        float64

	AlertsPath      string
	AlertWebhookURL string
	AlertChatID     string
	AuditPath       string
	AuditDSN        string
	MetricsAddr     string

	LogLevel  string
	LogFormat string
}

// LoadDotenv reads .env and overlays .env.local; missing files are ignored.
func LoadDotenv() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	if err := godotenv.Overload(".env.local"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env.local: %w", err)
	}
	return nil
}

// Load reads settings from the environment supporting both UPPER_CASE and lower_case keys.
// When CONFIG_FILE is set, its networks are merged over the env-configured ones.
func Load() (Settings, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Settings, error) {
	get := func(keys []string, def string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				return v
			}
		}
		return def
	}
	keys := func(k string) []string { return []string{k, strings.ToLower(k)} }
	var errs []error
	getInt := func(k string, def int) int {
		s := get(keys(k), "")
		if s == "" {
			return def
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			return def
		}
		return n
	}
	getInt64 := func(k string, def int64) int64 {
		s := get(keys(k), "")
		if s == "" {
			return def
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			return def
		}
		return n
	}
	getFloat := func(k string, def float64) float64 {
		s := get(keys(k), "")
		if s == "" {
			return def
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			return def
		}
		return n
	}
	getDuration := func(k string, def time.Duration) time.Duration {
		s := get(keys(k), "")
		if s == "" {
			return def
		}
		d, err := parseDuration(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			return def
		}
		return d
	}
	getBig := func(k string) *big.Int {
		s := get(keys(k), "")
		if s == "" {
			return new(big.Int)
		}
		n, ok := parseBig(s)
		if !ok {
			errs = append(errs, fmt.Errorf("%s: invalid integer %q", k, s))
			return new(big.Int)
		}
		return n
	}

	st := Settings{}
	for _, id := range sortedNetworkIDs() {
		url := get(networkEnv[id], "")
		if url == "" {
			// A network without endpoint URL is excluded.
			continue
		}
		st.Networks = append(st.Networks, domain.NetworkConfig{ID: id, URL: url})
	}

	st.PrivateKeyHex = get(keys("PRIVATE_KEY"), "")
	st.RelayURL = get(keys("RELAY_URL"), "https://relay.flashbots.net")
	st.RelayAuthHex = get(keys("RELAY_AUTH_KEY"), "")
	st.RelayTimeout = getDuration("RELAY_TIMEOUT", 3*time.Second)

	st.MinProfitFraction = getFloat("MIN_PROFIT_FRACTION", 0.002)
	st.GasLimitEstimate = uint64(getInt64("GAS_LIMIT_ESTIMATE", 21_000))
	st.FeeMultiplier = getFloat("FEE_MULTIPLIER", 1.1)
	st.FeeMultiplierCap = getFloat("FEE_MULTIPLIER_CAP", 1.5)
	st.MaxFeeGwei = getInt64("MAX_FEE_GWEI", 500)
	st.FeatureWidth = getInt("FEATURE_WIDTH", 15)
	st.ScoreThreshold = getFloat("SCORE_THRESHOLD", 0.5)
	st.ScorerURL = get(keys("SCORER_URL"), "")
	st.MinValueWei = getBig("MIN_VALUE_WEI")
	st.MaxTradeValueWei = getBig("MAX_TRADE_VALUE_WEI")
	st.FeeCheckPolicy = strings.ToLower(get(keys("FEE_CHECK_POLICY"), evaluate.FeeCheckBeforeBump))
	st.ProfitBasis = strings.ToLower(get(keys("PROFIT_BASIS"), evaluate.ProfitBasisValue))

	st.ConnectTimeout = getDuration("CONNECT_TIMEOUT", 10*time.Second)
	st.RPCTimeout = getDuration("RPC_TIMEOUT", 8*time.Second)
	st.CycleDeadline = getDuration("CYCLE_DEADLINE", 120*time.Second)
	st.ShortSleepMin = getDuration("SHORT_SLEEP_MIN", 30*time.Second)
	st.ShortSleepMax = getDuration("SHORT_SLEEP_MAX", 90*time.Second)
	st.IdleSleepMin = getDuration("IDLE_SLEEP_MIN", 300*time.Second)
	st.IdleSleepMax = getDuration("IDLE_SLEEP_MAX", 600*time.Second)
	st.ScanRPS = getFloat("SCAN_RPS", 20)

	st.AlertsPath = get(keys("ALERTS_PATH"), "alerts.jsonl")
	st.AlertWebhookURL = get(keys("ALERT_WEBHOOK_URL"), "")
	st.AlertChatID = get(keys("ALERT_CHAT_ID"), "")
	st.AuditPath = get(keys("AUDIT_PATH"), "submissions.jsonl")
	st.AuditDSN = get(keys("AUDIT_DSN"), "")
	st.MetricsAddr = get(keys("METRICS_ADDR"), "")

	st.LogLevel = strings.ToLower(get(keys("LOG_LEVEL"), "info"))
	st.LogFormat = strings.ToLower(get(keys("LOG_FORMAT"), "console"))

	if path := get(keys("CONFIG_FILE"), ""); path != "" {
		file, err := LoadFile(path)
		if err != nil {
			errs = append(errs, err)
		} else {
			st.Networks = file.merge(st.Networks)
		}
	}
	for i := range st.Networks {
		if st.Networks[i].GasLimit == 0 {
			st.Networks[i].GasLimit = st.GasLimitEstimate
		}
	}

	if len(errs) > 0 {
		return st, fmt.Errorf("%w: %w", domain.ErrConfiguration, errors.Join(errs...))
	}
	return st, nil
}

// Validate reports every missing or inconsistent setting at once.
func (s Settings) Validate() error {
	var err error
	if strings.TrimSpace(s.PrivateKeyHex) == "" {
		err = errors.Join(err, errors.New("PRIVATE_KEY is missing"))
	}
	if len(s.Networks) == 0 {
		err = errors.Join(err, errors.New("no network endpoint configured"))
	}
	if s.MinProfitFraction <= 0 || s.MinProfitFraction >= 1 {
		err = errors.Join(err, fmt.Errorf("MIN_PROFIT_FRACTION must be in (0,1), got %v", s.MinProfitFraction))
	}
	if s.FeeMultiplier < 1 {
		err = errors.Join(err, fmt.Errorf("FEE_MULTIPLIER must be >= 1, got %v", s.FeeMultiplier))
	}
	if s.FeeMultiplierCap < 1 {
		err = errors.Join(err, fmt.Errorf("FEE_MULTIPLIER_CAP must be >= 1, got %v", s.FeeMultiplierCap))
	}
	if s.MaxFeeGwei <= 0 {
		err = errors.Join(err, fmt.Errorf("MAX_FEE_GWEI must be > 0, got %d", s.MaxFeeGwei))
	}
	if s.FeatureWidth <= 0 {
		err = errors.Join(err, fmt.Errorf("FEATURE_WIDTH must be > 0, got %d", s.FeatureWidth))
	}
	if s.FeeCheckPolicy != evaluate.FeeCheckBeforeBump && s.FeeCheckPolicy != evaluate.FeeCheckAfterBump {
		err = errors.Join(err, fmt.Errorf("unknown FEE_CHECK_POLICY %q", s.FeeCheckPolicy))
	}
	if s.ProfitBasis != evaluate.ProfitBasisValue && s.ProfitBasis != evaluate.ProfitBasisValueMinusGas {
		err = errors.Join(err, fmt.Errorf("unknown PROFIT_BASIS %q", s.ProfitBasis))
	}
	if s.ShortSleepMin <= 0 || s.ShortSleepMax < s.ShortSleepMin {
		err = errors.Join(err, errors.New("SHORT_SLEEP_MIN/MAX must satisfy 0 < min <= max"))
	}
	if s.IdleSleepMin <= 0 || s.IdleSleepMax < s.IdleSleepMin {
		err = errors.Join(err, errors.New("IDLE_SLEEP_MIN/MAX must satisfy 0 < min <= max"))
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"CONNECT_TIMEOUT", s.ConnectTimeout},
		{"RPC_TIMEOUT", s.RPCTimeout},
		{"RELAY_TIMEOUT", s.RelayTimeout},
		{"CYCLE_DEADLINE", s.CycleDeadline},
	} {
		if d.v <= 0 {
			err = errors.Join(err, fmt.Errorf("%s must be > 0", d.name))
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	return nil
}

// MaxFeeWei is the absolute per-gas price cap in wei.
func (s Settings) MaxFeeWei() *big.Int {
	return domain.GweiToWei(s.MaxFeeGwei)
}

// MaskHex hides all but the edges of a secret for display.
func MaskHex(h string) string {
	h = strings.TrimSpace(h)
	if len(h) <= 10 {
		return "***"
	}
	return h[:6] + "…" + h[len(h)-4:]
}

func sortedNetworkIDs() []string {
	ids := make([]string, 0, len(networkEnv))
	for id := range networkEnv {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// parseDuration accepts Go durations ("30s") or plain seconds ("30").
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func parseBig(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return new(big.Int).SetString(s[2:], 16)
	}
	return new(big.Int).SetString(s, 10)
}
