// Command searcher watches the pending blocks of every configured EVM network
// and competes for profitable opportunities through a private relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ligun0805/mempool-searcher/internal/alert"
	"github.com/ligun0805/mempool-searcher/internal/audit"
	"github.com/ligun0805/mempool-searcher/internal/chain"
	"github.com/ligun0805/mempool-searcher/internal/config"
	"github.com/ligun0805/mempool-searcher/internal/domain"
	"github.com/ligun0805/mempool-searcher/internal/evaluate"
	"github.com/ligun0805/mempool-searcher/internal/executor"
	"github.com/ligun0805/mempool-searcher/internal/features"
	"github.com/ligun0805/mempool-searcher/internal/ledger"
	"github.com/ligun0805/mempool-searcher/internal/mempool"
	"github.com/ligun0805/mempool-searcher/internal/metrics"
	"github.com/ligun0805/mempool-searcher/internal/relay"
	"github.com/ligun0805/mempool-searcher/internal/scheduler"
	"github.com/ligun0805/mempool-searcher/internal/signer"
)

const (
	alertBuffer  = 256
	shutdownWait = 5 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := config.LoadDotenv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		return 1
	}

	lggr, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() { _ = lggr.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := start(ctx, cfg, lggr); err != nil {
		lggr.Errorw("Searcher halted", "err", err)
		return 1
	}
	return 0
}

func start(ctx context.Context, cfg config.Settings, lggr *zap.SugaredLogger) error {
	sgn, err := signer.FromHex(cfg.PrivateKeyHex)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	authKey, err := relay.AuthKeyFromHex(cfg.RelayAuthHex)
	if err != nil {
		return fmt.Errorf("%w: RELAY_AUTH_KEY: %w", domain.ErrConfiguration, err)
	}
	printConfig(cfg, sgn.Address())

	m := metrics.New(prometheus.NewRegistry())
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				lggr.Errorw("Metrics listener stopped", "addr", cfg.MetricsAddr, "err", err)
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	outs := []alert.Output{alert.NewLogOutput(lggr)}
	if cfg.AlertsPath != "" {
		f := alert.NewFileOutput(cfg.AlertsPath)
		defer func() { _ = f.Close() }()
		outs = append(outs, f)
	}
	if cfg.AlertWebhookURL != "" {
		outs = append(outs, alert.NewWebhookOutput(cfg.AlertWebhookURL, cfg.AlertChatID, cfg.RPCTimeout))
	}
	alerts := alert.NewDispatcher(alertBuffer, m, lggr, outs...)
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		if err := alerts.Close(cctx); err != nil {
			lggr.Warnw("Alert queue not drained", "err", err)
		}
	}()

	reg := chain.NewRegistry(cfg.Networks, chain.RPCDialer(cfg.RPCTimeout), cfg.ConnectTimeout, lggr)
	connectErr := reg.Connect(ctx)
	for _, n := range reg.Networks() {
		m.SetNetworkLive(n.ID, n.State == domain.Live)
		alerts.Emit(alert.NetworkState(n))
	}
	if connectErr != nil {
		return connectErr
	}
	defer reg.Close()

	store, err := audit.Open(ctx, cfg.AuditDSN, cfg.AuditPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	l := ledger.New(reg, ledger.DefaultClaimTTL, m, lggr)
	if err := seedClaims(ctx, store, l); err != nil {
		lggr.Warnw("Could not restore recent submissions", "err", err)
	}

	relays := make(map[string]relay.Relay)
	for _, n := range reg.Live() {
		url := n.RelayURL
		if url == "" {
			url = cfg.RelayURL
		}
		if url == "" {
			continue
		}
		r, err := relay.Dial(url, authKey, cfg.RelayTimeout)
		if err != nil {
			return fmt.Errorf("%w: relay for %s: %w", domain.ErrConfiguration, n.ID, err)
		}
		if c, ok := r.(interface{ Close() error }); ok {
			defer func() { _ = c.Close() }()
		}
		relays[n.ID] = r
	}

	var scorer evaluate.Scorer = evaluate.RuleScorer{MinValue: weiFloat(cfg.MinValueWei)}
	if cfg.ScorerURL != "" {
		scorer = evaluate.NewHTTPScorer(cfg.ScorerURL, cfg.RPCTimeout)
	}
	eval, err := evaluate.NewEvaluator(scorer, evaluate.Config{
		Width:             cfg.FeatureWidth,
		ScoreThreshold:    cfg.ScoreThreshold,
		MinProfitFraction: cfg.MinProfitFraction,
		FeeMultiplier:     cfg.FeeMultiplier,
		FeeMultiplierCap:  cfg.FeeMultiplierCap,
		FeeCheckPolicy:    cfg.FeeCheckPolicy,
		ProfitBasis:       cfg.ProfitBasis,
	}, m, lggr)
	if err != nil {
		return err
	}

	exec := executor.New(reg, l, sgn, relays, eval.Gate(), alerts, store, m, executor.Config{
		FeeMultiplier:    cfg.FeeMultiplier,
		FeeMultiplierCap: cfg.FeeMultiplierCap,
		MaxFee:           cfg.MaxFeeWei(),
		MaxTradeValue:    cfg.MaxTradeValueWei,
		FeeCheckPolicy:   cfg.FeeCheckPolicy,
		RelayTimeout:     cfg.RelayTimeout,
	}, lggr)

	loop := scheduler.New(reg, mempool.NewScanner(reg, cfg.ScanRPS, m, lggr), features.NewNormalizer(cfg.FeatureWidth),
		eval, exec, alerts, m, scheduler.Config{
			CycleDeadline: cfg.CycleDeadline,
			ShortSleepMin: cfg.ShortSleepMin,
			ShortSleepMax: cfg.ShortSleepMax,
			IdleSleepMin:  cfg.IdleSleepMin,
			IdleSleepMax:  cfg.IdleSleepMax,
		}, lggr)

	alerts.Emit(alert.Lifecycle(alert.KindStarted, fmt.Sprintf("searcher started on %d networks as %s", len(reg.Live()), sgn.Address().Hex())))
	err = loop.Run(ctx)
	alerts.Emit(alert.Lifecycle(alert.KindStopped, "searcher stopped"))
	return err
}

// seedClaims restores the opportunities submitted within the claim TTL.
func seedClaims(ctx context.Context, store audit.Store, l *ledger.Ledger) error {
	recs, err := store.Submitted(ctx, time.Now().Add(-ledger.DefaultClaimTTL))
	if err != nil {
		return err
	}
	for _, r := range recs {
		l.Seed(r.Network, common.HexToHash(r.Origin), r.At)
	}
	return nil
}

func newLogger(level, format string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: LOG_LEVEL: %w", domain.ErrConfiguration, err)
	}
	zcfg := zap.NewProductionConfig()
	if format != "json" {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	l, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func printConfig(cfg config.Settings, account common.Address) {
	fmt.Println("=== CONFIG ===")
	for _, n := range cfg.Networks {
		fmt.Printf("%-18s: %s\n", n.ID+"_RPC", n.URL)
	}
	fmt.Println("PRIVATE_KEY       :", config.MaskHex(cfg.PrivateKeyHex))
	fmt.Println("  -> account      :", account.Hex())
	fmt.Println("RELAY_URL         :", cfg.RelayURL)
	fmt.Println("RELAY_AUTH_KEY    :", config.MaskHex(cfg.RelayAuthHex))
	fmt.Println("MinProfitFraction :", cfg.MinProfitFraction)
	fmt.Println("FeeMultiplier     :", cfg.FeeMultiplier, "cap", cfg.FeeMultiplierCap)
	fmt.Println("MaxFee (gwei)     :", cfg.MaxFeeGwei)
	fmt.Println("FeeCheckPolicy    :", cfg.FeeCheckPolicy)
	fmt.Println("ProfitBasis       :", cfg.ProfitBasis)
	fmt.Println("Scorer            :", scorerName(cfg))
	fmt.Println("Audit             :", auditName(cfg))
	fmt.Println("==============")
}

func scorerName(cfg config.Settings) string {
	if cfg.ScorerURL != "" {
		return cfg.ScorerURL
	}
	return "rule (min value " + domain.FmtETH(cfg.MinValueWei) + " ETH)"
}

func auditName(cfg config.Settings) string {
	if cfg.AuditDSN != "" {
		return "postgres"
	}
	return cfg.AuditPath
}

func weiFloat(x *big.Int) float64 {
	if x == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(x).Float64()
	return f
}
