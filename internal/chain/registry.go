package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ligun0805/mempool-searcher/internal/domain"
)

// Registry owns one Endpoint per configured network. It is populated once by
// Connect and read-only afterwards, so it is safe for concurrent readers.
// A network that fails to connect stays Dead for the life of the process.
type Registry struct {
	lggr    *zap.SugaredLogger
	cfgs    []domain.NetworkConfig
	dial    Dialer
	timeout time.Duration

	connected bool
	networks  []domain.Network
	index     map[string]int
	endpoints map[string]Endpoint
}

func NewRegistry(cfgs []domain.NetworkConfig, dial Dialer, connectTimeout time.Duration, lggr *zap.SugaredLogger) *Registry {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	cp := make([]domain.NetworkConfig, len(cfgs))
	copy(cp, cfgs)
	sort.Slice(cp, func(i, j int) bool { return cp[i].ID < cp[j].ID })
	return &Registry{
		lggr:    lggr.Named("Registry"),
		cfgs:    cp,
		dial:    dial,
		timeout: connectTimeout,
	}
}

// Connect probes every configured network concurrently. It returns an error
// wrapping domain.ErrNoLiveNetworks when no network ends up Live.
func (r *Registry) Connect(ctx context.Context) error {
	if r.connected {
		return errors.New("registry already connected")
	}
	networks := make([]domain.Network, len(r.cfgs))
	endpoints := make([]Endpoint, len(r.cfgs))

	g, gctx := errgroup.WithContext(ctx)
	for i, cfg := range r.cfgs {
		g.Go(func() error {
			networks[i], endpoints[i] = r.connect(gctx, cfg)
			return nil
		})
	}
	_ = g.Wait()

	r.networks = networks
	r.index = make(map[string]int, len(networks))
	r.endpoints = make(map[string]Endpoint, len(networks))
	live := 0
	for i, n := range networks {
		r.index[n.ID] = i
		if n.State == domain.Live {
			r.endpoints[n.ID] = endpoints[i]
			live++
		}
	}
	r.connected = true

	if live == 0 {
		return fmt.Errorf("%w: %w: %d configured", domain.ErrConfiguration, domain.ErrNoLiveNetworks, len(networks))
	}
	r.lggr.Infow("Networks connected", "live", live, "configured", len(networks))
	return nil
}

func (r *Registry) connect(ctx context.Context, cfg domain.NetworkConfig) (domain.Network, Endpoint) {
	n := domain.Network{NetworkConfig: cfg, State: domain.Dead}
	if cfg.URL == "" {
		n.Reason = "missing endpoint url"
		r.lggr.Warnw("Network dead", "network", cfg.ID, "reason", n.Reason)
		return n, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ep, err := r.dial(ctx, cfg)
	if err != nil {
		n.Reason = fmt.Errorf("%w: %w", domain.ErrConnectivity, err).Error()
		r.lggr.Warnw("Network dead", "network", cfg.ID, "err", err)
		return n, nil
	}
	id, err := ep.ChainID(ctx)
	if err != nil {
		ep.Close()
		n.Reason = fmt.Errorf("%w: chain id: %w", domain.ErrConnectivity, err).Error()
		r.lggr.Warnw("Network dead", "network", cfg.ID, "err", err)
		return n, nil
	}
	if cfg.ChainID != nil && cfg.ChainID.Sign() > 0 && cfg.ChainID.Cmp(id) != 0 {
		ep.Close()
		n.Reason = fmt.Sprintf("chain id mismatch: configured %s, endpoint reports %s", cfg.ChainID, id)
		r.lggr.Warnw("Network dead", "network", cfg.ID, "reason", n.Reason)
		return n, nil
	}
	n.ChainID = id
	n.State = domain.Live
	r.lggr.Infow("Network live", "network", cfg.ID, "chainID", id)
	return n, ep
}

// Networks returns every configured network with its connection state, sorted by id.
func (r *Registry) Networks() []domain.Network {
	out := make([]domain.Network, len(r.networks))
	copy(out, r.networks)
	return out
}

// Live returns the live networks sorted by id.
func (r *Registry) Live() []domain.Network {
	var out []domain.Network
	for _, n := range r.networks {
		if n.State == domain.Live {
			out = append(out, n)
		}
	}
	return out
}

func (r *Registry) IsLive(id string) bool {
	_, ok := r.endpoints[id]
	return ok
}

func (r *Registry) Network(id string) (domain.Network, bool) {
	i, ok := r.index[id]
	if !ok {
		return domain.Network{}, false
	}
	return r.networks[i], true
}

// Endpoint returns the endpoint of a live network.
func (r *Registry) Endpoint(id string) (Endpoint, bool) {
	ep, ok := r.endpoints[id]
	return ep, ok
}

func (r *Registry) Close() {
	for _, ep := range r.endpoints {
		ep.Close()
	}
}
