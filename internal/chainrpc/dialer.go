package chainrpc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"sentinel-monitor/internal/domain"
	"sentinel-monitor/internal/netprofile"
)

// ErrUnavailable marks transport-level RPC failures. Callers must treat an
// unavailable network as "unknown state", never as a zero balance.
var ErrUnavailable = errors.New("chainrpc: network unavailable")

// Unavailable tags err as a transport failure while keeping its message.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Dialer lazily opens and caches one RPC client per network.
type Dialer struct {
	resolver *netprofile.Resolver
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[domain.Network]*ethclient.Client
}

// NewDialer constructs a dialer over the resolver's configured endpoints.
func NewDialer(resolver *netprofile.Resolver, logger zerolog.Logger) *Dialer {
	return &Dialer{
		resolver: resolver,
		logger:   logger.With().Str("component", "chainrpc").Logger(),
		clients:  make(map[domain.Network]*ethclient.Client),
	}
}

// Client returns the cached RPC client for network, dialing on first use.
func (d *Dialer) Client(ctx context.Context, network domain.Network) (*ethclient.Client, error) {
	profile := d.resolver.Resolve(network)
	if profile.RPCURL == "" {
		return nil, fmt.Errorf("rpc url not configured for %s network", network)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if client, ok := d.clients[network]; ok {
		return client, nil
	}

	client, err := ethclient.DialContext(ctx, profile.RPCURL)
	if err != nil {
		return nil, Unavailable(fmt.Errorf("dial %s network: %w", network, err))
	}

	d.logger.Debug().Str("network", string(network)).Str("rpc_url", profile.RPCURL).Msg("rpc client connected")
	d.clients[network] = client
	return client, nil
}

// Close releases every cached client.
func (d *Dialer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for network, client := range d.clients {
		client.Close()
		delete(d.clients, network)
	}
}
