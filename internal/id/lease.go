package id

import (
	"context"
	"fmt"
	"time"

	"github.com/ambonmud/server/internal/kvstore"
)

const gatewayLeasePrefix = "gateway-id:"

// GatewayLease is an exclusive TTL claim on a gateway id. Snowflake session
// ids embed the gateway id, so two gateways sharing one would collide; the
// lease makes the claim exclusive across the cluster.
type GatewayLease struct {
	store kvstore.Store
	key   string
	token string
	ttl   time.Duration
}

// AcquireGatewayLease claims gatewayID exclusively. token identifies this
// process (any unique string) so a restart can tell its own stale lease from
// a live competitor.
func AcquireGatewayLease(store kvstore.Store, gatewayID uint16, token string, ttl time.Duration) (*GatewayLease, error) {
	l := &GatewayLease{
		store: store,
		key:   fmt.Sprintf("%s%d", gatewayLeasePrefix, gatewayID),
		token: token,
		ttl:   ttl,
	}
	if held, ok := store.Get(l.key); ok && held != token {
		return nil, fmt.Errorf("gateway id %d already leased", gatewayID)
	}
	if !store.SetNX(l.key, token, ttl) {
		// Lost the race between Get and SetNX.
		if held, ok := store.Get(l.key); !ok || held != token {
			return nil, fmt.Errorf("gateway id %d already leased", gatewayID)
		}
	}
	return l, nil
}

// Renew refreshes the TTL. It fails when the lease expired and someone else
// claimed the id; the caller must stop allocating session ids then.
func (l *GatewayLease) Renew() error {
	if held, ok := l.store.Get(l.key); ok && held != l.token {
		return fmt.Errorf("gateway lease lost to another holder")
	}
	if !l.store.Expire(l.key, l.ttl) {
		if !l.store.SetNX(l.key, l.token, l.ttl) {
			return fmt.Errorf("gateway lease expired and could not be reclaimed")
		}
	}
	return nil
}

// KeepAlive renews at half the TTL until ctx is done. onLost is called once
// if a renewal fails.
func (l *GatewayLease) KeepAlive(ctx context.Context, onLost func(error)) {
	interval := l.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Renew(); err != nil {
				onLost(err)
				return
			}
		}
	}
}

// Release drops the lease.
func (l *GatewayLease) Release() {
	if held, ok := l.store.Get(l.key); ok && held == l.token {
		l.store.Delete(l.key)
	}
}
