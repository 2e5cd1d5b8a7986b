package provider

import (
	"context"
	"sync"
	"time"
)

// DefaultCredentialTTL is how long a fetched SIP address is trusted before
// a fresh provider lookup is required.
const DefaultCredentialTTL = time.Hour

// SIPAddressFetcher resolves the agent soft phone's SIP address from the
// provider. Implemented by *Client.
type SIPAddressFetcher interface {
	FetchSIPAddress(ctx context.Context, credentialID string) (string, error)
}

// CredentialCache caches the agent's SIP address with a TTL. Fetch errors
// are never cached: a failed refresh propagates to the caller and the next
// caller retries. Concurrent callers during a refresh block on the same
// fetch; that is acceptable since the address changes rarely.
type CredentialCache struct {
	fetcher      SIPAddressFetcher
	credentialID string
	ttl          time.Duration

	mu        sync.Mutex
	address   string
	fetchedAt time.Time
}

// NewCredentialCache creates a cache around the given fetcher. A ttl of
// zero uses DefaultCredentialTTL.
func NewCredentialCache(fetcher SIPAddressFetcher, credentialID string, ttl time.Duration) *CredentialCache {
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}
	return &CredentialCache{
		fetcher:      fetcher,
		credentialID: credentialID,
		ttl:          ttl,
	}
}

// SIPAddress returns the cached address, refreshing it from the provider
// when the TTL has elapsed. A value is never served past its TTL.
func (cc *CredentialCache) SIPAddress(ctx context.Context) (string, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.address != "" && time.Since(cc.fetchedAt) < cc.ttl {
		return cc.address, nil
	}

	addr, err := cc.fetcher.FetchSIPAddress(ctx, cc.credentialID)
	if err != nil {
		return "", err
	}

	cc.address = addr
	cc.fetchedAt = time.Now()
	return addr, nil
}

// Invalidate discards the cached value so the next call refetches.
func (cc *CredentialCache) Invalidate() {
	cc.mu.Lock()
	cc.address = ""
	cc.mu.Unlock()
}
