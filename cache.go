package settlement

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/facebookgo/clock"
	"golang.org/x/sync/singleflight"
)

type (
	// VerificationCache de-duplicates verification work per
	// (transaction hash, payment) pair. Concurrent callers for the same key
	// join a single in-flight computation; later callers within the TTL
	// window observe the stored outcome without re-running it.
	//
	// The cache is process-local. Across multiple instances the ledger's
	// conditional settle write is the remaining guard; see PaymentStore.
	VerificationCache struct {
		clk        clock.Clock
		successTTL time.Duration
		failureTTL time.Duration

		group singleflight.Group

		mu      sync.Mutex
		entries map[string]cacheEntry
	}

	cacheEntry struct {
		result    *VerificationResult
		err       error
		expiresAt time.Time
	}
)

func NewVerificationCache(clk clock.Clock, successTTL, failureTTL time.Duration) *VerificationCache {
	if successTTL <= 0 {
		successTTL = DEFAULT_SUCCESS_CACHE_TTL
	}
	if failureTTL <= 0 {
		failureTTL = DEFAULT_FAILURE_CACHE_TTL
	}
	return &VerificationCache{
		clk:        clk,
		successTTL: successTTL,
		failureTTL: failureTTL,
		entries:    make(map[string]cacheEntry),
	}
}

// VerificationKey builds the cache key for a claimed transaction hash and a
// payment reference.
func VerificationKey(txHash common.Hash, paymentReference string) string {
	return txHash.Hex() + "|" + paymentReference
}

// GetOrJoin returns the cached outcome for key, or runs fn exactly once while
// concurrent callers wait for its result. isNew is true only for the caller
// that actually executed fn.
func (c *VerificationCache) GetOrJoin(key string, fn func() (*VerificationResult, error)) (result *VerificationResult, isNew bool, err error) {
	if res, cachedErr, ok := c.lookup(key); ok {
		return res, false, cachedErr
	}

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		res, fnErr := fn()
		c.store(key, res, fnErr)
		return res, fnErr
	})

	if v != nil {
		result = v.(*VerificationResult)
	}
	return result, !shared, err
}

// Len returns the number of live entries.
func (c *VerificationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	return len(c.entries)
}

func (c *VerificationCache) lookup(key string) (*VerificationResult, error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, nil, false
	}
	if !c.clk.Now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, nil, false
	}
	return entry.result, entry.err, true
}

func (c *VerificationCache) store(key string, result *VerificationResult, err error) {
	ttl := c.successTTL
	if err != nil {
		ttl = c.failureTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	c.entries[key] = cacheEntry{
		result:    result,
		err:       err,
		expiresAt: c.clk.Now().Add(ttl),
	}
}

func (c *VerificationCache) pruneLocked() {
	now := c.clk.Now()
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}
