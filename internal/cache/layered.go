package cache

import "time"

// LayeredCache implements a two-layer cache: a fast in-process layer in
// front of a shared long-TTL layer (Redis).
type LayeredCache struct {
	local  Cache
	shared Cache
}

// NewLayeredCache creates a layered cache over the given backends.
func NewLayeredCache(local, shared Cache) *LayeredCache {
	return &LayeredCache{
		local:  local,
		shared: shared,
	}
}

// Get checks the local layer first, then the shared layer, promoting
// shared hits into the local layer.
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	if val, found := c.local.Get(key); found {
		return val, true
	}

	if val, found := c.shared.Get(key); found {
		// Promote with the local default TTL
		_ = c.local.Set(key, val, 0)
		return val, true
	}

	return nil, false
}

// Set stores a value in both layers.
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(key, value, ttl); err != nil {
		return err
	}
	return c.shared.Set(key, value, ttl)
}

// Delete removes a value from both layers.
func (c *LayeredCache) Delete(key string) error {
	if err := c.local.Delete(key); err != nil {
		return err
	}
	return c.shared.Delete(key)
}

// Clear removes matching entries from both layers.
func (c *LayeredCache) Clear(prefix string) error {
	if err := c.local.Clear(prefix); err != nil {
		return err
	}
	return c.shared.Clear(prefix)
}
