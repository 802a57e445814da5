package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache defines the interface for the enrichment cache. Implementations must
// be safe for concurrent use; writes are last-writer-wins per key.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear(prefix string) error
}

// keyPrefix versions the key space so a format change invalidates old entries.
const keyPrefix = "carematch:v1:"

// Key generates the cache key for one (candidate, source) pair.
func Key(candidateID, source string) string {
	hash := sha256.Sum256([]byte(candidateID + "|" + source))
	return keyPrefix + source + ":" + hex.EncodeToString(hash[:])
}

// SourcePrefix returns the key prefix covering every entry for one source,
// for use with Clear.
func SourcePrefix(source string) string {
	return keyPrefix + source + ":"
}
