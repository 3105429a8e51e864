// Package cache implements the CacheLayer of spec.md §4.5: a TTL+LRU cache
// of query results keyed by normalized query text, invalidated on writes
// and rollback. Eviction is exact and insertion-ordered — reads never
// refresh an entry's position — which is why this wraps
// hashicorp/golang-lru/v2 using only Peek (non-mutating reads) and Add
// (insertion), rather than the teacher's probabilistic Ristretto cache
// (internal/cache/ristretto.go), whose eviction policy is not exact enough
// for the deterministic cache-coherence properties spec.md §8 requires.
//
// When constructed with a Redis client, Layer actually write-throughs and
// read-throughs every entry to Redis under a namespaced key, so a second
// process sharing that Redis instance observes the same cached results —
// not merely an invalidation signal. InvalidateAll then only has to clear
// the keys this layer itself wrote.
package cache

import (
	"context"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeQuery collapses runs of whitespace to a single space and trims
// both ends, per spec.md §4.5.
func NormalizeQuery(query string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(query, " "))
}

// entry is what the LRU stores: the cached payload plus insertion time.
type entry struct {
	result    []byte
	insertedAt time.Time
}

// Layer is the CacheLayer: TTL + exact insertion-order LRU over normalized
// query text, with an optional Redis mirror for multi-process invalidation,
// mirroring the teacher's two-tier L1(Ristretto)/L2(Redis) split
// (internal/cache/ristretto.go) but with deterministic L1 eviction.
type Layer struct {
	mu     sync.Mutex
	lru    *lru.Cache[string, entry]
	ttl    time.Duration
	redis  *redis.Client
	logger *zap.Logger
}

// New creates a Layer with the given capacity and TTL. redisClient may be
// nil, in which case only the in-process LRU is used.
func New(maxSize int, ttl time.Duration, redisClient *redis.Client, logger *zap.Logger) (*Layer, error) {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := lru.New[string, entry](maxSize)
	if err != nil {
		return nil, err
	}
	return &Layer{
		lru:    c,
		ttl:    ttl,
		redis:  redisClient,
		logger: logger.Named("cachelayer"),
	}, nil
}

// redisKeyPrefix namespaces this layer's mirrored entries in Redis so
// InvalidateAll can scan-and-delete only its own keys, never anything
// else sharing the same Redis database.
const redisKeyPrefix = "semem:cachelayer:"

// keyFor hashes the normalized query to a fixed-width cache key, bounding
// memory use for arbitrarily long query text.
func keyFor(normalized string) string {
	sum := blake2b.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func redisKeyFor(key string) string {
	return redisKeyPrefix + key
}

// Get returns a deep copy of the cached result for query, if present and
// unexpired. Reads never change eviction order (Peek, not Get). On an L1
// miss with a Redis mirror configured, Get falls back to Redis and, on a
// hit there, repopulates L1 so the next read is local.
func (l *Layer) Get(query string) ([]byte, bool) {
	normalized := NormalizeQuery(query)
	key := keyFor(normalized)

	l.mu.Lock()
	l.purgeExpiredLocked()
	e, ok := l.lru.Peek(key)
	if ok && (l.ttl <= 0 || time.Since(e.insertedAt) <= l.ttl) {
		out := make([]byte, len(e.result))
		copy(out, e.result)
		l.mu.Unlock()
		return out, true
	}
	if ok {
		l.lru.Remove(key)
	}
	l.mu.Unlock()

	if l.redis == nil {
		return nil, false
	}
	raw, err := l.redis.Get(context.Background(), redisKeyFor(key)).Bytes()
	if err != nil {
		return nil, false
	}
	l.mu.Lock()
	l.lru.Add(key, entry{result: raw, insertedAt: time.Now()})
	l.mu.Unlock()
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, true
}

// Set inserts result for the normalized query into L1, and — when a
// Redis mirror is configured — writes through to it with the same TTL so
// other processes sharing that Redis instance observe the same cached
// result. Purges expired entries first, then inserts; the underlying LRU
// evicts the oldest entry if the cache is at capacity.
func (l *Layer) Set(query string, result []byte) {
	key := keyFor(NormalizeQuery(query))
	cp := make([]byte, len(result))
	copy(cp, result)

	l.mu.Lock()
	l.purgeExpiredLocked()
	l.lru.Add(key, entry{result: cp, insertedAt: time.Now()})
	l.mu.Unlock()

	if l.redis != nil {
		mirrored := make([]byte, len(result))
		copy(mirrored, result)
		go func() {
			if err := l.redis.Set(context.Background(), redisKeyFor(key), mirrored, l.ttl).Err(); err != nil {
				l.logger.Warn("redis mirror write failed")
			}
		}()
	}
}

// InvalidateAll drops every cached entry. Callers MUST invoke this after
// every successful write or rollback (spec.md §4.5/§4.6/§8).
func (l *Layer) InvalidateAll() {
	l.mu.Lock()
	l.lru.Purge()
	l.mu.Unlock()

	if l.redis != nil {
		// Best-effort: the in-process cache is authoritative for
		// correctness; the Redis mirror is a latency optimization for
		// other processes and its failure here must not block the write
		// path that called InvalidateAll. Scan-and-delete only this
		// layer's own prefixed keys — never FlushDB, which would wipe
		// every other key in whatever Redis database is configured,
		// including ones unrelated to this cache.
		go l.invalidateRedisMirror()
	}
}

func (l *Layer) invalidateRedisMirror() {
	ctx := context.Background()
	iter := l.redis.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		l.logger.Warn("redis mirror invalidation scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		l.logger.Warn("redis mirror invalidation delete failed")
	}
}

// Len reports the current number of cached entries (for tests/metrics).
func (l *Layer) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lru.Len()
}

// purgeExpiredLocked removes every entry older than TTL. Must be called
// with l.mu held. Keys() is oldest-first for an LRU never touched by Get,
// so this stops at the first unexpired entry.
func (l *Layer) purgeExpiredLocked() {
	if l.ttl <= 0 {
		return
	}
	for _, key := range l.lru.Keys() {
		e, ok := l.lru.Peek(key)
		if !ok {
			continue
		}
		if time.Since(e.insertedAt) > l.ttl {
			l.lru.Remove(key)
			continue
		}
		break
	}
}
