package server

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gravitas-games/tactics-reach/internal/gamemap"
	"github.com/gravitas-games/tactics-reach/internal/reach"
)

// ReachCache stores reach results in Redis. Results only depend on the engine
// (map, costs and limits) and the query, so a key built from both identifies a
// result exactly. Any Redis failure falls back to computing.
type ReachCache struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

// NewReachCache creates a cache, or returns nil when caching is disabled.
// A nil *ReachCache is valid and never hits.
func NewReachCache(client *redis.Client, prefix string, ttl time.Duration) *ReachCache {
	if client == nil || ttl < 0 {
		return nil
	}
	return &ReachCache{redis: client, prefix: prefix, ttl: ttl}
}

// Key builds the cache key for a query against the engine with the given fingerprint.
// Affinity entries are hashed in terrain order so map iteration order does not matter.
func (c *ReachCache) Key(fingerprint uint64, q reach.Query) string {
	d := xxhash.New()
	var buf [8]byte
	write := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		d.Write(buf[:])
	}

	write(int64(fingerprint))
	write(int64(q.Origin.X))
	write(int64(q.Origin.Y))
	write(int64(q.Budget))
	if q.IncludeFrontier {
		write(1)
	} else {
		write(0)
	}

	codes := make([]int, 0, len(q.Affinity))
	for code := range q.Affinity {
		codes = append(codes, int(code))
	}
	sort.Ints(codes)
	write(int64(len(codes)))
	for _, code := range codes {
		write(int64(code))
		write(int64(q.Affinity[gamemap.Code(code)]))
	}

	prefix := "reach:"
	if c != nil {
		prefix = c.prefix
	}
	return prefix + strconv.FormatUint(d.Sum64(), 16)
}

// Get returns the cached tiles for key, if any
func (c *ReachCache) Get(ctx context.Context, key string) ([]reach.Tile, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("Warning: Failed to read reach cache: %v", err)
		}
		return nil, false
	}
	var tiles []reach.Tile
	if err := json.Unmarshal(data, &tiles); err != nil {
		log.Printf("Warning: Corrupt reach cache entry %s: %v", key, err)
		return nil, false
	}
	return tiles, true
}

// Set stores tiles under key
func (c *ReachCache) Set(ctx context.Context, key string, tiles []reach.Tile) {
	if c == nil {
		return
	}
	data, err := json.Marshal(tiles)
	if err != nil {
		log.Printf("Warning: Failed to encode reach result: %v", err)
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Printf("Warning: Failed to write reach cache: %v", err)
	}
}
