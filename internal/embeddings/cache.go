package embeddings

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/quantumlife/companion/internal/logging"
)

// CachedEmbedder memoizes another embedder in an in-process LRU and,
// when a redis client is given, in a shared redis tier.
type CachedEmbedder struct {
	next   Embedder
	local  *lru.Cache[string, []float32]
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	log    *logging.Logger
}

// CacheConfig for the cached embedder
type CacheConfig struct {
	Size      int           // LRU entries, default 1024
	Redis     *redis.Client // optional second tier
	TTL       time.Duration // redis expiry, default 24h
	Namespace string        // key namespace, usually the model name
}

// NewCached wraps next with caching.
func NewCached(next Embedder, cfg CacheConfig) (*CachedEmbedder, error) {
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	local, err := lru.New[string, []float32](cfg.Size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{
		next:   next,
		local:  local,
		rdb:    cfg.Redis,
		ttl:    cfg.TTL,
		prefix: "emb:" + cfg.Namespace + ":" + strconv.FormatUint(next.Dimension(), 10) + ":",
		log:    logging.Component("embeddings"),
	}, nil
}

// Embed returns a cached vector or computes and stores one.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.prefix + strconv.FormatUint(xxhash.Sum64String(text), 16)

	if v, ok := c.local.Get(key); ok {
		return v, nil
	}

	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if v, ok := decodeVector(raw, c.next.Dimension()); ok {
				c.local.Add(key, v)
				return v, nil
			}
		case !errors.Is(err, redis.Nil):
			c.log.WithField("error", err).Warn("redis embedding cache read failed")
		}
	}

	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.local.Add(key, v)

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, encodeVector(v), c.ttl).Err(); err != nil {
			c.log.WithField("error", err).Warn("redis embedding cache write failed")
		}
	}
	return v, nil
}

// Dimension returns the wrapped embedder's width.
func (c *CachedEmbedder) Dimension() uint64 {
	return c.next.Dimension()
}

// Len reports the number of locally cached vectors.
func (c *CachedEmbedder) Len() int {
	return c.local.Len()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte, dim uint64) ([]float32, bool) {
	if uint64(len(buf)) != 4*dim {
		return nil, false
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, true
}
