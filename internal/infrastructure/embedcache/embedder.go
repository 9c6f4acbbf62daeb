package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/42012606/Memex-Neural/internal/core/ports"
)

const keyPrefix = "memex:emb_cache:"

var ErrKeyNotFound = errors.New("cache key not found")

// Store is the consumer interface for the cache backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedEmbedder caches embeddings keyed by model and text.
type CachedEmbedder struct {
	inner   ports.Embedder
	model   string
	store   Store
	ttl     time.Duration
	observe func(result string)
	logger  *slog.Logger
}

// New creates a caching decorator; observe receives "hit" or "miss" and may be nil.
func New(inner ports.Embedder, model string, store Store, ttl time.Duration, observe func(string), logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{
		inner:   inner,
		model:   model,
		store:   store,
		ttl:     ttl,
		observe: observe,
		logger:  logger,
	}
}

// Embed returns a cached embedding or calls the inner embedder. Cache failures never fail the call.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(c.model, text)

	if vec, ok := c.get(ctx, key); ok {
		c.count("hit")
		return vec, nil
	}
	c.count("miss")

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.store.SetWithTTL(ctx, key, encode(vec), c.ttl); err != nil {
		c.logger.Warn("failed to cache embedding", "key", key, "error", err)
	}
	return vec, nil
}

func (c *CachedEmbedder) count(result string) {
	if c.observe != nil {
		c.observe(result)
	}
}

func (c *CachedEmbedder) get(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			c.logger.Warn("failed to read cached embedding", "key", key, "error", err)
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}
	vec, err := decode(data)
	if err != nil {
		c.logger.Warn("failed to parse cached embedding", "key", key, "error", err)
		return nil, false
	}
	return vec, true
}

// CacheKey is sha256(model + text) under the cache prefix.
func CacheKey(model, text string) string {
	h := sha256.Sum256([]byte(model + text))
	return keyPrefix + hex.EncodeToString(h[:])
}

func encode(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decode(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding cache data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
