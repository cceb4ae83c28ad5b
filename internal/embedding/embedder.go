package embedding

import (
	"container/list"
	"context"
	"math"
	"sync"
	"time"

	"ragserv/internal/config"
	"ragserv/internal/retry"

	"golang.org/x/sync/errgroup"
)

// queryCache is the bounded key/value cache backing EmbedQuery, keyed by the
// raw query string. Implementations: the in-process lruCache (default) and
// redisCache (cfg.CacheBackend=="redis").
type queryCache interface {
	get(ctx context.Context, key string) ([]float32, bool)
	put(ctx context.Context, key string, value []float32)
}

// Embedder embeds batches of document text and single queries. EmbedBatch
// runs micro-batches on up to MaxConcurrent goroutines and waits for all of
// them; EmbedQuery calls the endpoint on the calling goroutine.
type Embedder struct {
	cfg               config.EmbeddingConfig
	cache             queryCache
	instructionPrefix string
}

// New constructs an Embedder from config. The query cache defaults to an
// in-process bounded LRU; set cfg.CacheBackend="redis" together with a
// non-empty cfg.RedisAddr to back it with Redis instead.
func New(cfg config.EmbeddingConfig) *Embedder {
	var cache queryCache
	if cfg.CacheBackend == "redis" && cfg.RedisAddr != "" {
		cache = newRedisCache(cfg.RedisAddr)
	} else {
		cache = newLRUCache(cfg.CacheSize)
	}
	return &Embedder{cfg: cfg, cache: cache}
}

// WithInstructionPrefix sets a string prepended to every query before
// embedding (used by instruction-tuned embedding models).
func (e *Embedder) WithInstructionPrefix(p string) *Embedder {
	e.instructionPrefix = p
	return e
}

// EmbedBatchResult is the outcome of a batch embed call.
type EmbedBatchResult struct {
	Embeddings [][]float32
	Elapsed    time.Duration
}

// EmbedBatch splits texts into micro-batches of cfg.MicroBatch size, runs up
// to cfg.MaxConcurrent of them in parallel via errgroup, and stitches
// results back in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) (EmbedBatchResult, error) {
	start := time.Now()
	if len(texts) == 0 {
		return EmbedBatchResult{Elapsed: time.Since(start)}, nil
	}

	microBatch := e.cfg.MicroBatch
	if microBatch <= 0 {
		microBatch = 32
	}
	maxConcurrent := e.cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	type batch struct {
		start int
		texts []string
	}
	var batches []batch
	for i := 0; i < len(texts); i += microBatch {
		end := i + microBatch
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, batch{start: i, texts: texts[i:end]})
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for _, b := range batches {
		b := b
		g.Go(func() error {
			vecs, err := e.embedWithRetry(gctx, b.texts)
			if err != nil {
				return err
			}
			for i, v := range vecs {
				out[b.start+i] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return EmbedBatchResult{}, err
	}
	if e.cfg.Normalize {
		for _, v := range out {
			l2Normalize(v)
		}
	}
	return EmbedBatchResult{Embeddings: out, Elapsed: time.Since(start)}, nil
}

// EmbedQuery embeds a single query string, consulting (and populating) the
// bounded query cache first.
func (e *Embedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if v, ok := e.cache.get(ctx, query); ok {
		return v, nil
	}
	text := query
	if e.instructionPrefix != "" {
		text = e.instructionPrefix + query
	}
	vecs, err := e.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	v := vecs[0]
	if e.cfg.Normalize {
		l2Normalize(v)
	}
	e.cache.put(ctx, query, v)
	return v, nil
}

func (e *Embedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var result [][]float32
	err := retry.Do(ctx, retry.Policy{}, func(ctx context.Context) error {
		vecs, err := EmbedText(ctx, e.cfg, texts)
		if err != nil {
			return err
		}
		result = vecs
		return nil
	})
	return result, err
}

// Ping verifies the embedding endpoint is reachable.
func (e *Embedder) Ping(ctx context.Context) error {
	return CheckReachability(ctx, e.cfg)
}

// Dimension reports the configured embedding dimension.
func (e *Embedder) Dimension() int { return e.cfg.Dimension }

func l2Normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := math.Sqrt(sumSq)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}

// lruCache is a bounded, concurrency-safe LRU keyed by raw query string.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type lruEntry struct {
	key   string
	value []float32
}

func newLRUCache(capacity int) *lruCache {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &lruCache{capacity: capacity, ll: list.New(), items: make(map[string]*list.Element)}
}

func (c *lruCache) get(_ context.Context, key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*lruEntry).value, true
}

func (c *lruCache) put(_ context.Context, key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*lruEntry).value = value
		return
	}
	el := c.ll.PushFront(&lruEntry{key: key, value: value})
	c.items[key] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).key)
		}
	}
}
