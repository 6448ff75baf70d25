package semcache

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/semcache/internal/config"
	dbRedis "github.com/kailas-cloud/semcache/internal/db/redis"
	"github.com/kailas-cloud/semcache/internal/domain"
	"github.com/kailas-cloud/semcache/internal/embedder"
	"github.com/kailas-cloud/semcache/internal/repository/embcache"
	"github.com/kailas-cloud/semcache/internal/repository/faqstore"
	healthuc "github.com/kailas-cloud/semcache/internal/usecase/health"
	indexuc "github.com/kailas-cloud/semcache/internal/usecase/index"
	queryuc "github.com/kailas-cloud/semcache/internal/usecase/query"
)

const defaultReadinessTimeout = 10 * time.Second

// cacheStore is what the client needs from the embedding cache store.
type cacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close()
}

// backend is the opened embedder with its identity.
type backend struct {
	embed   domain.Embedder
	modelID string
	dim     int
	close   func() error
}

// Client is the semcache SDK entry point. Query, Similar and Load are safe
// for concurrent use.
type Client struct {
	backend   backend
	cache     cacheStore
	indexSvc  *indexuc.Service
	querySvc  *queryuc.Service
	healthSvc healthUseCase
	obs       *observer
}

// New opens the embedding backend and, when configured, connects the
// embedding cache. The provided context is used for model loading and the
// cache readiness check. The corpus starts empty.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{threshold: config.DefaultThreshold}
	for _, o := range opts {
		o.apply(cfg)
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var cache cacheStore
	if len(cfg.cacheAddrs) > 0 {
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.cacheAddrs,
			Password: cfg.cachePassword,
		})
		if err != nil {
			_ = b.close()
			return nil, fmt.Errorf("semcache: create cache store: %w", err)
		}
		if err := s.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
			s.Close()
			_ = b.close()
			return nil, fmt.Errorf("semcache: cache not ready: %w", err)
		}
		cache = s
	}

	return wireClient(b, cache, cfg, obs), nil
}

func openBackend(ctx context.Context, cfg *clientConfig) (backend, error) {
	if cfg.embedder != nil {
		var emb domain.Embedder = &embedderAdapter{inner: cfg.embedder}
		if cfg.queryInstruction != "" {
			emb = domain.NewInstructionEmbedder(emb, cfg.queryInstruction)
		}
		id := cfg.modelID
		if id == "" {
			id = "custom"
		}
		return backend{embed: emb, modelID: id, close: func() error { return nil }}, nil
	}

	b, err := embedder.Open(ctx, embedder.Options{
		ModelPath:        cfg.modelPath,
		TokenizerPath:    cfg.tokenizerPath,
		HashDim:          cfg.hashDim,
		ModelID:          cfg.modelID,
		QueryInstruction: cfg.queryInstruction,
	})
	if err != nil {
		return backend{}, fmt.Errorf("semcache: open embedder: %w", err)
	}
	return backend{embed: b.Embedder, modelID: b.ModelID, dim: b.Dim, close: b.Close}, nil
}

func wireClient(b backend, cache cacheStore, cfg *clientConfig, obs *observer) *Client {
	emb := b.embed
	var pinger healthuc.CachePinger
	if cache != nil {
		emb = embcache.New(emb, cache, b.modelID, cfg.cacheTTL, nil, nil)
		pinger = cache
	}

	querySvc := queryuc.New(emb, cfg.threshold)
	return &Client{
		backend:   b,
		cache:     cache,
		indexSvc:  indexuc.New(emb, cfg.workers),
		querySvc:  querySvc,
		healthSvc: healthuc.New(pinger, healthuc.EmbedderCheck(emb), querySvc),
		obs:       obs,
	}
}

// Close releases the model and the cache connection.
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
	if c.backend.close != nil {
		_ = c.backend.close()
	}
}

// ModelID returns the id that scopes cached embeddings.
func (c *Client) ModelID() string { return c.backend.modelID }

// Dim returns the embedding width, or 0 when a custom embedder is used.
func (c *Client) Dim() int { return c.backend.dim }

// Threshold returns the hit threshold.
func (c *Client) Threshold() float32 { return c.querySvc.Threshold() }

// Index embeds every question of rows. It does not change the served corpus;
// pass the result to Load.
func (c *Client) Index(ctx context.Context, rows []FAQ) (out []Entry, err error) {
	start := time.Now()
	defer func() { c.obs.observeCorpus("index", start, len(out), false, err) }()

	entries, err := c.indexSvc.Build(ctx, faqsToDomain(rows))
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	return entriesFromDomain(entries), nil
}

// Load replaces the served corpus with entries and returns how many were
// kept after dropping expired ones.
func (c *Client) Load(entries []Entry) int {
	start := time.Now()
	n := c.querySvc.Replace(entriesToDomain(entries))
	c.obs.observeCorpus("load", start, n, true, nil)
	return n
}

// LoadFile replaces the served corpus with an index file written by SaveFile
// or the build-index command.
func (c *Client) LoadFile(path string) (n int, err error) {
	start := time.Now()
	defer func() { c.obs.observeCorpus("load_file", start, n, true, err) }()

	entries, err := faqstore.LoadEntries(path)
	if err != nil {
		return 0, fmt.Errorf("load index: %w", err)
	}
	return c.querySvc.Replace(entries), nil
}

// SaveFile writes entries as an index file.
func SaveFile(path string, entries []Entry) error {
	if err := faqstore.SaveEntries(path, entriesToDomain(entries)); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	return nil
}

// Size returns the number of served entries.
func (c *Client) Size() int { return c.querySvc.Size() }

// Entry returns a served entry by id.
func (c *Client) Entry(id string) (Entry, error) {
	e, err := c.querySvc.Get(id)
	if err != nil {
		return Entry{}, fmt.Errorf("get entry: %w", err)
	}
	return entryFromDomain(&e), nil
}

// Query decides question against the served corpus.
func (c *Client) Query(ctx context.Context, question string) (out Match, err error) {
	start := time.Now()
	defer func() { c.obs.observeMatches("query", start, []Match{out}, err) }()

	m, err := c.querySvc.Query(ctx, question)
	if err != nil {
		return Match{}, fmt.Errorf("query: %w", err)
	}
	return matchFromDomain(m), nil
}

// Similar returns the k best entries for question, best first, each decided
// against the threshold.
func (c *Client) Similar(ctx context.Context, question string, k int) (out []Match, err error) {
	start := time.Now()
	defer func() { c.obs.observeMatches("similar", start, out, err) }()

	ms, err := c.querySvc.Similar(ctx, question, k)
	if err != nil {
		return nil, fmt.Errorf("similar: %w", err)
	}
	out = make([]Match, len(ms))
	for i, m := range ms {
		out[i] = matchFromDomain(m)
	}
	return out, nil
}

// Ping checks cache connectivity. It returns nil when no cache is configured.
func (c *Client) Ping(ctx context.Context) (err error) {
	if c.cache == nil {
		return nil
	}
	start := time.Now()
	defer func() { c.obs.observe("ping", start, err) }()

	if err = c.cache.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}
