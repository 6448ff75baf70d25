package semcache

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	modelPath        string
	tokenizerPath    string
	hashDim          int
	modelID          string
	queryInstruction string

	embedder Embedder

	cacheAddrs    []string
	cachePassword string
	cacheTTL      time.Duration

	threshold float32
	workers   int

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// WithModel loads a local checkpoint. A .gguf path selects nomic-bert-moe,
// a .safetensors path MiniLM or Qwen3. Without it the client uses the
// hashing baseline.
func WithModel(modelPath, tokenizerPath string) Option {
	return optionFunc(func(c *clientConfig) {
		c.modelPath = modelPath
		c.tokenizerPath = tokenizerPath
	})
}

// WithHashDim sizes the hashing baseline. Ignored when a model is set.
func WithHashDim(dim int) Option {
	return optionFunc(func(c *clientConfig) {
		c.hashDim = dim
	})
}

// WithModelID overrides the model id that scopes cached embeddings.
func WithModelID(id string) Option {
	return optionFunc(func(c *clientConfig) {
		c.modelID = id
	})
}

// WithQueryInstruction overrides the prefix prepended to every embedded text.
func WithQueryInstruction(instruction string) Option {
	return optionFunc(func(c *clientConfig) {
		c.queryInstruction = instruction
	})
}

// WithEmbedder replaces the local backend with e. Model options are ignored.
func WithEmbedder(e Embedder) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
	})
}

// WithRedisCache caches embeddings in Redis for ttl. A zero ttl never expires.
func WithRedisCache(addr, password string, ttl time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.cacheAddrs = []string{addr}
		c.cachePassword = password
		c.cacheTTL = ttl
	})
}

// WithThreshold sets the hit threshold. Default: 0.55.
func WithThreshold(t float32) Option {
	return optionFunc(func(c *clientConfig) {
		c.threshold = t
	})
}

// WithWorkers sets the embedding parallelism of Index. Default: GOMAXPROCS.
func WithWorkers(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.workers = n
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
