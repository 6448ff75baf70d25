package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/semcache/internal/config"
	dbRedis "github.com/kailas-cloud/semcache/internal/db/redis"
	"github.com/kailas-cloud/semcache/internal/domain"
	"github.com/kailas-cloud/semcache/internal/embedder"
	logpkg "github.com/kailas-cloud/semcache/internal/logger"
	"github.com/kailas-cloud/semcache/internal/metrics"
	"github.com/kailas-cloud/semcache/internal/repository/embcache"
	openaiEmb "github.com/kailas-cloud/semcache/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/semcache/internal/usecase/embedding"
)

// env bundles what every command needs before it touches a model.
type env struct {
	cfg    config.Config
	logger *zap.Logger
	ctx    context.Context
}

// setup loads config, applies flag overrides and builds the logger.
func setup(cmd *cobra.Command, opts *globalOptions) (*env, error) {
	cfg, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.modelPath != "" || opts.tokenizerPath != "" {
		cfg.Model.Path = opts.modelPath
		cfg.Model.TokenizerPath = opts.tokenizerPath
	}
	if opts.hashDim != 0 {
		cfg.Model.HashDim = opts.hashDim
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level := cfg.Logging.Level
	if level == "" {
		level = "info"
	}
	logger, err := logpkg.NewLogger(config.GetEnv(), level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterRetrievalMetrics()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return &env{
		cfg:    cfg,
		logger: logger,
		ctx:    logpkg.ContextWithLogger(ctx, logger),
	}, nil
}

// stack is the assembled embedder chain plus what it was built from.
type stack struct {
	Embedder domain.Embedder
	Arch     string
	ModelID  string
	Dim      int
	// cache is nil when no cache store is configured.
	cache   *dbRedis.Store
	closers []func() error
}

// Close releases the model and the cache connection.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// openStack builds the embedder chain: backend -> Cached -> Instrumented.
// The backend already applies the query instruction, so cached vectors are
// keyed on the instructed text.
func (e *env) openStack() (*stack, error) {
	s, err := e.openBackend()
	if err != nil {
		return nil, err
	}

	if len(e.cfg.Cache.Addrs) > 0 {
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    e.cfg.Cache.Addrs,
			Password: e.cfg.Cache.Password,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("create cache store: %w", err)
		}
		s.closers = append(s.closers, func() error { store.Close(); return nil })

		timeout := time.Duration(e.cfg.Cache.ReadinessTimeout) * time.Second
		if err := store.WaitForReady(e.ctx, timeout); err != nil {
			s.Close()
			return nil, err //nolint:wrapcheck // already says what timed out
		}
		e.logger.Info("Connected to cache store", zap.Strings("addrs", e.cfg.Cache.Addrs))

		s.cache = store
		ttl := time.Duration(e.cfg.Cache.TTLSec) * time.Second
		s.Embedder = embcache.New(s.Embedder, store, s.ModelID, ttl, metrics.EmbeddingCacheTotal, e.logger)
	}

	s.Embedder = embeddinguc.NewInstrumentedEmbedder(s.Embedder, s.Arch)

	e.logger.Info("Embedder ready",
		zap.String("arch", s.Arch),
		zap.String("model_id", s.ModelID),
		zap.Int("dim", s.Dim),
		zap.Bool("cache", s.cache != nil),
	)
	return s, nil
}

func (e *env) openBackend() (*stack, error) {
	if oc := e.cfg.OpenAI; oc.BaseURL != "" {
		var emb domain.Embedder = openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     oc.APIKey,
			BaseURL:    oc.BaseURL,
			Model:      oc.Model,
			Dimensions: oc.Dimensions,
		})
		if e.cfg.Model.QueryInstruction != "" {
			emb = domain.NewInstructionEmbedder(emb, e.cfg.Model.QueryInstruction)
		}
		modelID := oc.Model
		if e.cfg.Model.ModelID != "" {
			modelID = e.cfg.Model.ModelID
		}
		return &stack{Embedder: emb, Arch: "openai", ModelID: modelID, Dim: oc.Dimensions}, nil
	}

	b, err := embedder.Open(e.ctx, embedder.Options{
		ModelPath:        e.cfg.Model.Path,
		TokenizerPath:    e.cfg.Model.TokenizerPath,
		HashDim:          e.cfg.Model.HashDim,
		ModelID:          e.cfg.Model.ModelID,
		QueryInstruction: e.cfg.Model.QueryInstruction,
	})
	if err != nil {
		return nil, fmt.Errorf("open embedder: %w", err)
	}
	return &stack{
		Embedder: b.Embedder,
		Arch:     b.Arch,
		ModelID:  b.ModelID,
		Dim:      b.Dim,
		closers:  []func() error{b.Close},
	}, nil
}
