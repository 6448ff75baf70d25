package embedder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/semcache/internal/domain"
	"github.com/kailas-cloud/semcache/internal/embedder/hash"
	"github.com/kailas-cloud/semcache/internal/embedder/minilm"
	"github.com/kailas-cloud/semcache/internal/embedder/nomic"
	"github.com/kailas-cloud/semcache/internal/embedder/qwen3"
	"github.com/kailas-cloud/semcache/internal/logger"
	"github.com/kailas-cloud/semcache/internal/metrics"
	"github.com/kailas-cloud/semcache/internal/tokenizer"
	"github.com/kailas-cloud/semcache/internal/weights"
)

// ErrIncompletePaths is returned when only one of model and tokenizer path is set.
var ErrIncompletePaths = errors.New("model path and tokenizer path must be set together")

// ArchHash labels the hashing baseline.
const ArchHash = "hash"

// Default model ids per architecture.
var defaultModelIDs = map[string]string{
	string(weights.ArchNomicMoE): "nomic-embed-text-v2-moe",
	string(weights.ArchMiniLM):   "all-MiniLM-L6-v2",
	string(weights.ArchQwen3):    "pplx-embed-v1-0.6b",
}

// Options selects a backend.
type Options struct {
	ModelPath     string
	TokenizerPath string
	// HashDim sizes the hashing baseline. 0 means hash.DefaultDim.
	HashDim int
	// ModelID overrides the architecture's default id.
	ModelID string
	// QueryInstruction overrides the architecture's default prefix.
	QueryInstruction string
}

// Backend is an opened embedder plus what callers need to know about it.
type Backend struct {
	Embedder         domain.Embedder
	Arch             string
	ModelID          string
	Dim              int
	QueryInstruction string
	close            func() error
}

// Close releases model files. Safe on the hashing baseline.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Open picks a backend:
//   - no paths: hashing baseline
//   - .gguf: nomic-bert-moe
//   - .safetensors: MiniLM or Qwen3, chosen by sniffing the header
//
// The returned Embedder already applies the query instruction, if any.
func Open(ctx context.Context, opts Options) (*Backend, error) {
	switch {
	case opts.ModelPath == "" && opts.TokenizerPath == "":
		e := hash.New(opts.HashDim)
		b := &Backend{
			Embedder: e,
			Arch:     ArchHash,
			ModelID:  "hash-" + strconv.Itoa(e.Dim()),
			Dim:      e.Dim(),
		}
		return finish(b, opts), nil
	case opts.ModelPath == "" || opts.TokenizerPath == "":
		return nil, ErrIncompletePaths
	}

	log := logger.FromContext(ctx)
	start := time.Now()

	arch, err := detect(opts.ModelPath)
	if err != nil {
		return nil, err
	}
	model, instruction, err := loadModel(arch, opts.ModelPath)
	if err != nil {
		return nil, err
	}
	tok, err := tokenizer.Load(opts.TokenizerPath)
	if err != nil {
		_ = model.Close()
		return nil, err //nolint:wrapcheck // already names the file
	}

	elapsed := time.Since(start)
	metrics.ModelLoadDuration.WithLabelValues(string(arch)).Observe(elapsed.Seconds())
	log.Info("Model loaded",
		zap.String("arch", string(arch)),
		zap.String("path", opts.ModelPath),
		zap.Int("dim", model.Dim()),
		zap.Duration("duration", elapsed),
	)

	local := NewLocal(tok, model)
	b := &Backend{
		Embedder:         local,
		Arch:             string(arch),
		ModelID:          defaultModelIDs[string(arch)],
		Dim:              model.Dim(),
		QueryInstruction: instruction,
		close:            local.Close,
	}
	return finish(b, opts), nil
}

func finish(b *Backend, opts Options) *Backend {
	if opts.ModelID != "" {
		b.ModelID = opts.ModelID
	}
	if opts.QueryInstruction != "" {
		b.QueryInstruction = opts.QueryInstruction
	}
	if b.QueryInstruction != "" {
		b.Embedder = domain.NewInstructionEmbedder(b.Embedder, b.QueryInstruction)
	}
	return b
}

// detect maps a checkpoint path to an architecture.
func detect(path string) (weights.Arch, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gguf":
		return weights.ArchNomicMoE, nil
	case ".safetensors":
		arch, err := weights.Sniff(path)
		if err != nil {
			return "", fmt.Errorf("sniff %s: %w", path, err)
		}
		return arch, nil
	default:
		return "", fmt.Errorf("%s: unknown checkpoint extension: %w", path, weights.ErrUnsupportedArch)
	}
}

func loadModel(arch weights.Arch, path string) (Model, string, error) {
	switch arch {
	case weights.ArchNomicMoE:
		m, err := nomic.Load(path)
		if err != nil {
			return nil, "", fmt.Errorf("load nomic: %w", err)
		}
		return m, nomic.QueryPrefix, nil
	case weights.ArchMiniLM:
		m, err := minilm.Load(path)
		if err != nil {
			return nil, "", fmt.Errorf("load minilm: %w", err)
		}
		return m, "", nil
	case weights.ArchQwen3:
		m, err := qwen3.Load(path)
		if err != nil {
			return nil, "", fmt.Errorf("load qwen3: %w", err)
		}
		return m, "", nil
	default:
		return nil, "", fmt.Errorf("%s: %w", arch, weights.ErrUnsupportedArch)
	}
}
