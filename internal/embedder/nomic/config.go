package nomic

import (
	"fmt"
)

// Arch is the GGUF general.architecture value and metadata key prefix.
const Arch = "nomic-bert-moe"

// QueryPrefix is prepended to queries before tokenization.
const QueryPrefix = "search_query: "

// Config holds the hyperparameters read from GGUF metadata.
type Config struct {
	Hidden      int
	Heads       int
	HeadDim     int
	Layers      int
	Experts     int
	ExpertsUsed int
	MoEEvery    int
	RopeBase    float32
	Eps         float32
	MaxLen      int
}

// Metadata is the typed GGUF metadata the loader reads.
type Metadata interface {
	Uint32(key string) (uint32, error)
	Float32(key string) (float32, error)
}

// ConfigFromGGUF extracts every required key. The first missing or mistyped
// key fails the load with a *weights.MetadataError naming it.
func ConfigFromGGUF(md Metadata) (Config, error) {
	var (
		cfg Config
		err error
	)
	u32 := func(key string) int {
		if err != nil {
			return 0
		}
		var v uint32
		v, err = md.Uint32(Arch + "." + key)
		return int(v)
	}
	f32 := func(key string) float32 {
		if err != nil {
			return 0
		}
		var v float32
		v, err = md.Float32(Arch + "." + key)
		return v
	}

	cfg.Hidden = u32("embedding_length")
	cfg.Heads = u32("attention.head_count")
	cfg.Layers = u32("block_count")
	cfg.Experts = u32("expert_count")
	cfg.ExpertsUsed = u32("expert_used_count")
	cfg.MoEEvery = u32("moe_every_n_layers")
	cfg.RopeBase = f32("rope.freq_base")
	cfg.Eps = f32("attention.layer_norm_epsilon")
	cfg.MaxLen = u32("context_length")
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if cfg.Heads > 0 {
		cfg.HeadDim = cfg.Hidden / cfg.Heads
	}
	return cfg, cfg.Validate()
}

// Validate checks the hyperparameters before any tensor is loaded.
func (c Config) Validate() error {
	switch {
	case c.Hidden <= 0 || c.Heads <= 0 || c.Layers <= 0 || c.MaxLen <= 0:
		return fmt.Errorf("nomic config: sizes must be positive: %+v", c)
	case c.Hidden%c.Heads != 0:
		return fmt.Errorf("nomic config: hidden %d not divisible by %d heads", c.Hidden, c.Heads)
	case c.HeadDim%2 != 0:
		return fmt.Errorf("nomic config: head dim %d must be even for rope", c.HeadDim)
	case c.MoEEvery <= 0:
		return fmt.Errorf("nomic config: moe_every_n_layers must be positive, got %d", c.MoEEvery)
	case c.ExpertsUsed <= 0 || c.ExpertsUsed > c.Experts:
		return fmt.Errorf("nomic config: %d active of %d experts", c.ExpertsUsed, c.Experts)
	case c.RopeBase <= 0 || c.Eps <= 0:
		return fmt.Errorf("nomic config: rope base %v and eps %v must be positive", c.RopeBase, c.Eps)
	}
	return nil
}

// IsMoE reports whether layer i uses the expert feed-forward.
func (c Config) IsMoE(i int) bool {
	return i%c.MoEEvery != 0
}
