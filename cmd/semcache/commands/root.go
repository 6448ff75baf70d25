// Package commands holds the semcache cobra commands and the composition root
// they share.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath    string
	modelPath     string
	tokenizerPath string
	hashDim       int
	logLevel      string
}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "semcache",
		Short: "Semantic FAQ cache",
		Long: `semcache decides whether a curated FAQ answer can be reused for a new
question by comparing sentence embeddings.

Embeddings come from an in-process transformer (nomic-bert-moe GGUF, MiniLM or
Qwen3 safetensors), an OpenAI-compatible server, or a hashing baseline when no
model is configured.

Examples:
  semcache build-index --input faq.jsonl --output index.jsonl
  semcache --model-path m.gguf --tokenizer-path tokenizer.json query --index index.jsonl --question "How do I reset my password?"
  semcache eval --index index.jsonl --cases cases.jsonl
  semcache serve --index index.jsonl`,
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			// Load .env for API keys and ${VAR} config expansion
			_ = godotenv.Load()
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file (default config/<ENV>.yaml)")
	pf.StringVar(&opts.modelPath, "model-path", "", "Checkpoint file (.gguf or .safetensors)")
	pf.StringVar(&opts.tokenizerPath, "tokenizer-path", "", "HuggingFace tokenizer.json")
	pf.IntVar(&opts.hashDim, "hash-dim", 0, "Hashing baseline dimension when no model is set")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	cmd.AddCommand(
		NewBuildIndexCmd(opts),
		NewQueryCmd(opts),
		NewEvalCmd(opts),
		NewClusterCmd(opts),
		NewServeCmd(opts),
		NewVersionCmd(),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute() //nolint:wrapcheck // cobra errors are user-facing
}
