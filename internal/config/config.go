package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the semcache configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Model     ModelConfig     `yaml:"model"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Cache     CacheConfig     `yaml:"cache"`
	Index     IndexConfig     `yaml:"index"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// ModelConfig selects the local embedding backend. Both paths empty selects
// the hashing baseline.
type ModelConfig struct {
	Path             string `yaml:"path"`
	TokenizerPath    string `yaml:"tokenizer_path"`
	HashDim          int    `yaml:"hash_dim"`
	QueryInstruction string `yaml:"query_instruction"`
	ModelID          string `yaml:"model_id"`
}

// OpenAIConfig selects a remote OpenAI-compatible backend when BaseURL is set.
type OpenAIConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// RetrievalConfig holds decision settings.
type RetrievalConfig struct {
	Threshold        float32 `yaml:"threshold"`
	RequiredPassRate float32 `yaml:"required_pass_rate"`
	TopK             int     `yaml:"top_k"`
}

// CacheConfig holds the embedding cache store settings. No addrs, no cache.
type CacheConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	TTLSec           int      `yaml:"ttl_sec"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// IndexConfig holds index build settings.
type IndexConfig struct {
	Workers int `yaml:"workers"`
}

// Defaults used when a field is left empty.
const (
	DefaultPort             = 8080
	DefaultThreshold        = 0.55
	DefaultRequiredPassRate = 0.85
	DefaultTopK             = 5
	DefaultCacheTTLSec      = 7 * 24 * 3600
)

// Load reads configuration from path, or from config/<ENV>.yaml when path is empty.
func Load(path string) (Config, error) {
	if path == "" {
		path = findConfigPath(GetEnv())
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// LoadOrDefault behaves like Load but falls back to defaults when no path was
// given and the environment's config file does not exist.
func LoadOrDefault(path string) (Config, error) {
	cfg, err := Load(path)
	if err == nil || path != "" || !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}
	cfg = Config{}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Parse expands env variables in data, decodes it, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values. A zero threshold is
// indistinguishable from unset and becomes DefaultThreshold.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultPort
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Retrieval.Threshold == 0 {
		c.Retrieval.Threshold = DefaultThreshold
	}
	if c.Retrieval.RequiredPassRate == 0 {
		c.Retrieval.RequiredPassRate = DefaultRequiredPassRate
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = DefaultTopK
	}
	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = DefaultCacheTTLSec
	}
	if c.Cache.ReadinessTimeout <= 0 {
		c.Cache.ReadinessTimeout = 10
	}
	if c.Index.Workers <= 0 {
		c.Index.Workers = runtime.GOMAXPROCS(0)
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Retrieval.Threshold < -1 || c.Retrieval.Threshold > 1 {
		return fmt.Errorf("retrieval.threshold must be between -1 and 1, got %v", c.Retrieval.Threshold)
	}
	if c.Retrieval.RequiredPassRate < 0 || c.Retrieval.RequiredPassRate > 1 {
		return fmt.Errorf("retrieval.required_pass_rate must be between 0 and 1, got %v", c.Retrieval.RequiredPassRate)
	}
	if c.Model.HashDim < 0 {
		return fmt.Errorf("model.hash_dim must not be negative, got %d", c.Model.HashDim)
	}
	if (c.Model.Path == "") != (c.Model.TokenizerPath == "") {
		return errors.New("model.path and model.tokenizer_path must be set together")
	}
	if c.OpenAI.BaseURL != "" && c.OpenAI.Model == "" {
		return errors.New("openai.model is required when openai.base_url is set")
	}
	if c.OpenAI.Dimensions < 0 {
		return fmt.Errorf("openai.dimensions must not be negative, got %d", c.OpenAI.Dimensions)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
