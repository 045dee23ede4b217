package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the docbench pipeline configuration.
type Config struct {
	Paths      PathsConfig      `yaml:"paths"`
	Generation GenerationConfig `yaml:"generation"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Retry      RetryConfig      `yaml:"retry"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Rerank     RerankConfig     `yaml:"rerank"`
	Export     ExportConfig     `yaml:"export"`
	Filter     FilterConfig     `yaml:"filter"`
	Database   DatabaseConfig   `yaml:"database"`
	Budget     BudgetConfig     `yaml:"budget"`
	Ops        OpsConfig        `yaml:"ops"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
	File  string `yaml:"file"`  // optional JSON copy of the log
}

// PathsConfig holds input and output locations.
type PathsConfig struct {
	Documents  string `yaml:"documents"`  // folder of PDFs
	Corpus     string `yaml:"corpus"`     // generated queries, JSONL
	Evaluation string `yaml:"evaluation"` // retrieval report, JSON
	Ranked     string `yaml:"ranked"`     // rerank results, JSON
	ExportDir  string `yaml:"export_dir"` // train/corpus parquet files
}

// ProviderConfig holds an OpenAI-compatible generative endpoint.
type ProviderConfig struct {
	Name              string  `yaml:"name"` // metrics and budget label
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	Model             string  `yaml:"model"`
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float32 `yaml:"temperature"`
	RequestTimeoutSec int     `yaml:"request_timeout_sec"`
}

// GenerationConfig holds query generation settings.
type GenerationConfig struct {
	Provider               ProviderConfig    `yaml:"provider"`
	PoolSize               int               `yaml:"pool_size"`
	ChunkSize              int               `yaml:"chunk_size"`
	MaxConcurrentDocuments int               `yaml:"max_concurrent_documents"` // 0 = unlimited
	PagesPerDocument       int               `yaml:"pages_per_document"`       // 0 = all pages
	Seed                   int64             `yaml:"seed"`
	Languages              []string          `yaml:"languages"`
	Prompts                map[string]string `yaml:"prompts"` // system prompt per language
	UserPrompt             string            `yaml:"user_prompt"`
	RenderDPI              float64           `yaml:"render_dpi"`
}

// RateLimitConfig holds the generation call budget.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// RetryConfig holds backoff settings for generation calls.
type RetryConfig struct {
	MaxRetries   int     `yaml:"max_retries"` // total attempts
	BaseDelaySec float64 `yaml:"base_delay_sec"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Driver           string `yaml:"driver"` // openai, vectapi (default: vectapi)
	Provider         string `yaml:"provider"`
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
	Model            string `yaml:"model"`
	Dimensions       int    `yaml:"dimensions"`
	ImageURL         string `yaml:"image_url"` // vectapi image endpoint
	TextURL          string `yaml:"text_url"`  // vectapi text endpoint
	QueryInstruction string `yaml:"query_instruction"`
	TimeoutSec       int    `yaml:"timeout_sec"`
	Cache            bool   `yaml:"cache"`
}

// EvaluationConfig holds retrieval evaluation settings.
type EvaluationConfig struct {
	SampleSize   int     `yaml:"sample_size"`
	Seed         int64   `yaml:"seed"`
	TopK         int     `yaml:"top_k"`
	QueryField   string  `yaml:"query_field"`
	EmbedWorkers int     `yaml:"embed_workers"`
	RenderDPI    float64 `yaml:"render_dpi"`
}

// RerankConfig holds generative reranking settings.
type RerankConfig struct {
	Provider      ProviderConfig `yaml:"provider"`
	Prompt        string         `yaml:"prompt"`
	MaxCandidates int            `yaml:"max_candidates"`
	RenderDPI     float64        `yaml:"render_dpi"`
	ImageFormat   string         `yaml:"image_format"` // png or jpeg (default: jpeg)
	JPEGQuality   int            `yaml:"jpeg_quality"`
}

// ExportConfig holds training dataset export settings.
type ExportConfig struct {
	RenderDPI float64 `yaml:"render_dpi"`
}

// FilterConfig holds reference-image contamination filter settings.
// The filter is skipped by "run" when References is empty.
type FilterConfig struct {
	References string  `yaml:"references"` // folder of PNG/JPEG reference images
	Threshold  float64 `yaml:"threshold"`  // pages scoring at or above are removed
	Workers    int     `yaml:"workers"`
	OutputDir  string  `yaml:"output_dir"` // default: paths.export_dir
}

// DatabaseConfig holds the optional Valkey/Redis connection used for caching and budgets.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"` // empty disables the store
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	CacheTTLHours    int      `yaml:"cache_ttl_hours"`
	RunTTLHours      int      `yaml:"run_ttl_hours"` // progress records
}

// BudgetConfig holds token budget settings for generative calls.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// OpsConfig holds the metrics/progress HTTP server settings.
type OpsConfig struct {
	Port        int      `yaml:"port"` // 0 disables the server
	ShutdownSec int      `yaml:"shutdown_timeout_sec"`
	APIKeys     []string `yaml:"api_keys"` // empty disables auth
}

// Query fields that can drive evaluation.
var queryFields = map[string]bool{
	"main_query":       true,
	"secondary_query":  true,
	"visual_query":     true,
	"multimodal_query": true,
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates raw YAML.
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

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Paths.Documents == "" {
		c.Paths.Documents = "input_pdfs"
	}
	if c.Paths.Corpus == "" {
		c.Paths.Corpus = filepath.Join("output", "results", "queries.jsonl")
	}
	if c.Paths.Evaluation == "" {
		c.Paths.Evaluation = filepath.Join("output", "results", "retrieval_results.json")
	}
	if c.Paths.Ranked == "" {
		c.Paths.Ranked = filepath.Join("output", "results", "ranked_results.json")
	}
	if c.Paths.ExportDir == "" {
		c.Paths.ExportDir = filepath.Join("output", "dataset")
	}

	c.Generation.Provider.applyDefaults("generation")
	if c.Generation.PoolSize <= 0 {
		c.Generation.PoolSize = 10
	}
	if c.Generation.ChunkSize <= 0 {
		c.Generation.ChunkSize = 5
	}
	if len(c.Generation.Languages) == 0 {
		c.Generation.Languages = []string{"EN", "FR", "ES", "DE", "IT"}
	}
	if c.Generation.RenderDPI <= 0 {
		c.Generation.RenderDPI = 72
	}

	if c.RateLimit.RequestsPerSecond <= 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.BaseDelaySec <= 0 {
		c.Retry.BaseDelaySec = 3
	}

	if c.Embedding.Driver == "" {
		c.Embedding.Driver = "vectapi"
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = c.Embedding.Driver
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 60
	}

	if c.Evaluation.SampleSize <= 0 {
		c.Evaluation.SampleSize = 500
	}
	if c.Evaluation.TopK <= 0 {
		c.Evaluation.TopK = 15
	}
	if c.Evaluation.QueryField == "" {
		c.Evaluation.QueryField = "multimodal_query"
	}
	if c.Evaluation.EmbedWorkers <= 0 {
		c.Evaluation.EmbedWorkers = 4
	}
	if c.Evaluation.RenderDPI <= 0 {
		c.Evaluation.RenderDPI = 72
	}

	c.Rerank.Provider.applyDefaults("rerank")
	if c.Rerank.MaxCandidates <= 0 {
		c.Rerank.MaxCandidates = 15
	}
	if c.Rerank.RenderDPI <= 0 {
		c.Rerank.RenderDPI = 144
	}
	if c.Rerank.ImageFormat == "" {
		c.Rerank.ImageFormat = "jpeg"
	}
	if c.Rerank.JPEGQuality <= 0 {
		c.Rerank.JPEGQuality = 70
	}
	if c.Export.RenderDPI <= 0 {
		c.Export.RenderDPI = 144
	}
	if c.Filter.Threshold == 0 {
		c.Filter.Threshold = 0.76
	}
	if c.Filter.Workers <= 0 {
		c.Filter.Workers = 4
	}
	if c.Filter.OutputDir == "" {
		c.Filter.OutputDir = c.Paths.ExportDir
	}

	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Database.CacheTTLHours <= 0 {
		c.Database.CacheTTLHours = 24 * 30
	}
	if c.Database.RunTTLHours <= 0 {
		c.Database.RunTTLHours = 24 * 7
	}
	if c.Ops.ShutdownSec <= 0 {
		c.Ops.ShutdownSec = 10
	}
}

func (p *ProviderConfig) applyDefaults(name string) {
	if p.Name == "" {
		p.Name = name
	}
	if p.RequestTimeoutSec <= 0 {
		p.RequestTimeoutSec = 120
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive, got %v", c.RateLimit.RequestsPerSecond)
	}
	if c.Generation.ChunkSize <= 0 {
		return fmt.Errorf("generation.chunk_size must be positive, got %d", c.Generation.ChunkSize)
	}
	if c.Generation.PoolSize <= 0 {
		return fmt.Errorf("generation.pool_size must be positive, got %d", c.Generation.PoolSize)
	}
	if c.Generation.MaxConcurrentDocuments < 0 {
		return fmt.Errorf("generation.max_concurrent_documents must not be negative, got %d",
			c.Generation.MaxConcurrentDocuments)
	}
	for _, l := range c.Generation.Languages {
		switch strings.ToUpper(l) {
		case "EN", "FR", "ES", "DE", "IT":
			// ok
		default:
			return fmt.Errorf("generation.languages: unsupported language %q", l)
		}
	}

	switch c.Embedding.Driver {
	case "openai":
		if c.Embedding.Model == "" {
			return fmt.Errorf("embedding.model is required for driver \"openai\"")
		}
	case "vectapi":
		if c.Embedding.ImageURL == "" || c.Embedding.TextURL == "" {
			return fmt.Errorf("embedding.image_url and embedding.text_url are required for driver \"vectapi\"")
		}
	default:
		return fmt.Errorf("embedding.driver must be \"openai\" or \"vectapi\", got %q", c.Embedding.Driver)
	}

	if !queryFields[c.Evaluation.QueryField] {
		return fmt.Errorf("evaluation.query_field: unknown field %q", c.Evaluation.QueryField)
	}

	switch strings.ToLower(c.Rerank.ImageFormat) {
	case "png", "jpeg", "jpg":
	default:
		return fmt.Errorf("rerank.image_format must be \"png\" or \"jpeg\", got %q", c.Rerank.ImageFormat)
	}
	if c.Rerank.JPEGQuality > 100 {
		return fmt.Errorf("rerank.jpeg_quality must be between 1 and 100, got %d", c.Rerank.JPEGQuality)
	}
	if c.Filter.Threshold <= 0 || c.Filter.Threshold > 1 {
		return fmt.Errorf("filter.threshold must be in (0, 1], got %v", c.Filter.Threshold)
	}

	switch c.Budget.Action {
	case "", "warn", "reject":
		// ok
	default:
		return fmt.Errorf("budget.action must be \"warn\" or \"reject\", got %q", c.Budget.Action)
	}

	if c.Ops.Port < 0 || c.Ops.Port > 65535 {
		return fmt.Errorf("ops.port must be between 0 and 65535, got %d", c.Ops.Port)
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
