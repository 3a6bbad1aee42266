package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Classify   ClassifyConfig   `yaml:"classify" mapstructure:"classify"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Wikipedia  WikipediaConfig  `yaml:"wikipedia" mapstructure:"wikipedia"`
	DuckDuckGo DuckDuckGoConfig `yaml:"duckduckgo" mapstructure:"duckduckgo"`
	Brave      BraveConfig      `yaml:"brave" mapstructure:"brave"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Retrieve   RetrieveConfig   `yaml:"retrieve" mapstructure:"retrieve"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Synth      SynthConfig      `yaml:"synth" mapstructure:"synth"`
	Timeouts   TimeoutConfig    `yaml:"timeouts" mapstructure:"timeouts"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	ReqLog     ReqLogConfig     `yaml:"reqlog" mapstructure:"reqlog"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// LLMConfig selects the model provider used for classification and synthesis.
type LLMConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	RouterModel string `yaml:"router_model" mapstructure:"router_model"`
	AnswerModel string `yaml:"answer_model" mapstructure:"answer_model"`
}

// OpenAIConfig holds OpenAI-compatible API settings (chat and embeddings).
type OpenAIConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	RouterModel    string `yaml:"router_model" mapstructure:"router_model"`
	AnswerModel    string `yaml:"answer_model" mapstructure:"answer_model"`
	EmbeddingModel string `yaml:"embedding_model" mapstructure:"embedding_model"`
}

// ClassifyConfig configures the router.
type ClassifyConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
	NoModel   bool   `yaml:"no_model" mapstructure:"no_model"`
}

// SearchConfig configures the search handler.
type SearchConfig struct {
	MaxResults     int      `yaml:"max_results" mapstructure:"max_results"`
	Backends       []string `yaml:"backends" mapstructure:"backends"`
	RatePerSec     float64  `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	BreakerEnabled bool     `yaml:"breaker_enabled" mapstructure:"breaker_enabled"`
}

// JinaConfig holds Jina search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
	// Site restricts Jina results to one domain when set.
	Site string `yaml:"site" mapstructure:"site"`
}

// WikipediaConfig holds MediaWiki API settings.
type WikipediaConfig struct {
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
}

// DuckDuckGoConfig holds DuckDuckGo instant answer API settings.
type DuckDuckGoConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// BraveConfig holds Brave Search API settings.
type BraveConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// RetrieveConfig configures document retrieval.
type RetrieveConfig struct {
	ChunkSize       int    `yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunkOverlap    int    `yaml:"chunk_overlap" mapstructure:"chunk_overlap"`
	TopK            int    `yaml:"top_k" mapstructure:"top_k"`
	FileSizeCeiling int64  `yaml:"file_size_ceiling" mapstructure:"file_size_ceiling"`
	Embedder        string `yaml:"embedder" mapstructure:"embedder"`
	EmbedDimension  int    `yaml:"embed_dimension" mapstructure:"embed_dimension"`
	EmbedCacheSize  int    `yaml:"embed_cache_size" mapstructure:"embed_cache_size"`
	MaxConcurrent   int    `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// OCRConfig configures PDF and image text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	TesseractPath string `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// SynthConfig configures answer synthesis.
type SynthConfig struct {
	MaxContextTokens int    `yaml:"max_context_tokens" mapstructure:"max_context_tokens"`
	TokenEncoding    string `yaml:"token_encoding" mapstructure:"token_encoding"`
}

// TimeoutConfig bounds every external call.
type TimeoutConfig struct {
	CallSecs int `yaml:"call_secs" mapstructure:"call_secs"`
}

// Call returns the per-call timeout as a duration.
func (t TimeoutConfig) Call() time.Duration {
	return time.Duration(t.CallSecs) * time.Second
}

// RetryConfig configures retries of transient failures.
type RetryConfig struct {
	MaxAttempts  int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialMS    int `yaml:"initial_ms" mapstructure:"initial_ms"`
	MaxBackoffMS int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// ReqLogConfig selects the request log sink.
type ReqLogConfig struct {
	Sink string `yaml:"sink" mapstructure:"sink"`
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
	// UploadDir is the only directory /v1/ask may read attachments from.
	// Attachments are refused when empty.
	UploadDir    string `yaml:"upload_dir" mapstructure:"upload_dir"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// MonitoringConfig configures request health checks in serve mode.
type MonitoringConfig struct {
	Enabled               bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	DegradedRateThreshold float64 `yaml:"degraded_rate_threshold" mapstructure:"degraded_rate_threshold"`
	FallbackRateThreshold float64 `yaml:"fallback_rate_threshold" mapstructure:"fallback_rate_threshold"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	SampleSize            int     `yaml:"sample_size" mapstructure:"sample_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("QROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("anthropic.router_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.answer_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.router_model", "gpt-4o-mini")
	v.SetDefault("openai.answer_model", "gpt-4o")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.backends", []string{"jina", "wikipedia", "duckduckgo", "brave", "perplexity"})
	v.SetDefault("search.rate_per_sec", 2.0)
	v.SetDefault("search.breaker_enabled", true)
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("wikipedia.base_url", "https://en.wikipedia.org/w/api.php")
	v.SetDefault("wikipedia.user_agent", "query-router/1.0")
	v.SetDefault("duckduckgo.base_url", "https://api.duckduckgo.com")
	v.SetDefault("brave.base_url", "https://api.search.brave.com/res/v1")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar")
	v.SetDefault("retrieve.chunk_size", 1500)
	v.SetDefault("retrieve.chunk_overlap", 200)
	v.SetDefault("retrieve.top_k", 3)
	v.SetDefault("retrieve.file_size_ceiling", 10*1024*1024)
	v.SetDefault("retrieve.embedder", "hash")
	v.SetDefault("retrieve.embed_dimension", 384)
	v.SetDefault("retrieve.embed_cache_size", 0)
	v.SetDefault("retrieve.max_concurrent", 4)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("synth.max_context_tokens", 6000)
	v.SetDefault("synth.token_encoding", "")
	v.SetDefault("timeouts.call_secs", 10)
	v.SetDefault("retry.max_attempts", 2)
	v.SetDefault("retry.initial_ms", 250)
	v.SetDefault("retry.max_backoff_ms", 2000)
	v.SetDefault("reqlog.sink", "log")
	v.SetDefault("reqlog.path", "outputs/requests.jsonl")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.upload_dir", "")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.degraded_rate_threshold", 0.5)
	v.SetDefault("monitoring.fallback_rate_threshold", 0.8)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 1)
	v.SetDefault("monitoring.sample_size", 1000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks invariants that the pipeline relies on.
func (c *Config) Validate() error {
	var missing []string

	if c.Retrieve.ChunkSize <= 0 {
		missing = append(missing, "retrieve.chunk_size must be positive")
	}
	if c.Retrieve.ChunkOverlap < 0 || c.Retrieve.ChunkOverlap >= c.Retrieve.ChunkSize {
		missing = append(missing, "retrieve.chunk_overlap must be in [0, chunk_size)")
	}
	if c.Retrieve.TopK <= 0 {
		missing = append(missing, "retrieve.top_k must be positive")
	}
	if c.Retrieve.FileSizeCeiling <= 0 {
		missing = append(missing, "retrieve.file_size_ceiling must be positive")
	}
	if c.Search.MaxResults <= 0 {
		missing = append(missing, "search.max_results must be positive")
	}
	if c.Timeouts.CallSecs <= 0 {
		missing = append(missing, "timeouts.call_secs must be positive")
	}
	switch c.LLM.Provider {
	case "anthropic", "openai", "none":
	default:
		missing = append(missing, "llm.provider must be one of anthropic, openai, none")
	}
	switch c.Retrieve.Embedder {
	case "hash", "openai":
	default:
		missing = append(missing, "retrieve.embedder must be one of hash, openai")
	}

	if len(missing) > 0 {
		return eris.Errorf("config: %s", strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
