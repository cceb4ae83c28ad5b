// Package config loads service configuration from the environment, with an
// optional YAML overlay, following the env-first-then-defaults convention
// used throughout this codebase.
package config

// DBConfig selects and configures the relational/vector/search backends.
type DBConfig struct {
	URL string `yaml:"url"`

	SearchBackend string `yaml:"searchBackend"`
	SearchDSN     string `yaml:"searchDSN"`

	VectorBackend   string  `yaml:"vectorBackend"`
	VectorDSN       string  `yaml:"vectorDSN"`
	VectorIndex     string  `yaml:"vectorIndex"`
	VectorDimension int     `yaml:"vectorDimension"`
	VectorMetric    string  `yaml:"vectorMetric"`

	ChatDSN string `yaml:"chatDSN"`
}

// IngestionConfig configures the ingestion pipeline (C7) and chunker (C3) defaults.
type IngestionConfig struct {
	ChunkSize      int  `yaml:"chunkSize"`
	ChunkOverlap   int  `yaml:"chunkOverlap"`
	AutoClean      bool `yaml:"autoClean"`
	MaxConcurrency int  `yaml:"maxConcurrency"`
}

// EmbeddingConfig configures the opaque embedding endpoint client (C5).
type EmbeddingConfig struct {
	BaseURL      string `yaml:"baseURL"`
	Path         string `yaml:"path"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"apiKey"`
	APIHeader    string `yaml:"apiHeader"`
	Headers      map[string]string `yaml:"headers"` // extra request headers; an APIHeader entry here wins over APIKey
	Timeout      int    `yaml:"timeoutSeconds"`
	Dimension    int    `yaml:"dimension"`
	Normalize    bool   `yaml:"normalize"`
	CacheBackend string `yaml:"cacheBackend"` // "", "memory", "redis"
	CacheSize    int    `yaml:"cacheSize"`
	RedisAddr    string `yaml:"redisAddr"`
	MicroBatch   int    `yaml:"microBatch"`
	MaxConcurrent int   `yaml:"maxConcurrent"`
}

// ScrapingConfig configures the Fetcher (C4) WebScraper and Crawler.
type ScrapingConfig struct {
	TimeoutSeconds   int    `yaml:"timeoutSeconds"`
	UserAgent        string `yaml:"userAgent"`
	MaxPages         int    `yaml:"maxPages"`
	MaxDepth         int    `yaml:"maxDepth"`
	RequestDelayMS   int    `yaml:"requestDelayMS"`
	SameDomainOnly   bool   `yaml:"sameDomainOnly"`
	RespectRobotsTxt bool   `yaml:"respectRobotsTxt"`
}

// LLMConfig configures the opaque LLM provider (C10/C12) selection and holds
// the per-provider settings consumed by internal/llm/{anthropic,openai,google}.
type LLMConfig struct {
	Provider       string `yaml:"provider"` // "anthropic", "openai", "google"
	Model          string `yaml:"model"`
	AnthropicKey   string `yaml:"anthropicKey"`
	OpenAIKey      string `yaml:"openaiKey"`
	GeminiKey      string `yaml:"geminiKey"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
	HistoryWindow  int    `yaml:"historyWindow"` // loaded from LLM_HISTORY_WINDOW; not consulted by chatsession, which always sends the full history

	// LogPrompts enables redacted debug logging of outbound prompts and
	// responses across whichever provider is selected; LogTruncateBytes caps
	// the logged payload size (0 = no truncation). See llm.ConfigureLogging.
	LogPrompts       bool `yaml:"logPrompts"`
	LogTruncateBytes int  `yaml:"logTruncateBytes"`

	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Google    GoogleConfig    `yaml:"google"`
}

// AnthropicPromptCacheConfig controls which message segments get a
// cache_control breakpoint on outbound Anthropic requests.
type AnthropicPromptCacheConfig struct {
	Enabled       bool `yaml:"enabled"`
	CacheSystem   bool `yaml:"cacheSystem"`
	CacheMessages bool `yaml:"cacheMessages"`
}

// AnthropicConfig configures internal/llm/anthropic.Client.
type AnthropicConfig struct {
	APIKey      string                     `yaml:"apiKey"`
	BaseURL     string                     `yaml:"baseURL"`
	Model       string                     `yaml:"model"`
	PromptCache AnthropicPromptCacheConfig `yaml:"promptCache"`
	ExtraParams map[string]any             `yaml:"extraParams"`
}

// OpenAIConfig configures internal/llm/openai.Client.
type OpenAIConfig struct {
	APIKey      string         `yaml:"apiKey"`
	BaseURL     string         `yaml:"baseURL"`
	Model       string         `yaml:"model"`
	ExtraParams map[string]any `yaml:"extraParams"`
}

// GoogleConfig configures internal/llm/google.Client (google.golang.org/genai).
type GoogleConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
	Timeout int    `yaml:"timeoutSeconds"`
}

// ObsConfig configures OpenTelemetry export.
type ObsConfig struct {
	OTLP           string `yaml:"otlp"`
	ServiceName    string `yaml:"serviceName"`
	ServiceVersion string `yaml:"serviceVersion"`
	Environment    string `yaml:"environment"`
}

// SSEConfig configures S3 server-side encryption. Mode is "", "sse-s3", or
// "sse-kms"; KMSKeyID is only consulted for "sse-kms".
type SSEConfig struct {
	Mode     string `yaml:"mode"`
	KMSKeyID string `yaml:"kmsKeyID"`
}

// ObjectStoreConfig configures the S3-backed blob store used by ChunkedUpload.
type ObjectStoreConfig struct {
	Bucket                string    `yaml:"bucket"`
	Region                string    `yaml:"region"`
	Endpoint              string    `yaml:"endpoint"`
	Prefix                string    `yaml:"prefix"`
	AccessKey             string    `yaml:"accessKey"`
	SecretKey             string    `yaml:"secretKey"`
	UsePathStyle          bool      `yaml:"usePathStyle"`
	TLSInsecureSkipVerify bool      `yaml:"tlsInsecureSkipVerify"`
	SSE                   SSEConfig `yaml:"sse"`
}

// KafkaConfig configures publish-only ingestion job eventing.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Config is the fully merged, validated service configuration.
type Config struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"logLevel"`
	LogPath     string `yaml:"logPath"`
	GRPCPort    string `yaml:"grpcPort"`
	APIBearerToken string `yaml:"apiBearerToken"`

	DB        DBConfig          `yaml:"db"`
	Ingestion IngestionConfig   `yaml:"ingestion"`
	Embedding EmbeddingConfig   `yaml:"embedding"`
	Scraping  ScrapingConfig    `yaml:"scraping"`
	LLM       LLMConfig         `yaml:"llm"`
	Obs       ObsConfig         `yaml:"obs"`
	Objects   ObjectStoreConfig `yaml:"objects"`
	Kafka     KafkaConfig       `yaml:"kafka"`
}
