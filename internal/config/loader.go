package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load builds a Config from an optional YAML file, overridden by environment
// variables, falling back to defaults and finally validating required fields.
func Load() (Config, error) {
	_ = godotenv.Overload()

	var cfg Config
	loadYAMLOverlay(&cfg)

	if v := strings.TrimSpace(os.Getenv("ENVIRONMENT")); v != "" {
		cfg.Environment = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_PATH")); v != "" {
		cfg.LogPath = v
	}
	if v := strings.TrimSpace(os.Getenv("GRPC_PORT")); v != "" {
		cfg.GRPCPort = v
	}
	if v := strings.TrimSpace(os.Getenv("API_BEARER_TOKEN")); v != "" {
		cfg.APIBearerToken = v
	}

	// DB_*
	if v := strings.TrimSpace(os.Getenv("DB_URL")); v != "" {
		cfg.DB.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_SEARCH_BACKEND")); v != "" {
		cfg.DB.SearchBackend = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_SEARCH_DSN")); v != "" {
		cfg.DB.SearchDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_VECTOR_BACKEND")); v != "" {
		cfg.DB.VectorBackend = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_VECTOR_DSN")); v != "" {
		cfg.DB.VectorDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_VECTOR_INDEX")); v != "" {
		cfg.DB.VectorIndex = v
	}
	if v := parseInt(os.Getenv("DB_VECTOR_DIMENSION")); v > 0 {
		cfg.DB.VectorDimension = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_VECTOR_METRIC")); v != "" {
		cfg.DB.VectorMetric = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_CHAT_DSN")); v != "" {
		cfg.DB.ChatDSN = v
	}

	// INGESTION_*
	if v := parseInt(os.Getenv("INGESTION_CHUNK_SIZE")); v > 0 {
		cfg.Ingestion.ChunkSize = v
	}
	if v := parseIntAllowZero(os.Getenv("INGESTION_CHUNK_OVERLAP")); v >= 0 {
		cfg.Ingestion.ChunkOverlap = v
	}
	if v := strings.TrimSpace(os.Getenv("INGESTION_AUTO_CLEAN")); v != "" {
		cfg.Ingestion.AutoClean = parseBool(v)
	}
	if v := parseInt(os.Getenv("INGESTION_MAX_CONCURRENCY")); v > 0 {
		cfg.Ingestion.MaxConcurrency = v
	}

	// EMBEDDING_*
	if v := strings.TrimSpace(os.Getenv("EMBEDDING_BASE_URL")); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("EMBEDDING_PATH")); v != "" {
		cfg.Embedding.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("EMBEDDING_MODEL")); v != "" {
		cfg.Embedding.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("EMBEDDING_API_KEY")); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("EMBEDDING_API_HEADER")); v != "" {
		cfg.Embedding.APIHeader = v
	}
	if v := parseInt(os.Getenv("EMBEDDING_TIMEOUT")); v > 0 {
		cfg.Embedding.Timeout = v
	}
	if v := parseInt(os.Getenv("EMBEDDING_DIMENSION")); v > 0 {
		cfg.Embedding.Dimension = v
	}
	if v := strings.TrimSpace(os.Getenv("EMBEDDING_NORMALIZE")); v != "" {
		cfg.Embedding.Normalize = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv("EMBEDDING_CACHE_BACKEND")); v != "" {
		cfg.Embedding.CacheBackend = v
	}
	if v := parseInt(os.Getenv("EMBEDDING_CACHE_SIZE")); v > 0 {
		cfg.Embedding.CacheSize = v
	}
	if v := strings.TrimSpace(os.Getenv("EMBEDDING_REDIS_ADDR")); v != "" {
		cfg.Embedding.RedisAddr = v
	}
	if v := parseInt(os.Getenv("EMBEDDING_MICRO_BATCH")); v > 0 {
		cfg.Embedding.MicroBatch = v
	}
	if v := parseInt(os.Getenv("EMBEDDING_MAX_CONCURRENT")); v > 0 {
		cfg.Embedding.MaxConcurrent = v
	}

	// SCRAPING_*
	if v := parseInt(os.Getenv("SCRAPING_TIMEOUT_SECONDS")); v > 0 {
		cfg.Scraping.TimeoutSeconds = v
	}
	if v := strings.TrimSpace(os.Getenv("SCRAPING_USER_AGENT")); v != "" {
		cfg.Scraping.UserAgent = v
	}
	if v := parseInt(os.Getenv("SCRAPING_MAX_PAGES")); v > 0 {
		cfg.Scraping.MaxPages = v
	}
	if v := parseInt(os.Getenv("SCRAPING_MAX_DEPTH")); v > 0 {
		cfg.Scraping.MaxDepth = v
	}
	if v := parseInt(os.Getenv("SCRAPING_REQUEST_DELAY_MS")); v > 0 {
		cfg.Scraping.RequestDelayMS = v
	}
	if v := strings.TrimSpace(os.Getenv("SCRAPING_SAME_DOMAIN_ONLY")); v != "" {
		cfg.Scraping.SameDomainOnly = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv("SCRAPING_RESPECT_ROBOTS_TXT")); v != "" {
		cfg.Scraping.RespectRobotsTxt = parseBool(v)
	}

	// LLM_*
	if v := strings.TrimSpace(os.Getenv("LLM_PROVIDER")); v != "" {
		cfg.LLM.Provider = v
	}
	if v := strings.TrimSpace(os.Getenv("LLM_MODEL")); v != "" {
		cfg.LLM.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("LLM_ANTHROPIC_API_KEY")); v != "" {
		cfg.LLM.AnthropicKey = v
	}
	if v := strings.TrimSpace(os.Getenv("LLM_OPENAI_API_KEY")); v != "" {
		cfg.LLM.OpenAIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("LLM_GEMINI_API_KEY")); v != "" {
		cfg.LLM.GeminiKey = v
	}
	if v := parseInt(os.Getenv("LLM_TIMEOUT_SECONDS")); v > 0 {
		cfg.LLM.TimeoutSeconds = v
	}
	if v := parseInt(os.Getenv("LLM_HISTORY_WINDOW")); v > 0 {
		cfg.LLM.HistoryWindow = v
	}
	if v := strings.TrimSpace(os.Getenv("LLM_OPENAI_BASE_URL")); v != "" {
		cfg.LLM.OpenAI.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("LLM_ANTHROPIC_BASE_URL")); v != "" {
		cfg.LLM.Anthropic.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("LLM_GOOGLE_BASE_URL")); v != "" {
		cfg.LLM.Google.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("LLM_ANTHROPIC_PROMPT_CACHE")); v != "" {
		cfg.LLM.Anthropic.PromptCache.Enabled = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv("LLM_LOG_PROMPTS")); v != "" {
		cfg.LLM.LogPrompts = parseBool(v)
	}
	if v := parseInt(os.Getenv("LLM_LOG_TRUNCATE_BYTES")); v > 0 {
		cfg.LLM.LogTruncateBytes = v
	}

	// OBS_*
	if v := strings.TrimSpace(os.Getenv("OBS_OTLP_ENDPOINT")); v != "" {
		cfg.Obs.OTLP = v
	}
	if v := strings.TrimSpace(os.Getenv("OBS_SERVICE_NAME")); v != "" {
		cfg.Obs.ServiceName = v
	}
	if v := strings.TrimSpace(os.Getenv("OBS_SERVICE_VERSION")); v != "" {
		cfg.Obs.ServiceVersion = v
	}

	// S3_* (objectstore)
	if v := strings.TrimSpace(os.Getenv("S3_BUCKET")); v != "" {
		cfg.Objects.Bucket = v
	}
	if v := strings.TrimSpace(os.Getenv("S3_REGION")); v != "" {
		cfg.Objects.Region = v
	}
	if v := strings.TrimSpace(os.Getenv("S3_ENDPOINT")); v != "" {
		cfg.Objects.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("S3_PREFIX")); v != "" {
		cfg.Objects.Prefix = v
	}
	if v := strings.TrimSpace(os.Getenv("S3_ACCESS_KEY")); v != "" {
		cfg.Objects.AccessKey = v
	}
	if v := strings.TrimSpace(os.Getenv("S3_SECRET_KEY")); v != "" {
		cfg.Objects.SecretKey = v
	}
	if v := strings.TrimSpace(os.Getenv("S3_USE_PATH_STYLE")); v != "" {
		cfg.Objects.UsePathStyle = v == "true" || v == "1"
	}
	if v := strings.TrimSpace(os.Getenv("S3_TLS_INSECURE_SKIP_VERIFY")); v != "" {
		cfg.Objects.TLSInsecureSkipVerify = v == "true" || v == "1"
	}
	if v := strings.TrimSpace(os.Getenv("S3_SSE_MODE")); v != "" {
		cfg.Objects.SSE.Mode = v
	}
	if v := strings.TrimSpace(os.Getenv("S3_SSE_KMS_KEY_ID")); v != "" {
		cfg.Objects.SSE.KMSKeyID = v
	}

	// KAFKA_*
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_TOPIC")); v != "" {
		cfg.Kafka.Topic = v
	}

	applyDefaults(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadYAMLOverlay(cfg *Config) {
	path := strings.TrimSpace(os.Getenv("SERVICE_CONFIG"))
	if path == "" {
		for _, candidate := range []string{"config.yaml", "config.yml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return
	}
	_ = yaml.Unmarshal(b, cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.GRPCPort == "" {
		cfg.GRPCPort = "8080"
	}
	if cfg.DB.VectorDimension == 0 {
		cfg.DB.VectorDimension = 384
	}
	if cfg.DB.VectorMetric == "" {
		cfg.DB.VectorMetric = "cosine"
	}
	if cfg.DB.VectorBackend == "" {
		cfg.DB.VectorBackend = "postgres"
	}
	if cfg.DB.SearchBackend == "" {
		cfg.DB.SearchBackend = "postgres"
	}
	if cfg.Ingestion.ChunkSize == 0 {
		cfg.Ingestion.ChunkSize = 512
	}
	if cfg.Ingestion.ChunkOverlap == 0 {
		cfg.Ingestion.ChunkOverlap = 50
	}
	if cfg.Ingestion.MaxConcurrency == 0 {
		cfg.Ingestion.MaxConcurrency = 4
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = cfg.DB.VectorDimension
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.MicroBatch == 0 {
		cfg.Embedding.MicroBatch = 32
	}
	if cfg.Embedding.MaxConcurrent == 0 {
		cfg.Embedding.MaxConcurrent = 4
	}
	if cfg.Scraping.TimeoutSeconds == 0 {
		cfg.Scraping.TimeoutSeconds = 30
	}
	if cfg.Scraping.UserAgent == "" {
		cfg.Scraping.UserAgent = "ragserv-fetcher/1.0"
	}
	if cfg.Scraping.MaxPages == 0 {
		cfg.Scraping.MaxPages = 50
	}
	if cfg.Scraping.MaxDepth == 0 {
		cfg.Scraping.MaxDepth = 2
	}
	if cfg.Scraping.RequestDelayMS == 0 {
		cfg.Scraping.RequestDelayMS = 500
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = 120
	}
	if cfg.Obs.ServiceName == "" {
		cfg.Obs.ServiceName = "ragserv"
	}
	if cfg.Obs.ServiceVersion == "" {
		cfg.Obs.ServiceVersion = "dev"
	}
	if cfg.Obs.Environment == "" {
		cfg.Obs.Environment = cfg.Environment
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "ingestion.job.events"
	}

	// Propagate the shared provider/model/key settings down into the
	// per-provider structs so internal/llm/providers.Build can hand each
	// concrete client exactly what it expects.
	cfg.LLM.Anthropic.APIKey = cfg.LLM.AnthropicKey
	cfg.LLM.OpenAI.APIKey = cfg.LLM.OpenAIKey
	cfg.LLM.Google.APIKey = cfg.LLM.GeminiKey
	if cfg.LLM.Anthropic.Model == "" {
		cfg.LLM.Anthropic.Model = cfg.LLM.Model
	}
	if cfg.LLM.OpenAI.Model == "" {
		cfg.LLM.OpenAI.Model = cfg.LLM.Model
	}
	if cfg.LLM.Google.Model == "" {
		cfg.LLM.Google.Model = cfg.LLM.Model
	}
	cfg.LLM.Google.Timeout = cfg.LLM.TimeoutSeconds
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true,
	"warning": true, "error": true, "fatal": true, "panic": true,
}

func validate(cfg Config) error {
	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return fmt.Errorf("config: unknown log level %q", cfg.LogLevel)
	}
	if cfg.DB.URL != "" && !strings.HasPrefix(cfg.DB.URL, "postgres://") && !strings.HasPrefix(cfg.DB.URL, "postgresql://") {
		return fmt.Errorf("config: DB_URL must be a postgres:// DSN, got %q", cfg.DB.URL)
	}
	return nil
}

func parseInt(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func parseIntAllowZero(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return -1
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return b
}
