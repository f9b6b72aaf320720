package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration. Values come from the config
// file (CONFIG_PATH or ./config/intellistream.yaml), with environment
// overrides for operational knobs.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Connectors  ConnectorsConfig  `mapstructure:"connectors"`
	Retriever   RetrieverConfig   `mapstructure:"retriever"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Breaker     BreakerConfig     `mapstructure:"circuit_breaker"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	RingCapacity int `mapstructure:"stream_ring_capacity"`
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// PipelineConfig carries the orchestration knobs shared by the stages.
type PipelineConfig struct {
	MaxReflectionPasses int           `mapstructure:"max_reflection_passes"`
	TopK                int           `mapstructure:"top_k"`
	MinEvidence         int           `mapstructure:"min_evidence"` // below this, generic web search kicks in
	HistoryTurns        int           `mapstructure:"history_turns"`
	HistoryTurnChars    int           `mapstructure:"history_turn_chars"`
	RealtimeScore       float64       `mapstructure:"realtime_score"` // merge-rank constant for non-ranked sources
	ConnectorTimeout    time.Duration `mapstructure:"connector_timeout"`
	StageTimeout        time.Duration `mapstructure:"stage_timeout"`
	QueryTimeout        time.Duration `mapstructure:"query_timeout"`
	SearchCacheTTL      time.Duration `mapstructure:"search_cache_ttl"`
	EmbeddingCacheTTL   time.Duration `mapstructure:"embedding_cache_ttl"`
	TerminalSendTimeout time.Duration `mapstructure:"terminal_send_timeout"`
}

type ConnectorConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	BaseURL string  `mapstructure:"base_url"`
	APIKey  string  `mapstructure:"api_key"`
	RPM     int     `mapstructure:"rpm"` // requests per minute, 0 = unlimited
	Score   float64 `mapstructure:"score"`
}

type ConnectorsConfig struct {
	Encyclopedia ConnectorConfig `mapstructure:"encyclopedia"`
	Papers       ConnectorConfig `mapstructure:"papers"`
	WebSearch    ConnectorConfig `mapstructure:"web_search"`
	Weather      ConnectorConfig `mapstructure:"weather"`
	News         ConnectorConfig `mapstructure:"news"`
	Market       ConnectorConfig `mapstructure:"market"`
}

type RetrieverConfig struct {
	VectorBaseURL string  `mapstructure:"vector_base_url"`
	Collection    string  `mapstructure:"collection"`
	EmbedBaseURL  string  `mapstructure:"embed_base_url"`
	EmbedModel    string  `mapstructure:"embed_model"`
	VectorWeight  float64 `mapstructure:"vector_weight"`
	KeywordWeight float64 `mapstructure:"keyword_weight"`
	PoolSize      int     `mapstructure:"pool_size"` // candidates fetched before blending
}

type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

type PersistenceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Defaults returns the baseline configuration before file or env
// overrides.
func Defaults() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.RingCapacity = 256
	cfg.Redis.Addr = "localhost:6379"

	cfg.Pipeline.MaxReflectionPasses = 2
	cfg.Pipeline.TopK = 10
	cfg.Pipeline.MinEvidence = 3
	cfg.Pipeline.HistoryTurns = 10
	cfg.Pipeline.HistoryTurnChars = 2000
	cfg.Pipeline.RealtimeScore = 0.95
	cfg.Pipeline.ConnectorTimeout = 5 * time.Second
	cfg.Pipeline.StageTimeout = 20 * time.Second
	cfg.Pipeline.QueryTimeout = 90 * time.Second
	cfg.Pipeline.SearchCacheTTL = 30 * time.Minute
	cfg.Pipeline.EmbeddingCacheTTL = 24 * time.Hour
	cfg.Pipeline.TerminalSendTimeout = 5 * time.Second

	cfg.Connectors.Encyclopedia = ConnectorConfig{Enabled: true, BaseURL: "https://en.wikipedia.org/w/api.php", Score: 0.8}
	cfg.Connectors.Papers = ConnectorConfig{Enabled: true, BaseURL: "http://export.arxiv.org/api/query", Score: 0.85}
	cfg.Connectors.WebSearch = ConnectorConfig{BaseURL: "https://api.tavily.com", Score: 0.5}
	cfg.Connectors.Weather = ConnectorConfig{BaseURL: "https://api.openweathermap.org/data/2.5", Score: 0.95}
	cfg.Connectors.News = ConnectorConfig{BaseURL: "https://newsapi.org/v2", Score: 0.85}
	cfg.Connectors.Market = ConnectorConfig{BaseURL: "https://www.alphavantage.co/query", Score: 0.95}

	cfg.Retriever.VectorBaseURL = "http://localhost:6333"
	cfg.Retriever.Collection = "document_chunks"
	cfg.Retriever.EmbedModel = "text-embedding-3-small"
	cfg.Retriever.VectorWeight = 0.6
	cfg.Retriever.KeywordWeight = 0.4
	cfg.Retriever.PoolSize = 20

	cfg.LLM.Model = "llama-3.3-70b-versatile"
	cfg.LLM.Timeout = 30 * time.Second
	cfg.LLM.MaxTokens = 1000
	cfg.LLM.Temperature = 0.2

	cfg.Breaker.FailureThreshold = 5
	cfg.Breaker.SuccessThreshold = 3
	cfg.Breaker.Cooldown = 30 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	return cfg
}

// Load reads the config file and applies environment overrides. A missing
// file is not an error; defaults apply.
func Load() (*Config, error) {
	cfg := Defaults()

	v := viper.New()
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/intellistream.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, missing := err.(viper.ConfigFileNotFoundError); !missing && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if p := envInt("PORT", 0); p > 0 {
		cfg.Server.Port = p
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if key := os.Getenv("OPENWEATHER_API_KEY"); key != "" {
		cfg.Connectors.Weather.APIKey = key
		cfg.Connectors.Weather.Enabled = true
	}
	if key := os.Getenv("NEWSAPI_API_KEY"); key != "" {
		cfg.Connectors.News.APIKey = key
		cfg.Connectors.News.Enabled = true
	}
	if key := os.Getenv("ALPHAVANTAGE_API_KEY"); key != "" {
		cfg.Connectors.Market.APIKey = key
		cfg.Connectors.Market.Enabled = true
	}
	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		cfg.Connectors.WebSearch.APIKey = key
		cfg.Connectors.WebSearch.Enabled = true
	}
	if url := os.Getenv("LLM_BASE_URL"); url != "" {
		cfg.LLM.BaseURL = url
	}
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Persistence.DSN = dsn
		cfg.Persistence.Enabled = true
	}
	if n := envInt("MAX_REFLECTION_PASSES", -1); n >= 0 {
		cfg.Pipeline.MaxReflectionPasses = n
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}
}

func envInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}
