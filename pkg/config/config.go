package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	SQLite  SQLiteConfig
	Redis   RedisConfig
	LLM     LLMConfig
	Search  SearchConfig
	Fetch   FetchConfig
	Enrich  EnrichConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type SearchConfig struct {
	APIKey        string
	EngineID      string
	MaxResults    int
	BatchBudgetMS int
	CacheTTLMin   int
}

type FetchConfig struct {
	TimeoutMS int
	MaxPages  int
	MaxChars  int
}

type EnrichConfig struct {
	MaxCandidates        int
	BatchSize            int
	StaleAfterDays       int
	BatchPacingMS        int
	SchedulerIntervalMin int
	LockTTLSec           int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/kinloop")

	viper.SetEnvPrefix("KINLOOP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/kinloop.db")

	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.baseURL", "https://api.deepseek.com")
	viper.SetDefault("llm.model", "deepseek-chat")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 30)

	viper.SetDefault("search.maxResults", 10)
	viper.SetDefault("search.batchBudgetMS", 4500)
	viper.SetDefault("search.cacheTTLMin", 60)

	viper.SetDefault("fetch.timeoutMS", 3500)
	viper.SetDefault("fetch.maxPages", 5)
	viper.SetDefault("fetch.maxChars", 2000)

	viper.SetDefault("enrich.maxCandidates", 15)
	viper.SetDefault("enrich.batchSize", 5)
	viper.SetDefault("enrich.staleAfterDays", 30)
	viper.SetDefault("enrich.batchPacingMS", 1200)
	viper.SetDefault("enrich.schedulerIntervalMin", 1440)
	viper.SetDefault("enrich.lockTTLSec", 120)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
