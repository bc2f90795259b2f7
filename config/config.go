package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type MQConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ProviderConfig configures the external notification provider.
type ProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// DispatchConfig configures the fan-out dispatcher.
type DispatchConfig struct {
	MaxBatchAttempts int           `yaml:"max_batch_attempts"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
	MaxRecordRetries int           `yaml:"max_record_retries"`
}

// CacheConfig configures read-path caching.
type CacheConfig struct {
	HistoryTTL time.Duration `yaml:"history_ttl"`
	UnreadTTL  time.Duration `yaml:"unread_ttl"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type Config struct {
	DB       DBConfig       `yaml:"db"`
	MQ       MQConfig       `yaml:"mq"`
	Redis    RedisConfig    `yaml:"redis"`
	Provider ProviderConfig `yaml:"provider"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Cache    CacheConfig    `yaml:"cache"`
	Server   ServerConfig   `yaml:"server"`
}

func Load() *Config {
	f, err := os.Open("config.yaml")
	if err != nil {
		log.Fatalf("failed to open config.yaml: %v", err)
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config.yaml: %v", err)
	}

	applyDefaults(&cfg)
	overrideFromEnv(&cfg)

	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = 30 * time.Second
	}
	if cfg.Dispatch.MaxBatchAttempts == 0 {
		cfg.Dispatch.MaxBatchAttempts = 3
	}
	if cfg.Dispatch.BreakerThreshold == 0 {
		cfg.Dispatch.BreakerThreshold = 3
	}
	if cfg.Dispatch.BreakerTimeout == 0 {
		cfg.Dispatch.BreakerTimeout = 30 * time.Second
	}
	if cfg.Dispatch.BreakerReset == 0 {
		cfg.Dispatch.BreakerReset = 60 * time.Second
	}
	if cfg.Dispatch.MaxRecordRetries == 0 {
		cfg.Dispatch.MaxRecordRetries = 3
	}
	if cfg.Cache.HistoryTTL == 0 {
		cfg.Cache.HistoryTTL = 5 * time.Minute
	}
	if cfg.Cache.UnreadTTL == 0 {
		cfg.Cache.UnreadTTL = 2 * time.Minute
	}
}

func overrideFromEnv(cfg *Config) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DB.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.DB.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DB.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DB.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.DB.Name = name
	}

	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.MQ.URL = url
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	if base := os.Getenv("PROVIDER_BASE_URL"); base != "" {
		cfg.Provider.BaseURL = base
	}
	if key := os.Getenv("PROVIDER_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}
}
