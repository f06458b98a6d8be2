package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all orchestration-core settings.
type Config struct {
	// Storage configuration
	Storage StorageConfig `yaml:"storage"`

	// AI service endpoint
	AI AIConfig `yaml:"ai"`

	// Retrieval indexer endpoint
	Rag RagConfig `yaml:"rag"`

	// Cache configuration
	Cache CacheConfig `yaml:"cache"`

	// Lock service tuning
	Locks LockConfig `yaml:"locks"`

	// HTTP adapter
	Server ServerConfig `yaml:"server"`

	// Debug logging
	Debug bool `yaml:"debug"`
}

type StorageConfig struct {
	Type        string `yaml:"type"` // "postgres", "memory"
	PostgresDSN string `yaml:"postgres_dsn"`
	AuditDSN    string `yaml:"audit_dsn"` // empty = job audit disabled
	SeedFile    string `yaml:"seed_file"` // optional project seed (yaml)
}

type AIConfig struct {
	BaseURL       string        `yaml:"base_url"`
	ServiceSecret string        `yaml:"service_secret"`
	Timeout       time.Duration `yaml:"timeout"`
}

type RagConfig struct {
	BaseURL       string        `yaml:"base_url"`
	ServiceSecret string        `yaml:"service_secret"`
	Timeout       time.Duration `yaml:"timeout"`
}

type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr"` // empty = cache disabled
	RedisPassword string        `yaml:"redis_password"`
	TTL           time.Duration `yaml:"ttl"`
}

type LockConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	RagTTL       time.Duration `yaml:"rag_ttl"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxWait      time.Duration `yaml:"max_wait"`
}

type ServerConfig struct {
	ListenAddr    string `yaml:"listen_addr"`
	ServiceSecret string `yaml:"service_secret"`
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Type: "postgres",
		},
		AI: AIConfig{
			Timeout: 10 * time.Minute,
		},
		Rag: RagConfig{
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			TTL: 15 * time.Minute,
		},
		Locks: LockConfig{
			TTL:          10 * time.Minute,
			RagTTL:       30 * time.Minute,
			PollInterval: 5 * time.Second,
			MaxWait:      2 * time.Minute,
		},
		Server: ServerConfig{
			ListenAddr: ":8091",
		},
	}
}

// Load reads configuration from file (if present) and environment.
// Environment variables use the CODECROW_ prefix, e.g. CODECROW_AI_BASE_URL.
func Load(path string) (*Config, error) {
	// .env is optional; ignore absence
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("codecrow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg.Storage.Type = v.GetString("storage.type")
	cfg.Storage.PostgresDSN = v.GetString("storage.postgres_dsn")
	cfg.Storage.AuditDSN = v.GetString("storage.audit_dsn")
	cfg.Storage.SeedFile = v.GetString("storage.seed_file")
	cfg.AI.BaseURL = v.GetString("ai.base_url")
	cfg.AI.ServiceSecret = v.GetString("ai.service_secret")
	cfg.AI.Timeout = v.GetDuration("ai.timeout")
	cfg.Rag.BaseURL = v.GetString("rag.base_url")
	cfg.Rag.ServiceSecret = v.GetString("rag.service_secret")
	cfg.Rag.Timeout = v.GetDuration("rag.timeout")
	cfg.Cache.RedisAddr = v.GetString("cache.redis_addr")
	cfg.Cache.RedisPassword = v.GetString("cache.redis_password")
	cfg.Cache.TTL = v.GetDuration("cache.ttl")
	cfg.Locks.TTL = v.GetDuration("locks.ttl")
	cfg.Locks.RagTTL = v.GetDuration("locks.rag_ttl")
	cfg.Locks.PollInterval = v.GetDuration("locks.poll_interval")
	cfg.Locks.MaxWait = v.GetDuration("locks.max_wait")
	cfg.Server.ListenAddr = v.GetString("server.listen_addr")
	cfg.Server.ServiceSecret = v.GetString("server.service_secret")
	cfg.Debug = v.GetBool("debug")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("ai.timeout", cfg.AI.Timeout)
	v.SetDefault("rag.timeout", cfg.Rag.Timeout)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("locks.ttl", cfg.Locks.TTL)
	v.SetDefault("locks.rag_ttl", cfg.Locks.RagTTL)
	v.SetDefault("locks.poll_interval", cfg.Locks.PollInterval)
	v.SetDefault("locks.max_wait", cfg.Locks.MaxWait)
	v.SetDefault("server.listen_addr", cfg.Server.ListenAddr)
}

// Validate checks required settings for the selected storage type.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for postgres storage")
		}
	case "memory":
		// no settings required
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	if c.AI.BaseURL == "" {
		return fmt.Errorf("ai.base_url is required")
	}
	if c.Locks.TTL <= 0 || c.Locks.PollInterval <= 0 || c.Locks.MaxWait <= 0 {
		return fmt.Errorf("lock durations must be positive")
	}
	return nil
}

// LockTTLFor returns the lock TTL configured for an analysis type.
func (c *Config) LockTTLFor(analysisType string) time.Duration {
	if analysisType == "RAG_INDEXING" && c.Locks.RagTTL > 0 {
		return c.Locks.RagTTL
	}
	return c.Locks.TTL
}
