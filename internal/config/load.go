package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional config.yaml in the working
// directory and from environment variables with the IELTS_ prefix
// (nested keys use underscores, e.g. IELTS_DATABASE_URL). Environment
// variables take precedence over file values. Returns a populated and
// validated Config.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("IELTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without defaults are invisible to Unmarshal when they arrive
	// via environment only, so bind them explicitly.
	for _, key := range []string{
		"database.url",
		"nats.url",
		"qdrant.host",
		"qdrant.port",
		"gemini.api_key",
		"redis.addr",
		"object_store.endpoint",
		"object_store.access_key",
		"object_store.secret_key",
		"object_store.bucket",
		"object_store.use_ssl",
		"pipeline.pdf_folder",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; environment variables may carry everything.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers defaults for everything that has a sensible one.
// Credentials and endpoints deliberately have no defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("nats.ack_wait", time.Minute)

	v.SetDefault("qdrant.collection", "passages")
	v.SetDefault("qdrant.dimension", 768)

	v.SetDefault("gemini.chat_model", "gemini-2.0-flash")
	v.SetDefault("gemini.embedding_model", "text-embedding-004")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "chatlog:")

	v.SetDefault("pipeline.chunk_size", 1000)
	v.SetDefault("pipeline.chunk_overlap", 100)
	v.SetDefault("pipeline.fetch_batch_size", 500)
	v.SetDefault("pipeline.process_batch_size", 100)
	v.SetDefault("pipeline.upsert_batch_size", 50)
	v.SetDefault("pipeline.log_buffer_threshold", 10)
	v.SetDefault("pipeline.log_buffer_ttl", time.Hour)
	v.SetDefault("pipeline.sweep_interval", 5*time.Minute)
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.retry_delay", time.Minute)
	v.SetDefault("pipeline.worker_count", 2)
}
