package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"       validate:"required"`
	Database    DatabaseConfig    `mapstructure:"database"     validate:"required"`
	NATS        NATSConfig        `mapstructure:"nats"         validate:"required"`
	Qdrant      QdrantConfig      `mapstructure:"qdrant"       validate:"required"`
	Gemini      GeminiConfig      `mapstructure:"gemini"       validate:"required"`
	Redis       RedisConfig       `mapstructure:"redis"        validate:"required"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store" validate:"required"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"     validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains relational-store settings. MinConns and
// MaxConns bound the connection pool.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"       validate:"required"`
	MinConns int32  `mapstructure:"min_conns" validate:"gte=0"`
	MaxConns int32  `mapstructure:"max_conns" validate:"required,gt=0,gtefield=MinConns"`
}

// NATSConfig contains queue-broker settings.
type NATSConfig struct {
	URL string `mapstructure:"url" validate:"required"`
	// AckWait is the broker visibility timeout: a message whose handler
	// has not acknowledged within this window is redelivered.
	AckWait time.Duration `mapstructure:"ack_wait"`
}

// QdrantConfig contains vector-index settings.
type QdrantConfig struct {
	Host       string `mapstructure:"host"       validate:"required"`
	Port       int    `mapstructure:"port"       validate:"required,gt=0"`
	Collection string `mapstructure:"collection" validate:"required"`
	Dimension  uint64 `mapstructure:"dimension"  validate:"required,gt=0"`
}

// GeminiConfig contains LLM and embedding settings.
type GeminiConfig struct {
	APIKey         string `mapstructure:"api_key"         validate:"required"`
	ChatModel      string `mapstructure:"chat_model"      validate:"required"`
	EmbeddingModel string `mapstructure:"embedding_model" validate:"required"`
}

// RedisConfig contains chat-log buffer settings.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"       validate:"required"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix" validate:"required"`
}

// ObjectStoreConfig contains durable log-storage settings.
type ObjectStoreConfig struct {
	Endpoint  string `mapstructure:"endpoint"   validate:"required"`
	AccessKey string `mapstructure:"access_key" validate:"required"`
	SecretKey string `mapstructure:"secret_key" validate:"required"`
	Bucket    string `mapstructure:"bucket"     validate:"required"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// PipelineConfig contains the tunables of the processing pipeline.
type PipelineConfig struct {
	PDFFolder string `mapstructure:"pdf_folder" validate:"required"`

	ChunkSize    int `mapstructure:"chunk_size"    validate:"required,gt=0"`
	ChunkOverlap int `mapstructure:"chunk_overlap" validate:"gte=0"`

	// FetchBatchSize is the page size of the pending-embedding scan;
	// ProcessBatchSize is how many ids go into one prepare/upsert chain;
	// UpsertBatchSize is the sub-batch size of a single index upsert call.
	FetchBatchSize   int `mapstructure:"fetch_batch_size"   validate:"required,gt=0"`
	ProcessBatchSize int `mapstructure:"process_batch_size" validate:"required,gt=0"`
	UpsertBatchSize  int `mapstructure:"upsert_batch_size"  validate:"required,gt=0"`

	LogBufferThreshold int           `mapstructure:"log_buffer_threshold" validate:"required,gt=0"`
	LogBufferTTL       time.Duration `mapstructure:"log_buffer_ttl"       validate:"required"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"       validate:"required"`

	MaxAttempts int           `mapstructure:"max_attempts" validate:"required,gt=0"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"  validate:"required"`

	WorkerCount int `mapstructure:"worker_count" validate:"required,gt=0"`
}
