package config

import "time"

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Memory:    DefaultMemoryConfig(),
		Semantic:  DefaultSemanticConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default HTTP surface configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultMemoryConfig returns the default engine parameters.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		ShortTermMaxItems:          200,
		ShortTermWindow:            10,
		LongTermWindow:             5,
		RAGWindow:                  5,
		ConsolidationThreshold:     100,
		ConsolidationBatch:         20,
		ConsolidationMinImportance: 0.7,
		TrimRatio:                  0.8,
		CleanupInterval:            time.Hour,
		CleanupMaxAgeDays:          365,
		CleanupMinImportance:       0.1,
		CleanupMaxRecords:          10000,
		ContextTokenBudget:         2000,
	}
}

// DefaultSemanticConfig returns the default RAG-tier configuration with
// embedding mode off, which runs the substring fallback.
func DefaultSemanticConfig() SemanticConfig {
	return SemanticConfig{
		MinSimilarity:     0.3,
		MaxAgeDays:        0,
		EmbeddingEnabled:  false,
		BaseURL:           "https://api.openai.com",
		Model:             "text-embedding-3-small",
		RequestsPerSecond: 0,
		Timeout:           30 * time.Second,
	}
}

// DefaultDatabaseConfig returns the default durable-store backend: a local
// sqlite file, which needs no external service.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Name:            "clawmem.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultRedisConfig returns the default cache configuration, disabled.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:  false,
		Addr:     "localhost:6379",
		DB:       0,
		PoolSize: 10,
		TTL:      24 * time.Hour,
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration,
// disabled.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "clawmem",
		SampleRate:   0.1,
	}
}
