package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	// Server
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Environment string `json:"environment"`
	APIPrefix   string `json:"api_prefix"`
	LogLevel    string `json:"log_level"`

	// CORS
	CORSOrigins []string `json:"cors_origins"`

	// Rate limiting
	RateLimitPerMinute int `json:"rate_limit_per_minute"`

	// Schema registry (dbt artifacts produced by the transformation build)
	DbtTargetPath string `json:"dbt_target_path"`
	AllowedMarts  []string `json:"allowed_marts"`

	// DuckDB (local engine)
	DuckDBPath        string `json:"duckdb_path"`
	DuckDBReadOnly    bool   `json:"duckdb_read_only"`
	DuckDBThreads     int    `json:"duckdb_threads"`
	DuckDBMemoryLimit string `json:"duckdb_memory_limit"`

	// BigQuery (remote engine)
	GCPProjectID                 string `json:"gcp_project_id"`
	GoogleApplicationCredentials string `json:"google_application_credentials"`
	BigQueryLocation             string `json:"bigquery_location"`
	MaxBytesBilled               int64  `json:"max_bytes_billed"`

	// Query guardrails
	SafeRowLimit   int `json:"safe_row_limit"`
	QueryTimeoutMs int `json:"query_timeout_ms"`

	// Result cache
	CacheTTLSeconds int `json:"cache_ttl_seconds"`
	CacheCapacity   int `json:"cache_capacity"`

	// Audit log
	AuditLogPath       string `json:"audit_log_path"`
	AuditLogMaxSizeMB  int    `json:"audit_log_max_size_mb"`
	AuditLogMaxBackups int    `json:"audit_log_max_backups"`
	AuditBufferSize    int    `json:"audit_buffer_size"`

	// SQL generation (NL -> SQL boundary)
	LLMProvider      string `json:"llm_provider"` // "anthropic" | "stub"
	AnthropicAPIKey  string `json:"anthropic_api_key"`
	AnthropicBaseURL string `json:"anthropic_base_url"`
	AnthropicModel   string `json:"anthropic_model"`
}

func Load() (*Config, error) {
	cfg := &Config{
		Host:               DefaultHost,
		Port:               DefaultPort,
		Environment:        DefaultEnvironment,
		APIPrefix:          DefaultAPIPrefix,
		LogLevel:           DefaultLogLevel,
		CORSOrigins:        DefaultCORSOrigins,
		RateLimitPerMinute: DefaultRateLimitPerMinute,
		DbtTargetPath:      DefaultDbtTargetPath,
		DuckDBPath:         DefaultDuckDBPath,
		DuckDBReadOnly:     true,
		DuckDBThreads:      DefaultDuckDBThreads,
		DuckDBMemoryLimit:  DefaultDuckDBMemoryLimit,
		BigQueryLocation:   DefaultBigQueryLocation,
		MaxBytesBilled:     DefaultMaxBytesBilled,
		SafeRowLimit:       DefaultSafeRowLimit,
		QueryTimeoutMs:     DefaultQueryTimeoutMs,
		CacheTTLSeconds:    DefaultCacheTTLSeconds,
		CacheCapacity:      DefaultCacheCapacity,
		AuditLogPath:       DefaultAuditLogPath,
		AuditLogMaxSizeMB:  DefaultAuditLogMaxSizeMB,
		AuditLogMaxBackups: DefaultAuditLogMaxBackups,
		AuditBufferSize:    DefaultAuditBufferSize,
		LLMProvider:        DefaultLLMProvider,
	}

	// Load from JSON config file if specified
	if path := getEnv("WHYLINE_CONFIG", ""); path != "" {
		if err := loadJSON(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func loadJSON(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	if v := getEnv("WHYLINE_HOST", ""); v != "" {
		cfg.Host = v
	}
	if v := getEnv("WHYLINE_PORT", ""); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := getEnv("WHYLINE_ENV", ""); v != "" {
		cfg.Environment = v
	}
	if v := getEnv("WHYLINE_LOG_LEVEL", ""); v != "" {
		cfg.LogLevel = v
	}
	if v := getEnv("WHYLINE_ALLOWED_MARTS", ""); v != "" {
		cfg.AllowedMarts = strings.Split(v, ",")
	}
	if v := getEnv("DBT_TARGET_PATH", ""); v != "" {
		cfg.DbtTargetPath = v
	}
	if v := getEnv("DUCKDB_PATH", ""); v != "" {
		cfg.DuckDBPath = v
	}
	if v := getEnv("DUCKDB_READ_ONLY", ""); v != "" {
		cfg.DuckDBReadOnly = v != "0" && v != "false"
	}
	if v := getEnv("DUCKDB_THREADS", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DuckDBThreads = n
		}
	}
	if v := getEnv("DUCKDB_MEMORY_LIMIT", ""); v != "" {
		cfg.DuckDBMemoryLimit = v
	}
	if v := getEnv("GCP_PROJECT_ID", ""); v != "" {
		cfg.GCPProjectID = v
	}
	if v := getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""); v != "" {
		cfg.GoogleApplicationCredentials = v
	}
	if v := getEnv("BIGQUERY_LOCATION", ""); v != "" {
		cfg.BigQueryLocation = v
	}
	if v := getEnv("MAX_BYTES_BILLED", ""); v != "" {
		if b, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxBytesBilled = b
		}
	}
	if v := getEnv("WHYLINE_CACHE_TTL_SECONDS", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheTTLSeconds = n
		}
	}
	if v := getEnv("WHYLINE_AUDIT_LOG_PATH", ""); v != "" {
		cfg.AuditLogPath = v
	}
	if v := getEnv("LLM_PROVIDER", ""); v != "" {
		cfg.LLMProvider = v
	}
	if v := getEnv("ANTHROPIC_API_KEY", ""); v != "" {
		cfg.AnthropicAPIKey = v
	}
	if v := getEnv("ANTHROPIC_BASE_URL", ""); v != "" {
		cfg.AnthropicBaseURL = v
	}
	if v := getEnv("ANTHROPIC_MODEL", ""); v != "" {
		cfg.AnthropicModel = v
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
