package config

const (
	DefaultHost        = "0.0.0.0"
	DefaultPort        = 8000
	DefaultEnvironment = "development"
	DefaultAPIPrefix   = "/api/v1"
	DefaultLogLevel    = "info"

	DefaultRateLimitPerMinute = 60

	DefaultDbtTargetPath = "dbt/target"

	DefaultDuckDBPath        = "data/warehouse.duckdb"
	DefaultDuckDBThreads     = 2
	DefaultDuckDBMemoryLimit = "1GB"

	DefaultBigQueryLocation = "US"
	DefaultMaxBytesBilled   = 2_000_000_000 // 2 GB

	DefaultSafeRowLimit   = 5000
	DefaultQueryTimeoutMs = 60_000

	DefaultCacheTTLSeconds = 180
	DefaultCacheCapacity   = 128

	DefaultAuditLogPath       = "data/logs/queries.jsonl"
	DefaultAuditLogMaxSizeMB  = 10
	DefaultAuditLogMaxBackups = 5
	DefaultAuditBufferSize    = 256

	DefaultLLMProvider = "stub"
)

var DefaultCORSOrigins = []string{
	"http://localhost:3000",
	"http://localhost:8501",
}
