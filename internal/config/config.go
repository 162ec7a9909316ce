package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the service reads at startup
type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Storage       StorageConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	Bucketing     BucketingConfig
	Detection     DetectionConfig
	Lockout       LockoutConfig
	Geo           GeoConfig
	Audit         AuditConfig
	Auth          AuthConfig
	Hashing       HashingConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequireHTTPS rejects plain HTTP requests that did not arrive via a TLS proxy
	RequireHTTPS   bool
	AllowedOrigins []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// StorageConfig selects the event history / account store backend.
// "memory" keeps everything in process, "scylla" uses ScyllaDB.
type StorageConfig struct {
	Backend string
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers       []string
	AuditEnabled  bool
	AuditTopic    string
	IngestEnabled bool
	IngestTopic   string
	GroupID       string
}

type ElasticsearchConfig struct {
	Enabled    bool
	URL        string
	Username   string
	Password   string
	AuditIndex string
}

type ClickhouseConfig struct {
	Enabled    bool
	URL        string
	Username   string
	Password   string
	Database   string
	AuditTable string
}

type BucketingConfig struct {
	EventBuckets int
}

// DetectionConfig carries the classifier thresholds and the country denylist.
type DetectionConfig struct {
	BlacklistedCountries    []string
	FailedAttemptWindow     time.Duration
	FailedAttemptThreshold  int
	PasswordChangeWindow    time.Duration
	PasswordChangeThreshold int
}

type LockoutConfig struct {
	ConsecutiveFailures int
	LockTTL             time.Duration
}

type GeoConfig struct {
	Enabled  bool
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

type AuditConfig struct {
	Vendor      string
	Product     string
	Version     string
	SignatureID string
	Severity    int
	FilePath    string
	BufferSize  int
	Workers     int
	SinkTimeout time.Duration
}

type AuthConfig struct {
	JWTSecret string
	AdminRole string
	UserRole  string
}

// HashingConfig tunes argon2id for stored account passwords.
// Pepper is mixed into every hash and must stay stable across restarts.
type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	Pepper            string
}

var (
	globalConfig *Config
	loadOnce     sync.Once
)

// LoadConfig reads .env (when present) and the process environment.
// It is safe to call more than once; the first result is reused.
func LoadConfig() *Config {
	loadOnce.Do(func() {
		_ = godotenv.Load()
		globalConfig = fromEnv()
	})
	return globalConfig
}

// Get returns the loaded configuration, loading it on first use
func Get() *Config {
	if globalConfig == nil {
		return LoadConfig()
	}
	return globalConfig
}

func fromEnv() *Config {
	return &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),

			RequireHTTPS:   getEnvBool("SERVER_REQUIRE_HTTPS", false),
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(getEnv("STORAGE_BACKEND", "memory")),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "security"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			AuditEnabled:  getEnvBool("KAFKA_AUDIT_ENABLED", false),
			AuditTopic:    getEnv("KAFKA_AUDIT_TOPIC", "security-audit-cef"),
			IngestEnabled: getEnvBool("KAFKA_INGEST_ENABLED", false),
			IngestTopic:   getEnv("KAFKA_INGEST_TOPIC", "security-events"),
			GroupID:       getEnv("KAFKA_GROUP_ID", "security-event-ingest"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:    getEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:        getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:   getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:   getEnv("ELASTICSEARCH_PASSWORD", ""),
			AuditIndex: getEnv("ELASTICSEARCH_AUDIT_INDEX", "security-audit"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:    getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:        getEnv("CLICKHOUSE_URL", "http://localhost:9000"),
			Username:   getEnv("CLICKHOUSE_USERNAME", "default"),
			Password:   getEnv("CLICKHOUSE_PASSWORD", ""),
			Database:   getEnv("CLICKHOUSE_DATABASE", "security"),
			AuditTable: getEnv("CLICKHOUSE_AUDIT_TABLE", "audit_records"),
		},
		Bucketing: BucketingConfig{
			EventBuckets: getEnvInt("EVENT_BUCKETS", 64),
		},
		Detection: DetectionConfig{
			BlacklistedCountries:    getEnvList("DETECTION_BLACKLISTED_COUNTRIES", []string{"USA", "UKR", "POL"}),
			FailedAttemptWindow:     getEnvDuration("DETECTION_FAILED_ATTEMPT_WINDOW", 5*time.Minute),
			FailedAttemptThreshold:  getEnvInt("DETECTION_FAILED_ATTEMPT_THRESHOLD", 3),
			PasswordChangeWindow:    getEnvDuration("DETECTION_PASSWORD_CHANGE_WINDOW", 24*time.Hour),
			PasswordChangeThreshold: getEnvInt("DETECTION_PASSWORD_CHANGE_THRESHOLD", 2),
		},
		Lockout: LockoutConfig{
			ConsecutiveFailures: getEnvInt("LOCKOUT_CONSECUTIVE_FAILURES", 3),
			LockTTL:             getEnvDuration("LOCKOUT_LOCK_TTL", 10*time.Second),
		},
		Geo: GeoConfig{
			Enabled:  getEnvBool("GEO_ENABLED", true),
			BaseURL:  getEnv("GEO_BASE_URL", "https://ipapi.co"),
			Timeout:  getEnvDuration("GEO_TIMEOUT", 2*time.Second),
			CacheTTL: getEnvDuration("GEO_CACHE_TTL", 24*time.Hour),
		},
		Audit: AuditConfig{
			Vendor:      getEnv("AUDIT_VENDOR", "YourCompany"),
			Product:     getEnv("AUDIT_PRODUCT", "modul26"),
			Version:     getEnv("AUDIT_VERSION", "1.0"),
			SignatureID: getEnv("AUDIT_SIGNATURE_ID", "1001"),
			Severity:    getEnvInt("AUDIT_SEVERITY", 8),
			FilePath:    getEnv("AUDIT_FILE_PATH", "logs/cef.log"),
			BufferSize:  getEnvInt("AUDIT_BUFFER_SIZE", 1024),
			Workers:     getEnvInt("AUDIT_WORKERS", 2),
			SinkTimeout: getEnvDuration("AUDIT_SINK_TIMEOUT", 5*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			AdminRole: getEnv("AUTH_ADMIN_ROLE", "ADMIN"),
			UserRole:  getEnv("AUTH_USER_ROLE", "USER"),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 64*1024),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
			Pepper:            getEnv("PASSWORD_PEPPER", ""),
		},
	}
}

// Validate reports settings that would make the service misbehave
func (c *Config) Validate() error {
	var problems []string

	if c.Detection.FailedAttemptThreshold < 0 {
		problems = append(problems, "DETECTION_FAILED_ATTEMPT_THRESHOLD must not be negative")
	}
	if c.Detection.PasswordChangeThreshold < 0 {
		problems = append(problems, "DETECTION_PASSWORD_CHANGE_THRESHOLD must not be negative")
	}
	if c.Detection.FailedAttemptWindow <= 0 || c.Detection.PasswordChangeWindow <= 0 {
		problems = append(problems, "detection windows must be positive")
	}
	if c.Lockout.ConsecutiveFailures <= 0 {
		problems = append(problems, "LOCKOUT_CONSECUTIVE_FAILURES must be positive")
	}
	if c.Bucketing.EventBuckets <= 0 {
		problems = append(problems, "EVENT_BUCKETS must be positive")
	}
	if c.Audit.BufferSize <= 0 || c.Audit.Workers <= 0 {
		problems = append(problems, "AUDIT_BUFFER_SIZE and AUDIT_WORKERS must be positive")
	}
	if c.Storage.Backend != "memory" && c.Storage.Backend != "scylla" {
		problems = append(problems, fmt.Sprintf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}
	if c.IsProduction() && c.Auth.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required in production")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
