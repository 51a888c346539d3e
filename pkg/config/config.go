package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "ACHIEVEMENTS"

const (
	EnvAppEnv        = "ACHIEVEMENTS_APP_ENV"
	EnvPort          = "ACHIEVEMENTS_APP_PORT"
	EnvDBDSN         = "ACHIEVEMENTS_DB_DSN"
	EnvRedisURL      = "ACHIEVEMENTS_REDIS_URL"
	EnvGCPProjectID  = "ACHIEVEMENTS_GCP_PROJECT_ID"
	EnvGCSBucket     = "ACHIEVEMENTS_GCS_BUCKET_NAME"
	EnvPublicBaseURL = "ACHIEVEMENTS_PUBLIC_BASE_URL"
)

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

// Config aggregates every environment-derived setting the worker needs.
type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	GCP          GCPConfig
	GCS          GCSConfig
	Worker       WorkerConfig
	FeatureFlags FeatureFlagsConfig
}

// Load parses environment variables into Config, applying defaults and
// validating required fields.
func Load() (*Config, error) {
	var cfg Config
	// Each section is processed on its own so its keys take the form
	// ACHIEVEMENTS_<TAG> rather than ACHIEVEMENTS_<SECTION>_<TAG>.
	sections := []any{&cfg.App, &cfg.DB, &cfg.Redis, &cfg.GCP, &cfg.GCS, &cfg.Worker, &cfg.FeatureFlags}
	for _, section := range sections {
		if err := envconfig.Process(EnvPrefix, section); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"APP_ENV" required:"true"`
	Port         string `envconfig:"APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.HasPrefix(strings.ToLower(a.Env), "dev")
}

func (a AppConfig) IsProd() bool {
	return strings.HasPrefix(strings.ToLower(a.Env), "prod")
}

type DBConfig struct {
	DSN    string `envconfig:"DB_DSN" required:"true"`
	Driver string `envconfig:"DB_DRIVER" default:"postgres"`

	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"REDIS_URL" required:"true"`
	Address      string        `envconfig:"REDIS_ADDR"`
	Password     string        `envconfig:"REDIS_PASSWORD"`
	DB           int           `envconfig:"REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName    string `envconfig:"GCS_BUCKET_NAME" required:"true"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" required:"true"`
}

// WorkerConfig maps directly onto spec's batch-size / poll-interval-ms / max-attempts.
type WorkerConfig struct {
	BatchSize       int           `envconfig:"WORKER_BATCH_SIZE" default:"50"`
	PollIntervalMS  int           `envconfig:"WORKER_POLL_INTERVAL_MS" default:"1000"`
	MaxAttempts     int           `envconfig:"WORKER_MAX_ATTEMPTS" default:"10"`
	LeaseTTL        time.Duration `envconfig:"WORKER_LEASE_TTL" default:"10m"`
	RuleCacheTTL    time.Duration `envconfig:"WORKER_RULE_CACHE_TTL" default:"5s"`
	Issuer          string        `envconfig:"WORKER_ISSUER" default:"achievements-worker"`

	LeaseReclaimInterval time.Duration `envconfig:"WORKER_LEASE_RECLAIM_INTERVAL" default:"1m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"AUTO_MIGRATE" default:"false"`
}
