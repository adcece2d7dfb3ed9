package configs

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Page      PageConfig
	Log       LogConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	TLSCertFile  string
	TLSKeyFile   string
	BodyLimit    string
	// StoreCallTimeout bounds every primary-store call, including a full refill.
	StoreCallTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	DSN      string
	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// JWTConfig only verifies tokens; issuing them is the identity provider's job.
type JWTConfig struct {
	Secret string
	Issuer string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	// Pool and timeout settings
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
	IdleTimeout  time.Duration
}

type CacheConfig struct {
	KeyPrefix string
	// MaxEntries is the steady-state size of the ranked set.
	MaxEntries int
	// MaxScoreDuplicates bounds the scan past a cursor inside a run of equal scores.
	MaxScoreDuplicates int
	TTL                time.Duration
	ImageTTL           time.Duration
	Codec              string // json or msgpack
	CallTimeout        time.Duration
}

type PageConfig struct {
	DefaultSize int
	MaxSize     int
}

type LogConfig struct {
	Level  string
	Format string // json or text
}

type RateLimitConfig struct {
	DefaultRequestsPerMinute int
	BurstMultiplier          float64
	Window                   time.Duration
	KeyPrefix                string
}

// Load reads the configuration from the environment, after an optional .env file.
// Every malformed or missing value is reported at once.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := &envReader{}
	cfg := &Config{
		Server: ServerConfig{
			Host:             env.str("SERVER_HOST", "0.0.0.0"),
			Port:             env.str("SERVER_PORT", "8080"),
			ReadTimeout:      env.duration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:     env.duration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:      env.duration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			TLSCertFile:      env.str("TLS_CERT_FILE", ""),
			TLSKeyFile:       env.str("TLS_KEY_FILE", ""),
			BodyLimit:        env.str("SERVER_BODY_LIMIT", "8M"),
			StoreCallTimeout: env.duration("STORE_CALL_TIMEOUT", 5*time.Second),
		},
		Database: DatabaseConfig{
			Host:            env.str("DB_HOST", "localhost"),
			Port:            env.str("DB_PORT", "5432"),
			User:            env.str("DB_USER", "postgres"),
			Password:        env.str("DB_PASSWORD", "postgres"),
			DBName:          env.str("DB_NAME", "posts_db"),
			SSLMode:         env.str("DB_SSL_MODE", "disable"),
			MaxOpenConns:    env.intVal("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    env.intVal("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: env.duration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: env.duration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		JWT: JWTConfig{
			Secret: env.required("JWT_SECRET"),
			Issuer: env.str("JWT_ISSUER", ""),
		},
		Redis: RedisConfig{
			Host:         env.str("REDIS_HOST", "localhost"),
			Port:         env.str("REDIS_PORT", "6379"),
			Password:     env.str("REDIS_PASSWORD", ""),
			DB:           env.intVal("REDIS_DB", 0),
			PoolSize:     env.intVal("REDIS_POOL_SIZE", 10),
			MinIdleConns: env.intVal("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  env.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  env.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: env.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			PoolTimeout:  env.duration("REDIS_POOL_TIMEOUT", 4*time.Second),
			IdleTimeout:  env.duration("REDIS_IDLE_TIMEOUT", 5*time.Minute),
		},
		Cache: CacheConfig{
			KeyPrefix:          env.str("CACHE_KEY_PREFIX", "posts"),
			MaxEntries:         env.intVal("CACHE_MAX_ENTRIES", 10000),
			MaxScoreDuplicates: env.intVal("CACHE_MAX_SCORE_DUPLICATES", 100),
			TTL:                env.duration("CACHE_TTL", 10*time.Minute),
			ImageTTL:           env.duration("CACHE_IMAGE_TTL", 30*time.Minute),
			Codec:              env.str("CACHE_CODEC", "json"),
			CallTimeout:        env.duration("CACHE_CALL_TIMEOUT", 250*time.Millisecond),
		},
		Page: PageConfig{
			DefaultSize: env.intVal("PAGE_DEFAULT_SIZE", 100),
			MaxSize:     env.intVal("PAGE_MAX_SIZE", 500),
		},
		Log: LogConfig{
			Level:  env.str("LOG_LEVEL", "info"),
			Format: env.str("LOG_FORMAT", "json"),
		},
		RateLimit: RateLimitConfig{
			DefaultRequestsPerMinute: env.intVal("RATE_LIMIT_RPM", 60),
			BurstMultiplier:          env.floatVal("RATE_LIMIT_BURST", 2.0),
			Window:                   env.duration("RATE_LIMIT_WINDOW", time.Minute),
			KeyPrefix:                env.str("RATE_LIMIT_KEY_PREFIX", "ratelimit:principal"),
		},
	}
	if err := env.err(); err != nil {
		return nil, err
	}
	cfg.Database.DSN = cfg.Database.dsn()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (d DatabaseConfig) dsn() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// Validate checks the cross-field constraints the ranked cache and pagination rely on.
func (c *Config) Validate() error {
	var errs []error
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, errors.New("CACHE_MAX_ENTRIES must be positive"))
	}
	if c.Cache.MaxScoreDuplicates <= 0 {
		errs = append(errs, errors.New("CACHE_MAX_SCORE_DUPLICATES must be positive"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be positive"))
	}
	switch c.Cache.Codec {
	case "json", "msgpack":
	default:
		errs = append(errs, fmt.Errorf("CACHE_CODEC %q is not json or msgpack", c.Cache.Codec))
	}
	if c.Page.MaxSize <= 0 || c.Page.DefaultSize <= 0 || c.Page.DefaultSize > c.Page.MaxSize {
		errs = append(errs, errors.New("PAGE_DEFAULT_SIZE must be positive and at most PAGE_MAX_SIZE"))
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together"))
	}
	return errors.Join(errs...)
}

// envReader reads typed values from the environment and remembers every failure.
type envReader struct {
	errs []error
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}

func (e *envReader) fail(key, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (e *envReader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (e *envReader) required(key string) string {
	v := os.Getenv(key)
	if v == "" {
		e.errs = append(e.errs, fmt.Errorf("%s is required", key))
	}
	return v
}

func (e *envReader) intVal(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *envReader) floatVal(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return f
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}
