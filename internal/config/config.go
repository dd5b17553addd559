package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var (
	current *Config
	mu      sync.RWMutex
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	OTP           OTPConfig
	SMS           SMSConfig
	FraudX        FraudXConfig
	Geo           GeoConfig
	Journal       JournalConfig
	RateLimit     RateLimitConfig
}

type ServerConfig struct {
	Host           string
	Port           string
	TLSPort        string
	EnableTLS      bool
	AutoCert       bool
	Domain         string
	CertFile       string
	KeyFile        string
	AutoCertDir    string
	Email          string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	Enabled     bool
	URL         string
	Password    string
	DB          int
	PoolSize    int
	TLSCAFile   string
	TLSCertFile string
	TLSKeyFile  string
}

type ScyllaConfig struct {
	Enabled     bool
	Hosts       []string
	Keyspace    string
	Username    string
	Password    string
	Consistency string
	Timeout     time.Duration
}

type KafkaConfig struct {
	Enabled  bool
	Brokers  []string
	Topic    string
	Username string
	Password string
	UseTLS   bool
}

type ElasticsearchConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
	Table    string
	CAFile   string
}

type KMSConfig struct {
	Enabled   bool
	KeyID     string
	Region    string
	LocalKey  string
	CacheSize int
}

type HashingConfig struct {
	Argon2MemoryCost   int
	Argon2TimeCost     int
	Argon2Parallelism  int
	Pepper             string
	PepperRotationDays int
}

type BucketingConfig struct {
	EventBuckets int
}

// OTPConfig holds the passcode lifecycle knobs.
type OTPConfig struct {
	Validity               time.Duration
	MaxAttempts            int
	DefaultCountryCode     string
	Store                  string
	InvalidateOnSMSFailure bool
	SendLimit              int
	SendWindow             time.Duration
	StoreGrace             time.Duration
}

type SMSConfig struct {
	Provider   string
	AccountSID string
	AuthToken  string
	FromNumber string
}

// FraudXConfig describes the remote fraud scoring backend and ping cadence.
type FraudXConfig struct {
	ServerURL           string
	PingEndpoint        string
	ResetEndpoint       string
	SetDeliveryEndpoint string
	MinInterval         time.Duration
	MaxInterval         time.Duration
	MismatchInterval    time.Duration
	RequestTimeout      time.Duration
	MaxActive           int
}

type GeoConfig struct {
	IPLookupURL string
	Timeout     time.Duration
}

type JournalConfig struct {
	SealPII        bool
	MemoryCapacity int
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnv("PORT", "8080"),
			TLSPort:        getEnv("TLS_PORT", "8443"),
			EnableTLS:      getEnvBool("ENABLE_TLS", false),
			AutoCert:       getEnvBool("AUTO_CERT", false),
			Domain:         getEnv("DOMAIN", "localhost"),
			CertFile:       getEnv("TLS_CERT_FILE", ""),
			KeyFile:        getEnv("TLS_KEY_FILE", ""),
			AutoCertDir:    getEnv("AUTO_CERT_DIR", "./certs"),
			Email:          getEnv("ACME_EMAIL", ""),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"*"}),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Redis: RedisConfig{
			Enabled:     getEnvBool("REDIS_ENABLED", false),
			URL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvInt("REDIS_DB", 0),
			PoolSize:    getEnvInt("REDIS_POOL_SIZE", 20),
			TLSCAFile:   getEnv("REDIS_TLS_CA_FILE", "/app/certs/ca.crt"),
			TLSCertFile: getEnv("REDIS_TLS_CERT_FILE", "/app/certs/redis.crt"),
			TLSKeyFile:  getEnv("REDIS_TLS_KEY_FILE", "/app/certs/redis.key"),
		},
		Scylla: ScyllaConfig{
			Enabled:     getEnvBool("SCYLLA_ENABLED", false),
			Hosts:       getEnvSlice("SCYLLA_HOSTS", []string{"localhost:9042"}),
			Keyspace:    getEnv("SCYLLA_KEYSPACE", "storefront_guard"),
			Username:    getEnv("SCYLLA_USERNAME", ""),
			Password:    getEnv("SCYLLA_PASSWORD", ""),
			Consistency: getEnv("SCYLLA_CONSISTENCY", "LOCAL_QUORUM"),
			Timeout:     getEnvDuration("SCYLLA_TIMEOUT", 5*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:  getEnvBool("KAFKA_ENABLED", false),
			Brokers:  getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:    getEnv("KAFKA_TOPIC", "risk-events"),
			Username: getEnv("KAFKA_USERNAME", ""),
			Password: getEnv("KAFKA_PASSWORD", ""),
			UseTLS:   getEnvBool("KAFKA_TLS", false),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:  getEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:      getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: getEnv("ELASTICSEARCH_USERNAME", ""),
			Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    getEnv("ELASTICSEARCH_INDEX", "risk-events"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "default"),
			Table:    getEnv("CLICKHOUSE_TABLE", "risk_events"),
			CAFile:   getEnv("CLICKHOUSE_CA_FILE", ""),
		},
		KMS: KMSConfig{
			Enabled:   getEnvBool("KMS_ENABLED", false),
			KeyID:     getEnv("KMS_KEY_ID", ""),
			Region:    getEnv("AWS_REGION", "ap-south-1"),
			LocalKey:  getEnv("LOCAL_ENCRYPTION_KEY", ""),
			CacheSize: getEnvInt("KMS_CACHE_SIZE", 1000),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:   getEnvInt("ARGON2_MEMORY_COST", 64*1024),
			Argon2TimeCost:     getEnvInt("ARGON2_TIME_COST", 1),
			Argon2Parallelism:  getEnvInt("ARGON2_PARALLELISM", 2),
			Pepper:             getEnv("HASHING_PEPPER", ""),
			PepperRotationDays: getEnvInt("PEPPER_ROTATION_DAYS", 0),
		},
		Bucketing: BucketingConfig{
			EventBuckets: getEnvInt("EVENT_BUCKETS", 64),
		},
		OTP: OTPConfig{
			Validity:               getEnvMillis("OTP_VALIDITY_MS", 5*time.Minute),
			MaxAttempts:            getEnvInt("MAX_ATTEMPTS", 3),
			DefaultCountryCode:     getEnv("OTP_DEFAULT_COUNTRY_CODE", "91"),
			Store:                  strings.ToLower(getEnv("OTP_STORE", "memory")),
			InvalidateOnSMSFailure: getEnvBool("OTP_INVALIDATE_ON_SMS_FAILURE", false),
			SendLimit:              getEnvInt("OTP_SEND_LIMIT", 5),
			SendWindow:             getEnvDuration("OTP_SEND_WINDOW", 15*time.Minute),
			StoreGrace:             getEnvDuration("OTP_STORE_GRACE", 10*time.Minute),
		},
		SMS: SMSConfig{
			Provider:   strings.ToLower(getEnv("SMS_PROVIDER", "")),
			AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			FromNumber: getEnv("TWILIO_PHONE_NUMBER", ""),
		},
		FraudX: FraudXConfig{
			ServerURL:           strings.TrimRight(getEnv("SERVER_URL", "http://localhost:3000"), "/"),
			PingEndpoint:        getEnv("PING_ENDPOINT", "/api/location/ping"),
			ResetEndpoint:       getEnv("RESET_ENDPOINT", "/api/location/reset"),
			SetDeliveryEndpoint: getEnv("SET_DELIVERY_ENDPOINT", "/api/location/set-delivery"),
			MinInterval:         getEnvSeconds("MIN_INTERVAL", time.Second),
			MaxInterval:         getEnvSeconds("MAX_INTERVAL", 10*time.Second),
			MismatchInterval:    getEnvMillis("MISMATCH_INTERVAL_MS", 5*time.Second),
			RequestTimeout:      getEnvDuration("FRAUDX_TIMEOUT", 10*time.Second),
			MaxActive:           getEnvInt("SIM_MAX_ACTIVE", 0),
		},
		Geo: GeoConfig{
			IPLookupURL: getEnv("GEO_IP_LOOKUP_URL", "https://ipapi.co/json/"),
			Timeout:     getEnvDuration("GEO_TIMEOUT", 5*time.Second),
		},
		Journal: JournalConfig{
			SealPII:        getEnvBool("JOURNAL_SEAL_PII", false),
			MemoryCapacity: getEnvInt("JOURNAL_MEMORY_CAPACITY", 0),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 5),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 10),
		},
	}

	if cfg.SMS.Provider == "" {
		cfg.SMS.Provider = defaultSMSProvider(cfg)
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg
}

// Get returns the most recently loaded configuration.
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()

	if cfg == nil {
		return LoadConfig()
	}
	return cfg
}

func defaultSMSProvider(cfg *Config) string {
	if cfg.SMS.AccountSID != "" && cfg.SMS.AuthToken != "" {
		return "twilio"
	}
	if cfg.IsDevelopment() {
		return "console"
	}
	return "none"
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.OTP.Validity <= 0 {
		errs = append(errs, errors.New("OTP_VALIDITY_MS must be positive"))
	}
	if c.OTP.MaxAttempts < 1 {
		errs = append(errs, errors.New("MAX_ATTEMPTS must be at least 1"))
	}
	if _, err := strconv.ParseUint(c.OTP.DefaultCountryCode, 10, 16); err != nil || len(c.OTP.DefaultCountryCode) > 3 {
		errs = append(errs, fmt.Errorf("OTP_DEFAULT_COUNTRY_CODE %q must be 1-3 digits", c.OTP.DefaultCountryCode))
	}
	switch c.OTP.Store {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, errors.New("OTP_STORE=redis requires REDIS_ENABLED=true"))
		}
	case "scylla":
		if !c.Scylla.Enabled {
			errs = append(errs, errors.New("OTP_STORE=scylla requires SCYLLA_ENABLED=true"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown OTP_STORE %q", c.OTP.Store))
	}

	switch c.SMS.Provider {
	case "twilio":
		if c.SMS.AccountSID == "" || c.SMS.AuthToken == "" || c.SMS.FromNumber == "" {
			errs = append(errs, errors.New("twilio provider requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER"))
		}
	case "console", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown SMS_PROVIDER %q", c.SMS.Provider))
	}

	if c.FraudX.ServerURL == "" {
		errs = append(errs, errors.New("SERVER_URL is required"))
	}
	if c.FraudX.MinInterval <= 0 || c.FraudX.MaxInterval < c.FraudX.MinInterval {
		errs = append(errs, fmt.Errorf("ping interval range [%s, %s] is invalid", c.FraudX.MinInterval, c.FraudX.MaxInterval))
	}
	if c.FraudX.MaxActive < 0 {
		errs = append(errs, errors.New("SIM_MAX_ACTIVE cannot be negative"))
	}

	if c.KMS.Enabled && c.KMS.KeyID == "" {
		errs = append(errs, errors.New("KMS_ENABLED requires KMS_KEY_ID"))
	}
	if c.IsProduction() && c.Hashing.Pepper == "" {
		errs = append(errs, errors.New("HASHING_PEPPER is required in production"))
	}
	if c.Server.EnableTLS && !c.Server.AutoCert && c.IsProduction() && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		errs = append(errs, errors.New("TLS in production requires AUTO_CERT or TLS_CERT_FILE/TLS_KEY_FILE"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev" || c.Environment == "local"
}

func (c *Config) GetServerAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

func (c *Config) GetTLSAddress() string {
	return c.Server.Host + ":" + c.Server.TLSPort
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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

// getEnvMillis reads a bare integer number of milliseconds.
func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return defaultValue
}

// getEnvSeconds reads a bare number of seconds, fractions allowed.
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
