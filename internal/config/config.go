package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from .env, YAML and environment.
type Config struct {
	ServerPort string `validate:"required,numeric"`

	ForecastAPIKey     string        `validate:"required"`
	ForecastAPIURL     string        `validate:"required,url"`
	ForecastAPITimeout time.Duration `validate:"gt=0"`

	TranslateURL     string        `validate:"required,url"`
	TranslateTimeout time.Duration `validate:"gt=0"`

	RequestTimeout time.Duration `validate:"gt=0"`

	CacheDir           string        `validate:"required"`
	CacheMaxEntries    int           `validate:"gte=1"`
	CacheMaxAge        time.Duration `validate:"gt=0"`
	CacheSweepSchedule string
	CacheWarm          bool
	CacheWarmLocations []string `validate:"dive,required"`

	LedgerPath string `validate:"required"`

	RetryAttempts  int `validate:"gte=1"`
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int `validate:"gte=1"`
	RateLimitBurst int `validate:"gte=1"`

	CircuitBreakerFailureThreshold int `validate:"gte=1"`
	CircuitBreakerSuccessThreshold int `validate:"gte=1"`
	CircuitBreakerTimeout          time.Duration `validate:"gt=0"`

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	SyncEnabled        bool
	DocumentBackend    string `validate:"oneof=dynamodb memcached"`
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	DynamoTable        string
	PartitionAttr      string
	RecordKey          string
	Bucket             string
	AssetKey           string
	AssetPath          string
	MemcachedAddrs     string
	MemcachedTimeout   time.Duration

	ShutdownTimeout time.Duration `validate:"gt=0"`
	InFlightTimeout time.Duration `validate:"gt=0"`

	DegradedWindow   time.Duration `validate:"gt=0"`
	DegradedErrorPct int           `validate:"gte=1,lte=100"`

	TrackedLocations []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	ForecastAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"forecast_api"`

	Translate struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"translate"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Dir           string   `yaml:"dir"`
		MaxEntries    int      `yaml:"max_entries"`
		MaxAge        string   `yaml:"max_age"`
		SweepSchedule string   `yaml:"sweep_schedule"`
		Warm          bool     `yaml:"warm"`
		WarmLocations []string `yaml:"warm_locations"`
	} `yaml:"cache"`

	Ledger struct {
		Path string `yaml:"path"`
	} `yaml:"ledger"`

	Reliability struct {
		RetryMaxAttempts               int    `yaml:"retry_max_attempts"`
		RetryBaseDelay                 string `yaml:"retry_base_delay"`
		RetryMaxDelay                  string `yaml:"retry_max_delay"`
		RateLimitRPS                   int    `yaml:"rate_limit_rps"`
		RateLimitBurst                 int    `yaml:"rate_limit_burst"`
		CircuitBreakerFailureThreshold int    `yaml:"circuit_breaker_failure_threshold"`
		CircuitBreakerSuccessThreshold int    `yaml:"circuit_breaker_success_threshold"`
		CircuitBreakerTimeout          string `yaml:"circuit_breaker_timeout"`
	} `yaml:"reliability"`

	Coalesce struct {
		Enabled *bool  `yaml:"enabled"`
		Timeout string `yaml:"timeout"`
	} `yaml:"coalesce"`

	Sync struct {
		Enabled          bool   `yaml:"enabled"`
		DocumentBackend  string `yaml:"document_backend"`
		Region           string `yaml:"region"`
		Table            string `yaml:"table"`
		PartitionAttr    string `yaml:"partition_attr"`
		RecordKey        string `yaml:"record_key"`
		Bucket           string `yaml:"bucket"`
		AssetKey         string `yaml:"asset_key"`
		AssetPath        string `yaml:"asset_path"`
		MemcachedAddrs   string `yaml:"memcached_addrs"`
		MemcachedTimeout string `yaml:"memcached_timeout"`
	} `yaml:"sync"`

	Shutdown struct {
		Timeout         string `yaml:"timeout"`
		InFlightTimeout string `yaml:"in_flight_timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Metrics struct {
		TrackedLocations []string `yaml:"tracked_locations"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	ForecastAPIKey     string `yaml:"forecast_api_key"`
	AWSAccessKeyID     string `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key"`
}

var structValidator = validator.New()

// Load reads .env (if present), config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// Environment variables win over file values. Call from project root.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")

	cfg.ForecastAPIKey = firstNonEmpty(os.Getenv("FORECAST_API_KEY"), sec.ForecastAPIKey)
	if cfg.ForecastAPIKey == "" {
		return nil, fmt.Errorf("FORECAST_API_KEY required (set env, .env or config/secrets.yaml forecast_api_key)")
	}
	cfg.ForecastAPIURL = firstNonEmpty(fc.ForecastAPI.URL, "https://weather.visualcrossing.com/VisualCrossingWebServices/rest/services/timeline")
	cfg.ForecastAPITimeout = parseDurationOrZero(fc.ForecastAPI.Timeout, 5*time.Second)

	cfg.TranslateURL = firstNonEmpty(fc.Translate.URL, "https://translate.googleapis.com/translate_a/single")
	cfg.TranslateTimeout = parseDuration(fc.Translate.Timeout, 3*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)

	cfg.CacheDir = firstNonEmpty(os.Getenv("CACHE_DIR"), fc.Cache.Dir, "data/forecasts")
	cfg.CacheMaxEntries = fc.Cache.MaxEntries
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = 10
	}
	cfg.CacheMaxAge = parseDuration(fc.Cache.MaxAge, 24*time.Hour)
	cfg.CacheSweepSchedule = strings.TrimSpace(fc.Cache.SweepSchedule)
	cfg.CacheWarm = fc.Cache.Warm
	cfg.CacheWarmLocations = fc.Cache.WarmLocations

	cfg.LedgerPath = firstNonEmpty(os.Getenv("LEDGER_PATH"), fc.Ledger.Path, "data/history.json")

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	cfg.CircuitBreakerFailureThreshold = fc.Reliability.CircuitBreakerFailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = fc.Reliability.CircuitBreakerSuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.Reliability.CircuitBreakerTimeout, 30*time.Second)

	cfg.CoalesceEnabled = true
	if fc.Coalesce.Enabled != nil {
		cfg.CoalesceEnabled = *fc.Coalesce.Enabled
	}
	cfg.CoalesceTimeout = parseDuration(fc.Coalesce.Timeout, 20*time.Second)

	cfg.SyncEnabled = fc.Sync.Enabled
	cfg.DocumentBackend = strings.ToLower(firstNonEmpty(os.Getenv("DOCUMENT_BACKEND"), fc.Sync.DocumentBackend, "dynamodb"))
	cfg.AWSRegion = firstNonEmpty(os.Getenv("AWS_REGION"), fc.Sync.Region, "us-east-1")
	cfg.AWSAccessKeyID = firstNonEmpty(os.Getenv("AWS_ACCESS_KEY_ID"), sec.AWSAccessKeyID)
	cfg.AWSSecretAccessKey = firstNonEmpty(os.Getenv("AWS_SECRET_ACCESS_KEY"), sec.AWSSecretAccessKey)
	cfg.DynamoTable = firstNonEmpty(fc.Sync.Table, "weather")
	cfg.PartitionAttr = firstNonEmpty(fc.Sync.PartitionAttr, "id")
	cfg.RecordKey = firstNonEmpty(fc.Sync.RecordKey, "forecast")
	cfg.Bucket = strings.TrimSpace(fc.Sync.Bucket)
	cfg.AssetKey = firstNonEmpty(fc.Sync.AssetKey, "image.jpg")
	cfg.AssetPath = firstNonEmpty(fc.Sync.AssetPath, "data/image.jpg")
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Sync.MemcachedAddrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Sync.MemcachedTimeout, 500*time.Millisecond)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.InFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)

	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.TrackedLocations = fc.Metrics.TrackedLocations

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is so validate can reject them.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate runs struct tag validation, then cross-field checks.
// RequestTimeout is raised above ForecastAPITimeout when needed.
func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: %s failed %q validation (value %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	if cfg.RequestTimeout <= cfg.ForecastAPITimeout {
		cfg.RequestTimeout = cfg.ForecastAPITimeout + time.Second
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		return fmt.Errorf("reliability.retry_max_delay (%s) must be >= retry_base_delay (%s)", cfg.RetryMaxDelay, cfg.RetryBaseDelay)
	}
	if cfg.CacheWarm && len(cfg.CacheWarmLocations) == 0 {
		return fmt.Errorf("cache.warm requires cache.warm_locations")
	}
	if cfg.SyncEnabled {
		if cfg.Bucket == "" {
			return fmt.Errorf("sync.bucket is required when sync is enabled")
		}
		if cfg.DocumentBackend == "dynamodb" && cfg.DynamoTable == "" {
			return fmt.Errorf("sync.table is required for the dynamodb backend")
		}
	}
	return nil
}
