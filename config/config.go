package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pilab-dev/storefront/currency"
	"github.com/pilab-dev/storefront/verification"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. STOREFRONT_API_BASE_URL.
const EnvPrefix = "STOREFRONT"

// Storage backends.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
)

// Config holds all configuration for storefrontctl and the session gateway.
// Tags use mapstructure for Viper unmarshalling.
type Config struct {
	APIBaseURL  string        `mapstructure:"API_BASE_URL" yaml:"api_base_url"`
	HTTPTimeout time.Duration `mapstructure:"HTTP_TIMEOUT" yaml:"http_timeout"`

	StorageBackend string `mapstructure:"STORAGE_BACKEND" yaml:"storage_backend"`
	BoltPath       string `mapstructure:"BOLT_PATH" yaml:"bolt_path"`
	RedisAddr      string `mapstructure:"REDIS_ADDR" yaml:"redis_addr"`
	RedisPrefix    string `mapstructure:"REDIS_PREFIX" yaml:"redis_prefix"`
	MongoURI       string `mapstructure:"MONGO_URI" yaml:"mongo_uri"`
	MongoDBName    string `mapstructure:"MONGO_DB_NAME" yaml:"mongo_db_name"`

	TokenTTL        time.Duration `mapstructure:"TOKEN_TTL" yaml:"token_ttl"`
	SessionTTL      time.Duration `mapstructure:"SESSION_TTL" yaml:"session_ttl"`
	SessionDebounce time.Duration `mapstructure:"SESSION_DEBOUNCE" yaml:"session_debounce"`

	VerificationPolicy string `mapstructure:"VERIFICATION_POLICY" yaml:"verification_policy"`
	OTPFallback        string `mapstructure:"OTP_FALLBACK" yaml:"otp_fallback"`

	DefaultCurrency         string        `mapstructure:"DEFAULT_CURRENCY" yaml:"default_currency"`
	CurrencyRefreshInterval time.Duration `mapstructure:"CURRENCY_REFRESH_INTERVAL" yaml:"currency_refresh_interval"`

	GatewayAddr string `mapstructure:"GATEWAY_ADDR" yaml:"gateway_addr"`

	LogLevel        string `mapstructure:"LOG_LEVEL" yaml:"log_level"`
	LogPretty       bool   `mapstructure:"LOG_PRETTY" yaml:"log_pretty"`
	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME" yaml:"otel_service_name"`
}

var keys = []string{
	"API_BASE_URL", "HTTP_TIMEOUT",
	"STORAGE_BACKEND", "BOLT_PATH", "REDIS_ADDR", "REDIS_PREFIX", "MONGO_URI", "MONGO_DB_NAME",
	"TOKEN_TTL", "SESSION_TTL", "SESSION_DEBOUNCE",
	"VERIFICATION_POLICY", "OTP_FALLBACK",
	"DEFAULT_CURRENCY", "CURRENCY_REFRESH_INTERVAL",
	"GATEWAY_ADDR",
	"LOG_LEVEL", "LOG_PRETTY", "OTEL_SERVICE_NAME",
}

// New returns a viper instance with defaults, env binding and search paths applied.
func New() *viper.Viper {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.storefrontctl")
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees env values for keys viper knows about.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	v.SetDefault("API_BASE_URL", "http://localhost:8080/api")
	v.SetDefault("HTTP_TIMEOUT", 30*time.Second)
	v.SetDefault("STORAGE_BACKEND", BackendBolt)
	v.SetDefault("BOLT_PATH", "$HOME/.storefrontctl/state.db")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PREFIX", "storefront")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "storefront")
	v.SetDefault("TOKEN_TTL", 2*time.Hour)
	v.SetDefault("SESSION_TTL", 24*time.Hour)
	v.SetDefault("SESSION_DEBOUNCE", time.Second)
	v.SetDefault("VERIFICATION_POLICY", verification.PolicyOrganizationEmail)
	v.SetDefault("OTP_FALLBACK", verification.FallbackOptimistic)
	v.SetDefault("DEFAULT_CURRENCY", string(currency.Base))
	v.SetDefault("CURRENCY_REFRESH_INTERVAL", time.Hour)
	v.SetDefault("GATEWAY_ADDR", "127.0.0.1:8090")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("OTEL_SERVICE_NAME", "storefrontctl")

	return v
}

// LoadConfig reads configuration from file, environment variables, and defaults.
// A missing config file is not an error.
func LoadConfig() (*Config, error) {
	return Load(New(), "")
}

// Load reads v into a Config. When file is non-empty it replaces the search paths.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects unknown backends, policies, fallbacks and currencies.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid API_BASE_URL %q", c.APIBaseURL)
	}

	switch c.StorageBackend {
	case BackendMemory, BackendRedis, BackendMongo:
	case BackendBolt:
		if c.BoltPath == "" {
			return errors.New("BOLT_PATH is required for the bolt backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	if _, err := verification.PolicyByName(c.VerificationPolicy); err != nil {
		return fmt.Errorf("VERIFICATION_POLICY: %w", err)
	}

	if _, err := verification.FallbackByName(c.OTPFallback); err != nil {
		return fmt.Errorf("OTP_FALLBACK: %w", err)
	}

	if _, err := currency.ParseCode(c.DefaultCurrency); err != nil {
		return fmt.Errorf("DEFAULT_CURRENCY: %w", err)
	}

	if c.TokenTTL <= 0 || c.SessionTTL <= 0 {
		return errors.New("TOKEN_TTL and SESSION_TTL must be positive")
	}

	return nil
}
