package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/api", cfg.APIBaseURL)
	assert.Equal(t, BackendBolt, cfg.StorageBackend)
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, time.Second, cfg.SessionDebounce)
	assert.Equal(t, "org-email", cfg.VerificationPolicy)
	assert.Equal(t, "optimistic", cfg.OTPFallback)
	assert.Equal(t, "TZS", cfg.DefaultCurrency)
	assert.Equal(t, time.Hour, cfg.CurrencyRefreshInterval)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("STOREFRONT_API_BASE_URL", "https://shop.example.com/api")
	t.Setenv("STOREFRONT_STORAGE_BACKEND", "memory")
	t.Setenv("STOREFRONT_TOKEN_TTL", "30m")
	t.Setenv("STOREFRONT_VERIFICATION_POLICY", "three-factor")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://shop.example.com/api", cfg.APIBaseURL)
	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
	assert.Equal(t, "three-factor", cfg.VerificationPolicy)
}

func TestLoad_File(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "storefront.yaml")
	require.NoError(t, os.WriteFile(path, []byte("STORAGE_BACKEND: redis\nREDIS_ADDR: cache:6379\nDEFAULT_CURRENCY: usd\n"), 0o600))

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.StorageBackend)
	assert.Equal(t, "cache:6379", cfg.RedisAddr)
	assert.Equal(t, "usd", cfg.DefaultCurrency)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("STORAGE_BACKEND: [\n"), 0o600))

	_, err := Load(New(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			APIBaseURL:         "http://localhost:8080/api",
			StorageBackend:     BackendMemory,
			VerificationPolicy: "org-email",
			OTPFallback:        "strict",
			DefaultCurrency:    "KES",
			TokenTTL:           time.Hour,
			SessionTTL:         time.Hour,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad url", func(c *Config) { c.APIBaseURL = "localhost" }, "API_BASE_URL"},
		{"bad backend", func(c *Config) { c.StorageBackend = "sqlite" }, "STORAGE_BACKEND"},
		{"bolt without path", func(c *Config) { c.StorageBackend = BackendBolt }, "BOLT_PATH"},
		{"bad policy", func(c *Config) { c.VerificationPolicy = "two-factor" }, "VERIFICATION_POLICY"},
		{"bad fallback", func(c *Config) { c.OTPFallback = "lenient" }, "OTP_FALLBACK"},
		{"bad currency", func(c *Config) { c.DefaultCurrency = "GBP" }, "DEFAULT_CURRENCY"},
		{"zero ttl", func(c *Config) { c.TokenTTL = 0 }, "TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
