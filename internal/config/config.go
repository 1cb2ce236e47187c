package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	Currency        string
	DefaultLanguage string
	DefaultCountry  string

	// PaymentTimeout bounds every outbound payment provider call.
	// Providers are out-of-process network dependencies; 30s is the
	// documented default.
	PaymentTimeout time.Duration

	// ChildrenPageSize caps how many cart children a single store page
	// fetch returns.
	ChildrenPageSize int

	ArticleCacheTTL      time.Duration
	ConditionCacheTTL    time.Duration
	ConditionCacheSize   int
	AutomaticDiscountTTL time.Duration

	RateLimit string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:               valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                 valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:          k.String("DATABASE_URL"),
		RedisURL:             k.String("REDIS_URL"),
		CORSAllowedOrigins:   splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		Currency:             valueOrDefault(k.String("SHOP_CURRENCY"), "EUR"),
		DefaultLanguage:      valueOrDefault(k.String("SHOP_DEFAULT_LANGUAGE"), "de"),
		DefaultCountry:       valueOrDefault(k.String("SHOP_DEFAULT_COUNTRY"), "de"),
		PaymentTimeout:       parseDuration(k.String("PAYMENT_TIMEOUT"), "30s"),
		ChildrenPageSize:     intOrDefault(k.Int("CART_CHILDREN_PAGE_SIZE"), 100),
		ArticleCacheTTL:      parseDuration(k.String("ARTICLE_CACHE_TTL"), "5m"),
		ConditionCacheTTL:    parseDuration(k.String("DISCOUNT_CONDITION_CACHE_TTL"), "10m"),
		ConditionCacheSize:   intOrDefault(k.Int("DISCOUNT_CONDITION_CACHE_SIZE"), 256),
		AutomaticDiscountTTL: parseDuration(k.String("AUTOMATIC_DISCOUNT_TTL"), "5m"),
		RateLimit:            valueOrDefault(k.String("RATE_LIMIT"), "120-M"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func intOrDefault(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}
