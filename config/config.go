// Package config loads deployment configuration for services embedding the
// authorization core: a YAML file first, then environment variable overrides,
// so containerized deployments can tweak single values without templating the
// file. The token secret is handed to token.NewVerifier explicitly; nothing
// in the pipeline reads the environment at check time.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/goccy/go-yaml"
)

// Config holds everything a service embedding the core needs to wire it up.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`

	// TokenSecret signs and verifies HS256 bearer tokens.
	TokenSecret string `yaml:"token_secret"`
	TokenIssuer string `yaml:"token_issuer"`

	TenantHeader string `yaml:"tenant_header"`
	TenantCookie string `yaml:"tenant_cookie"`
	SiteHeader   string `yaml:"site_header"`

	// PostgresDSN enables the gormsink audit store when set.
	PostgresDSN string `yaml:"postgres_dsn"`

	// RedisAddr enables the redisink audit stream when set.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisStream   string `yaml:"redis_stream"`

	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// Default returns the configuration used when neither file nor environment
// say otherwise.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		LogLevel: "info",
	}
}

// Load reads the YAML file at path (skipped when path is empty) and then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("tenantauth/config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("tenantauth/config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if cfg.TokenSecret == "" {
		return Config{}, fmt.Errorf("tenantauth/config: token_secret (or TOKEN_SECRET) is required")
	}
	return cfg, nil
}

// FromEnv builds configuration from environment variables alone.
func FromEnv() (Config, error) {
	return Load("")
}

func (c *Config) applyEnv() {
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.TokenSecret, "TOKEN_SECRET")
	setString(&c.TokenIssuer, "TOKEN_ISSUER")
	setString(&c.TenantHeader, "TENANT_HEADER")
	setString(&c.TenantCookie, "TENANT_COOKIE")
	setString(&c.SiteHeader, "SITE_HEADER")
	setString(&c.PostgresDSN, "POSTGRES_DSN")
	setString(&c.RedisAddr, "REDIS_ADDR")
	setString(&c.RedisPassword, "REDIS_PASSWORD")
	setString(&c.RedisStream, "REDIS_STREAM")
	setInt(&c.RedisDB, "REDIS_DB")
	setBool(&c.MetricsEnabled, "METRICS_ENABLED")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
