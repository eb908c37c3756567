package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	goRealtime "github.com/MrEthical07/goRealtime"
	"gopkg.in/yaml.v3"
)

// serverConfig holds the binary's settings. Values come from an optional
// YAML file; environment variables override the file.
type serverConfig struct {
	Server   httpConfig     `yaml:"server"`
	Redis    redisConfig    `yaml:"redis"`
	JWT      jwtConfig      `yaml:"jwt"`
	Rooms    roomsConfig    `yaml:"rooms"`
	Security securityConfig `yaml:"security"`
	Log      logConfig      `yaml:"log"`
	// Principals are written to the identity store at startup.
	Principals []principalSeed `yaml:"principals"`
}

type httpConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// DevLogin enables POST /login, which opens a browser session for any
	// known subject without checking a password.
	DevLogin bool `yaml:"dev_login"`
	// AdminToken guards the /internal routes; empty disables them.
	AdminToken string `yaml:"admin_token"`
}

type redisConfig struct {
	Addr     string `yaml:"addr"` // empty starts an embedded miniredis
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"identity_prefix"`
}

type jwtConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	PrivateKey string        `yaml:"private_key"` // base64 ed25519 seed+public key
	PublicKey  string        `yaml:"public_key"`  // base64
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
}

type roomsConfig struct {
	Policies map[string]string `yaml:"policies"`
}

type securityConfig struct {
	ProductionMode bool     `yaml:"production_mode"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type logConfig struct {
	Development bool `yaml:"development"`
}

type principalSeed struct {
	Subject     string `yaml:"subject"`
	Role        string `yaml:"role"`
	DisplayName string `yaml:"display_name"`
	Inactive    bool   `yaml:"inactive"`
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		Server: httpConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: redisConfig{
			Prefix: "principal",
		},
		JWT: jwtConfig{
			TTL: 15 * time.Minute,
		},
	}
}

// loadConfig reads path (if non-empty) and applies environment overrides.
func loadConfig(path string) (serverConfig, error) {
	cfg := defaultServerConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Server.Addr = getEnv("REALTIME_ADDR", cfg.Server.Addr)
	cfg.Server.ShutdownTimeout = getEnvDuration("REALTIME_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.DevLogin = getEnvBool("REALTIME_DEV_LOGIN", cfg.Server.DevLogin)
	cfg.Server.AdminToken = getEnv("REALTIME_ADMIN_TOKEN", cfg.Server.AdminToken)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)
	cfg.JWT.TTL = getEnvDuration("JWT_TTL", cfg.JWT.TTL)
	cfg.JWT.PrivateKey = getEnv("JWT_PRIVATE_KEY", cfg.JWT.PrivateKey)
	cfg.JWT.PublicKey = getEnv("JWT_PUBLIC_KEY", cfg.JWT.PublicKey)
	cfg.Security.ProductionMode = getEnvBool("PRODUCTION_MODE", cfg.Security.ProductionMode)
	cfg.Security.AllowedOrigins = getEnvSlice("ALLOWED_ORIGINS", cfg.Security.AllowedOrigins)
	cfg.Log.Development = getEnvBool("LOG_DEVELOPMENT", cfg.Log.Development)
	return cfg, nil
}

// engineConfig maps the file settings onto the engine configuration.
func (c serverConfig) engineConfig() (goRealtime.Config, error) {
	cfg := goRealtime.DefaultConfig()
	if c.JWT.PrivateKey != "" || c.JWT.PublicKey != "" {
		priv, err := base64.StdEncoding.DecodeString(c.JWT.PrivateKey)
		if err != nil {
			return cfg, fmt.Errorf("decode jwt private key: %w", err)
		}
		pub, err := base64.StdEncoding.DecodeString(c.JWT.PublicKey)
		if err != nil {
			return cfg, fmt.Errorf("decode jwt public key: %w", err)
		}
		cfg.JWT.PrivateKey = priv
		cfg.JWT.PublicKey = pub
	}
	if c.JWT.TTL > 0 {
		cfg.JWT.TTL = c.JWT.TTL
	}
	if c.JWT.Issuer != "" {
		cfg.JWT.Issuer = c.JWT.Issuer
	}
	if c.JWT.Audience != "" {
		cfg.JWT.Audience = c.JWT.Audience
	}
	for room, policy := range c.Rooms.Policies {
		cfg.Rooms.Policies[room] = goRealtime.RoomPolicy(policy)
	}
	cfg.Security.ProductionMode = c.Security.ProductionMode
	if len(c.Security.AllowedOrigins) > 0 {
		cfg.Security.AllowedOrigins = c.Security.AllowedOrigins
	}
	cfg.Audit.Enabled = true
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg, cfg.Validate()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
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

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
