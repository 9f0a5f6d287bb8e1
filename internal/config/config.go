package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names. Env values override the config file.
const (
	EnvConfigPath       = "NOTEDOCK_CONFIG"
	EnvPort             = "PORT"
	EnvDBConnection     = "DB_CONNECTION"
	EnvJWTSecret        = "JWT_SECRET"
	EnvJWTAccessExpiry  = "JWT_ACCESS_EXPIRY"
	EnvJWTRefreshExpiry = "JWT_REFRESH_EXPIRY"
	EnvSMTPHost         = "SMTP_HOST"
	EnvSMTPPort         = "SMTP_PORT"
	EnvSMTPUser         = "SMTP_USER"
	EnvSMTPPass         = "SMTP_PASS"
	EnvSMTPFrom         = "SMTP_FROM"
	EnvGoogleClientID   = "GOOGLE_CLIENT_ID"
	EnvLogLevel         = "LOG_LEVEL"
)

// ErrMissingJWTSecret indicates no token signing secret is configured.
// This is a fatal startup condition.
var ErrMissingJWTSecret = errors.New("missing jwt secret (set `jwt.secret` in config file or env JWT_SECRET)")

// ErrMissingDatabaseDSN indicates no database DSN is present.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database.dsn` in config file or env DB_CONNECTION)")

// Defaults applied when the config file and environment are silent.
const (
	defaultPort           = 8318
	defaultAccessExpiry   = 15 * time.Minute
	defaultRefreshExpiry  = 7 * 24 * time.Hour
	defaultOTPLimit       = 3
	defaultOTPLimitWindow = 15 * time.Minute
)

// JWTConfig holds token signing settings.
type JWTConfig struct {
	Secret        string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

// SMTPConfig holds mail transport settings. An empty host means mail
// delivery is unconfigured and messages are logged instead.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// OTPRateLimitConfig bounds OTP issuance per email address.
type OTPRateLimitConfig struct {
	Limit         int
	Window        time.Duration
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	Port           int
	DatabaseDSN    string
	LogLevel       string
	GoogleClientID string
	JWT            JWTConfig
	SMTP           SMTPConfig
	OTPRateLimit   OTPRateLimitConfig
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// fileConfig maps the YAML layout of the config file. Durations are
// strings in time.ParseDuration format.
type fileConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log-level"`
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	JWT struct {
		Secret        string `yaml:"secret"`
		AccessExpiry  string `yaml:"access-expiry"`
		RefreshExpiry string `yaml:"refresh-expiry"`
	} `yaml:"jwt"`
	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
	} `yaml:"smtp"`
	Google struct {
		ClientID string `yaml:"client-id"`
	} `yaml:"google"`
	OTPRateLimit struct {
		Limit         int    `yaml:"limit"`
		Window        string `yaml:"window"`
		RedisEnabled  bool   `yaml:"redis-enabled"`
		RedisAddr     string `yaml:"redis-addr"`
		RedisPassword string `yaml:"redis-password"`
		RedisDB       int    `yaml:"redis-db"`
		RedisPrefix   string `yaml:"redis-prefix"`
	} `yaml:"otp-rate-limit"`
}

// Load reads the YAML config file (when present), applies environment
// overrides, and validates fatal requirements.
func Load(configPath string) (AppConfig, error) {
	cfg := AppConfig{
		Port:     defaultPort,
		LogLevel: "info",
		JWT: JWTConfig{
			AccessExpiry:  defaultAccessExpiry,
			RefreshExpiry: defaultRefreshExpiry,
		},
		OTPRateLimit: OTPRateLimitConfig{
			Limit:       defaultOTPLimit,
			Window:      defaultOTPLimitWindow,
			RedisPrefix: "notedock:otp",
		},
	}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var file fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &file); errUnmarshal != nil {
			return AppConfig{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
		applyFileConfig(&cfg, file)
	} else if !os.IsNotExist(errRead) {
		return AppConfig{}, fmt.Errorf("read config file: %w", errRead)
	}

	applyEnvOverrides(&cfg)

	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return AppConfig{}, ErrMissingJWTSecret
	}
	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		return AppConfig{}, ErrMissingDatabaseDSN
	}
	return cfg, nil
}

func applyFileConfig(cfg *AppConfig, file fileConfig) {
	if file.Port > 0 {
		cfg.Port = file.Port
	}
	if level := strings.TrimSpace(file.LogLevel); level != "" {
		cfg.LogLevel = level
	}
	if dsn := strings.TrimSpace(file.Database.DSN); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if secret := strings.TrimSpace(file.JWT.Secret); secret != "" {
		cfg.JWT.Secret = secret
	}
	if expiry, ok := parseDuration(file.JWT.AccessExpiry); ok {
		cfg.JWT.AccessExpiry = expiry
	}
	if expiry, ok := parseDuration(file.JWT.RefreshExpiry); ok {
		cfg.JWT.RefreshExpiry = expiry
	}
	cfg.SMTP.Host = strings.TrimSpace(file.SMTP.Host)
	if file.SMTP.Port > 0 {
		cfg.SMTP.Port = file.SMTP.Port
	}
	cfg.SMTP.Username = strings.TrimSpace(file.SMTP.Username)
	cfg.SMTP.Password = file.SMTP.Password
	cfg.SMTP.From = strings.TrimSpace(file.SMTP.From)
	if clientID := strings.TrimSpace(file.Google.ClientID); clientID != "" {
		cfg.GoogleClientID = clientID
	}
	if file.OTPRateLimit.Limit > 0 {
		cfg.OTPRateLimit.Limit = file.OTPRateLimit.Limit
	}
	if window, ok := parseDuration(file.OTPRateLimit.Window); ok {
		cfg.OTPRateLimit.Window = window
	}
	cfg.OTPRateLimit.RedisEnabled = file.OTPRateLimit.RedisEnabled
	if addr := strings.TrimSpace(file.OTPRateLimit.RedisAddr); addr != "" {
		cfg.OTPRateLimit.RedisAddr = addr
	}
	if file.OTPRateLimit.RedisPassword != "" {
		cfg.OTPRateLimit.RedisPassword = file.OTPRateLimit.RedisPassword
	}
	if file.OTPRateLimit.RedisDB > 0 {
		cfg.OTPRateLimit.RedisDB = file.OTPRateLimit.RedisDB
	}
	if prefix := strings.TrimSpace(file.OTPRateLimit.RedisPrefix); prefix != "" {
		cfg.OTPRateLimit.RedisPrefix = prefix
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	if raw := strings.TrimSpace(os.Getenv(EnvPort)); raw != "" {
		if port, errParse := strconv.Atoi(raw); errParse == nil && port > 0 && port <= 65535 {
			cfg.Port = port
		}
	}
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.JWT.Secret = secret
	}
	if expiry, ok := parseDuration(os.Getenv(EnvJWTAccessExpiry)); ok {
		cfg.JWT.AccessExpiry = expiry
	}
	if expiry, ok := parseDuration(os.Getenv(EnvJWTRefreshExpiry)); ok {
		cfg.JWT.RefreshExpiry = expiry
	}
	if host := strings.TrimSpace(os.Getenv(EnvSMTPHost)); host != "" {
		cfg.SMTP.Host = host
	}
	if raw := strings.TrimSpace(os.Getenv(EnvSMTPPort)); raw != "" {
		if port, errParse := strconv.Atoi(raw); errParse == nil && port > 0 {
			cfg.SMTP.Port = port
		}
	}
	if user := strings.TrimSpace(os.Getenv(EnvSMTPUser)); user != "" {
		cfg.SMTP.Username = user
	}
	if pass := os.Getenv(EnvSMTPPass); pass != "" {
		cfg.SMTP.Password = pass
	}
	if from := strings.TrimSpace(os.Getenv(EnvSMTPFrom)); from != "" {
		cfg.SMTP.From = from
	}
	if clientID := strings.TrimSpace(os.Getenv(EnvGoogleClientID)); clientID != "" {
		cfg.GoogleClientID = clientID
	}
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		cfg.LogLevel = level
	}
}

func parseDuration(raw string) (time.Duration, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, false
	}
	d, errParse := time.ParseDuration(trimmed)
	if errParse != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
