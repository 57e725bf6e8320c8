package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/account-security/internal/model"
)

const envPrefix = "ACCTSEC"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	History   HistoryConfig   `mapstructure:"history"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Hasher    HasherConfig    `mapstructure:"hasher"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Log       LogConfig       `mapstructure:"log"`
	Worker    WorkerConfig    `mapstructure:"worker"`

	// Lockout comes from the legacy environment names shared with the
	// login-attempt tracker, not from viper.
	Lockout LockoutConfig `mapstructure:"-"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Mode            string        `mapstructure:"mode"`
}

type DatabaseConfig struct {
	// DSN, when set, is used as is instead of the individual fields.
	DSN          string `mapstructure:"dsn"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	URL          string `mapstructure:"url"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	MaxRetries   int    `mapstructure:"max_retries"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
	Issuer      string `mapstructure:"issuer"`
}

type PolicyConfig struct {
	MinLength           int      `mapstructure:"min_length"`
	MaxLength           int      `mapstructure:"max_length"`
	RequireUppercase    bool     `mapstructure:"require_uppercase"`
	RequireLowercase    bool     `mapstructure:"require_lowercase"`
	RequireNumbers      bool     `mapstructure:"require_numbers"`
	RequireSpecialChars bool     `mapstructure:"require_special_chars"`
	SpecialChars        string   `mapstructure:"special_chars"`
	BlockedPasswords    []string `mapstructure:"blocked_passwords"`
	HistoryCount        int      `mapstructure:"history_count"`
}

// ToModel returns the immutable policy value handed to the engine and the
// history service. An empty deny-list falls back to the built-in one.
func (c PolicyConfig) ToModel() model.PasswordPolicy {
	blocked := c.BlockedPasswords
	if len(blocked) == 0 {
		blocked = model.DefaultBlockedPasswords
	}
	return model.PasswordPolicy{
		MinLength:           c.MinLength,
		MaxLength:           c.MaxLength,
		RequireUppercase:    c.RequireUppercase,
		RequireLowercase:    c.RequireLowercase,
		RequireNumbers:      c.RequireNumbers,
		RequireSpecialChars: c.RequireSpecialChars,
		AllowedSpecialChars: c.SpecialChars,
		BlockedPasswords:    append([]string(nil), blocked...),
		HistoryCount:        c.HistoryCount,
	}.Clone()
}

type HistoryConfig struct {
	Driver  string        `mapstructure:"driver"`
	Timeout time.Duration `mapstructure:"timeout"`
	Prefix  string        `mapstructure:"prefix"`

	BreakerMaxFailures int           `mapstructure:"breaker_max_failures"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
}

type AuditConfig struct {
	Sink           string        `mapstructure:"sink"`
	FilePath       string        `mapstructure:"file_path"`
	Channel        string        `mapstructure:"channel"`
	Timeout        time.Duration `mapstructure:"timeout"`
	FallbackBuffer int           `mapstructure:"fallback_buffer"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
}

type HasherConfig struct {
	Algorithm  string `mapstructure:"algorithm"`
	BcryptCost int    `mapstructure:"bcrypt_cost"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type SMTPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type WorkerConfig struct {
	Port          int           `mapstructure:"port"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// LockoutConfig is read with envconfig from MAX_LOGIN_ATTEMPTS and
// LOCKOUT_DURATION_MINUTES.
type LockoutConfig struct {
	MaxAttempts     int `envconfig:"MAX_LOGIN_ATTEMPTS" default:"5"`
	DurationMinutes int `envconfig:"LOCKOUT_DURATION_MINUTES" default:"15"`
}

func (c LockoutConfig) ToModel() model.LockoutPolicy {
	return model.LockoutPolicy{MaxAttempts: c.MaxAttempts, DurationMinutes: c.DurationMinutes}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "account_security")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.max_retries", 3)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry_hours", 24)
	v.SetDefault("jwt.issuer", "account-security")

	def := model.DefaultPasswordPolicy()
	v.SetDefault("policy.min_length", def.MinLength)
	v.SetDefault("policy.max_length", def.MaxLength)
	v.SetDefault("policy.require_uppercase", def.RequireUppercase)
	v.SetDefault("policy.require_lowercase", def.RequireLowercase)
	v.SetDefault("policy.require_numbers", def.RequireNumbers)
	v.SetDefault("policy.require_special_chars", def.RequireSpecialChars)
	v.SetDefault("policy.special_chars", model.DefaultSpecialChars)
	v.SetDefault("policy.history_count", def.HistoryCount)

	v.SetDefault("history.driver", "postgres")
	v.SetDefault("history.timeout", 2*time.Second)
	v.SetDefault("history.prefix", "pwh")
	v.SetDefault("history.breaker_max_failures", 5)
	v.SetDefault("history.breaker_timeout", 10*time.Second)

	v.SetDefault("audit.sink", "file")
	v.SetDefault("audit.file_path", "security_audit.log")
	v.SetDefault("audit.channel", "audit.events")
	v.SetDefault("audit.timeout", 2*time.Second)
	v.SetDefault("audit.fallback_buffer", 1000)
	v.SetDefault("audit.retry_interval", time.Second)

	v.SetDefault("hasher.algorithm", "bcrypt")
	v.SetDefault("hasher.bcrypt_cost", 12)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 5.0)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.port", 587)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)

	v.SetDefault("worker.port", 8081)
	v.SetDefault("worker.retry_attempts", 3)
	v.SetDefault("worker.retry_delay", time.Second)
}

// LoadConfig reads config.yml from the usual locations if present, then
// applies ACCTSEC_ prefixed environment overrides (ACCTSEC_POLICY_MIN_LENGTH
// sets policy.min_length) and finally the lockout environment.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app/config")
	return load(v)
}

// LoadFile is LoadConfig with an explicit config file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Lockout); err != nil {
		return nil, fmt.Errorf("failed to read lockout config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	p := c.Policy
	switch {
	case p.MinLength < 1:
		return fmt.Errorf("policy.min_length must be at least 1, got %d", p.MinLength)
	case p.MaxLength < p.MinLength:
		return fmt.Errorf("policy.max_length (%d) must not be below policy.min_length (%d)", p.MaxLength, p.MinLength)
	case p.HistoryCount < 0:
		return fmt.Errorf("policy.history_count must not be negative, got %d", p.HistoryCount)
	case p.RequireSpecialChars && p.SpecialChars == "":
		return errors.New("policy.special_chars must not be empty when special characters are required")
	}

	switch c.History.Driver {
	case "postgres", "redis", "memory":
	default:
		return fmt.Errorf("unknown history.driver %q", c.History.Driver)
	}
	if c.History.Timeout <= 0 {
		return errors.New("history.timeout must be positive")
	}

	switch c.Audit.Sink {
	case "file":
		if c.Audit.FilePath == "" {
			return errors.New("audit.file_path is required for the file sink")
		}
	case "stdout", "redis", "postgres":
	default:
		return fmt.Errorf("unknown audit.sink %q", c.Audit.Sink)
	}

	switch c.Hasher.Algorithm {
	case "bcrypt", "argon2id":
	default:
		return fmt.Errorf("unknown hasher.algorithm %q", c.Hasher.Algorithm)
	}

	if c.Lockout.MaxAttempts < 1 {
		return fmt.Errorf("MAX_LOGIN_ATTEMPTS must be at least 1, got %d", c.Lockout.MaxAttempts)
	}
	if c.Lockout.DurationMinutes < 1 {
		return fmt.Errorf("LOCKOUT_DURATION_MINUTES must be at least 1, got %d", c.Lockout.DurationMinutes)
	}
	return nil
}
