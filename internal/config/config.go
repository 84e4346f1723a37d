package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. WABAFLOW_DATABASE_DSN.
const EnvPrefix = "WABAFLOW"

var (
	ErrInvalidDriver      = errors.New("invalid database driver")
	ErrInvalidMaxSteps    = errors.New("engine.max_steps must be at least 1")
	ErrInvalidPolicy      = errors.New("invalid engine policy")
	ErrInvalidConcurrency = errors.New("worker.concurrency must be at least 1")
)

// Drivers accepted by database.driver.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the configuration for the application.
type Config struct {
	Service struct {
		Name string `mapstructure:"name"`
	} `mapstructure:"service"`
	HTTP struct {
		Addr        string `mapstructure:"addr"`
		VerifyToken string `mapstructure:"verify_token"`
	} `mapstructure:"http"`
	Database struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Prefix   string `mapstructure:"prefix"`
	} `mapstructure:"redis"`
	Engine struct {
		MaxSteps       int           `mapstructure:"max_steps"`
		DanglingPolicy string        `mapstructure:"dangling_policy"`
		QuestionPolicy string        `mapstructure:"question_policy"`
		LockTTL        time.Duration `mapstructure:"lock_ttl"`
	} `mapstructure:"engine"`
	Worker struct {
		Concurrency  int           `mapstructure:"concurrency"`
		MaxAttempts  int           `mapstructure:"max_attempts"`
		RetryBackoff time.Duration `mapstructure:"retry_backoff"`
		PollInterval time.Duration `mapstructure:"poll_interval"`
	} `mapstructure:"worker"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Input struct {
		MaxSize int `mapstructure:"max_size"`
	} `mapstructure:"input"`
}

// RedisEnabled reports whether a Redis address is configured.
// Without one, locks are in-process and the inbound queue lives in memory.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

// New returns a viper instance with defaults and environment overrides set up.
// Callers may bind command flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("service.name", "waba-flow")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.verify_token", "")
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "./dev.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "wabaflow:")
	v.SetDefault("engine.max_steps", 100)
	v.SetDefault("engine.dangling_policy", "close")
	v.SetDefault("engine.question_policy", "early_answer")
	v.SetDefault("engine.lock_ttl", 30*time.Second)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.max_attempts", 5)
	v.SetDefault("worker.retry_backoff", 2*time.Second)
	v.SetDefault("worker.poll_interval", 200*time.Millisecond)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("input.max_size", 4096)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration. If file is empty, wabaflow.yaml is searched in
// "." and "./config" and its absence is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("wabaflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("%w: %q (want memory, sqlite or postgres)", ErrInvalidDriver, c.Database.Driver)
	}
	if c.Engine.MaxSteps < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxSteps, c.Engine.MaxSteps)
	}
	switch c.Engine.DanglingPolicy {
	case "close", "escalate":
	default:
		return fmt.Errorf("%w: dangling_policy %q", ErrInvalidPolicy, c.Engine.DanglingPolicy)
	}
	switch c.Engine.QuestionPolicy {
	case "early_answer", "ask_first":
	default:
		return fmt.Errorf("%w: question_policy %q", ErrInvalidPolicy, c.Engine.QuestionPolicy)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidConcurrency, c.Worker.Concurrency)
	}
	return nil
}
