package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Gateway struct {
		Path             string        `yaml:"path"`
		PingInterval     time.Duration `yaml:"ping_interval"`
		PongTimeout      time.Duration `yaml:"pong_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		SendBufferSize   int           `yaml:"send_buffer_size"`
		MaxContentLength int           `yaml:"max_content_length"`
		OperationTimeout time.Duration `yaml:"operation_timeout"`
	} `yaml:"gateway"`

	Storage struct {
		Driver      string `yaml:"driver"`
		PostgresURL string `yaml:"postgres_url"`
		SQLitePath  string `yaml:"sqlite_path"`
		SeedFile    string `yaml:"seed_file"`
	} `yaml:"storage"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		TokenTTL       time.Duration `yaml:"token_ttl"`
		SessionCookie  string        `yaml:"session_cookie"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	Reliability struct {
		CircuitBreaker struct {
			FailureThreshold    int           `yaml:"failure_threshold"`
			SuccessThreshold    int           `yaml:"success_threshold"`
			OpenTimeout         time.Duration `yaml:"open_timeout"`
			MaxRequestsHalfOpen int           `yaml:"max_requests_half_open"`
		} `yaml:"circuit_breaker"`
		Retry struct {
			Enabled      bool          `yaml:"enabled"`
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
		} `yaml:"retry"`
	} `yaml:"reliability"`

	Cache struct {
		UserTTL time.Duration `yaml:"user_ttl"`
	} `yaml:"cache"`

	History struct {
		DefaultLimit int `yaml:"default_limit"`
		MaxLimit     int `yaml:"max_limit"`
	} `yaml:"history"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`

		WebSocket struct {
			ConnectionsPerMinute int     `yaml:"connections_per_minute"`
			MessagesPerSecond    float64 `yaml:"messages_per_second"`
			Burst                int     `yaml:"burst"`
			MaxConcurrent        int     `yaml:"max_concurrent_connections"`
			MaxMessageSizeBytes  int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Gateway.Path == "" {
		return fmt.Errorf("gateway.path must not be empty")
	}
	if c.Gateway.PingInterval <= 0 {
		return fmt.Errorf("gateway.ping_interval must be > 0")
	}
	if c.Gateway.PongTimeout <= c.Gateway.PingInterval {
		return fmt.Errorf("gateway.pong_timeout must be greater than gateway.ping_interval")
	}
	if c.Gateway.WriteTimeout <= 0 {
		return fmt.Errorf("gateway.write_timeout must be > 0")
	}
	if c.Gateway.SendBufferSize <= 0 {
		return fmt.Errorf("gateway.send_buffer_size must be > 0")
	}
	if c.Gateway.MaxContentLength <= 0 {
		return fmt.Errorf("gateway.max_content_length must be > 0")
	}
	if c.Gateway.OperationTimeout <= 0 {
		return fmt.Errorf("gateway.operation_timeout must be > 0")
	}

	switch c.Storage.Driver {
	case StorageMemory, StorageRedis:
	case StoragePostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgres_url must not be empty when storage.driver=postgres")
		}
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path must not be empty when storage.driver=sqlite")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}

	if c.Storage.Driver == StorageRedis {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when storage.driver=redis")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when storage.driver=redis")
		}
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}
	if c.Auth.SessionCookie == "" {
		return fmt.Errorf("auth.session_cookie must not be empty")
	}

	cb := c.Reliability.CircuitBreaker
	if cb.FailureThreshold <= 0 || cb.SuccessThreshold <= 0 || cb.MaxRequestsHalfOpen <= 0 {
		return fmt.Errorf("reliability.circuit_breaker thresholds must be > 0")
	}
	if cb.OpenTimeout <= 0 {
		return fmt.Errorf("reliability.circuit_breaker.open_timeout must be > 0")
	}
	if c.Reliability.Retry.Enabled {
		if c.Reliability.Retry.MaxAttempts < 0 {
			return fmt.Errorf("reliability.retry.max_attempts must be >= 0")
		}
		if c.Reliability.Retry.InitialDelay <= 0 || c.Reliability.Retry.MaxDelay < c.Reliability.Retry.InitialDelay {
			return fmt.Errorf("reliability.retry delays must be > 0 and max_delay >= initial_delay")
		}
	}

	if c.Cache.UserTTL <= 0 {
		return fmt.Errorf("cache.user_ttl must be > 0")
	}

	if c.History.DefaultLimit <= 0 {
		return fmt.Errorf("history.default_limit must be > 0")
	}
	if c.History.MaxLimit < c.History.DefaultLimit {
		return fmt.Errorf("history.max_limit must be >= history.default_limit")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.websocket.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes <= 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
// A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Gateway.Path = "/ws"
	cfg.Gateway.PingInterval = 25 * time.Second
	cfg.Gateway.PongTimeout = 60 * time.Second
	cfg.Gateway.WriteTimeout = 10 * time.Second
	cfg.Gateway.SendBufferSize = 256
	cfg.Gateway.MaxContentLength = 4000
	cfg.Gateway.OperationTimeout = 3 * time.Second

	cfg.Storage.Driver = StorageMemory
	cfg.Storage.SQLitePath = "groupchat.db"

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.TokenTTL = 24 * time.Hour
	cfg.Auth.SessionCookie = "session_token"
	cfg.Auth.AllowedOrigins = []string{"*"}

	cfg.Reliability.CircuitBreaker.FailureThreshold = 5
	cfg.Reliability.CircuitBreaker.SuccessThreshold = 2
	cfg.Reliability.CircuitBreaker.OpenTimeout = 10 * time.Second
	cfg.Reliability.CircuitBreaker.MaxRequestsHalfOpen = 3
	cfg.Reliability.Retry.Enabled = true
	cfg.Reliability.Retry.MaxAttempts = 2
	cfg.Reliability.Retry.InitialDelay = 50 * time.Millisecond
	cfg.Reliability.Retry.MaxDelay = 500 * time.Millisecond

	cfg.Cache.UserTTL = 30 * time.Second

	cfg.History.DefaultLimit = 50
	cfg.History.MaxLimit = 200

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 20
	cfg.RateLimiting.WebSocket.Burst = 40
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("GROUPCHAT_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("GROUPCHAT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("GROUPCHAT_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if driver := os.Getenv("GROUPCHAT_STORAGE_DRIVER"); driver != "" {
		c.Storage.Driver = driver
	}
	if url := os.Getenv("GROUPCHAT_POSTGRES_URL"); url != "" {
		c.Storage.PostgresURL = url
	}
	if path := os.Getenv("GROUPCHAT_SQLITE_PATH"); path != "" {
		c.Storage.SQLitePath = path
	}
	if seed := os.Getenv("GROUPCHAT_SEED_FILE"); seed != "" {
		c.Storage.SeedFile = seed
	}
	if addr := os.Getenv("GROUPCHAT_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if pw := os.Getenv("GROUPCHAT_REDIS_PASSWORD"); pw != "" {
		c.Redis.Password = pw
	}
	if db := os.Getenv("GROUPCHAT_REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			c.Redis.DB = n
		}
	}
}
