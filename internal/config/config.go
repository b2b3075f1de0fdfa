package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	DatabaseURL   string   `env:"DATABASE_URL"`
	RunMigrations bool     `env:"RUN_MIGRATIONS,default=true"`
	RedisURL      string   `env:"REDIS_URL"`
	Port          int      `env:"PORT,default=8080"`
	LogLevel      string   `env:"LOG_LEVEL,default=info"`
	LogFormat     string   `env:"LOG_FORMAT,default=json"`
	CORSOrigins   []string `env:"CORS_ORIGINS"`

	// HTTP server timeouts
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT,default=30s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT,default=60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`

	// KeyEnvironment selects the issued secret prefix: sk_live_ or sk_test_.
	KeyEnvironment string `env:"KEY_ENVIRONMENT,default=live"`

	DeliveryTimeout      time.Duration `env:"DELIVERY_TIMEOUT,default=10s"`
	DeliveryMaxRetries   int           `env:"DELIVERY_MAX_RETRIES,default=3"`
	DeliveryBaseDelay    time.Duration `env:"DELIVERY_BASE_DELAY,default=500ms"`
	DeliveryMaxDelay     time.Duration `env:"DELIVERY_MAX_DELAY,default=30s"`
	DeliveryConcurrency  int           `env:"DELIVERY_CONCURRENCY,default=32"`
	WebhookSigningSecret string        `env:"WEBHOOK_SIGNING_SECRET"`
	SuccessRateWindow    int           `env:"SUCCESS_RATE_WINDOW,default=0"`

	SandboxTimeout      time.Duration `env:"SANDBOX_TIMEOUT,default=15s"`
	SandboxMaxBodyBytes int64         `env:"SANDBOX_MAX_BODY_BYTES,default=1048576"`

	GatewayRateLimitMax    int           `env:"GATEWAY_RATE_LIMIT_MAX,default=100"`
	GatewayRateLimitWindow time.Duration `env:"GATEWAY_RATE_LIMIT_WINDOW,default=60s"`

	// Lockout for clients that keep presenting missing or invalid API keys.
	AuthMaxFailures   int           `env:"AUTH_MAX_FAILURES,default=10"`
	AuthFailureWindow time.Duration `env:"AUTH_FAILURE_WINDOW,default=5m"`
	AuthBlockDuration time.Duration `env:"AUTH_BLOCK_DURATION,default=15m"`
}

func Load() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("LOG_FORMAT must be 'json' or 'console', got %q", c.LogFormat)
	}

	if c.KeyEnvironment != "live" && c.KeyEnvironment != "test" {
		return fmt.Errorf("KEY_ENVIRONMENT must be 'live' or 'test', got %q", c.KeyEnvironment)
	}

	if c.DeliveryTimeout <= 0 {
		return fmt.Errorf("DELIVERY_TIMEOUT must be positive")
	}
	if c.DeliveryMaxRetries < 0 || c.DeliveryMaxRetries > 10 {
		return fmt.Errorf("DELIVERY_MAX_RETRIES must be between 0 and 10, got %d", c.DeliveryMaxRetries)
	}
	if c.DeliveryBaseDelay <= 0 {
		return fmt.Errorf("DELIVERY_BASE_DELAY must be positive")
	}
	if c.DeliveryMaxDelay < c.DeliveryBaseDelay {
		return fmt.Errorf("DELIVERY_MAX_DELAY must not be less than DELIVERY_BASE_DELAY")
	}
	if c.DeliveryConcurrency < 1 {
		return fmt.Errorf("DELIVERY_CONCURRENCY must be at least 1, got %d", c.DeliveryConcurrency)
	}
	if c.SuccessRateWindow < 0 {
		return fmt.Errorf("SUCCESS_RATE_WINDOW must not be negative, got %d", c.SuccessRateWindow)
	}

	if c.SandboxTimeout <= 0 {
		return fmt.Errorf("SANDBOX_TIMEOUT must be positive")
	}
	if c.SandboxMaxBodyBytes < 1 {
		return fmt.Errorf("SANDBOX_MAX_BODY_BYTES must be positive, got %d", c.SandboxMaxBodyBytes)
	}

	// Test deliveries and sandbox calls answer within the request.
	if c.DeliveryTimeout >= c.WriteTimeout {
		return fmt.Errorf("DELIVERY_TIMEOUT (%s) must be less than HTTP_WRITE_TIMEOUT (%s)", c.DeliveryTimeout, c.WriteTimeout)
	}
	if c.SandboxTimeout >= c.WriteTimeout {
		return fmt.Errorf("SANDBOX_TIMEOUT (%s) must be less than HTTP_WRITE_TIMEOUT (%s)", c.SandboxTimeout, c.WriteTimeout)
	}

	if c.GatewayRateLimitMax < 1 || c.GatewayRateLimitMax > 10000 {
		return fmt.Errorf("GATEWAY_RATE_LIMIT_MAX must be between 1 and 10000, got %d", c.GatewayRateLimitMax)
	}
	if c.GatewayRateLimitWindow < time.Second || c.GatewayRateLimitWindow > 24*time.Hour {
		return fmt.Errorf("GATEWAY_RATE_LIMIT_WINDOW must be between 1s and 24h, got %s", c.GatewayRateLimitWindow)
	}

	if c.AuthMaxFailures < 1 {
		return fmt.Errorf("AUTH_MAX_FAILURES must be at least 1, got %d", c.AuthMaxFailures)
	}
	if c.AuthFailureWindow <= 0 {
		return fmt.Errorf("AUTH_FAILURE_WINDOW must be positive")
	}
	if c.AuthBlockDuration <= 0 {
		return fmt.Errorf("AUTH_BLOCK_DURATION must be positive")
	}

	return nil
}

// UsesMemoryStore reports whether no database is configured.
func (c *Config) UsesMemoryStore() bool {
	return c.DatabaseURL == ""
}

// KeyPrefix returns the prefix prepended to newly issued secrets.
func (c *Config) KeyPrefix() string {
	if c.KeyEnvironment == "test" {
		return "sk_test_"
	}
	return "sk_live_"
}
