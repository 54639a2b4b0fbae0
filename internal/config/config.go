package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every runtime tunable for the gateway. Values are read from the
// environment with the FLOWGATE_ prefix; main loads a .env file first so local
// development works without exporting anything.
type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	DatabaseURL string `envconfig:"DB_URL" required:"true"`
	RedisURL    string `envconfig:"REDIS_URL" required:"true"`

	// AmqpURL is optional: when empty the notification sink is a no-op.
	AmqpURL      string `envconfig:"AMQP_URL"`
	AmqpExchange string `envconfig:"AMQP_EXCHANGE" default:"flowgate.sessions"`

	Session  SessionConfig  `envconfig:"SESSION"`
	Dispatch DispatchConfig `envconfig:"DISPATCH"`
	Provider ProviderConfig `envconfig:"PROVIDER"`
}

// ProviderConfig holds the transport endpoint per provider kind. A kind
// with an empty endpoint simply cannot be started.
type ProviderConfig struct {
	SocketEndpoint  string `envconfig:"SOCKET_ENDPOINT" default:"ws://localhost:9443/ws"`
	CloudEndpoint   string `envconfig:"CLOUD_ENDPOINT"`
	GatewayEndpoint string `envconfig:"GATEWAY_ENDPOINT"`
}

// SessionConfig tunes the session orchestrator.
type SessionConfig struct {
	ReconnectDelay       time.Duration `envconfig:"RECONNECT_DELAY" default:"5s"`
	MaxReconnectAttempts int           `envconfig:"MAX_RECONNECT_ATTEMPTS" default:"5"`
	ArtifactTTL          time.Duration `envconfig:"ARTIFACT_TTL" default:"2m"`
	LivenessTTL          time.Duration `envconfig:"LIVENESS_TTL" default:"30s"`
}

// DispatchConfig tunes the per-tenant ordered queue. MaxAttempts counts
// total tries per job, the first delivery included.
type DispatchConfig struct {
	MaxAttempts         int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay      time.Duration `envconfig:"RETRY_BASE_DELAY" default:"2s"`
	JobsPerSecond       int           `envconfig:"JOBS_PER_SECOND" default:"10"`
	MaintenanceInterval time.Duration `envconfig:"MAINTENANCE_INTERVAL" default:"30s"`
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("flowgate", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.Session.MaxReconnectAttempts <= 0 {
		return Config{}, fmt.Errorf("config: SESSION_MAX_RECONNECT_ATTEMPTS must be positive")
	}
	if cfg.Dispatch.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("config: DISPATCH_MAX_ATTEMPTS must be at least 1")
	}
	return cfg, nil
}
