package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/database"
)

// EnvPrefix prefixes every environment variable, e.g. BOOKING_DATABASE_HOST.
const EnvPrefix = "BOOKING"

// ServiceConfig holds all configuration for the sitter booking service.
type ServiceConfig struct {
	AppEnv    string
	Version   string
	Server    ServerConfig
	Database  database.PostgresConfig
	JWT       JWTConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Gateway   GatewayConfig
	Escrow    EscrowConfig
	Scheduler SchedulerConfig
	Tracing   TracingConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
	IdempotencyTTL  time.Duration
}

// JWTConfig holds token verification settings.
type JWTConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// KafkaConfig holds broker settings. Empty brokers disable publishing and
// the gateway event consumer.
type KafkaConfig struct {
	Brokers     []string
	GroupPrefix string
}

// RedisConfig holds the lock and idempotency store. An empty address falls
// back to in-process implementations.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// GatewayConfig selects and configures the payment processor.
type GatewayConfig struct {
	// Provider is "omise" or "sandbox".
	Provider        string
	OmisePublicKey  string
	OmiseSecretKey  string
	Timeout         time.Duration
	LockWaitTimeout time.Duration
}

// EscrowConfig holds the fund-holding rules.
type EscrowConfig struct {
	HoldWindow            time.Duration
	CommissionBasisPoints int64
	ConfirmationTimeout   time.Duration
	ConfirmationAction    string
	ReviewThreshold       int
	PendingAfter          time.Duration
}

// SchedulerConfig tunes the background sweeps.
type SchedulerConfig struct {
	Enabled        bool
	Interval       time.Duration
	BatchSize      int
	StartBookings  bool
	ReleaseRetries uint64
	RetryInitial   time.Duration
	RetryMax       time.Duration
	GatewayRPS     float64
	GatewayBurst   int
}

// TracingConfig configures OTLP export. An empty endpoint disables tracing.
type TracingConfig struct {
	Endpoint string
}

// Load reads configuration from an optional .env file and the environment.
func Load() (*ServiceConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.version", "dev")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.idempotency_ttl", 24*time.Hour)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "sitter_booking")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_ttl", 15*time.Minute)
	v.SetDefault("jwt.refresh_ttl", 7*24*time.Hour)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.group_prefix", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 2*time.Minute)

	v.SetDefault("gateway.provider", "sandbox")
	v.SetDefault("gateway.omise_public_key", "")
	v.SetDefault("gateway.omise_secret_key", "")
	v.SetDefault("gateway.timeout", 10*time.Second)
	v.SetDefault("gateway.lock_wait_timeout", 30*time.Second)

	v.SetDefault("escrow.hold_window", 72*time.Hour)
	v.SetDefault("escrow.commission_bps", 1500)
	v.SetDefault("escrow.confirmation_timeout", 7*24*time.Hour)
	v.SetDefault("escrow.confirmation_action", "nudge")
	v.SetDefault("escrow.review_threshold", 3)
	v.SetDefault("escrow.pending_after", 10*time.Minute)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", 2*time.Minute)
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.start_bookings", false)
	v.SetDefault("scheduler.release_retries", 3)
	v.SetDefault("scheduler.retry_initial", 500*time.Millisecond)
	v.SetDefault("scheduler.retry_max", 10*time.Second)
	v.SetDefault("scheduler.gateway_rps", 5.0)
	v.SetDefault("scheduler.gateway_burst", 5)

	v.SetDefault("tracing.endpoint", "")
}

// FromViper builds and validates a ServiceConfig from v.
func FromViper(v *viper.Viper) (*ServiceConfig, error) {
	cfg := &ServiceConfig{
		AppEnv:  v.GetString("app.env"),
		Version: v.GetString("app.version"),
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			IdempotencyTTL:  v.GetDuration("server.idempotency_ttl"),
		},
		Database: database.PostgresConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.name"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			AccessTTL:  v.GetDuration("jwt.access_ttl"),
			RefreshTTL: v.GetDuration("jwt.refresh_ttl"),
		},
		Kafka: KafkaConfig{
			Brokers:     splitList(v.GetString("kafka.brokers")),
			GroupPrefix: v.GetString("kafka.group_prefix"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			LockTTL:  v.GetDuration("redis.lock_ttl"),
		},
		Gateway: GatewayConfig{
			Provider:        strings.ToLower(v.GetString("gateway.provider")),
			OmisePublicKey:  v.GetString("gateway.omise_public_key"),
			OmiseSecretKey:  v.GetString("gateway.omise_secret_key"),
			Timeout:         v.GetDuration("gateway.timeout"),
			LockWaitTimeout: v.GetDuration("gateway.lock_wait_timeout"),
		},
		Escrow: EscrowConfig{
			HoldWindow:            v.GetDuration("escrow.hold_window"),
			CommissionBasisPoints: v.GetInt64("escrow.commission_bps"),
			ConfirmationTimeout:   v.GetDuration("escrow.confirmation_timeout"),
			ConfirmationAction:    v.GetString("escrow.confirmation_action"),
			ReviewThreshold:       v.GetInt("escrow.review_threshold"),
			PendingAfter:          v.GetDuration("escrow.pending_after"),
		},
		Scheduler: SchedulerConfig{
			Enabled:        v.GetBool("scheduler.enabled"),
			Interval:       v.GetDuration("scheduler.interval"),
			BatchSize:      v.GetInt("scheduler.batch_size"),
			StartBookings:  v.GetBool("scheduler.start_bookings"),
			ReleaseRetries: v.GetUint64("scheduler.release_retries"),
			RetryInitial:   v.GetDuration("scheduler.retry_initial"),
			RetryMax:       v.GetDuration("scheduler.retry_max"),
			GatewayRPS:     v.GetFloat64("scheduler.gateway_rps"),
			GatewayBurst:   v.GetInt("scheduler.gateway_burst"),
		},
		Tracing: TracingConfig{
			Endpoint: v.GetString("tracing.endpoint"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *ServiceConfig) Validate() error {
	var errs []error
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	switch c.Gateway.Provider {
	case "sandbox":
		if c.AppEnv == "production" {
			errs = append(errs, errors.New("gateway.provider sandbox is not allowed in production"))
		}
	case "omise":
		if c.Gateway.OmisePublicKey == "" || c.Gateway.OmiseSecretKey == "" {
			errs = append(errs, errors.New("gateway omise keys are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown gateway.provider %q", c.Gateway.Provider))
	}
	if c.Escrow.CommissionBasisPoints < 0 || c.Escrow.CommissionBasisPoints > 10000 {
		errs = append(errs, fmt.Errorf("escrow.commission_bps must be within 0..10000, got %d", c.Escrow.CommissionBasisPoints))
	}
	if c.Escrow.HoldWindow < 0 {
		errs = append(errs, errors.New("escrow.hold_window must not be negative"))
	}
	switch c.Escrow.ConfirmationAction {
	case "nudge", "auto_confirm":
	default:
		errs = append(errs, fmt.Errorf("unknown escrow.confirmation_action %q", c.Escrow.ConfirmationAction))
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval must be positive"))
	}
	return errors.Join(errs...)
}

// KafkaEnabled reports whether brokers are configured.
func (c *ServiceConfig) KafkaEnabled() bool { return len(c.Kafka.Brokers) > 0 }

// RedisEnabled reports whether a Redis address is configured.
func (c *ServiceConfig) RedisEnabled() bool { return c.Redis.Addr != "" }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
