package domain

import "time"

// Config holds the complete Heron configuration. It is constructed once in
// main and passed explicitly into each component's constructor; no component
// reads configuration on its own.
type Config struct {
	Tier Tier `json:"tier"`

	Server   ServerConfig   `json:"server"`
	Analysis AnalysisConfig `json:"analysis"`

	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// AnalysisConfig holds the knobs of the RFM/CLV pipeline.
type AnalysisConfig struct {
	// PenalizerCoef is the regularization strength for both model fits.
	// Must be > 0 to guard against ill-conditioned fits on sparse data.
	PenalizerCoef float64 `json:"penalizerCoef"`

	// ProjectionPeriods is the CLV horizon in 30-day periods.
	ProjectionPeriods int `json:"projectionPeriods"`

	// DiscountRate is the per-period discount rate, typically in [0, 1).
	DiscountRate float64 `json:"discountRate"`

	// UseQuartiles selects data-dependent quartile scoring; when false the
	// fixed break tables are used instead.
	UseQuartiles bool `json:"useQuartiles"`
}

// ServerConfig configures the HTTP listener. Timeouts are in seconds.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`
	WriteTimeout int    `json:"writeTimeout"`
}

// LoggingConfig selects the slog level and output format.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug | info | warn | error
	Format string `json:"format"` // json | text
}

// TracingConfig configures the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout | otlp | jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier selects which backing services a deployment runs against.
type Tier string

const (
	// TierCommunity runs on SQLite, in-process channels and a local cache.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, NATS and Redis.
	TierPro Tier = "pro"
)

// DefaultConfig returns the Community tier defaults: a single binary with
// no external services.
func DefaultConfig() *Config {
	return &Config{
		Tier: TierCommunity,
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Analysis: AnalysisConfig{
			PenalizerCoef:     0.001,
			ProjectionPeriods: 12,
			DiscountRate:      0.01,
			UseQuartiles:      true,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./heron.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			ServiceName: "heron",
		},
	}
}

// ProConfig returns the Pro tier defaults, pointing every backing service
// at localhost so a docker-compose stack works out of the box.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "heron",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		LocalMaxSize:   1000,
		EnableTwoPhase: true,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
