package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `env:", prefix=SERVER_"`
	MySQL    MySQLConfig    `env:", prefix=MYSQL_"`
	InfluxDB InfluxConfig   `env:", prefix=INFLUXDB_"`
	Redis    RedisConfig    `env:", prefix=REDIS_"`
	NATS     NATSConfig     `env:", prefix=NATS_"`
	Data     DataConfig     `env:", prefix=DATA_"`
	Feed     FeedConfig     `env:", prefix=FEED_"`
	Logging  LoggingConfig  `env:", prefix=LOG_"`
}

// ServerConfig holds status API server configuration
type ServerConfig struct {
	Host         string        `env:"HOST, default=0.0.0.0"`
	Port         int           `env:"PORT, default=8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT, default=120s"`
	CORSEnabled  bool          `env:"CORS_ENABLED, default=true"`
}

// MySQLConfig holds the instrument master database configuration
type MySQLConfig struct {
	Host            string        `env:"HOST, default=localhost"`
	Port            int           `env:"PORT, default=3306"`
	Database        string        `env:"DATABASE, default=instruments"`
	User            string        `env:"USER, default=feed"`
	Password        string        `env:"PASSWORD, default=feed123"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS, default=25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS, default=5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME, default=5m"`
}

// InfluxConfig holds the historical bar store configuration
type InfluxConfig struct {
	URL     string        `env:"URL, default=http://localhost:8086"`
	Token   string        `env:"TOKEN"`
	Org     string        `env:"ORG, default=feed-org"`
	Bucket  string        `env:"BUCKET, default=market-data"`
	Timeout time.Duration `env:"TIMEOUT, default=10s"`
}

// RedisConfig holds the latest-record cache configuration
type RedisConfig struct {
	Host         string        `env:"HOST, default=localhost"`
	Port         int           `env:"PORT, default=6379"`
	Password     string        `env:"PASSWORD"`
	DB           int           `env:"DB, default=0"`
	PoolSize     int           `env:"POOL_SIZE, default=10"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT, default=5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=3s"`
	RecordTTL    time.Duration `env:"RECORD_TTL, default=5m"`
}

// NATSConfig holds the live tick transport configuration
type NATSConfig struct {
	URL           string        `env:"URL, default=nats://localhost:4222"`
	MaxReconnect  int           `env:"MAX_RECONNECT, default=10"`
	ReconnectWait time.Duration `env:"RECONNECT_WAIT, default=2s"`
	DrainTimeout  time.Duration `env:"DRAIN_TIMEOUT, default=30s"`
}

// DataConfig holds raw data source configuration
type DataConfig struct {
	Dir             string        `env:"DIR, default=./data"`
	HandleTTL       time.Duration `env:"HANDLE_TTL, default=1m"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL, default=30s"`
	LiveBufferSize  int           `env:"LIVE_BUFFER_SIZE, default=1024"`
}

// FeedConfig holds synchronizer and universe configuration
type FeedConfig struct {
	MaxSubscriptions  int           `env:"MAX_SUBSCRIPTIONS, default=512"`
	MinimumDwellTime  time.Duration `env:"MINIMUM_DWELL_TIME, default=15m"`
	FillForwardCadence time.Duration `env:"FILL_FORWARD_CADENCE, default=1m"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `env:"LEVEL, default=info"`
	Format string `env:"FORMAT, default=text"`
	Output string `env:"OUTPUT, default=stdout"`
}

// Load loads configuration from environment variables using go-envconfig
func Load() (*Config, error) {
	// Best effort; system environment variables always win.
	LoadDotEnv()

	ctx := context.Background()
	var cfg Config

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Feed.MaxSubscriptions <= 0 {
		return fmt.Errorf("invalid max subscriptions: %d", c.Feed.MaxSubscriptions)
	}

	if c.Feed.FillForwardCadence <= 0 {
		return fmt.Errorf("invalid fill-forward cadence: %s", c.Feed.FillForwardCadence)
	}

	if c.Data.Dir == "" {
		return fmt.Errorf("data directory is required")
	}

	return nil
}

// GetMySQLDSN returns MySQL DSN string
func (c *Config) GetMySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		c.MySQL.User,
		c.MySQL.Password,
		c.MySQL.Host,
		c.MySQL.Port,
		c.MySQL.Database,
	)
}

// GetRedisAddr returns Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// GetServerAddr returns server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
