// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with CHAINPULSE_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables:
//   - MYSQL_DSN or CHAINPULSE_DATA_DATABASE_SOURCE: MySQL connection string
//   - OPS_API_KEY or CHAINPULSE_AUTH_API_KEY: ops endpoint API key
//   - ENCRYPTION_KEY or CHAINPULSE_AUTH_ENCRYPTION_KEY: snapshot encryption key
//     (only when data.snapshot.encrypt is enabled)
//
// Parameters:
//   - configPath: Path to the configuration file or directory
//
// Returns:
//   - *Bootstrap: Loaded configuration
//   - error: Configuration loading or validation error
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with CHAINPULSE_ prefix
	v.SetEnvPrefix("CHAINPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without CHAINPULSE_ prefix) for compatibility
	// Bind specific environment variables for required fields
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "CHAINPULSE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "CHAINPULSE_DATA_REDIS_ADDR")
	_ = v.BindEnv("auth.api.key", "OPS_API_KEY", "CHAINPULSE_AUTH_API_KEY")
	_ = v.BindEnv("auth.encryption.key", "ENCRYPTION_KEY", "CHAINPULSE_AUTH_ENCRYPTION_KEY")
	_ = v.BindEnv("telemetry.environment", "CHAINPULSE_ENV", "CHAINPULSE_TELEMETRY_ENVIRONMENT")
	_ = v.BindEnv("telemetry.sink.auth_token", "TELEMETRY_SINK_TOKEN", "CHAINPULSE_TELEMETRY_SINK_AUTH_TOKEN")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// If config file is specified but not found, return error
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Parse configuration into Bootstrap structure
	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
			Grpc: &Server_GRPC{
				Network: v.GetString("server.grpc.network"),
				Addr:    v.GetString("server.grpc.addr"),
				Timeout: durationpb.New(v.GetDuration("server.grpc.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
			Snapshot: &Data_Snapshot{
				LruSize: v.GetInt32("data.snapshot.lru_size"),
				Ttl:     durationpb.New(v.GetDuration("data.snapshot.ttl")),
				Encrypt: v.GetBool("data.snapshot.encrypt"),
			},
		},
		Auth: &Auth{
			Api: &Auth_API{
				Key: v.GetString("auth.api.key"),
			},
			Encryption: &Auth_Encryption{
				Key: v.GetString("auth.encryption.key"),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
		Telemetry: &Telemetry{
			Environment: v.GetString("telemetry.environment"),
			Sink: &Telemetry_Sink{
				Enabled:       v.GetBool("telemetry.sink.enabled"),
				LogsUrl:       v.GetString("telemetry.sink.logs_url"),
				MetricsUrl:    v.GetString("telemetry.sink.metrics_url"),
				ErrorsUrl:     v.GetString("telemetry.sink.errors_url"),
				AuthToken:     v.GetString("telemetry.sink.auth_token"),
				ProxyUrl:      v.GetString("telemetry.sink.proxy_url"),
				Timeout:       durationpb.New(v.GetDuration("telemetry.sink.timeout")),
				FlushInterval: durationpb.New(v.GetDuration("telemetry.sink.flush_interval")),
				BatchSize:     v.GetInt32("telemetry.sink.batch_size"),
			},
		},
		Resilience: &Resilience{
			FailureThreshold: v.GetInt32("resilience.failure_threshold"),
			RecoveryTimeout:  durationpb.New(v.GetDuration("resilience.recovery_timeout")),
			MonitoringWindow: durationpb.New(v.GetDuration("resilience.monitoring_window")),
			SuccessThreshold: v.GetInt32("resilience.success_threshold"),
			FallbackEnabled:  v.GetBool("resilience.fallback_enabled"),
		},
		ColdStart: &ColdStart{
			Progressive:       v.GetBool("coldstart.progressive"),
			BatchSize:         v.GetInt32("coldstart.batch_size"),
			BatchInterval:     durationpb.New(v.GetDuration("coldstart.batch_interval")),
			LoadTimeout:       durationpb.New(v.GetDuration("coldstart.load_timeout")),
			SlowLoadThreshold: durationpb.New(v.GetDuration("coldstart.slow_load_threshold")),
			CacheWarming: &ColdStart_CacheWarming{
				Enabled:           v.GetBool("coldstart.cache_warming.enabled"),
				BackgroundRefresh: v.GetBool("coldstart.cache_warming.background_refresh"),
				WarmupServices:    v.GetStringSlice("coldstart.cache_warming.warmup_services"),
				Delay:             durationpb.New(v.GetDuration("coldstart.cache_warming.delay")),
				Cron:              v.GetString("coldstart.cache_warming.cron"),
			},
		},
		Upstream: &Upstream{
			ProbeTimeout:  durationpb.New(v.GetDuration("upstream.probe_timeout")),
			ProxyUrl:      v.GetString("upstream.proxy_url"),
			MarketDataUrl: v.GetString("upstream.market_data_url"),
			PortfolioUrl:  v.GetString("upstream.portfolio_url"),
			NftMarketUrl:  v.GetString("upstream.nft_market_url"),
			SentimentUrl:  v.GetString("upstream.sentiment_url"),
		},
	}

	// Validate required fields
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	v.SetDefault("server.grpc.network", "tcp")
	v.SetDefault("server.grpc.addr", ":9000")
	v.SetDefault("server.grpc.timeout", 30*time.Second)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	v.SetDefault("data.snapshot.lru_size", 128)
	v.SetDefault("data.snapshot.ttl", 24*time.Hour)
	v.SetDefault("data.snapshot.encrypt", false)

	// Auth defaults
	// Note: auth.api.key (OPS_API_KEY) is required from environment

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.environment", "production")
	v.SetDefault("telemetry.sink.enabled", false)
	v.SetDefault("telemetry.sink.timeout", 5*time.Second)
	v.SetDefault("telemetry.sink.flush_interval", 30*time.Second)
	v.SetDefault("telemetry.sink.batch_size", 64)

	// Resilience defaults
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.recovery_timeout", 30*time.Second)
	v.SetDefault("resilience.monitoring_window", 60*time.Second)
	v.SetDefault("resilience.success_threshold", 3)
	v.SetDefault("resilience.fallback_enabled", true)

	// Cold start defaults
	v.SetDefault("coldstart.progressive", true)
	v.SetDefault("coldstart.batch_size", 3)
	v.SetDefault("coldstart.batch_interval", time.Second)
	v.SetDefault("coldstart.load_timeout", 10*time.Second)
	v.SetDefault("coldstart.slow_load_threshold", 3*time.Second)

	v.SetDefault("coldstart.cache_warming.enabled", true)
	v.SetDefault("coldstart.cache_warming.background_refresh", true)
	v.SetDefault("coldstart.cache_warming.warmup_services", []string{"market-data", "sentiment"})
	v.SetDefault("coldstart.cache_warming.delay", 5*time.Second)
	v.SetDefault("coldstart.cache_warming.cron", "")

	// Upstream defaults
	v.SetDefault("upstream.probe_timeout", 5*time.Second)
	v.SetDefault("upstream.market_data_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("upstream.portfolio_url", "https://portfolio.chainpulse.internal")
	v.SetDefault("upstream.nft_market_url", "https://api.opensea.io/api/v2")
	v.SetDefault("upstream.sentiment_url", "https://sentiment.chainpulse.internal")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing required fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	// Check required database configuration
	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		missingFields = append(missingFields, "data.database.source (MYSQL_DSN)")
	}

	// Check required auth configuration
	if bc.Auth == nil || bc.Auth.Api == nil || bc.Auth.Api.Key == "" {
		missingFields = append(missingFields, "auth.api.key (OPS_API_KEY)")
	}

	// The encryption key is only needed when snapshot encryption is turned on
	if bc.Data != nil && bc.Data.Snapshot != nil && bc.Data.Snapshot.Encrypt {
		if bc.Auth == nil || bc.Auth.Encryption == nil || bc.Auth.Encryption.Key == "" {
			missingFields = append(missingFields, "auth.encryption.key (ENCRYPTION_KEY)")
		}
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	return nil
}
