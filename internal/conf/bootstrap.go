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
// and allows overrides from environment variables prefixed with MSGBRIDGE_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables:
//   - CIF_ARCHIVE_DIR or MSGBRIDGE_DATA_CIF_ARCHIVE_DIR: legacy archive root
//
// The database source (MYSQL_DSN) is optional: a missing relational backend
// degrades the router's capability instead of preventing startup.
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

	// Enable environment variable support with MSGBRIDGE_ prefix
	v.SetEnvPrefix("MSGBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without MSGBRIDGE_ prefix) for compatibility
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "MSGBRIDGE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "MSGBRIDGE_DATA_REDIS_ADDR")
	_ = v.BindEnv("data.cif.archive_dir", "CIF_ARCHIVE_DIR", "MSGBRIDGE_DATA_CIF_ARCHIVE_DIR")
	_ = v.BindEnv("messaging.site_id", "WWPDB_SITE_ID", "MSGBRIDGE_MESSAGING_SITE_ID")
	_ = v.BindEnv("messaging.flags_file", "MSGBRIDGE_FLAGS_FILE")

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
			Cif: &Data_Cif{
				ArchiveDir: v.GetString("data.cif.archive_dir"),
			},
		},
		Messaging: &Messaging{
			SiteId:             v.GetString("messaging.site_id"),
			FlagsFile:          v.GetString("messaging.flags_file"),
			FallbackTrigger:    v.GetString("messaging.fallback_trigger"),
			DbLatencyThreshold: durationpb.New(v.GetDuration("messaging.db_latency_threshold")),
			Breaker: &Messaging_Breaker{
				FailureThreshold: v.GetInt32("messaging.breaker.failure_threshold"),
				RecoveryTimeout:  durationpb.New(v.GetDuration("messaging.breaker.recovery_timeout")),
				SuccessThreshold: v.GetInt32("messaging.breaker.success_threshold"),
				Timeout:          durationpb.New(v.GetDuration("messaging.breaker.timeout")),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
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
	v.SetDefault("server.http.timeout", 5*time.Minute)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is optional; the database
	// backend is reported as failed when it is absent.

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Note: data.cif.archive_dir (CIF_ARCHIVE_DIR) is required from environment

	// Messaging defaults
	v.SetDefault("messaging.site_id", "RCSB")
	v.SetDefault("messaging.fallback_trigger", "failure")
	v.SetDefault("messaging.db_latency_threshold", 500*time.Millisecond)
	v.SetDefault("messaging.breaker.failure_threshold", 3)
	v.SetDefault("messaging.breaker.recovery_timeout", 30*time.Second)
	v.SetDefault("messaging.breaker.success_threshold", 2)
	v.SetDefault("messaging.breaker.timeout", 10*time.Second)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing required fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	// Check required CIF archive configuration
	if bc.Data == nil || bc.Data.Cif == nil || bc.Data.Cif.ArchiveDir == "" {
		missingFields = append(missingFields, "data.cif.archive_dir (CIF_ARCHIVE_DIR)")
	}

	if bc.Messaging != nil {
		trigger := bc.Messaging.FallbackTrigger
		if trigger != "" && trigger != "failure" && trigger != "failure_or_latency" {
			return fmt.Errorf("invalid messaging.fallback_trigger %q: expected \"failure\" or \"failure_or_latency\"", trigger)
		}
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	return nil
}
