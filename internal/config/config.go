// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Instrument InstrumentConfig `mapstructure:"instrument"`
	Scan       ScanConfig       `mapstructure:"scan"`
	Polling    PollingConfig    `mapstructure:"polling"`
	Recorder   RecorderConfig   `mapstructure:"recorder"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	App        AppConfig        `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// InstrumentConfig represents serial link and command grammar parameters.
// The DCS talks 19200 8N1 with hardware flow control disabled; these are
// connection parameters, not negotiated.
type InstrumentConfig struct {
	BaudRate    int           `mapstructure:"baud_rate"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	Precision   int32         `mapstructure:"precision"`
	MaxVoltage  float64       `mapstructure:"max_voltage"`
	MaxCurrent  float64       `mapstructure:"max_current"`
}

// ScanConfig represents discovery scan configuration. The probe timeout is a
// policy choice, kept configurable: a device that answers just past the
// boundary reads as absent.
type ScanConfig struct {
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// PollingConfig represents measurement polling configuration
type PollingConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// RecorderConfig represents CSV measurement recording configuration
type RecorderConfig struct {
	Dir string `mapstructure:"dir"`
}

// StorageConfig represents the optional measurement archive. The service runs
// fully without a database when disabled.
type StorageConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Database DatabaseConfig `mapstructure:"database"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	DBName       string        `mapstructure:"dbname"`
	SSLMode      string        `mapstructure:"sslmode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	MaxLifetime  time.Duration `mapstructure:"max_lifetime"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variable support
	viper.SetEnvPrefix("PSU_SERVICE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Defaults cover everything; a missing file is not fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8086")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// Instrument defaults: DCS command set parameters
	viper.SetDefault("instrument.baud_rate", 19200)
	viper.SetDefault("instrument.read_timeout", "500ms")
	viper.SetDefault("instrument.precision", 3)
	viper.SetDefault("instrument.max_voltage", 60.0)
	viper.SetDefault("instrument.max_current", 50.0)

	// Scan defaults
	viper.SetDefault("scan.probe_timeout", "250ms")

	// Polling defaults
	viper.SetDefault("polling.interval", "1s")

	// Recorder defaults
	viper.SetDefault("recorder.dir", "./data/measurements")

	// Storage defaults
	viper.SetDefault("storage.enabled", false)
	viper.SetDefault("storage.database.host", "localhost")
	viper.SetDefault("storage.database.port", 5432)
	viper.SetDefault("storage.database.user", "postgres")
	viper.SetDefault("storage.database.password", "postgres")
	viper.SetDefault("storage.database.dbname", "psu_service")
	viper.SetDefault("storage.database.sslmode", "disable")
	viper.SetDefault("storage.database.max_open_conns", 10)
	viper.SetDefault("storage.database.max_idle_conns", 2)
	viper.SetDefault("storage.database.max_lifetime", "5m")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.max_size", 100)
	viper.SetDefault("logging.max_backups", 3)
	viper.SetDefault("logging.max_age", 28)
	viper.SetDefault("logging.compress", true)

	// App defaults
	viper.SetDefault("app.name", "psu-service")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if config.Instrument.BaudRate <= 0 {
		return fmt.Errorf("instrument.baud_rate must be positive")
	}
	if config.Instrument.ReadTimeout <= 0 {
		return fmt.Errorf("instrument.read_timeout must be positive")
	}
	if config.Instrument.Precision < 0 {
		return fmt.Errorf("instrument.precision must not be negative")
	}
	if config.Instrument.MaxVoltage <= 0 || config.Instrument.MaxCurrent <= 0 {
		return fmt.Errorf("instrument max ratings must be positive")
	}
	if config.Scan.ProbeTimeout <= 0 {
		return fmt.Errorf("scan.probe_timeout must be positive")
	}
	if config.Polling.Interval <= 0 {
		return fmt.Errorf("polling.interval must be positive")
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	isValidEnv := false
	for _, env := range validEnvs {
		if config.App.Environment == env {
			isValidEnv = true
			break
		}
	}
	if !isValidEnv {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	isValidLevel := false
	for _, level := range validLevels {
		if config.Logging.Level == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	db := c.Storage.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.User, db.Password, db.DBName, db.SSLMode)
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
