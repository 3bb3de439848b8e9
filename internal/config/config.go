// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Serial  SerialConfig  `mapstructure:"serial"`
	Device  DeviceConfig  `mapstructure:"device"`
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
	App     AppConfig     `mapstructure:"app"`
}

// SerialConfig represents the serial link to the PSU
type SerialConfig struct {
	Port     string `mapstructure:"port" validate:"required"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	StopBits int    `mapstructure:"stop_bits"`
	Parity   string `mapstructure:"parity"`
	// InterCharTimeout is the gap after which a partial read returns.
	// Zero means reads block until at least one byte arrives.
	InterCharTimeout time.Duration `mapstructure:"inter_char_timeout"`
}

// DeviceConfig represents PSU-specific settings
type DeviceConfig struct {
	VendorMarker    string        `mapstructure:"vendor_marker"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	IdentifyTimeout time.Duration `mapstructure:"identify_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// ServerConfig represents the optional HTTP control surface
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// flagKeys maps CLI flag names onto configuration keys.
var flagKeys = map[string]string{
	"port":       "serial.port",
	"log-level":  "logging.level",
	"log-format": "logging.format",
	"log-output": "logging.output",
	"listen":     "server.port",
}

// Load builds the configuration from defaults, an optional YAML file,
// PSU_* environment variables and finally any flags that were set.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("PSU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil, fmt.Errorf("config file not found: %w", err)
			}
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Serial defaults
	v.SetDefault("serial.port", "/dev/ttyHAMEG0")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.inter_char_timeout", "0s")

	// Device defaults
	v.SetDefault("device.vendor_marker", "HAMEG")
	v.SetDefault("device.settle_delay", "500ms")
	v.SetDefault("device.identify_timeout", "0s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8086")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.allowed_origins", []string{})

	// App defaults
	v.SetDefault("app.name", "psuctl")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "production")
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Serial.Port == "" {
		return fmt.Errorf("serial.port is required")
	}
	if config.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be positive, got %d", config.Serial.BaudRate)
	}
	if config.Serial.DataBits < 5 || config.Serial.DataBits > 8 {
		return fmt.Errorf("serial.data_bits must be between 5 and 8, got %d", config.Serial.DataBits)
	}
	if config.Serial.StopBits != 1 && config.Serial.StopBits != 2 {
		return fmt.Errorf("serial.stop_bits must be 1 or 2, got %d", config.Serial.StopBits)
	}
	if !contains([]string{"none", "odd", "even"}, config.Serial.Parity) {
		return fmt.Errorf("serial.parity must be one of: none, odd, even")
	}
	if config.Serial.InterCharTimeout < 0 {
		return fmt.Errorf("serial.inter_char_timeout must not be negative")
	}
	// termios VTIME counts tenths of a second
	if config.Serial.InterCharTimeout%(100*time.Millisecond) != 0 {
		return fmt.Errorf("serial.inter_char_timeout must be a multiple of 100ms, got %v", config.Serial.InterCharTimeout)
	}

	if config.Device.VendorMarker == "" {
		return fmt.Errorf("device.vendor_marker is required")
	}
	if config.Device.SettleDelay < 0 {
		return fmt.Errorf("device.settle_delay must not be negative")
	}
	if config.Device.IdentifyTimeout < 0 {
		return fmt.Errorf("device.identify_timeout must not be negative")
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	validEnvs := []string{"development", "production", "test"}
	if !contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// defaultServeIdentifyTimeout bounds *IDN? in serve mode when write_timeout is unset
const defaultServeIdentifyTimeout = 10 * time.Second

// ApplyServeDefaults bounds the identity read for the long-running server.
// An unset identify_timeout becomes half the write timeout, leaving the other
// half for the sequence itself.
func (c *Config) ApplyServeDefaults() {
	if c.Device.IdentifyTimeout > 0 {
		return
	}
	if c.Server.WriteTimeout > 0 {
		c.Device.IdentifyTimeout = c.Server.WriteTimeout / 2
		return
	}
	c.Device.IdentifyTimeout = defaultServeIdentifyTimeout
}
