// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"dut-service/internal/model"
)

// Config represents the application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app" yaml:"app"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Security  SecurityConfig  `mapstructure:"security" yaml:"security"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	DUT       DUTSection      `mapstructure:"dut" yaml:"dut"`
	Monitor   MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Version     string `mapstructure:"version" yaml:"version"`
	Environment string `mapstructure:"environment" yaml:"environment"`
	Debug       bool   `mapstructure:"debug" yaml:"debug"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host" yaml:"host"`
	Port         string        `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	Output     string `mapstructure:"output" yaml:"output"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// DUTSection is the on-disk form of model.DUTConfig
type DUTSection struct {
	Host       string        `mapstructure:"host" yaml:"host"`
	Port       int           `mapstructure:"port" yaml:"port"`
	Protocol   string        `mapstructure:"protocol" yaml:"protocol"`
	TimeoutMs  int           `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	RetryCount int           `mapstructure:"retry_count" yaml:"retry_count"`
	Interface  string        `mapstructure:"interface" yaml:"interface"`
	DestMAC    string        `mapstructure:"dest_mac" yaml:"dest_mac"`
	CLI        CLIConfig     `mapstructure:"cli" yaml:"cli"`
	Serial     SerialSection `mapstructure:"serial" yaml:"serial"`
}

// CLIConfig represents the DUT console settings
type CLIConfig struct {
	Port     int    `mapstructure:"port" yaml:"port"`
	Prompt   string `mapstructure:"prompt" yaml:"prompt"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// SerialSection represents the serial console link
type SerialSection struct {
	Port     string `mapstructure:"port" yaml:"port"`
	BaudRate int    `mapstructure:"baud_rate" yaml:"baud_rate"`
}

// MonitorConfig controls the background DUT health loop
type MonitorConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	ConnectOnStart bool          `mapstructure:"connect_on_start" yaml:"connect_on_start"`
	HealthInterval time.Duration `mapstructure:"health_interval" yaml:"health_interval"`
	PingCommand    int           `mapstructure:"ping_command" yaml:"ping_command"`
	CLICommand     string        `mapstructure:"cli_command" yaml:"cli_command"`
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// DiscoveryConfig controls the tcp subnet sweep around dut.host
type DiscoveryConfig struct {
	SweepPrefix  int           `mapstructure:"sweep_prefix" yaml:"sweep_prefix"`
	SweepTimeout time.Duration `mapstructure:"sweep_timeout" yaml:"sweep_timeout"`
}

// flagKeys maps command line flags onto config keys
var flagKeys = map[string]string{
	"log-level":    "logging.level",
	"log-format":   "logging.format",
	"server-port":  "server.port",
	"dut-host":     "dut.host",
	"dut-port":     "dut.port",
	"dut-protocol": "dut.protocol",
	"dut-iface":    "dut.interface",
}

// RegisterFlags adds the overridable settings to fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to config file")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("log-format", "", "log format (json, console)")
	fs.String("server-port", "", "HTTP listen port")
	fs.String("dut-host", "", "DUT address")
	fs.Int("dut-port", 0, "DUT data port")
	fs.String("dut-protocol", "", "DUT transport (tcp, udp, raw_ethernet, serial)")
	fs.String("dut-iface", "", "network interface for raw ethernet")
	fs.Bool("print-config", false, "print the effective configuration and exit")
}

// Load loads configuration from file and environment variables.
// An empty path searches ./config and the working directory; a missing
// file is only an error when a path was given explicitly.
func Load(path string) (*Config, error) {
	return LoadWithFlags(path, nil)
}

// LoadWithFlags is Load with command line overrides taken from fs
func LoadWithFlags(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// Environment variable support
	v.SetEnvPrefix("DUT_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if fs != nil {
		if err := bindFlags(v, fs); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
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

// bindFlags only binds flags the user actually set so that unset flags
// do not shadow values from the file or environment.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := fs.Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "dut-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")

	v.SetDefault("security.allowed_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// DUT defaults
	v.SetDefault("dut.host", model.DefaultHost)
	v.SetDefault("dut.port", model.DefaultPort)
	v.SetDefault("dut.protocol", "tcp")
	v.SetDefault("dut.timeout_ms", int(model.DefaultTimeout/time.Millisecond))
	v.SetDefault("dut.retry_count", model.DefaultRetryCount)
	v.SetDefault("dut.interface", model.DefaultInterface)
	v.SetDefault("dut.dest_mac", "")
	v.SetDefault("dut.cli.port", model.DefaultCLIPort)
	v.SetDefault("dut.cli.prompt", model.DefaultCLIPrompt)
	v.SetDefault("dut.cli.username", "")
	v.SetDefault("dut.cli.password", "")
	v.SetDefault("dut.serial.port", "")
	v.SetDefault("dut.serial.baud_rate", model.DefaultBaudRate)

	// Monitor defaults
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.connect_on_start", true)
	v.SetDefault("monitor.health_interval", "30s")
	v.SetDefault("monitor.ping_command", 0x00)
	v.SetDefault("monitor.cli_command", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("discovery.sweep_prefix", 24)
	v.SetDefault("discovery.sweep_timeout", "300ms")
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	if !slices.Contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !slices.Contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	if config.Monitor.Enabled && config.Monitor.HealthInterval <= 0 {
		return fmt.Errorf("monitor.health_interval must be positive")
	}
	if config.Monitor.PingCommand < 0 || config.Monitor.PingCommand > 0xFF {
		return fmt.Errorf("monitor.ping_command must fit in one byte, got %d", config.Monitor.PingCommand)
	}

	if p := config.Discovery.SweepPrefix; p != 0 && (p < 16 || p > 32) {
		return fmt.Errorf("discovery.sweep_prefix must be 0 or 16..32, got %d", p)
	}

	dut, err := config.DUTConfig()
	if err != nil {
		return err
	}
	if err := dut.Validate(); err != nil {
		return fmt.Errorf("dut: %w", err)
	}

	return nil
}

// DUTConfig converts the dut section into the immutable connection config
func (c *Config) DUTConfig() (model.DUTConfig, error) {
	kind, err := model.ParseProtocolKind(c.DUT.Protocol)
	if err != nil {
		return model.DUTConfig{}, fmt.Errorf("dut.protocol: %w", err)
	}

	return model.DUTConfig{
		Host:           c.DUT.Host,
		Port:           c.DUT.Port,
		Protocol:       kind,
		Timeout:        time.Duration(c.DUT.TimeoutMs) * time.Millisecond,
		RetryCount:     c.DUT.RetryCount,
		CLIPort:        c.DUT.CLI.Port,
		CLIPrompt:      c.DUT.CLI.Prompt,
		CLIUsername:    c.DUT.CLI.Username,
		CLIPassword:    c.DUT.CLI.Password,
		Interface:      c.DUT.Interface,
		DestinationMAC: c.DUT.DestMAC,
		SerialPort:     c.DUT.Serial.Port,
		BaudRate:       c.DUT.Serial.BaudRate,
	}, nil
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == "development"
}

// WriteYAML writes the effective configuration with secrets masked
func (c *Config) WriteYAML(w io.Writer) error {
	redacted := *c
	if redacted.DUT.CLI.Password != "" {
		redacted.DUT.CLI.Password = "********"
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&redacted); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
