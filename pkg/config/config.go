package config

// Package config provides a reusable loader for the gateway's configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.2.0

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"i3gateway/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// envKeyReplacer maps GATEWAY_PORT-style environment variable names onto
// the gateway.port-style dotted config keys viper expects. No env prefix is
// set, so the variable name is the upper-cased key with "." replaced by "_".
var envKeyReplacer = strings.NewReplacer(".", "_")

// Config is the gateway's unified configuration: mud identity, router
// addresses, gateway behavior, logging, downstream API, metrics, and
// persistence, loaded from YAML and overridden by environment variables.
type Config struct {
	Mud struct {
		Name       string         `mapstructure:"name" json:"name"`
		Port       int            `mapstructure:"port" json:"port"`
		AdminEmail string         `mapstructure:"admin_email" json:"admin_email"`
		Mudlib     string         `mapstructure:"mudlib" json:"mudlib"`
		BaseMudlib string         `mapstructure:"base_mudlib" json:"base_mudlib"`
		Driver     string         `mapstructure:"driver" json:"driver"`
		MudType    string         `mapstructure:"mud_type" json:"mud_type"`
		OpenStatus string         `mapstructure:"open_status" json:"open_status"`
		Services   map[string]int `mapstructure:"services" json:"services"`
	} `mapstructure:"mud" json:"mud"`

	Router struct {
		Primary struct {
			Host string `mapstructure:"host" json:"host"`
			Port int    `mapstructure:"port" json:"port"`
		} `mapstructure:"primary" json:"primary"`
		Fallback []struct {
			Host string `mapstructure:"host" json:"host"`
			Port int    `mapstructure:"port" json:"port"`
		} `mapstructure:"fallback" json:"fallback"`
	} `mapstructure:"router" json:"router"`

	Gateway struct {
		Host          string        `mapstructure:"host" json:"host"`
		Port          int           `mapstructure:"port" json:"port"`
		MaxPacketSize int           `mapstructure:"max_packet_size" json:"max_packet_size"`
		Timeout       time.Duration `mapstructure:"timeout" json:"timeout"`
		RetryAttempts int           `mapstructure:"retry_attempts" json:"retry_attempts"`
		RetryDelay    time.Duration `mapstructure:"retry_delay" json:"retry_delay"`
	} `mapstructure:"gateway" json:"gateway"`

	Logging struct {
		Level  string `mapstructure:"level" json:"level"`
		Format string `mapstructure:"format" json:"format"`
		File   string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`

	// Downstream configures the JSON-RPC listener's bind addresses; the
	// method table itself is an injected policy, not configured here.
	Downstream struct {
		WSAddr  string `mapstructure:"ws_addr" json:"ws_addr"`
		TCPAddr string `mapstructure:"tcp_addr" json:"tcp_addr"`
	} `mapstructure:"downstream" json:"downstream"`

	Persistence struct {
		Dir string `mapstructure:"dir" json:"dir"`
	} `mapstructure:"persistence" json:"persistence"`

	Metrics struct {
		Addr string `mapstructure:"addr" json:"addr"`
	} `mapstructure:"metrics" json:"metrics"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	_ = godotenv.Load() // best-effort; absent .env is not an error in production

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	setDefaults()
	var notFound viper.ConfigFileNotFoundError
	if err := viper.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the I3_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("I3_ENV", ""))
}

func setDefaults() {
	viper.SetDefault("gateway.host", "0.0.0.0")
	viper.SetDefault("gateway.port", 8787)
	viper.SetDefault("gateway.max_packet_size", 65536)
	viper.SetDefault("gateway.timeout", "30s")
	viper.SetDefault("gateway.retry_attempts", 5)
	viper.SetDefault("gateway.retry_delay", "5s")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("downstream.ws_addr", "0.0.0.0:9000")
	viper.SetDefault("downstream.tcp_addr", "0.0.0.0:9001")
	viper.SetDefault("metrics.addr", "0.0.0.0:9090")
	viper.SetDefault("persistence.dir", "./data")
}
