package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite, mysql or postgres
	DSN      string `mapstructure:"dsn"`
	Seed     bool   `mapstructure:"seed"`
	LogLevel string `mapstructure:"log_level"`
}

type ConsulConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Address       string `mapstructure:"address"`
	AdvertiseHost string `mapstructure:"advertise_host"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AdminConfig holds the credentials of the account created by the seeder.
type AdminConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type Config struct {
	HTTPPort    int           `mapstructure:"http_port"`
	GRPCPort    int           `mapstructure:"grpc_port"`
	LogLevel    string        `mapstructure:"log_level"`
	ServiceName string        `mapstructure:"service_name"` // Consul registration name
	JwtSecret   string        `mapstructure:"jwt_secret"`
	JwtTTL      time.Duration `mapstructure:"jwt_ttl"`

	Database DatabaseConfig `mapstructure:"database"`
	Consul   ConsulConfig   `mapstructure:"consul"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

const DefaultJwtSecret = "default-very-insecure-secret-key" // CHANGE THIS IN PRODUCTION

var AppConfig Config

// InitConfig loads config.yaml from . or ./config, overlays PERMCENTER_* environment
// variables and fills AppConfig. It panics on an unreadable or invalid file.
func InitConfig() {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables.")
		} else {
			panic(fmt.Errorf("fatal error reading config file: %w", err))
		}
	}

	cfg, err := Load(v)
	if err != nil {
		panic(err)
	}
	AppConfig = *cfg
}

// Load applies defaults and environment overrides to v and decodes the result.
func Load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("PERMCENTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 8080)
	v.SetDefault("grpc_port", 50051)
	v.SetDefault("log_level", "info")
	v.SetDefault("service_name", "permission-center")
	v.SetDefault("jwt_secret", DefaultJwtSecret)
	v.SetDefault("jwt_ttl", 24*time.Hour)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:permission-center.db")
	v.SetDefault("database.seed", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("consul.enabled", false)
	v.SetDefault("consul.address", "127.0.0.1:8500")
	v.SetDefault("consul.advertise_host", "127.0.0.1")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password", "adminpassword")
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.JwtTTL <= 0 {
		return fmt.Errorf("jwt_ttl must be positive, got %s", c.JwtTTL)
	}
	return nil
}
