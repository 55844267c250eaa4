package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DefaultServer        string        `mapstructure:"default_server"`
	DialTimeout          time.Duration `mapstructure:"dial_timeout"`
	ConfigFetchTimeout   time.Duration `mapstructure:"config_fetch_timeout"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectInterval    time.Duration `mapstructure:"reconnect_interval"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	HealthCheckInterval  time.Duration `mapstructure:"health_check_interval"`
	LogLevel             string        `mapstructure:"log_level"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("default_server", "https://meet.jit.si")
	v.SetDefault("dial_timeout", "15s")
	v.SetDefault("config_fetch_timeout", "5s")
	v.SetDefault("heartbeat_interval", "30s")
	v.SetDefault("reconnect_interval", "3s")
	v.SetDefault("max_reconnect_attempts", 5)
	v.SetDefault("health_check_interval", "10s")
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
