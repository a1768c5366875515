package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Default values applied when neither the environment nor a config file
// provides a setting. The broker topology names match the fixed names the
// queue gateway and consumer declare.
const (
	DefaultServerPort        = 8080
	DefaultLogLevel          = "info"
	DefaultBrokerExchange    = "tasks"
	DefaultBrokerQueue       = "tasks_queue"
	DefaultBrokerRoutingKey  = "task_key"
	DefaultWorkerProcessTime = 2 * time.Second
)

// Load reads configuration from environment variables and optionally a
// config file. Environment variables take precedence over values from
// config files. Returns a populated Config struct or an error if
// loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.log_level", DefaultLogLevel)
	v.SetDefault("broker.exchange", DefaultBrokerExchange)
	v.SetDefault("broker.queue", DefaultBrokerQueue)
	v.SetDefault("broker.routing_key", DefaultBrokerRoutingKey)
	v.SetDefault("worker.process_delay", DefaultWorkerProcessTime)

	// Optional config file in the working directory
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment variables with TASKTIDE_ prefix override file values,
	// e.g. TASKTIDE_DATABASE_URL maps to database.url.
	v.SetEnvPrefix("TASKTIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; everything can come from the
		// environment. Any other read error is fatal.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Viper's AutomaticEnv does not make Unmarshal see env-only keys, so
	// bind the keys we care about explicitly.
	for _, key := range []string{
		"server.port",
		"server.log_level",
		"database.url",
		"broker.url",
		"broker.exchange",
		"broker.queue",
		"broker.routing_key",
		"worker.process_delay",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate runs struct-tag validation over the loaded configuration.
func validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
