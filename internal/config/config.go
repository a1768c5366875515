package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Broker   BrokerConfig   `mapstructure:"broker"   validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"   validate:"required"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// BrokerConfig contains the message broker connection settings and the
// names of the durable topology the gateway and consumer declare.
type BrokerConfig struct {
	URL        string `mapstructure:"url"         validate:"required"`
	Exchange   string `mapstructure:"exchange"    validate:"required"`
	Queue      string `mapstructure:"queue"       validate:"required"`
	RoutingKey string `mapstructure:"routing_key" validate:"required"`
}

// WorkerConfig contains settings for the task consumer process.
type WorkerConfig struct {
	// ProcessDelay is how long the default executor simulates working on
	// a task before reporting success.
	ProcessDelay time.Duration `mapstructure:"process_delay" validate:"min=0"`
}
