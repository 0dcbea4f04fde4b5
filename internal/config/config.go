// Package config reads service configuration from flags and environment.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config carries the runtime parameters of the fulfillment services.
type Config struct {
	RunAddress      string `env:"RUN_ADDRESS"`
	ServiceName     string `env:"SERVICE_NAME" envDefault:"fulfillment"`
	Environment     string `env:"ENV" envDefault:"dev"`
	AMQPURI         string `env:"AMQP_URI"`
	DatabaseURI     string `env:"DATABASE_URI"`
	OrderServiceURL string `env:"ORDER_SERVICE_URL"`
	GatewayURL      string `env:"PAYMENT_GATEWAY_URL"`
}

// Parse reads configuration from command line flags and environment variables.
// Environment variables win over flags when both are set.
func Parse(args []string) (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envAMQPURI := cfg.AMQPURI
	envDatabaseURI := cfg.DatabaseURI
	envOrderURL := cfg.OrderServiceURL
	envGatewayURL := cfg.GatewayURL

	fs := flag.NewFlagSet("fulfillment", flag.ContinueOnError)
	fs.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	fs.StringVar(&cfg.AMQPURI, "b", "", "broker URI (amqp://...)")
	fs.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	fs.StringVar(&cfg.OrderServiceURL, "o", "", "order service base URL")
	fs.StringVar(&cfg.GatewayURL, "g", "", "payment gateway base URL")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envAMQPURI != "" {
		cfg.AMQPURI = envAMQPURI
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envOrderURL != "" {
		cfg.OrderServiceURL = envOrderURL
	}
	if envGatewayURL != "" {
		cfg.GatewayURL = envGatewayURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
