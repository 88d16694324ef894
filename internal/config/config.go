package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/vrischmann/envconfig"
)

// Config holds everything dockside reads from the environment. Every option
// has a default so the proxy starts with zero configuration.
type Config struct {
	LogLevel       string        `envconfig:"LOG_LEVEL,default=info"`
	ProxyPort      uint16        `envconfig:"PROXY_PORT,default=80"`
	ManagementPort uint16        `envconfig:"MANAGEMENT_PORT,default=8080"`
	DockerHost     string        `envconfig:"DOCKER_HOST,default=unix:///var/run/docker.sock"`
	ProxyTimeout   time.Duration `envconfig:"PROXY_TIMEOUT,default=30s"`
	ResyncInterval time.Duration `envconfig:"RESYNC_INTERVAL,default=1m"`
	StatsdAddr     string        `envconfig:"STATSD_ADDR,optional"`
}

// Load reads the process environment into a Config. A .env file in the
// working directory is loaded first when present, so projects can keep their
// dockside settings next to their compose file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Init(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, nil
}

func (c Config) ProxyAddr() string {
	return fmt.Sprintf("0.0.0.0:%d", c.ProxyPort)
}

func (c Config) ManagementAddr() string {
	return fmt.Sprintf("0.0.0.0:%d", c.ManagementPort)
}
