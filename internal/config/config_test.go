package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, uint16(80), cfg.ProxyPort)
	assert.Equal(t, uint16(8080), cfg.ManagementPort)
	assert.Equal(t, "unix:///var/run/docker.sock", cfg.DockerHost)
	assert.Equal(t, 30*time.Second, cfg.ProxyTimeout)
	assert.Equal(t, time.Minute, cfg.ResyncInterval)
	assert.Empty(t, cfg.StatsdAddr)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PROXY_PORT", "8000")
	t.Setenv("MANAGEMENT_PORT", "9000")
	t.Setenv("DOCKER_HOST", "tcp://127.0.0.1:2375")
	t.Setenv("PROXY_TIMEOUT", "5s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint16(8000), cfg.ProxyPort)
	assert.Equal(t, uint16(9000), cfg.ManagementPort)
	assert.Equal(t, "tcp://127.0.0.1:2375", cfg.DockerHost)
	assert.Equal(t, 5*time.Second, cfg.ProxyTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestListenAddrs(t *testing.T) {
	cfg := Config{ProxyPort: 80, ManagementPort: 8080}

	assert.Equal(t, "0.0.0.0:80", cfg.ProxyAddr())
	assert.Equal(t, "0.0.0.0:8080", cfg.ManagementAddr())
}
