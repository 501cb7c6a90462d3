package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAddresses(t *testing.T) {
	t.Run("from proxy config file", func(t *testing.T) {
		config := &Config{ProxyConfigPath: writeProxyConfig(t, sampleProxyConfig)}
		require.NoError(t, ResolveAddresses(config))
		assert.Equal(t, "0.0.0.0:25566", config.Bind)
		assert.Equal(t, "mc.internal:25565", config.Backend)
		assert.Equal(t, "127.0.0.1:8080", config.ApiBinding)
	})

	t.Run("flags take precedence", func(t *testing.T) {
		config := &Config{
			ProxyConfigPath: writeProxyConfig(t, sampleProxyConfig),
			Bind:            ":30000",
			Backend:         "other:25565",
		}
		require.NoError(t, ResolveAddresses(config))
		assert.Equal(t, ":30000", config.Bind)
		assert.Equal(t, "other:25565", config.Backend)
		assert.Equal(t, "127.0.0.1:8080", config.ApiBinding)
	})

	t.Run("default bind", func(t *testing.T) {
		config := &Config{}
		require.NoError(t, ResolveAddresses(config))
		assert.Equal(t, ":25565", config.Bind)
	})

	t.Run("unreadable file", func(t *testing.T) {
		config := &Config{ProxyConfigPath: writeProxyConfig(t, "[")}
		assert.Error(t, ResolveAddresses(config))
	})
}

func TestNewServer_ConfigErrors(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Backend:        "127.0.0.1:25565",
			PlayerApiUrl:   "http://players.internal",
			RosterApiUrl:   "http://roster.internal",
			ApiTimeout:     time.Second,
			MetricsBackend: MetricsBackendDiscard,
		}
	}

	tests := []struct {
		name   string
		modify func(config *Config)
	}{
		{name: "missing backend", modify: func(config *Config) { config.Backend = "" }},
		{name: "backend without port", modify: func(config *Config) { config.Backend = "mc.internal" }},
		{name: "missing player api", modify: func(config *Config) { config.PlayerApiUrl = "" }},
		{name: "missing roster source", modify: func(config *Config) { config.RosterApiUrl = "" }},
		{name: "invalid client filter", modify: func(config *Config) { config.ClientsToDeny = []string{"nope"} }},
		{name: "invalid trusted proxy", modify: func(config *Config) {
			config.ReceiveProxyProtocol = true
			config.TrustedProxies = []string{"10.0.0.1"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.modify(config)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			_, err := NewServer(ctx, config)
			require.Error(t, err)
			var configErr *ConfigError
			assert.True(t, errors.As(err, &configErr), "expected a ConfigError, got %v", err)
		})
	}
}

func TestServer_RunBindFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := NewServer(ctx, &Config{
		Bind:                occupied.Addr().String(),
		Backend:             "127.0.0.1:1",
		PlayerApiUrl:        "http://127.0.0.1:1",
		RosterFile:          "roster.json",
		ApiTimeout:          100 * time.Millisecond,
		BackendDialTimeout:  100 * time.Millisecond,
		MetricsBackend:      MetricsBackendDiscard,
		ConnectionRateLimit: 1,
	})
	require.NoError(t, err)

	err = server.Run()
	var bindErr *BindError
	assert.True(t, errors.As(err, &bindErr), "expected a BindError, got %v", err)
}
