// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadRequiresForwardProxyURL(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
}

func TestLoadAppliesDefaultsAndParsesProviders(t *testing.T) {
	t.Setenv("L8_FORWARD_PROXY_URL", "https://fp.example.com")
	t.Setenv("L8_PROVIDERS", "https://a.example.com, https://b.example.com")
	t.Setenv("L8_API_KEY_ID", "key-1")
	t.Setenv("L8_API_SECRET", "secret-1")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	require.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Providers)
	require.Equal(t, "info", cfg.LogLevel)
	require.False(t, cfg.DevMode)
	require.Empty(t, cfg.IngressAddr)
	require.Empty(t, cfg.IngressBackend)
}

func TestLoadReadsIngressSettings(t *testing.T) {
	t.Setenv("L8_FORWARD_PROXY_URL", "https://fp.example.com")
	t.Setenv("L8_PROVIDERS", "https://a.example.com")
	t.Setenv("L8_API_KEY_ID", "key-1")
	t.Setenv("L8_API_SECRET", "secret-1")
	t.Setenv("L8_INGRESS_ADDR", "127.0.0.1:9090")
	t.Setenv("L8_INGRESS_BACKEND", "https://a.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9090", cfg.IngressAddr)
	require.Equal(t, "https://a.example.com", cfg.IngressBackend)
}
