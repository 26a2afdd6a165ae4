// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every runtime setting for the tunnel proxy: the
// control-plane HTTP surface, the forward proxy it rotates tunnels
// against, and the backends it should keep sessions open for.
type Config struct {
	ListenAddr      string
	ForwardProxyURL string
	Providers       []string

	// IngressAddr and IngressBackend are both optional; when set
	// together they start a second listener that transparently
	// reverse-proxies every request to IngressBackend through the
	// tunnel, instead of requiring callers to speak the control
	// plane's JSON relay envelope.
	IngressAddr    string
	IngressBackend string

	APIKeyID  string
	APISecret string

	DevMode  bool
	LogLevel string

	RequestTimeout     time.Duration
	InsecureSkipVerify bool
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	GracefulShutdown   time.Duration
}

// Load reads configuration from environment variables prefixed L8_
// (e.g. L8_LISTEN_ADDR, L8_FORWARD_PROXY_URL), applying the same
// sensible defaults a local run needs and validating the values that
// have no safe default.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("L8")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("listen_addr", "127.0.0.1:8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("dev_mode", false)
	v.SetDefault("request_timeout", 15*time.Second)
	v.SetDefault("insecure_skip_verify", false)
	v.SetDefault("server_read_timeout", 30*time.Second)
	v.SetDefault("server_write_timeout", 30*time.Second)
	v.SetDefault("server_idle_timeout", 120*time.Second)
	v.SetDefault("graceful_shutdown", 10*time.Second)

	forwardProxyURL := strings.TrimSpace(v.GetString("forward_proxy_url"))
	if forwardProxyURL == "" {
		return Config{}, errors.New("L8_FORWARD_PROXY_URL is required")
	}

	providersRaw := strings.TrimSpace(v.GetString("providers"))
	if providersRaw == "" {
		return Config{}, errors.New("L8_PROVIDERS is required (comma-separated backend base URLs)")
	}
	var providers []string
	for _, p := range strings.Split(providersRaw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			providers = append(providers, p)
		}
	}
	if len(providers) == 0 {
		return Config{}, errors.New("L8_PROVIDERS contained no usable entries")
	}

	apiKeyID := strings.TrimSpace(v.GetString("api_key_id"))
	apiSecret := strings.TrimSpace(v.GetString("api_secret"))
	if apiKeyID == "" || apiSecret == "" {
		return Config{}, fmt.Errorf("L8_API_KEY_ID and L8_API_SECRET are required for control-plane authentication")
	}

	return Config{
		ListenAddr:         v.GetString("listen_addr"),
		ForwardProxyURL:    forwardProxyURL,
		Providers:          providers,
		IngressAddr:        strings.TrimSpace(v.GetString("ingress_addr")),
		IngressBackend:     strings.TrimSpace(v.GetString("ingress_backend")),
		APIKeyID:           apiKeyID,
		APISecret:          apiSecret,
		DevMode:            v.GetBool("dev_mode"),
		LogLevel:           strings.ToLower(v.GetString("log_level")),
		RequestTimeout:     v.GetDuration("request_timeout"),
		InsecureSkipVerify: v.GetBool("insecure_skip_verify"),
		ServerReadTimeout:  v.GetDuration("server_read_timeout"),
		ServerWriteTimeout: v.GetDuration("server_write_timeout"),
		ServerIdleTimeout:  v.GetDuration("server_idle_timeout"),
		GracefulShutdown:   v.GetDuration("graceful_shutdown"),
	}, nil
}
