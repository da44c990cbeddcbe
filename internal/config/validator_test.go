package config

import (
	"strings"
	"testing"
)

// validConfig returns a Config with every default applied.
func validConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad listen address",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "not-an-addr" },
			wantErr: "Config.Server.HTTPAddr must be a valid host:port",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "trace" },
			wantErr: "Config.Server.LogLevel must be one of",
		},
		{
			name:    "unparsable timeout",
			mutate:  func(c *Config) { c.Bridge.RequestTimeout = "3 minutes" },
			wantErr: "Config.Bridge.RequestTimeout must be a positive duration",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Bridge.RequestTimeout = "-1s" },
			wantErr: "Config.Bridge.RequestTimeout must be a positive duration",
		},
		{
			name:    "zero keepalive",
			mutate:  func(c *Config) { c.Bridge.KeepaliveInterval = "0s" },
			wantErr: "Config.Bridge.KeepaliveInterval must be a positive duration",
		},
		{
			name:    "negative max concurrent",
			mutate:  func(c *Config) { c.Bridge.MaxConcurrent = -1 },
			wantErr: "Config.Bridge.MaxConcurrent must be at least 1",
		},
		{
			name:    "bad byte size",
			mutate:  func(c *Config) { c.Bridge.MaxEventBody = "lots" },
			wantErr: "Config.Bridge.MaxEventBody must be a positive size",
		},
		{
			name:    "zero byte size",
			mutate:  func(c *Config) { c.Bridge.MaxLegacyBody = "0B" },
			wantErr: "Config.Bridge.MaxLegacyBody must be a positive size",
		},
		{
			name:    "unknown notify mode",
			mutate:  func(c *Config) { c.Notify.Mode = "kafka" },
			wantErr: "Config.Notify.Mode must be one of: queue webhook",
		},
		{
			name:    "webhook without url",
			mutate:  func(c *Config) { c.Notify.Mode = "webhook" },
			wantErr: "webhook_url is required",
		},
		{
			name:    "bad webhook url",
			mutate:  func(c *Config) { c.Notify.WebhookURL = "::nope" },
			wantErr: "Config.Notify.WebhookURL must be a valid URL",
		},
		{
			name:    "unknown tracing exporter",
			mutate:  func(c *Config) { c.Telemetry.Tracing = "otlp" },
			wantErr: "Config.Telemetry.Tracing must be one of: none stdout",
		},
		{
			name: "shared listen address",
			mutate: func(c *Config) {
				c.Server.HTTPAddr = "127.0.0.1:6004"
			},
			wantErr: "control.http_addr must differ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_WebhookMode(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Notify.Mode = "webhook"
	cfg.Notify.WebhookURL = "http://127.0.0.1:9000/notify"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}
