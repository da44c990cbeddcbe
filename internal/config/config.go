// Package config provides configuration types for the MCP HTTP bridge.
//
// The bridge is configured from a single YAML file plus environment
// overrides. It intentionally carries only what the listener, the control
// plane and the notifier need:
//
//   - NO TLS configuration (terminate TLS in front of the bridge)
//   - NO authentication (the decision-maker is trusted and local)
//   - NO persistence (pending requests live in memory only)
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

// Config is the top-level configuration of the bridge.
type Config struct {
	// Server configures the public HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Bridge configures request suspension, admission and streaming.
	Bridge BridgeConfig `yaml:"bridge" mapstructure:"bridge"`

	// Control configures the decision-maker's control plane.
	Control ControlConfig `yaml:"control" mapstructure:"control"`

	// Notify configures how notifications reach the decision-maker.
	Notify NotifyConfig `yaml:"notify" mapstructure:"notify"`

	// Telemetry configures OpenTelemetry exporters.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// ServerConfig configures the public HTTP listener.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., ":6003", "127.0.0.1:6003").
	// The --port flag of `mcp-bridge start` overrides the port.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"required,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// BridgeConfig configures the suspended-request core.
type BridgeConfig struct {
	// RequestTimeout bounds the wait of counted routes (e.g., "180s").
	// Reloaded live.
	RequestTimeout string `yaml:"request_timeout" mapstructure:"request_timeout" validate:"required,duration"`

	// MaxConcurrent is the admission limit of counted routes. Reloaded live.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent" validate:"min=1"`

	// KeepaliveInterval is how long a stream may stay silent before a ping frame.
	KeepaliveInterval string `yaml:"keepalive_interval" mapstructure:"keepalive_interval" validate:"required,duration"`

	// MaxEventBody is the body size above which notifications omit the body
	// and set bodyTruncated (e.g., "64KiB").
	MaxEventBody string `yaml:"max_event_body" mapstructure:"max_event_body" validate:"required,bytesize"`

	// MaxLegacyBody is the 413 ceiling of POST /mcp/message (e.g., "1MiB").
	MaxLegacyBody string `yaml:"max_legacy_body" mapstructure:"max_legacy_body" validate:"required,bytesize"`
}

// ControlConfig configures the control plane.
type ControlConfig struct {
	// HTTPAddr is the control listener address. Defaults to localhost only.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"required,hostname_port"`

	// PollTimeout is the default wait of GET /events.
	PollTimeout string `yaml:"poll_timeout" mapstructure:"poll_timeout" validate:"required,duration"`
}

// NotifyConfig configures the notifier.
type NotifyConfig struct {
	// Mode is "queue" (long-polled through GET /events) or "webhook".
	Mode string `yaml:"mode" mapstructure:"mode" validate:"required,oneof=queue webhook"`

	// QueueDepth bounds the queue. A full queue drops notifications.
	QueueDepth int `yaml:"queue_depth" mapstructure:"queue_depth" validate:"min=1"`

	// WebhookURL receives one POST per notification in webhook mode.
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`

	// WebhookTimeout bounds a single webhook delivery.
	WebhookTimeout string `yaml:"webhook_timeout" mapstructure:"webhook_timeout" validate:"required,duration"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// Tracing is "none" or "stdout".
	Tracing string `yaml:"tracing" mapstructure:"tracing" validate:"oneof=none stdout"`

	// Metrics is "none" or "stdout". Prometheus metrics on /metrics are
	// always on.
	Metrics string `yaml:"metrics" mapstructure:"metrics" validate:"oneof=none stdout"`

	// MetricInterval is the export interval of the stdout meter.
	MetricInterval string `yaml:"metric_interval" mapstructure:"metric_interval" validate:"required,duration"`
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":6003"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Bridge.RequestTimeout == "" {
		c.Bridge.RequestTimeout = "180s"
	}
	if c.Bridge.MaxConcurrent == 0 {
		c.Bridge.MaxConcurrent = 10
	}
	if c.Bridge.KeepaliveInterval == "" {
		c.Bridge.KeepaliveInterval = "30s"
	}
	if c.Bridge.MaxEventBody == "" {
		c.Bridge.MaxEventBody = "64KiB"
	}
	if c.Bridge.MaxLegacyBody == "" {
		c.Bridge.MaxLegacyBody = "1MiB"
	}

	// The control plane is unauthenticated, so it binds to localhost unless
	// told otherwise.
	if c.Control.HTTPAddr == "" {
		c.Control.HTTPAddr = "127.0.0.1:6004"
	}
	if c.Control.PollTimeout == "" {
		c.Control.PollTimeout = "25s"
	}

	if c.Notify.Mode == "" {
		c.Notify.Mode = "queue"
	}
	if c.Notify.QueueDepth == 0 {
		c.Notify.QueueDepth = 1000
	}
	if c.Notify.WebhookTimeout == "" {
		c.Notify.WebhookTimeout = "5s"
	}

	if c.Telemetry.Tracing == "" {
		c.Telemetry.Tracing = "none"
	}
	if c.Telemetry.Metrics == "" {
		c.Telemetry.Metrics = "none"
	}
	if c.Telemetry.MetricInterval == "" {
		c.Telemetry.MetricInterval = "60s"
	}
}

// Port returns the port of Server.HTTPAddr, or 0 if it has none.
func (s ServerConfig) Port() int {
	_, port, err := net.SplitHostPort(s.HTTPAddr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}

// Host returns the host of Server.HTTPAddr; "" means all interfaces.
func (s ServerConfig) Host() string {
	host, _, _ := net.SplitHostPort(s.HTTPAddr)
	return host
}

// RequestTimeoutDuration returns RequestTimeout parsed. Call after Validate.
func (b BridgeConfig) RequestTimeoutDuration() time.Duration { return duration(b.RequestTimeout) }

// KeepaliveDuration returns KeepaliveInterval parsed. Call after Validate.
func (b BridgeConfig) KeepaliveDuration() time.Duration { return duration(b.KeepaliveInterval) }

// MaxEventBodyBytes returns MaxEventBody parsed. Call after Validate.
func (b BridgeConfig) MaxEventBodyBytes() int { return byteSize(b.MaxEventBody) }

// MaxLegacyBodyBytes returns MaxLegacyBody parsed. Call after Validate.
func (b BridgeConfig) MaxLegacyBodyBytes() int { return byteSize(b.MaxLegacyBody) }

// PollTimeoutDuration returns PollTimeout parsed. Call after Validate.
func (c ControlConfig) PollTimeoutDuration() time.Duration { return duration(c.PollTimeout) }

// WebhookTimeoutDuration returns WebhookTimeout parsed. Call after Validate.
func (n NotifyConfig) WebhookTimeoutDuration() time.Duration { return duration(n.WebhookTimeout) }

// MetricIntervalDuration returns MetricInterval parsed. Call after Validate.
func (t TelemetryConfig) MetricIntervalDuration() time.Duration { return duration(t.MetricInterval) }

func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func byteSize(s string) int {
	n, _ := humanize.ParseBytes(s)
	return int(n)
}
