// Package config loads the channel core's construction parameters (spec
// §4.5, §6 "Configuration surface") from YAML, following the same
// load-then-default-then-validate shape as the teacher's internal config
// loader.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every construction parameter a Channel needs beyond the
// Transport itself.
type Config struct {
	SendTimeoutMillis    int `yaml:"send_timeout_millis"`
	ConsumeTimeoutMillis int `yaml:"consume_timeout_millis"`
	CloseTimeoutMillis   int `yaml:"close_timeout_millis"`

	EnvelopeBufferSize int `yaml:"envelope_buffer_size"`

	SendBatchSize            int `yaml:"send_batch_size"`
	SendFlushIntervalMillis  int `yaml:"send_flush_interval_millis"`

	AutoReplyPings  bool `yaml:"auto_reply_pings"`
	FillRecipients  bool `yaml:"fill_recipients"`

	RemotePingIntervalMillis int `yaml:"remote_ping_interval_millis"`
	RemoteIdleTimeoutMillis  int `yaml:"remote_idle_timeout_millis"`
}

// Load reads filename as YAML and applies defaults for every zero-valued
// field, mirroring the teacher's internal/config.Load.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}

	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns a Config with every field at its default, suitable for
// constructing a Channel without a YAML file.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.SendTimeoutMillis == 0 {
		c.SendTimeoutMillis = 30_000
	}
	if c.ConsumeTimeoutMillis == 0 {
		c.ConsumeTimeoutMillis = 30_000
	}
	if c.CloseTimeoutMillis == 0 {
		c.CloseTimeoutMillis = 5_000
	}
	if c.EnvelopeBufferSize == 0 {
		c.EnvelopeBufferSize = 64
	}
	if c.SendBatchSize == 0 {
		c.SendBatchSize = 1
	}
	if c.SendFlushIntervalMillis == 0 {
		c.SendFlushIntervalMillis = 50
	}
	// RemotePingIntervalMillis/RemoteIdleTimeoutMillis default to 0
	// (disabled): the watchdog is opt-in per spec §4.5's "optional
	// remote-ping interval and idle timeout".
}

func (c *Config) validate() error {
	if c.SendTimeoutMillis < 0 {
		return fmt.Errorf("config: send_timeout_millis cannot be negative: %d", c.SendTimeoutMillis)
	}
	if c.ConsumeTimeoutMillis < 0 {
		return fmt.Errorf("config: consume_timeout_millis cannot be negative: %d", c.ConsumeTimeoutMillis)
	}
	if c.CloseTimeoutMillis <= 0 {
		return fmt.Errorf("config: close_timeout_millis must be positive: %d", c.CloseTimeoutMillis)
	}
	if c.EnvelopeBufferSize < 0 {
		return fmt.Errorf("config: envelope_buffer_size cannot be negative: %d", c.EnvelopeBufferSize)
	}
	if c.SendBatchSize <= 0 {
		return fmt.Errorf("config: send_batch_size must be positive: %d", c.SendBatchSize)
	}
	return nil
}

func (c *Config) SendTimeout() time.Duration { return time.Duration(c.SendTimeoutMillis) * time.Millisecond }

// ConsumeTimeout returns 0 (disabled) when ConsumeTimeoutMillis is 0.
func (c *Config) ConsumeTimeout() time.Duration {
	return time.Duration(c.ConsumeTimeoutMillis) * time.Millisecond
}

func (c *Config) CloseTimeout() time.Duration {
	return time.Duration(c.CloseTimeoutMillis) * time.Millisecond
}

func (c *Config) SendFlushInterval() time.Duration {
	return time.Duration(c.SendFlushIntervalMillis) * time.Millisecond
}

func (c *Config) RemotePingInterval() time.Duration {
	return time.Duration(c.RemotePingIntervalMillis) * time.Millisecond
}

func (c *Config) RemoteIdleTimeout() time.Duration {
	return time.Duration(c.RemoteIdleTimeoutMillis) * time.Millisecond
}
