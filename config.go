package webq

// Copyright 2025 mdreamfly. All rights reserved.
// Use of this source code is governed by the MIT
// license which can be found in the LICENSE file.

import (
	"fmt"
	"net"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Config carries every tunable the proxy needs. It is passed to components
// at construction so the rewriter and resolver stay testable without any
// network or process setup.
type Config struct {
	// ListenAddr is the externally reachable address.
	ListenAddr string
	// UpstreamAddr is where the supervised application server listens.
	// It should be loopback only, the public listener is the sole socket
	// meant to be reachable from outside the host.
	UpstreamAddr string
	// MetricsAddr serves prometheus metrics when non-empty.
	MetricsAddr string

	// DialTimeout bounds the upstream connect per session.
	DialTimeout time.Duration
	// RequestLineTimeout bounds the wait for the client's first line.
	RequestLineTimeout time.Duration

	// Encodings is the fallback detection order, IANA names.
	Encodings []string

	// ChildCommand is the application server command line. Empty means the
	// application server is managed externally and nothing is supervised.
	ChildCommand []string
	// ChildStartupDelay is the fixed grace period before accepting starts.
	ChildStartupDelay time.Duration
	// ChildStopTimeout bounds the wait for the child to exit on SIGTERM
	// before it is killed.
	ChildStopTimeout time.Duration
}

// DefaultConfig the baseline configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:         "0.0.0.0:8001",
		UpstreamAddr:       "127.0.0.1:8002",
		DialTimeout:        5 * time.Second,
		RequestLineTimeout: 10 * time.Second,
		Encodings:          append([]string(nil), DefaultEncodings...),
		ChildCommand:       []string{"webq-app", "--addr", "127.0.0.1:8002"},
		ChildStartupDelay:  2 * time.Second,
		ChildStopTimeout:   5 * time.Second,
	}
}

// LoadConfig overlays settings, typically viper.AllSettings, onto the
// defaults and validates the result.
func LoadConfig(settings map[string]interface{}) (*Config, error) {
	cfg := DefaultConfig()

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     cfg,
	})
	if err != nil {
		return nil, err
	}

	if err := dec.Decode(settings); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("invalid listenAddr %q: %w", c.ListenAddr, err)
	}

	if _, _, err := net.SplitHostPort(c.UpstreamAddr); err != nil {
		return fmt.Errorf("invalid upstreamAddr %q: %w", c.UpstreamAddr, err)
	}

	if c.DialTimeout <= 0 {
		return fmt.Errorf("dialTimeout must be positive: %v", c.DialTimeout)
	}

	if c.RequestLineTimeout <= 0 {
		return fmt.Errorf("requestLineTimeout must be positive: %v", c.RequestLineTimeout)
	}

	if len(c.Encodings) == 0 {
		return fmt.Errorf("at least one fallback encoding is required")
	}

	return nil
}
