package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds worker-level settings. Bus backend configuration lives with
// the bus package.
type Config struct {
	ListenAddr      string        // HTTP listen address
	Bus             string        // "redis", "amqp", or "none"
	SweepInterval   time.Duration // idle-connection check interval
	InactiveAfter   time.Duration // idle time before a connection is dropped
	SendBuffer      int           // per-client outbound queue size
	ReadBufferSize  int           // WebSocket read buffer
	WriteBufferSize int           // WebSocket write buffer
}

// Default returns the default worker configuration.
func Default() *Config {
	return &Config{
		ListenAddr:      ":8080",
		Bus:             "redis",
		SweepInterval:   30 * time.Second,
		InactiveAfter:   5 * time.Minute,
		SendBuffer:      256,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// FromEnv loads worker configuration from environment variables, falling back
// to defaults for any missing or malformed values.
func FromEnv() *Config {
	cfg := Default()

	if addr := os.Getenv("PRESENCE_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if b := os.Getenv("PRESENCE_BUS"); b != "" {
		cfg.Bus = b
	}
	if v := os.Getenv("PRESENCE_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SweepInterval = d
		}
	}
	if v := os.Getenv("PRESENCE_INACTIVE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.InactiveAfter = d
		}
	}
	if v := os.Getenv("PRESENCE_SEND_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SendBuffer = n
		}
	}
	if v := os.Getenv("PRESENCE_READ_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ReadBufferSize = n
		}
	}
	if v := os.Getenv("PRESENCE_WRITE_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WriteBufferSize = n
		}
	}
	return cfg
}
