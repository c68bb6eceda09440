// Package config loads and holds all proxy configuration.
// Settings are layered: defaults → proxy-config.json → environment variables
// (env vars win).
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds the full proxy configuration.
type Config struct {
	ListenPort  int    `json:"listenPort"`
	BindAddress string `json:"bindAddress"`
	LogLevel    string `json:"logLevel"`

	CACertFile string `json:"caCertFile"`
	CAKeyFile  string `json:"caKeyFile"`

	ManagementPort  int    `json:"managementPort"`
	ManagementToken string `json:"managementToken"`

	IdleTimeout      time.Duration `json:"idleTimeout"`
	ConnectTimeout   time.Duration `json:"connectTimeout"`
	HandshakeTimeout time.Duration `json:"handshakeTimeout"`
	ShutdownTimeout  time.Duration `json:"shutdownTimeout"`

	MaxHeaderBytes       int `json:"maxHeaderBytes"`
	CertCacheMaxHosts    int `json:"certCacheMaxHosts"`
	EventChannelCapacity int `json:"eventChannelCapacity"`

	// EventHistoryFile is an optional bbolt path backing a durable
	// inspection event history. Empty disables persistence: events are
	// still emitted on the channel, just not retained across restarts.
	EventHistoryFile string `json:"eventHistoryFile"`
}

// Load returns config with defaults overridden by proxy-config.json and env vars.
func Load() *Config {
	cfg := defaults()
	loadFile(cfg, "proxy-config.json")
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		ListenPort:           8080,
		BindAddress:          "127.0.0.1",
		LogLevel:             "info",
		CACertFile:           "cert/ca.pem",
		CAKeyFile:            "cert/key.pem",
		ManagementPort:       8081,
		IdleTimeout:          30 * time.Second,
		ConnectTimeout:       10 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		ShutdownTimeout:      10 * time.Second,
		MaxHeaderBytes:       64 * 1024,
		CertCacheMaxHosts:    1024,
		EventChannelCapacity: 16,
	}
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) //nolint:gosec // G703: path is a controlled config file path, not user input
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[CONFIG] Loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("LISTEN_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ListenPort = n
		}
	}
	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CA_CERT_FILE"); v != "" {
		cfg.CACertFile = v
	}
	if v := os.Getenv("CA_KEY_FILE"); v != "" {
		cfg.CAKeyFile = v
	}
	if v := os.Getenv("MANAGEMENT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ManagementPort = n
		}
	}
	if v := os.Getenv("MANAGEMENT_TOKEN"); v != "" {
		cfg.ManagementToken = v
	}
	if v := os.Getenv("IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.IdleTimeout = d
		}
	}
	if v := os.Getenv("CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ConnectTimeout = d
		}
	}
	if v := os.Getenv("HANDSHAKE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HandshakeTimeout = d
		}
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("CERT_CACHE_MAX_HOSTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CertCacheMaxHosts = n
		}
	}
	if v := os.Getenv("EVENT_CHANNEL_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EventChannelCapacity = n
		}
	}
	if v := os.Getenv("EVENT_HISTORY_FILE"); v != "" {
		cfg.EventHistoryFile = v
	}
}
