// Package config loads the bootstrap tunables an embedding application can
// override without recompiling: connect timeout, REST/WSS retry policy,
// keepalive intervals, queue sizes, and the CA bundle path (spec §1 ambient
// stack, §4.9, §5). pkg/signaling.Create accepts a programmatic Options
// struct directly; config.Load is a convenience for embedders that prefer a
// YAML file, adapted from the teacher's spf13/viper bootstrap loader
// (agent/internal/config/config.go).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/kvs-signaling/core/internal/logging"
)

var log = logging.L("config")

// Config holds the signaling core's operator-tunable defaults.
type Config struct {
	Region string `mapstructure:"region"`

	ConnectTimeoutSeconds int `mapstructure:"connect_timeout_seconds"`
	MaxSessions           int `mapstructure:"max_sessions"`

	Retry         bool `mapstructure:"retry"`
	MaxRetryCount int  `mapstructure:"max_retry_count"` // 0 = retry forever

	RestRetryAttempts int `mapstructure:"rest_retry_attempts"`
	RestRetryDelayMs  int `mapstructure:"rest_retry_delay_ms"`

	WssPingIntervalSeconds    int `mapstructure:"wss_ping_interval_seconds"`
	MessageTTLSeconds         int `mapstructure:"message_ttl_seconds"`
	PendingQueueExpirySeconds int `mapstructure:"pending_queue_expiry_seconds"`
	SessionCleanupWaitSeconds int `mapstructure:"session_cleanup_wait_seconds"`

	CABundlePath string `mapstructure:"ca_bundle_path"`

	Reconnect   bool `mapstructure:"reconnect"`
	AsyncIce    bool `mapstructure:"async_ice"`
	CachePolicy bool `mapstructure:"cache_policy"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Default returns the config matching spec §4.9/§5's defaults: 10s connect
// timeout, 3 concurrent sessions, 10-attempt/100ms REST retry, 10s WSS
// ping, 60s message TTL, 60s pending-queue expiry, 1s session-GC cadence.
func Default() *Config {
	return &Config{
		ConnectTimeoutSeconds:     10,
		MaxSessions:               3,
		Retry:                     true,
		MaxRetryCount:             0,
		RestRetryAttempts:         10,
		RestRetryDelayMs:          100,
		WssPingIntervalSeconds:    10,
		MessageTTLSeconds:         60,
		PendingQueueExpirySeconds: 60,
		SessionCleanupWaitSeconds: 1,
		Reconnect:                 true,
		AsyncIce:                  false,
		CachePolicy:               false,
		LogLevel:                  "info",
		LogFormat:                 "text",
	}
}

// Load reads a YAML config file (or the platform default location if
// cfgFile is empty), overlays environment variables prefixed KVSSIG_, and
// validates the result. Fatal validation errors block startup; warnings
// clamp to a safe value and are logged.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("kvs-signaling")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("KVSSIG")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

// Save writes cfg to the platform default config path.
func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

// SaveTo writes cfg as YAML to cfgFile, or the platform default path if empty.
func SaveTo(cfg *Config, cfgFile string) error {
	v := viper.New()
	v.Set("region", cfg.Region)
	v.Set("connect_timeout_seconds", cfg.ConnectTimeoutSeconds)
	v.Set("max_sessions", cfg.MaxSessions)
	v.Set("retry", cfg.Retry)
	v.Set("max_retry_count", cfg.MaxRetryCount)
	v.Set("rest_retry_attempts", cfg.RestRetryAttempts)
	v.Set("rest_retry_delay_ms", cfg.RestRetryDelayMs)
	v.Set("wss_ping_interval_seconds", cfg.WssPingIntervalSeconds)
	v.Set("message_ttl_seconds", cfg.MessageTTLSeconds)
	v.Set("pending_queue_expiry_seconds", cfg.PendingQueueExpirySeconds)
	v.Set("session_cleanup_wait_seconds", cfg.SessionCleanupWaitSeconds)
	v.Set("ca_bundle_path", cfg.CABundlePath)
	v.Set("reconnect", cfg.Reconnect)
	v.Set("async_ice", cfg.AsyncIce)
	v.Set("cache_policy", cfg.CachePolicy)
	v.Set("log_level", cfg.LogLevel)
	v.Set("log_format", cfg.LogFormat)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		if dir := filepath.Dir(cfgPath); dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "kvs-signaling.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := v.WriteConfigAs(cfgPath); err != nil {
		return err
	}
	return os.Chmod(cfgPath, 0600)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "KvsSignaling")
	case "darwin":
		return "/Library/Application Support/KvsSignaling"
	default:
		return "/etc/kvs-signaling"
	}
}
