package config

import (
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Result separates fatal misconfiguration (blocks startup) from
// out-of-range values that were clamped to a safe default (logged as a
// warning, startup continues), matching the teacher's tiered validation
// pattern.
type Result struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal validation error was recorded.
func (r Result) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings as a single slice.
func (r Result) AllErrors() []error {
	out := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	out = append(out, r.Fatals...)
	out = append(out, r.Warnings...)
	return out
}

// ValidationResult is an alias kept for callers grounded in the teacher's
// naming.
type ValidationResult = Result

// ValidateTiered checks the config, clamping dangerous out-of-range values
// to a safe default (recorded as a warning) and rejecting structurally
// invalid values outright (recorded as fatal).
func (c *Config) ValidateTiered() Result {
	var r Result

	if c.Region != "" {
		region := strings.ToLower(strings.TrimSpace(c.Region))
		for _, ch := range region {
			if ch == ' ' || ch == '\t' || ch == '\n' {
				r.Fatals = append(r.Fatals, fmt.Errorf("region %q contains whitespace", c.Region))
				break
			}
		}
		c.Region = region
	}

	if c.ConnectTimeoutSeconds < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("connect_timeout_seconds %d is below minimum 1, clamping", c.ConnectTimeoutSeconds))
		c.ConnectTimeoutSeconds = 1
	} else if c.ConnectTimeoutSeconds > 120 {
		r.Warnings = append(r.Warnings, fmt.Errorf("connect_timeout_seconds %d exceeds maximum 120, clamping", c.ConnectTimeoutSeconds))
		c.ConnectTimeoutSeconds = 120
	}

	if c.MaxSessions < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("max_sessions %d is below minimum 1, clamping", c.MaxSessions))
		c.MaxSessions = 1
	} else if c.MaxSessions > 64 {
		r.Warnings = append(r.Warnings, fmt.Errorf("max_sessions %d exceeds maximum 64, clamping", c.MaxSessions))
		c.MaxSessions = 64
	}

	if c.MaxRetryCount < 0 {
		r.Fatals = append(r.Fatals, fmt.Errorf("max_retry_count %d must be >= 0 (0 means retry forever)", c.MaxRetryCount))
		c.MaxRetryCount = 0
	}

	if c.RestRetryAttempts < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("rest_retry_attempts %d is negative, clamping to 0", c.RestRetryAttempts))
		c.RestRetryAttempts = 0
	} else if c.RestRetryAttempts > 100 {
		r.Warnings = append(r.Warnings, fmt.Errorf("rest_retry_attempts %d exceeds maximum 100, clamping", c.RestRetryAttempts))
		c.RestRetryAttempts = 100
	}

	if c.RestRetryDelayMs < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("rest_retry_delay_ms %d is below minimum 1, clamping", c.RestRetryDelayMs))
		c.RestRetryDelayMs = 1
	}

	if c.WssPingIntervalSeconds < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("wss_ping_interval_seconds %d is below minimum 1, clamping", c.WssPingIntervalSeconds))
		c.WssPingIntervalSeconds = 1
	}

	if c.MessageTTLSeconds < 5 {
		r.Warnings = append(r.Warnings, fmt.Errorf("message_ttl_seconds %d is below minimum 5, clamping", c.MessageTTLSeconds))
		c.MessageTTLSeconds = 5
	} else if c.MessageTTLSeconds > 120 {
		r.Warnings = append(r.Warnings, fmt.Errorf("message_ttl_seconds %d exceeds maximum 120, clamping", c.MessageTTLSeconds))
		c.MessageTTLSeconds = 120
	}

	if c.PendingQueueExpirySeconds < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("pending_queue_expiry_seconds %d is below minimum 1, clamping", c.PendingQueueExpirySeconds))
		c.PendingQueueExpirySeconds = 1
	}

	if c.SessionCleanupWaitSeconds < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("session_cleanup_wait_seconds %d is below minimum 1, clamping", c.SessionCleanupWaitSeconds))
		c.SessionCleanupWaitSeconds = 1
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error), defaulting to info", c.LogLevel))
		c.LogLevel = "info"
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json), defaulting to text", c.LogFormat))
		c.LogFormat = "text"
	}

	return r
}
