package config

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates problems that must stop startup from values
// that were clamped or are merely suspicious.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	return append(all, r.Warnings...)
}

// ValidateTiered checks the config. Out-of-range numbers are clamped in
// place and reported as warnings. Warnings are logged.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult
	fatal := func(format string, args ...any) { r.Fatals = append(r.Fatals, fmt.Errorf(format, args...)) }
	warn := func(format string, args ...any) { r.Warnings = append(r.Warnings, fmt.Errorf(format, args...)) }

	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		fatal("listen_addr %q is not a valid host:port: %w", c.ListenAddr, err)
	}
	if c.StatusAddr != "" {
		if _, _, err := net.SplitHostPort(c.StatusAddr); err != nil {
			fatal("status_addr %q is not a valid host:port: %w", c.StatusAddr, err)
		}
	}
	if strings.TrimSpace(c.Engine) == "" {
		fatal("engine must name a protocol engine driver")
	}
	if c.TLSCertificate == "" {
		fatal("tls_certificate is required")
	}
	if c.TLSCertificateKey == "" {
		fatal("tls_certificate_key is required")
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		fatal("log_format %q is not valid (use text or json)", c.LogFormat)
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		warn("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel)
	}
	if !c.UseSystemLogin && len(c.Users) == 0 && c.UsersFile == "" {
		warn("no users configured and system login disabled; every logon will be rejected")
	}
	for i, u := range c.Users {
		if strings.TrimSpace(u.Name) == "" {
			warn("users[%d] has an empty name and can never match", i)
		}
		if u.Password == "" {
			warn("users[%d] (%s) has an empty password and will be skipped", i, u.Name)
		}
	}
	if c.UseSystemLogin && c.SystemLoginService == "" {
		warn("system_login_service is empty, using \"login\"")
		c.SystemLoginService = "login"
	}

	c.MaxSessions = clampInt(&r, "max_sessions", c.MaxSessions, 1, 1024)
	c.AcceptBurst = clampInt(&r, "accept_burst", c.AcceptBurst, 1, 1000)
	c.NetworkSampleIntervalMs = clampInt(&r, "network_sample_interval_ms", c.NetworkSampleIntervalMs, 100, 60000)
	if c.AcceptRatePerSecond <= 0 {
		warn("accept_rate_per_second %v must be positive, clamping to 1", c.AcceptRatePerSecond)
		c.AcceptRatePerSecond = 1
	}

	for _, err := range r.Warnings {
		slog.Warn("config validation", "error", err)
	}
	return r
}

func clampInt(r *ValidationResult, key string, v, lo, hi int) int {
	if v < lo {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", key, v, lo))
		return lo
	}
	if v > hi {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, v, hi))
		return hi
	}
	return v
}
