package config

import (
	"fmt"
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := Default()
	cfg.TLSCertificate = "/etc/breeze/rdp.crt"
	cfg.TLSCertificateKey = "/etc/breeze/rdp.key"
	cfg.Users = []UserEntry{{Name: "alice", Password: "secret"}}
	return cfg
}

func TestValidConfigHasNoErrors(t *testing.T) {
	result := validConfig().ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("valid config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("valid config has warnings: %v", result.Warnings)
	}
}

func TestValidateTieredMissingTLSIsFatal(t *testing.T) {
	cfg := validConfig()
	cfg.TLSCertificate = ""
	cfg.TLSCertificateKey = ""
	result := cfg.ValidateTiered()
	if len(result.Fatals) != 2 {
		t.Fatalf("Fatals = %v, want two TLS errors", result.Fatals)
	}
}

func TestValidateTieredBadListenAddrIsFatal(t *testing.T) {
	cfg := validConfig()
	cfg.ListenAddr = "3389"
	if !cfg.ValidateTiered().HasFatals() {
		t.Fatal("listen_addr without port separator should be fatal")
	}
}

func TestValidateTieredInvalidLogFormatIsFatal(t *testing.T) {
	cfg := validConfig()
	cfg.LogFormat = "xml"
	if !cfg.ValidateTiered().HasFatals() {
		t.Fatal("invalid log format should be fatal")
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown log level")
	}
}

func TestValidateTieredEmptyPasswordUserIsWarning(t *testing.T) {
	cfg := validConfig()
	cfg.Users = append(cfg.Users, UserEntry{Name: "bob"})
	result := cfg.ValidateTiered()
	found := false
	for _, err := range result.Warnings {
		if strings.Contains(err.Error(), "bob") && strings.Contains(err.Error(), "empty password") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected empty-password warning, got %v", result.Warnings)
	}
}

func TestValidateTieredNoUsersIsWarning(t *testing.T) {
	cfg := validConfig()
	cfg.Users = nil
	result := cfg.ValidateTiered()
	if result.HasFatals() || len(result.Warnings) != 1 {
		t.Fatalf("want a single warning, got fatals=%v warnings=%v", result.Fatals, result.Warnings)
	}
}

func TestValidateTieredClamping(t *testing.T) {
	cfg := validConfig()
	cfg.MaxSessions = 0
	cfg.AcceptBurst = 5000
	cfg.NetworkSampleIntervalMs = 1
	cfg.AcceptRatePerSecond = -1
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamping should be warning, not fatal: %v", result.Fatals)
	}
	if cfg.MaxSessions != 1 || cfg.AcceptBurst != 1000 || cfg.NetworkSampleIntervalMs != 100 || cfg.AcceptRatePerSecond != 1 {
		t.Fatalf("unexpected clamped values: %+v", cfg)
	}
	if len(result.Warnings) != 4 {
		t.Fatalf("Warnings = %v, want 4", result.Warnings)
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := validConfig()
	cfg.TLSCertificate = ""  // fatal
	cfg.LogLevel = "verbose" // warning
	all := cfg.ValidateTiered().AllErrors()
	if len(all) != 2 {
		t.Fatalf("AllErrors() returned %d errors, want 2", len(all))
	}
}
