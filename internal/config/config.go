package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// UserEntry is a configured user as it appears in the main config file.
type UserEntry struct {
	Name     string `mapstructure:"name"`
	Password string `mapstructure:"password"`
}

type Config struct {
	ListenAddr         string      `mapstructure:"listen_addr"`
	Engine             string      `mapstructure:"engine"`
	TLSCertificate     string      `mapstructure:"tls_certificate"`
	TLSCertificateKey  string      `mapstructure:"tls_certificate_key"`
	UseSystemLogin     bool        `mapstructure:"use_system_login"`
	SystemLoginService string      `mapstructure:"system_login_service"`
	Users              []UserEntry `mapstructure:"users"`
	UsersFile          string      `mapstructure:"users_file"`
	EnableNLA          string      `mapstructure:"enable_nla"`

	MaxSessions         int     `mapstructure:"max_sessions"`
	AcceptRatePerSecond float64 `mapstructure:"accept_rate_per_second"`
	AcceptBurst         int     `mapstructure:"accept_burst"`

	StatusAddr              string `mapstructure:"status_addr"`
	NetworkSampleIntervalMs int    `mapstructure:"network_sample_interval_ms"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	AuditEnabled    bool   `mapstructure:"audit_enabled"`
	AuditFile       string `mapstructure:"audit_file"`
	AuditMaxSizeMB  int    `mapstructure:"audit_max_size_mb"`
	AuditMaxBackups int    `mapstructure:"audit_max_backups"`

	// enableNLASet records an explicitly empty enable_nla, which counts as on.
	enableNLASet bool
}

func Default() *Config {
	return &Config{
		ListenAddr:              ":3389",
		Engine:                  "freerdp",
		SystemLoginService:      "login",
		MaxSessions:             16,
		AcceptRatePerSecond:     2,
		AcceptBurst:             5,
		NetworkSampleIntervalMs: 1000,
		LogLevel:                "info",
		LogFormat:               "text",
		LogMaxSizeMB:            50,
		LogMaxBackups:           3,
		AuditEnabled:            true,
		AuditFile:               filepath.Join(DataDir(), "rdpd-audit.jsonl"),
		AuditMaxSizeMB:          50,
		AuditMaxBackups:         3,
	}
}

// Load reads cfgFile, or rdpd.yaml from the standard locations, on top of
// the defaults. Environment variables prefixed BREEZE_RDP_ override both.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("rdpd")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("BREEZE_RDP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.enableNLASet = v.IsSet("enable_nla")
	return cfg, nil
}

// bindEnv registers every scalar key so AutomaticEnv can populate keys that
// are absent from the config file.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"listen_addr", "engine", "tls_certificate", "tls_certificate_key",
		"use_system_login", "system_login_service", "users_file", "enable_nla",
		"max_sessions", "accept_rate_per_second", "accept_burst",
		"status_addr", "network_sample_interval_ms",
		"log_level", "log_format", "log_file", "log_max_size_mb", "log_max_backups",
		"audit_enabled", "audit_file", "audit_max_size_mb", "audit_max_backups",
	} {
		_ = v.BindEnv(key)
	}
}

// NLAEnabled reports whether the strong-authentication security mode is
// offered to clients. Unset means off; 0, false, no and off (any case,
// surrounding space ignored) mean off; any other value means on.
func (c *Config) NLAEnabled() bool {
	return ParseSwitch(c.EnableNLA, c.enableNLASet || c.EnableNLA != "")
}

// ParseSwitch applies the on/off rules of NLAEnabled to a raw value. set
// distinguishes an absent setting from an explicitly empty one.
func ParseSwitch(value string, set bool) bool {
	if !set {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "0", "false", "no", "off":
		return false
	}
	return true
}

// DataDir is where rdpd keeps state such as the audit log.
func DataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Breeze", "rdpd")
	case "darwin":
		return "/Library/Application Support/Breeze/rdpd"
	default:
		return "/var/lib/breeze/rdpd"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Breeze")
	case "darwin":
		return "/Library/Application Support/Breeze"
	default:
		return "/etc/breeze"
	}
}
