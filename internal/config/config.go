// Package config binds the gateway's CLI flags and environment variables
// into a single validated Config, the way the teacher's sibling server
// binds its own flat server/websocket/metrics sections with viper.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"terminalgw/internal/session"
)

// Config holds all runtime configuration for terminalgw.
type Config struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	StaticDir       string        `mapstructure:"static_dir"`
	Terminal        string        `mapstructure:"terminal"`
	TerminalHost    string        `mapstructure:"-"`
	TerminalPort    int           `mapstructure:"-"`
	PasswordHash    string        `mapstructure:"password_hash"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxSessions     int           `mapstructure:"max_sessions"`
	SessionTimeout  time.Duration `mapstructure:"session_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	Compression     bool          `mapstructure:"compression"`
	SSL             bool          `mapstructure:"ssl"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	LogLevel        string        `mapstructure:"log_level"`
	LogDevelopment  bool          `mapstructure:"log_development"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	EventBusURL     string        `mapstructure:"eventbus_url"`
}

// BindFlags registers the gateway's flag surface on fs and returns a
// viper instance bound to those flags plus TERMINALGW_-prefixed
// environment variables, mirroring go-server-3's env-prefixed viper
// setup but against pflag instead of a bare flag.FlagSet.
func BindFlags(fs *pflag.FlagSet) *viper.Viper {
	fs.String("host", "0.0.0.0", "address to listen on")
	fs.Int("port", 3000, "port to listen on")
	fs.String("static-dir", "./static", "directory of static files to serve")
	fs.String("terminal", "127.0.0.1:7681", "backend terminal service as HOST:PORT (IP literal)")
	fs.String("password-hash", "", "bcrypt hash of the login password")
	fs.Int("max-connections", 10000, "maximum simultaneous client connections")
	fs.Int("max-sessions", 10000, "maximum concurrent authenticated sessions")
	fs.Int("session-timeout", 86400, "session expiry, in seconds")
	fs.Int("idle-timeout", 120, "per-connection idle timeout, in seconds")
	fs.Bool("compression", false, "accepted but has no effect: permessage-deflate is not implemented")
	fs.Bool("ssl", false, "accepted but has no effect: the client-facing listener does not terminate TLS")
	fs.String("metrics-addr", ":9095", "address for the admin/metrics listener")
	fs.String("log-level", "info", "zap log level")
	fs.Bool("log-development", false, "use zap's human-friendly development encoder")
	fs.String("jwt-secret", "", "HMAC secret for bearer-token verification")
	fs.String("eventbus-url", "", "NATS URL for lifecycle telemetry (empty disables)")
	fs.Bool("version", false, "print version and exit")

	v := viper.New()
	v.SetEnvPrefix("TERMINALGW")
	v.AutomaticEnv()
	_ = v.BindPFlags(fs)
	return v
}

// Load resolves bound flags/env into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Host:           v.GetString("host"),
		Port:           v.GetInt("port"),
		StaticDir:      v.GetString("static-dir"),
		Terminal:       v.GetString("terminal"),
		PasswordHash:   v.GetString("password-hash"),
		MaxConnections: v.GetInt("max-connections"),
		MaxSessions:    v.GetInt("max-sessions"),
		SessionTimeout: time.Duration(v.GetInt("session-timeout")) * time.Second,
		IdleTimeout:    time.Duration(v.GetInt("idle-timeout")) * time.Second,
		Compression:    v.GetBool("compression"),
		SSL:            v.GetBool("ssl"),
		MetricsAddr:    v.GetString("metrics-addr"),
		LogLevel:       v.GetString("log-level"),
		LogDevelopment: v.GetBool("log-development"),
		JWTSecret:      v.GetString("jwt-secret"),
		EventBusURL:    v.GetString("eventbus-url"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate enforces the bootstrap-time checks spec.md and SPEC_FULL.md
// call out: a parseable IP-literal terminal address (no blocking DNS on
// the event-loop thread), and a positive session timeout.
func (c *Config) validate() error {
	host, portStr, err := net.SplitHostPort(c.Terminal)
	if err != nil {
		return fmt.Errorf("config: --terminal must be HOST:PORT: %w", err)
	}
	if net.ParseIP(host) == nil {
		return fmt.Errorf("config: --terminal host %q must be an IP literal, not a hostname", host)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("config: --terminal port %q is invalid", portStr)
	}
	c.TerminalHost = host
	c.TerminalPort = port

	if c.SessionTimeout <= 0 {
		return fmt.Errorf("config: --session-timeout must be positive")
	}
	if c.PasswordHash != "" {
		if err := session.ValidateHashFormat(c.PasswordHash); err != nil {
			return fmt.Errorf("config: --password-hash: %w", err)
		}
	}
	return nil
}
