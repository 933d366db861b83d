package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the relay runtime parameters.
type Config struct {
	ListenAddress       string        `mapstructure:"listen_address"`
	LogLevel            string        `mapstructure:"log_level"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
	Relay               RelayConfig   `mapstructure:"relay"`
	Admin               AdminConfig   `mapstructure:"admin"`
}

// RelayConfig tunes per-session buffering and housekeeping.
type RelayConfig struct {
	SendBuffer         int           `mapstructure:"send_buffer"`
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
}

// AdminConfig describes the metrics/health endpoint. Empty address disables it.
type AdminConfig struct {
	Address           string        `mapstructure:"address"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

const (
	defaultListenAddress       = "0.0.0.0:5000"
	defaultLogLevel            = "info"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultSendBuffer          = 32
	defaultSessionIdleTimeout  = 30 * time.Minute
	defaultSweepInterval       = time.Minute
	defaultReadHeaderTimeout   = 5 * time.Second
)

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with SHADOW_ and can override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHADOW")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("listen_address", defaultListenAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("relay.send_buffer", defaultSendBuffer)
	v.SetDefault("relay.session_idle_timeout", defaultSessionIdleTimeout.String())
	v.SetDefault("relay.sweep_interval", defaultSweepInterval.String())
	v.SetDefault("admin.address", "")
	v.SetDefault("admin.read_header_timeout", defaultReadHeaderTimeout.String())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	durations := []struct {
		key      string
		target   *time.Duration
		fallback time.Duration
	}{
		{"shutdown_grace_period", &cfg.ShutdownGracePeriod, defaultShutdownGracePeriod},
		{"relay.session_idle_timeout", &cfg.Relay.SessionIdleTimeout, defaultSessionIdleTimeout},
		{"relay.sweep_interval", &cfg.Relay.SweepInterval, defaultSweepInterval},
		{"admin.read_header_timeout", &cfg.Admin.ReadHeaderTimeout, defaultReadHeaderTimeout},
	}
	for _, d := range durations {
		if !v.IsSet(d.key) {
			*d.target = d.fallback
			continue
		}
		dur, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.target = dur
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListenAddress
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.Relay.SendBuffer <= 0 {
		cfg.Relay.SendBuffer = defaultSendBuffer
	}

	return cfg, nil
}
