package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const EnvPrefix = "FORTUNES"

// Config is the root configuration of the fortunes client.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Requests  RequestsConfig  `mapstructure:"requests"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Intervals IntervalsConfig `mapstructure:"intervals"`
	Log       LogConfig       `mapstructure:"log"`

	v    *viper.Viper
	file string
}

// ServerConfig points at the Socket.IO server and namespace.
type ServerConfig struct {
	URL              string        `mapstructure:"url"`
	Path             string        `mapstructure:"path"`
	Namespace        string        `mapstructure:"namespace"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

// RequestsConfig bounds mediator and transport round trips.
type RequestsConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	AckTimeout      time.Duration `mapstructure:"ack_timeout"`
	DefaultInterval int           `mapstructure:"default_interval"` // seconds
}

type ReconnectConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Attempts  int           `mapstructure:"attempts"` // 0 = unlimited
	BaseDelay time.Duration `mapstructure:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
}

type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

type IntervalsConfig struct {
	MaxSubscriptions int `mapstructure:"max_subscriptions"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | text
}

// SlogLevel parses Level, falling back to info.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "http://localhost:3000")
	v.SetDefault("server.path", "/socket.io/")
	v.SetDefault("server.namespace", "/fortunes")
	v.SetDefault("server.handshake_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Second)

	v.SetDefault("requests.timeout", 10*time.Second)
	v.SetDefault("requests.ack_timeout", 10*time.Second)
	v.SetDefault("requests.default_interval", 60)

	v.SetDefault("reconnect.enabled", true)
	v.SetDefault("reconnect.attempts", 0)
	v.SetDefault("reconnect.base_delay", 500*time.Millisecond)
	v.SetDefault("reconnect.max_delay", 30*time.Second)

	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.open_timeout", 30*time.Second)

	v.SetDefault("intervals.max_subscriptions", 64)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig reads defaults, the optional config file and FORTUNES_* environment
// overrides, in increasing priority.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.file = path

	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the client cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.URL == "" {
		errs = append(errs, errors.New("server.url is required"))
	}
	if !strings.HasPrefix(c.Server.Namespace, "/") {
		errs = append(errs, fmt.Errorf("server.namespace must start with '/': %q", c.Server.Namespace))
	}
	if c.Server.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("server.handshake_timeout must be positive"))
	}
	if c.Requests.Timeout <= 0 {
		errs = append(errs, errors.New("requests.timeout must be positive"))
	}
	if c.Requests.AckTimeout <= 0 {
		errs = append(errs, errors.New("requests.ack_timeout must be positive"))
	}
	if c.Requests.DefaultInterval <= 0 {
		errs = append(errs, errors.New("requests.default_interval must be positive"))
	}
	if c.Reconnect.Attempts < 0 {
		errs = append(errs, errors.New("reconnect.attempts must not be negative"))
	}
	if c.Intervals.MaxSubscriptions <= 0 {
		errs = append(errs, errors.New("intervals.max_subscriptions must be positive"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text: %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// OnChange watches the config file and calls fn with every valid reload.
// Invalid edits are reported through onErr and otherwise ignored. It is a
// no-op when the config was loaded without a file.
func (c *Config) OnChange(fn func(*Config), onErr func(error)) {
	if c.file == "" || c.v == nil {
		return
	}

	var mu sync.Mutex
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		mu.Lock()
		defer mu.Unlock()

		next, err := decode(c.v)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		next.file = c.file
		fn(next)
	})
	c.v.WatchConfig()
}
