package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Feed drivers.
const (
	DriverMQTT = "mqtt"
	DriverSim  = "sim"
)

// Actuator write encodings.
const (
	EncodingBool  = "bool"
	EncodingOnOff = "onoff"
)

const envPrefix = "FIELDSYNC"

// Config is the root application configuration.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Staleness StalenessConfig `mapstructure:"staleness"`
	History   HistoryConfig   `mapstructure:"history"`
	Backoff   BackoffConfig   `mapstructure:"backoff"`
	Command   CommandConfig   `mapstructure:"command"`
	DB        DBConfig        `mapstructure:"db"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Topics    []string        `mapstructure:"topics"`
}

type HTTPConfig struct {
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// FeedConfig selects and configures the remote feed.
type FeedConfig struct {
	Driver   string `mapstructure:"driver"` // mqtt | sim
	Broker   string `mapstructure:"broker"` // tcp://host:1883
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Prefix   string `mapstructure:"prefix"`
}

type StalenessConfig struct {
	Threshold time.Duration `mapstructure:"threshold"`
	Tick      time.Duration `mapstructure:"tick"`
}

type HistoryConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type BackoffConfig struct {
	Base time.Duration `mapstructure:"base"`
	Cap  time.Duration `mapstructure:"cap"`
}

// CommandConfig configures the actuator dispatcher.
type CommandConfig struct {
	Timeout        time.Duration             `mapstructure:"timeout"`
	CoalesceWindow time.Duration             `mapstructure:"coalesce_window"`
	Breaker        BreakerConfig             `mapstructure:"breaker"`
	Actuators      map[string]ActuatorConfig `mapstructure:"actuators"`
}

type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenFor     time.Duration `mapstructure:"open_for"`
	Interval    time.Duration `mapstructure:"interval"`
}

// ActuatorConfig binds an actuator to the topic field that confirms it and the path it is written to.
type ActuatorConfig struct {
	Topic    string `mapstructure:"topic"`
	Field    string `mapstructure:"field"`
	Path     string `mapstructure:"path"`
	Encoding string `mapstructure:"encoding"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type SimulatorConfig struct {
	Tick  time.Duration `mapstructure:"tick"`
	Topic string        `mapstructure:"topic"`
}

// Load reads configs/config.yml (if present), FIELDSYNC_* env overrides and defaults.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"configs", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8080")
	v.SetDefault("log.level", "info")

	v.SetDefault("feed.driver", DriverSim)
	v.SetDefault("feed.broker", "tcp://localhost:1883")
	v.SetDefault("feed.client_id", "fieldsync")
	v.SetDefault("feed.prefix", "farm")

	v.SetDefault("staleness.threshold", 15*time.Second)
	v.SetDefault("staleness.tick", 2*time.Second)
	v.SetDefault("history.capacity", 288)
	v.SetDefault("backoff.base", time.Second)
	v.SetDefault("backoff.cap", 30*time.Second)

	v.SetDefault("command.timeout", 10*time.Second)
	v.SetDefault("command.coalesce_window", 50*time.Millisecond)
	v.SetDefault("command.breaker.max_failures", 5)
	v.SetDefault("command.breaker.open_for", 30*time.Second)
	v.SetDefault("command.breaker.interval", time.Minute)
	v.SetDefault("command.actuators", map[string]any{
		"pump": map[string]any{
			"topic":    "Irrigation",
			"field":    "pumpStatus",
			"path":     "Irrigation/pumpStatus",
			"encoding": EncodingBool,
		},
	})

	v.SetDefault("db.path", "fieldsync.db")
	v.SetDefault("simulator.tick", 5*time.Second)
	v.SetDefault("simulator.topic", "Irrigation")
	v.SetDefault("topics", []string{"Irrigation"})
}

func (c *Config) normalize() {
	c.Feed.Driver = strings.ToLower(strings.TrimSpace(c.Feed.Driver))
	c.Feed.Prefix = strings.Trim(c.Feed.Prefix, "/")
	for id, a := range c.Command.Actuators {
		a.Encoding = strings.ToLower(strings.TrimSpace(a.Encoding))
		if a.Encoding == "" {
			a.Encoding = EncodingBool
		}
		if a.Path == "" && a.Topic != "" && a.Field != "" {
			a.Path = a.Topic + "/" + a.Field
		}
		c.Command.Actuators[id] = a
	}
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	switch c.Feed.Driver {
	case DriverMQTT:
		if c.Feed.Broker == "" {
			return errors.New("feed.broker is required for the mqtt driver")
		}
	case DriverSim:
	default:
		return fmt.Errorf("feed.driver %q: must be %q or %q", c.Feed.Driver, DriverMQTT, DriverSim)
	}
	if c.Staleness.Threshold <= 0 {
		return errors.New("staleness.threshold must be > 0")
	}
	if c.Staleness.Tick <= 0 {
		return errors.New("staleness.tick must be > 0")
	}
	if c.History.Capacity <= 0 {
		return errors.New("history.capacity must be > 0")
	}
	if c.Backoff.Base <= 0 || c.Backoff.Cap < c.Backoff.Base {
		return errors.New("backoff: base must be > 0 and cap >= base")
	}
	if c.Command.Timeout <= 0 {
		return errors.New("command.timeout must be > 0")
	}
	if c.Command.CoalesceWindow < 0 {
		return errors.New("command.coalesce_window must be >= 0")
	}
	for id, a := range c.Command.Actuators {
		if a.Topic == "" || a.Field == "" {
			return fmt.Errorf("command.actuators.%s: topic and field are required", id)
		}
		if a.Encoding != EncodingBool && a.Encoding != EncodingOnOff {
			return fmt.Errorf("command.actuators.%s: encoding %q: must be %q or %q", id, a.Encoding, EncodingBool, EncodingOnOff)
		}
	}
	return nil
}
