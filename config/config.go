// Package config loads the obdsig application configuration from file,
// environment and flags.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"obd-signal-core/logger"
	"obd-signal-core/signalset"
)

const (
	EnvPrefix = "OBDSIG"
	FileName  = "obdsig"
)

type Config struct {
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Vehicle    VehicleConfig    `mapstructure:"vehicle" yaml:"vehicle"`
	CAN        CANConfig        `mapstructure:"can" yaml:"can"`
	Validation ValidationConfig `mapstructure:"validation" yaml:"validation"`
	Sinks      SinksConfig      `mapstructure:"sinks" yaml:"sinks"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

type VehicleConfig struct {
	ModelYear int    `mapstructure:"model_year" yaml:"model_year"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
}

type CANConfig struct {
	Interface      string        `mapstructure:"interface" yaml:"interface"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	Retries        uint          `mapstructure:"retries" yaml:"retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	Padding        int           `mapstructure:"padding" yaml:"padding"`
}

type ValidationConfig struct {
	Policy            string `mapstructure:"policy" yaml:"policy"`
	SubstituteUnknown bool   `mapstructure:"substitute_unknown" yaml:"substitute_unknown"`
}

type SinksConfig struct {
	Log   LogSinkConfig `mapstructure:"log" yaml:"log"`
	MQTT  MQTTConfig    `mapstructure:"mqtt" yaml:"mqtt"`
	Redis RedisConfig   `mapstructure:"redis" yaml:"redis"`
}

type LogSinkConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Level   string `mapstructure:"level" yaml:"level"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker      string `mapstructure:"broker" yaml:"broker"`
	ClientID    string `mapstructure:"client_id" yaml:"client_id"`
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	QoS         int    `mapstructure:"qos" yaml:"qos"`
	Retain      bool   `mapstructure:"retain" yaml:"retain"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Channel  string `mapstructure:"channel" yaml:"channel"`
	History  int64  `mapstructure:"history" yaml:"history"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		CAN: CANConfig{
			Interface:      "vcan0",
			RequestTimeout: 500 * time.Millisecond,
			Retries:        2,
			RetryDelay:     50 * time.Millisecond,
			Padding:        0xAA,
		},
		Validation: ValidationConfig{Policy: string(signalset.PolicyReject)},
		Sinks: SinksConfig{
			Log:   LogSinkConfig{Enabled: true, Level: "info"},
			MQTT:  MQTTConfig{ClientID: "obdsig", TopicPrefix: "obd"},
			Redis: RedisConfig{Addr: "localhost:6379", Channel: "obd:samples", History: 1000},
		},
		Metrics: MetricsConfig{Addr: ":9108"},
	}
}

// NewViper returns a viper instance with defaults, the OBDSIG_ environment
// and, when found, the config file. An explicit path must exist; otherwise
// obdsig.yaml is searched in the working directory and $HOME/.obdsig.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		return v, nil
	}

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.obdsig")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}
	return v, nil
}

// setDefaults registers every key so the environment can override it.
func setDefaults(v *viper.Viper) {
	d := Default()
	defaults := map[string]any{
		"log.level":                     d.Log.Level,
		"log.format":                    d.Log.Format,
		"log.file":                      d.Log.File,
		"vehicle.model_year":            d.Vehicle.ModelYear,
		"vehicle.prefix":                d.Vehicle.Prefix,
		"can.interface":                 d.CAN.Interface,
		"can.request_timeout":           d.CAN.RequestTimeout,
		"can.retries":                   d.CAN.Retries,
		"can.retry_delay":               d.CAN.RetryDelay,
		"can.padding":                   d.CAN.Padding,
		"validation.policy":             d.Validation.Policy,
		"validation.substitute_unknown": d.Validation.SubstituteUnknown,
		"sinks.log.enabled":             d.Sinks.Log.Enabled,
		"sinks.log.level":               d.Sinks.Log.Level,
		"sinks.mqtt.enabled":            d.Sinks.MQTT.Enabled,
		"sinks.mqtt.broker":             d.Sinks.MQTT.Broker,
		"sinks.mqtt.client_id":          d.Sinks.MQTT.ClientID,
		"sinks.mqtt.username":           d.Sinks.MQTT.Username,
		"sinks.mqtt.password":           d.Sinks.MQTT.Password,
		"sinks.mqtt.topic_prefix":       d.Sinks.MQTT.TopicPrefix,
		"sinks.mqtt.qos":                d.Sinks.MQTT.QoS,
		"sinks.mqtt.retain":             d.Sinks.MQTT.Retain,
		"sinks.redis.enabled":           d.Sinks.Redis.Enabled,
		"sinks.redis.addr":              d.Sinks.Redis.Addr,
		"sinks.redis.password":          d.Sinks.Redis.Password,
		"sinks.redis.db":                d.Sinks.Redis.DB,
		"sinks.redis.channel":           d.Sinks.Redis.Channel,
		"sinks.redis.history":           d.Sinks.Redis.History,
		"metrics.enabled":               d.Metrics.Enabled,
		"metrics.addr":                  d.Metrics.Addr,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Load unmarshals v, fills unset fields and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
	if cfg.CAN.Interface == "" {
		cfg.CAN.Interface = d.CAN.Interface
	}
	if cfg.CAN.RequestTimeout == 0 {
		cfg.CAN.RequestTimeout = d.CAN.RequestTimeout
	}
	if cfg.Validation.Policy == "" {
		cfg.Validation.Policy = d.Validation.Policy
	}
	if cfg.Sinks.Log.Level == "" {
		cfg.Sinks.Log.Level = cfg.Log.Level
	}
	if cfg.Sinks.MQTT.TopicPrefix == "" {
		cfg.Sinks.MQTT.TopicPrefix = d.Sinks.MQTT.TopicPrefix
	}
	if cfg.Sinks.Redis.Channel == "" {
		cfg.Sinks.Redis.Channel = d.Sinks.Redis.Channel
	}
}

func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}
	if y := c.Vehicle.ModelYear; y != 0 && (y < 1980 || y > 2100) {
		return errors.Errorf("invalid vehicle model_year: %d", y)
	}
	if _, err := signalset.ParsePolicy(c.Validation.Policy); err != nil {
		return err
	}
	if c.CAN.RequestTimeout < 0 || c.CAN.RetryDelay < 0 {
		return errors.New("can timeouts must not be negative")
	}
	if c.CAN.Padding < 0 || c.CAN.Padding > 0xFF {
		return errors.Errorf("invalid can padding: %d (must be a byte)", c.CAN.Padding)
	}
	if c.Sinks.Log.Enabled {
		if _, err := logger.ParseLevel(c.Sinks.Log.Level); err != nil {
			return errors.Wrap(err, "sinks.log")
		}
	}
	if c.Sinks.MQTT.Enabled {
		if c.Sinks.MQTT.Broker == "" {
			return errors.New("sinks.mqtt.broker is required when mqtt is enabled")
		}
		if c.Sinks.MQTT.QoS < 0 || c.Sinks.MQTT.QoS > 2 {
			return errors.Errorf("invalid sinks.mqtt.qos: %d", c.Sinks.MQTT.QoS)
		}
	}
	if c.Sinks.Redis.Enabled && c.Sinks.Redis.Addr == "" {
		return errors.New("sinks.redis.addr is required when redis is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics.addr is required when metrics are enabled")
	}
	return nil
}

// YAML renders c as a config file.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "marshal config")
	}
	return out, nil
}

// WriteDefault writes the default configuration to path, refusing to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Errorf("%s already exists", path)
	}
	d := Default()
	data, err := d.YAML()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "write %s", path)
}
