// File: control/settings.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Relay configuration: defaults, YAML loading, validation and the subset of
// keys that can change at runtime.

package control

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/momentics/m2relay/api"
)

// Keys that may be changed through ConfigStore while the relay runs.
const (
	KeyPingInterval = "ping_interval"
	KeyCloseAck     = "close_ack"
	KeyRejectBinary = "reject_binary"
)

// Default endpoints.
const (
	DefaultInbound  = "tcp://127.0.0.1:9999"
	DefaultOutbound = "tcp://127.0.0.1:9998"
	DefaultControl  = "tcp://*:9997"
)

// Config is the relay configuration.
type Config struct {
	// Sender is the id the relay's default connection is registered under.
	Sender   string `yaml:"sender"`
	Inbound  string `yaml:"inbound"`
	Outbound string `yaml:"outbound"`
	Control  string `yaml:"control"`

	PingInterval time.Duration `yaml:"ping_interval"`
	PollTick     time.Duration `yaml:"poll_tick"`
	CloseAck     bool          `yaml:"close_ack"`
	RejectBinary bool          `yaml:"reject_binary"`

	// BacklogLimit bounds queued replies per connection.
	BacklogLimit int `yaml:"backlog_limit"`

	// ConnectTimeout bounds sending one control reply.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// LoopCPU pins the event loop thread to one CPU; -1 leaves it floating.
	LoopCPU int `yaml:"loop_cpu"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfig returns a configuration with a fresh sender id.
func DefaultConfig() Config {
	return Config{
		Sender:         uuid.NewString(),
		Inbound:        DefaultInbound,
		Outbound:       DefaultOutbound,
		Control:        DefaultControl,
		PingInterval:   30 * time.Second,
		PollTick:       50 * time.Millisecond,
		BacklogLimit:   1024,
		ConnectTimeout: 2 * time.Second,
		LoopCPU:        -1,
		LogLevel:       "info",
		MetricsAddr:    ":9090",
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML on top of DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	bad := func(field, why string) {
		errs = append(errs, fmt.Errorf("%s %s: %w", field, why, api.ErrInvalidArgument))
	}
	if c.Sender == "" {
		bad("sender", "is empty")
	}
	if c.Inbound == "" {
		bad("inbound", "is empty")
	}
	if c.Outbound == "" {
		bad("outbound", "is empty")
	}
	if c.Control == "" {
		bad("control", "is empty")
	}
	if c.PingInterval <= 0 {
		bad("ping_interval", "must be positive")
	}
	if c.PollTick <= 0 {
		bad("poll_tick", "must be positive")
	}
	if c.BacklogLimit < 0 {
		bad("backlog_limit", "must not be negative")
	}
	if c.ConnectTimeout <= 0 {
		bad("connect_timeout", "must be positive")
	}
	if c.LoopCPU < -1 {
		bad("loop_cpu", "must be -1 or a cpu index")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		bad("log_level", err.Error())
	}
	return errors.Join(errs...)
}

// Reloadable returns the runtime-changeable keys as a ConfigStore map.
func (c Config) Reloadable() map[string]any {
	return map[string]any{
		KeyPingInterval: c.PingInterval,
		KeyCloseAck:     c.CloseAck,
		KeyRejectBinary: c.RejectBinary,
	}
}

// ValidateReloadable checks the types of known keys in a partial update.
// Unknown keys are accepted and left alone.
func ValidateReloadable(m map[string]any) error {
	var errs []error
	if _, ok := m[KeyPingInterval]; ok {
		d, ok := DurationValue(m, KeyPingInterval)
		if !ok || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: want positive duration, got %v: %w",
				KeyPingInterval, m[KeyPingInterval], api.ErrInvalidArgument))
		}
	}
	for _, k := range []string{KeyCloseAck, KeyRejectBinary} {
		if _, ok := m[k]; !ok {
			continue
		}
		if _, ok := BoolValue(m, k); !ok {
			errs = append(errs, fmt.Errorf("%s: want bool, got %v: %w", k, m[k], api.ErrInvalidArgument))
		}
	}
	return errors.Join(errs...)
}

// DurationValue reads key as a duration. Strings use time.ParseDuration;
// bare numbers are seconds.
func DurationValue(m map[string]any, key string) (time.Duration, bool) {
	switch v := m[key].(type) {
	case time.Duration:
		return v, true
	case string:
		d, err := time.ParseDuration(v)
		return d, err == nil
	case int:
		return time.Duration(v) * time.Second, true
	case int64:
		return time.Duration(v) * time.Second, true
	case float64:
		return time.Duration(v * float64(time.Second)), true
	default:
		return 0, false
	}
}

// BoolValue reads key as a bool. Strings use strconv.ParseBool.
func BoolValue(m map[string]any, key string) (bool, bool) {
	switch v := m[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	default:
		return false, false
	}
}
