// Package config wraps viper with the driver's configuration surface:
// operation timeouts, capacity limits, and file paths. All getters are
// nil-safe so components can run with a zero configuration in tests.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is a read-only view over a viper instance.
type Config struct {
	v *viper.Viper
}

// New wraps an existing viper instance.
func New(v *viper.Viper) *Config {
	return &Config{v: v}
}

// Load reads the configuration file at path (YAML), applying defaults for
// every key. An empty path yields the defaults alone.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}
	return New(v), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("driver.max_vdevs", 16)
	v.SetDefault("driver.max_peers", 32)
	v.SetDefault("driver.timeout.vdev_setup", "5s")
	v.SetDefault("driver.timeout.peer_op", "3s")
	v.SetDefault("driver.timeout.key_install", "3s")
	v.SetDefault("driver.timeout.scan_start", "1s")
	v.SetDefault("driver.timeout.scan_stop", "3s")
	v.SetDefault("driver.cac_interval", "60s")
	v.SetDefault("channels.path", "")
	v.SetDefault("survey.db_path", "")
}

// GetString returns the string value for key.
func (c *Config) GetString(key string) string {
	if c == nil || c.v == nil {
		return ""
	}
	return c.v.GetString(key)
}

// GetInt returns the integer value for key.
func (c *Config) GetInt(key string) int {
	if c == nil || c.v == nil {
		return 0
	}
	return c.v.GetInt(key)
}

// GetBool returns the boolean value for key.
func (c *Config) GetBool(key string) bool {
	if c == nil || c.v == nil {
		return false
	}
	return c.v.GetBool(key)
}

// GetDuration returns the duration value for key.
func (c *Config) GetDuration(key string) time.Duration {
	if c == nil || c.v == nil {
		return 0
	}
	return c.v.GetDuration(key)
}

// IsSet reports whether key has a value.
func (c *Config) IsSet(key string) bool {
	if c == nil || c.v == nil {
		return false
	}
	return c.v.IsSet(key)
}

// Timeouts are the per-call-type deadlines for blocking operations.
type Timeouts struct {
	VdevSetup  time.Duration
	PeerOp     time.Duration
	KeyInstall time.Duration
	ScanStart  time.Duration
	ScanStop   time.Duration
}

// Limits are the host-side capacity ceilings checked before any wire
// command is issued.
type Limits struct {
	MaxVdevs int
	MaxPeers int
}

// Timeouts extracts the configured operation deadlines.
func (c *Config) Timeouts() Timeouts {
	return Timeouts{
		VdevSetup:  c.GetDuration("driver.timeout.vdev_setup"),
		PeerOp:     c.GetDuration("driver.timeout.peer_op"),
		KeyInstall: c.GetDuration("driver.timeout.key_install"),
		ScanStart:  c.GetDuration("driver.timeout.scan_start"),
		ScanStop:   c.GetDuration("driver.timeout.scan_stop"),
	}
}

// Limits extracts the configured capacity ceilings.
func (c *Config) Limits() Limits {
	return Limits{
		MaxVdevs: c.GetInt("driver.max_vdevs"),
		MaxPeers: c.GetInt("driver.max_peers"),
	}
}
