// Package config loads the agent's TOML configuration file.
package config

import (
	"net/url"
	"os"
	"time"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/agent"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/heartbeat"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/logging"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/manifest"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/platform/nvs"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/platform/ota"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/store"
	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultStorePath = "/var/lib/otawatch/nvs.toml"
	DefaultSlotDir   = "/var/lib/otawatch/slot"
)

// Config is the agent configuration. Durations are Go duration strings.
type Config struct {
	ManifestURL  string `toml:"manifest_url"`
	PollInterval string `toml:"poll_interval"`
	// TrustAnchor is the path of a PEM file. Empty trusts the system roots.
	TrustAnchor string `toml:"trust_anchor"`

	StorePath      string `toml:"store_path"`
	StoreNamespace string `toml:"store_namespace"`
	StoreKey       string `toml:"store_key"`
	SlotDir        string `toml:"slot_dir"`

	ManifestBufferSize int    `toml:"manifest_buffer_size"`
	InstallRetryDelay  string `toml:"install_retry_delay"`
	AllowInsecureImage bool   `toml:"allow_insecure_image"`

	HeartbeatInterval  string `toml:"heartbeat_interval"`
	RebootAfterInstall bool   `toml:"reboot_after_install"`

	LogLevel    string `toml:"log_level"`
	LogFile     string `toml:"log_file"`
	MetricsAddr string `toml:"metrics_addr"`

	MQTT *MQTT `toml:"mqtt"`
}

// MQTT enables outcome reports when present.
type MQTT struct {
	Broker   string `toml:"broker"`
	Topic    string `toml:"topic"`
	ClientID string `toml:"client_id"`
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	return &Config{
		PollInterval:       agent.DefaultInterval.String(),
		StorePath:          DefaultStorePath,
		StoreNamespace:     store.DefaultNamespace,
		StoreKey:           store.DefaultKey,
		SlotDir:            DefaultSlotDir,
		ManifestBufferSize: manifest.DefaultBufferSize,
		InstallRetryDelay:  ota.DefaultRetryDelay.String(),
		HeartbeatInterval:  heartbeat.DefaultInterval.String(),
		LogLevel:           logrus.InfoLevel.String(),
		LogFile:            logging.Console,
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(err error) {
		result = multierror.Append(result, err)
	}

	if c.ManifestURL == "" {
		add(errors.New("manifest_url must be provided"))
	} else if u, err := url.Parse(c.ManifestURL); err != nil {
		add(errors.Wrap(err, "manifest_url"))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add(errors.Errorf("manifest_url: unsupported scheme %q", u.Scheme))
	}

	if d, err := time.ParseDuration(c.PollInterval); err != nil {
		add(errors.Wrap(err, "poll_interval"))
	} else if d <= 0 {
		add(errors.New("poll_interval must be positive"))
	}
	if d, err := time.ParseDuration(c.InstallRetryDelay); err != nil {
		add(errors.Wrap(err, "install_retry_delay"))
	} else if d < 0 {
		add(errors.New("install_retry_delay must not be negative"))
	}
	if d, err := time.ParseDuration(c.HeartbeatInterval); err != nil {
		add(errors.Wrap(err, "heartbeat_interval"))
	} else if d <= 0 {
		add(errors.New("heartbeat_interval must be positive"))
	}

	if c.ManifestBufferSize <= 0 {
		add(errors.New("manifest_buffer_size must be positive"))
	}
	if c.StorePath == "" {
		add(errors.New("store_path must be provided"))
	}
	if err := nvs.CheckName(c.StoreNamespace); err != nil {
		add(errors.WithMessage(err, "store_namespace"))
	}
	if err := nvs.CheckName(c.StoreKey); err != nil {
		add(errors.WithMessage(err, "store_key"))
	}
	if c.SlotDir == "" {
		add(errors.New("slot_dir must be provided"))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		add(errors.Wrap(err, "log_level"))
	}
	if c.MQTT != nil && c.MQTT.Broker == "" {
		add(errors.New("mqtt.broker must be provided"))
	}
	return result.ErrorOrNil()
}

// Poll returns the poll interval. Validate must have succeeded.
func (c *Config) Poll() time.Duration {
	return mustDuration(c.PollInterval)
}

// RetryDelay returns the install retry delay. Zero disables the retry.
func (c *Config) RetryDelay() time.Duration {
	return mustDuration(c.InstallRetryDelay)
}

// Heartbeat returns the heartbeat period.
func (c *Config) Heartbeat() time.Duration {
	return mustDuration(c.HeartbeatInterval)
}

// ReadTrustAnchor returns the PEM trust anchor, or nil when none is set.
func (c *Config) ReadTrustAnchor() ([]byte, error) {
	if c.TrustAnchor == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(c.TrustAnchor)
	return raw, errors.Wrap(err, "read trust anchor")
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(errors.Wrap(err, "config not validated"))
	}
	return d
}
