package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gotest.tools/assert"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "otawatch.toml")
	assert.NilError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	assert.NilError(t, err)
	assert.Equal(t, time.Second, cfg.Poll())
	assert.Equal(t, 3*time.Second, cfg.RetryDelay())
	assert.Equal(t, 200*time.Millisecond, cfg.Heartbeat())
	assert.Equal(t, 200, cfg.ManifestBufferSize)
	assert.Equal(t, "storage", cfg.StoreNamespace)
	assert.Equal(t, "int_variable", cfg.StoreKey)
	assert.Check(t, cfg.MQTT == nil)

	assert.ErrorContains(t, cfg.Validate(), "manifest_url must be provided")
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
manifest_url = "https://updates.example.com/manifest.json"
poll_interval = "30s"
manifest_buffer_size = 512
install_retry_delay = "0s"
reboot_after_install = true

[mqtt]
broker = "tcp://broker:1883"
topic = "fleet/ota"
`)
	cfg, err := Load(path)
	assert.NilError(t, err)
	assert.NilError(t, cfg.Validate())

	assert.Equal(t, "https://updates.example.com/manifest.json", cfg.ManifestURL)
	assert.Equal(t, 30*time.Second, cfg.Poll())
	assert.Equal(t, time.Duration(0), cfg.RetryDelay())
	assert.Equal(t, 512, cfg.ManifestBufferSize)
	assert.Check(t, cfg.RebootAfterInstall)
	assert.Equal(t, DefaultStorePath, cfg.StorePath, "absent keys keep their defaults")
	assert.Equal(t, "200ms", cfg.HeartbeatInterval)
	assert.Assert(t, cfg.MQTT != nil)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "", cfg.MQTT.ClientID)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.ErrorContains(t, err, "read config")

	_, err = Load(writeConfig(t, "manifest_url = ="))
	assert.ErrorContains(t, err, "parse config")
}

func TestValidateReportsEverything(t *testing.T) {
	cfg := Default()
	cfg.ManifestURL = "ftp://updates.example.com/manifest.json"
	cfg.PollInterval = "0s"
	cfg.InstallRetryDelay = "soon"
	cfg.HeartbeatInterval = "-1s"
	cfg.ManifestBufferSize = 0
	cfg.StorePath = ""
	cfg.StoreKey = ""
	cfg.SlotDir = ""
	cfg.LogLevel = "loud"
	cfg.MQTT = &MQTT{}

	err := cfg.Validate()
	var merr *multierror.Error
	assert.Assert(t, errors.As(err, &merr))
	assert.Equal(t, 10, len(merr.Errors))
}

func TestValidateRejectsUnstorableStoreNames(t *testing.T) {
	path := writeConfig(t, `
manifest_url = "https://updates.example.com/manifest.json"
store_namespace = 'fleet "a"'
store_key = "version.current"
`)
	cfg, err := Load(path)
	assert.NilError(t, err)

	err = cfg.Validate()
	assert.ErrorContains(t, err, "store_namespace")
	assert.ErrorContains(t, err, "store_key")
	var merr *multierror.Error
	assert.Assert(t, errors.As(err, &merr))
	assert.Equal(t, 2, len(merr.Errors))
}

func TestReadTrustAnchor(t *testing.T) {
	cfg := Default()
	raw, err := cfg.ReadTrustAnchor()
	assert.NilError(t, err)
	assert.Check(t, raw == nil)

	cfg.TrustAnchor = writeConfig(t, "-----BEGIN CERTIFICATE-----\n")
	raw, err = cfg.ReadTrustAnchor()
	assert.NilError(t, err)
	assert.Check(t, len(raw) > 0)

	cfg.TrustAnchor = filepath.Join(t.TempDir(), "absent.pem")
	_, err = cfg.ReadTrustAnchor()
	assert.ErrorContains(t, err, "trust anchor")
}
