package main

import (
	"context"
	"os"
	"time"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/agent"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/config"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/device"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/heartbeat"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/logging"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/metrics"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/platform/nvs"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/platform/ota"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/platform/slot"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/preflight"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/report"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/sigcontext"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/store"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/workgroup"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

// version is set at link time.
var version = "dev"

const (
	flagConfig        = "config"
	flagManifestURL   = "manifest-url"
	flagPollInterval  = "poll-interval"
	flagTrustAnchor   = "trust-anchor"
	flagStorePath     = "store-path"
	flagSlotDir       = "slot-dir"
	flagLogLevel      = "log-level"
	flagLogFile       = "log-file"
	flagMetricsAddr   = "metrics-addr"
	flagDebug         = "debug"
	flagSkipPreflight = "skip-preflight"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logging.New("main").WithError(err).Error("otawatch stopped")
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "otawatch",
		Usage:   "keep device firmware current with a published manifest",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagConfig, Usage: "TOML configuration file", EnvVars: []string{"OTAWATCH_CONFIG"}},
			&cli.StringFlag{Name: flagManifestURL, Usage: "manifest location", EnvVars: []string{"OTAWATCH_MANIFEST_URL"}},
			&cli.DurationFlag{Name: flagPollInterval, Usage: "pause between update cycles", EnvVars: []string{"OTAWATCH_POLL_INTERVAL"}},
			&cli.StringFlag{Name: flagTrustAnchor, Usage: "PEM file of trusted certificates", EnvVars: []string{"OTAWATCH_TRUST_ANCHOR"}},
			&cli.StringFlag{Name: flagStorePath, Usage: "version store file", EnvVars: []string{"OTAWATCH_STORE_PATH"}},
			&cli.StringFlag{Name: flagSlotDir, Usage: "firmware image directory", EnvVars: []string{"OTAWATCH_SLOT_DIR"}},
			&cli.StringFlag{Name: flagLogLevel, Usage: "log level", EnvVars: []string{"OTAWATCH_LOG_LEVEL"}},
			&cli.StringFlag{Name: flagLogFile, Usage: `log destination: "console", "split" or a file path`, EnvVars: []string{"OTAWATCH_LOG_FILE"}},
			&cli.StringFlag{Name: flagMetricsAddr, Usage: "serve Prometheus metrics on this address", EnvVars: []string{"OTAWATCH_METRICS_ADDR"}},
			&cli.BoolFlag{Name: flagDebug, Usage: "shorthand for --log-level=debug"},
			&cli.BoolFlag{Name: flagSkipPreflight, Usage: "skip host checks and fixes"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return run(cfg, c.Bool(flagSkipPreflight))
		},
	}
}

// loadConfig reads the configuration file and applies flag and environment
// overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, err
	}
	overrides := map[string]*string{
		flagManifestURL: &cfg.ManifestURL,
		flagTrustAnchor: &cfg.TrustAnchor,
		flagStorePath:   &cfg.StorePath,
		flagSlotDir:     &cfg.SlotDir,
		flagLogLevel:    &cfg.LogLevel,
		flagLogFile:     &cfg.LogFile,
		flagMetricsAddr: &cfg.MetricsAddr,
	}
	for name, field := range overrides {
		if c.IsSet(name) {
			*field = c.String(name)
		}
	}
	if c.IsSet(flagPollInterval) {
		cfg.PollInterval = c.Duration(flagPollInterval).String()
	}
	if c.Bool(flagDebug) {
		cfg.LogLevel = "debug"
	}
	return cfg, errors.WithMessage(cfg.Validate(), "invalid configuration")
}

func run(cfg *config.Config, skipPreflight bool) error {
	if err := logging.Set(logging.Level(cfg.LogLevel), logging.Output(cfg.LogFile)); err != nil {
		return errors.WithMessage(err, "configure logging")
	}
	log := logging.New("main")
	ota.AgentVersion = version

	// "debuggable" builds at runtime produce extensive logging output compared
	// to release builds with the debug flag enabled.
	if logging.Debuggable {
		log.Info("low-level logging.Debuggable is enabled in this build")
		log.Warn("logging.Debuggable produces large volumes of logs")
		delay := 3 * time.Second
		log.WithField("delay", delay).Warn("delaying start due to logging.Debuggable build")
		time.Sleep(delay)
		logging.Set(logging.Trace())
	}

	trustAnchor, err := cfg.ReadTrustAnchor()
	if err != nil {
		return err
	}
	sink := slot.New(logging.New("slot"), cfg.SlotDir)

	if !skipPreflight {
		log.Info("running preflight checks")
		err := preflight.Run(logging.New("preflight"),
			preflight.Dir("slot-dir", cfg.SlotDir),
			preflight.ParentDir("store-dir", cfg.StorePath),
			preflight.TrustAnchor(trustAnchor),
			preflight.Clean("staging-images", sink),
		)
		if err != nil {
			return errors.WithMessage(err, "preflight")
		}
	}

	logDigest(log, "image", sink.Active())
	logDigest(log, "store", cfg.StorePath)

	versions, err := store.Open(logging.New("store"), nvs.New(logging.New("nvs"), cfg.StorePath),
		store.WithNamespace(cfg.StoreNamespace),
		store.WithKey(cfg.StoreKey),
	)
	if err != nil {
		return errors.WithMessage(err, "version store")
	}
	running := versions.Load()
	log.WithField("version", running.String()).Info("running firmware")

	m := metrics.New(prometheus.NewRegistry())
	m.SetVersion(running)

	client, err := ota.NewClient(trustAnchor, ota.DefaultTimeout)
	if err != nil {
		return errors.WithMessage(err, "tls client")
	}
	client.Transport = m.RoundTripper(client.Transport)
	plat := ota.NewWithClient(client, sink, ota.Options{
		BufferSize:         cfg.ManifestBufferSize,
		RetryDelay:         cfg.RetryDelay(),
		AllowInsecureImage: cfg.AllowInsecureImage,
	})
	defer plat.Close()

	observers := []agent.Observer{m}
	if cfg.MQTT != nil {
		reporter, err := report.Dial(logging.New("report"), report.Options{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
		})
		if err != nil {
			return errors.WithMessage(err, "outcome reporter")
		}
		defer reporter.Close()
		observers = append(observers, reporter)
	}
	if cfg.RebootAfterInstall {
		// Reboot last so every other observer sees the outcome first.
		observers = append(observers, device.NewRebooter(logging.New("device"), device.DefaultSystemdSocket))
	}

	a, err := agent.New(logging.New("agent"), agent.Options{
		ManifestURL: cfg.ManifestURL,
		Interval:    cfg.Poll(),
		Source:      plat,
		Installer:   plat,
		Store:       versions,
		Observers:   observers,
	})
	if err != nil {
		return errors.WithMessage(err, "initialization error")
	}

	ctx, cancel := sigcontext.WithSignalCancel(context.Background(), log)
	defer cancel()

	watchdog := heartbeat.NewWatchdog()
	hb := heartbeat.New(logging.New("heartbeat"), heartbeat.Interval(cfg.Heartbeat()),
		heartbeat.Blink(logging.New("heartbeat")),
		watchdog,
	)

	group := workgroup.WithContext(ctx, log)
	group.Work("poll", a.Run)
	group.Work("heartbeat", hb.Run)
	if cfg.MetricsAddr != "" {
		group.Work("metrics", func(ctx context.Context) error {
			return m.Serve(ctx, logging.New("metrics"), cfg.MetricsAddr)
		})
	}

	if supervised, err := watchdog.Ready(); err != nil {
		log.WithError(err).Warn("unable to notify service manager")
	} else if supervised {
		log.Debug("notified service manager")
	}

	<-ctx.Done()
	watchdog.Stopping()
	log.Info("waiting on workers to finish")
	err = group.Wait()
	log.Info("stopped")
	return err
}

func logDigest(log logging.Logger, what, path string) {
	digest, err := slot.Digest(path)
	if os.IsNotExist(errors.Cause(err)) {
		log.WithField("path", path).Infof("no %s present", what)
		return
	}
	if err != nil {
		log.WithError(err).WithField("path", path).Warnf("unable to hash %s", what)
		return
	}
	log.WithField("path", path).WithField("sha256", digest).Infof("%s digest", what)
}
