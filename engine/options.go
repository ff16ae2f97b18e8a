package engine

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwinther/pumpvault/config"
	"github.com/mwinther/pumpvault/deviceio"
	"github.com/mwinther/pumpvault/telemetry"
)

// Option configures the engine during construction.
type Option func(*settings) error

// WithLogger provides a custom logger instance for the engine.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.logger = logger
		cfg.customLogger = true
		return nil
	}
}

// WithTelemetry injects a collector instance overriding the default noop
// behaviour.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if collector == nil {
			collector = telemetry.Noop()
		}
		cfg.collector = collector
		return nil
	}
}

// WithConfig supplies an already loaded configuration instance.
func WithConfig(cfgData *config.Config) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.config = cfgData
		return nil
	}
}

// WithConfigPath configures the engine to load configuration data from the
// provided path.
func WithConfigPath(path string) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.configPath = strings.TrimSpace(path)
		return nil
	}
}

// WithStoreDir overrides the storage directory from configuration.
func WithStoreDir(dir string) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.storeDir = strings.TrimSpace(dir)
		return nil
	}
}

// WithClock overrides the timestamp source used for storage keys.
func WithClock(now func() time.Time) Option {
	return func(cfg *settings) error {
		if cfg == nil || now == nil {
			return nil
		}
		cfg.clock = now
		return nil
	}
}

// WithDevice connects the capability source of the active delivery device.
func WithDevice(device deviceio.DeviceCapabilities) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.device = device
		return nil
	}
}

// WithHardwareDelegate installs the delegate that pushes basal schedules to
// the physical device.
func WithHardwareDelegate(delegate deviceio.HardwareDelegate) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.delegate = delegate
		return nil
	}
}

// WithActiveConfiguration installs the sink the load pipeline commits to.
func WithActiveConfiguration(sink deviceio.ActiveConfiguration) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.sink = sink
		return nil
	}
}

// WithSettingsSource installs the source profiles are snapshotted from on
// save.
func WithSettingsSource(source deviceio.SettingsSource) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.source = source
		return nil
	}
}

// WithConfigContext installs the executor the pipeline uses to marshal its
// commit onto the host's configuration context.
func WithConfigContext(run func(func())) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.runOnConfigContext = run
		return nil
	}
}
