// Package engine is the embedding surface of the profile subsystem. It wires
// the store, the validation limits and the load pipeline together behind a
// small façade the host application drives.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwinther/pumpvault/config"
	"github.com/mwinther/pumpvault/deviceio"
	"github.com/mwinther/pumpvault/guardrails"
	"github.com/mwinther/pumpvault/internal/logging"
	"github.com/mwinther/pumpvault/pipeline"
	"github.com/mwinther/pumpvault/profile"
	"github.com/mwinther/pumpvault/store"
	"github.com/mwinther/pumpvault/telemetry"
)

type settings struct {
	config             *config.Config
	configPath         string
	logger             zerolog.Logger
	customLogger       bool
	collector          telemetry.Collector
	storeDir           string
	clock              func() time.Time
	device             deviceio.DeviceCapabilities
	delegate           deviceio.HardwareDelegate
	sink               deviceio.ActiveConfiguration
	source             deviceio.SettingsSource
	runOnConfigContext func(func())
}

// Engine exposes the profile operations of the subsystem. Storage operations
// are synchronous; LoadProfile completes through a callback. The engine
// assumes a single logical session: callers serialize store access
// themselves.
type Engine struct {
	logger    zerolog.Logger
	cleanup   func()
	collector telemetry.Collector

	cfg    *config.Config
	store  *store.Store
	device deviceio.DeviceCapabilities
	source deviceio.SettingsSource
	pipe   *pipeline.Pipeline
}

// New constructs an engine with the supplied options. A storage directory is
// required, either via configuration or WithStoreDir. The hardware delegate
// and active configuration sink are only required for LoadProfile; an engine
// without them still supports listing, saving, previewing, validation and
// deletion.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	cfg := settings{
		logger:    zerolog.Nop(),
		collector: telemetry.Noop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil && cfg.configPath != "" {
		loaded, err := config.Load(cfg.configPath)
		if err != nil {
			return nil, err
		}
		cfg.config = loaded
	}

	logger := cfg.logger
	cleanup := func() {}
	if !cfg.customLogger && cfg.config != nil {
		built, done, err := logging.Setup(cfg.config.Logging)
		if err != nil {
			return nil, err
		}
		logger = built
		cleanup = done
	}

	dir := cfg.storeDir
	if dir == "" && cfg.config != nil {
		dir = cfg.config.Storage.Directory
	}
	if dir == "" {
		cleanup()
		return nil, fmt.Errorf("engine requires a storage directory")
	}

	storeOpts := []store.Option{
		store.WithLogger(logger.With().Str("component", "store").Logger()),
		store.WithCollector(cfg.collector),
	}
	if cfg.clock != nil {
		storeOpts = append(storeOpts, store.WithClock(cfg.clock))
	}

	eng := &Engine{
		logger:    logger,
		cleanup:   cleanup,
		collector: cfg.collector,
		cfg:       cfg.config,
		store:     store.New(dir, storeOpts...),
		device:    cfg.device,
		source:    cfg.source,
	}

	if cfg.delegate != nil && cfg.sink != nil {
		var timeout time.Duration
		if cfg.config != nil {
			timeout = cfg.config.Sync.Timeout.Duration
		}
		pipe, err := pipeline.New(pipeline.Dependencies{
			Delegate:           cfg.delegate,
			Sink:               cfg.sink,
			RunOnConfigContext: cfg.runOnConfigContext,
			SyncTimeout:        timeout,
			Logger:             logger.With().Str("component", "pipeline").Logger(),
			Collector:          cfg.collector,
		})
		if err != nil {
			cleanup()
			return nil, err
		}
		eng.pipe = pipe
	}

	return eng, nil
}

// Close releases logging resources. The engine holds no other state that
// outlives its store directory.
func (e *Engine) Close() {
	if e.cleanup != nil {
		e.cleanup()
	}
}

// Store exposes the underlying profile store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// ListProfiles enumerates stored profile references in creation order.
func (e *Engine) ListProfiles() []profile.Reference {
	return e.store.List()
}

// SaveProfile snapshots the currently active settings under name and
// persists them, replacing any previous record with the same name. It
// returns the new reference together with the refreshed listing.
func (e *Engine) SaveProfile(name string) (profile.Reference, []profile.Reference, error) {
	if e.source == nil {
		return profile.Reference{}, nil, fmt.Errorf("save profile: no settings source configured")
	}
	p, err := profile.New(
		name,
		e.source.CurrentCorrectionRange(),
		e.source.CurrentCarbRatioSchedule(),
		e.source.CurrentBasalRateSchedule(),
		e.source.CurrentInsulinSensitivitySchedule(),
	)
	if err != nil {
		return profile.Reference{}, nil, err
	}
	return e.store.Save(p)
}

// GetProfile loads the full record behind ref, for preview.
func (e *Engine) GetProfile(ref profile.Reference) (profile.Profile, error) {
	return e.store.Load(ref)
}

// DeleteProfile removes the record behind ref.
func (e *Engine) DeleteProfile(ref profile.Reference) error {
	return e.store.Delete(ref)
}

// DeleteProfileNamed removes every record stored under the profile's name.
// It fails with the store's not-found error when no such record exists.
func (e *Engine) DeleteProfileNamed(name string) error {
	deleted := false
	for _, ref := range e.store.List() {
		if ref.Name != name {
			continue
		}
		if err := e.store.Delete(ref); err != nil {
			return err
		}
		deleted = true
	}
	if !deleted {
		return fmt.Errorf("%w: no record named %q", store.ErrNotFound, name)
	}
	return nil
}

// ValidateProfile checks p against the effective limits without touching
// hardware or storage.
func (e *Engine) ValidateProfile(p profile.Profile) error {
	return guardrails.Validate(p, e.limits())
}

// LoadProfile activates p as the live configuration: validation, basal
// schedule sync with the device, then commit. The completion callback is
// invoked exactly once with the outcome.
func (e *Engine) LoadProfile(ctx context.Context, p profile.Profile, completion func(error)) (*pipeline.Run, error) {
	if e.pipe == nil {
		return nil, fmt.Errorf("load profile: no hardware delegate or active configuration wired")
	}
	return e.pipe.Run(ctx, p, e.limits(), completion), nil
}

// limits merges configured limits with the connected device's capabilities.
// A device that reports its increment set overrides the configured fallback.
func (e *Engine) limits() guardrails.Limits {
	var limits guardrails.Limits
	if e.cfg != nil {
		parsed, err := e.cfg.GuardrailLimits()
		if err != nil {
			// Load-time validation makes this unreachable for engines built
			// from config.Load; a hand-assembled bad config surfaces here.
			e.logger.Error().Err(err).Msg("configured limits unusable")
		} else {
			limits = parsed
		}
	}
	if e.device != nil {
		if rates := e.device.SupportedBasalRates(); rates != nil {
			limits.SupportedBasalRates = rates
		}
	}
	return limits
}
