// Package pipeline orchestrates activating a stored profile as the live
// configuration: validate, synchronize the basal schedule with the physical
// device, then commit all four settings to the active configuration.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwinther/pumpvault/deviceio"
	"github.com/mwinther/pumpvault/guardrails"
	"github.com/mwinther/pumpvault/profile"
	"github.com/mwinther/pumpvault/schedule"
	"github.com/mwinther/pumpvault/telemetry"
)

// Phase is the state of a single load run.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseSyncingBasal
	PhaseCommitting
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseValidating:
		return "validating"
	case PhaseSyncingBasal:
		return "syncing_basal"
	case PhaseCommitting:
		return "committing"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// SyncError wraps a failure reported by the hardware delegate. The wrapped
// error is surfaced verbatim; no retry is attempted.
type SyncError struct {
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("basal schedule sync failed: %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Dependencies bundles the collaborators a pipeline needs.
type Dependencies struct {
	Delegate deviceio.HardwareDelegate
	Sink     deviceio.ActiveConfiguration

	// RunOnConfigContext marshals a function onto the host's authoritative
	// configuration context before the commit runs there. Nil means commit
	// inline on the delegate's callback goroutine.
	RunOnConfigContext func(func())

	// SyncTimeout bounds the wait for the delegate's completion. Zero means
	// wait forever.
	SyncTimeout time.Duration

	Logger    zerolog.Logger
	Collector telemetry.Collector
}

// Pipeline runs load operations. Each Run spawns an independent state
// machine; the pipeline itself holds only the shared collaborators.
type Pipeline struct {
	deps Dependencies
}

// New constructs a pipeline. Delegate and Sink are required.
func New(deps Dependencies) (*Pipeline, error) {
	if deps.Delegate == nil {
		return nil, fmt.Errorf("pipeline requires a hardware delegate")
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("pipeline requires an active configuration sink")
	}
	if deps.Collector == nil {
		deps.Collector = telemetry.Noop()
	}
	if deps.RunOnConfigContext == nil {
		deps.RunOnConfigContext = func(fn func()) { fn() }
	}
	return &Pipeline{deps: deps}, nil
}

// run tracks one load invocation. All state transitions happen under mu:
// the terminal transition is claimed while the lock is held, which makes the
// exactly-one-completion invariant hold by construction even if a
// misbehaving delegate calls back twice, and keeps the timeout timer from
// firing into a run that has already progressed to committing.
type run struct {
	pipe       *Pipeline
	prof       profile.Profile
	completion func(error)

	mu    sync.Mutex
	phase Phase
	done  bool
	timer *time.Timer
}

// Run validates p, synchronizes its basal schedule with the device and, on
// success, commits all four settings to the active configuration. The
// completion callback is invoked exactly once with the outcome. Validation
// failures never contact the hardware. Once syncing has begun the run always
// reaches a terminal phase; cancellation mid-flight is not supported and a
// caller that abandons the load should ignore the eventual callback.
//
// The returned handle exposes the current phase for observation; callers do
// not need it for correct operation.
func (p *Pipeline) Run(ctx context.Context, prof profile.Profile, limits guardrails.Limits, completion func(error)) *Run {
	if completion == nil {
		completion = func(error) {}
	}
	r := &run{pipe: p, prof: prof, completion: completion, phase: PhaseIdle}

	r.setPhase(PhaseValidating)
	if err := guardrails.Validate(prof, limits); err != nil {
		r.fail(err)
		return &Run{r}
	}

	r.setPhase(PhaseSyncingBasal)
	if p.deps.SyncTimeout > 0 {
		r.mu.Lock()
		r.timer = time.AfterFunc(p.deps.SyncTimeout, func() {
			r.fail(&SyncError{Err: fmt.Errorf("no response from device within %s", p.deps.SyncTimeout)})
		})
		r.mu.Unlock()
	}
	p.deps.Delegate.SyncBasalSchedule(ctx, prof.BasalRate, func(confirmed schedule.Daily, err error) {
		if err != nil {
			r.fail(&SyncError{Err: err})
			return
		}
		p.deps.RunOnConfigContext(func() {
			r.commit(confirmed)
		})
	})
	return &Run{r}
}

// Run is the caller-visible handle of a load invocation.
type Run struct {
	r *run
}

// Phase returns the run's current phase.
func (h *Run) Phase() Phase {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	return h.r.phase
}

func (r *run) setPhase(phase Phase) {
	r.mu.Lock()
	r.phase = phase
	r.mu.Unlock()
	r.pipe.deps.Logger.Debug().Str("profile", r.prof.Name).Stringer("phase", phase).Msg("load pipeline")
}

// commit applies the four settings in a fixed order, using the
// device-confirmed basal schedule rather than the requested one. Claiming
// PhaseCommitting and disarming the timeout happen under the same lock, so
// once the commit owns the run nothing can terminate it with a failure.
func (r *run) commit(confirmed schedule.Daily) {
	r.mu.Lock()
	if r.done || r.phase != PhaseSyncingBasal {
		// A timeout or duplicate callback already terminated the run.
		r.mu.Unlock()
		return
	}
	r.phase = PhaseCommitting
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()

	sink := r.pipe.deps.Sink
	sink.ApplyCorrectionRange(r.prof.CorrectionRange)
	sink.ApplyCarbRatioSchedule(r.prof.CarbRatio)
	sink.ApplyBasalRateSchedule(confirmed)
	sink.ApplyInsulinSensitivitySchedule(r.prof.InsulinSensitivity)
	r.succeed()
}

// fail terminates the run unless the commit has already claimed it. Late
// sync errors and timeouts arriving after the commit started are dropped;
// the sink is being mutated at that point and the run must report success.
func (r *run) fail(err error) {
	r.mu.Lock()
	if r.done || r.phase == PhaseCommitting {
		r.mu.Unlock()
		return
	}
	r.completeLocked(err)
}

func (r *run) succeed() {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.completeLocked(nil)
}

// completeLocked claims the terminal transition under r.mu, releases the
// lock and then invokes the completion callback exactly once.
func (r *run) completeLocked(err error) {
	r.done = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if err != nil {
		r.phase = PhaseFailed
	} else {
		r.phase = PhaseSucceeded
	}
	r.mu.Unlock()

	if err != nil {
		r.pipe.deps.Logger.Warn().Err(err).Str("profile", r.prof.Name).Msg("profile load failed")
		r.pipe.deps.Collector.IncPipelineOutcome("failed")
	} else {
		r.pipe.deps.Logger.Info().Str("profile", r.prof.Name).Msg("profile loaded")
		r.pipe.deps.Collector.IncPipelineOutcome("succeeded")
	}
	r.completion(err)
}
