package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mwinther/pumpvault/guardrails"
	"github.com/mwinther/pumpvault/profile"
	"github.com/mwinther/pumpvault/schedule"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func testLimits() guardrails.Limits {
	return guardrails.Limits{
		SupportedBasalRates: []decimal.Decimal{dec("0.2"), dec("0.5"), dec("0.75"), dec("1.0")},
		MaxBasalRatePerHour: decPtr("2.0"),
		CorrectionRange:     guardrails.Bounds{Min: dec("60"), Max: dec("180")},
		InsulinSensitivity:  guardrails.Bounds{Min: dec("10"), Max: dec("500")},
		CarbRatio:           guardrails.Bounds{Min: dec("2"), Max: dec("150")},
	}
}

func testProfile(t *testing.T, basal string) profile.Profile {
	t.Helper()
	correction, err := schedule.NewDailyRange(schedule.UnitMilligramsPerDeciliter, []schedule.RangeItem{
		{Start: 0, Min: dec("100"), Max: dec("120")},
	})
	require.NoError(t, err)
	carb, err := schedule.NewDaily(schedule.UnitGramsPerUnit, []schedule.Item{
		{Start: 0, Value: dec("10")},
	})
	require.NoError(t, err)
	basalSched, err := schedule.NewDaily(schedule.UnitUnitsPerHour, []schedule.Item{
		{Start: 0, Value: dec(basal)},
	})
	require.NoError(t, err)
	sensitivity, err := schedule.NewDaily(schedule.UnitMilligramsPerDeciliterPerUnit, []schedule.Item{
		{Start: 0, Value: dec("45")},
	})
	require.NoError(t, err)

	p, err := profile.New("test", correction, carb, basalSched, sensitivity)
	require.NoError(t, err)
	return p
}

type fakeDelegate struct {
	mu       sync.Mutex
	calls    int
	behavior func(requested schedule.Daily, completion func(schedule.Daily, error))
}

func (d *fakeDelegate) SyncBasalSchedule(_ context.Context, requested schedule.Daily, completion func(schedule.Daily, error)) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.behavior != nil {
		d.behavior(requested, completion)
	}
}

func (d *fakeDelegate) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func confirmDelegate() *fakeDelegate {
	return &fakeDelegate{behavior: func(requested schedule.Daily, completion func(schedule.Daily, error)) {
		go completion(requested.Clone(), nil)
	}}
}

type fakeSink struct {
	mu         sync.Mutex
	applied    []string
	basal      schedule.Daily
	firstDelay time.Duration
}

func (s *fakeSink) ApplyCorrectionRange(schedule.DailyRange) {
	if s.firstDelay > 0 {
		time.Sleep(s.firstDelay)
	}
	s.record("correctionRange")
}

func (s *fakeSink) ApplyCarbRatioSchedule(schedule.Daily) {
	s.record("carbRatio")
}

func (s *fakeSink) ApplyBasalRateSchedule(d schedule.Daily) {
	s.mu.Lock()
	s.basal = d
	s.mu.Unlock()
	s.record("basalRate")
}

func (s *fakeSink) ApplyInsulinSensitivitySchedule(schedule.Daily) {
	s.record("insulinSensitivity")
}

func (s *fakeSink) record(name string) {
	s.mu.Lock()
	s.applied = append(s.applied, name)
	s.mu.Unlock()
}

func (s *fakeSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.applied...)
}

func await(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("completion not delivered")
		return nil
	}
}

func TestRunCommitsInOrder(t *testing.T) {
	delegate := confirmDelegate()
	sink := &fakeSink{}
	pipe, err := New(Dependencies{Delegate: delegate, Sink: sink})
	require.NoError(t, err)

	done := make(chan error, 1)
	handle := pipe.Run(context.Background(), testProfile(t, "0.5"), testLimits(), func(err error) {
		done <- err
	})

	require.NoError(t, await(t, done))
	require.Equal(t, PhaseSucceeded, handle.Phase())
	require.Equal(t, []string{"correctionRange", "carbRatio", "basalRate", "insulinSensitivity"}, sink.snapshot())
}

func TestRunUsesConfirmedSchedule(t *testing.T) {
	snapped, err := schedule.NewDaily(schedule.UnitUnitsPerHour, []schedule.Item{
		{Start: 0, Value: dec("0.55")},
	})
	require.NoError(t, err)

	delegate := &fakeDelegate{behavior: func(_ schedule.Daily, completion func(schedule.Daily, error)) {
		go completion(snapped, nil)
	}}
	sink := &fakeSink{}
	pipe, err := New(Dependencies{Delegate: delegate, Sink: sink})
	require.NoError(t, err)

	done := make(chan error, 1)
	pipe.Run(context.Background(), testProfile(t, "0.5"), testLimits(), func(err error) {
		done <- err
	})

	require.NoError(t, await(t, done))
	require.True(t, sink.basal.Equal(snapped))
}

func TestInvalidProfileNeverContactsHardware(t *testing.T) {
	delegate := confirmDelegate()
	sink := &fakeSink{}
	pipe, err := New(Dependencies{Delegate: delegate, Sink: sink})
	require.NoError(t, err)

	done := make(chan error, 1)
	handle := pipe.Run(context.Background(), testProfile(t, "0.825"), testLimits(), func(err error) {
		done <- err
	})

	err = await(t, done)
	var verr *guardrails.Error
	require.ErrorAs(t, err, &verr)
	require.Equal(t, guardrails.ReasonBasalRate, verr.Reason)
	require.Equal(t, PhaseFailed, handle.Phase())
	require.Zero(t, delegate.callCount())
	require.Empty(t, sink.snapshot())
}

func TestSyncFailurePropagatesAndLeavesSinkUntouched(t *testing.T) {
	cause := errors.New("pump unreachable")
	delegate := &fakeDelegate{behavior: func(_ schedule.Daily, completion func(schedule.Daily, error)) {
		go completion(schedule.Daily{}, cause)
	}}
	sink := &fakeSink{}
	pipe, err := New(Dependencies{Delegate: delegate, Sink: sink})
	require.NoError(t, err)

	done := make(chan error, 1)
	handle := pipe.Run(context.Background(), testProfile(t, "0.5"), testLimits(), func(err error) {
		done <- err
	})

	err = await(t, done)
	var serr *SyncError
	require.ErrorAs(t, err, &serr)
	require.ErrorIs(t, err, cause)
	require.Equal(t, PhaseFailed, handle.Phase())
	require.Empty(t, sink.snapshot())
}

func TestCompletionDeliveredOnceOnDuplicateCallback(t *testing.T) {
	delegate := &fakeDelegate{behavior: func(requested schedule.Daily, completion func(schedule.Daily, error)) {
		go func() {
			completion(requested, nil)
			completion(requested, fmt.Errorf("late duplicate"))
		}()
	}}
	sink := &fakeSink{}
	pipe, err := New(Dependencies{Delegate: delegate, Sink: sink})
	require.NoError(t, err)

	var mu sync.Mutex
	calls := 0
	done := make(chan error, 2)
	pipe.Run(context.Background(), testProfile(t, "0.5"), testLimits(), func(err error) {
		mu.Lock()
		calls++
		mu.Unlock()
		done <- err
	})

	require.NoError(t, await(t, done))
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	require.Equal(t, 1, calls)
	mu.Unlock()
}

func TestSyncTimeout(t *testing.T) {
	// Delegate never calls back.
	delegate := &fakeDelegate{behavior: func(schedule.Daily, func(schedule.Daily, error)) {}}
	sink := &fakeSink{}
	pipe, err := New(Dependencies{Delegate: delegate, Sink: sink, SyncTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	done := make(chan error, 1)
	handle := pipe.Run(context.Background(), testProfile(t, "0.5"), testLimits(), func(err error) {
		done <- err
	})

	err = await(t, done)
	var serr *SyncError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, PhaseFailed, handle.Phase())
	require.Empty(t, sink.snapshot())
}

func TestTimeoutRacingDelegateStaysConsistent(t *testing.T) {
	// Timeout and delegate latency deliberately coincide so either side may
	// win. Whichever does, the run must deliver exactly one completion and
	// the sink must be either fully committed or untouched.
	for i := 0; i < 50; i++ {
		delegate := &fakeDelegate{behavior: func(requested schedule.Daily, completion func(schedule.Daily, error)) {
			go func() {
				time.Sleep(time.Millisecond)
				completion(requested.Clone(), nil)
			}()
		}}
		sink := &fakeSink{}
		pipe, err := New(Dependencies{Delegate: delegate, Sink: sink, SyncTimeout: time.Millisecond})
		require.NoError(t, err)

		done := make(chan error, 2)
		pipe.Run(context.Background(), testProfile(t, "0.5"), testLimits(), func(err error) {
			done <- err
		})

		err = await(t, done)
		time.Sleep(5 * time.Millisecond)
		applied := len(sink.snapshot())
		if err != nil {
			require.Equal(t, 0, applied, "failed run must leave the sink untouched")
		} else {
			require.Equal(t, 4, applied, "successful run must commit all settings")
		}
		select {
		case extra := <-done:
			t.Fatalf("completion delivered twice: %v", extra)
		default:
		}
	}
}

func TestTimeoutDuringCommitDoesNotFail(t *testing.T) {
	// The delegate answers immediately but the sink is slow, so the timer
	// fires mid-commit. The commit owns the run by then; the run must still
	// report success with all four settings applied.
	delegate := confirmDelegate()
	sink := &fakeSink{firstDelay: 200 * time.Millisecond}
	pipe, err := New(Dependencies{Delegate: delegate, Sink: sink, SyncTimeout: 50 * time.Millisecond})
	require.NoError(t, err)

	done := make(chan error, 1)
	handle := pipe.Run(context.Background(), testProfile(t, "0.5"), testLimits(), func(err error) {
		done <- err
	})

	require.NoError(t, await(t, done))
	require.Equal(t, PhaseSucceeded, handle.Phase())
	require.Len(t, sink.snapshot(), 4)
}

func TestCommitRunsOnConfigContext(t *testing.T) {
	delegate := confirmDelegate()
	sink := &fakeSink{}

	var mu sync.Mutex
	marshalled := 0
	executor := func(fn func()) {
		mu.Lock()
		marshalled++
		mu.Unlock()
		fn()
	}

	pipe, err := New(Dependencies{Delegate: delegate, Sink: sink, RunOnConfigContext: executor})
	require.NoError(t, err)

	done := make(chan error, 1)
	pipe.Run(context.Background(), testProfile(t, "0.5"), testLimits(), func(err error) {
		done <- err
	})

	require.NoError(t, await(t, done))
	mu.Lock()
	require.Equal(t, 1, marshalled)
	mu.Unlock()
}
