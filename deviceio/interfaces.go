// Package deviceio declares the collaborator interfaces the profile engine
// consumes. The host application implements them; keeping them in a
// standalone package lets different pump integrations be wired into the
// engine without coupling it to concrete types.
package deviceio

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/mwinther/pumpvault/schedule"
)

// DeviceCapabilities reports what the connected delivery device supports.
//
// SupportedBasalRates returns the discrete set of basal rates the device can
// be programmed to, or nil when no device is connected or configured. Basal
// rates are not continuous; validation checks membership in this set.
type DeviceCapabilities interface {
	SupportedBasalRates() []decimal.Decimal
}

// HardwareDelegate pushes a basal schedule onto the physical device.
//
// SyncBasalSchedule is asynchronous: it must return promptly and deliver its
// outcome through completion exactly once, from any goroutine. The confirmed
// schedule is authoritative; the device may snap requested values to its own
// increments, and the caller must commit the confirmed schedule rather than
// the requested one.
type HardwareDelegate interface {
	SyncBasalSchedule(ctx context.Context, requested schedule.Daily, completion func(confirmed schedule.Daily, err error))
}

// ActiveConfiguration is the sink for the live therapy settings.
//
// Implementations are expected to be mutated only from the host's designated
// configuration context; the load pipeline marshals its commit onto that
// context before calling any of these.
type ActiveConfiguration interface {
	ApplyCorrectionRange(schedule.DailyRange)
	ApplyCarbRatioSchedule(schedule.Daily)
	ApplyBasalRateSchedule(schedule.Daily)
	ApplyInsulinSensitivitySchedule(schedule.Daily)
}

// SettingsSource exposes the currently active settings so a profile can be
// snapshotted from them at save time.
type SettingsSource interface {
	CurrentCorrectionRange() schedule.DailyRange
	CurrentCarbRatioSchedule() schedule.Daily
	CurrentBasalRateSchedule() schedule.Daily
	CurrentInsulinSensitivitySchedule() schedule.Daily
}
