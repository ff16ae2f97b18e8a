// Package guardrails validates a candidate profile against absolute clinical
// bounds and the capabilities of the connected device. Validation is a pure
// function over its inputs; it never mutates the profile and never touches
// storage.
package guardrails

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mwinther/pumpvault/profile"
)

// Reason classifies why a profile failed validation.
type Reason string

const (
	// ReasonDeviceCapabilities indicates the supported-increment source is
	// unavailable (no connected or configured device).
	ReasonDeviceCapabilities Reason = "device_capabilities_unavailable"
	// ReasonCorrectionRange indicates a correction range bound violation.
	ReasonCorrectionRange Reason = "correction_range"
	// ReasonInsulinSensitivity indicates an insulin sensitivity bound violation.
	ReasonInsulinSensitivity Reason = "insulin_sensitivity"
	// ReasonCarbRatio indicates a carb ratio bound violation.
	ReasonCarbRatio Reason = "carb_ratio"
	// ReasonMaxBasalNotSet indicates no maximum basal rate is configured.
	ReasonMaxBasalNotSet Reason = "max_basal_rate_not_set"
	// ReasonBasalRate indicates a basal rate above the maximum or outside the
	// device's supported increments.
	ReasonBasalRate Reason = "basal_rate"
)

// Error describes a single validation failure. The message is suitable for
// direct display to the user.
type Error struct {
	Reason  Reason
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func failf(reason Reason, format string, args ...interface{}) *Error {
	return &Error{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Bounds is an inclusive absolute min/max guardrail.
type Bounds struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

func (b Bounds) contains(v decimal.Decimal) bool {
	return v.GreaterThanOrEqual(b.Min) && v.LessThanOrEqual(b.Max)
}

// Limits bundles everything validation needs beyond the profile itself.
// SupportedBasalRates nil means the increment source is unavailable;
// MaxBasalRatePerHour nil means no maximum has been configured, which is a
// distinct failure from an out-of-range value.
type Limits struct {
	SupportedBasalRates []decimal.Decimal
	MaxBasalRatePerHour *decimal.Decimal

	CorrectionRange    Bounds
	InsulinSensitivity Bounds
	CarbRatio          Bounds

	Rules Rules
}

// Validate checks p against limits. Checks run in a fixed order and stop at
// the first failure so user-facing messages stay deterministic: correction
// range, insulin sensitivity, carb ratio, maximum basal configured, basal
// rate against the maximum and the device's discrete increment set. When the
// increment source is unavailable validation fails before any schedule is
// inspected. Site-specific rules run last.
func Validate(p profile.Profile, limits Limits) error {
	if limits.SupportedBasalRates == nil {
		return failf(ReasonDeviceCapabilities, "device capabilities unavailable: supported basal rates unknown")
	}

	for _, item := range p.CorrectionRange.Items {
		if !limits.CorrectionRange.contains(item.Min) || !limits.CorrectionRange.contains(item.Max) {
			return failf(ReasonCorrectionRange,
				"correction range %s-%s %s at %s is outside the allowed range %s-%s",
				item.Min, item.Max, p.CorrectionRange.Unit, item.Start,
				limits.CorrectionRange.Min, limits.CorrectionRange.Max)
		}
	}

	for _, item := range p.InsulinSensitivity.Items {
		if !limits.InsulinSensitivity.contains(item.Value) {
			return failf(ReasonInsulinSensitivity,
				"insulin sensitivity %s %s at %s is outside the allowed range %s-%s",
				item.Value, p.InsulinSensitivity.Unit, item.Start,
				limits.InsulinSensitivity.Min, limits.InsulinSensitivity.Max)
		}
	}

	for _, item := range p.CarbRatio.Items {
		if !limits.CarbRatio.contains(item.Value) {
			return failf(ReasonCarbRatio,
				"carb ratio %s %s at %s is outside the allowed range %s-%s",
				item.Value, p.CarbRatio.Unit, item.Start,
				limits.CarbRatio.Min, limits.CarbRatio.Max)
		}
	}

	if limits.MaxBasalRatePerHour == nil {
		return failf(ReasonMaxBasalNotSet, "maximum basal rate is not configured")
	}
	for _, item := range p.BasalRate.Items {
		if item.Value.GreaterThan(*limits.MaxBasalRatePerHour) {
			return failf(ReasonBasalRate,
				"basal rate %s %s at %s exceeds the configured maximum %s",
				item.Value, p.BasalRate.Unit, item.Start, limits.MaxBasalRatePerHour)
		}
		if !supported(limits.SupportedBasalRates, item.Value) {
			return failf(ReasonBasalRate,
				"basal rate %s %s at %s is not a supported device increment",
				item.Value, p.BasalRate.Unit, item.Start)
		}
	}

	return limits.Rules.check(p)
}

func supported(increments []decimal.Decimal, v decimal.Decimal) bool {
	for _, inc := range increments {
		if inc.Equal(v) {
			return true
		}
	}
	return false
}
