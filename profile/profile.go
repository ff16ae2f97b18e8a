// Package profile defines the stored aggregate of the four therapy schedules
// and the lightweight reference used to enumerate stored records without
// loading their bodies.
package profile

import (
	"fmt"

	"github.com/mwinther/pumpvault/schedule"
)

// Profile is a named snapshot of the four therapy schedules. It is an
// immutable value: a fresh Profile is built for every save and in-memory
// copies keep no back-reference to storage.
type Profile struct {
	Name               string              `json:"name"`
	CorrectionRange    schedule.DailyRange `json:"correctionRange"`
	CarbRatio          schedule.Daily      `json:"carbRatioSchedule"`
	BasalRate          schedule.Daily      `json:"basalRateSchedule"`
	InsulinSensitivity schedule.Daily      `json:"insulinSensitivitySchedule"`
}

// Reference identifies a stored profile without its body. Key is the storage
// identifier derived from the save timestamp; Name is a denormalized copy of
// the record's name kept for display.
type Reference struct {
	Name string
	Key  string
}

// New assembles a profile and checks the structural constraints the store
// relies on: a non-empty name and four non-empty schedules.
func New(name string, correctionRange schedule.DailyRange, carbRatio, basalRate, insulinSensitivity schedule.Daily) (Profile, error) {
	if name == "" {
		return Profile{}, fmt.Errorf("profile name must not be empty")
	}
	if len(correctionRange.Items) == 0 {
		return Profile{}, fmt.Errorf("profile %q: correction range schedule is empty", name)
	}
	if len(carbRatio.Items) == 0 {
		return Profile{}, fmt.Errorf("profile %q: carb ratio schedule is empty", name)
	}
	if len(basalRate.Items) == 0 {
		return Profile{}, fmt.Errorf("profile %q: basal rate schedule is empty", name)
	}
	if len(insulinSensitivity.Items) == 0 {
		return Profile{}, fmt.Errorf("profile %q: insulin sensitivity schedule is empty", name)
	}
	return Profile{
		Name:               name,
		CorrectionRange:    correctionRange.Clone(),
		CarbRatio:          carbRatio.Clone(),
		BasalRate:          basalRate.Clone(),
		InsulinSensitivity: insulinSensitivity.Clone(),
	}, nil
}

// Equal reports whether two profiles carry the same name and equivalent
// schedules.
func (p Profile) Equal(other Profile) bool {
	return p.Name == other.Name &&
		p.CorrectionRange.Equal(other.CorrectionRange) &&
		p.CarbRatio.Equal(other.CarbRatio) &&
		p.BasalRate.Equal(other.BasalRate) &&
		p.InsulinSensitivity.Equal(other.InsulinSensitivity)
}
