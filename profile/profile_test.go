package profile

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mwinther/pumpvault/schedule"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testSchedules(t *testing.T) (schedule.DailyRange, schedule.Daily, schedule.Daily, schedule.Daily) {
	t.Helper()
	correction, err := schedule.NewDailyRange(schedule.UnitMilligramsPerDeciliter, []schedule.RangeItem{
		{Start: 0, Min: dec("100"), Max: dec("120")},
	})
	require.NoError(t, err)
	carb, err := schedule.NewDaily(schedule.UnitGramsPerUnit, []schedule.Item{
		{Start: 0, Value: dec("10")},
	})
	require.NoError(t, err)
	basal, err := schedule.NewDaily(schedule.UnitUnitsPerHour, []schedule.Item{
		{Start: 0, Value: dec("0.5")},
		{Start: 12 * time.Hour, Value: dec("0.75")},
	})
	require.NoError(t, err)
	sensitivity, err := schedule.NewDaily(schedule.UnitMilligramsPerDeciliterPerUnit, []schedule.Item{
		{Start: 0, Value: dec("45")},
	})
	require.NoError(t, err)
	return correction, carb, basal, sensitivity
}

func TestNewRejectsEmptyName(t *testing.T) {
	correction, carb, basal, sensitivity := testSchedules(t)
	_, err := New("", correction, carb, basal, sensitivity)
	require.Error(t, err)
}

func TestNewRejectsEmptySchedule(t *testing.T) {
	correction, carb, _, sensitivity := testSchedules(t)
	_, err := New("night", correction, carb, schedule.Daily{}, sensitivity)
	require.Error(t, err)
}

func TestRecordFieldNames(t *testing.T) {
	correction, carb, basal, sensitivity := testSchedules(t)
	p, err := New("weekend", correction, carb, basal, sensitivity)
	require.NoError(t, err)

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{"name", "correctionRange", "carbRatioSchedule", "basalRateSchedule", "insulinSensitivitySchedule"} {
		require.Contains(t, fields, key)
	}
}

func TestRoundTripPreservesProfile(t *testing.T) {
	correction, carb, basal, sensitivity := testSchedules(t)
	p, err := New("weekend", correction, carb, basal, sensitivity)
	require.NoError(t, err)

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var restored Profile
	require.NoError(t, json.Unmarshal(raw, &restored))
	require.True(t, p.Equal(restored))
}

func TestNewCopiesSchedules(t *testing.T) {
	correction, carb, basal, sensitivity := testSchedules(t)
	p, err := New("weekend", correction, carb, basal, sensitivity)
	require.NoError(t, err)

	basal.Items[0].Value = dec("9")
	require.True(t, dec("0.5").Equal(p.BasalRate.Items[0].Value))
}
