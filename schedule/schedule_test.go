package schedule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNewDailyRejectsEmptyAndUnordered(t *testing.T) {
	_, err := NewDaily(UnitUnitsPerHour, nil)
	require.Error(t, err)

	_, err = NewDaily(UnitUnitsPerHour, []Item{{Start: -time.Hour, Value: dec("1")}})
	require.Error(t, err)

	_, err = NewDaily(UnitUnitsPerHour, []Item{
		{Start: 6 * time.Hour, Value: dec("1")},
		{Start: 2 * time.Hour, Value: dec("0.5")},
	})
	require.Error(t, err)

	_, err = NewDaily(UnitUnitsPerHour, []Item{{Start: 25 * time.Hour, Value: dec("1")}})
	require.Error(t, err)
}

func TestNewDailyAllowsDuplicateOffsets(t *testing.T) {
	s, err := NewDaily(UnitGramsPerUnit, []Item{
		{Start: 0, Value: dec("10")},
		{Start: 6 * time.Hour, Value: dec("12")},
		{Start: 6 * time.Hour, Value: dec("15")},
	})
	require.NoError(t, err)
	require.Len(t, s.Items, 3)
}

func TestNewDailyRangeRejectsInvertedRange(t *testing.T) {
	_, err := NewDailyRange(UnitMilligramsPerDeciliter, []RangeItem{
		{Start: 0, Min: dec("120"), Max: dec("100")},
	})
	require.Error(t, err)
}

func TestTotalPerDay(t *testing.T) {
	s, err := NewDaily(UnitUnitsPerHour, []Item{
		{Start: 0, Value: dec("1.0")},
		{Start: 6 * time.Hour, Value: dec("0.5")},
		{Start: 18 * time.Hour, Value: dec("2.0")},
	})
	require.NoError(t, err)

	// 6h at 1.0 + 12h at 0.5 + 6h at 2.0 = 24 units.
	require.True(t, dec("24").Equal(s.TotalPerDay()), "got %s", s.TotalPerDay())
}

func TestTotalPerDaySingleItem(t *testing.T) {
	s, err := NewDaily(UnitUnitsPerHour, []Item{{Start: 0, Value: dec("0.75")}})
	require.NoError(t, err)
	require.True(t, dec("18").Equal(s.TotalPerDay()))
}

func TestDailyJSONRecordFormat(t *testing.T) {
	s, err := NewDaily(UnitUnitsPerHour, []Item{{Start: 90 * time.Minute, Value: dec("1.25")}})
	require.NoError(t, err)

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	require.JSONEq(t, `{"unit":"U/h","items":[{"startOffsetSeconds":5400,"value":"1.25"}]}`, string(raw))

	var restored Daily
	require.NoError(t, json.Unmarshal(raw, &restored))
	require.True(t, s.Equal(restored))
}

func TestDailyRangeJSONRoundTrip(t *testing.T) {
	s, err := NewDailyRange(UnitMilligramsPerDeciliter, []RangeItem{
		{Start: 0, Min: dec("100"), Max: dec("120")},
		{Start: 8 * time.Hour, Min: dec("90"), Max: dec("110")},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(s)
	require.NoError(t, err)

	var restored DailyRange
	require.NoError(t, json.Unmarshal(raw, &restored))
	require.True(t, s.Equal(restored))
}

func TestUnmarshalRejectsUnorderedRecord(t *testing.T) {
	var s Daily
	err := json.Unmarshal([]byte(`{"unit":"U/h","items":[{"startOffsetSeconds":3600,"value":"1"},{"startOffsetSeconds":0,"value":"2"}]}`), &s)
	require.Error(t, err)
}

func TestCloneDoesNotShareItems(t *testing.T) {
	s, err := NewDaily(UnitUnitsPerHour, []Item{{Start: 0, Value: dec("1")}})
	require.NoError(t, err)

	clone := s.Clone()
	clone.Items[0].Value = dec("9")
	require.True(t, dec("1").Equal(s.Items[0].Value))
}
