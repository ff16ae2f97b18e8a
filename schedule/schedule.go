package schedule

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Unit identifies the measurement unit attached to a persisted schedule.
type Unit string

const (
	// UnitMilligramsPerDeciliter is used for glucose correction ranges.
	UnitMilligramsPerDeciliter Unit = "mg/dL"
	// UnitMilligramsPerDeciliterPerUnit is used for insulin sensitivity.
	UnitMilligramsPerDeciliterPerUnit Unit = "mg/dL/U"
	// UnitGramsPerUnit is used for carbohydrate ratios.
	UnitGramsPerUnit Unit = "g/U"
	// UnitUnitsPerHour is used for basal rates.
	UnitUnitsPerHour Unit = "U/h"
)

const day = 24 * time.Hour

// Item is a single scalar entry of a daily schedule. Start is the offset from
// midnight at which the value takes effect.
type Item struct {
	Start time.Duration
	Value decimal.Decimal
}

// RangeItem is a single entry of a daily range schedule, carrying an
// inclusive minimum and maximum instead of a scalar.
type RangeItem struct {
	Start time.Duration
	Min   decimal.Decimal
	Max   decimal.Decimal
}

// Daily is an ordered sequence of scalar items covering a 24 hour cycle.
//
// Items are ordered by ascending start offset. Duplicate offsets are
// tolerated; the producing UI is expected to avoid them, but the schedule
// type does not reject them.
type Daily struct {
	Unit  Unit
	Items []Item
}

// DailyRange is the range-valued counterpart of Daily, used for glucose
// correction ranges.
type DailyRange struct {
	Unit  Unit
	Items []RangeItem
}

// NewDaily builds a scalar schedule after checking ordering constraints.
func NewDaily(unit Unit, items []Item) (Daily, error) {
	if len(items) == 0 {
		return Daily{}, fmt.Errorf("schedule must contain at least one item")
	}
	last := time.Duration(-1)
	for i, item := range items {
		if item.Start < 0 {
			return Daily{}, fmt.Errorf("item %d: start offset must not be negative", i)
		}
		if item.Start >= day {
			return Daily{}, fmt.Errorf("item %d: start offset %s exceeds the daily cycle", i, item.Start)
		}
		if item.Start < last {
			return Daily{}, fmt.Errorf("item %d: start offsets must be ascending", i)
		}
		last = item.Start
	}
	return Daily{Unit: unit, Items: items}, nil
}

// NewDailyRange builds a range schedule after checking ordering constraints
// and that every entry's minimum does not exceed its maximum.
func NewDailyRange(unit Unit, items []RangeItem) (DailyRange, error) {
	if len(items) == 0 {
		return DailyRange{}, fmt.Errorf("schedule must contain at least one item")
	}
	last := time.Duration(-1)
	for i, item := range items {
		if item.Start < 0 {
			return DailyRange{}, fmt.Errorf("item %d: start offset must not be negative", i)
		}
		if item.Start >= day {
			return DailyRange{}, fmt.Errorf("item %d: start offset %s exceeds the daily cycle", i, item.Start)
		}
		if item.Start < last {
			return DailyRange{}, fmt.Errorf("item %d: start offsets must be ascending", i)
		}
		if item.Min.GreaterThan(item.Max) {
			return DailyRange{}, fmt.Errorf("item %d: minimum %s exceeds maximum %s", i, item.Min, item.Max)
		}
		last = item.Start
	}
	return DailyRange{Unit: unit, Items: items}, nil
}

// TotalPerDay sums value multiplied by covered hours across the daily cycle.
// For a basal rate schedule this yields the total insulin delivered per day.
func (d Daily) TotalPerDay() decimal.Decimal {
	total := decimal.Zero
	for i, item := range d.Items {
		end := day
		if i+1 < len(d.Items) {
			end = d.Items[i+1].Start
		}
		hours := decimal.NewFromFloat((end - item.Start).Hours())
		total = total.Add(item.Value.Mul(hours))
	}
	return total
}

// Clone returns a deep copy so callers can hold schedules without sharing
// the backing item slice.
func (d Daily) Clone() Daily {
	items := make([]Item, len(d.Items))
	copy(items, d.Items)
	return Daily{Unit: d.Unit, Items: items}
}

// Clone returns a deep copy of the range schedule.
func (d DailyRange) Clone() DailyRange {
	items := make([]RangeItem, len(d.Items))
	copy(items, d.Items)
	return DailyRange{Unit: d.Unit, Items: items}
}

// Equal reports whether two schedules carry the same unit and numerically
// equal items. Decimal comparison ignores trailing zeroes, so "0.50" and
// "0.5" compare equal.
func (d Daily) Equal(other Daily) bool {
	if d.Unit != other.Unit || len(d.Items) != len(other.Items) {
		return false
	}
	for i, item := range d.Items {
		if item.Start != other.Items[i].Start || !item.Value.Equal(other.Items[i].Value) {
			return false
		}
	}
	return true
}

// Equal reports whether two range schedules are equivalent.
func (d DailyRange) Equal(other DailyRange) bool {
	if d.Unit != other.Unit || len(d.Items) != len(other.Items) {
		return false
	}
	for i, item := range d.Items {
		o := other.Items[i]
		if item.Start != o.Start || !item.Min.Equal(o.Min) || !item.Max.Equal(o.Max) {
			return false
		}
	}
	return true
}

type itemRecord struct {
	StartOffsetSeconds int64           `json:"startOffsetSeconds"`
	Value              decimal.Decimal `json:"value"`
}

type rangeItemRecord struct {
	StartOffsetSeconds int64           `json:"startOffsetSeconds"`
	Min                decimal.Decimal `json:"min"`
	Max                decimal.Decimal `json:"max"`
}

type dailyRecord struct {
	Unit  Unit         `json:"unit"`
	Items []itemRecord `json:"items"`
}

type dailyRangeRecord struct {
	Unit  Unit              `json:"unit"`
	Items []rangeItemRecord `json:"items"`
}

// MarshalJSON renders items with second-resolution offsets so the persisted
// record format stays stable across process restarts.
func (d Daily) MarshalJSON() ([]byte, error) {
	rec := dailyRecord{Unit: d.Unit, Items: make([]itemRecord, len(d.Items))}
	for i, item := range d.Items {
		rec.Items[i] = itemRecord{
			StartOffsetSeconds: int64(item.Start / time.Second),
			Value:              item.Value,
		}
	}
	return json.Marshal(rec)
}

// UnmarshalJSON restores a schedule from its persisted record form.
func (d *Daily) UnmarshalJSON(data []byte) error {
	var rec dailyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("decode schedule: %w", err)
	}
	items := make([]Item, len(rec.Items))
	for i, item := range rec.Items {
		items[i] = Item{
			Start: time.Duration(item.StartOffsetSeconds) * time.Second,
			Value: item.Value,
		}
	}
	restored, err := NewDaily(rec.Unit, items)
	if err != nil {
		return err
	}
	*d = restored
	return nil
}

// MarshalJSON renders range items with explicit min and max fields.
func (d DailyRange) MarshalJSON() ([]byte, error) {
	rec := dailyRangeRecord{Unit: d.Unit, Items: make([]rangeItemRecord, len(d.Items))}
	for i, item := range d.Items {
		rec.Items[i] = rangeItemRecord{
			StartOffsetSeconds: int64(item.Start / time.Second),
			Min:                item.Min,
			Max:                item.Max,
		}
	}
	return json.Marshal(rec)
}

// UnmarshalJSON restores a range schedule from its persisted record form.
func (d *DailyRange) UnmarshalJSON(data []byte) error {
	var rec dailyRangeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("decode range schedule: %w", err)
	}
	items := make([]RangeItem, len(rec.Items))
	for i, item := range rec.Items {
		items[i] = RangeItem{
			Start: time.Duration(item.StartOffsetSeconds) * time.Second,
			Min:   item.Min,
			Max:   item.Max,
		}
	}
	restored, err := NewDailyRange(rec.Unit, items)
	if err != nil {
		return err
	}
	*d = restored
	return nil
}
