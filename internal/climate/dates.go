package climate

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// YearMonth is the calendar month a time coordinate value falls in.
type YearMonth struct {
	Year  int
	Month time.Month
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// basicDate is the ISO-8601 basic format calendar date.
const basicDate = "20060102"

var isoLayouts = []string{
	"20060102T150405Z07:00",
	"20060102T150405",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006-01",
}

// NormalizeTime converts a time coordinate value to its (year, month) in UTC.
// Accepted values are time.Time, numeric Unix timestamps in seconds and
// ISO-8601 strings. An eight digit string is a basic format date (20230701);
// any other string holding a number is read as a timestamp, so "2023" is
// 1970-01-01T00:33:43Z.
func NormalizeTime(v any) (YearMonth, error) {
	switch t := v.(type) {
	case time.Time:
		return yearMonth(t), nil
	case string:
		s := strings.TrimSpace(t)
		if len(s) == len(basicDate) {
			if ts, err := time.Parse(basicDate, s); err == nil {
				return yearMonth(ts), nil
			}
		}
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(secs)
		}
		for _, layout := range isoLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return yearMonth(ts), nil
			}
		}
		return YearMonth{}, fmt.Errorf("%w: %q", ErrUnparseableTime, t)
	}
	if secs, ok := number(v); ok {
		return fromEpoch(secs)
	}
	return YearMonth{}, fmt.Errorf("%w: %v (%T)", ErrUnparseableTime, v, v)
}

func yearMonth(t time.Time) YearMonth {
	t = t.UTC()
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

func fromEpoch(secs float64) (YearMonth, error) {
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return YearMonth{}, fmt.Errorf("%w: %v", ErrUnparseableTime, secs)
	}
	whole, frac := math.Modf(secs)
	return yearMonth(time.Unix(int64(whole), int64(frac*1e9))), nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Period selects one calendar month over an inclusive range of years.
type Period struct {
	FromYear int
	ToYear   int
	Month    time.Month
}

// SingleYear returns the period covering month of one year.
func SingleYear(year int, month time.Month) Period {
	return Period{FromYear: year, ToYear: year, Month: month}
}

// Contains reports whether ym falls inside the period.
func (p Period) Contains(ym YearMonth) bool {
	return ym.Month == p.Month && ym.Year >= p.FromYear && ym.Year <= p.ToYear
}

// Years returns the number of years in the period.
func (p Period) Years() int {
	if p.ToYear < p.FromYear {
		return 0
	}
	return p.ToYear - p.FromYear + 1
}

// Start returns the first instant of the period.
func (p Period) Start() time.Time {
	return time.Date(p.FromYear, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// String renders "1991-2020", or "2023" for a single year.
func (p Period) String() string {
	if p.FromYear == p.ToYear {
		return strconv.Itoa(p.FromYear)
	}
	return fmt.Sprintf("%d-%d", p.FromYear, p.ToYear)
}

// Mask returns one flag per time coordinate value, set where the value falls
// inside the period.
func Mask(times []any, p Period) ([]bool, error) {
	mask := make([]bool, len(times))
	for i, t := range times {
		ym, err := NormalizeTime(t)
		if err != nil {
			return nil, fmt.Errorf("time index %d: %w", i, err)
		}
		mask[i] = p.Contains(ym)
	}
	return mask, nil
}

// Count returns the number of set flags.
func Count(mask []bool) int {
	n := 0
	for _, ok := range mask {
		if ok {
			n++
		}
	}
	return n
}
