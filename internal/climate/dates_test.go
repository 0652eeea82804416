package climate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTime(t *testing.T) {
	want := YearMonth{Year: 2023, Month: time.July}
	july2023 := time.Date(2023, time.July, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   any
	}{
		{"datetime", july2023},
		{"datetime with zone", time.Date(2023, time.July, 1, 1, 0, 0, 0, time.FixedZone("SAST", 2*3600)).Add(2 * time.Hour)},
		{"int64 epoch", july2023.Unix()},
		{"int epoch", int(july2023.Unix())},
		{"float epoch", float64(july2023.Unix()) + 0.5},
		{"float32 epoch", float32(july2023.Unix())},
		{"rfc3339 zulu", "2023-07-01T00:00:00Z"},
		{"rfc3339 offset", "2023-07-15T06:00:00+00:00"},
		{"naive iso", "2023-07-01T00:00:00"},
		{"space separated", "2023-07-01 00:00:00"},
		{"date only", "2023-07-01"},
		{"year month", "2023-07"},
		{"numeric string", "1688169600"},
		{"basic date", "20230701"},
		{"basic date time", "20230701T060000"},
		{"basic date time zulu", "20230701T060000Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeTime(tt.in)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestNormalizeTime_DigitStrings(t *testing.T) {
	// Eight digits are a date, other digit strings are Unix seconds.
	got, err := NormalizeTime("19991231")
	require.NoError(t, err)
	assert.Equal(t, YearMonth{Year: 1999, Month: time.December}, got)

	got, err = NormalizeTime("2023")
	require.NoError(t, err)
	assert.Equal(t, YearMonth{Year: 1970, Month: time.January}, got)

	got, err = NormalizeTime("99999999999")
	require.NoError(t, err)
	assert.Equal(t, 5138, got.Year)
}

func TestNormalizeTime_Unparseable(t *testing.T) {
	for _, in := range []any{"last summer", "", []int{1}, nil, struct{}{}} {
		_, err := NormalizeTime(in)
		assert.ErrorIs(t, err, ErrUnparseableTime, "%v", in)
	}
}

// mixedTimes returns July and January timestamps for 2019..2023 in the three
// supported representations.
func mixedTimes() []any {
	var times []any
	for year := 2019; year <= 2023; year++ {
		jul := time.Date(year, time.July, 1, 0, 0, 0, 0, time.UTC)
		jan := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		switch year % 3 {
		case 0:
			times = append(times, jul, jan)
		case 1:
			times = append(times, jul.Unix(), jan.Unix())
		default:
			times = append(times, jul.Format(time.RFC3339), jan.Format("2006-01-02"))
		}
	}
	return times
}

func TestMask_CountsMatchPeriod(t *testing.T) {
	times := mixedTimes()

	tests := []struct {
		period Period
		want   int
	}{
		{Period{FromYear: 2019, ToYear: 2023, Month: time.July}, 5},
		{Period{FromYear: 2020, ToYear: 2021, Month: time.July}, 2},
		{Period{FromYear: 2019, ToYear: 2023, Month: time.January}, 5},
		{SingleYear(2023, time.July), 1},
		{SingleYear(2023, time.March), 0},
		{Period{FromYear: 1991, ToYear: 2018, Month: time.July}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.period.String()+" "+tt.period.Month.String(), func(t *testing.T) {
			mask, err := Mask(times, tt.period)
			require.NoError(t, err)
			assert.Len(t, mask, len(times))
			assert.Equal(t, tt.want, Count(mask))
		})
	}
}

func TestMask_SelectsExpectedIndices(t *testing.T) {
	mask, err := Mask(mixedTimes(), SingleYear(2021, time.July))
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false, false, true, false, false, false, false, false}, mask)
}

func TestMask_FailsOnUnparseableValue(t *testing.T) {
	_, err := Mask([]any{"2023-07-01", "n/a"}, SingleYear(2023, time.July))
	require.ErrorIs(t, err, ErrUnparseableTime)
	assert.Contains(t, err.Error(), "time index 1")
}

func TestPeriod(t *testing.T) {
	p := Period{FromYear: 1991, ToYear: 2020, Month: time.July}
	assert.Equal(t, "1991-2020", p.String())
	assert.Equal(t, 30, p.Years())
	assert.True(t, p.Contains(YearMonth{Year: 1991, Month: time.July}))
	assert.True(t, p.Contains(YearMonth{Year: 2020, Month: time.July}))
	assert.False(t, p.Contains(YearMonth{Year: 2021, Month: time.July}))
	assert.False(t, p.Contains(YearMonth{Year: 2000, Month: time.June}))

	single := SingleYear(2023, time.July)
	assert.Equal(t, "2023", single.String())
	assert.Equal(t, time.Date(2023, time.July, 1, 0, 0, 0, 0, time.UTC), single.Start())
	assert.Equal(t, 0, Period{FromYear: 2, ToYear: 1}.Years())
}
