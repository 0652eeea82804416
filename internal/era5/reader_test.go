package era5

import (
	"math"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixtureVar struct {
	name  string
	vals  any
	dims  []string
	attrs map[string]any
}

func writeFixture(t *testing.T, vars ...fixtureVar) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.nc")
	cw, err := cdf.OpenWriter(path)
	require.NoError(t, err)
	for _, v := range vars {
		keys := make([]string, 0, len(v.attrs))
		for k := range v.attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		attrs, err := util.NewOrderedMap(keys, v.attrs)
		require.NoError(t, err)
		require.NoError(t, cw.AddVar(v.name, api.Variable{Values: v.vals, Dimensions: v.dims, Attributes: attrs}))
	}
	require.NoError(t, cw.Close())
	return path
}

// hoursSince1900 returns the ERA5 time coordinate value of a month start.
func hoursSince1900(year int, month time.Month) int32 {
	epoch := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	return int32(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Sub(epoch).Hours())
}

func temperatureFixture(t *testing.T, name string) string {
	t.Helper()
	return writeFixture(t,
		fixtureVar{
			name:  "time",
			vals:  []int32{hoursSince1900(2021, time.July), hoursSince1900(2022, time.July)},
			dims:  []string{"time"},
			attrs: map[string]any{"units": "hours since 1900-01-01 00:00:00.0"},
		},
		fixtureVar{name: "latitude", vals: []float32{0.5, 0}, dims: []string{"latitude"}, attrs: map[string]any{"units": "degrees_north"}},
		fixtureVar{name: "longitude", vals: []float32{10, 10.5, 11}, dims: []string{"longitude"}, attrs: map[string]any{"units": "degrees_east"}},
		fixtureVar{
			name: name,
			vals: [][][]float32{
				{{280, 281, 282}, {283, 284, 285}},
				{{290, 291, 292}, {293, 294, 295}},
			},
			dims:  []string{"time", "latitude", "longitude"},
			attrs: map[string]any{"units": "K"},
		},
	)
}

func TestOpen_PreferredVariable(t *testing.T) {
	path := temperatureFixture(t, "t2m")

	ds, err := Open(path, VariablePolicy{Preferred: []string{"2t", "t2m"}, Fallback: FallbackFirst})
	require.NoError(t, err)

	assert.Equal(t, "t2m", ds.Variable)
	assert.False(t, ds.FellBack)
	assert.Equal(t, []string{"t2m"}, ds.Available)
	assert.Equal(t, []string{"time", "latitude", "longitude"}, ds.Dims)
	assert.Equal(t, "K", ds.Units)
	assert.Equal(t, []float64{0.5, 0}, ds.Lats)
	assert.Equal(t, []float64{10, 10.5, 11}, ds.Lons)
	require.Len(t, ds.Times, 2)
	assert.Equal(t, time.Date(2021, time.July, 1, 0, 0, 0, 0, time.UTC), ds.Times[0])
	assert.Equal(t, time.Date(2022, time.July, 1, 0, 0, 0, 0, time.UTC), ds.Times[1])
	assert.Equal(t, []float64{290, 291, 292, 293, 294, 295}, ds.Values[1])
	assert.Equal(t, 284.0, ds.Field(0).At(1, 1))
}

func TestOpen_FallsBackToFirstVariable(t *testing.T) {
	path := temperatureFixture(t, "air")

	ds, err := Open(path, VariablePolicy{Preferred: []string{"2t"}, Fallback: FallbackFirst})
	require.NoError(t, err)
	assert.Equal(t, "air", ds.Variable)
	assert.True(t, ds.FellBack)
}

func TestOpen_NoFallback(t *testing.T) {
	path := temperatureFixture(t, "air")

	_, err := Open(path, VariablePolicy{Preferred: []string{"2t"}, Fallback: FallbackNone})
	require.ErrorIs(t, err, ErrNoVariable)
}

func TestOpen_UnpacksScaledShorts(t *testing.T) {
	path := writeFixture(t,
		fixtureVar{name: "valid_time", vals: []int32{0}, dims: []string{"valid_time"}, attrs: map[string]any{"units": "seconds since 1970-01-01"}},
		fixtureVar{name: "latitude", vals: []float64{1}, dims: []string{"latitude"}, attrs: map[string]any{}},
		fixtureVar{name: "longitude", vals: []float64{1, 2}, dims: []string{"longitude"}, attrs: map[string]any{}},
		fixtureVar{
			name: "t2m",
			vals: [][][]int16{{{100, -32767}}},
			dims: []string{"valid_time", "latitude", "longitude"},
			attrs: map[string]any{
				"scale_factor": 0.5,
				"add_offset":   250.0,
				"_FillValue":   int16(-32767),
				"units":        "K",
			},
		},
	)

	ds, err := Open(path, VariablePolicy{Preferred: []string{"t2m"}})
	require.NoError(t, err)
	require.Len(t, ds.Values, 1)
	assert.Equal(t, 300.0, ds.Values[0][0])
	assert.True(t, math.IsNaN(ds.Values[0][1]))
	assert.Equal(t, time.Unix(0, 0).UTC(), ds.Times[0])
}

func TestOpen_RawTimesWithoutUnits(t *testing.T) {
	path := writeFixture(t,
		fixtureVar{name: "time", vals: []float64{1688169600}, dims: []string{"time"}, attrs: map[string]any{}},
		fixtureVar{name: "lat", vals: []float32{1}, dims: []string{"lat"}, attrs: map[string]any{}},
		fixtureVar{name: "lon", vals: []float32{1}, dims: []string{"lon"}, attrs: map[string]any{}},
		fixtureVar{name: "tas", vals: [][][]float64{{{1}}}, dims: []string{"time", "lat", "lon"}, attrs: map[string]any{}},
	)

	ds, err := Open(path, VariablePolicy{Fallback: FallbackFirst})
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1688169600)}, ds.Times)
}

func TestOpen_RejectsUnexpectedDimensions(t *testing.T) {
	path := writeFixture(t,
		fixtureVar{name: "latitude", vals: []float32{1}, dims: []string{"latitude"}, attrs: map[string]any{}},
		fixtureVar{name: "longitude", vals: []float32{1}, dims: []string{"longitude"}, attrs: map[string]any{}},
		fixtureVar{name: "z", vals: [][]float32{{1}}, dims: []string{"latitude", "longitude"}, attrs: map[string]any{}},
	)

	_, err := Open(path, VariablePolicy{Preferred: []string{"z"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want (time, latitude, longitude)")
}

func TestParseTimeUnits(t *testing.T) {
	tests := []struct {
		units string
		step  time.Duration
		epoch time.Time
	}{
		{"hours since 1900-01-01 00:00:00.0", time.Hour, time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"seconds since 1970-01-01", time.Second, time.Unix(0, 0).UTC()},
		{"days since 2000-01-01T00:00:00Z", 24 * time.Hour, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"minutes since 2020-06-01 12:30", time.Minute, time.Date(2020, 6, 1, 12, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.units, func(t *testing.T) {
			tu, err := ParseTimeUnits(tt.units)
			require.NoError(t, err)
			assert.Equal(t, tt.step, tu.Step)
			assert.True(t, tt.epoch.Equal(tu.Epoch), "epoch %v", tu.Epoch)
		})
	}
}

func TestParseTimeUnits_Invalid(t *testing.T) {
	for _, units := range []string{"hours", "fortnights since 1900-01-01", "hours since yesterday"} {
		_, err := ParseTimeUnits(units)
		assert.Error(t, err, units)
	}
}

func TestTimeUnits_FractionalSteps(t *testing.T) {
	tu := TimeUnits{Step: 24 * time.Hour, Epoch: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, time.Date(2000, 1, 2, 12, 0, 0, 0, time.UTC), tu.Time(1.5))
}
