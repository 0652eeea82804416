package climate

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtm0/era5-anomaly/internal/era5"
)

func july(year int) time.Time {
	return time.Date(year, time.July, 1, 0, 0, 0, 0, time.UTC)
}

// singleCell builds a dataset with one grid cell holding vals for July of
// consecutive years starting at firstYear.
func singleCell(firstYear int, vals ...float64) *era5.Dataset {
	ds := &era5.Dataset{Variable: "t2m", Units: era5.UnitsCelsius, Lats: []float64{-26.25}, Lons: []float64{28}}
	for i, v := range vals {
		ds.Times = append(ds.Times, july(firstYear+i))
		ds.Values = append(ds.Values, []float64{v})
	}
	return ds
}

func field(vals ...float64) era5.Field {
	return era5.Field{Lats: []float64{1, 0}, Lons: []float64{10, 11}, Values: vals}
}

func TestMean(t *testing.T) {
	ds := &era5.Dataset{
		Times:  []any{july(2020), july(2021), july(2022)},
		Lats:   []float64{1},
		Lons:   []float64{1, 2},
		Values: [][]float64{{1, 10}, {2, 20}, {6, 60}},
	}

	got, err := Mean(ds, []bool{true, true, false})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 15}, got.Values)

	got, err = Mean(ds, []bool{true, true, true})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3, 30}, got.Values, 1e-12)
}

func TestMean_EmptyMask(t *testing.T) {
	ds := singleCell(2021, 10, 20)
	_, err := Mean(ds, []bool{false, false})
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestMean_MaskLength(t *testing.T) {
	ds := singleCell(2021, 10, 20)
	_, err := Mean(ds, []bool{true})
	require.Error(t, err)
}

func TestMean_PropagatesMissingValues(t *testing.T) {
	ds := singleCell(2021, 10, math.NaN())
	got, err := Mean(ds, []bool{true, true})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got.Values[0]))
}

func TestAnomaly_Antisymmetric(t *testing.T) {
	a := field(1.5, -2, 30, 0.25)
	b := field(-4, 8.5, 12, 0.25)

	ab, err := Anomaly(a, b)
	require.NoError(t, err)
	ba, err := Anomaly(b, a)
	require.NoError(t, err)
	for i := range ab.Values {
		assert.Equal(t, ab.Values[i], -ba.Values[i])
	}
}

func TestAnomaly_AgainstOwnMeanIsZero(t *testing.T) {
	x := field(14.2, -3.7, 29.9, 0)
	ds := &era5.Dataset{Times: []any{july(2023)}, Lats: x.Lats, Lons: x.Lons, Values: [][]float64{x.Values}}

	ref, err := Mean(ds, []bool{true})
	require.NoError(t, err)
	got, err := Anomaly(x, ref)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 0}, got.Values)
}

func TestAnomaly_GridMismatch(t *testing.T) {
	a := field(1, 2, 3, 4)
	b := era5.Field{Lats: []float64{1, 0}, Lons: []float64{10, 11.25}, Values: []float64{1, 2, 3, 4}}
	c := era5.Field{Lats: []float64{1}, Lons: []float64{10, 11}, Values: []float64{1, 2}}

	_, err := Anomaly(a, b)
	require.ErrorIs(t, err, ErrGridMismatch)
	_, err = Anomaly(a, c)
	require.ErrorIs(t, err, ErrGridMismatch)
}

func TestNearest(t *testing.T) {
	axis := []float64{-27, -26.75, -26.5, -26.25, -26}

	for i, v := range axis {
		got, err := Nearest(axis, v)
		require.NoError(t, err)
		assert.Equal(t, i, got, "exact value %v", v)

		for _, off := range []float64{-0.124, -0.05, 0.05, 0.124} {
			if (i == 0 && off < 0) || (i == len(axis)-1 && off > 0) {
				continue
			}
			got, err := Nearest(axis, v+off)
			require.NoError(t, err)
			assert.Equal(t, i, got, "value %v", v+off)
		}
	}
}

func TestNearest_TieBreaksOnFirstIndex(t *testing.T) {
	got, err := Nearest([]float64{0, 1, 2}, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	got, err = Nearest([]float64{2, 1, 0}, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestNearest_EmptyAxis(t *testing.T) {
	_, err := Nearest(nil, 1)
	require.ErrorIs(t, err, ErrEmptyAxis)
}

func TestLocate_WrapsLongitude(t *testing.T) {
	f := era5.Field{Lats: []float64{10, 0, -10}, Lons: []float64{0, 90, 180, 270}, Values: make([]float64, 12)}
	i, j, err := Locate(f, -8, -85)
	require.NoError(t, err)
	assert.Equal(t, 2, i)
	assert.Equal(t, 3, j)
}

func TestRun_ThreeYearScenario(t *testing.T) {
	ds := singleCell(2021, 10, 20, 30)
	r := Recipe{
		Mode:      ModeClimatology,
		Reference: Period{FromYear: 2021, ToYear: 2022, Month: time.July},
		Target:    SingleYear(2023, time.July),
		Location:  Location{Name: "Johannesburg", Lat: -26.2041, Lon: 28.0473},
	}

	res, err := Run(ds, r)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ReferenceCount)
	assert.Equal(t, 1, res.TargetCount)
	assert.Equal(t, []float64{15}, res.Reference.Values)
	assert.Equal(t, []float64{15}, res.Anomaly.Values)
	assert.Equal(t, PointSample{Lat: -26.25, Lon: 28, Latest: 30, Reference: 15, Anomaly: 15}, res.Sample)
}

func TestRun_EmptyReferencePeriod(t *testing.T) {
	ds := singleCell(2021, 10, 20, 30)
	r := Recipe{
		Mode:      ModeClimatology,
		Reference: Period{FromYear: 1991, ToYear: 2020, Month: time.July},
		Target:    SingleYear(2023, time.July),
	}

	res, err := Run(ds, r)
	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrInsufficientData)
	stage, ok := StageOf(err)
	require.True(t, ok)
	assert.Equal(t, StageFilter, stage)
}

func TestRun_MissingTarget(t *testing.T) {
	ds := singleCell(2021, 10, 20, 30)
	_, err := Run(ds, Recipe{Mode: ModeClimatology, Reference: Period{FromYear: 2021, ToYear: 2022, Month: time.July}, Target: SingleYear(2024, time.July)})
	require.ErrorIs(t, err, ErrInsufficientData)
	assert.Contains(t, err.Error(), "target")
}

func TestRun_UnparseableTime(t *testing.T) {
	ds := singleCell(2021, 10)
	ds.Times[0] = "July 2021"
	_, err := Run(ds, Recipe{Mode: ModeClimatology, Target: SingleYear(2021, time.July)})
	require.ErrorIs(t, err, ErrUnparseableTime)
	stage, _ := StageOf(err)
	assert.Equal(t, StageParse, stage)
}

func TestRun_Precomputed(t *testing.T) {
	ds := singleCell(2022, 0.4, 1.2)
	res, err := Run(ds, Recipe{Mode: ModePrecomputed, Target: SingleYear(2023, time.July), Location: Location{Lat: -26, Lon: 28}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.2}, res.Anomaly.Values)
	assert.True(t, res.Reference.Empty())
	assert.Equal(t, 1.2, res.Sample.Anomaly)
	assert.True(t, math.IsNaN(res.Sample.Latest))
	assert.True(t, math.IsNaN(res.Sample.Reference))

	recs := res.Records()
	require.Len(t, recs, 1)
	assert.True(t, math.IsNaN(recs[0].Latest))
	assert.Equal(t, july(2023).UnixMilli(), recs[0].Timestamp)
}

func TestRun_UnknownMode(t *testing.T) {
	_, err := Run(singleCell(2023, 1), Recipe{Mode: "bogus", Target: SingleYear(2023, time.July)})
	require.Error(t, err)
}

func TestStageError(t *testing.T) {
	err := Wrap(StageFetch, errors.New("boom"))
	assert.EqualError(t, err, "fetch: boom")
	assert.Equal(t, err, Wrap(StageRender, err))
	assert.NoError(t, Wrap(StageFetch, nil))

	_, ok := StageOf(errors.New("plain"))
	assert.False(t, ok)
}
