package era5

import (
	"fmt"
	"math"
)

// Field is a latitude x longitude grid. Values are stored row-major: the
// value at (Lats[i], Lons[j]) is Values[i*len(Lons)+j].
type Field struct {
	Lats   []float64
	Lons   []float64
	Values []float64
}

// NewField allocates a zero field on the given axes.
func NewField(lats, lons []float64) Field {
	return Field{
		Lats:   lats,
		Lons:   lons,
		Values: make([]float64, len(lats)*len(lons)),
	}
}

// At returns the value at latitude index i and longitude index j.
func (f Field) At(i, j int) float64 {
	return f.Values[i*len(f.Lons)+j]
}

// Empty reports whether the field holds no values.
func (f Field) Empty() bool {
	return len(f.Values) == 0
}

// SameGrid reports whether both fields are defined on identical axes.
func (f Field) SameGrid(o Field) bool {
	if len(f.Values) != len(f.Lats)*len(f.Lons) || len(o.Values) != len(o.Lats)*len(o.Lons) {
		return false
	}
	return equalAxis(f.Lats, o.Lats) && equalAxis(f.Lons, o.Lons)
}

func equalAxis(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Dataset is a labeled (time, latitude, longitude) array of a single
// variable. Times holds the raw time coordinate values: time.Time when the
// file carries CF units, otherwise whatever the file stores (numbers or
// strings).
type Dataset struct {
	Variable string
	Units    string
	// Available lists the data variables found in the source.
	Available []string
	// FellBack is set when Variable was chosen by the fallback policy.
	FellBack bool
	// Dims are the source dimension names in (time, latitude, longitude) order.
	Dims []string

	Times  []any
	Lats   []float64
	Lons   []float64
	Values [][]float64
}

// Field returns the grid at time index t. The values are shared with the
// dataset.
func (ds *Dataset) Field(t int) Field {
	return Field{Lats: ds.Lats, Lons: ds.Lons, Values: ds.Values[t]}
}

// Coords returns the coordinate names of the dataset.
func (ds *Dataset) Coords() []string {
	return append([]string(nil), ds.Dims...)
}

// Validate checks that every timestep covers the full grid.
func (ds *Dataset) Validate() error {
	if len(ds.Values) != len(ds.Times) {
		return fmt.Errorf("%d timesteps for %d time coordinates", len(ds.Values), len(ds.Times))
	}
	n := len(ds.Lats) * len(ds.Lons)
	for t, v := range ds.Values {
		if len(v) != n {
			return fmt.Errorf("timestep %d holds %d values, want %d", t, len(v), n)
		}
	}
	return nil
}

// Summary returns the summary information about the dataset suitable for
// logging.
func (ds *Dataset) Summary() []any {
	return []any{
		"variable", ds.Variable,
		"units", ds.Units,
		"dims", ds.Dims,
		"tsCnt", len(ds.Times),
		"laCnt", len(ds.Lats),
		"loCnt", len(ds.Lons),
		"totalRecCnt", len(ds.Times) * len(ds.Lats) * len(ds.Lons),
	}
}

// WrapLon maps lon onto the convention used by the axis: [0, 360) when the
// axis extends past 180 degrees east, [-180, 180) otherwise.
func WrapLon(axis []float64, lon float64) float64 {
	if len(axis) == 0 {
		return lon
	}
	hi := axis[0]
	for _, v := range axis {
		hi = math.Max(hi, v)
	}
	if hi > 180 {
		if lon < 0 {
			return lon + 360
		}
		return lon
	}
	if lon >= 180 {
		return lon - 360
	}
	return lon
}
