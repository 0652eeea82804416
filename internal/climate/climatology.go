package climate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/rtm0/era5-anomaly/internal/era5"
)

// Mean averages the dataset over the time indices selected by mask. Every
// selected timestep weighs the same; missing values propagate as NaN.
func Mean(ds *era5.Dataset, mask []bool) (era5.Field, error) {
	if len(mask) != len(ds.Values) {
		return era5.Field{}, fmt.Errorf("mask has %d entries for %d timesteps", len(mask), len(ds.Values))
	}
	out := era5.NewField(ds.Lats, ds.Lons)
	n := 0
	for t, ok := range mask {
		if !ok {
			continue
		}
		if len(ds.Values[t]) != len(out.Values) {
			return era5.Field{}, fmt.Errorf("timestep %d: %w", t, ErrGridMismatch)
		}
		floats.Add(out.Values, ds.Values[t])
		n++
	}
	if n == 0 {
		return era5.Field{}, ErrInsufficientData
	}
	floats.Scale(1/float64(n), out.Values)
	return out, nil
}

// Anomaly returns target minus reference, cell by cell. Both fields must be
// on the same grid.
func Anomaly(target, reference era5.Field) (era5.Field, error) {
	if !target.SameGrid(reference) {
		return era5.Field{}, fmt.Errorf("%w: target %dx%d, reference %dx%d", ErrGridMismatch,
			len(target.Lats), len(target.Lons), len(reference.Lats), len(reference.Lons))
	}
	out := era5.NewField(target.Lats, target.Lons)
	floats.SubTo(out.Values, target.Values, reference.Values)
	return out, nil
}

// Nearest returns the index of the axis value closest to v. The first index
// wins on ties.
func Nearest(axis []float64, v float64) (int, error) {
	if len(axis) == 0 {
		return 0, ErrEmptyAxis
	}
	d := make([]float64, len(axis))
	for i, a := range axis {
		d[i] = math.Abs(a - v)
	}
	return floats.MinIdx(d), nil
}

// Locate returns the latitude and longitude indices of the grid cell nearest
// to (lat, lon), searching each axis independently.
func Locate(f era5.Field, lat, lon float64) (int, int, error) {
	i, err := Nearest(f.Lats, lat)
	if err != nil {
		return 0, 0, fmt.Errorf("latitude: %w", err)
	}
	j, err := Nearest(f.Lons, era5.WrapLon(f.Lons, lon))
	if err != nil {
		return 0, 0, fmt.Errorf("longitude: %w", err)
	}
	return i, j, nil
}
