package climate

import (
	"fmt"
	"math"

	"github.com/rtm0/era5-anomaly/internal/era5"
)

// Mode selects how the anomaly field is obtained.
type Mode string

const (
	// ModeClimatology computes the anomaly against a reference period mean.
	ModeClimatology Mode = "climatology"
	// ModePrecomputed takes the fetched field as the anomaly itself.
	ModePrecomputed Mode = "precomputed"
)

// Location is a named point of interest.
type Location struct {
	Name string
	Lat  float64
	Lon  float64
}

// Recipe holds the date predicates and the point of interest of a run.
type Recipe struct {
	Mode      Mode
	Reference Period
	Target    Period
	Location  Location
}

// PointSample holds the values at the grid cell nearest a location. Latest
// and Reference are NaN in precomputed mode.
type PointSample struct {
	LatIndex  int
	LonIndex  int
	Lat       float64
	Lon       float64
	Latest    float64
	Reference float64
	Anomaly   float64
}

// Result is the outcome of a run. Reference is empty in precomputed mode.
type Result struct {
	Recipe         Recipe
	Reference      era5.Field
	Latest         era5.Field
	Anomaly        era5.Field
	ReferenceCount int
	TargetCount    int
	Sample         PointSample
}

// Run filters the dataset by the recipe's periods, averages, differences and
// samples the field at the recipe's location.
func Run(ds *era5.Dataset, r Recipe) (*Result, error) {
	res := &Result{Recipe: r}

	targetMask, err := Mask(ds.Times, r.Target)
	if err != nil {
		return nil, Wrap(StageParse, err)
	}
	res.TargetCount = Count(targetMask)
	if res.TargetCount == 0 {
		return nil, Wrap(StageFilter, fmt.Errorf("target %s %s: %w", r.Target.Month, r.Target, ErrInsufficientData))
	}
	res.Latest, err = Mean(ds, targetMask)
	if err != nil {
		return nil, Wrap(StageAggregate, fmt.Errorf("target %s: %w", r.Target, err))
	}

	switch r.Mode {
	case ModePrecomputed:
		res.Anomaly = res.Latest
	case ModeClimatology:
		refMask, err := Mask(ds.Times, r.Reference)
		if err != nil {
			return nil, Wrap(StageParse, err)
		}
		res.ReferenceCount = Count(refMask)
		if res.ReferenceCount == 0 {
			return nil, Wrap(StageFilter, fmt.Errorf("reference period %s %s: %w", r.Reference.Month, r.Reference, ErrInsufficientData))
		}
		res.Reference, err = Mean(ds, refMask)
		if err != nil {
			return nil, Wrap(StageAggregate, fmt.Errorf("reference period %s: %w", r.Reference, err))
		}
		res.Anomaly, err = Anomaly(res.Latest, res.Reference)
		if err != nil {
			return nil, Wrap(StageAggregate, err)
		}
	default:
		return nil, Wrap(StageAggregate, fmt.Errorf("unknown mode %q", r.Mode))
	}

	res.Sample, err = Sample(res, r.Location)
	if err != nil {
		return nil, Wrap(StageAggregate, err)
	}
	return res, nil
}

// Sample extracts the point sample nearest loc from the result's fields.
func Sample(res *Result, loc Location) (PointSample, error) {
	i, j, err := Locate(res.Anomaly, loc.Lat, loc.Lon)
	if err != nil {
		return PointSample{}, err
	}
	s := PointSample{
		LatIndex:  i,
		LonIndex:  j,
		Lat:       res.Anomaly.Lats[i],
		Lon:       res.Anomaly.Lons[j],
		Latest:    math.NaN(),
		Reference: math.NaN(),
		Anomaly:   res.Anomaly.At(i, j),
	}
	if res.Recipe.Mode == ModeClimatology {
		s.Latest = res.Latest.At(i, j)
		s.Reference = res.Reference.At(i, j)
	}
	return s, nil
}

// Records flattens the result into per-cell records stamped with the start
// of the target period.
func (res *Result) Records() []era5.Record {
	if res.Recipe.Mode == ModePrecomputed {
		return era5.Records(res.Recipe.Target.Start(), res.Anomaly, era5.Field{}, era5.Field{})
	}
	return era5.Records(res.Recipe.Target.Start(), res.Anomaly, res.Latest, res.Reference)
}
