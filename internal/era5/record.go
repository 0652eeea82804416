package era5

import (
	"math"
	"time"
)

// Record is the anomaly reading at a given geo location for the target
// period. Latest and Reference are NaN when only the anomaly is known.
type Record struct {
	// Dimensions
	Timestamp int64
	Latitude  float32
	Longitude float32

	// Metrics
	Latest    float64
	Reference float64
	Anomaly   float64
}

// Records flattens the fields into one record per grid cell. latest and
// reference may be empty fields.
func Records(ts time.Time, anomaly, latest, reference Field) []Record {
	recs := make([]Record, 0, len(anomaly.Values))
	for i, la := range anomaly.Lats {
		for j, lo := range anomaly.Lons {
			recs = append(recs, Record{
				Timestamp: ts.UnixMilli(),
				Latitude:  float32(la),
				Longitude: float32(lo),
				Latest:    valueOrNaN(latest, i, j),
				Reference: valueOrNaN(reference, i, j),
				Anomaly:   anomaly.At(i, j),
			})
		}
	}
	return recs
}

func valueOrNaN(f Field, i, j int) float64 {
	if f.Empty() {
		return math.NaN()
	}
	return f.At(i, j)
}
