package report

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/rtm0/era5-anomaly/internal/climate"
	"github.com/rtm0/era5-anomaly/internal/era5"
)

// Report summarizes a run. Values missing from the run (NaN) are nil.
type Report struct {
	Recipe   string  `json:"recipe"`
	Mode     string  `json:"mode"`
	Variable string  `json:"variable"`
	Units    string  `json:"units"`
	Location string  `json:"location"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	GridLat  float64 `json:"grid_lat"`
	GridLon  float64 `json:"grid_lon"`

	Month     string `json:"month"`
	Year      int    `json:"year"`
	Reference string `json:"reference_period,omitempty"`

	Latest       *float64 `json:"latest,omitempty"`
	ReferenceAvg *float64 `json:"reference_avg,omitempty"`
	Anomaly      *float64 `json:"anomaly,omitempty"`

	ReferenceSteps int       `json:"reference_steps"`
	TargetSteps    int       `json:"target_steps"`
	Figures        []string  `json:"figures,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// New builds the report of a pipeline result.
func New(recipe, variable, units string, res *climate.Result, figures []string, now time.Time) *Report {
	r := res.Recipe
	s := res.Sample
	rep := &Report{
		Recipe:         recipe,
		Mode:           string(r.Mode),
		Variable:       variable,
		Units:          units,
		Location:       r.Location.Name,
		Lat:            r.Location.Lat,
		Lon:            r.Location.Lon,
		GridLat:        s.Lat,
		GridLon:        s.Lon,
		Month:          r.Target.Month.String(),
		Year:           r.Target.FromYear,
		Latest:         value(s.Latest),
		ReferenceAvg:   value(s.Reference),
		Anomaly:        value(s.Anomaly),
		ReferenceSteps: res.ReferenceCount,
		TargetSteps:    res.TargetCount,
		Figures:        figures,
		CreatedAt:      now.UTC(),
	}
	if r.Mode == climate.ModeClimatology {
		rep.Reference = r.Reference.String()
	}
	return rep
}

func value(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// Print writes the point sample the way it is shown on the console:
//
//	Johannesburg, South Africa - July 2023:
//	  Temperature: 18.43°C
//	  Reference period (1991-2020) average: 16.10°C
//	  Anomaly: 2.33°C
func (r *Report) Print(w io.Writer) error {
	sym := era5.Symbol(r.Units)
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "\n%s - %s %d:\n", r.Location, r.Month, r.Year)
	if r.Mode == string(climate.ModeClimatology) {
		fmt.Fprintf(bw, "  Temperature: %s%s\n", format(r.Latest), sym)
		fmt.Fprintf(bw, "  Reference period (%s) average: %s%s\n", r.Reference, format(r.ReferenceAvg), sym)
	}
	fmt.Fprintf(bw, "  Anomaly: %s%s\n", format(r.Anomaly), sym)
	return bw.Flush()
}

func format(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}
