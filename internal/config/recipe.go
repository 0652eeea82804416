package config

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"gopkg.in/yaml.v3"

	"github.com/rtm0/era5-anomaly/internal/climate"
	"github.com/rtm0/era5-anomaly/internal/era5"
	"github.com/rtm0/era5-anomaly/internal/render"
)

//go:embed recipes/*.yaml
var builtins embed.FS

// Units a recipe can normalize to.
const (
	UnitsCelsius = "celsius"
	UnitsKelvin  = "kelvin"
)

// Recipe is a recipe file: what to fetch, how to reduce it and how to draw
// it.
type Recipe struct {
	Name    string         `yaml:"name"`
	Mode    climate.Mode   `yaml:"mode"`
	Dataset string         `yaml:"dataset"`
	Request map[string]any `yaml:"request"`

	// Variables lists the preferred data variable names, in order.
	Variables []string `yaml:"variables"`
	Fallback  string   `yaml:"fallback"`
	Units     string   `yaml:"units"`

	DataPeriod      []int `yaml:"data_period"`
	ReferencePeriod []int `yaml:"reference_period"`
	Month           Month `yaml:"month"`
	TargetYear      int   `yaml:"target_year"`

	Location Location       `yaml:"location"`
	Style    render.Style   `yaml:"style"`
	Figures  []FigureConfig `yaml:"figures"`
}

// Location is the point of interest of a recipe.
type Location struct {
	Name string  `yaml:"name"`
	Lat  float64 `yaml:"lat"`
	Lon  float64 `yaml:"lon"`
}

// FigureConfig describes one output map. Titles may use the {month}, {year},
// {ref_from}, {ref_to} and {location} placeholders.
type FigureConfig struct {
	Name       string        `yaml:"name"`
	Title      string        `yaml:"title"`
	Domain     []float64     `yaml:"domain"`
	Marker     *MarkerConfig `yaml:"marker"`
	Coastlines bool          `yaml:"coastlines"`
	Borders    bool          `yaml:"borders"`
	Gridlines  bool          `yaml:"gridlines"`
}

// MarkerConfig annotates the recipe location on a figure.
type MarkerConfig struct {
	Label string  `yaml:"label"`
	Shape string  `yaml:"shape"`
	Color string  `yaml:"color"`
	Size  float64 `yaml:"size"`
}

// Month is a calendar month written either as a number or an English name.
type Month time.Month

func (m *Month) UnmarshalYAML(value *yaml.Node) error {
	if n, err := strconv.Atoi(value.Value); err == nil {
		*m = Month(n)
		return nil
	}
	for i := time.January; i <= time.December; i++ {
		if strings.EqualFold(value.Value, i.String()) || strings.EqualFold(value.Value, i.String()[:3]) {
			*m = Month(i)
			return nil
		}
	}
	return fmt.Errorf("line %d: unknown month %q", value.Line, value.Value)
}

// Builtins lists the names of the embedded recipes.
func Builtins() []string {
	matches, _ := fs.Glob(builtins, "recipes/*.yaml")
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(m, "recipes/"), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Load reads the built-in recipe called nameOrPath, or else the recipe file at
// that path. Unset fields get their defaults, using clock for the target
// year.
func Load(nameOrPath string, clock clockwork.Clock) (*Recipe, error) {
	data, err := builtins.ReadFile("recipes/" + nameOrPath + ".yaml")
	if err != nil {
		if data, err = os.ReadFile(nameOrPath); err != nil {
			return nil, fmt.Errorf("recipe %q is neither built in (%s) nor a readable file: %w", nameOrPath, strings.Join(Builtins(), ", "), err)
		}
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("recipe %s: %w", nameOrPath, err)
	}
	r.applyDefaults(clock)
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("recipe %s: %w", nameOrPath, err)
	}
	return r, nil
}

// Parse decodes a recipe, rejecting unknown fields.
func Parse(data []byte) (*Recipe, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var r Recipe
	if err := dec.Decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Recipe) applyDefaults(clock clockwork.Clock) {
	if r.Mode == "" {
		r.Mode = climate.ModeClimatology
	}
	if r.Fallback == "" {
		r.Fallback = era5.FallbackFirst.String()
	}
	if r.Units == "" {
		r.Units = UnitsCelsius
	}
	if r.TargetYear == 0 {
		// Last complete year.
		r.TargetYear = clock.Now().UTC().Year() - 1
	}
	if len(r.DataPeriod) == 0 && r.Mode == climate.ModeClimatology && len(r.ReferencePeriod) == 2 {
		r.DataPeriod = []int{min(r.ReferencePeriod[0], r.TargetYear), max(r.ReferencePeriod[1], r.TargetYear)}
	}
	if r.Style.Colormap == "" {
		r.Style.Colormap = "RdBu_r"
	}
	if r.Style.Extend == "" {
		r.Style.Extend = render.ExtendBoth
	}
	if len(r.Figures) == 0 {
		r.Figures = []FigureConfig{{Name: "global", Coastlines: true, Gridlines: true}}
	}
	for _, f := range r.Figures {
		if m := f.Marker; m != nil {
			if m.Label == "" {
				m.Label = r.Location.Name
			}
			if m.Size == 0 {
				m.Size = 80
			}
		}
	}
}

// Validate checks the recipe for consistency.
func (r *Recipe) Validate() error {
	if r.Dataset == "" {
		return errors.New("dataset is required")
	}
	if _, err := era5.ParseFallback(r.Fallback); err != nil {
		return err
	}
	if r.Units != UnitsCelsius && r.Units != UnitsKelvin {
		return fmt.Errorf("units must be %q or %q, got %q", UnitsCelsius, UnitsKelvin, r.Units)
	}
	if r.Month < 1 || r.Month > 12 {
		return fmt.Errorf("month %d out of range", r.Month)
	}
	switch r.Mode {
	case climate.ModeClimatology:
		if err := checkPeriod("reference_period", r.ReferencePeriod); err != nil {
			return err
		}
		if err := checkPeriod("data_period", r.DataPeriod); err != nil {
			return err
		}
		if r.ReferencePeriod[0] < r.DataPeriod[0] || r.ReferencePeriod[1] > r.DataPeriod[1] {
			return fmt.Errorf("reference_period %v outside data_period %v", r.ReferencePeriod, r.DataPeriod)
		}
		if r.TargetYear < r.DataPeriod[0] || r.TargetYear > r.DataPeriod[1] {
			return fmt.Errorf("target_year %d outside data_period %v", r.TargetYear, r.DataPeriod)
		}
	case climate.ModePrecomputed:
		if len(r.ReferencePeriod) != 0 && len(r.ReferencePeriod) != 2 {
			return fmt.Errorf("reference_period needs [from, to], got %v", r.ReferencePeriod)
		}
	default:
		return fmt.Errorf("unknown mode %q", r.Mode)
	}
	if r.Location.Lat < -90 || r.Location.Lat > 90 {
		return fmt.Errorf("location latitude %v out of range", r.Location.Lat)
	}
	if err := r.Style.Validate(); err != nil {
		return fmt.Errorf("style: %w", err)
	}
	_, err := r.RenderFigures()
	return err
}

func checkPeriod(name string, p []int) error {
	if len(p) != 2 {
		return fmt.Errorf("%s needs [from, to], got %v", name, p)
	}
	if p[0] > p[1] {
		return fmt.Errorf("%s %v is reversed", name, p)
	}
	return nil
}

// Years returns the years to request.
func (r *Recipe) Years() []int {
	if r.Mode == climate.ModePrecomputed || len(r.DataPeriod) != 2 {
		return []int{r.TargetYear}
	}
	years := make([]int, 0, r.DataPeriod[1]-r.DataPeriod[0]+1)
	for y := r.DataPeriod[0]; y <= r.DataPeriod[1]; y++ {
		years = append(years, y)
	}
	return years
}

// Query returns the dataset and the CDS request of the recipe. Year and month
// are filled in unless the request sets them.
func (r *Recipe) Query() (string, map[string]any) {
	req := make(map[string]any, len(r.Request)+2)
	for k, v := range r.Request {
		req[k] = v
	}
	if _, ok := req["year"]; !ok {
		years := make([]string, 0)
		for _, y := range r.Years() {
			years = append(years, strconv.Itoa(y))
		}
		req["year"] = years
	}
	if _, ok := req["month"]; !ok {
		req["month"] = fmt.Sprintf("%02d", int(r.Month))
	}
	return r.Dataset, req
}

// VariablePolicy returns the data variable lookup of the recipe.
func (r *Recipe) VariablePolicy() era5.VariablePolicy {
	fb, _ := era5.ParseFallback(r.Fallback)
	return era5.VariablePolicy{Preferred: r.Variables, Fallback: fb}
}

// Celsius reports whether the data is to be converted to degrees Celsius.
func (r *Recipe) Celsius() bool {
	return r.Units == UnitsCelsius
}

// ClimateRecipe returns the periods and location of the recipe.
func (r *Recipe) ClimateRecipe() climate.Recipe {
	cr := climate.Recipe{
		Mode:   r.Mode,
		Target: climate.SingleYear(r.TargetYear, time.Month(r.Month)),
		Location: climate.Location{
			Name: r.Location.Name,
			Lat:  r.Location.Lat,
			Lon:  r.Location.Lon,
		},
	}
	if len(r.ReferencePeriod) == 2 {
		cr.Reference = climate.Period{FromYear: r.ReferencePeriod[0], ToYear: r.ReferencePeriod[1], Month: time.Month(r.Month)}
	}
	return cr
}

// RenderFigures returns the figures of the recipe with their titles expanded.
func (r *Recipe) RenderFigures() ([]render.Figure, error) {
	refFrom, refTo := "", ""
	if len(r.ReferencePeriod) == 2 {
		refFrom, refTo = strconv.Itoa(r.ReferencePeriod[0]), strconv.Itoa(r.ReferencePeriod[1])
	}
	title := strings.NewReplacer(
		"{month}", time.Month(r.Month).String(),
		"{year}", strconv.Itoa(r.TargetYear),
		"{ref_from}", refFrom,
		"{ref_to}", refTo,
		"{location}", r.Location.Name,
	)

	seen := make(map[string]bool)
	figs := make([]render.Figure, 0, len(r.Figures))
	for _, fc := range r.Figures {
		if fc.Name == "" {
			return nil, errors.New("figure without a name")
		}
		if seen[fc.Name] {
			return nil, fmt.Errorf("duplicate figure %q", fc.Name)
		}
		seen[fc.Name] = true

		domain, err := render.ParseBBox(fc.Domain)
		if err != nil {
			return nil, fmt.Errorf("figure %s: %w", fc.Name, err)
		}
		fig := render.Figure{
			Name:       fc.Name,
			Title:      title.Replace(fc.Title),
			Domain:     domain,
			Coastlines: fc.Coastlines,
			Borders:    fc.Borders,
			Gridlines:  fc.Gridlines,
		}
		if m := fc.Marker; m != nil {
			fig.Marker = &render.Marker{
				Lon:   r.Location.Lon,
				Lat:   r.Location.Lat,
				Label: m.Label,
				Shape: m.Shape,
				Color: m.Color,
				Size:  m.Size,
			}
			if err := fig.Marker.Validate(); err != nil {
				return nil, fmt.Errorf("figure %s: %w", fc.Name, err)
			}
		}
		figs = append(figs, fig)
	}
	return figs, nil
}
