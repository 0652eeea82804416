package era5

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

var (
	timeNames = []string{"time", "valid_time", "forecast_reference_time"}
	latNames  = []string{"latitude", "lat"}
	lonNames  = []string{"longitude", "lon"}
)

// Open reads one data variable and its coordinates from an ERA5 file in
// NetCDF format. The variable is chosen by the policy among the data
// variables of the file, i.e. those spanning at least two dimensions.
func Open(filePath string, policy VariablePolicy) (*Dataset, error) {
	nc, err := netcdf.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer nc.Close()

	ds := &Dataset{Available: dataVariables(nc)}
	ds.Variable, ds.FellBack, err = policy.Resolve(ds.Available)
	if err != nil {
		return nil, err
	}
	vg, err := nc.GetVarGetter(ds.Variable)
	if err != nil {
		return nil, err
	}
	ds.Dims = vg.Dimensions()
	if err := checkDims(ds.Variable, ds.Dims); err != nil {
		return nil, err
	}
	ds.Times, err = timeValues(nc, ds.Dims[0])
	if err != nil {
		return nil, err
	}
	ds.Lats, err = dimValues(nc, ds.Dims[1])
	if err != nil {
		return nil, err
	}
	ds.Lons, err = dimValues(nc, ds.Dims[2])
	if err != nil {
		return nil, err
	}

	attrs := vg.Attributes()
	ds.Units, _ = stringAttr(attrs, "units")
	pk := packingOf(attrs)
	ds.Values = make([][]float64, len(ds.Times))
	for t := range ds.Times {
		v, err := vg.GetSlice(int64(t), int64(t)+1)
		if err != nil {
			return nil, fmt.Errorf("read %s at time index %d: %w", ds.Variable, t, err)
		}
		ds.Values[t], err = unpack(v, pk)
		if err != nil {
			return nil, fmt.Errorf("read %s at time index %d: %w", ds.Variable, t, err)
		}
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func dataVariables(nc api.Group) []string {
	var names []string
	for _, name := range nc.ListVariables() {
		vg, err := nc.GetVarGetter(name)
		if err != nil {
			continue
		}
		if len(vg.Dimensions()) >= 2 {
			names = append(names, name)
		}
	}
	return names
}

func checkDims(name string, dims []string) error {
	if len(dims) != 3 ||
		!slices.Contains(timeNames, dims[0]) ||
		!slices.Contains(latNames, dims[1]) ||
		!slices.Contains(lonNames, dims[2]) {
		return fmt.Errorf("variable %q has dimensions %q, want (time, latitude, longitude)", name, dims)
	}
	return nil
}

func dimValues(nc api.Group, dimName string) ([]float64, error) {
	dim, err := nc.GetVarGetter(dimName)
	if err != nil {
		return nil, err
	}
	v, err := dim.Values()
	if err != nil {
		return nil, err
	}
	switch vals := v.(type) {
	case []float32:
		return toFloat64s(vals), nil
	case []float64:
		return vals, nil
	case []int32:
		return toFloat64s(vals), nil
	case []int64:
		return toFloat64s(vals), nil
	case []int16:
		return toFloat64s(vals), nil
	}
	return nil, fmt.Errorf("coordinate %q has unsupported type %T", dimName, v)
}

// timeValues returns time.Time values when the coordinate carries CF units
// and the raw values otherwise.
func timeValues(nc api.Group, dimName string) ([]any, error) {
	dim, err := nc.GetVarGetter(dimName)
	if err != nil {
		return nil, err
	}
	v, err := dim.Values()
	if err != nil {
		return nil, err
	}
	var raw []any
	switch vals := v.(type) {
	case []int32:
		raw = toAnys(vals)
	case []int64:
		raw = toAnys(vals)
	case []float32:
		raw = toAnys(vals)
	case []float64:
		raw = toAnys(vals)
	case []string:
		raw = toAnys(vals)
	default:
		return nil, fmt.Errorf("time coordinate %q has unsupported type %T", dimName, v)
	}
	units, ok := stringAttr(dim.Attributes(), "units")
	if !ok || !strings.Contains(units, " since ") {
		return raw, nil
	}
	tu, err := ParseTimeUnits(units)
	if err != nil {
		return nil, fmt.Errorf("time coordinate %q: %w", dimName, err)
	}
	for i, r := range raw {
		f, ok := toFloat(r)
		if !ok {
			return nil, fmt.Errorf("time coordinate %q: value %v is not numeric", dimName, r)
		}
		raw[i] = tu.Time(f)
	}
	return raw, nil
}

// TimeUnits is a parsed CF "<unit> since <epoch>" attribute.
type TimeUnits struct {
	Step  time.Duration
	Epoch time.Time
}

var timeSteps = map[string]time.Duration{
	"seconds": time.Second,
	"second":  time.Second,
	"s":       time.Second,
	"minutes": time.Minute,
	"minute":  time.Minute,
	"hours":   time.Hour,
	"hour":    time.Hour,
	"h":       time.Hour,
	"days":    24 * time.Hour,
	"day":     24 * time.Hour,
	"d":       24 * time.Hour,
}

var epochLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimeUnits parses units such as "hours since 1900-01-01 00:00:00.0".
func ParseTimeUnits(units string) (TimeUnits, error) {
	unit, ref, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return TimeUnits{}, fmt.Errorf("time units %q: missing \"since\"", units)
	}
	step, ok := timeSteps[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return TimeUnits{}, fmt.Errorf("time units %q: unknown unit %q", units, unit)
	}
	ref = strings.TrimSpace(ref)
	ref = strings.TrimSuffix(ref, " UTC")
	ref = strings.TrimSuffix(ref, "Z")
	for _, layout := range epochLayouts {
		if epoch, err := time.Parse(layout, ref); err == nil {
			return TimeUnits{Step: step, Epoch: epoch}, nil
		}
	}
	return TimeUnits{}, fmt.Errorf("time units %q: cannot parse epoch %q", units, ref)
}

// Time returns the instant n steps after the epoch.
func (tu TimeUnits) Time(n float64) time.Time {
	whole, frac := math.Modf(n)
	return tu.Epoch.Add(time.Duration(whole) * tu.Step).Add(time.Duration(frac * float64(tu.Step)))
}

// packing holds the CF packing and missing value attributes of a variable.
type packing struct {
	scale   float64
	offset  float64
	missing []float64
}

func packingOf(attrs api.AttributeMap) packing {
	pk := packing{scale: 1}
	if v, ok := floatAttr(attrs, "scale_factor"); ok {
		pk.scale = v
	}
	if v, ok := floatAttr(attrs, "add_offset"); ok {
		pk.offset = v
	}
	for _, name := range []string{"_FillValue", "missing_value"} {
		if v, ok := floatAttr(attrs, name); ok {
			pk.missing = append(pk.missing, v)
		}
	}
	return pk
}

func (pk packing) apply(raw float64) float64 {
	if math.IsNaN(raw) || slices.Contains(pk.missing, raw) {
		return math.NaN()
	}
	return raw*pk.scale + pk.offset
}

// unpack flattens a single timestep slice, [1][lat][lon], into a row-major
// grid of unpacked values.
func unpack(v any, pk packing) ([]float64, error) {
	switch s := v.(type) {
	case [][][]int16:
		return flatten(s, pk)
	case [][][]int32:
		return flatten(s, pk)
	case [][][]int8:
		return flatten(s, pk)
	case [][][]float32:
		return flatten(s, pk)
	case [][][]float64:
		return flatten(s, pk)
	}
	return nil, fmt.Errorf("unsupported data type %T", v)
}

func flatten[T int8 | int16 | int32 | float32 | float64](s [][][]T, pk packing) ([]float64, error) {
	if len(s) != 1 {
		return nil, fmt.Errorf("got %d timesteps, want 1", len(s))
	}
	var out []float64
	for _, row := range s[0] {
		for _, raw := range row {
			out = append(out, pk.apply(float64(raw)))
		}
	}
	return out, nil
}

func toFloat64s[T int16 | int32 | int64 | float32 | float64](vals []T) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = float64(v)
	}
	return out
}

func toAnys[T any](vals []T) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

func stringAttr(attrs api.AttributeMap, key string) (string, bool) {
	if attrs == nil {
		return "", false
	}
	v, ok := attrs.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func floatAttr(attrs api.AttributeMap, key string) (float64, bool) {
	if attrs == nil {
		return 0, false
	}
	v, ok := attrs.Get(key)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// toFloat converts numeric scalars and single element slices.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case []float64:
		if len(n) == 1 {
			return n[0], true
		}
	case []float32:
		if len(n) == 1 {
			return float64(n[0]), true
		}
	case []int16:
		if len(n) == 1 {
			return float64(n[0]), true
		}
	case []int32:
		if len(n) == 1 {
			return float64(n[0]), true
		}
	}
	return 0, false
}
