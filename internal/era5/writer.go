package era5

import (
	"errors"
	"fmt"
	"sort"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
)

// NamedField is a field written under the given variable name.
type NamedField struct {
	Name  string
	Units string
	Field Field
}

// WriteFields writes fields sharing one grid to a NetCDF (CDF) file, along
// with latitude and longitude coordinate variables and global attributes.
func WriteFields(filePath string, fields []NamedField, global map[string]string) error {
	if len(fields) == 0 {
		return errors.New("no fields to write")
	}
	grid := fields[0].Field
	for _, f := range fields[1:] {
		if !f.Field.SameGrid(grid) {
			return fmt.Errorf("field %q is not on the grid of %q", f.Name, fields[0].Name)
		}
	}

	cw, err := cdf.OpenWriter(filePath)
	if err != nil {
		return err
	}
	if err := writeFields(cw, grid, fields, global); err != nil {
		cw.Close()
		return err
	}
	return cw.Close()
}

// varWriter is the subset of the CDF writer used here.
type varWriter interface {
	AddGlobalAttrs(attrs api.AttributeMap) error
	AddVar(name string, vr api.Variable) error
}

func writeFields(cw varWriter, grid Field, fields []NamedField, global map[string]string) error {
	if len(global) > 0 {
		attrs, err := stringAttrs(global)
		if err != nil {
			return err
		}
		if err := cw.AddGlobalAttrs(attrs); err != nil {
			return err
		}
	}
	coords := []struct {
		name  string
		units string
		vals  []float64
	}{
		{"latitude", "degrees_north", grid.Lats},
		{"longitude", "degrees_east", grid.Lons},
	}
	for _, c := range coords {
		attrs, err := stringAttrs(map[string]string{"units": c.units})
		if err != nil {
			return err
		}
		err = cw.AddVar(c.name, api.Variable{
			Values:     c.vals,
			Dimensions: []string{c.name},
			Attributes: attrs,
		})
		if err != nil {
			return fmt.Errorf("write %s: %w", c.name, err)
		}
	}
	for _, f := range fields {
		attrs, err := stringAttrs(map[string]string{"units": f.Units})
		if err != nil {
			return err
		}
		err = cw.AddVar(f.Name, api.Variable{
			Values:     rows(f.Field),
			Dimensions: []string{"latitude", "longitude"},
			Attributes: attrs,
		})
		if err != nil {
			return fmt.Errorf("write %s: %w", f.Name, err)
		}
	}
	return nil
}

func rows(f Field) [][]float32 {
	out := make([][]float32, len(f.Lats))
	for i := range out {
		out[i] = make([]float32, len(f.Lons))
		for j := range out[i] {
			out[i][j] = float32(f.At(i, j))
		}
	}
	return out
}

func stringAttrs(m map[string]string) (*util.OrderedMap, error) {
	keys := make([]string, 0, len(m))
	vals := make(map[string]any, len(m))
	for k, v := range m {
		keys = append(keys, k)
		vals[k] = v
	}
	sort.Strings(keys)
	return util.NewOrderedMap(keys, vals)
}
