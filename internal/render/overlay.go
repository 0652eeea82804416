package render

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Overlays holds the line work drawn over the maps.
type Overlays struct {
	Coastlines []orb.LineString
	Borders    []orb.LineString
}

// LoadOverlays reads coastline and border geometries from GeoJSON files.
// Empty paths are skipped.
func LoadOverlays(coastlines, borders string) (Overlays, error) {
	var ov Overlays
	var err error
	if coastlines != "" {
		if ov.Coastlines, err = LoadLines(coastlines); err != nil {
			return Overlays{}, err
		}
	}
	if borders != "" {
		if ov.Borders, err = LoadLines(borders); err != nil {
			return Overlays{}, err
		}
	}
	return ov, nil
}

// LoadLines reads a GeoJSON feature collection and returns its geometries
// as lines. Polygon rings become closed lines; points are ignored.
func LoadLines(path string) ([]orb.LineString, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	var lines []orb.LineString
	for _, f := range fc.Features {
		lines = appendLines(lines, f.Geometry)
	}
	return lines, nil
}

func appendLines(lines []orb.LineString, g orb.Geometry) []orb.LineString {
	switch g := g.(type) {
	case orb.LineString:
		lines = append(lines, g)
	case orb.MultiLineString:
		lines = append(lines, g...)
	case orb.Ring:
		lines = append(lines, orb.LineString(g))
	case orb.Polygon:
		for _, r := range g {
			lines = append(lines, orb.LineString(r))
		}
	case orb.MultiPolygon:
		for _, p := range g {
			lines = appendLines(lines, p)
		}
	case orb.Collection:
		for _, c := range g {
			lines = appendLines(lines, c)
		}
	}
	return lines
}
