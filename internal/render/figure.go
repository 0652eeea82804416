package render

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/plot/vg/draw"

	"github.com/rtm0/era5-anomaly/internal/era5"
)

// BBox is a geographic extent in degrees.
type BBox struct {
	West  float64
	East  float64
	South float64
	North float64
}

// ParseBBox reads a [west, east, south, north] domain.
func ParseBBox(d []float64) (*BBox, error) {
	if len(d) == 0 {
		return nil, nil
	}
	if len(d) != 4 {
		return nil, fmt.Errorf("domain needs 4 values [west, east, south, north], got %d", len(d))
	}
	b := &BBox{West: d[0], East: d[1], South: d[2], North: d[3]}
	if b.West >= b.East || b.South >= b.North {
		return nil, fmt.Errorf("empty domain %v", d)
	}
	return b, nil
}

// Marker annotates a single location on a map.
type Marker struct {
	Lon   float64
	Lat   float64
	Label string
	// Shape is a matplotlib style marker: o, s, ^, x or +.
	Shape string
	Color string
	// Size is the marker area in square points.
	Size float64
}

// Figure describes one map.
type Figure struct {
	Name       string
	Title      string
	Domain     *BBox
	Marker     *Marker
	Coastlines bool
	Borders    bool
	Gridlines  bool
}

// Extent returns the figure domain, or the bounds of the field when the
// figure has none.
func (fig Figure) Extent(f era5.Field) BBox {
	if fig.Domain != nil {
		return *fig.Domain
	}
	return BBox{
		West:  minOf(f.Lons),
		East:  maxOf(f.Lons),
		South: minOf(f.Lats),
		North: maxOf(f.Lats),
	}
}

func minOf(vs []float64) float64 {
	m := math.Inf(1)
	for _, v := range vs {
		m = math.Min(m, v)
	}
	return m
}

func maxOf(vs []float64) float64 {
	m := math.Inf(-1)
	for _, v := range vs {
		m = math.Max(m, v)
	}
	return m
}

var glyphs = map[string]draw.GlyphDrawer{
	"o": draw.CircleGlyph{},
	"s": draw.SquareGlyph{},
	"^": draw.TriangleGlyph{},
	"x": draw.CrossGlyph{},
	"+": draw.PlusGlyph{},
}

func (m Marker) glyph() (draw.GlyphDrawer, error) {
	shape := m.Shape
	if shape == "" {
		shape = "o"
	}
	g, ok := glyphs[shape]
	if !ok {
		return nil, fmt.Errorf("unknown marker shape %q", m.Shape)
	}
	return g, nil
}

var namedColors = map[string]color.RGBA{
	"black": {A: 255},
	"white": {R: 255, G: 255, B: 255, A: 255},
	"red":   {R: 214, G: 39, B: 40, A: 255},
	"blue":  {R: 31, G: 119, B: 180, A: 255},
	"green": {R: 44, G: 160, B: 44, A: 255},
	"gray":  {R: 128, G: 128, B: 128, A: 255},
}

// parseColor accepts a color name or #rrggbb.
func parseColor(s string) (color.Color, error) {
	if s == "" {
		return namedColors["black"], nil
	}
	if c, ok := namedColors[strings.ToLower(s)]; ok {
		return c, nil
	}
	if len(s) == 7 && s[0] == '#' {
		v, err := strconv.ParseUint(s[1:], 16, 32)
		if err == nil {
			return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
		}
	}
	return nil, fmt.Errorf("unknown color %q", s)
}

// Validate checks the marker for renderable values.
func (m Marker) Validate() error {
	if _, err := m.glyph(); err != nil {
		return err
	}
	if _, err := parseColor(m.Color); err != nil {
		return err
	}
	if m.Size < 0 {
		return fmt.Errorf("negative marker size %v", m.Size)
	}
	return nil
}
