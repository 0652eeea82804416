package render

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/paulmach/orb"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/rtm0/era5-anomaly/internal/era5"
)

const (
	figureWidth    = 10 * vg.Inch
	figureHeight   = 6 * vg.Inch
	colorbarHeight = 0.9 * vg.Inch
)

var (
	coastlineStyle = draw.LineStyle{Color: color.Black, Width: vg.Points(0.6)}
	borderStyle    = draw.LineStyle{Color: color.Gray{Y: 90}, Width: vg.Points(0.4), Dashes: []vg.Length{vg.Points(2), vg.Points(1)}}
)

// imageBackend draws figures with gonum/plot in any of its canvas formats.
type imageBackend struct {
	format   string
	width    vg.Length
	height   vg.Length
	overlays Overlays
}

func imageBackendFor(format string) newBackendFunc {
	return func(ov Overlays) Backend {
		return &imageBackend{format: format, width: figureWidth, height: figureHeight, overlays: ov}
	}
}

func (b *imageBackend) Ext() string {
	return b.format
}

// Render draws the map with a horizontal color bar below it.
func (b *imageBackend) Render(w io.Writer, f era5.Field, s Style, fig Figure) error {
	if f.Empty() {
		return errors.New("nothing to draw: empty field")
	}
	cm, err := s.ColorMap()
	if err != nil {
		return err
	}
	pal := cm.Palette(s.Colors())
	grid, ext, err := newFieldGrid(f).clip(fig.Domain)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = fig.Title
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"

	hm := plotter.NewHeatMap(binnedGrid{fieldGrid: grid, style: s}, pal)
	hm.Min, hm.Max = 0, math.Max(float64(s.Colors()-1), 1)
	hm.Underflow, hm.Overflow = s.extendColors(pal)
	hm.NaN = color.Transparent
	p.Add(hm)

	if s.Contour {
		p.Add(plotter.NewContour(grid, s.contourLevels(), pal))
	}
	if fig.Coastlines {
		if err := addLines(p, b.overlays.Coastlines, f.Lons, coastlineStyle); err != nil {
			return err
		}
	}
	if fig.Borders {
		if err := addLines(p, b.overlays.Borders, f.Lons, borderStyle); err != nil {
			return err
		}
	}
	if fig.Gridlines {
		p.Add(plotter.NewGrid())
	}
	if fig.Marker != nil {
		if err := addMarker(p, *fig.Marker, f.Lons); err != nil {
			return err
		}
	}
	p.X.Min, p.X.Max = ext.West, ext.East
	p.Y.Min, p.Y.Max = ext.South, ext.North

	bar, err := colorBar(s, pal)
	if err != nil {
		return err
	}

	c, err := draw.NewFormattedCanvas(b.width, b.height, b.format)
	if err != nil {
		return err
	}
	dc := draw.New(c)
	p.Draw(draw.Crop(dc, 0, 0, colorbarHeight, 0))
	bar.Draw(draw.Crop(dc, 0, 0, 0, colorbarHeight-b.height))
	_, err = c.WriteTo(w)
	return err
}

func (s Style) contourLevels() []float64 {
	if len(s.Levels) > 0 {
		return s.Levels
	}
	lo, hi := s.Range()
	const n = 10
	levels := make([]float64, n+1)
	for i := range levels {
		levels[i] = lo + float64(i)*(hi-lo)/n
	}
	return levels
}

// fieldGrid presents a field as a plotter.GridXYZ with both axes ascending,
// whatever the order of the source axes.
type fieldGrid struct {
	f    era5.Field
	rows []int
	cols []int
}

func newFieldGrid(f era5.Field) fieldGrid {
	return fieldGrid{f: f, rows: ascending(f.Lats), cols: ascending(f.Lons)}
}

func ascending(axis []float64) []int {
	idx := make([]int, len(axis))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return axis[idx[a]] < axis[idx[b]] })
	return idx
}

func (g fieldGrid) Dims() (c, r int) { return len(g.cols), len(g.rows) }
func (g fieldGrid) Z(c, r int) float64 { return g.f.At(g.rows[r], g.cols[c]) }
func (g fieldGrid) X(c int) float64 { return g.f.Lons[g.cols[c]] }
func (g fieldGrid) Y(r int) float64 { return g.f.Lats[g.rows[r]] }

func (g fieldGrid) xs() []float64 {
	xs := make([]float64, len(g.cols))
	for i, c := range g.cols {
		xs[i] = g.f.Lons[c]
	}
	return xs
}

func (g fieldGrid) ys() []float64 {
	ys := make([]float64, len(g.rows))
	for i, r := range g.rows {
		ys[i] = g.f.Lats[r]
	}
	return ys
}

// cornerSlop widens the extent so that the outer cell corners stay inside
// the plot area after the data to canvas transform.
const cornerSlop = 1e-6

// clip keeps the cells overlapping domain, all of them for a nil domain, and
// returns the extent covering the kept cells edge to edge. The heat map does
// not draw cells reaching outside the plot area.
func (g fieldGrid) clip(domain *BBox) (fieldGrid, BBox, error) {
	if domain != nil {
		from, to := overlapping(g.xs(), domain.West, domain.East)
		g.cols = g.cols[from:to]
		from, to = overlapping(g.ys(), domain.South, domain.North)
		g.rows = g.rows[from:to]
		if len(g.cols) == 0 || len(g.rows) == 0 {
			return fieldGrid{}, BBox{}, fmt.Errorf("domain %+v does not overlap the field", *domain)
		}
	}
	xs, ys := g.xs(), g.ys()
	west, _ := cellEdges(xs, 0)
	_, east := cellEdges(xs, len(xs)-1)
	south, _ := cellEdges(ys, 0)
	_, north := cellEdges(ys, len(ys)-1)
	return g, BBox{
		West:  west - cornerSlop,
		East:  east + cornerSlop,
		South: south - cornerSlop,
		North: north + cornerSlop,
	}, nil
}

// cellEdges returns the edges of cell i on an ascending axis of cell
// centres. Edges lie halfway between centres; the outer cells mirror their
// inner half and a lone cell is one unit wide.
func cellEdges(axis []float64, i int) (lo, hi float64) {
	n := len(axis)
	switch {
	case n == 1:
		return axis[0] - 0.5, axis[0] + 0.5
	case i == 0:
		half := (axis[1] - axis[0]) / 2
		return axis[0] - half, axis[0] + half
	case i == n-1:
		half := (axis[n-1] - axis[n-2]) / 2
		return axis[i] - half, axis[i] + half
	}
	return axis[i] - (axis[i]-axis[i-1])/2, axis[i] + (axis[i+1]-axis[i])/2
}

// overlapping returns the half-open index range of the cells on an ascending
// axis that overlap [lo, hi].
func overlapping(axis []float64, lo, hi float64) (from, to int) {
	from = -1
	for i := range axis {
		a, b := cellEdges(axis, i)
		if b > lo && a < hi {
			if from < 0 {
				from = i
			}
			to = i + 1
		}
	}
	if from < 0 {
		return 0, 0
	}
	return from, to
}

// binnedGrid presents a field as color indices of the style, so that the
// heat map paints each level interval in a single color. Values below and
// above the range map to -Inf and +Inf, the heat map underflow and overflow.
type binnedGrid struct {
	fieldGrid
	style Style
}

func (g binnedGrid) Z(c, r int) float64 {
	v := g.fieldGrid.Z(c, r)
	lo, hi := g.style.Range()
	switch {
	case math.IsNaN(v):
		return v
	case v < lo:
		return math.Inf(-1)
	case v > hi:
		return math.Inf(1)
	}
	i, _ := g.style.Bin(v)
	return float64(i)
}

// colorBar draws one box per color of the style between its bounds, with a
// triangle at each extended end.
func colorBar(s Style, pal palette.Palette) (*plot.Plot, error) {
	cs := pal.Colors()
	bounds := s.bounds()
	bar := plot.New()
	for i, c := range cs {
		box, err := plotter.NewPolygon(plotter.XYs{
			{X: bounds[i], Y: 0}, {X: bounds[i+1], Y: 0},
			{X: bounds[i+1], Y: 1}, {X: bounds[i], Y: 1},
		})
		if err != nil {
			return nil, err
		}
		box.Color = c
		box.LineStyle.Width = 0
		bar.Add(box)
	}

	lo, hi := s.Range()
	xmin, xmax := lo, hi
	tip := (hi - lo) / 20
	under, over := s.extendColors(pal)
	if s.Extend == ExtendMin || s.Extend == ExtendBoth {
		xmin = lo - tip
		if err := addTriangle(bar, plotter.XYs{{X: lo, Y: 0}, {X: lo, Y: 1}, {X: xmin, Y: 0.5}}, under); err != nil {
			return nil, err
		}
	}
	if s.Extend == ExtendMax || s.Extend == ExtendBoth {
		xmax = hi + tip
		if err := addTriangle(bar, plotter.XYs{{X: hi, Y: 0}, {X: hi, Y: 1}, {X: xmax, Y: 0.5}}, over); err != nil {
			return nil, err
		}
	}

	bar.X.Min, bar.X.Max = xmin, xmax
	bar.Y.Min, bar.Y.Max = 0, 1
	if len(s.Levels) > 1 {
		ticks := make(plot.ConstantTicks, len(s.Levels))
		for i, l := range s.Levels {
			ticks[i] = plot.Tick{Value: l, Label: strconv.FormatFloat(l, 'g', -1, 64)}
		}
		bar.X.Tick.Marker = ticks
	}
	bar.HideY()
	bar.X.Label.Text = s.Label
	bar.X.Padding = 0
	return bar, nil
}

func addTriangle(p *plot.Plot, pts plotter.XYs, c color.Color) error {
	tri, err := plotter.NewPolygon(pts)
	if err != nil {
		return err
	}
	tri.Color = c
	tri.LineStyle.Width = 0
	p.Add(tri)
	return nil
}

// addLines draws the lines in the longitude convention of the grid, breaking
// them where wrapping makes them jump across the map.
func addLines(p *plot.Plot, lines []orb.LineString, lons []float64, style draw.LineStyle) error {
	for _, l := range lines {
		for _, seg := range wrapSegments(l, lons) {
			if len(seg) < 2 {
				continue
			}
			ln, err := plotter.NewLine(seg)
			if err != nil {
				return err
			}
			ln.LineStyle = style
			p.Add(ln)
		}
	}
	return nil
}

func wrapSegments(l orb.LineString, lons []float64) []plotter.XYs {
	var segs []plotter.XYs
	var cur plotter.XYs
	for _, pt := range l {
		xy := plotter.XY{X: era5.WrapLon(lons, pt.Lon()), Y: pt.Lat()}
		if n := len(cur); n > 0 && math.Abs(xy.X-cur[n-1].X) > 180 {
			segs = append(segs, cur)
			cur = nil
		}
		cur = append(cur, xy)
	}
	if len(cur) > 0 {
		segs = append(segs, cur)
	}
	return segs
}

func addMarker(p *plot.Plot, m Marker, lons []float64) error {
	g, err := m.glyph()
	if err != nil {
		return err
	}
	col, err := parseColor(m.Color)
	if err != nil {
		return err
	}
	sc, err := plotter.NewScatter(plotter.XYs{{X: era5.WrapLon(lons, m.Lon), Y: m.Lat}})
	if err != nil {
		return err
	}
	sc.GlyphStyle = draw.GlyphStyle{Color: col, Radius: markerRadius(m.Size), Shape: g}
	p.Add(sc)
	if m.Label != "" {
		p.Legend.Add(m.Label, sc)
	}
	return nil
}

// markerRadius converts a marker area in square points to a glyph radius.
func markerRadius(size float64) vg.Length {
	if size <= 0 {
		size = 36
	}
	return vg.Points(math.Sqrt(size) / 2)
}
