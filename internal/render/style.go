package render

import (
	"errors"
	"fmt"
	"image/color"
	"sort"

	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
)

// Extend controls how values beyond the color range are drawn.
type Extend string

const (
	ExtendNeither Extend = "neither"
	ExtendMin     Extend = "min"
	ExtendMax     Extend = "max"
	ExtendBoth    Extend = "both"
)

// Style describes how an anomaly field is colored.
type Style struct {
	Colormap string    `yaml:"colormap"`
	Min      float64   `yaml:"vmin"`
	Max      float64   `yaml:"vmax"`
	Levels   []float64 `yaml:"levels"`
	Units    string    `yaml:"units"`
	Label    string    `yaml:"label"`
	Contour  bool      `yaml:"contour"`
	Extend   Extend    `yaml:"extend"`
}

// defaultColors is the palette size for continuous styles.
const defaultColors = 255

// colormaps are diverging maps going from cold (low) to warm (high) colors.
var colormaps = map[string]func() palette.DivergingColorMap{
	"RdBu_r":   func() palette.DivergingColorMap { return moreland.SmoothBlueRed() },
	"coolwarm": func() palette.DivergingColorMap { return moreland.SmoothBlueRed() },
	"BrBG_r":   func() palette.DivergingColorMap { return moreland.SmoothBlueTan() },
	"PuOr_r":   func() palette.DivergingColorMap { return moreland.SmoothPurpleOrange() },
	"PRGn_r":   func() palette.DivergingColorMap { return moreland.SmoothGreenPurple() },
}

// Colormaps lists the supported colormap names.
func Colormaps() []string {
	names := make([]string, 0, len(colormaps))
	for name := range colormaps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the style for consistency.
func (s Style) Validate() error {
	if _, ok := colormaps[s.Colormap]; !ok {
		return fmt.Errorf("unknown colormap %q, want one of %q", s.Colormap, Colormaps())
	}
	switch s.Extend {
	case ExtendNeither, ExtendMin, ExtendMax, ExtendBoth:
	default:
		return fmt.Errorf("unknown extend mode %q", s.Extend)
	}
	if len(s.Levels) > 0 {
		if len(s.Levels) < 2 {
			return errors.New("levels need at least two values")
		}
		if !sort.SliceIsSorted(s.Levels, func(i, j int) bool { return s.Levels[i] < s.Levels[j] }) {
			return errors.New("levels must be increasing")
		}
		for i := 1; i < len(s.Levels); i++ {
			if s.Levels[i] == s.Levels[i-1] {
				return errors.New("levels must be strictly increasing")
			}
		}
		return nil
	}
	if s.Min >= s.Max {
		return fmt.Errorf("vmin %v must be below vmax %v", s.Min, s.Max)
	}
	return nil
}

// Range returns the value range covered by the colors.
func (s Style) Range() (float64, float64) {
	if len(s.Levels) > 1 {
		return s.Levels[0], s.Levels[len(s.Levels)-1]
	}
	return s.Min, s.Max
}

// Colors returns the number of distinct colors: one per level interval, or a
// smooth ramp.
func (s Style) Colors() int {
	if len(s.Levels) > 1 {
		return len(s.Levels) - 1
	}
	return defaultColors
}

// ColorMap returns the style's colormap scaled to its range, with the color
// midpoint at zero when zero lies inside the range.
func (s Style) ColorMap() (palette.DivergingColorMap, error) {
	newMap, ok := colormaps[s.Colormap]
	if !ok {
		return nil, fmt.Errorf("unknown colormap %q", s.Colormap)
	}
	lo, hi := s.Range()
	cm := newMap()
	cm.SetMin(lo)
	cm.SetMax(hi)
	if lo < 0 && hi > 0 {
		cm.SetConvergePoint(0)
	}
	return cm, nil
}

// Bin returns the color index of v in a palette of Colors() entries, and
// false when v is outside the range and the style does not extend there.
func (s Style) Bin(v float64) (int, bool) {
	lo, hi := s.Range()
	n := s.Colors()
	switch {
	case v < lo:
		return 0, s.Extend == ExtendMin || s.Extend == ExtendBoth
	case v > hi:
		return n - 1, s.Extend == ExtendMax || s.Extend == ExtendBoth
	}
	if len(s.Levels) > 1 {
		i := sort.SearchFloat64s(s.Levels, v)
		if i > 0 && (i == len(s.Levels) || s.Levels[i] != v) {
			i--
		}
		return min(i, n-1), true
	}
	i := int((v - lo) / (hi - lo) * float64(n))
	return min(i, n-1), true
}

// bounds returns the Colors()+1 edges of the color intervals.
func (s Style) bounds() []float64 {
	if len(s.Levels) > 1 {
		return s.Levels
	}
	lo, hi := s.Range()
	n := s.Colors()
	b := make([]float64, n+1)
	for i := range b {
		b[i] = lo + float64(i)*(hi-lo)/float64(n)
	}
	return b
}

// extendColors returns the heat map underflow and overflow colors, the end
// colors of the palette where the style extends and transparent elsewhere.
func (s Style) extendColors(pal palette.Palette) (under, over color.Color) {
	under, over = color.Transparent, color.Transparent
	cs := pal.Colors()
	if len(cs) == 0 {
		return under, over
	}
	if s.Extend == ExtendMin || s.Extend == ExtendBoth {
		under = cs[0]
	}
	if s.Extend == ExtendMax || s.Extend == ExtendBoth {
		over = cs[len(cs)-1]
	}
	return under, over
}
