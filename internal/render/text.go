package render

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/rtm0/era5-anomaly/internal/climate"
	"github.com/rtm0/era5-anomaly/internal/era5"
)

// textRamp runs from the coldest to the warmest symbol.
var textRamp = []rune("@#=-.+*%&")

const markerRune = 'X'

// textBackend draws a character map of the field, for terminals. Overlays
// are not drawn.
type textBackend struct {
	width int
}

func newTextBackend(Overlays) Backend {
	return &textBackend{width: 72}
}

func (b *textBackend) Ext() string {
	return "txt"
}

func (b *textBackend) Render(w io.Writer, f era5.Field, s Style, fig Figure) error {
	if f.Empty() {
		return errors.New("nothing to draw: empty field")
	}
	ext := fig.Extent(f)
	cols := b.width
	rows := int(math.Round(float64(cols) * (ext.North - ext.South) / (ext.East - ext.West) / 2))
	rows = max(rows, 1)
	dx := (ext.East - ext.West) / float64(cols)
	dy := (ext.North - ext.South) / float64(rows)

	lonIdx := make([]int, cols)
	for c := range lonIdx {
		j, err := climate.Nearest(f.Lons, era5.WrapLon(f.Lons, ext.West+(float64(c)+0.5)*dx))
		if err != nil {
			return err
		}
		lonIdx[c] = j
	}
	mr, mc := -1, -1
	if m := fig.Marker; m != nil && m.Lat >= ext.South && m.Lat <= ext.North && m.Lon >= ext.West && m.Lon <= ext.East {
		mr = int((ext.North - fig.Marker.Lat) / dy)
		mc = int((fig.Marker.Lon - ext.West) / dx)
	}

	bw := bufio.NewWriter(w)
	if fig.Title != "" {
		fmt.Fprintln(bw, fig.Title)
	}
	line := make([]rune, cols)
	for r := 0; r < rows; r++ {
		i, err := climate.Nearest(f.Lats, ext.North-(float64(r)+0.5)*dy)
		if err != nil {
			return err
		}
		for c, j := range lonIdx {
			line[c] = symbol(f.At(i, j), s)
			if r == mr && c == mc {
				line[c] = markerRune
			}
		}
		fmt.Fprintln(bw, string(line))
	}
	lo, hi := s.Range()
	fmt.Fprintf(bw, "%s  %s from %g to %g (extend %s)\n", string(textRamp), s.Label, lo, hi, s.Extend)
	if fig.Marker != nil && fig.Marker.Label != "" {
		fmt.Fprintf(bw, "%c  %s (%.4f, %.4f)\n", markerRune, fig.Marker.Label, fig.Marker.Lat, fig.Marker.Lon)
	}
	return bw.Flush()
}

func symbol(v float64, s Style) rune {
	if math.IsNaN(v) {
		return ' '
	}
	bin, ok := s.Bin(v)
	if !ok {
		return ' '
	}
	return textRamp[bin*len(textRamp)/s.Colors()]
}
