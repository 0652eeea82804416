package render

import (
	"fmt"
	"io"
	"sort"

	"github.com/rtm0/era5-anomaly/internal/era5"
)

// Backend draws figures of a field in one output format.
type Backend interface {
	Render(w io.Writer, f era5.Field, s Style, fig Figure) error
	// Ext returns the file name extension of the output, without the dot.
	Ext() string
}

type newBackendFunc func(Overlays) Backend

var backends = map[string]newBackendFunc{
	"png":  imageBackendFor("png"),
	"jpg":  imageBackendFor("jpg"),
	"tif":  imageBackendFor("tif"),
	"svg":  imageBackendFor("svg"),
	"pdf":  imageBackendFor("pdf"),
	"eps":  imageBackendFor("eps"),
	"text": newTextBackend,
}

// NewBackend returns the backend registered under name.
func NewBackend(name string, ov Overlays) (Backend, error) {
	newBackend := backends[name]
	if newBackend == nil {
		return nil, fmt.Errorf("rendering to %q is not supported, want one of %q", name, Backends())
	}
	return newBackend(ov), nil
}

// Backends lists the registered backend names.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
