// Package imop implements the Porter-Duff composition operations used to
// mix a foreground tile with its backdrop, plus a handful of separable blend
// modes layered on top of the composite result.
package imop

import (
	"github.com/nekoscale/upconv/internal/numeric"
)

const (
	Darken   = "darken"
	Lighten  = "lighten"
	Multiply = "multiply"
	Screen   = "screen"
	Overlay  = "overlay"
)

// Blend holds the currently active blend mode.
type Blend struct {
	OpType string
}

// NewBlend initializes a new Blend.
func NewBlend() *Blend {
	return &Blend{}
}

// Set activates one of the supported blend modes. Unsupported values are
// silently ignored and leave OpType unchanged.
func (o *Blend) Set(opType string) {
	bModes := []string{Darken, Lighten, Multiply, Screen, Overlay}

	if numeric.Contains(bModes, opType) {
		o.OpType = opType
	}
}

// Get returns the currently active blend mode.
func (o *Blend) Get() string {
	return o.OpType
}
