//go:build !(gles_native && cgo)

package native

import (
	"github.com/pkg/errors"

	"github.com/nekoscale/upconv/shaderchain"
)

// ErrNotLinked is returned by every method when this build was compiled
// without a real GLES3/EGL context linked in.
var ErrNotLinked = errors.New("shaderchain/native: not linked, build with -tags gles_native,cgo")

// Renderer is a zero-value stand-in used when no real GPU context is
// linked into the binary.
type Renderer struct{}

// New returns a Renderer whose methods all report ErrNotLinked.
func New() *Renderer { return &Renderer{} }

func (r *Renderer) Compile(p shaderchain.Pass) (shaderchain.CompiledPass, error) {
	return shaderchain.CompiledPass{}, ErrNotLinked
}
func (r *Renderer) UploadTexture(name string, w, h int, rgba []byte) error { return ErrNotLinked }
func (r *Renderer) EnsureTarget(name string, w, h int) error               { return ErrNotLinked }
func (r *Renderer) RunPass(p shaderchain.CompiledPass) error               { return ErrNotLinked }
func (r *Renderer) ReadPixels(name string, w, h int) ([]byte, error)       { return nil, ErrNotLinked }
func (r *Renderer) Close() error                                          { return nil }
