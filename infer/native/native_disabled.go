//go:build !(ncnn_native && cgo)

package native

import "github.com/nekoscale/upconv/infer"

// Backend is a disabled stand-in used when this module is built without
// the ncnn_native build tag (or without cgo). Enabled reports false, Close
// returns nil, and every other method returns infer.ErrNotLinked.
type Backend struct{}

// New returns a disabled Backend. opt is accepted for signature parity with
// the enabled build but otherwise ignored.
func New(opt infer.Option) (*Backend, error) {
	return &Backend{}, nil
}

func (b *Backend) Enabled() bool { return false }

func (b *Backend) LoadParam(path string) error { return infer.ErrNotLinked }
func (b *Backend) LoadModel(path string) error { return infer.ErrNotLinked }

func (b *Backend) CreateExtractor() (infer.Extractor, error) {
	return nil, infer.ErrNotLinked
}

func (b *Backend) Bicubic2x(src infer.Mat) (infer.Mat, error) {
	return infer.Mat{}, infer.ErrNotLinked
}

func (b *Backend) ResizeBilinear(src infer.Mat, w, h int) (infer.Mat, error) {
	return infer.Mat{}, infer.ErrNotLinked
}

func (b *Backend) EdgeReplicatePad(src infer.Mat, top, bottom, left, right int) (infer.Mat, error) {
	return infer.Mat{}, infer.ErrNotLinked
}

func (b *Backend) Close() error { return nil }
