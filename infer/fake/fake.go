// Package fake provides an always-available in-memory infer.Backend used by
// tests that need to exercise tiling, padding and write-back arithmetic
// without linking a real inference library. It approximates upscaling with
// nearest-neighbor replication, which is enough to check placement and
// scale math but not visual quality.
package fake

import (
	"github.com/pkg/errors"

	"github.com/nekoscale/upconv/infer"
)

// Backend is a deterministic, allocation-only stand-in for a real
// convolutional network.
type Backend struct {
	paramLoaded bool
	modelLoaded bool
	closed      bool
}

// New returns a ready-to-use fake backend.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) Enabled() bool { return true }

func (b *Backend) LoadParam(path string) error {
	if path == "" {
		return errors.New("fake: empty param path")
	}
	b.paramLoaded = true
	return nil
}

func (b *Backend) LoadModel(path string) error {
	if path == "" {
		return errors.New("fake: empty model path")
	}
	b.modelLoaded = true
	return nil
}

// CreateExtractor returns a per-call extractor bound to this backend's
// scale factor (2x, chosen to match the most common request in tests).
func (b *Backend) CreateExtractor() (infer.Extractor, error) {
	if !b.paramLoaded || !b.modelLoaded {
		return nil, errors.New("fake: backend not loaded")
	}
	return &extractor{scale: 2}, nil
}

func (b *Backend) Bicubic2x(src infer.Mat) (infer.Mat, error) {
	return nearestScale(src, 2, 2), nil
}

func (b *Backend) ResizeBilinear(src infer.Mat, w, h int) (infer.Mat, error) {
	if src.W == 0 || src.H == 0 {
		return infer.Mat{}, errors.New("fake: resize of empty mat")
	}
	return nearestResize(src, w, h), nil
}

func (b *Backend) EdgeReplicatePad(src infer.Mat, top, bottom, left, right int) (infer.Mat, error) {
	outW := src.W + left + right
	outH := src.H + top + bottom
	data := make([]float32, outW*outH*src.C)
	for c := 0; c < src.C; c++ {
		srcPlane := src.Data[c*src.W*src.H : (c+1)*src.W*src.H]
		dstPlane := data[c*outW*outH : (c+1)*outW*outH]
		for y := 0; y < outH; y++ {
			sy := clamp(y-top, 0, src.H-1)
			for x := 0; x < outW; x++ {
				sx := clamp(x-left, 0, src.W-1)
				dstPlane[y*outW+x] = srcPlane[sy*src.W+sx]
			}
		}
	}
	return infer.Mat{W: outW, H: outH, C: src.C, Data: data}, nil
}

func (b *Backend) Close() error {
	b.closed = true
	return nil
}

type extractor struct {
	scale int
	input infer.Mat
	bound bool
}

func (e *extractor) Input(slot int, m infer.Mat) error {
	e.input = m
	e.bound = true
	return nil
}

func (e *extractor) Extract(slot int) (infer.Mat, error) {
	if !e.bound {
		return infer.Mat{}, errors.New("fake: extract called before input")
	}
	return nearestScale(e.input, e.scale, e.scale), nil
}

func (e *extractor) Close() error { return nil }

func nearestScale(src infer.Mat, sx, sy int) infer.Mat {
	return nearestResize(src, src.W*sx, src.H*sy)
}

func nearestResize(src infer.Mat, w, h int) infer.Mat {
	data := make([]float32, w*h*src.C)
	for c := 0; c < src.C; c++ {
		srcPlane := src.Data[c*src.W*src.H : (c+1)*src.W*src.H]
		dstPlane := data[c*w*h : (c+1)*w*h]
		for y := 0; y < h; y++ {
			sy := y * src.H / h
			for x := 0; x < w; x++ {
				sx := x * src.W / w
				dstPlane[y*w+x] = srcPlane[sy*src.W+sx]
			}
		}
	}
	return infer.Mat{W: w, H: h, C: src.C, Data: data}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
