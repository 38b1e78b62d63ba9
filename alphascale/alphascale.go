// Package alphascale upscales an image's alpha plane independently of the
// color network, always reading from the original input so alpha fidelity
// never depends on which model path the color channels took.
package alphascale

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/nekoscale/upconv/imagebuf"
	"github.com/nekoscale/upconv/infer"
)

// Scale produces a scaleFactor-times-larger single-channel plane (values in
// [0,255]) from src's alpha channel. With an enabled backend, scaleFactor 2
// uses the backend's bicubic interpolation layer, matching the reference
// engine's dedicated fast path; other factors, or a failed bicubic call, use
// the backend's bilinear resize. A nil or disabled backend, or a failed
// backend resize, takes the CPU fallback: Lanczos at 2x, Linear otherwise.
func Scale(src imagebuf.Packed, scaleFactor int, backend infer.Backend) (*imagebuf.Planar, error) {
	if scaleFactor <= 0 {
		return nil, errors.Errorf("alphascale: invalid scale factor %d", scaleFactor)
	}

	srcAlpha := extractAlphaPlane(src)

	outW, outH := src.W*scaleFactor, src.H*scaleFactor

	if scaleFactor == 2 && backend != nil && backend.Enabled() {
		out, err := backend.Bicubic2x(infer.Mat{W: src.W, H: src.H, C: 1, Data: srcAlpha})
		if err == nil {
			return matToPlanar(out), nil
		}
		// Fall through to the CPU path: a native backend that fails its
		// resize shim should not fail the whole request over alpha alone.
	}

	if backend != nil && backend.Enabled() {
		out, err := backend.ResizeBilinear(infer.Mat{W: src.W, H: src.H, C: 1, Data: srcAlpha}, outW, outH)
		if err == nil {
			return matToPlanar(out), nil
		}
	}

	return cpuFallbackResize(srcAlpha, src.W, src.H, outW, outH, scaleFactor)
}

func extractAlphaPlane(src imagebuf.Packed) []float32 {
	out := make([]float32, src.W*src.H)
	for y := 0; y < src.H; y++ {
		row := src.RowPtr(y)
		for x := 0; x < src.W; x++ {
			out[y*src.W+x] = float32(row[x*imagebuf.BytesPerPixel+3])
		}
	}
	return out
}

func matToPlanar(m infer.Mat) *imagebuf.Planar {
	p := imagebuf.NewPlanar(m.W, m.H, 1)
	copy(p.ChannelPtr(imagebuf.PlaneB), m.Data)
	return p
}

// cpuFallbackResize uses imaging's Lanczos filter for the common 2x case
// (the closest CPU-side equivalent to a bicubic layer in the wired
// dependency set) and its Linear filter otherwise.
func cpuFallbackResize(alpha []float32, srcW, srcH, outW, outH, scaleFactor int) (*imagebuf.Planar, error) {
	gray := image8FromAlpha(alpha, srcW, srcH)

	filter := imaging.Linear
	if scaleFactor == 2 {
		filter = imaging.Lanczos
	}
	resized := imaging.Resize(gray, outW, outH, filter)

	out := imagebuf.NewPlanar(outW, outH, 1)
	plane := out.ChannelPtr(imagebuf.PlaneB)
	bounds := resized.Bounds()
	for y := 0; y < outH; y++ {
		for x := 0; x < outW; x++ {
			r, _, _, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			plane[y*outW+x] = float32(r >> 8)
		}
	}
	return out, nil
}

func image8FromAlpha(alpha []float32, w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: byte(alpha[y*w+x])})
		}
	}
	return img
}
