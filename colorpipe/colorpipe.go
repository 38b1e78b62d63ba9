// Package colorpipe converts between the packed RGBA8 image at the caller
// boundary and the normalized planar BGR floats the inference backend
// consumes, including grayscale detection on the way in and independent
// color/alpha write-back on the way out.
package colorpipe

import (
	"github.com/nekoscale/upconv/imagebuf"
	"github.com/nekoscale/upconv/internal/numeric"
	"github.com/nekoscale/upconv/tile"
)

// grayscaleToleranceDivisor implements the 0.5% tolerance: an image is
// flagged grayscale when at most W*H/grayscaleToleranceDivisor pixels show
// a color cast.
const grayscaleToleranceDivisor = 200

// colorCastThreshold is the 0-255-space per-channel delta above which a
// pixel counts as colored rather than a rounding artifact of a true gray
// source.
const colorCastThreshold = 5

// PreprocessResult is the output of Preprocess: a normalized BGR planar
// buffer ready for tiling, plus whether the whole image was detected as
// grayscale.
type PreprocessResult struct {
	Planar    *imagebuf.Planar
	Grayscale bool
}

// Preprocess converts src into normalized [0,1] planar BGR and evaluates
// the grayscale heuristic in a single pass over the packed pixels.
// disableGrayscaleCheck forces Grayscale to false regardless of pixel
// content, matching the session flag of the same name.
func Preprocess(src imagebuf.Packed, disableGrayscaleCheck bool) PreprocessResult {
	planar := imagebuf.NewPlanar(src.W, src.H, 3)
	bPlane := planar.ChannelPtr(imagebuf.PlaneB)
	gPlane := planar.ChannelPtr(imagebuf.PlaneG)
	rPlane := planar.ChannelPtr(imagebuf.PlaneR)

	colorPixelCount := 0
	for y := 0; y < src.H; y++ {
		row := src.RowPtr(y)
		base := y * src.W
		for x := 0; x < src.W; x++ {
			off := x * imagebuf.BytesPerPixel
			r, g, b := row[off], row[off+1], row[off+2]

			idx := base + x
			rPlane[idx] = float32(r) / 255
			gPlane[idx] = float32(g) / 255
			bPlane[idx] = float32(b) / 255

			if absDiff(r, g) > colorCastThreshold || absDiff(r, b) > colorCastThreshold {
				colorPixelCount++
			}
		}
	}

	grayscale := !disableGrayscaleCheck && colorPixelCount <= (src.W*src.H)/grayscaleToleranceDivisor
	return PreprocessResult{Planar: planar, Grayscale: grayscale}
}

func absDiff(a, b byte) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// WriteTile writes one tile's model output back into dst, the caller-owned
// output image: RGB is written straight from the model's [0,1] planar
// output (scaled by 255, truncated), and the alpha byte is written
// independently from alphaPlane (a full-output-sized single-channel plane
// produced by the alphascale package). The two are never blended against
// each other or against whatever previously occupied dst -- there is no
// compositing here, only two parallel writes. alphaPlane may be nil, in
// which case every written pixel gets alpha 255.
//
// modelOut is the raw inference output for this tile: (w+2p)*scale by
// (h+2p)*scale under normal conditions, but some model families return an
// already-cropped tile with no padding margin; when modelOut is smaller
// than expected the read offset falls back to 0 instead of p*scale.
func WriteTile(dst imagebuf.Packed, spec tile.Spec, scale, prepadding int, modelOut *imagebuf.Planar, alphaPlane *imagebuf.Planar, grayscale bool) {
	expectedW := (spec.W + 2*prepadding) * scale
	expectedH := (spec.H + 2*prepadding) * scale

	offset := prepadding * scale
	if modelOut.W < expectedW || modelOut.H < expectedH {
		offset = 0
	}

	dstX0 := spec.X * scale
	dstY0 := spec.Y * scale

	copyW := numeric.Min(spec.W*scale, modelOut.W-offset)
	copyW = numeric.Min(copyW, dst.W-dstX0)
	if copyW <= 0 {
		return
	}

	bPlane := modelOut.ChannelPtr(imagebuf.PlaneB)
	gPlane := modelOut.ChannelPtr(imagebuf.PlaneG)
	rPlane := modelOut.ChannelPtr(imagebuf.PlaneR)

	rowLimit := numeric.Min(spec.H*scale, modelOut.H-offset)
	for i := 0; i < rowLimit; i++ {
		dstY := dstY0 + i
		if dstY >= dst.H {
			break
		}
		srcY := offset + i
		srcBase := srcY * modelOut.W

		var alphaRow []float32
		if alphaPlane != nil {
			alphaRow = alphaPlane.RowPtr(imagebuf.PlaneB, dstY)
		}

		destRow := dst.RowPtr(dstY)
		for j := 0; j < copyW; j++ {
			srcX := offset + j
			b := bPlane[srcBase+srcX]
			g := gPlane[srcBase+srcX]
			r := rPlane[srcBase+srcX]

			if grayscale {
				mean := (r + g + b) / 3
				r, g, b = mean, mean, mean
			}

			a := byte(255)
			dstX := dstX0 + j
			if alphaRow != nil {
				a = toByteTrunc(alphaRow[dstX])
			}

			px := destRow[dstX*imagebuf.BytesPerPixel : dstX*imagebuf.BytesPerPixel+imagebuf.BytesPerPixel]
			px[0] = toByteTrunc(r * 255)
			px[1] = toByteTrunc(g * 255)
			px[2] = toByteTrunc(b * 255)
			px[3] = a
		}
	}
}

// toByteTrunc clamps v to [0,255] and truncates (never rounds) to a byte,
// matching the reference engine's write-back conversion exactly.
func toByteTrunc(v float32) byte {
	v = numeric.Clamp(v, 0, 255)
	return byte(v)
}
