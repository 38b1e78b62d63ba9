// Package tile computes the tile grid over an image and extracts padded
// input tiles from a once-per-image edge-replicated planar buffer.
package tile

import (
	"github.com/nekoscale/upconv/imagebuf"
	"github.com/nekoscale/upconv/internal/numeric"
)

// Spec describes one tile's placement in source coordinates.
type Spec struct {
	// XI, YI are the tile's grid indices, row-major.
	XI, YI int
	// X, Y is the tile's source origin.
	X, Y int
	// W, H is the tile's source size: TileSize except at the image's
	// trailing edge, where it is clipped.
	W, H int
}

// Tiler computes the tile grid for one image size and pre-padding.
type Tiler struct {
	W, H       int
	TileSize   int
	Prepadding int
}

// New builds a Tiler for a W x H image split into tileSize tiles with the
// given model pre-padding.
func New(w, h, tileSize, prepadding int) Tiler {
	return Tiler{W: w, H: h, TileSize: tileSize, Prepadding: prepadding}
}

// Grid enumerates every tile in row-major order.
func (t Tiler) Grid() []Spec {
	xtiles := numeric.CeilDiv(t.W, t.TileSize)
	ytiles := numeric.CeilDiv(t.H, t.TileSize)

	specs := make([]Spec, 0, xtiles*ytiles)
	for yi := 0; yi < ytiles; yi++ {
		for xi := 0; xi < xtiles; xi++ {
			x := xi * t.TileSize
			y := yi * t.TileSize
			w := numeric.Min(t.TileSize, t.W-x)
			h := numeric.Min(t.TileSize, t.H-y)
			specs = append(specs, Spec{XI: xi, YI: yi, X: x, Y: y, W: w, H: h})
		}
	}
	return specs
}

// PadReplicate builds a (W+2p) x (H+2p) planar buffer from src by
// replicating the edge pixels of src outward by p on every side. This is
// done once for the whole image, never per tile.
func PadReplicate(src *imagebuf.Planar, p int) *imagebuf.Planar {
	if p == 0 {
		return src
	}

	padded := imagebuf.NewPlanar(src.W+2*p, src.H+2*p, src.Channels)
	for c := imagebuf.Plane(0); int(c) < src.Channels; c++ {
		srcPlane := src.ChannelPtr(c)
		for y := 0; y < padded.H; y++ {
			sy := numeric.Clamp(y-p, 0, src.H-1)
			srcRow := srcPlane[sy*src.W : sy*src.W+src.W]
			dstRow := padded.RowPtr(c, y)
			for x := 0; x < padded.W; x++ {
				sx := numeric.Clamp(x-p, 0, src.W-1)
				dstRow[x] = srcRow[sx]
			}
		}
	}
	return padded
}

// ExtractPaddedTile copies the padded input tile for spec out of padded (the
// whole-image edge-replicated buffer produced by PadReplicate), returning a
// freshly allocated (w+2p) x (h+2p) planar buffer.
func (t Tiler) ExtractPaddedTile(padded *imagebuf.Planar, spec Spec) *imagebuf.Planar {
	pw := spec.W + 2*t.Prepadding
	ph := spec.H + 2*t.Prepadding
	out := imagebuf.NewPlanar(pw, ph, padded.Channels)

	for c := imagebuf.Plane(0); int(c) < padded.Channels; c++ {
		for row := 0; row < ph; row++ {
			srcRow := padded.RowPtr(c, spec.Y+row)
			srcSlice := srcRow[spec.X : spec.X+pw]
			copy(out.RowPtr(c, row), srcSlice)
		}
	}
	return out
}
