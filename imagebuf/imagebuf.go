// Package imagebuf holds the two pixel-buffer shapes the pipeline moves
// data through: Packed, a row-strided byte view over caller-owned memory,
// and Planar, a tightly-packed float32 channel-separated buffer used for
// everything between preprocess and write-back. Neither type does dynamic
// dispatch on its hot paths; both are plain arithmetic over slices.
package imagebuf

import "sync"

// BytesPerPixel is the packed pixel width this engine ever deals with:
// RGBA8 at the caller boundary.
const BytesPerPixel = 4

// Packed is a row-strided view over caller-owned RGBA8 bytes. It never
// copies or owns Pix; Stride may exceed W*BytesPerPixel.
type Packed struct {
	Pix    []byte
	Stride int
	W, H   int
}

// NewPacked wraps pix as a W x H RGBA8 image with the given row stride.
func NewPacked(pix []byte, stride, w, h int) Packed {
	return Packed{Pix: pix, Stride: stride, W: w, H: h}
}

// RowPtr returns the byte slice for row y, Stride bytes wide.
func (p Packed) RowPtr(y int) []byte {
	off := y * p.Stride
	return p.Pix[off : off+p.Stride]
}

// At returns the 4-byte RGBA slice for pixel (x, y).
func (p Packed) At(x, y int) []byte {
	off := y*p.Stride + x*BytesPerPixel
	return p.Pix[off : off+BytesPerPixel : off+BytesPerPixel]
}

// Fill sets every byte of every valid pixel (ignoring stride padding) to v.
func (p Packed) Fill(v byte) {
	for y := 0; y < p.H; y++ {
		row := p.RowPtr(y)[:p.W*BytesPerPixel]
		for i := range row {
			row[i] = v
		}
	}
}

// Plane identifies a channel within a Planar buffer. Order is BGR, with
// alpha as an optional fourth plane, matching the inference backend's
// expected input layout.
type Plane int

const (
	PlaneB Plane = iota
	PlaneG
	PlaneR
	PlaneA
)

// Planar is a tightly packed, row-major, channel-separated float32 buffer.
// Values are normalized to [0,1] on the inference input side and
// un-normalized to [0,255] on the output side; Planar itself is agnostic to
// which regime its contents are in.
type Planar struct {
	W, H     int
	Channels int
	data     []float32
}

// NewPlanar allocates a zeroed Planar of the given size, preferring a
// pooled backing slice over a fresh allocation.
func NewPlanar(w, h, channels int) *Planar {
	n := w * h * channels
	data := getPooled(n)
	for i := range data {
		data[i] = 0
	}
	return &Planar{W: w, H: h, Channels: channels, data: data}
}

// ChannelPtr returns the entire plane for channel c as a flat, row-major
// W*H slice.
func (p *Planar) ChannelPtr(c Plane) []float32 {
	start := int(c) * p.W * p.H
	return p.data[start : start+p.W*p.H]
}

// Raw returns the whole channel-major backing slice (length W*H*Channels),
// for callers copying an entire buffer in one shot rather than plane by
// plane.
func (p *Planar) Raw() []float32 {
	return p.data
}

// RowPtr returns row y of channel c, W floats wide.
func (p *Planar) RowPtr(c Plane, y int) []float32 {
	plane := p.ChannelPtr(c)
	off := y * p.W
	return plane[off : off+p.W]
}

// Fill sets every element of every channel to value.
func (p *Planar) Fill(value float32) {
	for i := range p.data {
		p.data[i] = value
	}
}

// Release returns the backing slice to the shared pool. The Planar must not
// be used after Release.
func (p *Planar) Release() {
	if p.data == nil {
		return
	}
	putPooled(p.data)
	p.data = nil
}

// planarPool buckets backing slices by exact capacity. Tile-sized buffers
// repeat at a handful of fixed sizes for a given (tileSize, prepadding,
// scale) tuple, so exact-capacity pooling recycles effectively without the
// fragmentation a size-class scheme would need to manage.
var planarPool sync.Map // map[int]*sync.Pool

func poolFor(capacity int) *sync.Pool {
	if v, ok := planarPool.Load(capacity); ok {
		return v.(*sync.Pool)
	}
	pool := &sync.Pool{New: func() any {
		return make([]float32, capacity)
	}}
	actual, _ := planarPool.LoadOrStore(capacity, pool)
	return actual.(*sync.Pool)
}

func getPooled(n int) []float32 {
	buf := poolFor(n).Get().([]float32)
	if len(buf) != n {
		return make([]float32, n)
	}
	return buf
}

func putPooled(buf []float32) {
	poolFor(len(buf)).Put(buf)
}
