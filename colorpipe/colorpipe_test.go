package colorpipe

import (
	"testing"

	"github.com/nekoscale/upconv/imagebuf"
	"github.com/nekoscale/upconv/tile"
)

func makePacked(w, h int, fill func(x, y int) [4]byte) imagebuf.Packed {
	stride := w * imagebuf.BytesPerPixel
	pix := make([]byte, stride*h)
	p := imagebuf.NewPacked(pix, stride, w, h)
	for y := 0; y < h; y++ {
		row := p.RowPtr(y)
		for x := 0; x < w; x++ {
			c := fill(x, y)
			off := x * imagebuf.BytesPerPixel
			copy(row[off:off+4], c[:])
		}
	}
	return p
}

func TestPreprocessGrayscaleDetectedWhenAllChannelsEqual(t *testing.T) {
	src := makePacked(10, 10, func(x, y int) [4]byte {
		v := byte((x + y) % 256)
		return [4]byte{v, v, v, 255}
	})

	res := Preprocess(src, false)
	if !res.Grayscale {
		t.Fatal("expected grayscale detection for an all-equal-channel image")
	}
}

func TestPreprocessNotGrayscaleWhenColorDominates(t *testing.T) {
	src := makePacked(10, 10, func(x, y int) [4]byte {
		return [4]byte{255, 0, 0, 255}
	})

	res := Preprocess(src, false)
	if res.Grayscale {
		t.Fatal("a fully red image should not be detected as grayscale")
	}
}

func TestPreprocessDisableGrayscaleCheckForcesFalse(t *testing.T) {
	src := makePacked(4, 4, func(x, y int) [4]byte {
		return [4]byte{100, 100, 100, 255}
	})
	res := Preprocess(src, true)
	if res.Grayscale {
		t.Fatal("disableGrayscaleCheck must force Grayscale=false")
	}
}

func TestPreprocessTolerantOfAFewColorPixels(t *testing.T) {
	// 100x100 = 10000 pixels; tolerance is 10000/200 = 50 colored pixels.
	src := makePacked(100, 100, func(x, y int) [4]byte {
		if y == 0 && x < 40 {
			return [4]byte{255, 0, 0, 255}
		}
		return [4]byte{128, 128, 128, 255}
	})
	res := Preprocess(src, false)
	if !res.Grayscale {
		t.Fatal("40 colored pixels out of 10000 should stay within the 0.5% tolerance")
	}
}

func TestPreprocessNormalizesToUnitRange(t *testing.T) {
	src := makePacked(1, 1, func(x, y int) [4]byte {
		return [4]byte{255, 128, 0, 255}
	})
	res := Preprocess(src, false)
	defer res.Planar.Release()

	r := res.Planar.ChannelPtr(imagebuf.PlaneR)[0]
	g := res.Planar.ChannelPtr(imagebuf.PlaneG)[0]
	b := res.Planar.ChannelPtr(imagebuf.PlaneB)[0]
	if r != 1.0 {
		t.Fatalf("R = %v, want 1.0", r)
	}
	if b != 0.0 {
		t.Fatalf("B = %v, want 0.0", b)
	}
	if g < 0.501 || g > 0.502 {
		t.Fatalf("G = %v, want ~0.50196", g)
	}
}

func fillPlanar(p *imagebuf.Planar, c imagebuf.Plane, value float32) {
	plane := p.ChannelPtr(c)
	for i := range plane {
		plane[i] = value
	}
}

func TestWriteTileFullBrightWritesOpaqueWhite(t *testing.T) {
	scale := 2
	spec := tile.Spec{X: 0, Y: 0, W: 2, H: 2}
	prepadding := 0

	modelOut := imagebuf.NewPlanar(spec.W*scale, spec.H*scale, 3)
	defer modelOut.Release()
	fillPlanar(modelOut, imagebuf.PlaneR, 1.0)
	fillPlanar(modelOut, imagebuf.PlaneG, 1.0)
	fillPlanar(modelOut, imagebuf.PlaneB, 1.0)

	dst := imagebuf.NewPacked(make([]byte, spec.W*scale*imagebuf.BytesPerPixel*spec.H*scale), spec.W*scale*imagebuf.BytesPerPixel, spec.W*scale, spec.H*scale)

	WriteTile(dst, spec, scale, prepadding, modelOut, nil, false)

	px := dst.At(0, 0)
	if px[0] != 255 || px[1] != 255 || px[2] != 255 || px[3] != 255 {
		t.Fatalf("pixel = %v, want [255 255 255 255]", px)
	}
}

func TestWriteTileGrayscaleCollapsesToMean(t *testing.T) {
	scale := 1
	spec := tile.Spec{X: 0, Y: 0, W: 1, H: 1}

	modelOut := imagebuf.NewPlanar(1, 1, 3)
	defer modelOut.Release()
	modelOut.ChannelPtr(imagebuf.PlaneR)[0] = 1.0
	modelOut.ChannelPtr(imagebuf.PlaneG)[0] = 0.0
	modelOut.ChannelPtr(imagebuf.PlaneB)[0] = 0.0

	dst := imagebuf.NewPacked(make([]byte, imagebuf.BytesPerPixel), imagebuf.BytesPerPixel, 1, 1)
	WriteTile(dst, spec, scale, 0, modelOut, nil, true)

	px := dst.At(0, 0)
	mean := byte(float32(1.0/3.0) * 255)
	if px[0] != mean || px[1] != mean || px[2] != mean {
		t.Fatalf("pixel = %v, want R=G=B=%d", px, mean)
	}
}

func TestWriteTileOffsetsByPrepaddingScale(t *testing.T) {
	scale := 2
	prepadding := 1
	spec := tile.Spec{X: 0, Y: 0, W: 1, H: 1}

	// expected model output size: (1+2*1)*2 = 6
	modelOut := imagebuf.NewPlanar(6, 6, 3)
	defer modelOut.Release()
	// mark the valid center region (offset p*scale=2) with a known value,
	// leave the padding border at zero.
	for c := imagebuf.Plane(0); c < 3; c++ {
		modelOut.ChannelPtr(c)[2*6+2] = 0.5
	}

	dst := imagebuf.NewPacked(make([]byte, 2*imagebuf.BytesPerPixel*2), 2*imagebuf.BytesPerPixel, 2, 2)
	WriteTile(dst, spec, scale, prepadding, modelOut, nil, false)

	px := dst.At(0, 0)
	want := toByteTrunc(0.5 * 255)
	if px[0] != want {
		t.Fatalf("pixel with correct-size model output = %v, want R=%d (read at p*scale offset)", px, want)
	}
}

func TestWriteTileFallsBackToZeroOffsetWhenModelOutputSmall(t *testing.T) {
	scale := 2
	prepadding := 1
	spec := tile.Spec{X: 0, Y: 0, W: 1, H: 1}

	// model returned an already-cropped tile: exactly w*scale x h*scale,
	// smaller than the expected (w+2p)*scale.
	modelOut := imagebuf.NewPlanar(spec.W*scale, spec.H*scale, 3)
	defer modelOut.Release()
	fillPlanar(modelOut, imagebuf.PlaneR, 0.5)
	fillPlanar(modelOut, imagebuf.PlaneG, 0.5)
	fillPlanar(modelOut, imagebuf.PlaneB, 0.5)

	dst := imagebuf.NewPacked(make([]byte, spec.W*scale*imagebuf.BytesPerPixel*spec.H*scale), spec.W*scale*imagebuf.BytesPerPixel, spec.W*scale, spec.H*scale)
	WriteTile(dst, spec, scale, prepadding, modelOut, nil, false)

	px := dst.At(0, 0)
	want := toByteTrunc(0.5 * 255)
	if px[0] != want {
		t.Fatalf("pixel with cropped model output = %v, want R=%d (read at offset 0)", px, want)
	}
}

func TestWriteTileNoAlphaPlaneDefaultsOpaque(t *testing.T) {
	spec := tile.Spec{X: 0, Y: 0, W: 1, H: 1}
	modelOut := imagebuf.NewPlanar(1, 1, 3)
	defer modelOut.Release()

	dst := imagebuf.NewPacked(make([]byte, imagebuf.BytesPerPixel), imagebuf.BytesPerPixel, 1, 1)
	WriteTile(dst, spec, 1, 0, modelOut, nil, false)

	if dst.At(0, 0)[3] != 255 {
		t.Fatalf("expected alpha 255 with no alpha plane, got %d", dst.At(0, 0)[3])
	}
}

func TestWriteTileAlphaFromPlaneAtDestinationCoordinate(t *testing.T) {
	spec := tile.Spec{X: 1, Y: 0, W: 1, H: 1}
	scale := 1
	modelOut := imagebuf.NewPlanar(1, 1, 3)
	defer modelOut.Release()

	alpha := imagebuf.NewPlanar(2, 1, 1)
	defer alpha.Release()
	alpha.ChannelPtr(imagebuf.PlaneB)[1] = 128

	dst := imagebuf.NewPacked(make([]byte, 2*imagebuf.BytesPerPixel), 2*imagebuf.BytesPerPixel, 2, 1)
	WriteTile(dst, spec, scale, 0, modelOut, alpha, false)

	if dst.At(1, 0)[3] != 128 {
		t.Fatalf("alpha = %d, want 128", dst.At(1, 0)[3])
	}
}
