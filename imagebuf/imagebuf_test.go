package imagebuf

import "testing"

func TestPackedAtAndRowPtr(t *testing.T) {
	// 2x2 image with stride padded to 12 bytes/row (4 extra bytes beyond 4*2).
	pix := make([]byte, 12*2)
	p := NewPacked(pix, 12, 2, 2)

	px := p.At(1, 1)
	px[0], px[1], px[2], px[3] = 10, 20, 30, 40

	row := p.RowPtr(1)
	if len(row) != 12 {
		t.Fatalf("RowPtr length = %d, want 12", len(row))
	}
	if row[4] != 10 || row[5] != 20 || row[6] != 30 || row[7] != 40 {
		t.Fatalf("row bytes at second pixel = %v, want [10 20 30 40 ...]", row[4:8])
	}
}

func TestPackedFillRespectsStridePadding(t *testing.T) {
	stride := 12
	pix := make([]byte, stride*2)
	p := NewPacked(pix, stride, 2, 2)
	p.Fill(0xFF)

	for y := 0; y < 2; y++ {
		row := p.RowPtr(y)
		for x := 0; x < 2*BytesPerPixel; x++ {
			if row[x] != 0xFF {
				t.Fatalf("row %d byte %d = %d, want 0xFF", y, x, row[x])
			}
		}
		for x := 2 * BytesPerPixel; x < stride; x++ {
			if row[x] != 0 {
				t.Fatalf("stride padding byte %d should be untouched, got %d", x, row[x])
			}
		}
	}
}

func TestPlanarChannelAndRowPtr(t *testing.T) {
	pl := NewPlanar(4, 3, 4)
	defer pl.Release()

	g := pl.ChannelPtr(PlaneG)
	if len(g) != 4*3 {
		t.Fatalf("ChannelPtr(G) length = %d, want %d", len(g), 4*3)
	}

	row := pl.RowPtr(PlaneR, 2)
	row[0] = 42
	if pl.ChannelPtr(PlaneR)[2*4] != 42 {
		t.Fatal("RowPtr should alias into the channel's backing plane")
	}
}

func TestPlanarFill(t *testing.T) {
	pl := NewPlanar(2, 2, 3)
	defer pl.Release()

	pl.Fill(1.5)
	for c := Plane(0); c < 3; c++ {
		for _, v := range pl.ChannelPtr(c) {
			if v != 1.5 {
				t.Fatalf("channel %d has unfilled value %v", c, v)
			}
		}
	}
}

func TestPlanarReleaseAndReuseIsZeroed(t *testing.T) {
	pl := NewPlanar(4, 4, 3)
	pl.Fill(9)
	pl.Release()

	pl2 := NewPlanar(4, 4, 3)
	defer pl2.Release()
	for _, v := range pl2.ChannelPtr(PlaneB) {
		if v != 0 {
			t.Fatalf("reused planar buffer should be zeroed, got %v", v)
		}
	}
}
