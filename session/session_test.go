package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/nekoscale/upconv/catalog"
	"github.com/nekoscale/upconv/imagebuf"
	"github.com/nekoscale/upconv/infer"
	"github.com/nekoscale/upconv/infer/fake"
)

func touch(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte("x"), 0o644); err != nil {
		t.Fatalf("touch %s: %v", path, err)
	}
}

func newTestSession(t *testing.T) (*Session, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	touch(t, fs, "models/x2.param")
	touch(t, fs, "models/x2.bin")
	s := New(nil, fs, func() infer.Backend { return fake.New() })
	return s, fs
}

func packedImage(w, h int) imagebuf.Packed {
	stride := w * imagebuf.BytesPerPixel
	pix := make([]byte, stride*h)
	p := imagebuf.NewPacked(pix, stride, w, h)
	for i := 3; i < len(pix); i += imagebuf.BytesPerPixel {
		pix[i] = 255
	}
	return p
}

func TestProcessBeforeInitReturnsNotInitialized(t *testing.T) {
	s, _ := newTestSession(t)
	in := packedImage(2, 2)
	out := packedImage(4, 4)
	if err := s.Process(1, in, out); err != ErrNotInitialized {
		t.Fatalf("Process before Init: got %v, want ErrNotInitialized", err)
	}
}

func TestInitThenProcessProducesScaledOutput(t *testing.T) {
	s, _ := newTestSession(t)
	cfg := Config{Family: catalog.RealESRGAN, Noise: 0, Scale: 2, ModelDir: "models", TileSize: 2}
	if err := s.Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}

	in := packedImage(4, 4)
	out := packedImage(8, 8)
	if err := s.Process(7, in, out); err != nil {
		t.Fatalf("Process: %v", err)
	}

	progress := s.GetProgress()
	id := int32(progress >> 32)
	p := int32(uint32(progress))
	if id != 7 {
		t.Fatalf("progress id = %d, want 7", id)
	}
	if p != 100 {
		t.Fatalf("final progress = %d, want 100", p)
	}

	// Fully opaque input must stay fully opaque.
	for y := 0; y < out.H; y++ {
		row := out.RowPtr(y)
		for x := 0; x < out.W; x++ {
			a := row[x*imagebuf.BytesPerPixel+3]
			if a != 255 {
				t.Fatalf("pixel (%d,%d) alpha = %d, want 255", x, y, a)
			}
		}
	}
}

func TestDestroyMakesSubsequentProcessFail(t *testing.T) {
	s, _ := newTestSession(t)
	cfg := Config{Family: catalog.RealESRGAN, Scale: 2, ModelDir: "models", TileSize: 4}
	if err := s.Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	s.Destroy()

	in := packedImage(4, 4)
	out := packedImage(8, 8)
	if err := s.Process(1, in, out); err != ErrNotInitialized {
		t.Fatalf("Process after Destroy: got %v, want ErrNotInitialized", err)
	}
}

func TestAbortStopsRequestAndReturnsAborted(t *testing.T) {
	s, _ := newTestSession(t)
	cfg := Config{Family: catalog.RealESRGAN, Scale: 2, ModelDir: "models", TileSize: 1, TileSleepMs: 20}
	if err := s.Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// A larger image so the tile loop has time to observe the abort flag
	// before finishing.
	in := packedImage(16, 16)
	out := packedImage(32, 32)

	done := make(chan error, 1)
	go func() { done <- s.Process(1, in, out) }()

	time.Sleep(15 * time.Millisecond)
	s.Abort()

	select {
	case err := <-done:
		if err != ErrAborted {
			t.Fatalf("Process after Abort: got %v, want ErrAborted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Process did not return after Abort")
	}
}

func TestInitClearsAbortSoNextProcessSucceeds(t *testing.T) {
	s, _ := newTestSession(t)
	cfg := Config{Family: catalog.RealESRGAN, Scale: 2, ModelDir: "models", TileSize: 4}
	if err := s.Init(cfg); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	s.Abort()
	if err := s.Init(cfg); err != nil {
		t.Fatalf("second Init: %v", err)
	}

	in := packedImage(4, 4)
	out := packedImage(8, 8)
	if err := s.Process(2, in, out); err != nil {
		t.Fatalf("Process after re-Init: %v", err)
	}
}

func TestSetUIBusyStoresFlag(t *testing.T) {
	s, _ := newTestSession(t)
	s.SetUIBusy(true)
	if atomic.LoadInt32(&s.uiBusy) != 1 {
		t.Fatal("expected uiBusy=1")
	}
	s.SetUIBusy(false)
	if atomic.LoadInt32(&s.uiBusy) != 0 {
		t.Fatal("expected uiBusy=0")
	}
}
