package upconv

import (
	"testing"

	"github.com/spf13/afero"

	"github.com/nekoscale/upconv/catalog"
	"github.com/nekoscale/upconv/imagebuf"
	"github.com/nekoscale/upconv/infer"
	"github.com/nekoscale/upconv/infer/fake"
	fakerenderer "github.com/nekoscale/upconv/shaderchain/fake"
)

func touch(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte("x"), 0o644); err != nil {
		t.Fatalf("touch %s: %v", path, err)
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	fs := afero.NewMemMapFs()
	touch(t, fs, "models/x2.param")
	touch(t, fs, "models/x2.bin")
	return New(nil, fs, func() infer.Backend { return fake.New() })
}

func TestProcessBeforeInitReturnsFailureAndPassesInputThrough(t *testing.T) {
	e := newTestEngine(t)

	w, h := 2, 2
	stride := w * imagebuf.BytesPerPixel
	in := make([]byte, stride*h)
	for i := range in {
		in[i] = byte(i + 1)
	}
	out := make([]byte, stride*h)

	status, err := e.Process(1, in, w, h, stride, out, stride)
	if status != StatusFailure {
		t.Fatalf("status = %v, want StatusFailure", status)
	}
	if err != ErrNotInitialized {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("passthrough mismatch at byte %d: got %d, want %d", i, out[i], in[i])
		}
	}
}

func TestInitThenProcessSucceeds(t *testing.T) {
	e := newTestEngine(t)

	status, err := e.Init(catalog.RealESRGAN, "models", 0, 2, 0)
	if err != nil || status != StatusOK {
		t.Fatalf("Init: status=%v err=%v", status, err)
	}

	w, h := 4, 4
	inStride := w * imagebuf.BytesPerPixel
	in := make([]byte, inStride*h)
	for i := 3; i < len(in); i += imagebuf.BytesPerPixel {
		in[i] = 255
	}

	// The caller only knows the scale factor it asked Init for (2), not
	// the engine's internals; it must still allocate exactly W*s x H*s.
	scale := 2
	outW, outH := w*scale, h*scale
	outStride := outW * imagebuf.BytesPerPixel
	out := make([]byte, outStride*outH)

	status, err = e.Process(1, in, w, h, inStride, out, outStride)
	if err != nil || status != StatusOK {
		t.Fatalf("Process: status=%v err=%v", status, err)
	}

	progress := e.GetProgress()
	if int32(progress) != 100 {
		t.Fatalf("progress = %d, want 100", int32(progress))
	}

	// Every row of the W*s x H*s canvas must be written -- none left
	// zero-filled -- and the fully opaque input must stay fully opaque
	// end to end.
	for y := 0; y < outH; y++ {
		row := out[y*outStride : y*outStride+outW*imagebuf.BytesPerPixel]
		for x := 0; x < outW; x++ {
			a := row[x*imagebuf.BytesPerPixel+3]
			if a != 255 {
				t.Fatalf("pixel (%d,%d) alpha = %d, want 255", x, y, a)
			}
		}
	}
}

func TestShaderChainRoundTrip(t *testing.T) {
	e := newTestEngine(t)

	src := "//!BIND MAIN\n//!SAVE OUT\n//!WIDTH MAIN * 2\n//!HEIGHT MAIN * 2\nvec4 hook() { return MAIN_tex(MAIN_pos); }\n"
	renderer := fakerenderer.New()

	status, err := e.InitShaderChain(renderer, []string{src}, []string{"upscale"})
	if err != nil || status != StatusOK {
		t.Fatalf("InitShaderChain: status=%v err=%v", status, err)
	}

	in := make([]byte, 16*16*4)
	out, outW, outH, status, err := e.ProcessShaderChain(in, 16, 16)
	if err != nil || status != StatusOK {
		t.Fatalf("ProcessShaderChain: status=%v err=%v", status, err)
	}
	if outW != 32 || outH != 32 {
		t.Fatalf("output size = %dx%d, want 32x32", outW, outH)
	}
	if len(out) != 32*32*4 {
		t.Fatalf("output length = %d", len(out))
	}
}

func TestProcessShaderChainBeforeInitFails(t *testing.T) {
	e := newTestEngine(t)
	_, _, _, status, err := e.ProcessShaderChain(nil, 4, 4)
	if status != StatusFailure || err != ErrShaderChainNotInitialized {
		t.Fatalf("status=%v err=%v, want failure/ErrShaderChainNotInitialized", status, err)
	}
}
