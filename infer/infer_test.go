package infer_test

import (
	"testing"

	"github.com/nekoscale/upconv/infer"
	"github.com/nekoscale/upconv/infer/fake"
	"github.com/nekoscale/upconv/infer/native"
)

func TestDefaultOptionMatchesReferenceDefaults(t *testing.T) {
	opt := infer.DefaultOption()
	if !opt.UseVulkanCompute || !opt.UseFP16Packed || !opt.UseFP16Storage {
		t.Fatal("expected vulkan compute and fp16 storage/packed on by default")
	}
	if opt.UseFP16Arithmetic {
		t.Fatal("expected fp16 arithmetic off by default (accuracy over speed)")
	}
	if opt.NumThreads <= 0 {
		t.Fatal("expected a positive default thread count")
	}
}

func TestFakeBackendRequiresLoadBeforeExtractor(t *testing.T) {
	b := fake.New()
	if _, err := b.CreateExtractor(); err == nil {
		t.Fatal("expected an error creating an extractor before load")
	}
	if err := b.LoadParam("p.param"); err != nil {
		t.Fatalf("LoadParam: %v", err)
	}
	if err := b.LoadModel("p.bin"); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if _, err := b.CreateExtractor(); err != nil {
		t.Fatalf("CreateExtractor after load: %v", err)
	}
}

func TestFakeExtractorScalesInputByTwo(t *testing.T) {
	b := fake.New()
	_ = b.LoadParam("p.param")
	_ = b.LoadModel("p.bin")
	ex, err := b.CreateExtractor()
	if err != nil {
		t.Fatalf("CreateExtractor: %v", err)
	}
	defer ex.Close()

	in := infer.Mat{W: 4, H: 4, C: 3, Data: make([]float32, 4*4*3)}
	if err := ex.Input(0, in); err != nil {
		t.Fatalf("Input: %v", err)
	}
	out, err := ex.Extract(0)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if out.W != 8 || out.H != 8 {
		t.Fatalf("output size = %dx%d, want 8x8", out.W, out.H)
	}
}

func TestFakeEdgeReplicatePad(t *testing.T) {
	b := fake.New()
	src := infer.Mat{W: 2, H: 2, C: 1, Data: []float32{1, 2, 3, 4}}
	out, err := b.EdgeReplicatePad(src, 1, 1, 1, 1)
	if err != nil {
		t.Fatalf("EdgeReplicatePad: %v", err)
	}
	if out.W != 4 || out.H != 4 {
		t.Fatalf("padded size = %dx%d, want 4x4", out.W, out.H)
	}
	if out.Data[0] != 1 {
		t.Fatalf("top-left corner should replicate source (0,0)=1, got %v", out.Data[0])
	}
}

func TestNativeBackendDisabledStubReturnsErrNotLinked(t *testing.T) {
	b, err := native.New(infer.DefaultOption())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.Enabled() {
		// If the build was compiled with ncnn_native&&cgo this test
		// still must not fail — a real backend is allowed to report
		// itself enabled and skip the ErrNotLinked assertions below.
		t.Skip("native backend is enabled in this build")
	}
	if _, err := b.CreateExtractor(); err != infer.ErrNotLinked {
		t.Fatalf("CreateExtractor error = %v, want ErrNotLinked", err)
	}
	if err := b.LoadParam("x"); err != infer.ErrNotLinked {
		t.Fatalf("LoadParam error = %v, want ErrNotLinked", err)
	}
}
