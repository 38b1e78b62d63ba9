// Package infer defines the InferenceBackend contract the pipeline treats
// as an external, black-box collaborator: a GPU-backed convolutional
// network capable of loading weights, running a forward pass on a padded
// tile, and providing the couple of resize primitives the pipeline needs
// outside the network itself (bicubic 2x, bilinear, edge-replicate pad).
//
// Two concrete implementations exist: infer/native, a cgo binding onto
// ncnn's C API, gated behind a build tag so this module compiles without a
// linked native library; and infer/fake, an always-available in-memory
// backend used by tests.
package infer

import "github.com/pkg/errors"

// ErrNotLinked is returned by every method except Enabled and Close of a
// Backend built without its native library linked in.
var ErrNotLinked = errors.New("infer: native backend not linked into this build")

// Mat is the tensor handle passed across the Backend boundary: a tightly
// packed, channel-major float32 buffer with the ncnn convention of
// (width, height, channels).
type Mat struct {
	W, H, C int
	Data    []float32
}

// Extractor is a per-forward-pass facade over a Backend: it binds one input
// slot and extracts one output slot. "Light mode" extractors release
// intermediate activations eagerly and are created fresh per tile.
type Extractor interface {
	// Input binds m to the given input slot (0 = the model's first
	// declared input).
	Input(slot int, m Mat) error
	// Extract runs the forward pass (if not already run) and returns the
	// given output slot (0 = the model's last declared output).
	Extract(slot int) (Mat, error)
	Close() error
}

// Backend is the capability surface the pipeline requires of an inference
// library. Enabled reports whether this Backend value is backed by a real
// implementation; a disabled backend returns ErrNotLinked from every other
// method except Close.
type Backend interface {
	Enabled() bool
	LoadParam(path string) error
	LoadModel(path string) error
	CreateExtractor() (Extractor, error)
	// Bicubic2x runs the backend's bicubic interpolation layer at exact 2x
	// scale, matching the reference engine's dedicated fast path.
	Bicubic2x(src Mat) (Mat, error)
	ResizeBilinear(src Mat, w, h int) (Mat, error)
	EdgeReplicatePad(src Mat, top, bottom, left, right int) (Mat, error)
	Close() error
}

// Option carries the tuning flags spec.md requires the backend to accept:
// Vulkan compute, FP16 packed/arithmetic storage, FP32 arithmetic override,
// packing layout, SGEMM/Winograd convolution, a local pool allocator, and
// shader local memory. Concrete backends interpret whichever subset they
// support; unsupported fields are ignored rather than rejected.
type Option struct {
	UseVulkanCompute       bool
	UseFP16Packed          bool
	UseFP16Storage         bool
	UseFP16Arithmetic      bool
	UsePackingLayout       bool
	UseSGEMMConvolution    bool
	UseWinogradConvolution bool
	UseLocalPoolAllocator  bool
	UseShaderLocalMemory   bool
	NumThreads             int
}

// DefaultOption mirrors the reference engine's per-session defaults: every
// acceleration flag on, FP32 arithmetic (accuracy over speed on mobile
// GPUs that regress under FP16 arithmetic), local pool allocator on.
func DefaultOption() Option {
	return Option{
		UseVulkanCompute:       true,
		UseFP16Packed:          true,
		UseFP16Storage:         true,
		UseFP16Arithmetic:      false,
		UsePackingLayout:       true,
		UseSGEMMConvolution:    true,
		UseWinogradConvolution: true,
		UseLocalPoolAllocator:  true,
		UseShaderLocalMemory:   true,
		NumThreads:             4,
	}
}
