//go:build ncnn_native && cgo

// Package native wraps ncnn's C API (https://github.com/Tencent/ncnn) to
// implement infer.Backend. Building with this backend requires ncnn's
// headers and static library to be available to cgo (CGO_CFLAGS /
// CGO_LDFLAGS pointed at an ncnn install); without the ncnn_native build
// tag, native.New returns the disabled stub in native_disabled.go instead.
package native

/*
#cgo LDFLAGS: -lncnn -lstdc++ -lm
#include <ncnn/c_api.h>
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"runtime"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/nekoscale/upconv/infer"
)

// Backend is a real ncnn network loaded via the C API.
type Backend struct {
	net C.ncnn_net_t
}

// New creates an empty ncnn net and applies opt's flags via
// ncnn_option_set_*, as the reference engine configures the model before
// loading it. UseLocalPoolAllocator and UseShaderLocalMemory are not
// applied.
func New(opt infer.Option) (*Backend, error) {
	net := C.ncnn_net_create()
	if net == nil {
		return nil, errors.New("native: ncnn_net_create failed")
	}

	ncnnOpt := C.ncnn_option_create()
	if ncnnOpt == nil {
		C.ncnn_net_destroy(net)
		return nil, errors.New("native: ncnn_option_create failed")
	}
	defer C.ncnn_option_destroy(ncnnOpt)

	C.ncnn_option_set_use_vulkan_compute(ncnnOpt, boolToC(opt.UseVulkanCompute))
	C.ncnn_option_set_use_fp16_packed(ncnnOpt, boolToC(opt.UseFP16Packed))
	C.ncnn_option_set_use_fp16_storage(ncnnOpt, boolToC(opt.UseFP16Storage))
	C.ncnn_option_set_use_fp16_arithmetic(ncnnOpt, boolToC(opt.UseFP16Arithmetic))
	C.ncnn_option_set_use_packing_layout(ncnnOpt, boolToC(opt.UsePackingLayout))
	C.ncnn_option_set_use_sgemm_convolution(ncnnOpt, boolToC(opt.UseSGEMMConvolution))
	C.ncnn_option_set_use_winograd_convolution(ncnnOpt, boolToC(opt.UseWinogradConvolution))
	C.ncnn_option_set_num_threads(ncnnOpt, C.int(opt.NumThreads))
	C.ncnn_net_set_option(net, ncnnOpt)

	b := &Backend{net: net}
	runtime.SetFinalizer(b, (*Backend).Close)
	return b, nil
}

func boolToC(v bool) C.int {
	if v {
		return 1
	}
	return 0
}

func (b *Backend) Enabled() bool { return true }

func (b *Backend) LoadParam(path string) error {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.ncnn_net_load_param(b.net, cPath); ret != 0 {
		return errors.Errorf("native: load_param %q: %d", path, ret)
	}
	return nil
}

func (b *Backend) LoadModel(path string) error {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.ncnn_net_load_model(b.net, cPath); ret != 0 {
		return errors.Errorf("native: load_model %q: %d", path, ret)
	}
	return nil
}

func (b *Backend) CreateExtractor() (infer.Extractor, error) {
	ex := C.ncnn_extractor_create(b.net)
	if ex == nil {
		return nil, errors.New("native: extractor_create failed")
	}
	// Light mode: release intermediate blobs as soon as they are no
	// longer needed by a downstream layer, instead of holding the whole
	// activation graph for the lifetime of the extractor.
	C.ncnn_extractor_set_light_mode(ex, 1)
	e := &extractor{ex: ex}
	runtime.SetFinalizer(e, (*extractor).Close)
	return e, nil
}

// Bicubic2x, ResizeBilinear and EdgeReplicatePad are not part of ncnn's
// stable C API; the reference engine reaches them through its own small
// C++ shim around ncnn::resize_bicubic/resize_bilinear/copy_make_border.
// That shim is outside this module's build (no ncnn headers are vendored
// here); wire a project-specific cgo shim exposing three C functions with
// this signature convention when linking against a real ncnn checkout:
//
//	int shim_resize_bicubic(const float* src, int sw, int sh, int c, float* dst, int dw, int dh);
//	int shim_resize_bilinear(const float* src, int sw, int sh, int c, float* dst, int dw, int dh);
//	int shim_copy_make_border(const float* src, int sw, int sh, int c, float* dst, int top, int bottom, int left, int right);
func (b *Backend) Bicubic2x(src infer.Mat) (infer.Mat, error) {
	return infer.Mat{}, errors.New("native: Bicubic2x requires the project's ncnn resize shim, not part of this build")
}

func (b *Backend) ResizeBilinear(src infer.Mat, w, h int) (infer.Mat, error) {
	return infer.Mat{}, errors.New("native: ResizeBilinear requires the project's ncnn resize shim, not part of this build")
}

func (b *Backend) EdgeReplicatePad(src infer.Mat, top, bottom, left, right int) (infer.Mat, error) {
	return infer.Mat{}, errors.New("native: EdgeReplicatePad requires the project's ncnn pad shim, not part of this build")
}

func (b *Backend) Close() error {
	if b.net != nil {
		C.ncnn_net_destroy(b.net)
		b.net = nil
		runtime.SetFinalizer(b, nil)
	}
	return nil
}

type extractor struct {
	ex C.ncnn_extractor_t
}

func (e *extractor) Input(slot int, m infer.Mat) error {
	if len(m.Data) == 0 {
		return errors.New("native: input mat has no data")
	}
	mat := C.ncnn_mat_create_external_3d(C.int(m.W), C.int(m.H), C.int(m.C), unsafe.Pointer(&m.Data[0]), nil)
	if mat == nil {
		return errors.New("native: mat_create_external_3d failed")
	}
	defer C.ncnn_mat_destroy(mat)

	cName := C.CString(inputBlobName(slot))
	defer C.free(unsafe.Pointer(cName))
	if ret := C.ncnn_extractor_input(e.ex, cName, mat); ret != 0 {
		return errors.Errorf("native: extractor_input slot %d: %d", slot, ret)
	}
	return nil
}

func (e *extractor) Extract(slot int) (infer.Mat, error) {
	cName := C.CString(outputBlobName(slot))
	defer C.free(unsafe.Pointer(cName))

	var m C.ncnn_mat_t
	if ret := C.ncnn_extractor_extract(e.ex, cName, &m); ret != 0 {
		return infer.Mat{}, errors.Errorf("native: extractor_extract slot %d: %d", slot, ret)
	}
	defer C.ncnn_mat_destroy(m)

	w := int(C.ncnn_mat_get_w(m))
	h := int(C.ncnn_mat_get_h(m))
	c := int(C.ncnn_mat_get_c(m))
	ptr := C.ncnn_mat_get_data(m)
	if ptr == nil || w == 0 || h == 0 {
		return infer.Mat{}, errors.New("native: extract returned an empty mat")
	}

	data := make([]float32, w*h*c)
	C.memcpy(unsafe.Pointer(&data[0]), ptr, C.size_t(w*h*c*4))
	return infer.Mat{W: w, H: h, C: c, Data: data}, nil
}

func (e *extractor) Close() error {
	if e.ex != nil {
		C.ncnn_extractor_destroy(e.ex)
		e.ex = nil
		runtime.SetFinalizer(e, nil)
	}
	return nil
}

// inputBlobName and outputBlobName resolve slot 0 to the model's first
// declared input / last declared output. Real deployments look these
// names up from the parsed .param graph; the reference engine hardcodes
// "data" / "output" for this reason.
func inputBlobName(slot int) string {
	if slot == 0 {
		return "data"
	}
	return "data" + itoa(slot)
}

func outputBlobName(slot int) string {
	if slot == 0 {
		return "output"
	}
	return "output" + itoa(slot)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
