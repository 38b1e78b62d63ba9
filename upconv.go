// Package upconv is the root façade over the tiled super-resolution
// pipeline: one Engine wraps one session.Session and one shaderchain.Chain,
// exposing the flat caller interface a host binding embeds (spec §6):
// init/destroy/process/getProgress/setUiBusy/updatePerformanceConfig plus
// the shader-chain pair. Bitmap marshalling and language-binding concerns
// stop here; everything past this file works in Go-native types.
package upconv

import (
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/nekoscale/upconv/catalog"
	"github.com/nekoscale/upconv/imagebuf"
	"github.com/nekoscale/upconv/infer"
	"github.com/nekoscale/upconv/session"
	"github.com/nekoscale/upconv/shaderchain"
)

// StatusCode mirrors the caller interface's two-value result: 0 ok, -1
// failure. Every Engine method that returns one also returns a Go error
// with the specific reason, for callers that want detail beyond the
// status code.
type StatusCode int

const (
	StatusOK      StatusCode = 0
	StatusFailure StatusCode = -1
)

var (
	// ErrNotInitialized is returned by Process before a successful Init.
	ErrNotInitialized = session.ErrNotInitialized
	// ErrAborted is returned by Process when Abort was called mid-request.
	ErrAborted = session.ErrAborted
	// ErrUnsupportedPixelFormat is returned when a caller supplies a
	// stride too narrow to hold W RGBA8 pixels.
	ErrUnsupportedPixelFormat = session.ErrUnsupportedPixelFormat
	// ErrModelNotFound is returned by Init when the resolved model files
	// do not exist under modelDir.
	ErrModelNotFound = catalog.ErrModelNotFound
	// ErrBackendFatal names the backend-failure kind of the error
	// taxonomy. No Engine method returns it: Init reports a backend load
	// failure as the wrapped backend error with StatusFailure.
	ErrBackendFatal = errors.New("upconv: backend fatal error")
	// ErrShaderChainNotInitialized is returned by ProcessShaderChain
	// before a successful InitShaderChain.
	ErrShaderChainNotInitialized = errors.New("upconv: shader chain not initialized")
)

// Engine is the process-wide façade. Construct one with New and share it
// across every request, exactly as the underlying Session expects.
type Engine struct {
	logger  *zap.SugaredLogger
	sess    *session.Session
	chain   *shaderchain.Chain
	renderer shaderchain.Renderer
}

// New constructs an Engine. logger may be nil. fs may be nil (defaults to
// the OS filesystem). backendFactory builds the real inference backend and
// is invoked at most once for the process lifetime. The shader-chain
// renderer is not built here: InitShaderChain takes it as an argument (a
// fresh chain reuses the renderer's texture cache across calls only if the
// caller passes the same renderer instance).
func New(logger *zap.Logger, fs afero.Fs, backendFactory func() infer.Backend) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger: logger.Sugar(),
		sess:   session.New(logger, fs, backendFactory),
	}
}

// Init resolves and loads a model. It returns StatusOK/StatusFailure
// alongside the underlying error for callers that want detail.
func (e *Engine) Init(family catalog.Family, modelDir string, noise, scale, tileSleepMs int) (StatusCode, error) {
	cfg := session.Config{
		Family:      family,
		Noise:       noise,
		Scale:       scale,
		ModelDir:    modelDir,
		TileSleepMs: tileSleepMs,
	}
	if err := e.sess.Init(cfg); err != nil {
		e.logger.Warnw("init failed", "error", err)
		return StatusFailure, err
	}
	return StatusOK, nil
}

// Destroy disposes the loaded model. The process-wide GPU instance itself
// is never torn down.
func (e *Engine) Destroy() {
	e.sess.Destroy()
}

// Process runs one request. outBuffer must hold a W*scale x H*scale RGBA8
// image at outStride, scale being whatever Init last resolved; every row of
// that canvas is written on success, none left zero-filled. On
// NotInitialized or UnsupportedPixelFormat -- failures that indicate the
// request could not begin at all -- the caller's original input is copied
// into output unchanged (spec §7's "the caller's original input is returned
// on any fatal failure so the UI never sees a black output"), provided
// output is at least as large as input. Aborted and per-tile inference
// failures do not get this treatment: the request has already begun
// writing to output.
func (e *Engine) Process(id int32, inputBytes []byte, w, h, inStride int, outBuffer []byte, outStride int) (StatusCode, error) {
	if inStride < w*imagebuf.BytesPerPixel {
		passthrough(inputBytes, outBuffer, h, inStride, outStride)
		return StatusFailure, ErrUnsupportedPixelFormat
	}

	scale := e.sess.Scale()
	if scale <= 0 {
		// No model loaded yet; Process below fails with ErrNotInitialized
		// before touching output, so this placeholder dimension is never
		// used to address outBuffer.
		scale = 1
	}

	input := imagebuf.NewPacked(inputBytes, inStride, w, h)
	output := imagebuf.NewPacked(outBuffer, outStride, w*scale, h*scale)
	err := e.sess.Process(id, input, output)
	switch {
	case err == nil:
		return StatusOK, nil
	case errors.Is(err, session.ErrNotInitialized):
		passthrough(inputBytes, outBuffer, h, inStride, outStride)
		return StatusFailure, err
	default:
		return StatusFailure, err
	}
}

// passthrough copies h rows of min(inStride, outStride) bytes each from
// input to output, best effort: it does nothing if either buffer is too
// small to hold the rows it claims to have.
func passthrough(input, output []byte, h, inStride, outStride int) {
	rowBytes := inStride
	if outStride < rowBytes {
		rowBytes = outStride
	}
	if rowBytes <= 0 || len(input) < inStride*h || len(output) < outStride*h {
		return
	}
	for y := 0; y < h; y++ {
		srcOff := y * inStride
		dstOff := y * outStride
		copy(output[dstOff:dstOff+rowBytes], input[srcOff:srcOff+rowBytes])
	}
}

// GetProgress returns the packed (currentID, progress) value described in
// spec §6.
func (e *Engine) GetProgress() int64 {
	return e.sess.GetProgress()
}

// SetUIBusy records host UI busy state alongside progress.
func (e *Engine) SetUIBusy(busy bool) {
	e.sess.SetUIBusy(busy)
}

// UpdatePerformanceConfig changes the thermal-governor sleep and tile size
// used by subsequent requests.
func (e *Engine) UpdatePerformanceConfig(tileSleepMs, tileSize int) {
	e.sess.UpdatePerformanceConfig(tileSleepMs, tileSize)
}

// Abort requests the in-flight request, if any, exit at its next abort
// check.
func (e *Engine) Abort() {
	e.sess.Abort()
}

// InitShaderChain parses and compiles sources into a Chain on renderer.
// renderer is typically shaderchain/native.New() in production and
// shaderchain/fake.New() in tests.
func (e *Engine) InitShaderChain(renderer shaderchain.Renderer, sources, names []string) (StatusCode, error) {
	chain, err := shaderchain.Load(renderer, sources, names)
	if err != nil {
		e.logger.Warnw("shader chain init failed", "error", err)
		return StatusFailure, err
	}
	e.renderer = renderer
	e.chain = chain
	return StatusOK, nil
}

// ProcessShaderChain runs the loaded chain over inputBytes and returns the
// resulting pixels plus their dimensions.
func (e *Engine) ProcessShaderChain(inputBytes []byte, w, h int) ([]byte, int, int, StatusCode, error) {
	if e.chain == nil {
		return nil, 0, 0, StatusFailure, ErrShaderChainNotInitialized
	}
	out, outW, outH, err := e.chain.Process(inputBytes, w, h)
	if err != nil {
		return nil, 0, 0, StatusFailure, err
	}
	return out, outW, outH, StatusOK, nil
}
