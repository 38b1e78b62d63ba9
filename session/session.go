// Package session implements the process-wide SessionManager and the
// two-stage GPU/CPU PipelineExecutor it serializes requests through: one
// loaded model, a mutual-exclusion lock that a request holds only for its
// GPU phase, and a handful of lock-free atomics a host binding polls for
// progress and abort control.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/nekoscale/upconv/alphascale"
	"github.com/nekoscale/upconv/catalog"
	"github.com/nekoscale/upconv/colorpipe"
	"github.com/nekoscale/upconv/imagebuf"
	"github.com/nekoscale/upconv/infer"
	"github.com/nekoscale/upconv/internal/metrics"
	"github.com/nekoscale/upconv/tile"
)

// writebackFIFODepth is the bounded queue depth of in-flight write-back
// tasks: at most this many decoded tile outputs are alive at once.
const writebackFIFODepth = 32

// nearEndTileCount is how many trailing tiles skip the thermal-governor
// sleep, so the last few tiles of a request are not artificially slowed
// down right before completion.
const nearEndTileCount = 5

var (
	ErrNotInitialized         = errors.New("session: not initialized")
	ErrAborted                = errors.New("session: aborted")
	ErrUnsupportedPixelFormat = errors.New("session: unsupported pixel format")
	// ErrEmptyTileOutput marks the one backend failure mode that is
	// non-fatal: a tile that decoded to an empty or wrong-channel-count
	// output is skipped and the request continues. Any other backend
	// error fails the whole request.
	ErrEmptyTileOutput = errors.New("session: tile inference produced empty or wrong-channel-count output")
)

// gpuOnce guarantees the GPU-backed inference instance is created exactly
// once for the process lifetime; repeated teardown has been observed to
// stall the driver, so Destroy never resets this.
var (
	gpuOnce    sync.Once
	gpuBackend infer.Backend
)

func gpuInstance(factory func() infer.Backend) infer.Backend {
	gpuOnce.Do(func() {
		gpuBackend = factory()
	})
	return gpuBackend
}

// Config configures one Init call.
type Config struct {
	Family      catalog.Family
	Noise       int
	Scale       int
	ModelDir    string
	TileSize    int
	TileSleepMs int

	// DisableGrayscaleCheck skips grayscale detection and collapse
	// entirely, even for a genuinely gray source image.
	DisableGrayscaleCheck bool
	// TTAMode is recognized but unused by the default pipeline: test-time
	// augmentation runs the model eight times on rotated/mirrored inputs
	// and averages, which no component here currently implements.
	TTAMode bool
	// IsSnapdragon hints at a device-specific driver quirk some Adreno
	// GPUs exhibit; the reference engine reads it to pick conservative
	// option flags. No option is currently gated on it in this build.
	IsSnapdragon bool
}

// Session is the process-wide singleton described by spec §3/§4.7. Callers
// construct exactly one Session (typically wrapped by the root Engine) and
// share it across every request.
type Session struct {
	mu     sync.Mutex
	logger *zap.SugaredLogger
	fs     afero.Fs

	backendFactory func() infer.Backend

	// Mutated only while mu is held.
	currentModel          infer.Backend
	entry                 catalog.Entry
	family                catalog.Family
	scale                 int
	noise                 int
	tileSize              int
	prepadding            int
	tileSleepMs           int
	disableGrayscaleCheck bool
	ttaMode               bool
	isSnapdragon          bool

	// Lock-free atomics.
	progress    int32
	currentID   int32
	uiBusy      int32
	shouldAbort atomic.Bool
}

// New constructs a Session. logger may be nil (falls back to a no-op
// logger); fs may be nil (falls back to the OS filesystem); backendFactory
// builds the real inference backend and is invoked at most once for the
// life of the process.
func New(logger *zap.Logger, fs afero.Fs, backendFactory func() infer.Backend) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Session{
		logger:         logger.Sugar(),
		fs:             fs,
		backendFactory: backendFactory,
		tileSize:       128,
	}
}

// Init resolves and loads a model, replacing any previously loaded one.
// Following §4.7: shouldAbort is set before lock acquisition so a request
// in flight exits at its next abort check, then cleared once this Init
// holds the lock.
func (s *Session) Init(cfg Config) error {
	s.shouldAbort.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shouldAbort.Store(false)

	entry, err := catalog.Resolve(s.fs, cfg.Family, cfg.Noise, cfg.Scale, cfg.ModelDir)
	if err != nil {
		s.logger.Warnw("model resolution failed", "family", cfg.Family, "error", err)
		return errors.Wrap(err, "session: resolve model")
	}

	backend := gpuInstance(s.backendFactory)
	if err := backend.LoadParam(entry.ParamPath); err != nil {
		return errors.Wrap(err, "session: load param")
	}
	if err := backend.LoadModel(entry.BinPath); err != nil {
		return errors.Wrap(err, "session: load model")
	}

	tileSize := cfg.TileSize
	if tileSize <= 0 {
		tileSize = 128
	}

	s.currentModel = backend
	s.entry = entry
	s.family = cfg.Family
	s.scale = cfg.Scale
	s.noise = cfg.Noise
	s.tileSize = tileSize
	s.prepadding = entry.Prepadding
	s.tileSleepMs = cfg.TileSleepMs
	s.disableGrayscaleCheck = cfg.DisableGrayscaleCheck
	s.ttaMode = cfg.TTAMode
	s.isSnapdragon = cfg.IsSnapdragon

	s.logger.Infow("model loaded", "family", cfg.Family, "scale", cfg.Scale, "noise", cfg.Noise)
	return nil
}

// Destroy disposes the loaded model but never tears down the GPU instance
// itself.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentModel = nil
}

// Abort requests the in-flight request (if any) exit at its next abort
// check. It is also called internally by Init.
func (s *Session) Abort() {
	s.shouldAbort.Store(true)
}

// SetUIBusy records whether the host UI is currently busy. The engine
// itself never reads this back; it exists so a host binding can publish
// UI state alongside progress, mirroring the reference engine's write-only
// ui_busy flag.
func (s *Session) SetUIBusy(busy bool) {
	v := int32(0)
	if busy {
		v = 1
	}
	atomic.StoreInt32(&s.uiBusy, v)
}

// UpdatePerformanceConfig changes the thermal-governor sleep and tile size
// used by subsequent requests.
func (s *Session) UpdatePerformanceConfig(tileSleepMs, tileSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tileSleepMs = tileSleepMs
	if tileSize > 0 {
		s.tileSize = tileSize
	}
}

// Scale returns the upscale factor of the currently loaded model, or 0 if
// no model is loaded.
func (s *Session) Scale() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentModel == nil {
		return 0
	}
	return s.scale
}

// GetProgress packs currentID into the high 32 bits and progress into the
// low 32 bits, matching the caller interface of spec §6.
func (s *Session) GetProgress() int64 {
	id := atomic.LoadInt32(&s.currentID)
	p := atomic.LoadInt32(&s.progress)
	return int64(id)<<32 | int64(uint32(p))
}

// Process runs one request end to end. It acquires the session lock, and
// the PipelineExecutor it drives releases that lock as soon as all GPU
// work for this request has been submitted -- Process itself does not
// return until CPU write-back has also finished, per §4.6's contract.
func (s *Session) Process(id int32, input, output imagebuf.Packed) error {
	s.mu.Lock()
	guard := newLockGuard(&s.mu)
	defer guard.Release()

	atomic.StoreInt32(&s.currentID, id)

	if s.currentModel == nil {
		return ErrNotInitialized
	}

	exec := &pipelineExecutor{session: s}
	return exec.run(guard, input, output)
}

// pipelineExecutor is the per-request orchestrator: preprocess, tile,
// submit to the GPU in row-major order, and fan the results out to a
// bounded pool of CPU write-back tasks.
type pipelineExecutor struct {
	session *Session
}

func (e *pipelineExecutor) run(guard *lockGuard, input, output imagebuf.Packed) error {
	s := e.session

	start := time.Now()
	outcome := "ok"
	defer func() {
		metrics.ObserveRequest(outcome, time.Since(start).Seconds())
	}()

	pre := colorpipe.Preprocess(input, s.disableGrayscaleCheck)
	defer pre.Planar.Release()

	alpha, err := alphascale.Scale(input, s.scale, s.currentModel)
	if err != nil {
		outcome = "error"
		return errors.Wrap(err, "session: alpha scale")
	}
	defer alpha.Release()

	padded := tile.PadReplicate(pre.Planar, s.prepadding)
	if padded != pre.Planar {
		defer padded.Release()
	}

	tiler := tile.New(input.W, input.H, s.tileSize, s.prepadding)
	grid := tiler.Grid()
	total := len(grid)

	sem := semaphore.NewWeighted(writebackFIFODepth)
	var wg sync.WaitGroup
	var queueDepth int32
	ctx := context.Background()

	aborted := false
	for i, spec := range grid {
		padTile := tiler.ExtractPaddedTile(padded, spec)
		modelOut, err := e.infer(padTile)
		padTile.Release()

		atomic.StoreInt32(&s.progress, int32((i*99)/total+1))

		if err != nil {
			metrics.IncTileInferenceFailures()
			if !errors.Is(err, ErrEmptyTileOutput) {
				s.logger.Errorw("tile inference failed, aborting request", "tile", i, "error", err)
				guard.Release()
				wg.Wait()
				outcome = "error"
				return errors.Wrap(err, "session: tile inference")
			}
			s.logger.Warnw("tile inference produced empty output, skipping", "tile", i, "error", err)
		} else {
			if err := sem.Acquire(ctx, 1); err != nil {
				modelOut.Release()
				outcome = "error"
				return errors.Wrap(err, "session: writeback backpressure")
			}
			metrics.IncTilesProcessed()
			metrics.SetWritebackQueueDepth(int(atomic.AddInt32(&queueDepth, 1)))

			wg.Add(1)
			go func(i int, spec tile.Spec, modelOut *imagebuf.Planar) {
				defer wg.Done()
				defer sem.Release(1)
				defer modelOut.Release()
				defer metrics.SetWritebackQueueDepth(int(atomic.AddInt32(&queueDepth, -1)))

				colorpipe.WriteTile(output, spec, s.scale, s.prepadding, modelOut, alpha, pre.Grayscale)
				atomic.StoreInt32(&s.progress, int32((i+1)*99/total))
			}(i, spec, modelOut)
		}

		if s.shouldAbort.Load() {
			aborted = true
			break
		}

		if s.tileSleepMs > 0 && i < total-nearEndTileCount {
			time.Sleep(time.Duration(s.tileSleepMs) * time.Millisecond)
		}
	}

	// GPU work for this request is fully submitted; the next request may
	// now begin its own GPU phase while this one's write-backs finish.
	guard.Release()

	wg.Wait()

	if aborted {
		outcome = "aborted"
		return ErrAborted
	}

	atomic.StoreInt32(&s.progress, 100)
	return nil
}

// infer runs one forward pass on a fresh, light-mode extractor, per §4.6:
// "the extractor is created per-tile in light mode... input binding uses
// the model's first declared input; output is taken from the last
// declared output." Only an empty or wrong-channel-count result
// (ErrEmptyTileOutput) is a non-fatal, skip-this-tile condition; every
// other error here (extractor creation, input binding, extraction itself)
// is a fatal backend error that fails the whole request.
func (e *pipelineExecutor) infer(padTile *imagebuf.Planar) (*imagebuf.Planar, error) {
	ex, err := e.session.currentModel.CreateExtractor()
	if err != nil {
		return nil, errors.Wrap(err, "create extractor")
	}
	defer ex.Close()

	in := infer.Mat{W: padTile.W, H: padTile.H, C: padTile.Channels, Data: planarToMatData(padTile)}
	if err := ex.Input(0, in); err != nil {
		return nil, errors.Wrap(err, "bind input")
	}

	out, err := ex.Extract(0)
	if err != nil {
		return nil, errors.Wrap(err, "extract output")
	}
	if len(out.Data) == 0 || out.C != padTile.Channels {
		return nil, ErrEmptyTileOutput
	}

	result := imagebuf.NewPlanar(out.W, out.H, out.C)
	copy(result.Raw(), out.Data)
	return result, nil
}

// planarToMatData flattens a Planar's channel-major layout into the flat
// slice infer.Mat expects; both use the same (channel, row, col) ordering
// so this is a straight copy, not a transpose.
func planarToMatData(p *imagebuf.Planar) []float32 {
	data := make([]float32, len(p.Raw()))
	copy(data, p.Raw())
	return data
}
