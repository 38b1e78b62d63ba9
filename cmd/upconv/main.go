// Command upconv is a developer harness for the tiled super-resolution
// engine: it decodes a PNG, runs it through Engine.Process, and writes the
// upscaled result back out. It stands in for the mobile host binding
// during local testing and golden-image regression, the way caire's own
// cmd/caire stands in for that library's callers.
package main

import (
	"fmt"
	"image"
	"image/png"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/nekoscale/upconv"
	"github.com/nekoscale/upconv/catalog"
	"github.com/nekoscale/upconv/imagebuf"
	"github.com/nekoscale/upconv/infer"
	"github.com/nekoscale/upconv/infer/fake"
	nativeinfer "github.com/nekoscale/upconv/infer/native"
	"github.com/nekoscale/upconv/internal/metrics"
)

const pipeName = "-"

var (
	inPath      string
	outPath     string
	modelDir    string
	family      string
	noise       int
	scale       int
	tileSleepMs int
	useNative   bool
	metricsAddr string
)

func main() {
	root := &cobra.Command{
		Use:   "upconv",
		Short: "upconv is a tiled super-resolution processing harness.",
	}
	root.PersistentFlags().StringVar(&inPath, "in", pipeName, "source PNG (- for stdin)")
	root.PersistentFlags().StringVar(&outPath, "out", pipeName, "destination PNG (- for stdout)")
	root.PersistentFlags().StringVar(&modelDir, "model-dir", "models", "directory containing weight files")
	root.PersistentFlags().StringVar(&family, "family", "real-esrgan", "model family: waifu2x-cunet|upconv7|real-cugan|real-esrgan|nose")
	root.PersistentFlags().IntVar(&noise, "noise", 0, "denoise level")
	root.PersistentFlags().IntVar(&scale, "scale", 2, "upscale factor")
	root.PersistentFlags().IntVar(&tileSleepMs, "tile-sleep-ms", 0, "thermal-governor sleep between tiles")
	root.PersistentFlags().BoolVar(&useNative, "native", false, "use the cgo ncnn backend instead of the in-memory fake")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")

	root.RunE = func(cmd *cobra.Command, args []string) error {
		return run()
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseFamily(s string) (catalog.Family, error) {
	switch s {
	case "waifu2x-cunet":
		return catalog.Waifu2xCunet, nil
	case "upconv7":
		return catalog.UpConv7, nil
	case "real-cugan":
		return catalog.RealCUGAN, nil
	case "real-esrgan":
		return catalog.RealESRGAN, nil
	case "nose":
		return catalog.Nose, nil
	default:
		return 0, fmt.Errorf("unknown family %q", s)
	}
}

func run() error {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if metricsAddr != "" {
		registry := prometheus.NewRegistry()
		metrics.Register(registry)
		go func() {
			http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(metricsAddr, nil); err != nil {
				logger.Error("metrics server exited", zap.Error(err))
			}
		}()
	}

	fam, err := parseFamily(family)
	if err != nil {
		return err
	}

	backendFactory := func() infer.Backend {
		if useNative {
			b, err := nativeinfer.New(infer.DefaultOption())
			if err != nil {
				logger.Warn("native backend init failed, falling back to fake", zap.Error(err))
				return fake.New()
			}
			return b
		}
		return fake.New()
	}

	engine := upconv.New(logger, nil, backendFactory)
	if status, err := engine.Init(fam, modelDir, noise, scale, tileSleepMs); status != upconv.StatusOK {
		return fmt.Errorf("init failed: %w", err)
	}
	defer engine.Destroy()

	if inPath != pipeName {
		if ct, err := sniffContentType(inPath); err == nil && ct != "image/png" {
			fmt.Fprintln(os.Stderr, decorateText(fmt.Sprintf("warning: %s looks like %s, not image/png", inPath, ct), msgStatus))
		}
	}

	src, err := openInput(inPath)
	if err != nil {
		return err
	}
	defer src.Close()

	img, err := png.Decode(src)
	if err != nil {
		return fmt.Errorf("decode input: %w", err)
	}

	inRGBA := toRGBA(img)
	w, h := inRGBA.Bounds().Dx(), inRGBA.Bounds().Dy()
	inStride := inRGBA.Stride

	outW, outH := w*scale, h*scale
	outStride := outW * imagebuf.BytesPerPixel
	outBuf := make([]byte, outStride*outH)

	spinnerText := decorateText("upconv ", msgStatus) + decorateText("is upscaling the image... ", msgPlain)
	sp := newSpinner(spinnerText, 200*time.Millisecond)
	sp.Start()
	start := time.Now()
	status, err := engine.Process(1, inRGBA.Pix, w, h, inStride, outBuf, outStride)
	elapsed := time.Since(start)
	sp.Stop()
	if status != upconv.StatusOK {
		return fmt.Errorf("process failed: %w", err)
	}
	fmt.Fprintln(os.Stderr, decorateText(fmt.Sprintf("done in %s", formatElapsed(elapsed)), msgOK))

	dst, err := openOutput(outPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	outImg := &image.RGBA{Pix: outBuf, Stride: outStride, Rect: image.Rect(0, 0, outW, outH)}
	return png.Encode(dst, outImg)
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out
}

func openInput(path string) (*os.File, error) {
	if path == pipeName {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, fmt.Errorf("`-` should be used with a pipe for stdin")
		}
		return os.Stdin, nil
	}
	return os.Open(path)
}

func openOutput(path string) (*os.File, error) {
	if path == pipeName {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return nil, fmt.Errorf("`-` should be used with a pipe for stdout")
		}
		return os.Stdout, nil
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}
