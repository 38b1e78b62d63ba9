// Package catalog resolves a (family, noise, scale) triple into the pair of
// weight files a model family expects on disk, plus the per-family
// hyper-parameters (tile pre-padding, supported scales) the rest of the
// pipeline needs before it can build a Tiler or InferenceBackend.
package catalog

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Family enumerates the model architectures the engine knows how to load.
type Family int

const (
	Waifu2xCunet Family = iota
	UpConv7
	RealCUGAN
	RealESRGAN
	Nose
)

func (f Family) String() string {
	switch f {
	case Waifu2xCunet:
		return "waifu2x-cunet"
	case UpConv7:
		return "upconv7"
	case RealCUGAN:
		return "real-cugan"
	case RealESRGAN:
		return "real-esrgan"
	case Nose:
		return "nose"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// ErrModelNotFound is returned when the resolved param or bin file does not
// exist under modelDir.
var ErrModelNotFound = errors.New("catalog: model file not found")

// Entry is the resolved location and hyper-parameters for one loadable model.
type Entry struct {
	ParamPath       string
	BinPath         string
	Prepadding      int
	SupportedScales []int
}

// realCUGANNoiseNames maps the noise level to a Real-CUGAN filename variant.
// Noise levels outside this map fall back to "no-denoise", matching the
// original engine's switch-default.
var realCUGANNoiseNames = map[int]string{
	0: "no-denoise",
	1: "denoise1x",
	2: "denoise2x",
	3: "denoise3x",
	4: "conservative",
}

// Resolve maps (family, noise, scale, modelDir) to concrete weight file
// paths and hyper-parameters, verifying both files exist on fs. Pass
// afero.NewOsFs() in production; tests can substitute afero.NewMemMapFs().
func Resolve(fs afero.Fs, family Family, noise, scale int, modelDir string) (Entry, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	var (
		paramFile, binFile string
		entry              Entry
	)

	switch family {
	case Waifu2xCunet:
		entry.Prepadding = 18
		entry.SupportedScales = []int{1, 2}
		switch {
		case noise == -1:
			paramFile, binFile = "scale2.0x_model.param", "scale2.0x_model.bin"
		case scale == 1:
			paramFile = fmt.Sprintf("noise%d_model.param", noise)
			binFile = fmt.Sprintf("noise%d_model.bin", noise)
		default:
			paramFile = fmt.Sprintf("noise%d_scale2.0x_model.param", noise)
			binFile = fmt.Sprintf("noise%d_scale2.0x_model.bin", noise)
		}

	case UpConv7:
		entry.Prepadding = 7
		entry.SupportedScales = []int{2}
		paramFile = fmt.Sprintf("noise%d_scale2.0x_model.param", noise)
		binFile = fmt.Sprintf("noise%d_scale2.0x_model.bin", noise)

	case RealCUGAN:
		entry.SupportedScales = []int{2, 3, 4}
		switch scale {
		case 2:
			entry.Prepadding = 18
		case 3:
			entry.Prepadding = 14
		case 4:
			entry.Prepadding = 19
		default:
			entry.Prepadding = 18
		}

		variant, ok := realCUGANNoiseNames[noise]
		if !ok {
			variant = "no-denoise"
		}
		// 3x/4x models only ship no-denoise, denoise3x and conservative;
		// denoise1x/denoise2x are promoted to denoise3x for those scales.
		if scale > 2 && noise > 0 && noise < 3 {
			variant = "denoise3x"
		}
		paramFile = fmt.Sprintf("up%dx-%s.param", scale, variant)
		binFile = fmt.Sprintf("up%dx-%s.bin", scale, variant)

	case RealESRGAN:
		entry.Prepadding = 10
		entry.SupportedScales = []int{scale}
		paramFile = fmt.Sprintf("x%d.param", scale)
		binFile = fmt.Sprintf("x%d.bin", scale)

	case Nose:
		entry.Prepadding = 18
		entry.SupportedScales = []int{2}
		paramFile, binFile = "up2x-no-denoise.param", "up2x-no-denoise.bin"

	default:
		return Entry{}, errors.Errorf("catalog: unknown family %v", family)
	}

	entry.ParamPath = joinModelPath(modelDir, paramFile)
	entry.BinPath = joinModelPath(modelDir, binFile)

	for _, path := range []string{entry.ParamPath, entry.BinPath} {
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return Entry{}, errors.Wrapf(err, "catalog: checking %s", path)
		}
		if !exists {
			return Entry{}, errors.Wrapf(ErrModelNotFound, "family=%s noise=%d scale=%d path=%s", family, noise, scale, path)
		}
	}

	return entry, nil
}

func joinModelPath(dir, file string) string {
	if dir == "" {
		return file
	}
	if dir[len(dir)-1] == '/' {
		return dir + file
	}
	return dir + "/" + file
}
