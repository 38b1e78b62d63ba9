// Package fake provides an in-memory shaderchain.Renderer used by
// directive-parser and pass-assembly tests: it never touches a real GPU,
// approximating each pass with a Catmull-Rom texture resample so output
// dimensions (and simple per-channel effects) can be asserted.
package fake

import (
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"

	"github.com/pkg/errors"

	"github.com/nekoscale/upconv/shaderchain"
)

type texture struct {
	w, h int
	rgba []byte
}

// Renderer is a deterministic, GPU-free stand-in for the GLES3/EGL
// renderer.
type Renderer struct {
	textures map[string]texture
	closed   bool
}

// New returns a ready-to-use fake renderer.
func New() *Renderer {
	return &Renderer{textures: make(map[string]texture)}
}

func (r *Renderer) Compile(p shaderchain.Pass) (shaderchain.CompiledPass, error) {
	if p.SaveTarget == "" {
		return shaderchain.CompiledPass{}, errors.New("fake: pass has no save target")
	}
	return shaderchain.CompiledPass{Pass: p}, nil
}

func (r *Renderer) UploadTexture(name string, w, h int, rgba []byte) error {
	buf := make([]byte, len(rgba))
	copy(buf, rgba)
	r.textures[name] = texture{w: w, h: h, rgba: buf}
	return nil
}

func (r *Renderer) EnsureTarget(name string, w, h int) error {
	if t, ok := r.textures[name]; ok && t.w == w && t.h == h {
		return nil
	}
	r.textures[name] = texture{w: w, h: h, rgba: make([]byte, w*h*4)}
	return nil
}

// RunPass renders p into its declared save target by Catmull-Rom
// resampling its first bind target (or leaving the target as-is if it has
// none), a stand-in for actually executing p's fragment program.
func (r *Renderer) RunPass(p shaderchain.CompiledPass) error {
	dst, ok := r.textures[p.SaveTarget]
	if !ok {
		return errors.Errorf("fake: unknown save target %q", p.SaveTarget)
	}

	if len(p.BindTargets) == 0 {
		r.textures[p.SaveTarget] = dst
		return nil
	}

	src, ok := r.textures[p.BindTargets[0]]
	if !ok {
		return errors.Errorf("fake: unknown bind target %q", p.BindTargets[0])
	}

	srcImg := &image.RGBA{Pix: src.rgba, Stride: src.w * 4, Rect: image.Rect(0, 0, src.w, src.h)}
	dstImg := &image.RGBA{Pix: dst.rgba, Stride: dst.w * 4, Rect: image.Rect(0, 0, dst.w, dst.h)}
	xdraw.CatmullRom.Scale(dstImg, dstImg.Rect, srcImg, srcImg.Rect, draw.Src, nil)

	r.textures[p.SaveTarget] = dst
	return nil
}

func (r *Renderer) ReadPixels(name string, w, h int) ([]byte, error) {
	t, ok := r.textures[name]
	if !ok {
		return nil, errors.Errorf("fake: unknown texture %q", name)
	}
	if t.w != w || t.h != h {
		return nil, errors.Errorf("fake: texture %q is %dx%d, want %dx%d", name, t.w, t.h, w, h)
	}
	out := make([]byte, len(t.rgba))
	copy(out, t.rgba)
	return out, nil
}

func (r *Renderer) Close() error {
	r.closed = true
	return nil
}
