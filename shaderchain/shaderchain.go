// Package shaderchain implements the Anime4K-style GLSL post-processor:
// a directive parser that turns a handful of shader sources annotated with
// "//!" lines into a Chain of Passes, and a Renderer abstraction over the
// GPU that executes them.
package shaderchain

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// directivePrefixLen is the fixed offset every "//!XXXX" directive's
// argument is sliced from, matching the grounding source's
// line.substr(8) exactly. 8 is the length of "//!DESC ", "//!BIND " and
// "//!SAVE " including the separating space; a directive written without
// that space loses the first character of its argument -- a known
// limitation, not a bug to fix here.
const directivePrefixLen = 8

// Pass is one compiled shader stage: its assembled fragment source, the
// render target it writes to, the named textures it reads (order
// preserved), and its output scale relative to its input size.
type Pass struct {
	Desc          string
	Source        string
	BindTargets   []string
	SaveTarget    string
	ScaleX, ScaleY float64
}

// Parse turns one shader source into a Pass. name is used only for
// diagnostics.
func Parse(name, src string) Pass {
	p := Pass{ScaleX: 1, ScaleY: 1}

	var body strings.Builder
	for _, line := range strings.Split(src, "\n") {
		switch {
		case strings.HasPrefix(line, "//!DESC"):
			p.Desc = safeSuffix(line, directivePrefixLen)
		case strings.HasPrefix(line, "//!BIND"):
			p.BindTargets = append(p.BindTargets, strings.TrimSpace(safeSuffix(line, directivePrefixLen)))
		case strings.HasPrefix(line, "//!SAVE"):
			p.SaveTarget = strings.TrimSpace(safeSuffix(line, directivePrefixLen))
		case strings.HasPrefix(line, "//!WIDTH") && strings.Contains(line, "*"):
			p.ScaleX = 2
		case strings.HasPrefix(line, "//!HEIGHT") && strings.Contains(line, "*"):
			p.ScaleY = 2
		case !strings.HasPrefix(line, "//!"):
			body.WriteString(line)
			body.WriteString("\n")
		}
	}

	p.Source = assemble(p.BindTargets, body.String())
	return p
}

// safeSuffix returns src[n:], or "" if src is shorter than n bytes.
func safeSuffix(src string, n int) string {
	if len(src) <= n {
		return ""
	}
	return src[n:]
}

// assemble prepends the fixed GLSL ES 3.00 header and per-binding uniform
// block, then appends the entry point that calls the shader's hook().
func assemble(bindings []string, body string) string {
	var out strings.Builder
	out.WriteString("#version 300 es\n")
	out.WriteString("precision highp float;\n")
	out.WriteString("in vec2 vTexCoord;\n")
	out.WriteString("out vec4 fragColor;\n")

	for _, b := range bindings {
		out.WriteString("uniform sampler2D " + b + "_tex;\n")
		out.WriteString("uniform vec2 " + b + "_size;\n")
		out.WriteString("#define " + b + "_tex(pos) texture(" + b + "_tex, pos)\n")
		out.WriteString("#define " + b + "_texOff(off) texture(" + b + "_tex, vTexCoord + off / " + b + "_size)\n")
		out.WriteString("#define " + b + "_pos vTexCoord\n")
	}

	out.WriteString(body)
	out.WriteString("\nvoid main() { fragColor = hook(); }\n")
	return out.String()
}

// CompiledPass is a Pass bound to a renderer-side program handle, ready to
// execute.
type CompiledPass struct {
	Pass
	Program uintptr
}

// Renderer is the GLES3/EGL external collaborator: it owns the texture
// cache, framebuffer and shader programs, and is never re-created for the
// life of the process.
type Renderer interface {
	Compile(p Pass) (CompiledPass, error)
	UploadTexture(name string, w, h int, rgba []byte) error
	EnsureTarget(name string, w, h int) error
	RunPass(p CompiledPass) error
	ReadPixels(name string, w, h int) ([]byte, error)
	Close() error
}

// mainTexture is the fixed name the caller-provided input is uploaded
// under.
const mainTexture = "MAIN"

// Chain is one loaded shader-chain: an ordered list of compiled passes
// sharing one Renderer.
type Chain struct {
	renderer Renderer
	passes   []CompiledPass
}

// Load parses and compiles each source in order, in a single renderer
// context. names must be the same length as sources; a name is used only
// for diagnostics on compile failure.
func Load(renderer Renderer, sources, names []string) (*Chain, error) {
	if len(sources) != len(names) {
		return nil, errors.New("shaderchain: sources/names length mismatch")
	}

	c := &Chain{renderer: renderer}
	for i, src := range sources {
		pass := Parse(names[i], src)
		if pass.SaveTarget == "" {
			return nil, errors.Errorf("shaderchain: pass %q has no //!SAVE target", names[i])
		}
		compiled, err := renderer.Compile(pass)
		if err != nil {
			return nil, errors.Wrapf(err, "shaderchain: compile pass %q", names[i])
		}
		c.passes = append(c.passes, compiled)
	}
	return c, nil
}

// OutputSize returns the dimensions Process would produce for a w x h
// input, without running any GPU work.
func (c *Chain) OutputSize(w, h int) (int, int) {
	fw, fh := float64(w), float64(h)
	for _, p := range c.passes {
		fw *= p.ScaleX
		fh *= p.ScaleY
	}
	return int(fw), int(fh)
}

// Process uploads rgba as the MAIN texture at w x h, runs every pass in
// order, and reads back the last pass's output. Textures are cached by
// name in the renderer and only reallocated on a size change.
func (c *Chain) Process(rgba []byte, w, h int) ([]byte, int, int, error) {
	if err := c.renderer.UploadTexture(mainTexture, w, h, rgba); err != nil {
		return nil, 0, 0, errors.Wrap(err, "shaderchain: upload input")
	}

	curW, curH := w, h
	var lastTarget string
	for i, pass := range c.passes {
		nextW := int(float64(curW) * pass.ScaleX)
		nextH := int(float64(curH) * pass.ScaleY)
		if err := c.renderer.EnsureTarget(pass.SaveTarget, nextW, nextH); err != nil {
			return nil, 0, 0, errors.Wrapf(err, "shaderchain: pass %d target", i)
		}
		if err := c.renderer.RunPass(pass); err != nil {
			return nil, 0, 0, errors.Wrapf(err, "shaderchain: pass %d run", i)
		}
		curW, curH = nextW, nextH
		lastTarget = pass.SaveTarget
	}

	if lastTarget == "" {
		return nil, 0, 0, errors.New("shaderchain: chain has no passes")
	}

	out, err := c.renderer.ReadPixels(lastTarget, curW, curH)
	if err != nil {
		return nil, 0, 0, errors.Wrap(err, "shaderchain: read back")
	}
	return out, curW, curH, nil
}

// Close releases the underlying renderer.
func (c *Chain) Close() error {
	return c.renderer.Close()
}

// String is used only in diagnostics; strconv is kept as an explicit
// import rather than fmt.Sprintf to match the small-footprint style of the
// rest of this package.
func (p Pass) String() string {
	return p.Desc + " -> " + p.SaveTarget + " (" + strconv.FormatFloat(p.ScaleX, 'g', -1, 64) + "x, " + strconv.FormatFloat(p.ScaleY, 'g', -1, 64) + "x)"
}
