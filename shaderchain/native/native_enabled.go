//go:build gles_native && cgo

// Package native wraps a real EGL/GLES3 context for shaderchain.Renderer,
// following anime4k.cpp: a lazily-initialized 1x1 pbuffer surface on the
// default display, GL_RGBA8 textures with GL_LINEAR filtering and
// GL_CLAMP_TO_EDGE wrap, one shared framebuffer object, and a texture
// cache keyed by name that is only reallocated on a size change.
package native

/*
#cgo LDFLAGS: -lEGL -lGLESv3
#include <EGL/egl.h>
#include <GLES3/gl3.h>
#include <stdlib.h>

static const char *kVertexShaderSource =
	"#version 300 es\n"
	"layout(location = 0) in vec2 aPos;\n"
	"layout(location = 1) in vec2 aTexCoord;\n"
	"out vec2 vTexCoord;\n"
	"void main() {\n"
	"    gl_Position = vec4(aPos, 0.0, 1.0);\n"
	"    vTexCoord = aTexCoord;\n"
	"}\n";

static GLuint compileShader(GLenum kind, const char *src) {
	GLuint sh = glCreateShader(kind);
	glShaderSource(sh, 1, &src, NULL);
	glCompileShader(sh);
	return sh;
}

static GLuint linkProgram(const char *fragSrc) {
	GLuint vs = compileShader(GL_VERTEX_SHADER, kVertexShaderSource);
	GLuint fs = compileShader(GL_FRAGMENT_SHADER, fragSrc);
	GLuint prog = glCreateProgram();
	glAttachShader(prog, vs);
	glAttachShader(prog, fs);
	glLinkProgram(prog);
	glDeleteShader(vs);
	glDeleteShader(fs);
	return prog;
}
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/nekoscale/upconv/shaderchain"
)

type cachedTexture struct {
	id   C.GLuint
	w, h int
}

// Renderer owns one EGL context and its texture cache. Init happens on
// first use, never per-chain; Close tears the context down entirely and
// should only be called at process shutdown.
type Renderer struct {
	mu sync.Mutex

	display C.EGLDisplay
	surface C.EGLSurface
	context C.EGLContext

	fbo      C.GLuint
	quadVAO  C.GLuint
	quadVBO  C.GLuint
	textures map[string]cachedTexture

	initialized bool
}

// New returns a Renderer whose EGL context is created lazily on first
// Compile/UploadTexture call.
func New() *Renderer {
	return &Renderer{textures: make(map[string]cachedTexture)}
}

func (r *Renderer) ensureEGL() error {
	if r.initialized {
		return nil
	}

	r.display = C.eglGetDisplay(C.EGL_DEFAULT_DISPLAY)
	if r.display == C.EGL_NO_DISPLAY {
		return errors.New("native: eglGetDisplay failed")
	}
	if C.eglInitialize(r.display, nil, nil) == C.EGL_FALSE {
		return errors.New("native: eglInitialize failed")
	}

	configAttribs := []C.EGLint{
		C.EGL_RENDERABLE_TYPE, C.EGL_OPENGL_ES3_BIT,
		C.EGL_SURFACE_TYPE, C.EGL_PBUFFER_BIT,
		C.EGL_RED_SIZE, 8,
		C.EGL_GREEN_SIZE, 8,
		C.EGL_BLUE_SIZE, 8,
		C.EGL_ALPHA_SIZE, 8,
		C.EGL_NONE,
	}
	var config C.EGLConfig
	var numConfigs C.EGLint
	if C.eglChooseConfig(r.display, &configAttribs[0], &config, 1, &numConfigs) == C.EGL_FALSE || numConfigs == 0 {
		return errors.New("native: eglChooseConfig failed")
	}

	pbufferAttribs := []C.EGLint{C.EGL_WIDTH, 1, C.EGL_HEIGHT, 1, C.EGL_NONE}
	r.surface = C.eglCreatePbufferSurface(r.display, config, &pbufferAttribs[0])
	if r.surface == C.EGL_NO_SURFACE {
		return errors.New("native: eglCreatePbufferSurface failed")
	}

	contextAttribs := []C.EGLint{C.EGL_CONTEXT_CLIENT_VERSION, 3, C.EGL_NONE}
	r.context = C.eglCreateContext(r.display, config, C.EGL_NO_CONTEXT, &contextAttribs[0])
	if r.context == C.EGL_NO_CONTEXT {
		return errors.New("native: eglCreateContext failed")
	}

	if C.eglMakeCurrent(r.display, r.surface, r.surface, r.context) == C.EGL_FALSE {
		return errors.New("native: eglMakeCurrent failed")
	}

	r.setupQuad()
	C.glGenFramebuffers(1, &r.fbo)
	r.initialized = true
	return nil
}

func (r *Renderer) setupQuad() {
	vertices := []C.GLfloat{
		-1, 1, 0, 1,
		-1, -1, 0, 0,
		1, 1, 1, 1,
		1, -1, 1, 0,
	}
	C.glGenVertexArrays(1, &r.quadVAO)
	C.glGenBuffers(1, &r.quadVBO)
	C.glBindVertexArray(r.quadVAO)
	C.glBindBuffer(C.GL_ARRAY_BUFFER, r.quadVBO)
	C.glBufferData(C.GL_ARRAY_BUFFER, C.GLsizeiptr(len(vertices)*4), unsafe.Pointer(&vertices[0]), C.GL_STATIC_DRAW)
	C.glVertexAttribPointer(0, 2, C.GL_FLOAT, C.GL_FALSE, 4*4, unsafe.Pointer(uintptr(0)))
	C.glEnableVertexAttribArray(0)
	C.glVertexAttribPointer(1, 2, C.GL_FLOAT, C.GL_FALSE, 4*4, unsafe.Pointer(uintptr(2*4)))
	C.glEnableVertexAttribArray(1)
}

// Compile links p.Source against the fixed vertex shader and returns a
// CompiledPass carrying the GL program name.
func (r *Renderer) Compile(p shaderchain.Pass) (shaderchain.CompiledPass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureEGL(); err != nil {
		return shaderchain.CompiledPass{}, err
	}

	cSrc := C.CString(p.Source)
	defer C.free(unsafe.Pointer(cSrc))

	prog := C.linkProgram(cSrc)
	var status C.GLint
	C.glGetProgramiv(prog, C.GL_LINK_STATUS, &status)
	if status == 0 {
		return shaderchain.CompiledPass{}, errors.Errorf("native: link failed for pass %q", p.SaveTarget)
	}

	return shaderchain.CompiledPass{Pass: p, Program: uintptr(prog)}, nil
}

func (r *Renderer) getOrCreateTexture(name string, w, h int) C.GLuint {
	if t, ok := r.textures[name]; ok && t.w == w && t.h == h {
		return t.id
	}
	if t, ok := r.textures[name]; ok {
		C.glDeleteTextures(1, &t.id)
	}

	var tex C.GLuint
	C.glGenTextures(1, &tex)
	C.glBindTexture(C.GL_TEXTURE_2D, tex)
	C.glTexImage2D(C.GL_TEXTURE_2D, 0, C.GL_RGBA8, C.GLsizei(w), C.GLsizei(h), 0, C.GL_RGBA, C.GL_UNSIGNED_BYTE, nil)
	C.glTexParameteri(C.GL_TEXTURE_2D, C.GL_TEXTURE_MIN_FILTER, C.GL_LINEAR)
	C.glTexParameteri(C.GL_TEXTURE_2D, C.GL_TEXTURE_MAG_FILTER, C.GL_LINEAR)
	C.glTexParameteri(C.GL_TEXTURE_2D, C.GL_TEXTURE_WRAP_S, C.GL_CLAMP_TO_EDGE)
	C.glTexParameteri(C.GL_TEXTURE_2D, C.GL_TEXTURE_WRAP_T, C.GL_CLAMP_TO_EDGE)
	r.textures[name] = cachedTexture{id: tex, w: w, h: h}
	return tex
}

func (r *Renderer) UploadTexture(name string, w, h int, rgba []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureEGL(); err != nil {
		return err
	}
	tex := r.getOrCreateTexture(name, w, h)
	C.glBindTexture(C.GL_TEXTURE_2D, tex)
	C.glTexSubImage2D(C.GL_TEXTURE_2D, 0, 0, 0, C.GLsizei(w), C.GLsizei(h), C.GL_RGBA, C.GL_UNSIGNED_BYTE, unsafe.Pointer(&rgba[0]))
	return nil
}

func (r *Renderer) EnsureTarget(name string, w, h int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureEGL(); err != nil {
		return err
	}
	r.getOrCreateTexture(name, w, h)
	return nil
}

func (r *Renderer) RunPass(p shaderchain.CompiledPass) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dst, ok := r.textures[p.SaveTarget]
	if !ok {
		return errors.Errorf("native: unknown save target %q", p.SaveTarget)
	}

	C.glBindFramebuffer(C.GL_FRAMEBUFFER, r.fbo)
	C.glFramebufferTexture2D(C.GL_FRAMEBUFFER, C.GL_COLOR_ATTACHMENT0, C.GL_TEXTURE_2D, dst.id, 0)
	C.glViewport(0, 0, C.GLsizei(dst.w), C.GLsizei(dst.h))
	C.glUseProgram(C.GLuint(p.Program))

	for j, bname := range p.BindTargets {
		bt, ok := r.textures[bname]
		if !ok {
			return errors.Errorf("native: unknown bind target %q", bname)
		}
		C.glActiveTexture(C.GL_TEXTURE0 + C.GLenum(j))
		C.glBindTexture(C.GL_TEXTURE_2D, bt.id)

		cName := C.CString(bname + "_tex")
		loc := C.glGetUniformLocation(C.GLuint(p.Program), (*C.GLchar)(unsafe.Pointer(cName)))
		C.glUniform1i(loc, C.GLint(j))
		C.free(unsafe.Pointer(cName))

		cSizeName := C.CString(bname + "_size")
		sizeLoc := C.glGetUniformLocation(C.GLuint(p.Program), (*C.GLchar)(unsafe.Pointer(cSizeName)))
		C.glUniform2f(sizeLoc, C.GLfloat(bt.w), C.GLfloat(bt.h))
		C.free(unsafe.Pointer(cSizeName))
	}

	C.glBindVertexArray(r.quadVAO)
	C.glDrawArrays(C.GL_TRIANGLE_STRIP, 0, 4)
	return nil
}

func (r *Renderer) ReadPixels(name string, w, h int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.textures[name]
	if !ok || t.w != w || t.h != h {
		return nil, errors.Errorf("native: texture %q not %dx%d", name, w, h)
	}

	out := make([]byte, w*h*4)
	C.glReadPixels(0, 0, C.GLsizei(w), C.GLsizei(h), C.GL_RGBA, C.GL_UNSIGNED_BYTE, unsafe.Pointer(&out[0]))
	return out, nil
}

// Close tears the EGL context down entirely. It is only safe to call at
// process shutdown, never between chains.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil
	}
	for _, t := range r.textures {
		id := t.id
		C.glDeleteTextures(1, &id)
	}
	if r.quadVBO != 0 {
		C.glDeleteBuffers(1, &r.quadVBO)
	}
	if r.quadVAO != 0 {
		C.glDeleteVertexArrays(1, &r.quadVAO)
	}
	C.eglDestroyContext(r.display, r.context)
	C.eglDestroySurface(r.display, r.surface)
	C.eglTerminate(r.display)
	r.initialized = false
	return nil
}
