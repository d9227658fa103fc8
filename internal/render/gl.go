//go:build gl

package render

import (
	"fmt"
	"image"
	"log"
	"runtime"
	"strings"

	"github.com/go-gl/gl/v3.3-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/guidoenr/glyphcast/internal/atlas"
	"github.com/guidoenr/glyphcast/internal/engine"
	"github.com/guidoenr/glyphcast/internal/grid"
	"github.com/guidoenr/glyphcast/internal/shader"
)

func init() {
	// GLFW and the GL context must stay on the main thread.
	runtime.LockOSThread()
}

// Vertex attribute locations, matching glyph.vert.
const (
	attrPos        = 0
	attrUV         = 1
	attrModel      = 2 // four vec4 columns, 2..5
	attrBrightness = 6
	attrGlyph      = 7
)

// GL draws every cell with one glDrawArraysInstanced call.
type GL struct {
	window *glfw.Window
	log    *log.Logger

	program  uint32
	vao      uint32
	quadVBO  uint32
	modelVBO uint32
	brightVB uint32
	glyphVBO uint32
	texture  uint32

	atlasGen  uint64
	gridGen   uint64
	instances int

	loc struct {
		charsPerRow, treble, time, scale int32
		atlas, color, spectrum, scan     int32
	}

	last    engine.DrawCall
	hasLast bool
	title   string
}

// NewGL opens a window with a 3.3 core context and builds the program.
// It must be called from the main goroutine.
func NewGL(w, h int, title string, logger *log.Logger) (*GL, error) {
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("glfw init: %w", err)
	}
	glfw.WindowHint(glfw.ContextVersionMajor, 3)
	glfw.WindowHint(glfw.ContextVersionMinor, 3)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)

	window, err := glfw.CreateWindow(w, h, title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("create window: %w", err)
	}
	window.MakeContextCurrent()
	glfw.SwapInterval(1)

	if err := gl.Init(); err != nil {
		window.Destroy()
		glfw.Terminate()
		return nil, fmt.Errorf("gl init: %w", err)
	}

	g := &GL{window: window, log: logger, title: title}
	if err := g.setup(); err != nil {
		g.Close()
		return nil, err
	}
	if g.log != nil {
		g.log.Printf("opengl %s", gl.GoStr(gl.GetString(gl.VERSION)))
	}
	return g, nil
}

func (g *GL) setup() error {
	program, err := newProgram(shader.VertexSource, shader.FragmentSource)
	if err != nil {
		return err
	}
	g.program = program
	uniform := func(name string) int32 {
		return gl.GetUniformLocation(program, gl.Str(name+"\x00"))
	}
	g.loc.charsPerRow = uniform("uCharsPerRow")
	g.loc.treble = uniform("uTreble")
	g.loc.time = uniform("uTime")
	g.loc.scale = uniform("uScale")
	g.loc.atlas = uniform("uAtlas")
	g.loc.color = uniform("uColor")
	g.loc.spectrum = uniform("uSpectrum")
	g.loc.scan = uniform("uScanlines")

	gl.GenVertexArrays(1, &g.vao)
	gl.BindVertexArray(g.vao)

	quad := make([]float32, 0, len(grid.Quad)*4)
	for _, v := range grid.Quad {
		quad = append(quad, v.X, v.Y, v.U, v.V)
	}
	gl.GenBuffers(1, &g.quadVBO)
	gl.BindBuffer(gl.ARRAY_BUFFER, g.quadVBO)
	gl.BufferData(gl.ARRAY_BUFFER, len(quad)*4, gl.Ptr(quad), gl.STATIC_DRAW)
	gl.EnableVertexAttribArray(attrPos)
	gl.VertexAttribPointer(attrPos, 2, gl.FLOAT, false, 4*4, gl.PtrOffset(0))
	gl.EnableVertexAttribArray(attrUV)
	gl.VertexAttribPointer(attrUV, 2, gl.FLOAT, false, 4*4, gl.PtrOffset(2*4))

	gl.GenBuffers(1, &g.modelVBO)
	gl.BindBuffer(gl.ARRAY_BUFFER, g.modelVBO)
	for col := uint32(0); col < 4; col++ {
		gl.EnableVertexAttribArray(attrModel + col)
		gl.VertexAttribPointer(attrModel+col, 4, gl.FLOAT, false, 16*4, gl.PtrOffset(int(col)*4*4))
		gl.VertexAttribDivisor(attrModel+col, 1)
	}

	gl.GenBuffers(1, &g.brightVB)
	gl.BindBuffer(gl.ARRAY_BUFFER, g.brightVB)
	gl.EnableVertexAttribArray(attrBrightness)
	gl.VertexAttribPointer(attrBrightness, 1, gl.FLOAT, false, 4, gl.PtrOffset(0))
	gl.VertexAttribDivisor(attrBrightness, 1)

	gl.GenBuffers(1, &g.glyphVBO)
	gl.BindBuffer(gl.ARRAY_BUFFER, g.glyphVBO)
	gl.EnableVertexAttribArray(attrGlyph)
	gl.VertexAttribPointer(attrGlyph, 1, gl.FLOAT, false, 4, gl.PtrOffset(0))
	gl.VertexAttribDivisor(attrGlyph, 1)

	gl.BindVertexArray(0)
	gl.ClearColor(0, 0, 0, 1)
	return nil
}

// ReleaseAtlas deletes the texture uploaded from a.
func (g *GL) ReleaseAtlas(a *atlas.Atlas) {
	if g.texture == 0 || a.Generation != g.atlasGen {
		return
	}
	gl.DeleteTextures(1, &g.texture)
	g.texture = 0
	g.atlasGen = 0
}

func (g *GL) uploadAtlas(a *atlas.Atlas) {
	if g.texture != 0 && g.atlasGen == a.Generation {
		return
	}
	if g.texture != 0 {
		gl.DeleteTextures(1, &g.texture)
	}
	// GL textures start at the bottom row.
	size := a.Size
	flipped := make([]byte, size*size)
	for y := 0; y < size; y++ {
		copy(flipped[(size-1-y)*size:(size-y)*size], a.Image.Pix[y*a.Image.Stride:y*a.Image.Stride+size])
	}
	gl.GenTextures(1, &g.texture)
	gl.BindTexture(gl.TEXTURE_2D, g.texture)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.R8, int32(size), int32(size), 0, gl.RED, gl.UNSIGNED_BYTE, gl.Ptr(flipped))
	g.atlasGen = a.Generation
}

func (g *GL) uploadInstances(c engine.DrawCall) {
	gr := c.Grid
	if gr.Generation() != g.gridGen || g.instances != gr.Len() {
		gl.BindBuffer(gl.ARRAY_BUFFER, g.modelVBO)
		gl.BufferData(gl.ARRAY_BUFFER, gr.Len()*16*4, gl.Ptr(gr.Transforms), gl.STATIC_DRAW)
		g.gridGen = gr.Generation()
		g.instances = gr.Len()
	}
	if c.Dirty || c.Resized {
		gl.BindBuffer(gl.ARRAY_BUFFER, g.brightVB)
		gl.BufferData(gl.ARRAY_BUFFER, len(gr.Brightness)*4, gl.Ptr(gr.Brightness), gl.DYNAMIC_DRAW)
		gl.BindBuffer(gl.ARRAY_BUFFER, g.glyphVBO)
		gl.BufferData(gl.ARRAY_BUFFER, len(gr.GlyphIndex)*4, gl.Ptr(gr.GlyphIndex), gl.DYNAMIC_DRAW)
	}
}

func (g *GL) render(c engine.DrawCall) {
	fbw, fbh := g.window.GetFramebufferSize()
	gl.Viewport(0, 0, int32(fbw), int32(fbh))
	gl.Clear(gl.COLOR_BUFFER_BIT)
	if c.Atlas == nil || c.Atlas.Image == nil || c.Grid == nil || c.Grid.Len() == 0 {
		return
	}
	g.uploadAtlas(c.Atlas)
	g.uploadInstances(c)

	u := c.Uniforms
	gl.UseProgram(g.program)
	gl.Uniform1f(g.loc.charsPerRow, float32(u.CharsPerRow))
	gl.Uniform1f(g.loc.treble, float32(u.Treble))
	gl.Uniform1f(g.loc.time, float32(u.Time))
	gl.Uniform1f(g.loc.scale, float32(u.Scale))
	gl.Uniform3f(g.loc.color, float32(u.Color[0]), float32(u.Color[1]), float32(u.Color[2]))
	gl.Uniform1f(g.loc.spectrum, boolFloat(u.Spectrum))
	gl.Uniform1f(g.loc.scan, boolFloat(u.Scanlines))
	gl.Uniform1i(g.loc.atlas, 0)
	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_2D, g.texture)

	gl.BindVertexArray(g.vao)
	gl.DrawArraysInstanced(gl.TRIANGLES, 0, int32(len(grid.Quad)), int32(g.instances))
	gl.BindVertexArray(0)
}

// Draw uploads what changed, draws all instances and swaps.
func (g *GL) Draw(c engine.DrawCall) error {
	g.render(c)
	g.last, g.hasLast = c, true
	g.window.SwapBuffers()
	glfw.PollEvents()
	if g.window.ShouldClose() {
		return ErrRendererQuit
	}
	return nil
}

// Snapshot redraws the last call into the back buffer and reads it back.
func (g *GL) Snapshot() (image.Image, error) {
	if !g.hasLast {
		return nil, engine.ErrNoFrame
	}
	g.last.Dirty = false
	g.render(g.last)
	w, h := g.window.GetFramebufferSize()
	raw := make([]byte, w*h*4)
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.ReadPixels(0, 0, int32(w), int32(h), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(raw))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		copy(img.Pix[y*img.Stride:(y+1)*img.Stride], raw[(h-1-y)*w*4:(h-y)*w*4])
	}
	return img, nil
}

// Close frees GL objects and the window.
func (g *GL) Close() error {
	if g.window == nil {
		return nil
	}
	if g.texture != 0 {
		gl.DeleteTextures(1, &g.texture)
	}
	buffers := []uint32{g.quadVBO, g.modelVBO, g.brightVB, g.glyphVBO}
	gl.DeleteBuffers(int32(len(buffers)), &buffers[0])
	gl.DeleteVertexArrays(1, &g.vao)
	if g.program != 0 {
		gl.DeleteProgram(g.program)
	}
	g.window.Destroy()
	g.window = nil
	glfw.Terminate()
	return nil
}

func boolFloat(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

func newProgram(vertSrc, fragSrc string) (uint32, error) {
	vert, err := compileShader(vertSrc, gl.VERTEX_SHADER)
	if err != nil {
		return 0, fmt.Errorf("vertex: %w", err)
	}
	frag, err := compileShader(fragSrc, gl.FRAGMENT_SHADER)
	if err != nil {
		return 0, fmt.Errorf("fragment: %w", err)
	}

	prog := gl.CreateProgram()
	gl.AttachShader(prog, vert)
	gl.AttachShader(prog, frag)
	gl.LinkProgram(prog)

	var status int32
	gl.GetProgramiv(prog, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetProgramiv(prog, gl.INFO_LOG_LENGTH, &logLen)
		msg := strings.Repeat("\x00", int(logLen+1))
		gl.GetProgramInfoLog(prog, logLen, nil, gl.Str(msg))
		return 0, fmt.Errorf("link program: %v", msg)
	}
	gl.DeleteShader(vert)
	gl.DeleteShader(frag)
	return prog, nil
}

func compileShader(src string, shaderType uint32) (uint32, error) {
	sh := gl.CreateShader(shaderType)
	csrc, free := gl.Strs(src + "\x00")
	gl.ShaderSource(sh, 1, csrc, nil)
	free()
	gl.CompileShader(sh)

	var status int32
	gl.GetShaderiv(sh, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetShaderiv(sh, gl.INFO_LOG_LENGTH, &logLen)
		msg := strings.Repeat("\x00", int(logLen+1))
		gl.GetShaderInfoLog(sh, logLen, nil, gl.Str(msg))
		return 0, fmt.Errorf("compile shader: %v", msg)
	}
	return sh, nil
}

// SupportsGL reports whether the OpenGL backend is compiled in.
func SupportsGL() bool { return true }
