// Package glgpu implements gpu.Device on OpenGL 4.1 core. Every call must be
// made on the thread that owns the current GL context.
package glgpu

import (
	"fmt"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/Faultbox/tessera/internal/gpu"
	"github.com/Faultbox/tessera/internal/logger"
	tmath "github.com/Faultbox/tessera/pkg/math"
)

// DefineFloatTarget switches the draw program to the RG32F path.
const DefineFloatTarget = "FLOAT_TARGET"

type texture struct {
	tex *gpu.Texture
	fb  *framebuffer // created on first render into the texture
}

// Device is an OpenGL gpu.Device. Texture IDs are GL texture names.
type Device struct {
	log      *zap.Logger
	textures map[uint32]*texture
	programs map[gpu.Format]*program

	vao uint32
	vbo uint32
	ebo uint32
}

var _ gpu.Device = (*Device)(nil)

// New initializes GL function pointers and the shared draw buffers.
// IMPORTANT: must be called after the GL context is current.
func New() (*Device, error) {
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize OpenGL: %w", err)
	}

	d := &Device{
		log:      logger.Named("glgpu"),
		textures: make(map[uint32]*texture),
		programs: make(map[gpu.Format]*program),
	}
	d.log.Info("OpenGL initialized",
		zap.String("version", gl.GoStr(gl.GetString(gl.VERSION))),
		zap.String("renderer", gl.GoStr(gl.GetString(gl.RENDERER))),
	)

	gl.GenVertexArrays(1, &d.vao)
	gl.BindVertexArray(d.vao)

	gl.GenBuffers(1, &d.vbo)
	gl.BindBuffer(gl.ARRAY_BUFFER, d.vbo)
	gl.GenBuffers(1, &d.ebo)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, d.ebo)

	// Position (location 0), TexCoord (location 1)
	gl.VertexAttribPointerWithOffset(0, 2, gl.FLOAT, false, 4*4, 0)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointerWithOffset(1, 2, gl.FLOAT, false, 4*4, 2*4)
	gl.EnableVertexAttribArray(1)

	gl.BindVertexArray(0)

	for _, f := range []gpu.Format{gpu.RGBA8, gpu.RG32F} {
		if _, err := d.program(f); err != nil {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}

// Live returns the number of textures that have not been disposed.
func (d *Device) Live() int {
	return len(d.textures)
}

func (d *Device) program(f gpu.Format) (*program, error) {
	if p, ok := d.programs[f]; ok {
		return p, nil
	}
	defines := map[string]int{DefineFloatTarget: 0}
	if f == gpu.RG32F {
		defines[DefineFloatTarget] = 1
	}
	p, err := newProgram(defines)
	if err != nil {
		return nil, fmt.Errorf("compiling %v program: %w", f, err)
	}
	d.programs[f] = p
	return p, nil
}

func glFormat(f gpu.Format) (internal int32, format, typ uint32, err error) {
	switch f {
	case gpu.RGBA8:
		return gl.RGBA8, gl.RGBA, gl.UNSIGNED_BYTE, nil
	case gpu.RG32F:
		return gl.RG32F, gl.RG, gl.FLOAT, nil
	default:
		return 0, 0, 0, fmt.Errorf("%w: %v", gpu.ErrUnsupportedFormat, f)
	}
}

func (d *Device) NewTexture(width, height int, format gpu.Format) (*gpu.Texture, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("gpu: invalid texture size %dx%d", width, height)
	}
	internal, glf, typ, err := glFormat(format)
	if err != nil {
		return nil, err
	}

	var id uint32
	gl.GenTextures(1, &id)
	gl.BindTexture(gl.TEXTURE_2D, id)
	gl.TexImage2D(gl.TEXTURE_2D, 0, internal, int32(width), int32(height), 0, glf, typ, nil)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.BindTexture(gl.TEXTURE_2D, 0)

	tex := &gpu.Texture{ID: id, Width: width, Height: height, Format: format}
	d.textures[id] = &texture{tex: tex}
	return tex, nil
}

func (d *Device) lookup(tex *gpu.Texture) (*texture, error) {
	if tex == nil || tex.Empty() {
		return nil, gpu.ErrDisposed
	}
	t, ok := d.textures[tex.ID]
	if !ok {
		return nil, fmt.Errorf("%w: texture %d", gpu.ErrDisposed, tex.ID)
	}
	return t, nil
}

// Upload writes px into tex. Rows are flipped so texel row 0 is the south
// edge, which makes UV (0,0) the south-west corner in the shader.
func (d *Device) Upload(tex *gpu.Texture, px gpu.Pixels) error {
	if _, err := d.lookup(tex); err != nil {
		return err
	}
	if err := px.Validate(); err != nil {
		return err
	}
	if px.Width != tex.Width || px.Height != tex.Height || px.Format != tex.Format {
		return fmt.Errorf("gpu: upload of %dx%d %v into %dx%d %v texture",
			px.Width, px.Height, px.Format, tex.Width, tex.Height, tex.Format)
	}
	_, glf, typ, err := glFormat(tex.Format)
	if err != nil {
		return err
	}

	var data unsafe.Pointer
	rowLen := tex.Width * tex.Format.Stride()
	if tex.Format == gpu.RG32F {
		flipped := flipRowsFloat(px.F32, rowLen, tex.Height)
		data = gl.Ptr(flipped)
	} else {
		flipped := flipRows(px.U8, rowLen, tex.Height)
		data = gl.Ptr(flipped)
	}

	gl.BindTexture(gl.TEXTURE_2D, tex.ID)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(tex.Width), int32(tex.Height), glf, typ, data)
	gl.BindTexture(gl.TEXTURE_2D, 0)
	return nil
}

func (d *Device) framebuffer(t *texture) (*framebuffer, error) {
	if t.fb != nil {
		return t.fb, nil
	}
	fb, err := newFramebuffer(t.tex.ID, t.tex.Width, t.tex.Height)
	if err != nil {
		return nil, fmt.Errorf("texture %d: %w", t.tex.ID, err)
	}
	t.fb = fb
	return fb, nil
}

// ReadPixels returns the texture contents with row 0 at the north edge.
func (d *Device) ReadPixels(tex *gpu.Texture) (gpu.Pixels, error) {
	t, err := d.lookup(tex)
	if err != nil {
		return gpu.Pixels{}, err
	}
	fb, err := d.framebuffer(t)
	if err != nil {
		return gpu.Pixels{}, err
	}
	_, glf, typ, err := glFormat(tex.Format)
	if err != nil {
		return gpu.Pixels{}, err
	}

	px := gpu.NewPixels(tex.Width, tex.Height, tex.Format)
	rowLen := tex.Width * tex.Format.Stride()
	if tex.Format == gpu.RG32F {
		fb.readPixels(glf, typ, px.F32)
		px.F32 = flipRowsFloat(px.F32, rowLen, tex.Height)
	} else {
		fb.readPixels(glf, typ, px.U8)
		px.U8 = flipRows(px.U8, rowLen, tex.Height)
	}
	return px, nil
}

// ReadScreen reads the default framebuffer as RGBA8 pixels, row 0 on top.
func (d *Device) ReadScreen(width, height int) gpu.Pixels {
	px := gpu.NewPixels(width, height, gpu.RGBA8)
	screen := &framebuffer{width: int32(width), height: int32(height)}
	screen.readPixels(gl.RGBA, gl.UNSIGNED_BYTE, px.U8)
	px.U8 = flipRows(px.U8, width*4, height)
	return px
}

// FillNoData runs the shared CPU fill over a readback and re-uploads it.
func (d *Device) FillNoData(tex *gpu.Texture, radius int) error {
	px, err := d.ReadPixels(tex)
	if err != nil {
		return err
	}
	return d.Upload(tex, gpu.FillNoDataPixels(px, radius))
}

func (d *Device) Dispose(tex *gpu.Texture) {
	if tex == nil || tex.Empty() {
		return
	}
	t, ok := d.textures[tex.ID]
	if !ok {
		return
	}
	if t.fb != nil {
		t.fb.destroy()
	}
	id := tex.ID
	gl.DeleteTextures(1, &id)
	delete(d.textures, tex.ID)
}

func (d *Device) Render(target *gpu.Texture, pass gpu.RenderPass) error {
	t, err := d.lookup(target)
	if err != nil {
		return err
	}
	fb, err := d.framebuffer(t)
	if err != nil {
		return err
	}
	fb.bind()
	defer gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	return d.draw(target.Format, pass)
}

// Present draws pass into the default framebuffer of the given size.
func (d *Device) Present(pass gpu.RenderPass, width, height int) error {
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	gl.Viewport(0, 0, int32(width), int32(height))
	return d.draw(gpu.RGBA8, pass)
}

func (d *Device) draw(format gpu.Format, pass gpu.RenderPass) error {
	prog, err := d.program(format)
	if err != nil {
		return err
	}

	if pass.Clear {
		gl.ClearColor(0, 0, 0, 0)
		gl.Clear(gl.COLOR_BUFFER_BIT)
	}

	gl.Disable(gl.DEPTH_TEST)
	if format == gpu.RG32F {
		gl.Disable(gl.BLEND)
	} else {
		// Texels are premultiplied, as in image.RGBA.
		gl.Enable(gl.BLEND)
		gl.BlendFunc(gl.ONE, gl.ONE_MINUS_SRC_ALPHA)
	}

	// Positions are shifted to the pass origin before the float32 cast so
	// projected coordinates keep their precision.
	w, h := pass.Extent.Dimensions()
	x0, y0 := pass.Extent.XMin(), pass.Extent.YMin()
	proj := tmath.Ortho(0, float32(w), 0, float32(h), -1, 1)

	gl.UseProgram(prog.id)
	gl.UniformMatrix4fv(prog.projection, 1, false, proj.Ptr())
	gl.Uniform1i(prog.texture, 0)
	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindVertexArray(d.vao)
	defer gl.BindVertexArray(0)

	var verts []float32
	for _, dr := range pass.Draws {
		if dr.Texture == nil || dr.Texture.Empty() || len(dr.Mesh.Indices) == 0 {
			continue
		}
		if _, err := d.lookup(dr.Texture); err != nil {
			return err
		}
		if outsideClip(proj, dr.Mesh.Bound(), x0, y0) {
			continue
		}

		verts = verts[:0]
		for _, v := range dr.Mesh.Vertices {
			verts = append(verts,
				float32(v.Pos[0]-x0), float32(v.Pos[1]-y0),
				float32(v.U), float32(v.V))
		}

		gl.BindBuffer(gl.ARRAY_BUFFER, d.vbo)
		gl.BufferData(gl.ARRAY_BUFFER, len(verts)*4, gl.Ptr(verts), gl.STREAM_DRAW)
		gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(dr.Mesh.Indices)*4, gl.Ptr(dr.Mesh.Indices), gl.STREAM_DRAW)

		gl.BindTexture(gl.TEXTURE_2D, dr.Texture.ID)
		gl.DrawElements(gl.TRIANGLES, int32(len(dr.Mesh.Indices)), gl.UNSIGNED_INT, nil)
	}
	gl.BindTexture(gl.TEXTURE_2D, 0)

	if code := gl.GetError(); code != gl.NO_ERROR {
		return fmt.Errorf("gl error 0x%x", code)
	}
	return nil
}

// outsideClip reports whether b, shifted by the pass origin, projects
// entirely outside clip space on either axis.
func outsideClip(proj tmath.Mat4, b orb.Bound, x0, y0 float64) bool {
	lo := proj.TransformVec3(tmath.Vec3{X: float32(b.Min[0] - x0), Y: float32(b.Min[1] - y0)})
	hi := proj.TransformVec3(tmath.Vec3{X: float32(b.Max[0] - x0), Y: float32(b.Max[1] - y0)})
	return hi.X < -1 || lo.X > 1 || hi.Y < -1 || lo.Y > 1
}

// Close releases every texture, program and buffer the device owns.
func (d *Device) Close() {
	for _, t := range d.textures {
		d.Dispose(t.tex)
	}
	for f, p := range d.programs {
		gl.DeleteProgram(p.id)
		delete(d.programs, f)
	}
	if d.ebo != 0 {
		gl.DeleteBuffers(1, &d.ebo)
		d.ebo = 0
	}
	if d.vbo != 0 {
		gl.DeleteBuffers(1, &d.vbo)
		d.vbo = 0
	}
	if d.vao != 0 {
		gl.DeleteVertexArrays(1, &d.vao)
		d.vao = 0
	}
	d.log.Debug("device closed")
}
