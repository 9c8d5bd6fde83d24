package glgpu

import (
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"
)

// framebuffer renders into an existing texture. There is no depth
// attachment; draw order alone decides what ends up on top.
type framebuffer struct {
	fbo    uint32
	width  int32
	height int32
}

func newFramebuffer(texture uint32, width, height int) (*framebuffer, error) {
	fb := &framebuffer{width: int32(width), height: int32(height)}

	gl.GenFramebuffers(1, &fb.fbo)
	gl.BindFramebuffer(gl.FRAMEBUFFER, fb.fbo)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, texture, 0)

	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	if status != gl.FRAMEBUFFER_COMPLETE {
		fb.destroy()
		return nil, fmt.Errorf("framebuffer incomplete: 0x%x", status)
	}
	return fb, nil
}

// bind makes the framebuffer current and covers it with the viewport.
func (fb *framebuffer) bind() {
	gl.BindFramebuffer(gl.FRAMEBUFFER, fb.fbo)
	gl.Viewport(0, 0, fb.width, fb.height)
}

// readPixels reads the attachment bottom row first, the way GL stores it.
func (fb *framebuffer) readPixels(format, typ uint32, dst any) {
	var prev int32
	gl.GetIntegerv(gl.FRAMEBUFFER_BINDING, &prev)
	gl.BindFramebuffer(gl.FRAMEBUFFER, fb.fbo)
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.ReadPixels(0, 0, fb.width, fb.height, format, typ, gl.Ptr(dst))
	gl.BindFramebuffer(gl.FRAMEBUFFER, uint32(prev))
}

func (fb *framebuffer) destroy() {
	if fb.fbo != 0 {
		gl.DeleteFramebuffers(1, &fb.fbo)
		fb.fbo = 0
	}
}

// flipRows swaps row order of a tightly packed byte image.
func flipRows(pix []byte, rowLen, rows int) []byte {
	out := make([]byte, len(pix))
	for y := range rows {
		src := pix[y*rowLen : (y+1)*rowLen]
		copy(out[(rows-1-y)*rowLen:], src)
	}
	return out
}

func flipRowsFloat(pix []float32, rowLen, rows int) []float32 {
	out := make([]float32, len(pix))
	for y := range rows {
		src := pix[y*rowLen : (y+1)*rowLen]
		copy(out[(rows-1-y)*rowLen:], src)
	}
	return out
}
