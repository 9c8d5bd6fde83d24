package math

// OffsetScale is a UV transform: uv' = uv*scale + offset.
// It is laid out like the vec4 uniform the shaders consume.
type OffsetScale struct {
	OffsetX, OffsetY float64
	ScaleX, ScaleY   float64
}

// IdentityOffsetScale leaves UVs untouched.
func IdentityOffsetScale() OffsetScale {
	return OffsetScale{ScaleX: 1, ScaleY: 1}
}

// Apply transforms (u, v).
func (o OffsetScale) Apply(u, v float64) (float64, float64) {
	return u*o.ScaleX + o.OffsetX, v*o.ScaleY + o.OffsetY
}

// Compose returns the transform that applies inner first, then o.
func (o OffsetScale) Compose(inner OffsetScale) OffsetScale {
	return OffsetScale{
		OffsetX: inner.OffsetX*o.ScaleX + o.OffsetX,
		OffsetY: inner.OffsetY*o.ScaleY + o.OffsetY,
		ScaleX:  inner.ScaleX * o.ScaleX,
		ScaleY:  inner.ScaleY * o.ScaleY,
	}
}

// Vec4 returns the transform packed as (offsetX, offsetY, scaleX, scaleY).
func (o OffsetScale) Vec4() [4]float32 {
	return [4]float32{float32(o.OffsetX), float32(o.OffsetY), float32(o.ScaleX), float32(o.ScaleY)}
}
