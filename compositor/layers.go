package compositor

import (
	"image"
)

// mul255 multiplies two 8-bit fractions; x*0xff/0xff == x exactly.
func mul255(a, b uint32) uint32 {
	return (a*b + 127) / 255
}

// drawMask makes dst fully transparent black except for the mask alpha.
// dst, mask: same bounds, both anchored at (0,0).
func drawMask(dst *image.RGBA, mask *image.Alpha) {
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	for y := 0; y < h; y++ {
		d := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		m := mask.Pix[y*mask.Stride : y*mask.Stride+w]
		for x, a := range m {
			i := x * 4
			d[i+0] = 0
			d[i+1] = 0
			d[i+2] = 0
			d[i+3] = a
		}
	}
}

// sourceOut keeps src only where dst is transparent:
//
//	result = src * (1 - alpha(dst))
func sourceOut(dst, src *image.RGBA) {
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	for y := 0; y < h; y++ {
		d := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		s := src.Pix[y*src.Stride : y*src.Stride+w*4]
		for i := 0; i < len(d); i += 4 {
			k := 0xff - uint32(d[i+3])
			d[i+0] = uint8(mul255(uint32(s[i+0]), k))
			d[i+1] = uint8(mul255(uint32(s[i+1]), k))
			d[i+2] = uint8(mul255(uint32(s[i+2]), k))
			d[i+3] = uint8(mul255(uint32(s[i+3]), k))
		}
	}
}

// destinationOver draws src beneath dst:
//
//	result = dst + src * (1 - alpha(dst))
func destinationOver(dst, src *image.RGBA) {
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	for y := 0; y < h; y++ {
		d := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		s := src.Pix[y*src.Stride : y*src.Stride+w*4]
		for i := 0; i < len(d); i += 4 {
			k := 0xff - uint32(d[i+3])
			d[i+0] = clamp8(uint32(d[i+0]) + mul255(uint32(s[i+0]), k))
			d[i+1] = clamp8(uint32(d[i+1]) + mul255(uint32(s[i+1]), k))
			d[i+2] = clamp8(uint32(d[i+2]) + mul255(uint32(s[i+2]), k))
			d[i+3] = clamp8(uint32(d[i+3]) + mul255(uint32(s[i+3]), k))
		}
	}
}

func clamp8(v uint32) uint8 {
	if v > 0xff {
		return 0xff
	}
	return uint8(v)
}
