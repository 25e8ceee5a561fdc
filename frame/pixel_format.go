package frame

import (
	"image"
)

type PixelFormat string

const (
	PixelFormatUndefined = PixelFormat("")
	PixelFormatRGBA      = PixelFormat("rgba")
	PixelFormatNRGBA     = PixelFormat("nrgba")
	PixelFormatRGBA64    = PixelFormat("rgba64")
	PixelFormatGray      = PixelFormat("gray")
	PixelFormatYUV420P   = PixelFormat("yuv420p")
	PixelFormatYUV422P   = PixelFormat("yuv422p")
	PixelFormatYUV444P   = PixelFormat("yuv444p")
	PixelFormatOther     = PixelFormat("other")
)

func PixelFormatOf(img image.Image) PixelFormat {
	switch img := img.(type) {
	case nil:
		return PixelFormatUndefined
	case *image.RGBA:
		return PixelFormatRGBA
	case *image.NRGBA:
		return PixelFormatNRGBA
	case *image.RGBA64:
		return PixelFormatRGBA64
	case *image.Gray:
		return PixelFormatGray
	case *image.YCbCr:
		switch img.SubsampleRatio {
		case image.YCbCrSubsampleRatio420:
			return PixelFormatYUV420P
		case image.YCbCrSubsampleRatio422:
			return PixelFormatYUV422P
		case image.YCbCrSubsampleRatio444:
			return PixelFormatYUV444P
		}
	}
	return PixelFormatOther
}
