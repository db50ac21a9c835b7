package image

import (
	"encoding/base64"
	"image"
	"image/color"
	"image/draw"
	"strings"
)

func decodeBase64(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(data))
}

// flattenOntoWhite composites the image onto an opaque white background,
// yielding an RGB-family layout regardless of the source pixel format.
// Fully opaque sources come through with their original pixel values.
func flattenOntoWhite(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Over)

	return dst
}
