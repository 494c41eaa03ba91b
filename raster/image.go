package raster

import (
	"fmt"
	"image"
	"image/color"

	"github.com/makeworld-the-better-one/dither/v2"
	"golang.org/x/image/draw"
)

// RasterizeImage thresholds a width x height RGBA buffer (4 bytes per pixel,
// no row padding). When centered is set and the image is narrower than
// maxWidthDot, the raster spans maxWidthDot and the image starts at
// floor((maxWidthDot-width)/2); otherwise the raster is exactly as wide as
// the image.
func RasterizeImage(pix []byte, width, height, maxWidthDot int, centered bool) (*Raster, error) {
	if width <= 0 || height <= 0 || maxWidthDot <= 0 {
		return nil, fmt.Errorf("%w: image %dx%d, width %d", ErrInvalidRasterInput, width, height, maxWidthDot)
	}
	if len(pix) < width*height*4 {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d RGBA", ErrInvalidRasterInput, len(pix), width, height)
	}

	widthDot, offset := width, 0
	if centered && width < maxWidthDot {
		widthDot = maxWidthDot
		offset = (maxWidthDot - width) / 2
	}
	return pack(pix, width*4, width, height, offset, widthDot), nil
}

// FromImage flattens img onto white paper and rasterizes it. Transparent
// pixels never print.
func FromImage(img image.Image, maxWidthDot int, centered bool) (*Raster, error) {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Over)
	return RasterizeImage(rgba.Pix, b.Dx(), b.Dy(), maxWidthDot, centered)
}

// FitWidth scales img down to maxWidthDot keeping its aspect ratio. Images
// that already fit are returned unchanged.
func FitWidth(img image.Image, maxWidthDot int) image.Image {
	b := img.Bounds()
	if b.Dx() <= maxWidthDot || maxWidthDot <= 0 {
		return img
	}
	height := max(1, b.Dy()*maxWidthDot/b.Dx())
	scaled := image.NewRGBA(image.Rect(0, 0, maxWidthDot, height))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, b, draw.Over, nil)
	return scaled
}

// Dither reduces img to pure black and white with serpentine
// Floyd-Steinberg error diffusion, which keeps photographs legible once
// thresholded.
func Dither(img image.Image) *image.Paletted {
	d := dither.NewDitherer([]color.Color{color.Black, color.White})
	d.Matrix = dither.FloydSteinberg
	d.Serpentine = true
	return d.DitherPaletted(img)
}
