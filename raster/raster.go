// Package raster converts text layouts and pixel images into bit-packed,
// row-major 1-bit rasters for the ESC/POS raster bitmap command.
package raster

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultWidthDot is the printable width of a 48mm head at 8 dots/mm.
const DefaultWidthDot = 384

var (
	// ErrInvalidRasterInput reports non-positive sizes or short pixel buffers.
	ErrInvalidRasterInput = errors.New("invalid raster input")

	// ErrInvalidRaster reports a raster whose fields disagree with its data.
	ErrInvalidRaster = errors.New("malformed raster")
)

// Align selects the horizontal placement of text lines.
type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

func (a Align) String() string {
	switch a {
	case AlignLeft:
		return "left"
	case AlignCenter:
		return "center"
	case AlignRight:
		return "right"
	default:
		return fmt.Sprintf("Align(%d)", int(a))
	}
}

// ParseAlign parses "left", "center" (or "centre") and "right".
func ParseAlign(s string) (Align, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "left":
		return AlignLeft, nil
	case "center", "centre":
		return AlignCenter, nil
	case "right":
		return AlignRight, nil
	}
	return AlignLeft, fmt.Errorf("unknown alignment %q", s)
}

// Raster is a packed 1-bit image. The most significant bit of each byte is
// the leftmost dot and a set bit prints black.
type Raster struct {
	WidthDot  int
	HeightDot int
	RowBytes  int
	Data      []byte
}

// RowBytes returns the number of bytes needed for one row of widthDot dots.
func RowBytes(widthDot int) int {
	return (widthDot + 7) / 8
}

// New allocates an all-white raster.
func New(widthDot, heightDot int) *Raster {
	rowBytes := RowBytes(widthDot)
	return &Raster{
		WidthDot:  widthDot,
		HeightDot: heightDot,
		RowBytes:  rowBytes,
		Data:      make([]byte, rowBytes*heightDot),
	}
}

// Validate checks that the declared geometry matches the data length.
func (r *Raster) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil raster", ErrInvalidRaster)
	}
	if r.WidthDot < 0 || r.HeightDot < 0 {
		return fmt.Errorf("%w: negative size %dx%d", ErrInvalidRaster, r.WidthDot, r.HeightDot)
	}
	if want := RowBytes(r.WidthDot); r.RowBytes != want {
		return fmt.Errorf("%w: row bytes %d, want %d for width %d", ErrInvalidRaster, r.RowBytes, want, r.WidthDot)
	}
	if want := r.RowBytes * r.HeightDot; len(r.Data) != want {
		return fmt.Errorf("%w: data length %d, want %d", ErrInvalidRaster, len(r.Data), want)
	}
	return nil
}

// Bit reports whether the dot at (x, y) is inked.
func (r *Raster) Bit(x, y int) bool {
	if x < 0 || y < 0 || x >= r.WidthDot || y >= r.HeightDot {
		return false
	}
	return r.Data[y*r.RowBytes+x>>3]&(0x80>>(x&7)) != 0
}

func (r *Raster) set(x, y int) {
	r.Data[y*r.RowBytes+x>>3] |= 0x80 >> (x & 7)
}

func (r *Raster) String() string {
	return fmt.Sprintf("Raster(%dx%d, %d bytes/row)", r.WidthDot, r.HeightDot, r.RowBytes)
}

// LineHeight returns ceil(fontSizePx * 1.2), the fixed advance between text rows.
func LineHeight(fontSizePx int) int {
	return (fontSizePx*12 + 9) / 10
}

// GenerateBlankRaster returns an all-white raster spanning lineCount text
// lines of the given font size.
func GenerateBlankRaster(lineCount, fontSizePx, maxWidthDot int) (*Raster, error) {
	if lineCount <= 0 || fontSizePx <= 0 || maxWidthDot <= 0 {
		return nil, fmt.Errorf("%w: blank raster lines=%d size=%d width=%d",
			ErrInvalidRasterInput, lineCount, fontSizePx, maxWidthDot)
	}
	return New(maxWidthDot, lineCount*LineHeight(fontSizePx)), nil
}

func isInk(r, g, b uint8) bool {
	return 0.299*float64(r)+0.587*float64(g)+0.114*float64(b) < 128
}

// pack thresholds a width x height region of 4-byte RGBA pixels into a raster
// widthDot wide, shifting every dot right by offset.
func pack(pix []byte, stride, width, height, offset, widthDot int) *Raster {
	r := New(widthDot, height)
	for y := 0; y < height; y++ {
		row := pix[y*stride : y*stride+width*4]
		for x := 0; x < width; x++ {
			if x+offset >= widthDot {
				break
			}
			p := row[x*4 : x*4+3]
			if isInk(p[0], p[1], p[2]) {
				r.set(x+offset, y)
			}
		}
	}
	return r
}
