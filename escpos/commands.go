// Package escpos builds the ESC/POS command frames used by the printer
// session. Every function is a pure transform; nothing here performs I/O.
package escpos

import (
	"bytes"
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"

	"github.com/nixxel-company-limited/escpos-raster-printer/raster"
)

// Control bytes
const (
	LF  = 0x0A
	ESC = 0x1B
	GS  = 0x1D
)

// RasterModeNormal is the m parameter of GS v 0 for 1x horizontal and
// vertical scale.
const RasterModeNormal = 0x00

// RasterHeaderLen is the size of the GS v 0 header preceding raster data.
const RasterHeaderLen = 8

const maxRasterField = 0xFFFF

// EncodeInitialize returns ESC @, which resets the printer state.
func EncodeInitialize() []byte {
	return []byte{ESC, 0x40}
}

// EncodeRasterBitmap returns GS v 0 m xL xH yL yH followed by the packed
// raster rows.
func EncodeRasterBitmap(r *raster.Raster) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.RowBytes > maxRasterField || r.HeightDot > maxRasterField {
		return nil, fmt.Errorf("%w: %d bytes x %d dots does not fit GS v 0",
			raster.ErrInvalidRaster, r.RowBytes, r.HeightDot)
	}

	frame := make([]byte, 0, RasterHeaderLen+len(r.Data))
	frame = append(frame,
		GS, 0x76, 0x30, RasterModeNormal,
		byte(r.RowBytes&0xFF), byte(r.RowBytes>>8),
		byte(r.HeightDot&0xFF), byte(r.HeightDot>>8),
	)
	return append(frame, r.Data...), nil
}

// EncodeCut returns GS V A 16: feed and full cut.
func EncodeCut() []byte {
	return []byte{GS, 0x56, 0x41, 0x10}
}

// EncodePartialCut returns GS V 0 16, the cut some firmware expects after a
// bitmap sequence.
func EncodePartialCut() []byte {
	return []byte{GS, 0x56, 0x00, 0x10}
}

// EncodeLineFeeds returns n LF bytes.
func EncodeLineFeeds(n int) []byte {
	if n <= 0 {
		return nil
	}
	return bytes.Repeat([]byte{LF}, n)
}

// EncodeTextLine encodes text plus a newline in Shift_JIS for printers
// without raster support. Characters Shift_JIS cannot represent are replaced
// by the encoding's substitute byte.
// No wrapping is applied.
func EncodeTextLine(text string) []byte {
	// Encoders carry transform state, so each call gets its own.
	enc := encoding.ReplaceUnsupported(japanese.ShiftJIS.NewEncoder())
	out, err := enc.Bytes([]byte(text + "\n"))
	if err != nil {
		return append(asciiOnly(text), LF)
	}
	return out
}

func asciiOnly(text string) []byte {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		if r < 0x80 {
			out = append(out, byte(r))
		} else {
			out = append(out, encoding.ASCIISub)
		}
	}
	return out
}
