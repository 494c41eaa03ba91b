package escpos

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixxel-company-limited/escpos-raster-printer/raster"
)

func TestEncodeInitialize(t *testing.T) {
	assert.Equal(t, []byte{0x1B, 0x40}, EncodeInitialize())
}

func TestEncodeCut(t *testing.T) {
	assert.Equal(t, []byte{0x1D, 0x56, 0x41, 0x10}, EncodeCut())
	assert.Equal(t, []byte{0x1D, 0x56, 0x00, 0x10}, EncodePartialCut())
}

func TestEncodeLineFeeds(t *testing.T) {
	assert.Empty(t, EncodeLineFeeds(0))
	assert.Empty(t, EncodeLineFeeds(-2))
	assert.Equal(t, []byte{0x0A}, EncodeLineFeeds(1))
	assert.Equal(t, []byte{0x0A, 0x0A, 0x0A, 0x0A, 0x0A}, EncodeLineFeeds(5))
}

func TestEncodeRasterBitmapHeader(t *testing.T) {
	r := raster.New(384, 60)
	require.Equal(t, 48, r.RowBytes)

	frame, err := EncodeRasterBitmap(r)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1D, 0x76, 0x30, 0x00, 0x30, 0x00, 0x3C, 0x00}, frame[:RasterHeaderLen])
	assert.Len(t, frame, RasterHeaderLen+48*60)
}

func TestEncodeRasterBitmapLittleEndian(t *testing.T) {
	r := raster.New(8*0x0102, 0x0304)

	frame, err := EncodeRasterBitmap(r)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1D, 0x76, 0x30, 0x00, 0x02, 0x01, 0x04, 0x03}, frame[:RasterHeaderLen])
}

func TestEncodeRasterBitmapPayload(t *testing.T) {
	r := raster.New(10, 2)
	r.Data = []byte{0xAA, 0x80, 0x55, 0x40}

	frame, err := EncodeRasterBitmap(r)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x1D, 0x76, 0x30, 0x00, 0x02, 0x00, 0x02, 0x00,
		0xAA, 0x80, 0x55, 0x40,
	}, frame)
}

func TestEncodeRasterBitmapRejectsMalformed(t *testing.T) {
	testCases := []struct {
		name string
		r    *raster.Raster
	}{
		{"Nil", nil},
		{"ShortData", &raster.Raster{WidthDot: 16, HeightDot: 2, RowBytes: 2, Data: make([]byte, 3)}},
		{"WrongRowBytes", &raster.Raster{WidthDot: 16, HeightDot: 1, RowBytes: 1, Data: make([]byte, 1)}},
		{"TooTall", raster.New(8, 0x10000)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := EncodeRasterBitmap(tc.r)
			assert.Nil(t, frame)
			assert.True(t, errors.Is(err, raster.ErrInvalidRaster))
		})
	}
}

func TestEncodeTextLine(t *testing.T) {
	assert.Equal(t, []byte("Hello\n"), EncodeTextLine("Hello"))
	assert.Equal(t, []byte{0x0A}, EncodeTextLine(""))

	// あ is 0x82A0 in Shift_JIS; half-width katakana are single bytes.
	assert.Equal(t, []byte{0x82, 0xA0, 0x0A}, EncodeTextLine("あ"))
	assert.Equal(t, []byte{0xBC, 0xDD, 0x0A}, EncodeTextLine("ｼﾝ"))

	out := EncodeTextLine("a😀b")
	assert.Len(t, out, 4, "unsupported rune becomes one substitute byte")
	assert.Equal(t, byte('a'), out[0])
	assert.Equal(t, byte('b'), out[2])
	assert.Equal(t, byte(LF), out[3])
}
