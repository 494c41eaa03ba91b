package typeset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/gobold"

	"github.com/nixxel-company-limited/escpos-raster-printer/raster"
)

func inkBounds(t *testing.T, r *raster.Raster) (minX, maxX int) {
	t.Helper()
	minX, maxX = r.WidthDot, -1
	for y := 0; y < r.HeightDot; y++ {
		for x := 0; x < r.WidthDot; x++ {
			if r.Bit(x, y) {
				minX = min(minX, x)
				maxX = max(maxX, x)
			}
		}
	}
	return minX, maxX
}

func TestMeasureWidth(t *testing.T) {
	layout := New()
	defer layout.Close()
	face := raster.Face{Family: FamilyRegular, SizePx: 20}

	w, err := layout.MeasureWidth("", face)
	require.NoError(t, err)
	assert.Zero(t, w)

	ab, err := layout.MeasureWidth("ab", face)
	require.NoError(t, err)
	abc, err := layout.MeasureWidth("abc", face)
	require.NoError(t, err)
	assert.Greater(t, ab, 0)
	assert.Greater(t, abc, ab)

	big, err := layout.MeasureWidth("ab", raster.Face{Family: FamilyRegular, SizePx: 40})
	require.NoError(t, err)
	assert.Greater(t, big, ab)

	_, err = layout.MeasureWidth("ab", raster.Face{Family: FamilyRegular})
	assert.True(t, errors.Is(err, raster.ErrInvalidRasterInput))
}

func TestUnknownFamilyFallsBack(t *testing.T) {
	layout := New()
	defer layout.Close()

	want, err := layout.MeasureWidth("hello", raster.Face{Family: FamilyRegular, SizePx: 24})
	require.NoError(t, err)
	got, err := layout.MeasureWidth("hello", raster.Face{Family: "'Noto Sans JP'", SizePx: 24})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, layout.SetDefault(FamilyMono))
	mono, err := layout.MeasureWidth("iiii", raster.Face{Family: "missing", SizePx: 24})
	require.NoError(t, err)
	regular, err := layout.MeasureWidth("iiii", raster.Face{Family: FamilyRegular, SizePx: 24})
	require.NoError(t, err)
	assert.Greater(t, mono, regular, "monospace i is wider than proportional i")

	assert.Error(t, layout.SetDefault("missing"))
}

func TestRegister(t *testing.T) {
	layout := New()
	defer layout.Close()

	require.NoError(t, layout.Register("'Go Bold'", gobold.TTF))
	assert.Contains(t, layout.Families(), "go bold")

	_, err := layout.MeasureWidth("x", raster.Face{Family: "Go Bold", SizePx: 12})
	require.NoError(t, err)

	assert.Error(t, layout.Register("broken", []byte("not a font")))
	assert.Error(t, layout.RegisterFile("missing", "/nonexistent/font.ttf"))
}

func TestRenderAlignment(t *testing.T) {
	layout := New()
	defer layout.Close()
	engine := raster.NewEngine(layout)

	left, err := engine.RasterizeText("Hi", 30, FamilyRegular, 384, raster.AlignLeft)
	require.NoError(t, err)
	assert.Less(t, left.WidthDot, 384)
	_, leftMax := inkBounds(t, left)
	assert.GreaterOrEqual(t, leftMax, 0, "left text has ink")

	center, err := engine.RasterizeText("Hi", 30, FamilyRegular, 384, raster.AlignCenter)
	require.NoError(t, err)
	assert.Equal(t, 384, center.WidthDot)
	cMin, cMax := inkBounds(t, center)
	assert.Less(t, cMin, 192)
	assert.Greater(t, cMax, 192)

	right, err := engine.RasterizeText("Hi", 30, FamilyRegular, 384, raster.AlignRight)
	require.NoError(t, err)
	rMin, rMax := inkBounds(t, right)
	assert.Greater(t, rMin, 192)
	assert.LessOrEqual(t, rMax, 383)
}

func TestWrappedLinesFitPaper(t *testing.T) {
	layout := New()
	defer layout.Close()
	engine := raster.NewEngine(layout)
	face := raster.Face{Family: FamilyRegular, SizePx: 20}

	text := "Today brings steady progress. Small habits compound, so keep the routine going and stay curious about the people around you."
	lines, err := engine.Wrap(text, face, 384)
	require.NoError(t, err)
	assert.Greater(t, len(lines), 1)
	for _, l := range lines {
		w, err := layout.MeasureWidth(l, face)
		require.NoError(t, err)
		assert.LessOrEqual(t, w, 384, l)
	}

	r, err := engine.RasterizeText(text, 20, FamilyRegular, 384, raster.AlignLeft)
	require.NoError(t, err)
	assert.Equal(t, len(lines)*raster.LineHeight(20), r.HeightDot)
	require.NoError(t, r.Validate())
}

func TestRenderInvalidArea(t *testing.T) {
	layout := New()
	defer layout.Close()

	_, err := layout.Render([]string{"x"}, raster.Face{SizePx: 10}, raster.AlignLeft, 0, 10, 12)
	assert.True(t, errors.Is(err, raster.ErrInvalidRasterInput))
}
