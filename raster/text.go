package raster

import (
	"fmt"
	"image"
	"regexp"
)

// Face names a font family at a pixel size.
type Face struct {
	Family string
	SizePx int
}

func (f Face) String() string {
	return fmt.Sprintf("%dpx %s", f.SizePx, f.Family)
}

// TextLayout measures and draws text. Implementations own glyph shaping and
// font metrics; the engine only ever sees widths and pixels.
type TextLayout interface {
	// MeasureWidth returns the rendered width of text in dots.
	MeasureWidth(text string, face Face) (int, error)

	// Render draws lines black on white into a width x height image, one
	// line every lineHeight rows, positioned horizontally by align.
	Render(lines []string, face Face, align Align, width, height, lineHeight int) (*image.RGBA, error)
}

var lineBreak = regexp.MustCompile(`\r?\n`)

// Engine rasterizes text through an injected TextLayout.
type Engine struct {
	layout TextLayout
}

// NewEngine creates an engine that measures and renders with layout.
func NewEngine(layout TextLayout) *Engine {
	return &Engine{layout: layout}
}

// Wrap splits text on explicit line breaks and greedily breaks each line
// before the first rune that would push it past maxWidthDot. A single rune
// wider than maxWidthDot still gets a line of its own. Empty input lines
// produce nothing; if nothing is produced at all the result is one empty line.
func (e *Engine) Wrap(text string, face Face, maxWidthDot int) ([]string, error) {
	var lines []string
	for _, raw := range lineBreak.Split(text, -1) {
		current := ""
		for _, ch := range raw {
			candidate := current + string(ch)
			w, err := e.layout.MeasureWidth(candidate, face)
			if err != nil {
				return nil, fmt.Errorf("measure %q: %w", candidate, err)
			}
			if w > maxWidthDot {
				if current != "" {
					lines = append(lines, current)
				}
				current = string(ch)
				continue
			}
			current = candidate
		}
		if current != "" {
			lines = append(lines, current)
		}
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	return lines, nil
}

// RasterizeText wraps text to maxWidthDot and renders it to a raster.
// Left-aligned rasters are as wide as the longest line (capped at
// maxWidthDot, at least one dot); centered and right-aligned rasters are
// always maxWidthDot wide.
func (e *Engine) RasterizeText(text string, fontSizePx int, fontFamily string, maxWidthDot int, align Align) (*Raster, error) {
	if fontSizePx <= 0 || maxWidthDot <= 0 {
		return nil, fmt.Errorf("%w: font size %d, width %d", ErrInvalidRasterInput, fontSizePx, maxWidthDot)
	}
	face := Face{Family: fontFamily, SizePx: fontSizePx}

	lines, err := e.Wrap(text, face, maxWidthDot)
	if err != nil {
		return nil, err
	}

	width := maxWidthDot
	if align == AlignLeft {
		longest := 0
		for _, l := range lines {
			w, err := e.layout.MeasureWidth(l, face)
			if err != nil {
				return nil, fmt.Errorf("measure %q: %w", l, err)
			}
			longest = max(longest, w)
		}
		width = max(1, min(maxWidthDot, longest))
	}

	lineHeight := LineHeight(fontSizePx)
	height := len(lines) * lineHeight

	img, err := e.layout.Render(lines, face, align, width, height, lineHeight)
	if err != nil {
		return nil, fmt.Errorf("render %d lines: %w", len(lines), err)
	}
	if img.Rect.Dx() < width || img.Rect.Dy() < height {
		return nil, fmt.Errorf("%w: rendered %v, want %dx%d", ErrInvalidRasterInput, img.Rect.Size(), width, height)
	}

	pix := img.Pix[img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y):]
	return pack(pix, img.Stride, width, height, 0, width), nil
}
