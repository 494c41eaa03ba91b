// Package typeset measures and draws text for the raster engine using
// OpenType fonts from golang.org/x/image.
package typeset

import (
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/nixxel-company-limited/escpos-raster-printer/raster"
)

// Builtin family names.
const (
	FamilyRegular = "goregular"
	FamilyMono    = "gomono"
)

type faceKey struct {
	family string
	size   int
}

// Layout implements raster.TextLayout. Families are registered by name;
// a face that names an unknown family falls back to the default family,
// the same way a CSS font stack falls through to its last entry.
type Layout struct {
	mu            sync.Mutex
	fonts         map[string]*opentype.Font
	faces         map[faceKey]font.Face
	defaultFamily string
}

// New returns a layout with the Go fonts registered and goregular as default.
func New() *Layout {
	l := &Layout{
		fonts:         make(map[string]*opentype.Font),
		faces:         make(map[faceKey]font.Face),
		defaultFamily: FamilyRegular,
	}
	// The embedded Go fonts always parse.
	_ = l.Register(FamilyRegular, goregular.TTF)
	_ = l.Register(FamilyMono, gomono.TTF)
	return l
}

// Register parses TrueType/OpenType data and makes it available as family.
func (l *Layout) Register(family string, data []byte) error {
	parsed, err := opentype.Parse(data)
	if err != nil {
		return fmt.Errorf("parse font %q: %w", family, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	name := normalize(family)
	l.fonts[name] = parsed
	for key, face := range l.faces {
		if key.family == name {
			face.Close()
			delete(l.faces, key)
		}
	}
	return nil
}

// RegisterFile loads a font file and registers it as family.
func (l *Layout) RegisterFile(family, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read font %q: %w", path, err)
	}
	return l.Register(family, data)
}

// SetDefault selects the family used for unknown or empty family names.
func (l *Layout) SetDefault(family string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	name := normalize(family)
	if _, ok := l.fonts[name]; !ok {
		return fmt.Errorf("font family %q is not registered", family)
	}
	l.defaultFamily = name
	return nil
}

// Families lists the registered family names.
func (l *Layout) Families() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.fonts))
	for name := range l.fonts {
		names = append(names, name)
	}
	return names
}

// MeasureWidth returns the advance width of text rounded up to whole dots.
func (l *Layout) MeasureWidth(text string, f raster.Face) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	face, err := l.face(f)
	if err != nil {
		return 0, err
	}
	return font.MeasureString(face, text).Ceil(), nil
}

// Render draws lines black on white with their tops lineHeight rows apart.
func (l *Layout) Render(lines []string, f raster.Face, align raster.Align, width, height, lineHeight int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("render area %dx%d: %w", width, height, raster.ErrInvalidRasterInput)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	face, err := l.face(f)
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: face,
	}
	ascent := face.Metrics().Ascent
	for i, line := range lines {
		advance := d.MeasureString(line)
		x := fixed.I(0)
		switch align {
		case raster.AlignCenter:
			x = (fixed.I(width) - advance) / 2
		case raster.AlignRight:
			x = fixed.I(width) - advance
		}
		d.Dot = fixed.Point26_6{X: x, Y: fixed.I(i*lineHeight) + ascent}
		d.DrawString(line)
	}
	return img, nil
}

// Close releases every cached face.
func (l *Layout) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for key, face := range l.faces {
		if err := face.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(l.faces, key)
	}
	return errors.Join(errs...)
}

// face must be called with l.mu held.
func (l *Layout) face(f raster.Face) (font.Face, error) {
	if f.SizePx <= 0 {
		return nil, fmt.Errorf("font size %d: %w", f.SizePx, raster.ErrInvalidRasterInput)
	}

	family := normalize(f.Family)
	parsed, ok := l.fonts[family]
	if !ok {
		family = l.defaultFamily
		parsed = l.fonts[family]
	}

	key := faceKey{family: family, size: f.SizePx}
	if face, ok := l.faces[key]; ok {
		return face, nil
	}

	// At 72 DPI one point is one dot.
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    float64(f.SizePx),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s face: %w", f, err)
	}
	l.faces[key] = face
	return face, nil
}

// normalize turns "'Noto Sans JP'" into "noto sans jp".
func normalize(family string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(family), `'"`))
}
