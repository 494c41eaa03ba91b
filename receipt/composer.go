package receipt

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nixxel-company-limited/escpos-raster-printer/raster"
)

// ErrPrinterUnavailable is returned when the printer cannot be connected.
var ErrPrinterUnavailable = errors.New("printer unavailable")

// Printer is the part of printer.Session a receipt needs.
type Printer interface {
	Connect(ctx context.Context) bool
	LastError() error
	Init(ctx context.Context) error
	PrintRasterText(ctx context.Context, text string, align raster.Align, fontSizePx int) error
	PrintBlankLines(ctx context.Context, n int) error
	PrintQRCode(ctx context.Context, payload string, sizeDot int) error
	Cut(ctx context.Context) error
}

// Font sizes and spacing of the receipt layout, in pixels and text lines.
const (
	TitleSizePx   = 30
	RankSizePx    = 60
	HeadingSizePx = 40
	BodySizePx    = 20
	QRSizeDot     = 350

	DefaultTitle = "ｼﾝｷﾞｭﾗみくじ"
)

// Composer prints fortunes on a printer.
type Composer struct {
	printer Printer
	title   string
	share   Share
	logger  *zap.Logger
}

// NewComposer creates a composer. An empty title uses DefaultTitle.
func NewComposer(p Printer, title string, share Share, logger *zap.Logger) *Composer {
	if title == "" {
		title = DefaultTitle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{
		printer: p,
		title:   title,
		share:   share,
		logger:  logger.With(zap.String("component", "receipt")),
	}
}

type section struct {
	heading string
	body    string
}

func (f Fortune) sections() []section {
	return []section{
		{"恋愛運", f.Love},
		{"仕事運", f.Work},
		{"健康運", f.Health},
		{"金運", f.Money},
	}
}

// step is one printer call of the receipt.
type step struct {
	name string
	run  func(ctx context.Context) error
}

func (c *Composer) steps(f Fortune) []step {
	p := c.printer
	text := func(s string, align raster.Align, size int) step {
		return step{"text", func(ctx context.Context) error { return p.PrintRasterText(ctx, s, align, size) }}
	}
	blank := func(n int) step {
		return step{"blank", func(ctx context.Context) error { return p.PrintBlankLines(ctx, n) }}
	}

	steps := []step{
		{"init", p.Init},
		text(c.title, raster.AlignCenter, TitleSizePx),
		blank(2),
		text("【"+f.Rank+"】", raster.AlignCenter, RankSizePx),
		blank(2),
		text(f.Summary, raster.AlignLeft, BodySizePx),
		blank(2),
	}
	for i, sec := range f.sections() {
		if i > 0 {
			steps = append(steps, blank(2))
		}
		steps = append(steps,
			text(sec.heading, raster.AlignCenter, HeadingSizePx),
			blank(1),
			text(sec.body, raster.AlignLeft, BodySizePx),
		)
	}
	steps = append(steps,
		blank(5),
		step{"qr", func(ctx context.Context) error {
			return p.PrintQRCode(ctx, c.share.URL(f.Summary), QRSizeDot)
		}},
	)
	if tag := c.share.Hashtag(); tag != "" {
		steps = append(steps, text(tag, raster.AlignRight, BodySizePx))
	}
	return append(steps,
		blank(5),
		step{"cut", p.Cut},
	)
}

// Print connects and prints one receipt for f. Printing stops at the first
// failing command.
func (c *Composer) Print(ctx context.Context, f Fortune) error {
	if err := f.Validate(); err != nil {
		return err
	}

	if !c.printer.Connect(ctx) {
		cause := c.printer.LastError()
		if cause == nil {
			return ErrPrinterUnavailable
		}
		return fmt.Errorf("%w: %w", ErrPrinterUnavailable, cause)
	}

	c.logger.Info("Printing fortune", zap.String("rank", f.Rank))
	for i, s := range c.steps(f) {
		if err := s.run(ctx); err != nil {
			return fmt.Errorf("receipt step %d (%s): %w", i, s.name, err)
		}
	}
	c.logger.Info("Fortune printed", zap.String("rank", f.Rank))
	return nil
}

// Draw fetches a fortune for a random rank from provider and prints it.
func (c *Composer) Draw(ctx context.Context, provider Provider) (Fortune, error) {
	rank := RandomRank()
	c.logger.Debug("Drew rank", zap.String("rank", rank))

	f, err := provider.Fortune(ctx, rank)
	if err != nil {
		return Fortune{}, fmt.Errorf("fetch fortune: %w", err)
	}
	return f, c.Print(ctx, f)
}
