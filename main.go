package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/nixxel-company-limited/escpos-raster-printer/adapter"
	"github.com/nixxel-company-limited/escpos-raster-printer/config"
	"github.com/nixxel-company-limited/escpos-raster-printer/logger"
	"github.com/nixxel-company-limited/escpos-raster-printer/printer"
	"github.com/nixxel-company-limited/escpos-raster-printer/qr"
	"github.com/nixxel-company-limited/escpos-raster-printer/raster"
	"github.com/nixxel-company-limited/escpos-raster-printer/receipt"
	"github.com/nixxel-company-limited/escpos-raster-printer/server"
	"github.com/nixxel-company-limited/escpos-raster-printer/typeset"
)

const usage = `usage: escpos-raster-printer <command> [flags] [args]

commands:
  serve              forward raw TCP print jobs to the USB printer
  text <text>        print text as a raster bitmap
  image <file>       print a PNG, JPEG, BMP or WebP image
  qr <payload>       print a QR code
  fortune            draw and print a fortune receipt
  raw <file|->       send a file of ESC/POS bytes unchanged
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// commonFlags registers the flags every command accepts.
func commonFlags(name string) (*pflag.FlagSet, *string) {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	cfgPath := flags.StringP("config", "c", "", "path to a YAML config file")
	flags.String("vendor-id", "", "USB vendor ID (hex)")
	flags.String("product-id", "", "USB product ID (hex)")
	flags.Bool("any-printer", false, "fall back to the first USB printer found")
	flags.String("cut", "full", "cut mode: full or partial")
	flags.Int("paper-width", raster.DefaultWidthDot, "printable width in dots")
	flags.String("font", "", "font family")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "console", "log format: console or json")
	return flags, cfgPath
}

func run(ctx context.Context, command string, args []string) error {
	flags, cfgPath := commonFlags(command)

	var (
		align    = flags.String("align", "left", "text alignment: left, center or right")
		size     = flags.Int("size", 0, "font size in px for text, symbol size in dots for qr")
		centered = flags.Bool("center", true, "center narrow images")
		dither   = flags.Bool("dither", false, "dither images instead of thresholding")
		feed     = flags.Int("feed", 0, "blank lines to feed before cutting")
		noCut    = flags.Bool("no-cut", false, "do not cut after printing")
	)
	if command == "serve" {
		flags.String("address", "", "listen address")
	}
	if command == "fortune" {
		flags.String("fortunes", "", "JSON file of fortunes")
	}

	switch command {
	case "serve", "text", "image", "qr", "fortune", "raw":
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n\n%s", command, usage)
	}

	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath, flags)
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	switch command {
	case "serve":
		return a.serve(ctx)
	case "fortune":
		return a.fortune(ctx)
	}

	// Single-job commands share connect, init, print, feed, cut.
	if !a.session.Connect(ctx) {
		return fmt.Errorf("connect printer: %w", a.session.LastError())
	}
	if command != "raw" {
		if err := a.session.Init(ctx); err != nil {
			return err
		}
	}

	switch command {
	case "text":
		err = a.text(ctx, strings.Join(flags.Args(), " "), *align, *size)
	case "image":
		err = a.image(ctx, flags.Arg(0), *centered, *dither)
	case "qr":
		err = a.qr(ctx, strings.Join(flags.Args(), " "), *size)
	case "raw":
		return a.raw(ctx, flags.Arg(0))
	}
	if err != nil {
		return err
	}

	if *feed > 0 {
		if err := a.session.PrintBlankLines(ctx, *feed); err != nil {
			return err
		}
	}
	if *noCut {
		return nil
	}
	return a.session.Cut(ctx)
}

type app struct {
	cfg     *config.Config
	log     *zap.Logger
	layout  *typeset.Layout
	usb     *adapter.USBProvider
	session *printer.Session
}

func newApp(cfg *config.Config) (*app, error) {
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(log)

	layout := typeset.New()
	for family, path := range cfg.Fonts.Files {
		if err := layout.RegisterFile(family, path); err != nil {
			return nil, err
		}
		log.Info("Registered font", zap.String("family", family), zap.String("path", path))
	}
	if cfg.Fonts.DefaultFamily != "" {
		if err := layout.SetDefault(cfg.Fonts.DefaultFamily); err != nil {
			return nil, err
		}
	}

	encoder, err := qr.New(cfg.QR.Recovery, cfg.QR.Border)
	if err != nil {
		return nil, err
	}

	opts, err := cfg.SessionOptions()
	if err != nil {
		return nil, err
	}

	usb := adapter.NewUSBProvider(cfg.Printer.AnyPrinter, log)
	session := printer.NewSession(usb, layout, encoder, opts, log)
	session.OnStatus(func(st printer.Status) {
		log.Debug("Printer status changed", zap.Stringer("status", st))
	})

	return &app{cfg: cfg, log: log, layout: layout, usb: usb, session: session}, nil
}

func (a *app) close() {
	if err := a.session.Close(); err != nil {
		a.log.Warn("Failed to close printer", zap.Error(err))
	}
	if err := a.usb.Close(); err != nil {
		a.log.Warn("Failed to close USB context", zap.Error(err))
	}
	if err := a.layout.Close(); err != nil {
		a.log.Warn("Failed to release fonts", zap.Error(err))
	}
	_ = a.log.Sync()
}

func (a *app) serve(ctx context.Context) error {
	svr := server.NewWithLogger(a.session, a.cfg.Server.Address, a.log)
	if err := svr.StartAsync(); err != nil {
		return err
	}
	a.log.Info("Serving raw print jobs", zap.String("address", a.cfg.Server.Address))

	<-ctx.Done()
	return svr.Stop()
}

func (a *app) text(ctx context.Context, text, alignName string, size int) error {
	align, err := raster.ParseAlign(alignName)
	if err != nil {
		return err
	}
	if size <= 0 {
		size = a.session.Options().SpacingPx
	}
	return a.session.PrintRasterText(ctx, text, align, size)
}

func (a *app) image(ctx context.Context, path string, centered, dither bool) error {
	if path == "" {
		return errors.New("image path required")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	a.log.Debug("Decoded image", zap.String("format", format), zap.Stringer("bounds", img.Bounds()))

	img = raster.FitWidth(img, a.session.Options().PaperWidthDot)
	if dither {
		img = raster.Dither(img)
	}
	return a.session.PrintImage(ctx, img, centered)
}

func (a *app) qr(ctx context.Context, payload string, size int) error {
	if payload == "" {
		return errors.New("QR payload required")
	}
	if size <= 0 {
		size = receipt.QRSizeDot
	}
	return a.session.PrintQRCode(ctx, payload, size)
}

func (a *app) raw(ctx context.Context, path string) error {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return a.session.SendRaw(ctx, data)
}

func (a *app) fortune(ctx context.Context) error {
	var provider receipt.Provider = receipt.StaticProvider{Template: defaultFortune}
	if path := a.cfg.Receipt.FortunesFile; path != "" {
		fp, err := receipt.NewFileProvider(path)
		if err != nil {
			return err
		}
		provider = fp
	}

	share := receipt.DefaultShare()
	if a.cfg.Receipt.ShareURL != "" {
		share.PageURL = a.cfg.Receipt.ShareURL
	}

	composer := receipt.NewComposer(a.session, a.cfg.Receipt.Title, share, a.log)
	f, err := composer.Draw(ctx, provider)
	if err != nil {
		return err
	}
	a.log.Info("Fortune receipt printed", zap.String("rank", f.Rank))
	return nil
}

var defaultFortune = receipt.Fortune{
	Summary: "小さな一歩が大きな流れを生む日。思い立ったら迷わず動いてみましょう。",
	Love:    "素直なひと言が距離を縮めます❤️",
	Work:    "段取りを見直すと成果が一段上がります",
	Health:  "肩まわりのストレッチ◎",
	Money:   "衝動買いは一晩寝かせて吉",
}
