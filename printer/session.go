// Package printer drives one ESC/POS printer over a bulk-transfer USB link.
//
// A Session owns the device handle and sequences the commands of a receipt:
// Connect, Init, any number of raster, blank-line and QR prints, then Cut.
// Operations are meant to be issued one at a time; the session does not
// queue or serialise concurrent callers.
package printer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"

	"github.com/nixxel-company-limited/escpos-raster-printer/escpos"
	"github.com/nixxel-company-limited/escpos-raster-printer/raster"
)

// Defaults for the reference 58mm USB receipt printer.
const (
	DefaultVendorID      = 0x0416
	DefaultProductID     = 0x5011
	DefaultConfiguration = 1
	DefaultInterface     = 0
	DefaultEndpoint      = 1
	DefaultChunkSize     = 64
	DefaultSpacingPx     = 20
	DefaultQRFeedLines   = 3
)

// traceLimit is the largest frame logged in full at debug level.
const traceLimit = 16

// Options configures a Session.
type Options struct {
	Identity      DeviceID
	Configuration int
	Interface     int
	Endpoint      int
	ChunkSize     int
	PaperWidthDot int
	FontFamily    string
	SpacingPx     int
	QRFeedLines   int
	Cut           CutMode
}

// DefaultOptions returns options for the reference printer.
func DefaultOptions() Options {
	return Options{
		Identity:      DeviceID{Vendor: DefaultVendorID, Product: DefaultProductID},
		Configuration: DefaultConfiguration,
		Interface:     DefaultInterface,
		Endpoint:      DefaultEndpoint,
		ChunkSize:     DefaultChunkSize,
		PaperWidthDot: raster.DefaultWidthDot,
		SpacingPx:     DefaultSpacingPx,
		QRFeedLines:   DefaultQRFeedLines,
		Cut:           CutFull,
	}
}

// Session is the connection to one printer.
type Session struct {
	provider DeviceProvider
	engine   *raster.Engine
	qr       QREncoder
	opts     Options
	logger   *zap.Logger

	mu        sync.Mutex
	device    Device
	status    Status
	lastErr   error
	listeners []func(Status)
}

// NewSession creates an idle session. Zero-valued numeric options take
// their defaults.
func NewSession(provider DeviceProvider, layout raster.TextLayout, qr QREncoder, opts Options, logger *zap.Logger) *Session {
	def := DefaultOptions()
	if opts.Identity == (DeviceID{}) {
		opts.Identity = def.Identity
	}
	if opts.Configuration <= 0 {
		opts.Configuration = def.Configuration
	}
	if opts.Endpoint <= 0 {
		opts.Endpoint = def.Endpoint
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.PaperWidthDot <= 0 {
		opts.PaperWidthDot = def.PaperWidthDot
	}
	if opts.SpacingPx <= 0 {
		opts.SpacingPx = def.SpacingPx
	}
	if opts.QRFeedLines <= 0 {
		opts.QRFeedLines = def.QRFeedLines
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Session{
		provider: provider,
		engine:   raster.NewEngine(layout),
		qr:       qr,
		opts:     opts,
		logger: logger.With(
			zap.String("component", "printer"),
			zap.Stringer("device", opts.Identity),
		),
		status: StatusIdle,
	}
}

// Options returns the effective options.
func (s *Session) Options() Options {
	return s.opts
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastError returns the failure behind the most recent Error status.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Connected reports whether a device handle is held.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device != nil
}

// OnStatus registers fn to be called, in order, on every status change.
func (s *Session) OnStatus(fn func(Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	changed := s.status != st
	s.status = st
	listeners := append([]func(Status){}, s.listeners...)
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(st)
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.logger.Error("Printer operation failed", zap.Error(err))
	s.setStatus(StatusError)
}

// Connect acquires the printer: the held handle if there is one, else an
// already-authorized device with the configured identity, else a newly
// requested one. The device is opened, configured and its interface
// claimed. Failure is reported through the return value and the Error
// status, never as an error, so callers can simply retry.
func (s *Session) Connect(ctx context.Context) bool {
	s.setStatus(StatusConnecting)

	s.mu.Lock()
	held := s.device
	s.mu.Unlock()

	dev := held
	if dev == nil {
		var err error
		dev, err = s.acquire(ctx)
		if err != nil {
			s.fail(fmt.Errorf("%w: %w", ErrDeviceAcquisition, err))
			return false
		}
	}

	if err := s.prepare(dev); err != nil {
		if cerr := dev.Close(); cerr != nil {
			s.logger.Warn("Failed to release device", zap.Error(cerr))
		}
		s.mu.Lock()
		s.device = nil
		s.mu.Unlock()
		s.fail(fmt.Errorf("%w: %w", ErrDeviceAcquisition, err))
		return false
	}

	s.mu.Lock()
	s.device = dev
	s.lastErr = nil
	s.mu.Unlock()

	s.logger.Info("Printer connected", zap.Bool("reused", held != nil))
	s.setStatus(StatusIdle)
	return true
}

func (s *Session) acquire(ctx context.Context) (Device, error) {
	id := s.opts.Identity

	dev, err := s.provider.Authorized(ctx, id)
	if err == nil && dev != nil {
		return dev, nil
	}
	if err != nil && !errors.Is(err, ErrNoDevice) {
		s.logger.Warn("Authorized device lookup failed", zap.Error(err))
	}

	s.logger.Info("Requesting printer device")
	dev, err = s.provider.Request(ctx, id)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, id)
	}
	return dev, nil
}

func (s *Session) prepare(dev Device) error {
	if !dev.Opened() {
		if err := dev.Open(); err != nil {
			return fmt.Errorf("open: %w", err)
		}
	}

	cfg, err := dev.Configuration()
	if err != nil || cfg == 0 {
		if err := dev.SelectConfiguration(s.opts.Configuration); err != nil {
			return fmt.Errorf("select configuration %d: %w", s.opts.Configuration, err)
		}
	}

	if err := dev.ClaimInterface(s.opts.Interface); err != nil {
		return fmt.Errorf("claim interface %d: %w", s.opts.Interface, err)
	}
	return nil
}

// held returns the device or fails the session with ErrNotConnected.
func (s *Session) held() (Device, error) {
	s.mu.Lock()
	dev := s.device
	s.mu.Unlock()

	if dev == nil {
		s.fail(ErrNotConnected)
		return nil, ErrNotConnected
	}
	return dev, nil
}

// SendRaw writes data to the bulk OUT endpoint in chunks of at most
// ChunkSize bytes, in order. The first rejected chunk aborts the rest.
func (s *Session) SendRaw(ctx context.Context, data []byte) error {
	dev, err := s.held()
	if err != nil {
		return err
	}
	return s.send(ctx, dev, "", data)
}

func (s *Session) send(ctx context.Context, dev Device, label string, data []byte) error {
	s.trace(label, data)

	for off := 0; off < len(data); off += s.opts.ChunkSize {
		chunk := data[off:min(off+s.opts.ChunkSize, len(data))]
		n, err := dev.TransferOut(ctx, s.opts.Endpoint, chunk)
		if err == nil && n != len(chunk) {
			err = fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(chunk))
		}
		if err != nil {
			err = fmt.Errorf("%w: chunk at offset %d of %d bytes: %w", ErrTransferFailed, off, len(data), err)
			s.fail(err)
			return err
		}
	}
	return nil
}

func (s *Session) trace(label string, data []byte) {
	if ce := s.logger.Check(zap.DebugLevel, "Sending frame"); ce != nil {
		fields := []zap.Field{zap.String("command", label), zap.Int("bytes", len(data))}
		if label != "" || len(data) <= traceLimit {
			fields = append(fields, zap.String("hex", fmt.Sprintf("% X", data[:min(len(data), traceLimit)])))
		}
		ce.Write(fields...)
	}
}

// begin fetches the handle and enters Printing.
func (s *Session) begin() (Device, error) {
	dev, err := s.held()
	if err != nil {
		return nil, err
	}
	s.setStatus(StatusPrinting)
	return dev, nil
}

// Init sends ESC @. Call it once per receipt, right after Connect.
func (s *Session) Init(ctx context.Context) error {
	dev, err := s.begin()
	if err != nil {
		return err
	}
	return s.send(ctx, dev, "ESC @", escpos.EncodeInitialize())
}

// PrintRasterText renders text at the paper width and prints it as one
// raster bitmap.
func (s *Session) PrintRasterText(ctx context.Context, text string, align raster.Align, fontSizePx int) error {
	dev, err := s.begin()
	if err != nil {
		return err
	}

	r, err := s.engine.RasterizeText(text, fontSizePx, s.opts.FontFamily, s.opts.PaperWidthDot, align)
	if err != nil {
		s.fail(err)
		return err
	}
	return s.sendRaster(ctx, dev, r)
}

// PrintBlankLines feeds n text lines of blank paper using a single raster
// whose height spans all n lines.
func (s *Session) PrintBlankLines(ctx context.Context, n int) error {
	dev, err := s.begin()
	if err != nil {
		return err
	}

	r, err := raster.GenerateBlankRaster(n, s.opts.SpacingPx, s.opts.PaperWidthDot)
	if err != nil {
		s.fail(err)
		return err
	}
	return s.sendRaster(ctx, dev, r)
}

// PrintQRCode prints payload as a sizeDot QR symbol at its native width,
// preceded by ESC @ and followed by a short paper feed.
func (s *Session) PrintQRCode(ctx context.Context, payload string, sizeDot int) error {
	dev, err := s.begin()
	if err != nil {
		return err
	}
	if s.qr == nil {
		err := errors.New("no QR encoder configured")
		s.fail(err)
		return err
	}

	img, err := s.qr.Encode(payload, sizeDot)
	if err != nil {
		s.fail(err)
		return err
	}
	r, err := raster.FromImage(img, s.opts.PaperWidthDot, false)
	if err != nil {
		s.fail(err)
		return err
	}

	if err := s.send(ctx, dev, "ESC @", escpos.EncodeInitialize()); err != nil {
		return err
	}
	if err := s.sendRaster(ctx, dev, r); err != nil {
		return err
	}
	return s.send(ctx, dev, "LF", escpos.EncodeLineFeeds(s.opts.QRFeedLines))
}

// PrintImage prints an arbitrary image, optionally centered on the paper.
func (s *Session) PrintImage(ctx context.Context, img image.Image, centered bool) error {
	dev, err := s.begin()
	if err != nil {
		return err
	}

	r, err := raster.FromImage(img, s.opts.PaperWidthDot, centered)
	if err != nil {
		s.fail(err)
		return err
	}
	return s.sendRaster(ctx, dev, r)
}

// PrintText sends text as a Shift_JIS line for printers without raster
// support. The text is not wrapped.
func (s *Session) PrintText(ctx context.Context, text string) error {
	dev, err := s.begin()
	if err != nil {
		return err
	}
	return s.send(ctx, dev, "text", escpos.EncodeTextLine(text))
}

// Cut cuts the paper and marks the receipt done.
func (s *Session) Cut(ctx context.Context) error {
	dev, err := s.held()
	if err != nil {
		return err
	}

	frame := escpos.EncodeCut()
	if s.opts.Cut == CutPartial {
		frame = escpos.EncodePartialCut()
	}
	if err := s.send(ctx, dev, "GS V", frame); err != nil {
		return err
	}
	s.setStatus(StatusDone)
	return nil
}

func (s *Session) sendRaster(ctx context.Context, dev Device, r *raster.Raster) error {
	frame, err := escpos.EncodeRasterBitmap(r)
	if err != nil {
		s.fail(err)
		return err
	}
	s.logger.Debug("Raster bitmap",
		zap.Int("width_dot", r.WidthDot),
		zap.Int("height_dot", r.HeightDot),
		zap.Int("row_bytes", r.RowBytes),
	)
	return s.send(ctx, dev, "GS v 0", frame)
}

// Close releases the device handle. The session can Connect again later.
func (s *Session) Close() error {
	s.mu.Lock()
	dev := s.device
	s.device = nil
	s.mu.Unlock()

	if dev == nil {
		return nil
	}
	s.setStatus(StatusIdle)
	if err := dev.Close(); err != nil {
		return fmt.Errorf("close device: %w", err)
	}
	s.logger.Info("Printer disconnected")
	return nil
}
