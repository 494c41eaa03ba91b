package adapter

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"github.com/nixxel-company-limited/escpos-raster-printer/printer"
)

// USBProvider finds printers on the local USB buses. It owns the libusb
// context; devices it returns stay valid until they or the provider close.
type USBProvider struct {
	ctx        *gousb.Context
	anyPrinter bool
	logger     *zap.Logger
	mu         sync.Mutex
}

// NewUSBProvider creates a provider. With anyPrinter set, Request falls back
// to the first printer-class device when none has the wanted identity.
func NewUSBProvider(anyPrinter bool, logger *zap.Logger) *USBProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &USBProvider{
		ctx:        gousb.NewContext(),
		anyPrinter: anyPrinter,
		logger:     logger.With(zap.String("component", "usb")),
	}
}

// Authorized opens the first device with the given vendor and product IDs.
func (p *USBProvider) Authorized(ctx context.Context, id printer.DeviceID) (printer.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	devices, err := p.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(id.Vendor) && desc.Product == gousb.ID(id.Product)
	})
	if len(devices) == 0 {
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", printer.ErrNoDevice, id)
	}
	if len(devices) > 1 {
		for _, d := range devices[1:] {
			d.Close()
		}
		p.logger.Warn("Multiple matching USB devices found, using first one", zap.Stringer("id", id))
	}
	return p.wrap(devices[0]), nil
}

// Request scans printer-class devices for one with the given identity, or
// any printer at all when the provider allows it.
func (p *USBProvider) Request(ctx context.Context, id printer.DeviceID) (printer.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	printers := FindPrinters(p.ctx)
	if len(printers) == 0 {
		return nil, fmt.Errorf("%w: no printer-class devices", printer.ErrNoDevice)
	}

	chosen := -1
	for i, dev := range printers {
		if dev.Desc.Vendor == gousb.ID(id.Vendor) && dev.Desc.Product == gousb.ID(id.Product) {
			chosen = i
			break
		}
	}
	if chosen < 0 && p.anyPrinter {
		chosen = 0
		p.logger.Warn("No printer with the configured identity, using first printer found",
			zap.Stringer("wanted", id),
			zap.String("found", fmt.Sprintf("%s:%s", printers[0].Desc.Vendor, printers[0].Desc.Product)),
		)
	}

	for i, dev := range printers {
		if i != chosen {
			dev.Close()
		}
	}
	if chosen < 0 {
		return nil, fmt.Errorf("%w: %s", printer.ErrNoDevice, id)
	}
	return p.wrap(printers[chosen]), nil
}

// Close releases the libusb context.
func (p *USBProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx.Close()
}

func (p *USBProvider) wrap(dev *gousb.Device) *USBDevice {
	// Set auto-detach kernel driver on Linux
	if runtime.GOOS == "linux" {
		if err := dev.SetAutoDetach(true); err != nil {
			p.logger.Warn("Failed to enable kernel driver auto-detach", zap.Error(err))
		}
	}
	p.logger.Info("Found USB printer", zap.String("device", dev.String()))
	return &USBDevice{
		device:    dev,
		logger:    p.logger.With(zap.String("device", dev.String())),
		endpoints: make(map[int]*gousb.OutEndpoint),
	}
}

// IsPrinter reports whether any interface of desc has the printer class.
func IsPrinter(desc *gousb.DeviceDesc) bool {
	if desc == nil {
		return false
	}
	for _, cfg := range desc.Configs {
		for _, iface := range cfg.Interfaces {
			for _, alt := range iface.AltSettings {
				if alt.Class == IfaceClassPrinter {
					return true
				}
			}
		}
	}
	return false
}

// FindPrinters opens every printer-class device.
func FindPrinters(ctx *gousb.Context) []*gousb.Device {
	devices, _ := ctx.OpenDevices(IsPrinter)
	return devices
}

// USBDevice is one open gousb device implementing printer.Device.
type USBDevice struct {
	device    *gousb.Device
	config    *gousb.Config
	iface     *gousb.Interface
	ifaceNum  int
	endpoints map[int]*gousb.OutEndpoint
	logger    *zap.Logger
	closed    bool
}

// Opened reports whether the device is still open.
func (d *USBDevice) Opened() bool {
	return d.device != nil && !d.closed
}

// Open fails for a closed device; libusb devices are open on discovery.
func (d *USBDevice) Open() error {
	if d.device == nil || d.closed {
		return errors.New("device closed, acquire it again")
	}
	return nil
}

// Configuration returns the active configuration number.
func (d *USBDevice) Configuration() (int, error) {
	return d.device.ActiveConfigNum()
}

// SelectConfiguration activates configuration n.
func (d *USBDevice) SelectConfiguration(n int) error {
	d.release()
	cfg, err := d.device.Config(n)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}
	d.config = cfg
	return nil
}

// ClaimInterface claims interface n at alternate setting 0. Claiming the
// interface already held is a no-op.
func (d *USBDevice) ClaimInterface(n int) error {
	if d.iface != nil && d.ifaceNum == n {
		return nil
	}
	if d.iface != nil {
		d.iface.Close()
		d.iface = nil
		clear(d.endpoints)
	}

	if d.config == nil {
		num, err := d.device.ActiveConfigNum()
		if err != nil {
			return fmt.Errorf("failed to get active config: %w", err)
		}
		cfg, err := d.device.Config(num)
		if err != nil {
			return fmt.Errorf("failed to get config: %w", err)
		}
		d.config = cfg
	}

	iface, err := d.config.Interface(n, 0)
	if err != nil {
		return fmt.Errorf("failed to claim interface: %w", err)
	}
	d.iface = iface
	d.ifaceNum = n
	d.logger.Debug("Interface claimed", zap.Int("interface", n))
	return nil
}

// TransferOut writes one bulk packet group to endpoint.
func (d *USBDevice) TransferOut(ctx context.Context, endpoint int, data []byte) (int, error) {
	if d.iface == nil {
		return 0, errors.New("interface not claimed")
	}

	ep, ok := d.endpoints[endpoint]
	if !ok {
		var err error
		ep, err = d.iface.OutEndpoint(endpoint)
		if err != nil {
			return 0, fmt.Errorf("failed to get out endpoint %d: %w", endpoint, err)
		}
		d.endpoints[endpoint] = ep
	}

	n, err := ep.WriteContext(ctx, data)
	if err != nil {
		return n, fmt.Errorf("write failed: %w", err)
	}
	return n, nil
}

// Close releases the interface, the configuration and the device.
func (d *USBDevice) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.release()
	if err := d.device.Close(); err != nil {
		return fmt.Errorf("close device: %w", err)
	}
	return nil
}

func (d *USBDevice) release() {
	if d.iface != nil {
		d.iface.Close()
		d.iface = nil
	}
	clear(d.endpoints)
	if d.config != nil {
		if err := d.config.Close(); err != nil {
			d.logger.Warn("Failed to release config", zap.Error(err))
		}
		d.config = nil
	}
}

// Descriptor returns the device descriptor.
func (d *USBDevice) Descriptor() *gousb.DeviceDesc {
	return d.device.Desc
}
