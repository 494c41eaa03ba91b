package printer

import (
	"context"
	"errors"
	"fmt"
	"image"
)

var (
	// ErrNotConnected is returned by every operation that needs a device
	// handle when Connect has not succeeded.
	ErrNotConnected = errors.New("printer not connected")

	// ErrDeviceAcquisition wraps the reason Connect could not obtain,
	// configure or claim the printer.
	ErrDeviceAcquisition = errors.New("device acquisition failed")

	// ErrTransferFailed wraps a bulk transfer rejected by the transport.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrNoDevice is returned by a DeviceProvider when nothing matches.
	ErrNoDevice = errors.New("no matching device")
)

// DeviceID is a USB vendor/product pair.
type DeviceID struct {
	Vendor  uint16
	Product uint16
}

func (id DeviceID) String() string {
	return fmt.Sprintf("%04x:%04x", id.Vendor, id.Product)
}

// Device is an acquired USB printer. Implementations need not be safe for
// concurrent use; the session owns the device exclusively.
type Device interface {
	// Opened reports whether the device is open.
	Opened() bool

	// Open opens the device.
	Open() error

	// Configuration returns the active configuration value, 0 if none.
	Configuration() (int, error)

	// SelectConfiguration activates configuration n.
	SelectConfiguration(n int) error

	// ClaimInterface claims interface n, alternate setting 0.
	ClaimInterface(n int) error

	// TransferOut performs one bulk OUT transfer to endpoint.
	TransferOut(ctx context.Context, endpoint int, data []byte) (int, error)

	// Close releases the interface and the device.
	Close() error
}

// DeviceProvider locates printers for a session.
type DeviceProvider interface {
	// Authorized returns an already-accessible device with the given
	// identity, or ErrNoDevice.
	Authorized(ctx context.Context, id DeviceID) (Device, error)

	// Request asks the platform for a new device with the given identity.
	Request(ctx context.Context, id DeviceID) (Device, error)
}

// QREncoder renders a payload as a square image sizeDot dots wide.
type QREncoder interface {
	Encode(payload string, sizeDot int) (image.Image, error)
}
