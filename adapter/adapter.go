// Package adapter connects printer sessions to real USB hardware through
// libusb (github.com/google/gousb).
package adapter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nixxel-company-limited/escpos-raster-printer/printer"
)

// Interface class codes
// Reference: http://www.usb.org/developers/defined_class
const (
	IfaceClassPrinter = 0x07
	IfaceClassVendor  = 0xFF
)

var (
	_ printer.Device         = (*USBDevice)(nil)
	_ printer.DeviceProvider = (*USBProvider)(nil)
)

// ParseID parses a 16-bit hex USB identifier such as "0x0416" or "5011".
func ParseID(hexStr string) (uint16, error) {
	s := strings.TrimSpace(hexStr)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	id, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid USB id %q: %w", hexStr, err)
	}
	return uint16(id), nil
}

// ParseDeviceID parses "vvvv:pppp".
func ParseDeviceID(s string) (printer.DeviceID, error) {
	vendor, product, ok := strings.Cut(s, ":")
	if !ok {
		return printer.DeviceID{}, fmt.Errorf("invalid device id %q, want vendor:product", s)
	}
	v, err := ParseID(vendor)
	if err != nil {
		return printer.DeviceID{}, err
	}
	p, err := ParseID(product)
	if err != nil {
		return printer.DeviceID{}, err
	}
	return printer.DeviceID{Vendor: v, Product: p}, nil
}
