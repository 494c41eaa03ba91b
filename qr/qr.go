// Package qr renders QR symbols as square pixel images for raster printing.
package qr

import (
	"fmt"
	"image"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// Encoder turns payloads into black-on-white QR images.
type Encoder struct {
	level  qrcode.RecoveryLevel
	border bool
}

// New creates an encoder for a recovery level of "low", "medium",
// "high" or "highest". The quiet zone is kept unless border is false.
func New(recovery string, border bool) (*Encoder, error) {
	level, err := ParseRecovery(recovery)
	if err != nil {
		return nil, err
	}
	return &Encoder{level: level, border: border}, nil
}

// ParseRecovery maps a recovery level name to its go-qrcode constant.
func ParseRecovery(s string) (qrcode.RecoveryLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "l":
		return qrcode.Low, nil
	case "", "medium", "m":
		return qrcode.Medium, nil
	case "high", "q":
		return qrcode.High, nil
	case "highest", "h":
		return qrcode.Highest, nil
	}
	return qrcode.Medium, fmt.Errorf("unknown QR recovery level %q", s)
}

// Encode renders payload as a sizeDot x sizeDot image. Payloads too dense
// for sizeDot yield a larger image rather than unreadable modules.
func (e *Encoder) Encode(payload string, sizeDot int) (image.Image, error) {
	if sizeDot <= 0 {
		return nil, fmt.Errorf("QR size %d must be positive", sizeDot)
	}

	code, err := qrcode.New(payload, e.level)
	if err != nil {
		return nil, fmt.Errorf("encode QR payload: %w", err)
	}
	code.DisableBorder = !e.border
	return code.Image(sizeDot), nil
}
