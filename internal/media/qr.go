package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
	"github.com/vincent-petithory/dataurl"
)

// ErrNoPairingCode is returned when the gateway sent neither an image nor a code.
var ErrNoPairingCode = errors.New("no pairing code available")

const qrSize = 256

// NormalizeQRCode turns gateway pairing material into a PNG data URL.
// A pre-rendered image wins; otherwise the raw pairing string is rendered locally.
func NormalizeQRCode(rendered, raw string) (string, error) {
	if rendered = strings.TrimSpace(rendered); rendered != "" {
		return normalizeRendered(rendered)
	}
	if raw = strings.TrimSpace(raw); raw != "" {
		return RenderQRCode(raw)
	}
	return "", ErrNoPairingCode
}

// RenderQRCode encodes content into a scannable PNG data URL.
func RenderQRCode(content string) (string, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, qrSize)
	if err != nil {
		return "", fmt.Errorf("render qr code: %w", err)
	}
	return dataurl.New(png, "image/png").String(), nil
}

func normalizeRendered(rendered string) (string, error) {
	if strings.HasPrefix(rendered, "data:") {
		if _, err := dataurl.DecodeString(rendered); err != nil {
			return "", fmt.Errorf("decode qr data url: %w", err)
		}
		return rendered, nil
	}
	raw, err := base64.StdEncoding.DecodeString(rendered)
	if err != nil {
		return "", fmt.Errorf("decode qr base64: %w", err)
	}
	return dataurl.New(raw, "image/png").String(), nil
}
