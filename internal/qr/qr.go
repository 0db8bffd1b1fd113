// Package qr renders the session token into a QR image. Presentation
// only; the attendance core deals in token strings.
package qr

import (
	"errors"

	qrcode "github.com/skip2/go-qrcode"
)

const defaultSize = 512

// RenderPNG encodes tokenStr as a PNG QR image of size x size pixels.
func RenderPNG(tokenStr string, size int) ([]byte, error) {
	if tokenStr == "" {
		return nil, errors.New("empty token")
	}
	if size <= 0 {
		size = defaultSize
	}
	return qrcode.Encode(tokenStr, qrcode.Medium, size)
}
