package qr

import (
	"encoding/base64"

	"github.com/skip2/go-qrcode"
)

const imageSize = 256

// Encode renders a ticket code as a PNG QR image. The output is a pure
// function of the code: the same code always yields byte-identical PNG data,
// so the stored image and any re-derived one stay interchangeable.
func Encode(ticketCode string) ([]byte, error) {
	return qrcode.Encode(ticketCode, qrcode.Medium, imageSize)
}

// DataURL wraps already-encoded PNG bytes in a data: URL, the form the
// success page renders directly into an <img> element.
func DataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
