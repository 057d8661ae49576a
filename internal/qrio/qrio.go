// Package qrio is the concrete barcode.Encoder/barcode.Recognizer pair
// backing this codec: github.com/skip2/go-qrcode for encoding and
// github.com/makiuchi-d/gozxing for recognition, matching the pair of
// libraries the retrieved pack actually uses for QR generation and
// reading rather than a single library doing both.
package qrio

import (
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	skipqr "github.com/skip2/go-qrcode"
)

// Codec implements barcode.Encoder and barcode.Recognizer. It decodes
// one symbol per call; the decoder package is responsible for cropping
// a page raster into per-cell sub-images before calling Recognize, since
// it already knows each cell's bounds from internal/layout.
type Codec struct {
	reader gozxing.Reader
}

// New builds a ready-to-use Codec.
func New() *Codec {
	return &Codec{reader: qrcode.NewQRCodeReader()}
}

func recoveryLevel(ec int) skipqr.RecoveryLevel {
	switch ec {
	case 0:
		return skipqr.Low
	case 1:
		return skipqr.Medium
	case 2:
		return skipqr.High
	default:
		return skipqr.Highest
	}
}

// Encode renders content (already base-45 expanded) into a QR symbol at
// exactly the requested version, one pixel per module and no built-in
// quiet zone border: internal/layout already reserves quiet-zone space
// between cells when packing the page.
func (c *Codec) Encode(content string, version int, ec int) (image.Image, error) {
	qr, err := skipqr.NewWithForcedVersion(content, version, recoveryLevel(ec))
	if err != nil {
		return nil, fmt.Errorf("qrio: encode: %w", err)
	}
	qr.DisableBorder = true
	size := 4*version + 17
	return qr.Image(size), nil
}

// Recognize decodes a single QR symbol from plane, returning its text
// content as the sole element of the result slice.
func (c *Codec) Recognize(plane image.Image) ([]string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(plane)
	if err != nil {
		return nil, fmt.Errorf("qrio: binarize: %w", err)
	}
	result, err := c.reader.Decode(bmp, nil)
	if err != nil {
		return nil, fmt.Errorf("qrio: decode: %w", err)
	}
	return []string{result.GetText()}, nil
}
