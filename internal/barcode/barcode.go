// Package barcode defines the contract between the layout/encoder layers
// and a concrete 2D matrix barcode implementation, so the rest of the
// codec never depends directly on a particular symbology library.
package barcode

import "image"

// Encoder renders text content (already base-45 expanded by the frame
// layer) into a monochrome matrix barcode image at the requested QR
// version and EC level.
type Encoder interface {
	Encode(content string, version int, ec int) (image.Image, error)
}

// Recognizer locates and decodes matrix barcodes within an already
// demultiplexed monochrome plane image, returning each decoded symbol's
// text content in reading order.
type Recognizer interface {
	Recognize(plane image.Image) ([]string, error)
}
