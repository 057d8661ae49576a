// Package encoder drives the whole encode pipeline: packing pages via
// internal/layout, assigning document bytes to cells in a pseudo-random
// per-page order, framing and base-45 expanding each plane's payload via
// internal/frame, rendering barcodes via a barcode.Encoder, and
// compositing k monochrome planes per cell into one color image via
// internal/planemux. Cross-page parity is computed separately by
// internal/parity once the data pages' byte slabs are known.
package encoder

import (
	"fmt"
	"image"

	"github.com/inkarchive/rasterarchive/internal/barcode"
	"github.com/inkarchive/rasterarchive/internal/frame"
	"github.com/inkarchive/rasterarchive/internal/integrity"
	"github.com/inkarchive/rasterarchive/internal/layout"
	"github.com/inkarchive/rasterarchive/internal/palette"
	"github.com/inkarchive/rasterarchive/internal/planemux"
)

// Config controls how pages are packed and rendered.
type Config struct {
	K                                   int // number of color bit planes (1 = monochrome)
	PageWidthModules, PageHeightModules int
	InitialVersion                      int
	DamageMap                           layout.DamageLikelihoodMap
	Barcodes                            barcode.Encoder
}

// MaxDocumentLength is the largest document this codec can address: the
// frame header's start-offset and total-length fields are both 48 bits.
const MaxDocumentLength = 1<<48 - 1

// CapacityExceededError is fatal (raised at encode time): the document
// is too large for the frame header's 48-bit length field, or the
// configured data/parity shard split exceeds the GF(2^8) 255-shard
// limit.
type CapacityExceededError struct {
	Reason string
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("encoder: capacity exceeded: %s", e.Reason)
}

// Page is one rendered page: its packing layout and composite color
// image, plus the document byte range it carries (parity pages carry a
// parity buffer instead and report StartOffset 0).
type Page struct {
	Number       int // 1-based position in the overall document
	Layout       layout.Layout
	Image        *image.RGBA
	Palette      palette.Palette
	StartOffset  uint64
	BytesCarried uint64
}

// Encoder packs and renders a document's data pages.
type Encoder struct {
	cfg Config
	pal palette.Palette
}

// New builds an Encoder. cfg.K selects the palette size (2^K colors).
func New(cfg Config) *Encoder {
	return &Encoder{cfg: cfg, pal: palette.Build(cfg.K)}
}

// lcgNext advances the pseudo-random cell-order generator: a classic
// constant-multiplier linear congruential generator (Numerical Recipes
// constants), chosen because it is trivially reproducible from just a
// 32-bit seed with no extra state, letting a reader regenerate the
// identical per-page cell order from documentHash^pageNumber alone.
func lcgNext(state uint32) uint32 {
	return state*1664525 + 1013904223
}

// cellOrder returns a pseudo-random permutation of [0,n) seeded by seed,
// via Fisher-Yates driven by the LCG.
func cellOrder(seed uint32, n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	state := seed
	for i := n - 1; i > 0; i-- {
		state = lcgNext(state)
		j := int(state % uint32(i+1))
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// Encode packs data into as many pages as needed, rendering each one.
func (e *Encoder) Encode(data []byte) ([]Page, error) {
	if uint64(len(data)) > MaxDocumentLength {
		return nil, &CapacityExceededError{Reason: fmt.Sprintf("document is %d bytes, exceeds the 48-bit length field's %d byte limit", len(data), MaxDocumentLength)}
	}

	docHash := integrity.HashBytes(data)
	total := uint64(len(data))

	var pages []Page
	var offset uint64

	for pageNum := 1; ; pageNum++ {
		lay := layout.Pack(e.cfg.PageWidthModules, e.cfg.PageHeightModules, e.cfg.InitialVersion, e.cfg.K, e.cfg.DamageMap)
		if len(lay.Cells) == 0 {
			return nil, fmt.Errorf("encoder: page dimensions too small to fit any cell at version %d", e.cfg.InitialVersion)
		}

		page, consumed, err := e.renderPage(lay, pageNum, docHash, data, offset, total)
		if err != nil {
			return nil, fmt.Errorf("encoder: page %d: %w", pageNum, err)
		}
		pages = append(pages, page)
		offset += consumed

		if offset >= total {
			break
		}
		if consumed == 0 {
			// A fully-packed page that still carries nothing would loop
			// forever; this only happens if every cell's capacity is 0
			// (damage map pinned to max EC at a version too small to
			// hold even one frame header).
			return nil, fmt.Errorf("encoder: page %d carried zero bytes; version %d too small for EC tiers in play", pageNum, e.cfg.InitialVersion)
		}
	}
	return pages, nil
}

func (e *Encoder) renderPage(lay layout.Layout, pageNum int, docHash uint32, data []byte, offset, total uint64) (Page, uint64, error) {
	seed := docHash ^ uint32(pageNum)
	order := cellOrder(seed, len(lay.Cells))

	k := e.cfg.K
	if k < 1 {
		k = 1
	}

	pageImg := newWhitePage(lay.PageWidthModules, lay.PageHeightModules)
	startOffset := offset
	cellCounter := 0
	done := false

	for _, idx := range order {
		cell := lay.Cells[idx]
		perPlane := cell.CapacityBytes / k
		if perPlane <= 0 {
			continue
		}

		planes := make([]*planemux.Plane, 0, k)
		for c := 0; c < k; c++ {
			n := perPlane
			if remaining := total - offset; uint64(n) > remaining {
				n = int(remaining)
			}
			payload := data[offset : offset+uint64(n)]

			h := frame.Header{
				PageNumber:   uint16(pageNum),
				BarcodeIndex: uint16(cellCounter*k + c),
				StartOffset:  offset,
				TotalLength:  total,
				DocumentHash: docHash,
			}
			content := frame.EncodeBase45(frame.Encode(h, payload))

			img, err := e.cfg.Barcodes.Encode(content, cell.Version, int(cell.EC))
			if err != nil {
				return Page{}, 0, fmt.Errorf("barcode encode cell %d plane %d: %w", idx, c, err)
			}
			planes = append(planes, imageToPlane(img))

			offset += uint64(n)
			if offset >= total {
				done = true
				break
			}
		}
		// Planes past the end of the document stay blank (background).
		for len(planes) < k {
			planes = append(planes, planemux.NewSolidPlane(planes[0].W, planes[0].H, 0xFF))
		}

		composite, err := planemux.Mux(planes, e.pal)
		if err != nil {
			return Page{}, 0, fmt.Errorf("mux cell %d: %w", idx, err)
		}
		pasteOnto(pageImg, composite, cell.X, cell.Y)

		cellCounter++
		if done {
			break
		}
	}

	return Page{
		Number:       pageNum,
		Layout:       lay,
		Image:        pageImg,
		Palette:      e.pal,
		StartOffset:  startOffset,
		BytesCarried: offset - startOffset,
	}, offset - startOffset, nil
}

// EncodeParityPage renders one parity page: buf is a single parity
// engine's striped output buffer (one byte per data-page column), framed
// with is_parity=true and the given parityIndex, with start offsets
// relative to the parity stripe rather than the document. pageNumber is
// this page's 1-based position in the overall document (data pages plus
// any preceding parity pages), used the same way a data page's number
// seeds its pseudo-random cell order.
func (e *Encoder) EncodeParityPage(pageNumber, parityIndex int, docHash uint32, totalLength uint64, buf []byte) (Page, error) {
	lay := layout.Pack(e.cfg.PageWidthModules, e.cfg.PageHeightModules, e.cfg.InitialVersion, e.cfg.K, e.cfg.DamageMap)
	if len(lay.Cells) == 0 {
		return Page{}, fmt.Errorf("encoder: page dimensions too small to fit any cell at version %d", e.cfg.InitialVersion)
	}

	seed := docHash ^ uint32(pageNumber)
	order := cellOrder(seed, len(lay.Cells))

	k := e.cfg.K
	if k < 1 {
		k = 1
	}

	pageImg := newWhitePage(lay.PageWidthModules, lay.PageHeightModules)
	var offset uint64
	cellCounter := 0
	total := uint64(len(buf))

	for _, idx := range order {
		if offset >= total {
			break
		}
		cell := lay.Cells[idx]
		perPlane := cell.CapacityBytes / k
		if perPlane <= 0 {
			continue
		}

		planes := make([]*planemux.Plane, 0, k)
		for c := 0; c < k && offset < total; c++ {
			n := perPlane
			if remaining := total - offset; uint64(n) > remaining {
				n = int(remaining)
			}
			payload := buf[offset : offset+uint64(n)]

			h := frame.Header{
				PageNumber:   uint16(pageNumber),
				IsParity:     true,
				BarcodeIndex: uint16(cellCounter*k + c),
				ParityIndex:  byte(parityIndex),
				StartOffset:  offset,
				TotalLength:  totalLength,
				DocumentHash: docHash,
			}
			content := frame.EncodeBase45(frame.Encode(h, payload))

			img, err := e.cfg.Barcodes.Encode(content, cell.Version, int(cell.EC))
			if err != nil {
				return Page{}, fmt.Errorf("parity barcode encode cell %d plane %d: %w", idx, c, err)
			}
			planes = append(planes, imageToPlane(img))

			offset += uint64(n)
		}
		for len(planes) < k {
			planes = append(planes, planemux.NewSolidPlane(planes[0].W, planes[0].H, 0xFF))
		}

		composite, err := planemux.Mux(planes, e.pal)
		if err != nil {
			return Page{}, fmt.Errorf("mux parity cell %d: %w", idx, err)
		}
		pasteOnto(pageImg, composite, cell.X, cell.Y)
		cellCounter++
	}

	return Page{
		Number:       pageNumber,
		Layout:       lay,
		Image:        pageImg,
		Palette:      e.pal,
		StartOffset:  0,
		BytesCarried: offset,
	}, nil
}

// newWhitePage allocates a page canvas filled with the paper background;
// inter-cell gaps double as the collective quiet zone.
func newWhitePage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xFF
	}
	return img
}

// imageToPlane lifts a rendered monochrome barcode image into a bit
// plane: light pixels (background) set the bit, ink clears it.
func imageToPlane(img image.Image) *planemux.Plane {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	p := planemux.NewPlane(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			lum := (r + g + bl) / 3
			if lum >= 0x8000 {
				p.Set(x, y, 0xFF)
			}
		}
	}
	return p
}

func pasteOnto(dst *image.RGBA, src image.Image, x, y int) {
	b := src.Bounds()
	for sy := 0; sy < b.Dy(); sy++ {
		for sx := 0; sx < b.Dx(); sx++ {
			dst.Set(x+sx, y+sy, src.At(b.Min.X+sx, b.Min.Y+sy))
		}
	}
}
