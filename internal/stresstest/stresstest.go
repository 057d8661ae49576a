// Package stresstest generates a self-describing calibration page: no
// real document payload, just every palette index and a handful of real
// barcode cells rendered at the configured version/EC tier, so a
// print/scan pipeline can be calibrated before committing an actual
// document to paper.
package stresstest

import (
	"fmt"
	"image"

	"github.com/inkarchive/rasterarchive/internal/barcode"
	"github.com/inkarchive/rasterarchive/internal/layout"
	"github.com/inkarchive/rasterarchive/internal/page"
	"github.com/inkarchive/rasterarchive/internal/palette"
	"github.com/inkarchive/rasterarchive/internal/planemux"
)

// Config controls page geometry and which barcode backend renders the
// demonstration cells.
type Config struct {
	PageWidthModules, PageHeightModules int
	Version                             int
	K                                   int
	Barcodes                            barcode.Encoder
}

// Generate renders one stress-test page: the full grid of cells at
// cfg.Version, cycling each cell's plane bits through every combination
// in [0, 2^K) in cell order so every palette entry is exercised at least
// once, with a short marker string barcoded into whichever planes are
// "set" for that cell (so the barcode encode path is exercised too, not
// just the color path).
func Generate(cfg Config) (image.Image, error) {
	k := cfg.K
	if k < 1 {
		k = 1
	}
	pal := palette.Build(k)

	lay := layout.Pack(cfg.PageWidthModules, cfg.PageHeightModules, cfg.Version, k, layout.ConstantDamageMap(0))
	if len(lay.Cells) == 0 {
		return nil, fmt.Errorf("stresstest: page dimensions too small to fit any cell at version %d", cfg.Version)
	}

	grid := image.NewRGBA(image.Rect(0, 0, lay.PageWidthModules, lay.PageHeightModules))
	for i := range grid.Pix {
		grid.Pix[i] = 0xFF
	}

	for i, cell := range lay.Cells {
		planes := make([]*planemux.Plane, k)
		size := cell.Size
		for c := 0; c < k; c++ {
			if (i>>uint(c))&1 == 0 {
				// A cleared plane bit is solid ink, so the cell's
				// background shows palette entry i exactly.
				planes[c] = planemux.NewPlane(size, size)
				continue
			}
			img, err := cfg.Barcodes.Encode(fmt.Sprintf("STRESSTEST%d", i), cell.Version, int(cell.EC))
			if err != nil {
				return nil, fmt.Errorf("stresstest: encoding cell %d plane %d: %w", i, c, err)
			}
			planes[c] = planeFromImage(img)
		}

		composite, err := planemux.Mux(planes, pal)
		if err != nil {
			return nil, fmt.Errorf("stresstest: mux cell %d: %w", i, err)
		}
		pasteOnto(grid, composite, cell.X, cell.Y)
	}

	layout := page.Layout{
		HeaderText: fmt.Sprintf("Stress test page (version %d, %d colors)", cfg.Version, 1<<uint(k)),
		FooterText: "Decode this page to verify the print/scan pipeline before archiving a real document.",
		Pal:        pal,
	}
	return layout.Render(grid), nil
}

func planeFromImage(img image.Image) *planemux.Plane {
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
