// Package page renders a full printable page raster: the barcode cell
// composite from internal/encoder, a header/footer text strip, and a
// palette swatch strip a decoder can use to bootstrap color
// recalibration even before it has recognized a single frame.
package page

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"os"

	"github.com/mattn/go-runewidth"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/inkarchive/rasterarchive/internal/palette"
)

// StripHeightPixels is the height reserved for the header/footer text
// strips and the palette swatch strip, above and below the barcode grid.
const StripHeightPixels = 24

// Layout composes a full page raster around a pre-rendered barcode grid
// image: a blank margin on every side, a header strip (document name,
// page number), the grid itself, and a footer strip with a palette
// swatch a decoder can sample before it has read any frame.
type Layout struct {
	HeaderText   string
	FooterText   string
	MarginPixels int
	Pal          palette.Palette
}

// Render draws grid onto a new page-sized canvas with header/footer
// strips above and below it, inset by the margin.
func (l Layout) Render(grid image.Image) *image.RGBA {
	m := l.MarginPixels
	if m < 0 {
		m = 0
	}
	gb := grid.Bounds()
	w := gb.Dx() + 2*m
	h := gb.Dy() + 2*StripHeightPixels + 2*m

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)
	gridTop := m + StripHeightPixels
	draw.Draw(out, image.Rect(m, gridTop, m+gb.Dx(), gridTop+gb.Dy()), grid, gb.Min, draw.Src)

	drawText(out, l.HeaderText, m+4, gridTop-8, gb.Dx()-8)
	drawText(out, l.FooterText, m+4, h-m-8, gb.Dx()-8)
	drawSwatch(out, l.Pal, w-m, gb.Dx(), gridTop+gb.Dy())

	return out
}

// Interior crops the page chrome Render added back off a full page
// raster, returning just the barcode grid area a decoder's cell
// geometry expects. gridW and gridH are the grid dimensions the page
// was encoded with.
func Interior(img image.Image, marginPixels, gridW, gridH int) image.Image {
	if marginPixels < 0 {
		marginPixels = 0
	}
	b := img.Bounds()
	x0 := b.Min.X + marginPixels
	y0 := b.Min.Y + marginPixels + StripHeightPixels

	out := image.NewRGBA(image.Rect(0, 0, gridW, gridH))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, image.Point{X: x0, Y: y0}, draw.Src)
	return out
}

// drawText truncates s to fit maxWidth pixels (accounting for
// double-width runes via go-runewidth) and draws it left-aligned at
// (x,baseline) using the fixed-width basic font face.
func drawText(dst draw.Image, s string, x, baseline, maxWidthPixels int) {
	face := basicfont.Face7x13
	maxChars := maxWidthPixels / face.Width
	s = runewidth.Truncate(s, maxChars, "...")

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: face,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(s)
}

// drawSwatch paints one small square of each palette color in the
// bottom-right corner of the footer strip, in palette order, so a
// decoder seeing only the swatch patch (no recognized frame yet) can
// still recalibrate color classification against a known reference. The
// swatches wrap onto additional rows until the patch is no wider than
// half the barcode area, and a 2-color (monochrome) palette needs no
// swatch at all.
func drawSwatch(dst draw.Image, pal palette.Palette, rightEdge, areaWidth, gridBottom int) {
	n := len(pal.Colors)
	if n <= 2 {
		return
	}

	rows := 1
	size := StripHeightPixels - 4
	perRow := n
	for perRow*size > areaWidth/2 && rows < n {
		rows++
		size = (StripHeightPixels - 4) / rows
		if size < 1 {
			size = 1
		}
		perRow = (n + rows - 1) / rows
	}

	x0 := rightEdge - perRow*size - 2
	if x0 < 0 {
		x0 = 0
	}
	for i, c := range pal.Colors {
		row, col := i/perRow, i%perRow
		x := x0 + col*size
		y := gridBottom + 2 + row*size
		rect := image.Rect(x, y, x+size, y+size)
		draw.Draw(dst, rect, image.NewUniform(color.RGBA{c.R, c.G, c.B, 0xFF}), image.Point{}, draw.Src)
	}
}

// WritePNG encodes img as a PNG to path.
func WritePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("page: creating %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("page: encoding %s: %w", path, err)
	}
	return nil
}

// ReadPNG decodes a PNG page raster from r.
func ReadPNG(r io.Reader) (image.Image, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("page: decoding PNG: %w", err)
	}
	return img, nil
}
