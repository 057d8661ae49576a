// Package planemux multiplexes k monochrome bit-plane images into one
// composite color image (and back), using a palette.Palette.
package planemux

import (
	"fmt"
	"image"
	"image/color"

	"github.com/inkarchive/rasterarchive/internal/palette"
)

// Plane is a monochrome bit plane: Pix[y*Stride+x] > 127 means "set".
// A set bit is a light pixel (paper background); a clear bit is ink. The
// all-set index therefore maps to white and the all-clear index to black,
// so unpainted page area stays white.
type Plane struct {
	Pix    []byte
	Stride int
	W, H   int
}

// NewPlane allocates a zeroed (all-clear, all-ink) plane of the given size.
func NewPlane(w, h int) *Plane {
	return &Plane{Pix: make([]byte, w*h), Stride: w, W: w, H: h}
}

// NewSolidPlane allocates a plane with every pixel at v. v=0xFF gives a
// blank (all-background) plane, the fill used for a cell plane carrying
// no frame.
func NewSolidPlane(w, h int, v byte) *Plane {
	p := NewPlane(w, h)
	for i := range p.Pix {
		p.Pix[i] = v
	}
	return p
}

func (p *Plane) At(x, y int) byte {
	return p.Pix[y*p.Stride+x]
}

func (p *Plane) Set(x, y int, v byte) {
	p.Pix[y*p.Stride+x] = v
}

// Sub extracts a w x h sub-plane starting at (x,y), copying pixels.
func (p *Plane) Sub(x, y, w, h int) *Plane {
	out := NewPlane(w, h)
	for sy := 0; sy < h; sy++ {
		for sx := 0; sx < w; sx++ {
			out.Set(sx, sy, p.At(x+sx, y+sy))
		}
	}
	return out
}

// ToImage renders the plane as a black/white image.Gray: light where a
// bit is set, ink where it is clear. A plane lifted from a rendered
// barcode image round-trips back to that image.
func (p *Plane) ToImage() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, p.W, p.H))
	for y := 0; y < p.H; y++ {
		for x := 0; x < p.W; x++ {
			v := byte(0x00)
			if p.At(x, y) > 127 {
				v = 0xFF
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

// Mux combines planes into a composite color image via the palette: for
// each pixel, idx = sum over planes of (set?1:0)<<c, then palette[idx].
func Mux(planes []*Plane, p palette.Palette) (*image.RGBA, error) {
	if len(planes) == 0 {
		return nil, fmt.Errorf("planemux: no planes given")
	}
	w, h := planes[0].W, planes[0].H
	for _, pl := range planes {
		if pl.W != w || pl.H != h {
			return nil, fmt.Errorf("planemux: plane size mismatch: got %dx%d, want %dx%d", pl.W, pl.H, w, h)
		}
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := 0
			for c, pl := range planes {
				if pl.At(x, y) > 127 {
					idx |= 1 << uint(c)
				}
			}
			if idx >= len(p.Colors) {
				idx = len(p.Colors) - 1
			}
			col := p.Colors[idx]
			off := out.PixOffset(x, y)
			out.Pix[off] = col.R
			out.Pix[off+1] = col.G
			out.Pix[off+2] = col.B
			out.Pix[off+3] = 0xFF
		}
	}
	return out, nil
}

// Demux splits a composite color image back into k monochrome planes by
// classifying each pixel through the palette and reading off its bits.
func Demux(img image.Image, p palette.Palette) []*Plane {
	k := p.K
	if k < 1 {
		k = 1
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	planes := make([]*Plane, k)
	for c := range planes {
		planes[c] = NewPlane(w, h)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bch, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			idx := p.Classify(uint8(r>>8), uint8(g>>8), uint8(bch>>8))
			for c := 0; c < k; c++ {
				if (idx>>uint(c))&1 != 0 {
					planes[c].Set(x, y, 0xFF)
				} else {
					planes[c].Set(x, y, 0x00)
				}
			}
		}
	}
	return planes
}
