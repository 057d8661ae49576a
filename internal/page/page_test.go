package page

import (
	"image"
	"image/color"
	"os"
	"testing"

	"github.com/inkarchive/rasterarchive/internal/palette"
)

func TestRenderAddsStrips(t *testing.T) {
	grid := image.NewRGBA(image.Rect(0, 0, 100, 100))
	l := Layout{HeaderText: "doc.bin page 1", FooterText: "hash abc123", Pal: palette.Build(2)}
	out := l.Render(grid)

	wantH := 100 + 2*StripHeightPixels
	if out.Bounds().Dy() != wantH {
		t.Fatalf("page height = %d, want %d", out.Bounds().Dy(), wantH)
	}
	if out.Bounds().Dx() != 100 {
		t.Fatalf("page width = %d, want 100", out.Bounds().Dx())
	}
}

func TestRenderPreservesGridPixels(t *testing.T) {
	grid := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			grid.Set(x, y, color.Black)
		}
	}
	l := Layout{Pal: palette.Build(1)}
	out := l.Render(grid)

	r, g, b, _ := out.At(10, StripHeightPixels+10).RGBA()
	if r != 0 || g != 0 || b != 0 {
		t.Fatalf("expected grid pixel preserved as black, got %d %d %d", r, g, b)
	}
}

func TestInteriorInvertsRender(t *testing.T) {
	grid := image.NewRGBA(image.Rect(0, 0, 30, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 30; x++ {
			grid.Set(x, y, color.RGBA{uint8(x * 8), uint8(y * 8), 0, 255})
		}
	}
	l := Layout{HeaderText: "hdr", FooterText: "ftr", MarginPixels: 12, Pal: palette.Build(2)}
	full := l.Render(grid)

	got := Interior(full, 12, 30, 30)
	for _, pt := range [][2]int{{0, 0}, {7, 3}, {29, 29}} {
		wr, wg, wb, _ := grid.At(pt[0], pt[1]).RGBA()
		gr, gg, gb, _ := got.At(pt[0], pt[1]).RGBA()
		if wr != gr || wg != gg || wb != gb {
			t.Fatalf("pixel %v changed through render/interior round trip", pt)
		}
	}
}

func TestWriteReadPNGRoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 10), uint8(y * 10), 128, 255})
		}
	}
	path := t.TempDir() + "/p.png"
	if err := WritePNG(path, img); err != nil {
		t.Fatalf("WritePNG: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	got, err := ReadPNG(f)
	if err != nil {
		t.Fatalf("ReadPNG: %v", err)
	}
	if got.Bounds() != img.Bounds() {
		t.Fatalf("bounds mismatch: got %v, want %v", got.Bounds(), img.Bounds())
	}
}
