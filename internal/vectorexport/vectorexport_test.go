package vectorexport

import (
	"bytes"
	"image"
	"image/draw"
	"os"
	"testing"

	"github.com/dennwc/gotrace"
)

func solidSquare(size, inset int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(inset, inset, size-inset, size-inset), image.Black, image.Point{}, draw.Src)
	return img
}

func TestTraceFindsPath(t *testing.T) {
	img := solidSquare(40, 10)
	paths, err := Trace(img, &gotrace.Defaults)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if len(paths) == 0 {
		t.Fatalf("expected at least one traced path for a solid square")
	}
}

func TestWriteSinglePagePDFProducesParsableOutput(t *testing.T) {
	img := solidSquare(40, 10)
	paths, err := Trace(img, &gotrace.Defaults)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}

	path := t.TempDir() + "/out.pdf"
	if err := WriteSinglePagePDF(path, paths, 40, 40, 200, 200); err != nil {
		t.Fatalf("WriteSinglePagePDF: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !bytes.HasPrefix(got, []byte("%PDF-1.7")) {
		t.Fatalf("missing PDF header")
	}
	if !bytes.Contains(got, []byte("%%EOF")) {
		t.Fatalf("missing EOF marker")
	}
	if !bytes.Contains(got, []byte("/MediaBox [0 0 200.0000 200.0000]")) {
		t.Fatalf("missing expected MediaBox")
	}
}

func TestWriteSinglePagePDFEmptyPaths(t *testing.T) {
	path := t.TempDir() + "/empty.pdf"
	if err := WriteSinglePagePDF(path, nil, 10, 10, 100, 100); err != nil {
		t.Fatalf("WriteSinglePagePDF with no paths should still succeed: %v", err)
	}
}
