// Package vectorexport traces a rendered page's dark pixels into vector
// outlines and writes them as a vector-only PDF, suitable for engraving
// or plotting an archival page rather than printing its raster directly.
package vectorexport

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"strconv"

	"github.com/dennwc/gotrace"
)

// appendFloat4 appends f rounded to 4 decimal places, matching the PDF
// content-stream precision used for barcode page coordinates.
func appendFloat4(buf []byte, f float64) []byte {
	rounded := math.Round(f*10000) / 10000
	return strconv.AppendFloat(buf, rounded, 'f', 4, 64)
}

// appendSubpathTree recursively appends a traced path and its children
// (holes, islands) so the even-odd fill rule (f*) cuts out enclosed
// counters correctly.
func appendSubpathTree(buf []byte, p gotrace.Path, sx, sy, pageHeightPt float64) []byte {
	c := p.Curve
	if len(c) > 0 {
		last := c[len(c)-1]
		buf = appendFloat4(buf, last.Pnt[2].X*sx)
		buf = append(buf, ' ')
		buf = appendFloat4(buf, pageHeightPt-last.Pnt[2].Y*sy)
		buf = append(buf, " m\n"...)

		for _, seg := range c {
			switch seg.Type {
			case gotrace.TypeBezier:
				buf = appendFloat4(buf, seg.Pnt[0].X*sx)
				buf = append(buf, ' ')
				buf = appendFloat4(buf, pageHeightPt-seg.Pnt[0].Y*sy)
				buf = append(buf, ' ')
				buf = appendFloat4(buf, seg.Pnt[1].X*sx)
				buf = append(buf, ' ')
				buf = appendFloat4(buf, pageHeightPt-seg.Pnt[1].Y*sy)
				buf = append(buf, ' ')
				buf = appendFloat4(buf, seg.Pnt[2].X*sx)
				buf = append(buf, ' ')
				buf = appendFloat4(buf, pageHeightPt-seg.Pnt[2].Y*sy)
				buf = append(buf, " c\n"...)
			case gotrace.TypeCorner:
				buf = appendFloat4(buf, seg.Pnt[1].X*sx)
				buf = append(buf, ' ')
				buf = appendFloat4(buf, pageHeightPt-seg.Pnt[1].Y*sy)
				buf = append(buf, " l\n"...)
				buf = appendFloat4(buf, seg.Pnt[2].X*sx)
				buf = append(buf, ' ')
				buf = appendFloat4(buf, pageHeightPt-seg.Pnt[2].Y*sy)
				buf = append(buf, " l\n"...)
			}
		}
		buf = append(buf, "h\n"...)
	}
	for _, child := range p.Childs {
		buf = appendSubpathTree(buf, child, sx, sy, pageHeightPt)
	}
	return buf
}

// Trace vectorizes the dark pixels of img (a rendered page raster) into
// a tree of paths via potrace-style bitmap tracing.
func Trace(img image.Image, params *gotrace.Params) ([]gotrace.Path, error) {
	bm := gotrace.NewBitmapFromImage(img, func(x, y int, cl color.Color) bool {
		r, g, b, _ := cl.RGBA()
		return (r+g+b)/3 < 0x8000
	})
	paths, err := gotrace.Trace(bm, params)
	if err != nil {
		return nil, fmt.Errorf("vectorexport: tracing: %w", err)
	}
	return paths, nil
}

// WriteSinglePagePDF writes a minimal single-page vector-only PDF whose
// content stream fills paths (traced at pixel resolution width x height)
// scaled to pageWidthPt x pageHeightPt, in black.
func WriteSinglePagePDF(outPath string, paths []gotrace.Path, width, height int, pageWidthPt, pageHeightPt float64) error {
	sx := pageWidthPt / float64(width)
	sy := pageHeightPt / float64(height)

	content := make([]byte, 0, 16*1024)
	content = append(content, "q\n0 0 0 rg\n"...)
	for _, p := range paths {
		content = appendSubpathTree(content, p, sx, sy, pageHeightPt)
	}
	content = append(content, "f*\nQ\n"...)

	pageObj := fmt.Sprintf(
		"3 0 obj\n<< /Type /Page\n   /Parent 2 0 R\n   /MediaBox [0 0 %.4f %.4f]\n   /Contents 4 0 R\n   /Resources << >>\n>>\nendobj\n",
		pageWidthPt, pageHeightPt,
	)
	contentsObj := fmt.Sprintf("4 0 obj\n<< /Length %d >>\nstream\n%sendstream\nendobj\n", len(content), content)

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("vectorexport: creating %s: %w", outPath, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	var offset uint64
	write := func(s string) {
		w.WriteString(s)
		offset += uint64(len(s))
	}

	xref := make([]uint64, 4)
	write("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	xref[0] = offset
	write("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	xref[1] = offset
	write("2 0 obj\n<< /Type /Pages /Kids [ 3 0 R ] /Count 1 >>\nendobj\n")

	xref[2] = offset
	write(pageObj)

	xref[3] = offset
	write(contentsObj)

	xrefStart := offset
	write("xref\n0 5\n0000000000 65535 f \n")
	var buf bytes.Buffer
	for _, off := range xref {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	write(buf.String())
	write("trailer\n<< /Size 5 /Root 1 0 R >>\n")
	write(fmt.Sprintf("startxref\n%d\n%%%%EOF\n", xrefStart))

	return w.Flush()
}
