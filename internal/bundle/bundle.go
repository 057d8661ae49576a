// Package bundle assembles rendered raster pages into a single printable
// PDF, writing PDF objects directly rather than going through a
// higher-level document model (each page is just one full-bleed image
// XObject).
package bundle

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Page is one page to place into the bundle: a rendered raster image
// plus the physical page size, in PDF points, it should fill.
type Page struct {
	Image                     image.Image
	WidthPoints, HeightPoints float64
}

type pdfObject struct {
	id   int
	data []byte
}

type pdfWriter struct {
	w      *bufio.Writer
	offset uint64
}

func (pw *pdfWriter) write(data []byte) {
	pw.w.Write(data)
	pw.offset += uint64(len(data))
}

func (pw *pdfWriter) writeStr(s string) {
	pw.w.WriteString(s)
	pw.offset += uint64(len(s))
}

func (pw *pdfWriter) writeHeader() {
	pw.write([]byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n"))
}

func (pw *pdfWriter) writeXrefTrailer(xrefOffsets []uint64, totalObjects int) {
	xrefStart := pw.offset
	pw.writeStr("xref\n")
	pw.writeStr(fmt.Sprintf("0 %d\n", totalObjects+1))
	pw.writeStr("0000000000 65535 f \n")
	for _, off := range xrefOffsets {
		fmt.Fprintf(pw.w, "%010d 00000 n \n", off)
		pw.offset += 20
	}
	pw.writeStr("trailer\n")
	pw.writeStr(fmt.Sprintf("<< /Size %d /Root 1 0 R >>\n", totalObjects+1))
	pw.writeStr("startxref\n")
	pw.writeStr(fmt.Sprintf("%d\n", xrefStart))
	pw.writeStr("%%EOF\n")
}

func appendFloat4(buf []byte, f float64) []byte {
	return strconv.AppendFloat(buf, f, 'f', 4, 64)
}

func compressZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) / 4)
	w, err := zlib.NewWriterLevel(&buf, zlib.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func imageToRGB(img image.Image) (rgb []byte, w, h int) {
	b := img.Bounds()
	w, h = b.Dx(), b.Dy()
	rgb = make([]byte, w*h*3)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bch, _ := img.At(x, y).RGBA()
			rgb[i] = byte(r >> 8)
			rgb[i+1] = byte(g >> 8)
			rgb[i+2] = byte(bch >> 8)
			i += 3
		}
	}
	return rgb, w, h
}

func buildPageChunk(p Page, objStart int) (objs []pdfObject, numObjects int, err error) {
	rgb, w, h := imageToRGB(p.Image)
	compressed, err := compressZlib(rgb)
	if err != nil {
		return nil, 0, fmt.Errorf("bundle: compressing page image: %w", err)
	}

	pageObjID := objStart
	contentsObjID := objStart + 1
	imageObjID := objStart + 2
	numObjects = 3

	content := make([]byte, 0, 64)
	content = append(content, "q\n"...)
	content = appendFloat4(content, p.WidthPoints)
	content = append(content, " 0 0 "...)
	content = appendFloat4(content, p.HeightPoints)
	content = append(content, " 0 0 cm\n/Im1 Do\nQ\n"...)

	pageObj := fmt.Sprintf(
		"%d 0 obj\n<< /Type /Page\n   /Parent 2 0 R\n   /MediaBox [0 0 %.4f %.4f]\n   /Contents %d 0 R\n   /Resources << /XObject << /Im1 %d 0 R >> >>\n>>\nendobj\n",
		pageObjID, p.WidthPoints, p.HeightPoints, contentsObjID, imageObjID,
	)
	contentsObj := fmt.Sprintf(
		"%d 0 obj\n<< /Length %d >>\nstream\n%sendstream\nendobj\n",
		contentsObjID, len(content), content,
	)

	var imageObj bytes.Buffer
	fmt.Fprintf(&imageObj,
		"%d 0 obj\n<< /Type /XObject\n   /Subtype /Image\n   /Width %d\n   /Height %d\n   /ColorSpace /DeviceRGB\n   /BitsPerComponent 8\n   /Filter /FlateDecode\n   /Length %d >>\nstream\n",
		imageObjID, w, h, len(compressed),
	)
	imageObj.Write(compressed)
	imageObj.WriteString("\nendstream\nendobj\n")

	objs = []pdfObject{
		{id: pageObjID, data: []byte(pageObj)},
		{id: contentsObjID, data: []byte(contentsObj)},
		{id: imageObjID, data: imageObj.Bytes()},
	}
	return objs, numObjects, nil
}

// Write assembles pages into a single PDF at outputPath, one page per
// raster image, each scaled to fill its declared physical page size.
func Write(outputPath string, pages []Page) error {
	if len(pages) == 0 {
		return fmt.Errorf("bundle: no pages given")
	}

	nextObjID := 3
	pageObjIDs := make([]int, len(pages))
	chunks := make([][]pdfObject, len(pages))

	for i, p := range pages {
		objs, numObjs, err := buildPageChunk(p, nextObjID)
		if err != nil {
			return fmt.Errorf("bundle: page %d: %w", i, err)
		}
		pageObjIDs[i] = nextObjID
		chunks[i] = objs
		nextObjID += numObjs
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("bundle: creating %s: %w", outputPath, err)
	}

	pw := &pdfWriter{w: bufio.NewWriter(outFile)}
	totalObjects := nextObjID - 1
	xrefOffsets := make([]uint64, totalObjects)

	pw.writeHeader()

	xrefOffsets[0] = pw.offset
	pw.write([]byte("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n"))

	xrefOffsets[1] = pw.offset
	var pageRefs strings.Builder
	for i := range pages {
		if i > 0 {
			pageRefs.WriteByte(' ')
		}
		fmt.Fprintf(&pageRefs, "%d 0 R", pageObjIDs[i])
	}
	pw.writeStr(fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [ %s ] /Count %d >>\nendobj\n", pageRefs.String(), len(pages)))

	for _, chunk := range chunks {
		for _, obj := range chunk {
			xrefOffsets[obj.id-1] = pw.offset
			pw.write(obj.data)
		}
	}

	pw.writeXrefTrailer(xrefOffsets, totalObjects)
	if err := pw.w.Flush(); err != nil {
		return err
	}
	return outFile.Close()
}

// Validate runs the written PDF through pdfcpu's structural validator,
// catching a malformed xref table or object graph before the file is
// handed off as an archival artifact.
func Validate(path string) error {
	if err := api.ValidateFile(path, nil); err != nil {
		return fmt.Errorf("bundle: validating %s: %w", path, err)
	}
	return nil
}

// Optimize rewrites path in place via pdfcpu, deduplicating objects and
// tightening the xref table the direct writer above built by hand.
func Optimize(path string) error {
	if err := api.OptimizeFile(path, path, nil); err != nil {
		return fmt.Errorf("bundle: optimizing %s: %w", path, err)
	}
	return nil
}
