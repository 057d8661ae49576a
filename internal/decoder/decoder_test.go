package decoder

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/inkarchive/rasterarchive/internal/encoder"
	"github.com/inkarchive/rasterarchive/internal/frame"
	"github.com/inkarchive/rasterarchive/internal/integrity"
	"github.com/inkarchive/rasterarchive/internal/layout"
	"github.com/inkarchive/rasterarchive/internal/palette"
	"github.com/inkarchive/rasterarchive/internal/parity"
)

// fakeCodec is a test double implementing both barcode.Encoder and
// barcode.Recognizer by literally serializing content as black/white
// pixel bits (MSB-first, zero-padded), rather than real QR symbology.
// Base-45 content never contains a zero byte, so a zero byte marks the
// end of the real content when decoding.
type fakeCodec struct{}

func (fakeCodec) Encode(content string, version, ec int) (image.Image, error) {
	size := layout.ModuleCount(version)
	img := image.NewGray(image.Rect(0, 0, size, size))
	data := []byte(content)
	bit := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := byte(255)
			byteIdx := bit / 8
			if byteIdx < len(data) {
				bitIdx := 7 - uint(bit%8)
				if (data[byteIdx]>>bitIdx)&1 != 0 {
					v = 0
				}
			}
			img.SetGray(x, y, color.Gray{Y: v})
			bit++
		}
	}
	return img, nil
}

func (fakeCodec) Recognize(plane image.Image) ([]string, error) {
	b := plane.Bounds()
	w, h := b.Dx(), b.Dy()
	var out []byte
	var cur byte
	nbits := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.GrayModel.Convert(plane.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			cur <<= 1
			if g.Y < 128 {
				cur |= 1
			}
			nbits++
			if nbits == 8 {
				if cur == 0 {
					return []string{string(out)}, nil
				}
				out = append(out, cur)
				cur = 0
				nbits = 0
			}
		}
	}
	return []string{string(out)}, nil
}

func roundTrip(t *testing.T, data []byte, k int) Result {
	t.Helper()
	codec := fakeCodec{}
	enc := encoder.New(encoder.Config{
		K:                 k,
		PageWidthModules:  300,
		PageHeightModules: 300,
		InitialVersion:    4,
		DamageMap:         layout.ConstantDamageMap(0),
		Barcodes:          codec,
	})
	pages, err := enc.Encode(data)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	dec := New(Config{
		K:                 k,
		PageWidthModules:  300,
		PageHeightModules: 300,
		Version:           4,
		Recognizer:        codec,
	})
	imgs := make([]image.Image, len(pages))
	for i, p := range pages {
		imgs[i] = p.Image
	}
	result, err := dec.Decode(imgs, nil, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return result
}

func TestRoundTripSmallDocument(t *testing.T) {
	data := []byte("the archive holds exactly what was written to it")
	result := roundTrip(t, data, 1)
	if !bytes.Equal(result.Data, data) {
		t.Fatalf("round trip mismatch: got %q, want %q", result.Data, data)
	}
	if len(result.Missing) != 0 {
		t.Fatalf("expected no missing intervals, got %v", result.Missing)
	}
}

func TestRoundTripMultiPageDocument(t *testing.T) {
	data := make([]byte, 20000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	result := roundTrip(t, data, 1)
	if !bytes.Equal(result.Data, data) {
		t.Fatalf("round trip mismatch over %d bytes", len(data))
	}
}

// encodeWithParity is roundTrip's setup plus parity pages, returning the
// data and parity page images separately so callers can null out entries
// to simulate page loss.
func encodeWithParity(t *testing.T, data []byte, k, parityShards int) (*encoder.Encoder, *Decoder, []image.Image, []image.Image) {
	t.Helper()
	codec := fakeCodec{}
	enc := encoder.New(encoder.Config{
		K:                 k,
		PageWidthModules:  300,
		PageHeightModules: 300,
		InitialVersion:    4,
		DamageMap:         layout.ConstantDamageMap(0),
		Barcodes:          codec,
	})
	pages, err := enc.Encode(data)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	docHash := integrity.HashBytes(data)
	totalLength := uint64(len(data))

	slabs := make([][]byte, len(pages))
	for i, p := range pages {
		slabs[i] = data[p.StartOffset : p.StartOffset+p.BytesCarried]
	}
	eng := parity.New(len(pages), parityShards, parity.DefaultStride)
	parityBufs, err := eng.Encode(slabs)
	if err != nil {
		t.Fatalf("parity encode: %v", err)
	}

	dataImgs := make([]image.Image, len(pages))
	for i, p := range pages {
		dataImgs[i] = p.Image
	}
	parityImgs := make([]image.Image, parityShards)
	for i, buf := range parityBufs {
		pp, err := enc.EncodeParityPage(len(pages)+1+i, i, docHash, totalLength, buf)
		if err != nil {
			t.Fatalf("encode parity page %d: %v", i, err)
		}
		parityImgs[i] = pp.Image
	}

	dec := New(Config{
		K:                 k,
		PageWidthModules:  300,
		PageHeightModules: 300,
		Version:           4,
		Recognizer:        codec,
	})
	return enc, dec, dataImgs, parityImgs
}

func TestRoundTripRecoversLostDataPage(t *testing.T) {
	data := make([]byte, 20000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	_, dec, dataImgs, parityImgs := encodeWithParity(t, data, 1, 2)
	if len(dataImgs) < 2 {
		t.Fatalf("expected at least 2 data pages to make this test meaningful, got %d", len(dataImgs))
	}

	dataImgs[0] = nil // simulate total loss of one data page

	result, err := dec.Decode(dataImgs, parityImgs, 2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(result.Data, data) {
		t.Fatalf("round trip after single page loss mismatch")
	}
	if !result.Recovered {
		t.Fatalf("expected Recovered=true")
	}
}

func TestRoundTripRecoversLostInteriorDataPage(t *testing.T) {
	// Losing a middle page leaves only non-adjacent survivors around the
	// hole; block-size inference must still line the parity columns up.
	data := make([]byte, 6000)
	for i := range data {
		data[i] = byte(i % 211)
	}
	_, dec, dataImgs, parityImgs := encodeWithParity(t, data, 1, 2)
	if len(dataImgs) != 3 {
		t.Fatalf("expected exactly 3 data pages, got %d", len(dataImgs))
	}

	dataImgs[1] = nil // the middle page

	result, err := dec.Decode(dataImgs, parityImgs, 2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(result.Data, data) {
		t.Fatalf("round trip after interior page loss mismatch")
	}
	if !result.Recovered {
		t.Fatalf("expected Recovered=true")
	}
}

func TestRoundTripRecoversWithSingleSurvivingDataPage(t *testing.T) {
	// With one of two data pages lost there is no index pair at all;
	// the block size comes from the gapless parity stripe instead.
	data := make([]byte, 3000)
	for i := range data {
		data[i] = byte(i % 229)
	}
	_, dec, dataImgs, parityImgs := encodeWithParity(t, data, 1, 1)
	if len(dataImgs) != 2 {
		t.Fatalf("expected exactly 2 data pages, got %d", len(dataImgs))
	}

	dataImgs[1] = nil

	result, err := dec.Decode(dataImgs, parityImgs, 1)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(result.Data, data) {
		t.Fatalf("round trip with a single surviving data page mismatch")
	}
}

func TestRoundTripRecoversTwoLostDataPages(t *testing.T) {
	data := make([]byte, 40000)
	for i := range data {
		data[i] = byte(i % 199)
	}
	_, dec, dataImgs, parityImgs := encodeWithParity(t, data, 1, 2)
	if len(dataImgs) < 3 {
		t.Fatalf("expected at least 3 data pages, got %d", len(dataImgs))
	}

	dataImgs[0] = nil
	dataImgs[1] = nil

	result, err := dec.Decode(dataImgs, parityImgs, 2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(result.Data, data) {
		t.Fatalf("round trip after double page loss mismatch")
	}
}

func TestRoundTripUnrecoverableWhenTooManyPagesLost(t *testing.T) {
	data := make([]byte, 40000)
	for i := range data {
		data[i] = byte(i % 197)
	}
	_, dec, dataImgs, parityImgs := encodeWithParity(t, data, 1, 1)
	if len(dataImgs) < 2 {
		t.Fatalf("expected at least 2 data pages, got %d", len(dataImgs))
	}

	dataImgs[0] = nil
	dataImgs[1] = nil

	_, err := dec.Decode(dataImgs, parityImgs, 1)
	if err == nil {
		t.Fatalf("expected unrecoverable error")
	}
	var unrec *parity.Unrecoverable
	if !errors.As(err, &unrec) {
		t.Fatalf("expected a wrapped *parity.Unrecoverable, got %T: %v", err, err)
	}
}

func TestRoundTripSingleByteMultiPlane(t *testing.T) {
	result := roundTrip(t, []byte{0x5A}, 3)
	if !bytes.Equal(result.Data, []byte{0x5A}) {
		t.Fatalf("single-byte round trip mismatch: got %v", result.Data)
	}
	if result.TotalLength != 1 {
		t.Fatalf("expected total length 1, got %d", result.TotalLength)
	}
}

func TestDecodeUnrecoverableWithoutParity(t *testing.T) {
	data := make([]byte, 20000)
	for i := range data {
		data[i] = byte(i % 193)
	}
	_, dec, dataImgs, _ := encodeWithParity(t, data, 1, 1)
	if len(dataImgs) < 2 {
		t.Fatalf("expected multiple data pages, got %d", len(dataImgs))
	}

	dataImgs[1] = nil

	_, err := dec.Decode(dataImgs, nil, 0)
	var unrec *UnrecoverableError
	if !errors.As(err, &unrec) {
		t.Fatalf("expected *UnrecoverableError, got %T: %v", err, err)
	}
	if len(unrec.Missing) == 0 {
		t.Fatalf("unrecoverable error should name the missing byte ranges")
	}
}

func TestDecodeAbortsOnFormatVersionMismatch(t *testing.T) {
	codec := fakeCodec{}
	h := frame.Header{
		PageNumber:   1,
		BarcodeIndex: 0,
		StartOffset:  0,
		TotalLength:  1,
		DocumentHash: 0x123456,
	}
	raw := frame.Encode(h, []byte{0x41})
	raw[0] = 2 // a format version this codec does not understand

	symbol, err := codec.Encode(frame.EncodeBase45(raw), 4, 0)
	if err != nil {
		t.Fatalf("encode symbol: %v", err)
	}

	pageImg := image.NewRGBA(image.Rect(0, 0, 300, 300))
	draw.Draw(pageImg, pageImg.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(pageImg, symbol.Bounds(), symbol, image.Point{}, draw.Src)

	dec := New(Config{
		K:                 1,
		PageWidthModules:  300,
		PageHeightModules: 300,
		Version:           4,
		Recognizer:        codec,
	})
	_, _, _, err = dec.DecodePage(pageImg, palette.Build(1))
	var fv *frame.FormatVersionMismatchError
	if !errors.As(err, &fv) {
		t.Fatalf("expected FormatVersionMismatchError, got %T: %v", err, err)
	}
}

func TestInferBlockSize(t *testing.T) {
	chunks := []ChunkInfo{
		{Page: 1, BarcodeIndex: 0, StartOffset: 0, Length: 40},
		{Page: 1, BarcodeIndex: 1, StartOffset: 40, Length: 40},
		{Page: 2, BarcodeIndex: 0, StartOffset: 100, Length: 40},
		{Page: 2, BarcodeIndex: 1, StartOffset: 140, Length: 40},
		{Page: 3, BarcodeIndex: 0, IsParity: true, ParityIndex: 0, StartOffset: 0, Length: 40},
	}
	block, ok := inferBlockSize(chunks, nil)
	if !ok || block != 100 {
		t.Fatalf("inferBlockSize = (%d, %v), want (100, true)", block, ok)
	}

	if _, ok := inferBlockSize(chunks[:2], nil); ok {
		t.Fatalf("expected inference to fail with a single page's frames")
	}
}

func TestInferBlockSizeSpansLostInteriorPage(t *testing.T) {
	// Only pages 1 and 3 survive: the index-0 offsets are two blocks
	// apart, so the span divides evenly by the page distance.
	chunks := []ChunkInfo{
		{Page: 1, BarcodeIndex: 0, StartOffset: 0, Length: 40},
		{Page: 1, BarcodeIndex: 1, StartOffset: 40, Length: 40},
		{Page: 3, BarcodeIndex: 0, StartOffset: 200, Length: 40},
		{Page: 3, BarcodeIndex: 1, StartOffset: 240, Length: 40},
	}
	block, ok := inferBlockSize(chunks, nil)
	if !ok || block != 100 {
		t.Fatalf("inferBlockSize = (%d, %v), want (100, true)", block, ok)
	}
}

func TestInferBlockSizeFromParityStripe(t *testing.T) {
	// A single surviving data page gives no index pair; a gapless
	// parity stripe's length is the block size instead.
	chunks := []ChunkInfo{
		{Page: 1, BarcodeIndex: 0, StartOffset: 0, Length: 40},
		{Page: 1, BarcodeIndex: 1, StartOffset: 40, Length: 40},
	}
	buf := &parityBuffer{}
	buf.write(0, make([]byte, 100))
	block, ok := inferBlockSize(chunks, map[byte]*parityBuffer{0: buf})
	if !ok || block != 100 {
		t.Fatalf("inferBlockSize = (%d, %v), want (100, true)", block, ok)
	}

	// A stripe shorter than a surviving page's frame span cannot be a
	// whole block; it must be rejected, not trusted.
	short := &parityBuffer{}
	short.write(0, make([]byte, 60))
	if _, ok := inferBlockSize(chunks, map[byte]*parityBuffer{0: short}); ok {
		t.Fatalf("expected a too-short parity stripe to be rejected")
	}
}

func TestReassembleDetectsGaps(t *testing.T) {
	sparse := map[uint64][]byte{
		0:  []byte("abcd"),
		10: []byte("xyz"),
	}
	_, missing := reassemble(sparse, 20)
	if len(missing) != 2 {
		t.Fatalf("expected 2 gaps, got %d: %v", len(missing), missing)
	}
	if missing[0] != (Interval{Start: 4, End: 10}) {
		t.Fatalf("unexpected first gap: %v", missing[0])
	}
	if missing[1] != (Interval{Start: 13, End: 20}) {
		t.Fatalf("unexpected second gap: %v", missing[1])
	}
}

func TestReassembleNoGaps(t *testing.T) {
	sparse := map[uint64][]byte{0: []byte("hello")}
	out, missing := reassemble(sparse, 5)
	if len(missing) != 0 {
		t.Fatalf("expected no gaps, got %v", missing)
	}
	if string(out) != "hello" {
		t.Fatalf("got %q", out)
	}
}
