// Package decoder reverses internal/encoder: given a document's
// rendered pages (plus any parity pages), it recalibrates the color
// palette against the first page, demultiplexes and recognizes each
// cell's barcode content, reassembles the sparse byte map those frames
// describe, recovers any gaps via internal/parity, and verifies the
// result against the frame headers' document hash.
package decoder

import (
	"fmt"
	"image"
	"sort"

	"github.com/inkarchive/rasterarchive/internal/barcode"
	"github.com/inkarchive/rasterarchive/internal/frame"
	"github.com/inkarchive/rasterarchive/internal/integrity"
	"github.com/inkarchive/rasterarchive/internal/layout"
	"github.com/inkarchive/rasterarchive/internal/palette"
	"github.com/inkarchive/rasterarchive/internal/parity"
	"github.com/inkarchive/rasterarchive/internal/planemux"
)

// Config mirrors the geometry the document was encoded with. Cell
// positions depend only on page size and QR version (not on the damage
// map, which only ever affects a cell's EC tier), so the decoder can
// recompute the grid without knowing the original damage map.
type Config struct {
	K                                   int
	PageWidthModules, PageHeightModules int
	Version                             int
	Recognizer                          barcode.Recognizer
	// Palette, when set, is used as-is (typically recalibrated by the
	// caller from a full page raster whose swatch patch is still
	// attached). Nil recalibrates from the first decodable page image.
	Palette *palette.Palette
}

// Interval is a missing byte range in the reassembled document.
type Interval struct {
	Start, End uint64 // [Start, End)
}

// ChunkInfo records one accepted frame: where its payload landed and
// which page/barcode carried it.
type ChunkInfo struct {
	Page         uint16
	BarcodeIndex uint16
	IsParity     bool
	ParityIndex  byte
	StartOffset  uint64
	Length       int
	TotalLength  uint64
	Hash         uint32
}

// Result is the outcome of decoding a document's pages.
type Result struct {
	Data         []byte
	DocumentHash uint32
	TotalLength  uint64
	Missing      []Interval
	Recovered    bool // true if gaps were closed via parity
	Dropped      int  // frames recognized but discarded as undecodable
}

// IncompleteLayoutError is fatal: the document's layout could not be
// established from the decoded frames, either because no frame was
// recognized at all or because no block size could be inferred (no pair
// of data frames sharing a barcode index on two pages, and no gapless
// parity stripe, yields a size consistent with every decoded frame).
type IncompleteLayoutError struct{}

func (e *IncompleteLayoutError) Error() string {
	return "decoder: incomplete layout: unable to infer the document's page layout from decoded frames"
}

// UnrecoverableError is fatal: byte ranges remain missing and parity
// reconstruction could not (or was not available to) close them, naming
// the missing ranges. Err carries the parity engine's own error
// when reconstruction was attempted.
type UnrecoverableError struct {
	Missing []Interval
	Err     error
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("decoder: unrecoverable: %d byte range(s) missing: %v", len(e.Missing), e.Missing)
}

func (e *UnrecoverableError) Unwrap() error { return e.Err }

// IntegrityLengthMismatchError is fatal: the reassembled document's
// length does not match the length every frame header agreed on.
type IntegrityLengthMismatchError struct {
	Got, Want uint64
}

func (e *IntegrityLengthMismatchError) Error() string {
	return fmt.Sprintf("decoder: integrity: length mismatch: got %d bytes, want %d", e.Got, e.Want)
}

// IntegrityHashMismatchError is fatal: the recomputed document hash does
// not match the hash stamped into every frame header.
type IntegrityHashMismatchError struct {
	Got, Want uint32
}

func (e *IntegrityHashMismatchError) Error() string {
	return fmt.Sprintf("decoder: integrity: hash mismatch: got %06x, want %06x", e.Got, e.Want)
}

// Decoder decodes a set of rendered pages back into the original bytes.
type Decoder struct {
	cfg Config
}

func New(cfg Config) *Decoder {
	return &Decoder{cfg: cfg}
}

func (d *Decoder) cellGrid() layout.Layout {
	return layout.Pack(d.cfg.PageWidthModules, d.cfg.PageHeightModules, d.cfg.Version, d.cfg.K, layout.ConstantDamageMap(0))
}

// DecodePage is the public per-page entry point, returning every frame
// (header, payload) successfully recognized on the page, plus the count
// of frames the recognizer produced text for that then failed base-45 or
// frame decoding (dropped, non-fatal). Cells where no symbol is found at
// all are not errors: planes past the document's end are legitimately
// blank.
func (d *Decoder) DecodePage(pageImg image.Image, pal palette.Palette) ([]frame.Header, [][]byte, int, error) {
	if pageImg == nil {
		// A nil page means that page was never scanned (lost, or the
		// input glob simply doesn't have it): zero frames recognized,
		// not an error. Parity reconstruction treats its byte range as
		// missing.
		return nil, nil, 0, nil
	}
	grid := d.cellGrid()
	k := d.cfg.K
	if k < 1 {
		k = 1
	}
	full := planemux.Demux(pageImg, pal)

	var headers []frame.Header
	var payloads [][]byte
	dropped := 0
	for _, cell := range grid.Cells {
		for c := 0; c < k; c++ {
			sub := full[c].Sub(cell.X, cell.Y, cell.Size, cell.Size)
			texts, err := d.cfg.Recognizer.Recognize(sub.ToImage())
			if err != nil || len(texts) == 0 || texts[0] == "" {
				continue
			}
			raw, err := frame.DecodeBase45(texts[0])
			if err != nil {
				dropped++
				continue
			}
			h, payload, err := frame.Decode(raw)
			if _, ok := err.(*frame.FormatVersionMismatchError); ok {
				return nil, nil, dropped, fmt.Errorf("decoder: %w", err)
			}
			if err != nil {
				dropped++
				continue
			}
			headers = append(headers, h)
			payloads = append(payloads, payload)
		}
	}
	return headers, payloads, dropped, nil
}

// parityBuffer accumulates one parity stripe's bytes as its frames are
// recognized, tracking which offsets have actually been filled.
type parityBuffer struct {
	data    []byte
	covered []bool
}

func (b *parityBuffer) write(offset uint64, payload []byte) {
	end := int(offset) + len(payload)
	for len(b.data) < end {
		b.data = append(b.data, 0)
		b.covered = append(b.covered, false)
	}
	copy(b.data[offset:end], payload)
	for i := int(offset); i < end; i++ {
		b.covered[i] = true
	}
}

// complete reports whether the buffer is fully populated over [0, n).
func (b *parityBuffer) complete(n int) bool {
	if len(b.data) < n {
		return false
	}
	for i := 0; i < n; i++ {
		if !b.covered[i] {
			return false
		}
	}
	return true
}

// gapless reports whether every byte the buffer spans has been filled.
// A gapless buffer may still be short of a full stripe if its trailing
// frames were lost, which is why inferBlockSize cross-checks the length
// against the decoded data frames before trusting it.
func (b *parityBuffer) gapless() bool {
	if len(b.data) == 0 {
		return false
	}
	for _, c := range b.covered {
		if !c {
			return false
		}
	}
	return true
}

// Decode reassembles a document from its rendered data pages (and
// optional parity pages), recalibrating the palette against the first
// page and reusing it for the rest. Frames are classified by their own
// header flag, so a parity frame found among the data page images (or
// vice versa) still lands where it belongs.
func (d *Decoder) Decode(dataPages []image.Image, parityPages []image.Image, parityShards int) (Result, error) {
	if len(dataPages) == 0 {
		return Result{}, fmt.Errorf("decoder: no pages given")
	}

	var pal palette.Palette
	if d.cfg.Palette != nil {
		pal = *d.cfg.Palette
	} else {
		pal = palette.Build(d.cfg.K)
		for _, img := range dataPages {
			if img != nil {
				pal = palette.Recalibrate(img, d.cfg.K)
				break
			}
		}
	}

	var docHash uint32
	var totalLength uint64
	var chunks []ChunkInfo
	haveHeader := false
	sparse := make(map[uint64][]byte) // document offset -> payload
	parityBufs := make(map[byte]*parityBuffer)

	dropped := 0
	allPages := append(append([]image.Image{}, dataPages...), parityPages...)
	for _, img := range allPages {
		headers, payloads, pageDropped, err := d.DecodePage(img, pal)
		dropped += pageDropped
		if err != nil {
			return Result{}, err
		}
		for j, h := range headers {
			if !haveHeader {
				docHash = h.DocumentHash
				totalLength = h.TotalLength
				haveHeader = true
			}
			if h.IsParity {
				buf := parityBufs[h.ParityIndex]
				if buf == nil {
					buf = &parityBuffer{}
					parityBufs[h.ParityIndex] = buf
				}
				buf.write(h.StartOffset, payloads[j])
			} else {
				sparse[h.StartOffset] = payloads[j]
			}
			chunks = append(chunks, ChunkInfo{
				Page:         h.PageNumber,
				BarcodeIndex: h.BarcodeIndex,
				IsParity:     h.IsParity,
				ParityIndex:  h.ParityIndex,
				StartOffset:  h.StartOffset,
				Length:       len(payloads[j]),
				TotalLength:  h.TotalLength,
				Hash:         h.DocumentHash,
			})
		}
	}

	if !haveHeader {
		return Result{}, &IncompleteLayoutError{}
	}

	data, missing := reassemble(sparse, totalLength)

	recovered := false
	if len(missing) > 0 && parityShards > 0 {
		var err error
		data, missing, err = d.recover(data, missing, chunks, parityBufs, parityShards, totalLength)
		if err != nil {
			return Result{Data: data, DocumentHash: docHash, TotalLength: totalLength, Missing: missing, Dropped: dropped}, err
		}
		recovered = len(missing) == 0
	}

	result := Result{
		Data:         data,
		DocumentHash: docHash,
		TotalLength:  totalLength,
		Missing:      missing,
		Recovered:    recovered,
		Dropped:      dropped,
	}

	if len(missing) > 0 {
		// No parity was configured (or none decoded) to close these
		// gaps: unrecoverable by definition, not just "not yet
		// attempted".
		return result, &UnrecoverableError{Missing: missing}
	}

	if uint64(len(data)) != totalLength {
		return result, &IntegrityLengthMismatchError{Got: uint64(len(data)), Want: totalLength}
	}
	if got := integrity.HashBytes(data); got != docHash {
		return result, &IntegrityHashMismatchError{Got: got, Want: docHash}
	}
	return result, nil
}

// recover closes missing byte ranges via Reed-Solomon: the document is a
// P_data x blockSize matrix striped column-wise with the parity pages,
// so each data page's slab is one shard. A slab with any uncovered byte
// counts as missing and is reconstructed whole.
func (d *Decoder) recover(data []byte, missing []Interval, chunks []ChunkInfo, parityBufs map[byte]*parityBuffer, parityShards int, totalLength uint64) ([]byte, []Interval, error) {
	blockSize, ok := inferBlockSize(chunks, parityBufs)
	if !ok {
		return data, missing, &IncompleteLayoutError{}
	}

	pData := int((totalLength + blockSize - 1) / blockSize)
	if pData < 1 {
		pData = 1
	}
	if pData+parityShards > 255 {
		return data, missing, fmt.Errorf("decoder: %d data + %d parity pages exceeds the 255-shard GF(2^8) limit", pData, parityShards)
	}

	block := int(blockSize)
	shards := make([][]byte, pData+parityShards)
	for p := 0; p < pData; p++ {
		start := uint64(p) * blockSize
		end := start + blockSize
		if end > totalLength {
			end = totalLength
		}
		if !rangeCovered(missing, start, end) {
			continue // lost page, leave shard nil
		}
		slab := make([]byte, block)
		copy(slab, data[start:end])
		shards[p] = slab
	}
	for i := 0; i < parityShards; i++ {
		buf := parityBufs[byte(i)]
		if buf == nil || !buf.complete(block) {
			continue
		}
		shards[pData+i] = buf.data[:block]
	}

	eng := parity.New(pData, parityShards, parity.DefaultStride)
	slabs, err := eng.Reconstruct(shards)
	if err != nil {
		return data, missing, &UnrecoverableError{Missing: missing, Err: err}
	}

	out := make([]byte, totalLength)
	for p := 0; p < pData; p++ {
		start := uint64(p) * blockSize
		end := start + blockSize
		if end > totalLength {
			end = totalLength
		}
		copy(out[start:end], slabs[p][:end-start])
	}
	return out, nil, nil
}

// inferBlockSize derives the per-data-page byte budget. The primary
// source is a pair of data frames sharing a barcode index on two
// different pages: barcode index 0 is the first frame filled on every
// page and starts exactly at the page boundary no matter how the
// per-page cell order was shuffled, so the offset difference between
// pages p and q is exactly (q-p) blocks — even when every page in
// between was lost. When only one data page survives (so no pair
// exists), a gapless parity stripe supplies the candidate instead: a
// complete stripe is exactly one block long. Either candidate is
// accepted only if every decoded data frame lies inside the page slab
// its header's page number implies.
func inferBlockSize(chunks []ChunkInfo, parityBufs map[byte]*parityBuffer) (uint64, bool) {
	byIdx := make(map[uint16]map[uint16]uint64)
	for _, c := range chunks {
		if c.IsParity {
			continue
		}
		m := byIdx[c.BarcodeIndex]
		if m == nil {
			m = make(map[uint16]uint64)
			byIdx[c.BarcodeIndex] = m
		}
		m[c.Page] = c.StartOffset
	}

	idxs := make([]int, 0, len(byIdx))
	for idx := range byIdx {
		idxs = append(idxs, int(idx))
	}
	sort.Ints(idxs)
	for _, idx := range idxs {
		m := byIdx[uint16(idx)]
		if len(m) < 2 {
			continue
		}
		pages := make([]int, 0, len(m))
		for p := range m {
			pages = append(pages, int(p))
		}
		sort.Ints(pages)
		for i := 1; i < len(pages); i++ {
			p, q := pages[i-1], pages[i]
			span := m[uint16(q)] - m[uint16(p)]
			gap := uint64(q - p)
			if span == 0 || span%gap != 0 {
				continue
			}
			block := span / gap
			if blockSizeConsistent(chunks, block) {
				return block, true
			}
		}
	}

	parityIdxs := make([]int, 0, len(parityBufs))
	for i := range parityBufs {
		parityIdxs = append(parityIdxs, int(i))
	}
	sort.Ints(parityIdxs)
	for _, i := range parityIdxs {
		buf := parityBufs[byte(i)]
		if !buf.gapless() {
			continue
		}
		block := uint64(len(buf.data))
		if blockSizeConsistent(chunks, block) {
			return block, true
		}
	}

	return 0, false
}

// blockSizeConsistent reports whether every decoded data frame fits
// inside the slab its 1-based page number implies for the candidate
// block size.
func blockSizeConsistent(chunks []ChunkInfo, block uint64) bool {
	if block == 0 {
		return false
	}
	for _, c := range chunks {
		if c.IsParity || c.Page == 0 {
			continue
		}
		pageStart := uint64(c.Page-1) * block
		if c.StartOffset < pageStart || c.StartOffset+uint64(c.Length) > pageStart+block {
			return false
		}
	}
	return true
}

// rangeCovered reports whether [start, end) avoids every missing interval.
func rangeCovered(missing []Interval, start, end uint64) bool {
	for _, m := range missing {
		if m.Start < end && start < m.End {
			return false
		}
	}
	return true
}

// reassemble merges sparse (offset -> payload) fragments into a single
// byte slice of length total, reporting any uncovered byte ranges.
func reassemble(sparse map[uint64][]byte, total uint64) ([]byte, []Interval) {
	out := make([]byte, total)
	covered := make([]bool, total)

	offsets := make([]uint64, 0, len(sparse))
	for off := range sparse {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	for _, off := range offsets {
		payload := sparse[off]
		end := off + uint64(len(payload))
		if end > total {
			end = total
		}
		if off >= total {
			continue
		}
		copy(out[off:end], payload[:end-off])
		for i := off; i < end; i++ {
			covered[i] = true
		}
	}

	var missing []Interval
	var start uint64
	inGap := false
	for i := uint64(0); i < total; i++ {
		if !covered[i] {
			if !inGap {
				start = i
				inGap = true
			}
		} else if inGap {
			missing = append(missing, Interval{Start: start, End: i})
			inGap = false
		}
	}
	if inGap {
		missing = append(missing, Interval{Start: start, End: total})
	}
	return out, missing
}
